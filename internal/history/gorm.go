package history

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/rileyhilliard/fleetdash/internal/errors"
	"github.com/rileyhilliard/fleetdash/internal/fleet"
	"github.com/rileyhilliard/fleetdash/internal/logger"
)

// alertRow is the alerts table. Columns mirror the alert JSON fields.
type alertRow struct {
	ID             string     `gorm:"column:id;primaryKey;size:16"`
	Type           string     `gorm:"column:type;size:32;not null"`
	Severity       string     `gorm:"column:severity;size:16;not null"`
	Host           string     `gorm:"column:host;size:255;not null;index:idx_alerts_host"`
	Session        string     `gorm:"column:session;size:255"`
	Message        string     `gorm:"column:message;type:text;not null"`
	Created        time.Time  `gorm:"column:created;not null;index:idx_alerts_created"`
	Acknowledged   bool       `gorm:"column:acknowledged;not null;default:false"`
	AcknowledgedAt *time.Time `gorm:"column:acknowledged_at"`
	ClearedAt      *time.Time `gorm:"column:cleared_at;index:idx_alerts_cleared"`
}

func (alertRow) TableName() string { return "alerts" }

// metricRow is the metrics_history table.
type metricRow struct {
	ID               int64     `gorm:"column:id;primaryKey;autoIncrement"`
	Timestamp        time.Time `gorm:"column:timestamp;not null;index:idx_metrics_host_time,priority:2"`
	Host             string    `gorm:"column:host;size:255;not null;index:idx_metrics_host_time,priority:1"`
	CPUPercent       float64   `gorm:"column:cpu_percent"`
	MemoryPercent    float64   `gorm:"column:memory_percent"`
	GPUTemp          *int      `gorm:"column:gpu_temp"`
	GPUUtil          *int      `gorm:"column:gpu_util"`
	GPUMemoryPercent *float64  `gorm:"column:gpu_memory_percent"`
	SessionCount     int       `gorm:"column:session_count"`
}

func (metricRow) TableName() string { return "metrics_history" }

// GormStore persists history through GORM.
type GormStore struct {
	db *gorm.DB
}

// OpenSQLite opens (creating if needed) a SQLite database file.
func OpenSQLite(path string, log logger.Logger) (*GormStore, error) {
	if dir := filepath.Dir(path); !strings.HasPrefix(path, "file:") && path != ":memory:" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.WrapWithCode(err, errors.ErrStore,
				"Can't create history directory "+dir,
				"Check permissions, or point history.dsn somewhere writable")
		}
	}

	db, err := gorm.Open(sqlite.Open(path), gormConfig(log))
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrStore,
			"Can't open SQLite history at "+path, "")
	}

	// SQLite allows a single writer.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, storeError(err, "open database")
	}
	sqlDB.SetMaxOpenConns(1)

	return newGormStore(db)
}

// OpenMySQL connects to MySQL. The DSN needs parseTime=true so timestamps
// scan into time.Time.
func OpenMySQL(dsn string, log logger.Logger) (*GormStore, error) {
	if dsn == "" {
		return nil, errors.New(errors.ErrConfig,
			"history.dsn is required for the mysql driver",
			"Example: user:pass@tcp(localhost:3306)/fleetdash?parseTime=true")
	}

	db, err := gorm.Open(mysql.Open(dsn), gormConfig(log))
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrStore,
			"Can't connect to MySQL history store", "Check history.dsn and that the server is reachable")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, storeError(err, "open database")
	}
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetMaxIdleConns(2)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(10 * time.Minute)

	return newGormStore(db)
}

func newGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&alertRow{}, &metricRow{}); err != nil {
		return nil, storeError(err, "migrate schema")
	}
	return &GormStore{db: db}, nil
}

func gormConfig(log logger.Logger) *gorm.Config {
	if log == nil {
		log = logger.Noop()
	}
	return &gorm.Config{
		Logger: gormlogger.New(gormWriter{log: log}, gormlogger.Config{
			SlowThreshold:             500 * time.Millisecond,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		}),
		SkipDefaultTransaction: true,
		NowFunc:                func() time.Time { return time.Now().UTC() },
	}
}

// gormWriter routes GORM's own warnings (slow queries, errors) into our logger.
type gormWriter struct {
	log logger.Logger
}

func (w gormWriter) Printf(format string, args ...interface{}) {
	w.log.Warn(format, args...)
}

func (s *GormStore) RecordSnapshot(ctx context.Context, at time.Time, hosts []fleet.Host) error {
	if len(hosts) == 0 {
		return nil
	}
	rows := make([]metricRow, len(hosts))
	for i := range hosts {
		rows[i] = toMetricRow(SampleFromHost(at, &hosts[i]))
	}
	return storeError(s.db.WithContext(ctx).Create(&rows).Error, "record metrics")
}

func (s *GormStore) SaveAlert(ctx context.Context, alert fleet.Alert) error {
	row := toAlertRow(alert)
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"type", "severity", "host", "session", "message", "created", "acknowledged", "acknowledged_at",
		}),
	}).Create(&row).Error
	return storeError(err, "save alert "+alert.ID)
}

func (s *GormStore) ClearAlert(ctx context.Context, id string, at time.Time) error {
	err := s.db.WithContext(ctx).Model(&alertRow{}).
		Where("id = ?", id).
		Update("cleared_at", at.UTC()).Error
	return storeError(err, "clear alert "+id)
}

func (s *GormStore) AlertHistory(ctx context.Context, host string, limit int) ([]AlertRecord, error) {
	q := s.db.WithContext(ctx).Model(&alertRow{})
	if host != "" {
		q = q.Where("host = ?", host)
	}

	var rows []alertRow
	if err := q.Order("created DESC").Order("id ASC").Limit(normalizeLimit(limit)).Find(&rows).Error; err != nil {
		return nil, storeError(err, "query alerts")
	}

	out := make([]AlertRecord, len(rows))
	for i := range rows {
		out[i] = rows[i].record()
	}
	return out, nil
}

func (s *GormStore) MetricsHistory(ctx context.Context, host string, since time.Time) ([]MetricSample, error) {
	var rows []metricRow
	err := s.db.WithContext(ctx).
		Where("host = ? AND timestamp > ?", host, since.UTC()).
		Order("timestamp ASC").
		Find(&rows).Error
	if err != nil {
		return nil, storeError(err, "query metrics")
	}

	out := make([]MetricSample, len(rows))
	for i := range rows {
		out[i] = rows[i].sample()
	}
	return out, nil
}

func (s *GormStore) Cleanup(ctx context.Context, cutoff time.Time) (int64, error) {
	cutoff = cutoff.UTC()
	var removed int64

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("timestamp < ?", cutoff).Delete(&metricRow{})
		if res.Error != nil {
			return res.Error
		}
		removed += res.RowsAffected

		res = tx.Where("cleared_at IS NOT NULL AND cleared_at < ?", cutoff).Delete(&alertRow{})
		if res.Error != nil {
			return res.Error
		}
		removed += res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, storeError(err, "clean up old history")
	}
	return removed, nil
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toAlertRow(a fleet.Alert) alertRow {
	row := alertRow{
		ID:           a.ID,
		Type:         string(a.Type),
		Severity:     string(a.Severity),
		Host:         a.Host,
		Session:      a.Session,
		Message:      a.Message,
		Created:      a.Created.UTC(),
		Acknowledged: a.Acknowledged,
	}
	if a.AcknowledgedAt != nil {
		at := a.AcknowledgedAt.UTC()
		row.AcknowledgedAt = &at
	}
	return row
}

func (r *alertRow) record() AlertRecord {
	rec := AlertRecord{
		Alert: fleet.Alert{
			ID:             r.ID,
			Type:           fleet.AlertType(r.Type),
			Severity:       fleet.Severity(r.Severity),
			Host:           r.Host,
			Session:        r.Session,
			Message:        r.Message,
			Created:        r.Created.UTC(),
			Acknowledged:   r.Acknowledged,
			AcknowledgedAt: utcPtr(r.AcknowledgedAt),
		},
		ClearedAt: utcPtr(r.ClearedAt),
	}
	return rec
}

func toMetricRow(s MetricSample) metricRow {
	return metricRow{
		Timestamp:        s.Timestamp.UTC(),
		Host:             s.Host,
		CPUPercent:       s.CPUPercent,
		MemoryPercent:    s.MemoryPercent,
		GPUTemp:          s.GPUTemp,
		GPUUtil:          s.GPUUtil,
		GPUMemoryPercent: s.GPUMemoryPercent,
		SessionCount:     s.SessionCount,
	}
}

func (r *metricRow) sample() MetricSample {
	return MetricSample{
		Timestamp:        r.Timestamp.UTC(),
		Host:             r.Host,
		CPUPercent:       r.CPUPercent,
		MemoryPercent:    r.MemoryPercent,
		GPUTemp:          r.GPUTemp,
		GPUUtil:          r.GPUUtil,
		GPUMemoryPercent: r.GPUMemoryPercent,
		SessionCount:     r.SessionCount,
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
