package parsers

import (
	stderrors "errors"
	"strconv"
	"strings"
	"time"

	"github.com/rileyhilliard/fleetdash/internal/errors"
	"github.com/rileyhilliard/fleetdash/internal/fleet"
)

// SessionFieldSep separates fields in the tmux list-sessions format.
const SessionFieldSep = "|"

// ParseSessions parses tmux list-sessions output, one session per line:
//
//	name|created_epoch|attached|window_count|activity_epoch
//
// Lines are parsed independently. A malformed line is skipped and reported
// in the returned error (a join of one PARSE error per skipped line); the
// remaining lines are still returned. Blank lines are ignored.
//
// A session is LEGACY when it is detached and its last activity is more than
// legacyThreshold before now. Sessions with no activity timestamp are never
// LEGACY.
func ParseSessions(output, hostname string, now time.Time, legacyThreshold time.Duration) ([]fleet.Session, error) {
	var sessions []fleet.Session
	var errs []error

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" || !strings.Contains(line, SessionFieldSep) {
			continue
		}

		s, err := parseSessionLine(line, hostname, now, legacyThreshold)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		sessions = append(sessions, s)
	}

	return sessions, stderrors.Join(errs...)
}

func parseSessionLine(line, hostname string, now time.Time, legacyThreshold time.Duration) (fleet.Session, error) {
	parts := strings.Split(line, SessionFieldSep)
	if len(parts) < 5 {
		return fleet.Session{}, errors.Parse("session line", line)
	}

	// The four trailing fields are numeric; anything before them is the
	// name, which tmux allows to contain the separator.
	n := len(parts)
	name := strings.Join(parts[:n-4], SessionFieldSep)
	createdField, attachedField, windowsField, activityField := parts[n-4], parts[n-3], parts[n-2], parts[n-1]

	if name == "" {
		return fleet.Session{}, errors.Parse("session line", line)
	}

	created, err := parseEpoch(createdField)
	if err != nil {
		return fleet.Session{}, errors.Parse("session line", line)
	}
	activity, err := parseEpoch(activityField)
	if err != nil {
		return fleet.Session{}, errors.Parse("session line", line)
	}

	windows := 1
	if w := strings.TrimSpace(windowsField); w != "" {
		windows, err = strconv.Atoi(w)
		if err != nil {
			return fleet.Session{}, errors.Parse("session line", line)
		}
	}

	attached := false
	if a := strings.TrimSpace(attachedField); a != "" {
		clients, err := strconv.Atoi(a)
		if err != nil {
			return fleet.Session{}, errors.Parse("session line", line)
		}
		attached = clients > 0
	}

	s := fleet.Session{
		ID:           fleet.SessionID(hostname, name),
		Host:         hostname,
		Name:         name,
		Created:      created,
		LastActivity: activity,
		Attached:     attached,
		WindowCount:  windows,
		Status:       fleet.SessionActive,
	}

	if !attached && activity != nil {
		detached := now.Sub(*activity).Seconds()
		s.DetachedSeconds = &detached
		if detached > legacyThreshold.Seconds() {
			s.Status = fleet.SessionLegacy
		}
	}

	return s, nil
}

// parseEpoch returns nil for an empty or zero timestamp.
func parseEpoch(field string) (*time.Time, error) {
	field = strings.TrimSpace(field)
	if field == "" {
		return nil, nil
	}
	secs, err := strconv.ParseInt(field, 10, 64)
	if err != nil {
		return nil, err
	}
	if secs == 0 {
		return nil, nil
	}
	t := time.Unix(secs, 0).UTC()
	return &t, nil
}
