// Package pubsub mirrors dashboard events onto a Redis channel so processes
// other than the daemon (another dashboard, a pager bridge, `fleetdash
// watch`) can follow the fleet without polling the HTTP API.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/rileyhilliard/fleetdash/internal/config"
	"github.com/rileyhilliard/fleetdash/internal/errors"
	"github.com/rileyhilliard/fleetdash/internal/fleet"
	"github.com/rileyhilliard/fleetdash/internal/logger"
)

// publishTimeout bounds a single PUBLISH so a stalled Redis never holds up
// the polling cycle.
const publishTimeout = 2 * time.Second

// Publisher publishes events as JSON to one channel.
type Publisher struct {
	client  *redis.Client
	channel string
	log     logger.Logger
}

// Connect creates a client for cfg and checks that Redis answers.
func Connect(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			fmt.Sprintf("Can't reach Redis at %s", cfg.Addr),
			"Start Redis, fix redis.addr, or set redis.enabled: false")
	}
	return client, nil
}

// NewPublisher publishes to channel through client. The publisher owns client
// and closes it on Close.
func NewPublisher(client *redis.Client, channel string, log logger.Logger) *Publisher {
	if log == nil {
		log = logger.Noop()
	}
	return &Publisher{client: client, channel: channel, log: log}
}

// Channel returns the channel events are published to.
func (p *Publisher) Channel() string {
	return p.channel
}

// Publish sends ev and returns the number of subscribers that received it.
func (p *Publisher) Publish(ctx context.Context, ev fleet.Event) (int64, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return 0, errors.WrapWithCode(err, errors.ErrExec, "Can't encode event "+ev.Event, "")
	}
	n, err := p.client.Publish(ctx, p.channel, payload).Result()
	if err != nil {
		return 0, errors.WrapWithCode(err, errors.ErrExec,
			fmt.Sprintf("Can't publish %s to %s", ev.Event, p.channel), "")
	}
	return n, nil
}

// Broadcast publishes ev, logging instead of returning failures. It
// satisfies the scheduler's broadcaster interface.
func (p *Publisher) Broadcast(ev fleet.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if _, err := p.Publish(ctx, ev); err != nil {
		p.log.Warn("redis: %s", errors.Message(err))
	}
}

// Close closes the Redis client.
func (p *Publisher) Close() error {
	return p.client.Close()
}

// Received is an event read back from the channel. Data is left as raw JSON
// since its shape depends on Event.
type Received struct {
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Subscribe calls handle for every event on channel until ctx is done.
// Messages that aren't valid events are logged and skipped.
func Subscribe(ctx context.Context, client *redis.Client, channel string, log logger.Logger, handle func(Received)) error {
	if log == nil {
		log = logger.Noop()
	}

	sub := client.Subscribe(ctx, channel)
	defer sub.Close()

	// Wait for the subscription to be confirmed so nothing published after
	// Subscribe returns its first message is missed.
	if _, err := sub.Receive(ctx); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig, "Can't subscribe to "+channel, "")
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var ev Received
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				log.Debug("redis: skipping malformed message on %s: %v", channel, err)
				continue
			}
			handle(ev)
		}
	}
}
