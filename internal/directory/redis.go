// Package directory mirrors relay session/host registrations to Redis so a
// fleet of relay processes can share a read-only view of which process owns
// which session, via a hash snapshot plus a pub/sub channel for incremental
// updates. It never participates in packet routing: a relay only ever
// forwards datagrams for sessions whose sockets live on that same process.
package directory

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Registration describes a session's host as observed by one relay process.
type Registration struct {
	SessionID uint32 `json:"session_id"`
	RelayID   string `json:"relay_id"`
	HostAddr  string `json:"host_addr"`
}

// Sink receives registrations learned from other relay processes.
type Sink interface {
	Apply(r Registration)
}

type Sync struct {
	client  *redis.Client
	channel string
	relayID string
	logger  zerolog.Logger
	sink    Sink
}

// New returns nil when enabled is false; every method on *Sync is a no-op on
// a nil receiver, so callers can wire an always-present *Sync through
// regardless of whether the directory mirror is actually enabled.
func New(enabled bool, addr, password string, db int, channel, relayID string, sink Sink, logger zerolog.Logger) *Sync {
	if !enabled {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &Sync{
		client:  client,
		channel: channel,
		relayID: relayID,
		logger:  logger,
		sink:    sink,
	}
}

const hashKey = "neon:directory:sessions"

// LoadInitial populates the sink from Redis's existing directory hash.
func (s *Sync) LoadInitial(ctx context.Context) error {
	if s == nil {
		return nil
	}

	entries, err := s.client.HGetAll(ctx, hashKey).Result()
	if err != nil {
		return err
	}

	for _, raw := range entries {
		var r Registration
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			s.logger.Warn().Err(err).Msg("directory: skipping malformed entry")
			continue
		}
		s.sink.Apply(r)
	}

	return nil
}

// Publish mirrors a local registration to Redis and notifies subscribers.
func (s *Sync) Publish(ctx context.Context, r Registration) error {
	if s == nil {
		return nil
	}

	data, err := json.Marshal(r)
	if err != nil {
		return err
	}

	field := r.RelayID + "/" + strconv.FormatUint(uint64(r.SessionID), 10)
	if err := s.client.HSet(ctx, hashKey, field, data).Err(); err != nil {
		return err
	}

	return s.client.Publish(ctx, s.channel, data).Err()
}

// Subscribe blocks, applying registrations published by other relay
// processes until ctx is cancelled.
func (s *Sync) Subscribe(ctx context.Context) {
	if s == nil {
		return
	}

	pubsub := s.client.Subscribe(ctx, s.channel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var r Registration
			if err := json.Unmarshal([]byte(msg.Payload), &r); err != nil {
				s.logger.Warn().Err(err).Msg("directory: dropping malformed sync message")
				continue
			}
			if r.RelayID == s.relayID {
				continue
			}
			s.sink.Apply(r)
		}
	}
}
