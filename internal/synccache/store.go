// Package synccache is the client-facing cache of synced external calendar
// events. It holds the last-fetched event set and sync metadata per provider
// account in Redis; it performs no network I/O against providers itself.
package synccache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"lifesprint/api/internal/calendar"
)

// ErrStaleGeneration is returned when a sync result carries a generation older
// than one already committed for the account. Overlapping syncs are resolved
// by generation, not by arrival order.
var ErrStaleGeneration = errors.New("synccache: sync generation superseded")

// Connection status values surfaced to the UI.
const (
	StatusOK             = "ok"
	StatusError          = "error"
	StatusReauthRequired = "reauth_required"
	StatusNever          = "never"
)

// Metadata describes the sync state of one provider account.
type Metadata struct {
	AccountID            string                `json:"accountId"`
	Provider             calendar.ProviderKind `json:"provider"`
	LastSyncedAt         time.Time             `json:"lastSyncedAt"`
	SyncFrequencyMinutes int                   `json:"syncFrequencyMinutes"`
	ConnectionStatus     string                `json:"connectionStatus"`
	LastError            string                `json:"lastError,omitempty"`
	Generation           int64                 `json:"generation"`
}

// Store is the Redis-backed event cache. Cached sets survive process restarts
// so the timeline can render offline data while a sync is in flight.
type Store struct {
	client *redis.Client
	prefix string
}

// New connects to Redis and returns a Store.
func New(redisURL string) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewWithClient(client), nil
}

// NewWithClient creates a Store from an existing Redis client.
func NewWithClient(client *redis.Client) *Store {
	return &Store{client: client, prefix: "calsync:"}
}

func (s *Store) eventsKey(accountID string) string { return s.prefix + "events:" + accountID }
func (s *Store) metaKey(accountID string) string   { return s.prefix + "meta:" + accountID }
func (s *Store) genKey(accountID string) string    { return s.prefix + "gen:" + accountID }

// NextGeneration reserves a monotonic generation for a sync attempt.
func (s *Store) NextGeneration(ctx context.Context, accountID string) (int64, error) {
	gen, err := s.client.Incr(ctx, s.genKey(accountID)).Result()
	if err != nil {
		return 0, fmt.Errorf("next sync generation: %w", err)
	}
	return gen, nil
}

// replaceRetries bounds how often an aborted optimistic transaction is
// retried before ReplaceEvents gives up.
const replaceRetries = 100

// ReplaceEvents overwrites the cached event set for one account. The previous
// set is replaced wholesale: events removed at the source disappear here too.
// A write stamped with a generation at or below the last committed one is
// rejected with ErrStaleGeneration. The generation check and the commit run
// as one optimistic transaction watching the committed marker, so two
// overlapping syncs can never interleave check and write.
func (s *Store) ReplaceEvents(ctx context.Context, accountID string, generation int64, events []calendar.Event) error {
	data, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("marshal events: %w", err)
	}

	committedKey := s.committedKey(accountID)
	txn := func(tx *redis.Tx) error {
		committed, err := tx.Get(ctx, committedKey).Int64()
		if err != nil && err != redis.Nil {
			return fmt.Errorf("read committed generation: %w", err)
		}
		if generation <= committed {
			return ErrStaleGeneration
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, s.eventsKey(accountID), data, 0)
			pipe.Set(ctx, committedKey, generation, 0)
			return nil
		})
		return err
	}

	for i := 0; i < replaceRetries; i++ {
		err := s.client.Watch(ctx, txn, committedKey)
		if err == redis.TxFailedErr {
			// A concurrent commit moved the marker mid-transaction; re-check
			// against the new generation.
			continue
		}
		if err != nil && !errors.Is(err, ErrStaleGeneration) {
			return fmt.Errorf("replace events: %w", err)
		}
		return err
	}
	return fmt.Errorf("replace events for %s: transaction kept aborting", accountID)
}

func (s *Store) committedKey(accountID string) string { return s.prefix + "committed:" + accountID }

// Events returns the cached event set for one account, or an empty slice if
// nothing has been synced yet.
func (s *Store) Events(ctx context.Context, accountID string) ([]calendar.Event, error) {
	data, err := s.client.Get(ctx, s.eventsKey(accountID)).Bytes()
	if err == redis.Nil {
		return []calendar.Event{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}

	var events []calendar.Event
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, fmt.Errorf("unmarshal events: %w", err)
	}
	return events, nil
}

// AllEvents returns the cached events of every given account, preserving
// per-account order. Accounts with no cache contribute nothing.
func (s *Store) AllEvents(ctx context.Context, accountIDs []string) ([]calendar.Event, error) {
	all := make([]calendar.Event, 0)
	for _, id := range accountIDs {
		events, err := s.Events(ctx, id)
		if err != nil {
			return nil, err
		}
		all = append(all, events...)
	}
	return all, nil
}

// EventsOn selects cached events whose start falls on the given calendar day.
// The compare is by wall-clock date of the event's start, so an event spanning
// midnight is attributed to its start day only.
func (s *Store) EventsOn(ctx context.Context, accountIDs []string, day time.Time) ([]calendar.Event, error) {
	all, err := s.AllEvents(ctx, accountIDs)
	if err != nil {
		return nil, err
	}

	onDay := make([]calendar.Event, 0)
	for _, ev := range all {
		if calendar.OnDay(ev.StartDate, day) {
			onDay = append(onDay, ev)
		}
	}
	return onDay, nil
}

// SaveMetadata records the outcome of a sync attempt for one account.
func (s *Store) SaveMetadata(ctx context.Context, meta Metadata) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal sync metadata: %w", err)
	}
	if err := s.client.Set(ctx, s.metaKey(meta.AccountID), data, 0).Err(); err != nil {
		return fmt.Errorf("save sync metadata: %w", err)
	}
	return nil
}

// Metadata returns the sync state for one account. Accounts never synced get
// StatusNever.
func (s *Store) Metadata(ctx context.Context, accountID string) (Metadata, error) {
	data, err := s.client.Get(ctx, s.metaKey(accountID)).Bytes()
	if err == redis.Nil {
		return Metadata{AccountID: accountID, ConnectionStatus: StatusNever}, nil
	}
	if err != nil {
		return Metadata{}, fmt.Errorf("read sync metadata: %w", err)
	}

	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return Metadata{}, fmt.Errorf("unmarshal sync metadata: %w", err)
	}
	return meta, nil
}

// AllMetadata returns the sync state of every given account.
func (s *Store) AllMetadata(ctx context.Context, accountIDs []string) ([]Metadata, error) {
	out := make([]Metadata, 0, len(accountIDs))
	for _, id := range accountIDs {
		meta, err := s.Metadata(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, meta)
	}
	return out, nil
}

// PurgeAccount removes every cached key for a disconnected account.
func (s *Store) PurgeAccount(ctx context.Context, accountID string) error {
	keys := []string{
		s.eventsKey(accountID),
		s.metaKey(accountID),
		s.genKey(accountID),
		s.committedKey(accountID),
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("purge account cache: %w", err)
	}
	return nil
}

// Ping checks if Redis is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}
