// Package redis keeps user history snapshots in Redis as JSON documents.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ShinTechz/fraud-detection-system/pkg/features"
	"github.com/ShinTechz/fraud-detection-system/pkg/store"
)

// DefaultKeyPrefix namespaces history keys.
const DefaultKeyPrefix = "fraudguard:history:"

// HistoryStore implements store.HistoryStore on Redis.
type HistoryStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// Option configures a HistoryStore.
type Option func(*HistoryStore)

// WithKeyPrefix sets the key namespace.
func WithKeyPrefix(p string) Option {
	return func(s *HistoryStore) {
		s.prefix = p
	}
}

// WithTTL expires snapshots that are not refreshed within d. Zero keeps
// them forever.
func WithTTL(d time.Duration) Option {
	return func(s *HistoryStore) {
		s.ttl = d
	}
}

// NewHistoryStore creates a HistoryStore over client. Single node and
// cluster clients are both accepted.
func NewHistoryStore(client redis.UniversalClient, opts ...Option) *HistoryStore {
	s := &HistoryStore{client: client, prefix: DefaultKeyPrefix}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewClient connects to addr and verifies the connection.
func NewClient(ctx context.Context, addr, password string, db int) (redis.UniversalClient, error) {
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{addr},
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Compile-time interface check.
var _ store.HistoryStore = (*HistoryStore)(nil)

func (s *HistoryStore) key(userID string) string {
	return s.prefix + userID
}

// Load implements store.HistoryStore.
func (s *HistoryStore) Load(ctx context.Context, userIDs []string) (map[string]features.Snapshot, error) {
	out := make(map[string]features.Snapshot, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}

	// One GET per key keeps this working on cluster clients, where MGET
	// across slots fails.
	cmds := make([]*redis.StringCmd, len(userIDs))
	_, err := s.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, id := range userIDs {
			cmds[i] = p.Get(ctx, s.key(id))
		}
		return nil
	})
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("load histories: %w", err)
	}

	for i, cmd := range cmds {
		raw, err := cmd.Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load history %s: %w", userIDs[i], err)
		}
		var snap features.Snapshot
		if err := json.Unmarshal(raw, &snap); err != nil {
			return nil, fmt.Errorf("unmarshal history %s: %w", userIDs[i], err)
		}
		out[userIDs[i]] = snap
	}
	return out, nil
}

// Save implements store.HistoryStore.
func (s *HistoryStore) Save(ctx context.Context, snapshots []features.Snapshot) error {
	if len(snapshots) == 0 {
		return nil
	}
	_, err := s.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, snap := range snapshots {
			raw, err := json.Marshal(snap)
			if err != nil {
				return fmt.Errorf("marshal history %s: %w", snap.UserID, err)
			}
			p.Set(ctx, s.key(snap.UserID), raw, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save histories: %w", err)
	}
	return nil
}
