package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ShinTechz/fraud-detection-system/pkg/features"
	"github.com/ShinTechz/fraud-detection-system/pkg/transaction"
)

// setupTestRedis starts a Redis container and returns a connected client.
func setupTestRedis(t *testing.T) (redis.UniversalClient, func()) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor: wait.ForAll(
				wait.ForLog("Ready to accept connections").WithStartupTimeout(60*time.Second),
				wait.ForListeningPort("6379/tcp"),
			),
		},
		Started: true,
	})
	require.NoError(t, err, "failed to start redis container")

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client, err := NewClient(ctx, fmt.Sprintf("%s:%s", host, port.Port()), "", 0)
	require.NoError(t, err)

	cleanup := func() {
		client.Close()
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}
	return client, cleanup
}

func snapshot(user string, values ...float64) features.Snapshot {
	sp := transaction.Point{Lat: -23.5505, Lon: -46.6333}
	start := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	s := features.Snapshot{UserID: user}
	for i, v := range values {
		e := features.Entry{
			TransactionID: fmt.Sprintf("%s-%d", user, i),
			Timestamp:     start.Add(time.Duration(i) * time.Hour),
			Value:         v,
		}
		if i%2 == 0 {
			e.Location = &sp
		}
		s.Entries = append(s.Entries, e)
	}
	return s
}

func TestHistoryStore_SaveLoad(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	ctx := context.Background()
	s := NewHistoryStore(client, WithKeyPrefix("test:history:"), WithTTL(time.Hour))

	u1 := snapshot("u1", 90, 110, 95)
	u2 := snapshot("u2", 10)
	require.NoError(t, s.Save(ctx, []features.Snapshot{u1, u2}))

	got, err := s.Load(ctx, []string{"u1", "u2", "u3"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, u1.UserID, got["u1"].UserID)
	require.Len(t, got["u1"].Entries, 3)
	assert.Equal(t, 95.0, got["u1"].Entries[2].Value)
	assert.True(t, u1.Entries[1].Timestamp.Equal(got["u1"].Entries[1].Timestamp))
	require.NotNil(t, got["u1"].Entries[0].Location)
	assert.Nil(t, got["u1"].Entries[1].Location)

	ttl, err := client.TTL(ctx, "test:history:u1").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 59*time.Minute)

	// Restored histories reproduce the aggregates.
	h := features.Restore(got["u1"])
	assert.InDelta(t, 98.333, h.Mean(), 1e-3)
}

func TestHistoryStore_Overwrite(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	ctx := context.Background()
	s := NewHistoryStore(client)

	require.NoError(t, s.Save(ctx, []features.Snapshot{snapshot("u1", 1)}))
	require.NoError(t, s.Save(ctx, []features.Snapshot{snapshot("u1", 1, 2, 3)}))

	got, err := s.Load(ctx, []string{"u1"})
	require.NoError(t, err)
	assert.Len(t, got["u1"].Entries, 3)

	ttl, err := client.TTL(ctx, DefaultKeyPrefix+"u1").Result()
	require.NoError(t, err)
	assert.Equal(t, time.Duration(-1), ttl, "no TTL unless configured")
}

func TestHistoryStore_EmptyInputs(t *testing.T) {
	s := NewHistoryStore(nil)

	got, err := s.Load(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NoError(t, s.Save(context.Background(), nil))
}

func TestHistoryStore_CorruptValue(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	ctx := context.Background()
	require.NoError(t, client.Set(ctx, DefaultKeyPrefix+"bad", "{not json", 0).Err())

	_, err := NewHistoryStore(client).Load(ctx, []string{"bad"})
	assert.Error(t, err)
}
