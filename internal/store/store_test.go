package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/tofu-tavern/backend/internal/model/chat"
)

func sampleSnapshot(id string) chat.Snapshot {
	now := time.UnixMilli(time.Now().UnixMilli()).UTC()
	return chat.Snapshot{
		ID:          id,
		PersonaID:   "tofu",
		Temperature: 0.7,
		Prefill:     "Tell me a weird cat fact and make it funny.",
		Transcript: []chat.Message{
			{ID: "m1", Role: chat.RoleAssistant, Content: "Meow! Hi there", CreatedAt: now},
			{ID: "m2", Role: chat.RoleUser, Content: "hello", CreatedAt: now},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, err := s.Load(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, s.Delete(ctx, "missing"), ErrNotFound)

	id := uuid.NewString()
	snap := sampleSnapshot(id)
	require.NoError(t, s.Save(ctx, snap))

	got, err := s.Load(ctx, id)
	require.NoError(t, err)
	require.Equal(t, snap.PersonaID, got.PersonaID)
	require.InDelta(t, snap.Temperature, got.Temperature, 1e-9)
	require.Equal(t, snap.Prefill, got.Prefill)
	require.Len(t, got.Transcript, 2)
	require.Equal(t, chat.RoleAssistant, got.Transcript[0].Role)
	require.Equal(t, "hello", got.Transcript[1].Content)
	require.True(t, snap.UpdatedAt.Equal(got.UpdatedAt))

	snap.Transcript = append(snap.Transcript, chat.Message{ID: "m3", Role: chat.RoleAssistant, Content: "purr"})
	snap.Prefill = ""
	require.NoError(t, s.Save(ctx, snap))

	got, err = s.Load(ctx, id)
	require.NoError(t, err)
	require.Len(t, got.Transcript, 3)
	require.Empty(t, got.Prefill)

	require.NoError(t, s.Delete(ctx, id))
	_, err = s.Load(ctx, id)
	require.ErrorIs(t, err, ErrNotFound)

	require.Error(t, s.Save(ctx, chat.Snapshot{}))
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestMemoryStoreCopiesTranscript(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	snap := sampleSnapshot("c1")
	require.NoError(t, s.Save(ctx, snap))

	snap.Transcript[0].Content = "mutated"
	got, err := s.Load(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, "Meow! Hi there", got.Transcript[0].Content)
}

func TestSQLiteStore(t *testing.T) {
	dsn := "file:" + filepath.Join(t.TempDir(), "tofu.db") + "?_busy_timeout=5000"
	s, err := NewSQLiteStore(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	exerciseStore(t, s)
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	dsn := "file:" + filepath.Join(t.TempDir(), "tofu.db")
	ctx := context.Background()

	s, err := NewSQLiteStore(dsn)
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, sampleSnapshot("c1")))
	require.NoError(t, s.Close())

	reopened, err := NewSQLiteStore(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	got, err := reopened.Load(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, got.Transcript, 2)
}

func TestSQLiteStoreRejectsEmptyDSN(t *testing.T) {
	_, err := NewSQLiteStore(" ")
	require.Error(t, err)
}

// Set TOFU_TEST_REDIS_ADDR to run against a live Redis.
func TestRedisStore(t *testing.T) {
	addr := os.Getenv("TOFU_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TOFU_TEST_REDIS_ADDR not set")
	}
	s, err := NewRedisStore(context.Background(), RedisOptions{Addr: addr, TTL: time.Minute})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	exerciseStore(t, s)
}

func TestRedisKey(t *testing.T) {
	require.Equal(t, "tofu:session:abc", redisKey("abc"))
}
