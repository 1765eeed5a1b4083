package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"autotrac/sync-client/internal/database"
)

func backends(t *testing.T) map[string]Store {
	t.Helper()

	db, err := database.New(filepath.Join(t.TempDir(), "kv.db"), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	fileStore, err := OpenFileStore(filepath.Join(t.TempDir(), "state", "kv.json"))
	require.NoError(t, err)

	m := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { client.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": NewSQLiteStore(db.DB),
		"file":   fileStore,
		"redis":  NewRedisStore(client, "test"),
	}
}

func TestStoreConformance(t *testing.T) {
	ctx := context.Background()

	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := s.Get(ctx, "missing")
			require.NoError(t, err)
			assert.False(t, ok, "missing key should not be found")

			require.NoError(t, s.Set(ctx, "queue", []byte(`[{"id":"a"}]`)))
			got, ok, err := s.Get(ctx, "queue")
			require.NoError(t, err)
			require.True(t, ok)
			assert.JSONEq(t, `[{"id":"a"}]`, string(got))

			require.NoError(t, s.Set(ctx, "queue", []byte(`[]`)))
			got, _, err = s.Get(ctx, "queue")
			require.NoError(t, err)
			assert.JSONEq(t, `[]`, string(got), "Set should overwrite")

			require.NoError(t, s.Delete(ctx, "queue"))
			_, ok, err = s.Get(ctx, "queue")
			require.NoError(t, err)
			assert.False(t, ok, "deleted key should be gone")

			require.NoError(t, s.Delete(ctx, "queue"), "deleting a missing key is not an error")
		})
	}
}

func TestJSONHelpers(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	type entry struct {
		Rate float64 `json:"rate"`
	}

	var out entry
	ok, err := GetJSON(ctx, s, "fx_rate:USD", &out)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, SetJSON(ctx, s, "fx_rate:USD", entry{Rate: 0.79}))
	ok, err = GetJSON(ctx, s, "fx_rate:USD", &out)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0.79, out.Rate)

	require.NoError(t, s.Set(ctx, "broken", []byte("{")))
	_, err = GetJSON(ctx, s, "broken", &out)
	assert.Error(t, err)
}

func TestFileStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "kv.json")

	s, err := OpenFileStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "offline_queue", []byte(`[{"id":"1"}]`)))

	reopened, err := OpenFileStore(path)
	require.NoError(t, err)
	got, ok, err := reopened.Get(ctx, "offline_queue")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `[{"id":"1"}]`, string(got))
}

func TestFileStore_RejectsInvalidJSONAndCorruptFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "kv.json")

	s, err := OpenFileStore(path)
	require.NoError(t, err)
	assert.Error(t, s.Set(ctx, "k", []byte("not json")))

	require.NoError(t, os.WriteFile(path, []byte("{corrupt"), 0o600))
	_, err = OpenFileStore(path)
	assert.Error(t, err)
}

func TestRedisStore_UsesPrefix(t *testing.T) {
	m := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { client.Close() })

	s := NewRedisStore(client, "")
	require.NoError(t, s.Set(context.Background(), "fx_rate:EUR", []byte(`{"rate":0.85}`)))

	raw, err := m.Get("autotrac:fx_rate:EUR")
	require.NoError(t, err)
	assert.JSONEq(t, `{"rate":0.85}`, raw)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	log := zaptest.NewLogger(t)

	s, closer, err := Open(ctx, Options{Backend: "memory"}, log)
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)
	assert.NoError(t, closer.Close())

	s, closer, err = Open(ctx, Options{Backend: "file", FilePath: filepath.Join(t.TempDir(), "kv.json")}, log)
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)
	assert.NoError(t, closer.Close())

	m := miniredis.RunT(t)
	s, closer, err = Open(ctx, Options{Backend: "redis", RedisAddr: m.Addr(), Prefix: "p"}, log)
	require.NoError(t, err)
	assert.IsType(t, &RedisStore{}, s)
	assert.NoError(t, closer.Close())

	_, _, err = Open(ctx, Options{Backend: "sqlite"}, log)
	assert.Error(t, err, "sqlite without a database should fail")

	_, _, err = Open(ctx, Options{Backend: "etcd"}, log)
	assert.Error(t, err)
}
