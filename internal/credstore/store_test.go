package credstore_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aelexs/session-gateway/internal/credstore"
	"github.com/aelexs/session-gateway/internal/domain"
	redisclient "github.com/aelexs/session-gateway/internal/redis"
	"github.com/aelexs/session-gateway/internal/session"
)

var samplePair = session.CredentialPair{
	AccessToken:  "access-A",
	RefreshToken: "refresh-A",
	IssuedAt:     time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
}

var rotatedPair = session.CredentialPair{
	AccessToken:  "access-B",
	RefreshToken: "refresh-B",
	IssuedAt:     time.Date(2026, 3, 1, 9, 15, 0, 0, time.UTC),
}

// testStoreContract checks the behavior every backend shares.
func testStoreContract(t *testing.T, store session.CredentialStore) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := store.Get(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "new store is empty")

	require.NoError(t, store.Set(ctx, samplePair))
	got, ok, err := store.Get(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, samplePair.AccessToken, got.AccessToken)
	assert.Equal(t, samplePair.RefreshToken, got.RefreshToken)
	assert.True(t, samplePair.IssuedAt.Equal(got.IssuedAt))

	require.NoError(t, store.Set(ctx, rotatedPair))
	got, ok, err = store.Get(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, rotatedPair.AccessToken, got.AccessToken)

	require.NoError(t, store.Clear(ctx))
	_, ok, err = store.Get(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "cleared store is empty")

	require.NoError(t, store.Clear(ctx), "clearing twice is fine")
}

func newTestRedis(t *testing.T) (redisclient.Cmdable, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redisclient.NewClient(redisclient.Config{
		Addr:    mr.Addr(),
		Timeout: 5 * time.Second,
	})
	t.Cleanup(func() {
		require.NoError(t, client.Close())
	})
	return client.RDB, mr
}

func TestMemoryStore(t *testing.T) {
	testStoreContract(t, credstore.NewMemoryStore())
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "credentials.json")
	store, err := credstore.NewFileStore(path, "default")
	require.NoError(t, err)

	testStoreContract(t, store)
}

func TestFileStore_Permissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	store, err := credstore.NewFileStore(path, "default")
	require.NoError(t, err)

	require.NoError(t, store.Set(context.Background(), samplePair))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestFileStore_ProfilesAreIndependent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	work, err := credstore.NewFileStore(path, "work")
	require.NoError(t, err)
	home, err := credstore.NewFileStore(path, "home")
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, work.Set(ctx, samplePair))
	require.NoError(t, home.Set(ctx, rotatedPair))
	require.NoError(t, home.Clear(ctx))

	got, ok, err := work.Get(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, samplePair.AccessToken, got.AccessToken)
}

func TestFileStore_StoresRawTokens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	store, err := credstore.NewFileStore(path, "default")
	require.NoError(t, err)

	require.NoError(t, store.Set(context.Background(), samplePair))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"accessToken": "access-A"`)
	assert.NotContains(t, string(data), "[REDACTED]")
}

func TestFileStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	store, err := credstore.NewFileStore(path, "default")
	require.NoError(t, err)

	_, _, err = store.Get(context.Background())
	assert.Error(t, err)
}

func TestFileStore_DefaultPath(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	store, err := credstore.NewFileStore("", "default")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "sessionctl", "credentials.json"), store.Path())
}

func TestRedisStore(t *testing.T) {
	cmd, _ := newTestRedis(t)

	testStoreContract(t, credstore.NewRedisStore(cmd, "session:credentials:", "default", time.Hour))
}

func TestRedisStore_KeyAndTTL(t *testing.T) {
	cmd, mr := newTestRedis(t)
	store := credstore.NewRedisStore(cmd, "session:credentials:", "work", 2*time.Hour)

	require.NoError(t, store.Set(context.Background(), samplePair))

	assert.True(t, mr.Exists("session:credentials:work"))
	assert.Equal(t, 2*time.Hour, mr.TTL("session:credentials:work"))
}

func TestRedisStore_Expired(t *testing.T) {
	cmd, mr := newTestRedis(t)
	store := credstore.NewRedisStore(cmd, "session:credentials:", "default", time.Minute)

	require.NoError(t, store.Set(context.Background(), samplePair))
	mr.FastForward(2 * time.Minute)

	_, ok, err := store.Get(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisStore_Unavailable(t *testing.T) {
	cmd, mr := newTestRedis(t)
	store := credstore.NewRedisStore(cmd, "session:credentials:", "default", time.Minute)
	mr.SetError("ERR store unavailable")

	_, _, err := store.Get(context.Background())
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)

	err = store.Set(context.Background(), samplePair)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
}

func TestOpen(t *testing.T) {
	cmd, _ := newTestRedis(t)

	tests := []struct {
		name    string
		opts    credstore.Options
		wantErr error
	}{
		{name: "memory", opts: credstore.Options{Kind: domain.StoreKindMemory}},
		{name: "file", opts: credstore.Options{Kind: domain.StoreKindFile, FilePath: filepath.Join(t.TempDir(), "c.json"), Profile: "default"}},
		{name: "redis", opts: credstore.Options{Kind: domain.StoreKindRedis, Redis: cmd, Profile: "default"}},
		{name: "redis without client", opts: credstore.Options{Kind: domain.StoreKindRedis}, wantErr: domain.ErrConfigRequired},
		{name: "dynamodb without client", opts: credstore.Options{Kind: domain.StoreKindDynamoDB}, wantErr: domain.ErrConfigRequired},
		{name: "unknown kind", opts: credstore.Options{Kind: "etcd"}, wantErr: domain.ErrConfigInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := credstore.Open(tt.opts)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			testStoreContract(t, store)
		})
	}
}
