package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, now *time.Time) *Store {
	t.Helper()
	s := NewStore(filepath.Join(t.TempDir(), "nested", "session.yaml"), 30*time.Minute)
	s.now = func() time.Time { return *now }
	return s
}

func TestLoginAppendsPort(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s := newTestStore(t, &now)

	sess, err := s.Login(" 192.168.1.10 ")
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.10:5000", sess.Address)

	info, err := os.Stat(s.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, sess.Address, loaded.Address)
	assert.True(t, loaded.LoggedIn.Equal(now))
}

func TestLoginRejectsMalformedIP(t *testing.T) {
	t.Parallel()

	now := time.Now()
	s := newTestStore(t, &now)

	for _, ip := range []string{"", "localhost", "10.0.0", "10.0.0.1:5000", "1234.0.0.1"} {
		_, err := s.Login(ip)
		assert.ErrorIs(t, err, ErrInvalidServer, ip)
	}
	_, err := os.Stat(s.Path())
	assert.True(t, os.IsNotExist(err))
}

func TestLoadExpires(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s := newTestStore(t, &now)

	_, err := s.Login("10.1.1.1")
	require.NoError(t, err)

	now = now.Add(29 * time.Minute)
	_, err = s.Load()
	require.NoError(t, err)

	now = now.Add(time.Minute)
	_, err = s.Load()
	require.ErrorIs(t, err, ErrNoSession)

	_, err = os.Stat(s.Path())
	assert.True(t, os.IsNotExist(err), "expired session file should be removed")
}

func TestLoadWithoutLogin(t *testing.T) {
	t.Parallel()

	now := time.Now()
	s := newTestStore(t, &now)

	_, err := s.Load()
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestLoadCorruptFile(t *testing.T) {
	t.Parallel()

	now := time.Now()
	s := newTestStore(t, &now)
	require.NoError(t, os.MkdirAll(filepath.Dir(s.Path()), 0o700))
	require.NoError(t, os.WriteFile(s.Path(), []byte("address: [unterminated"), 0o600))

	_, err := s.Load()
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestLogout(t *testing.T) {
	t.Parallel()

	now := time.Now()
	s := newTestStore(t, &now)

	_, err := s.Login("10.0.0.2")
	require.NoError(t, err)
	require.NoError(t, s.Logout())
	require.NoError(t, s.Logout())

	_, err = s.Load()
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestNewStoreDefaultsTTL(t *testing.T) {
	t.Parallel()

	s := NewStore("session.yaml", 0)
	assert.Equal(t, DefaultTTL, s.ttl)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 30, 0, 0, time.UTC), Session{LoggedIn: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}.ExpiresAt(s.ttl))
}
