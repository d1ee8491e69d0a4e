// Package session remembers which panel server the CLI talks to. The
// address is kept in a small YAML file and expires after a fixed lifetime.
package session

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/denniswebb/iptpanel/internal/validation"
)

const (
	// DefaultPort is appended to the server IP given at login.
	DefaultPort = 5000
	// DefaultTTL is how long a stored address stays valid.
	DefaultTTL = 30 * time.Minute
)

var (
	// ErrNoSession is returned when no unexpired address is stored.
	ErrNoSession = errors.New("session: not logged in")
	// ErrInvalidServer is returned by Login for a malformed IP.
	ErrInvalidServer = errors.New("session: enter a valid server IP")
)

// Session is the persisted login.
type Session struct {
	Address  string    `yaml:"address"`
	LoggedIn time.Time `yaml:"logged_in"`
}

// ExpiresAt returns when the session stops being valid for ttl.
func (s Session) ExpiresAt(ttl time.Duration) time.Time {
	return s.LoggedIn.Add(ttl)
}

// Store reads and writes the session file.
type Store struct {
	path string
	ttl  time.Duration
	port int
	now  func() time.Time
}

// NewStore returns a Store for path. A non-positive ttl uses DefaultTTL.
func NewStore(path string, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{path: path, ttl: ttl, port: DefaultPort, now: time.Now}
}

// Path returns the session file location.
func (s *Store) Path() string {
	return s.path
}

// TTL returns the session lifetime.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Login stores <ip>:5000 as the current server.
func (s *Store) Login(ip string) (Session, error) {
	ip = strings.TrimSpace(ip)
	if !validation.ValidServerIP(ip) {
		return Session{}, fmt.Errorf("%w: %q", ErrInvalidServer, ip)
	}

	sess := Session{
		Address:  ip + ":" + strconv.Itoa(s.port),
		LoggedIn: s.now().UTC(),
	}
	data, err := yaml.Marshal(sess)
	if err != nil {
		return Session{}, fmt.Errorf("session: encode: %w", err)
	}

	dir, name := filepath.Split(s.path)
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return Session{}, fmt.Errorf("session: create directory: %w", err)
	}
	if err := writeFileAtomic(dir, name, data, 0o600); err != nil {
		return Session{}, fmt.Errorf("session: write %s: %w", s.path, err)
	}
	return sess, nil
}

// Load returns the stored session. A missing, unreadable or expired file
// yields ErrNoSession; an expired file is removed.
func (s *Store) Load() (Session, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Session{}, ErrNoSession
	}
	if err != nil {
		return Session{}, fmt.Errorf("session: read %s: %w", s.path, err)
	}

	var sess Session
	if err := yaml.Unmarshal(data, &sess); err != nil || sess.Address == "" {
		_ = s.remove()
		return Session{}, ErrNoSession
	}

	if !s.now().Before(sess.ExpiresAt(s.ttl)) {
		if err := s.remove(); err != nil {
			return Session{}, err
		}
		return Session{}, ErrNoSession
	}
	return sess, nil
}

// Logout removes the session file. Logging out twice is not an error.
func (s *Store) Logout() error {
	return s.remove()
}

func (s *Store) remove() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("session: remove %s: %w", s.path, err)
	}
	return nil
}
