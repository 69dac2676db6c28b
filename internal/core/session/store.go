package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

var (
	// ErrNotFound means no session file exists: an interactive login is
	// required. Distinct from ErrCorruptData on purpose.
	ErrNotFound = errors.New("session not found")
	// ErrCorruptData means the session file exists but cannot be decoded.
	// Callers must surface this loudly instead of silently re-logging-in:
	// discarding a possibly recoverable session can mask a writer bug.
	ErrCorruptData = errors.New("session file corrupt")
)

// Store persists one session file per platform. Saves are atomic
// (write-temp-then-rename) with owner-only permissions, and every
// load-mutate-save cycle runs under an exclusive file lock so a keep-alive
// process and a sync process cannot overwrite each other's refreshed token.
type Store struct {
	dir string
}

// NewStore creates a store rooted at dir, creating it if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create sessions dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (st *Store) path(platformID string) string {
	return filepath.Join(st.dir, platformID+"_session.json")
}

func (st *Store) lockPath(platformID string) string {
	return st.path(platformID) + ".lock"
}

// Load reads the session for a platform. Returns ErrNotFound when no file
// exists and ErrCorruptData when the file cannot be decoded.
func (st *Store) Load(platformID string) (*Session, error) {
	lock := flock.New(st.lockPath(platformID))
	if err := lock.Lock(); err != nil {
		return nil, fmt.Errorf("lock session file: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	return st.loadLocked(platformID)
}

func (st *Store) loadLocked(platformID string) (*Session, error) {
	data, err := os.ReadFile(st.path(platformID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read session file: %w", err)
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptData, err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptData, err)
	}
	return &s, nil
}

// Save writes the session atomically with mode 600.
func (st *Store) Save(platformID string, s *Session) error {
	lock := flock.New(st.lockPath(platformID))
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock session file: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	return st.saveLocked(platformID, s)
}

func (st *Store) saveLocked(platformID string, s *Session) error {
	if err := s.Validate(); err != nil {
		return fmt.Errorf("refusing to save invalid session: %w", err)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	// Write-temp-then-rename so a crash mid-write never corrupts the
	// previous valid session file.
	tmp, err := os.CreateTemp(st.dir, ".session_*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, st.path(platformID)); err != nil {
		return fmt.Errorf("rename session file: %w", err)
	}
	return nil
}

// Update runs fn on the current on-disk session under the exclusive lock and
// persists the result. The whole decode-mutate-encode-write cycle holds the
// lock, which is what makes concurrent keep-alive and sync refreshes safe:
// fn always sees the latest persisted state, never a stale in-memory copy.
func (st *Store) Update(platformID string, fn func(*Session) error) (*Session, error) {
	lock := flock.New(st.lockPath(platformID))
	if err := lock.Lock(); err != nil {
		return nil, fmt.Errorf("lock session file: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	s, err := st.loadLocked(platformID)
	switch {
	case errors.Is(err, ErrNotFound):
		// First write for this platform: fn starts from an empty session.
		s = &Session{}
	case err != nil:
		return nil, err
	}
	if err := fn(s); err != nil {
		return nil, err
	}
	if err := st.saveLocked(platformID, s); err != nil {
		return nil, err
	}
	return s, nil
}
