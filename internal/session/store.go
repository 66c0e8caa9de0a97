// Package session persists the authenticated browsing state between runs.
// Only the interactive setup flow and an explicit clear write to it.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/example/court-sniper/internal/crypto"
	"github.com/example/court-sniper/internal/domain/booking"
)

// Purpose is the key-derivation label for session encryption.
const Purpose = "courtsniper session v1"

type Store interface {
	Acquire() (booking.SessionState, error)
	Save(state booking.SessionState) error
	Invalidate() error
}

// FileStore keeps the state in one file. When AEAD is set the blob is sealed
// at rest.
type FileStore struct {
	Path string
	AEAD *crypto.AEAD
}

func NewFileStore(path string, aead *crypto.AEAD) *FileStore {
	return &FileStore{Path: path, AEAD: aead}
}

type envelope struct {
	CapturedAt time.Time       `json:"captured_at"`
	State      json.RawMessage `json:"state,omitempty"`
	Sealed     []byte          `json:"sealed,omitempty"`
}

// Acquire returns the stored state, or an error wrapping
// booking.ErrAuthRequired when there is none usable. Freshness is not checked.
func (s *FileStore) Acquire() (booking.SessionState, error) {
	b, err := os.ReadFile(s.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return booking.SessionState{}, fmt.Errorf("%w: no session at %s", booking.ErrAuthRequired, s.Path)
	}
	if err != nil {
		return booking.SessionState{}, fmt.Errorf("%w: read session: %v", booking.ErrAuthRequired, err)
	}
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return booking.SessionState{}, fmt.Errorf("%w: session file is corrupt: %v", booking.ErrAuthRequired, err)
	}

	blob := []byte(env.State)
	switch {
	case len(env.Sealed) > 0:
		if s.AEAD == nil {
			return booking.SessionState{}, fmt.Errorf("%w: session is encrypted and SESSION_ENC_KEY is not set", booking.ErrAuthRequired)
		}
		blob, err = s.AEAD.Open(env.Sealed)
		if err != nil {
			return booking.SessionState{}, fmt.Errorf("%w: decrypt session: %v", booking.ErrAuthRequired, err)
		}
	case len(blob) == 0:
		return booking.SessionState{}, fmt.Errorf("%w: session file is empty", booking.ErrAuthRequired)
	}
	return booking.SessionState{Blob: blob, CapturedAt: env.CapturedAt}, nil
}

// Save replaces the stored state atomically with owner-only permissions.
func (s *FileStore) Save(state booking.SessionState) error {
	if len(state.Blob) == 0 {
		return fmt.Errorf("refusing to save empty session")
	}
	env := envelope{CapturedAt: state.CapturedAt.UTC()}
	if s.AEAD != nil {
		sealed, err := s.AEAD.Seal(state.Blob)
		if err != nil {
			return fmt.Errorf("encrypt session: %w", err)
		}
		env.Sealed = sealed
	} else {
		if !json.Valid(state.Blob) {
			return fmt.Errorf("session blob is not JSON")
		}
		env.State = state.Blob
	}
	b, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".session-*")
	if err != nil {
		return fmt.Errorf("create temp session: %w", err)
	}
	defer os.Remove(tmp.Name())
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("write session: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.Path)
}

// Invalidate deletes the stored state. A missing file is not an error.
func (s *FileStore) Invalidate() error {
	err := os.Remove(s.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
