package session

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/court-sniper/internal/crypto"
	"github.com/example/court-sniper/internal/domain/booking"
)

func state() booking.SessionState {
	return booking.SessionState{
		Blob:       []byte(`{"cookies":[{"name":"sid","value":"abc"}],"origins":[]}`),
		CapturedAt: time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC),
	}
}

func TestAcquireMissingIsAuthRequired(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "auth.json"), nil)
	_, err := s.Acquire()
	assert.ErrorIs(t, err, booking.ErrAuthRequired)
}

func TestSaveAcquirePlain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "auth.json")
	s := NewFileStore(path, nil)
	require.NoError(t, s.Save(state()))

	got, err := s.Acquire()
	require.NoError(t, err)
	assert.JSONEq(t, string(state().Blob), string(got.Blob))
	assert.True(t, state().CapturedAt.Equal(got.CapturedAt))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestSaveAcquireEncrypted(t *testing.T) {
	a, err := crypto.New(bytes.Repeat([]byte{1}, crypto.KeySize), Purpose)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "auth.json")
	s := NewFileStore(path, a)
	require.NoError(t, s.Save(state()))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "sid")

	got, err := s.Acquire()
	require.NoError(t, err)
	assert.Equal(t, state().Blob, got.Blob)

	_, err = NewFileStore(path, nil).Acquire()
	assert.ErrorIs(t, err, booking.ErrAuthRequired)

	other, err := crypto.New(bytes.Repeat([]byte{2}, crypto.KeySize), Purpose)
	require.NoError(t, err)
	_, err = NewFileStore(path, other).Acquire()
	assert.ErrorIs(t, err, booking.ErrAuthRequired)
}

func TestCorruptFileIsAuthRequired(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o600))
	_, err := NewFileStore(path, nil).Acquire()
	assert.ErrorIs(t, err, booking.ErrAuthRequired)
}

func TestInvalidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth.json")
	s := NewFileStore(path, nil)
	require.NoError(t, s.Invalidate(), "missing file is fine")
	require.NoError(t, s.Save(state()))
	require.NoError(t, s.Invalidate())
	_, err := s.Acquire()
	assert.ErrorIs(t, err, booking.ErrAuthRequired)
}

func TestSaveRejectsEmpty(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "auth.json"), nil)
	assert.Error(t, s.Save(booking.SessionState{}))
}
