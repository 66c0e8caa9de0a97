package migrate

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/court-sniper/internal/db"
)

type boolRow bool

func (b boolRow) Scan(dest ...any) error {
	*(dest[0].(*bool)) = bool(b)
	return nil
}

type fakeStore struct {
	applied map[string]bool
	execs   []string
	txs     int
	failOn  string
}

func (f *fakeStore) Exec(_ context.Context, sql string, args ...any) error {
	if f.failOn != "" && strings.Contains(sql, f.failOn) {
		return errors.New("syntax error")
	}
	f.execs = append(f.execs, sql)
	if strings.HasPrefix(sql, "INSERT INTO schema_migrations") {
		f.applied[args[0].(string)] = true
	}
	return nil
}

func (f *fakeStore) QueryRow(_ context.Context, _ string, args ...any) db.Row {
	return boolRow(f.applied[args[0].(string)])
}

func (f *fakeStore) Query(context.Context, string, ...any) (db.Rows, error) {
	return nil, errors.New("not supported")
}

func (f *fakeStore) Tx(_ context.Context, fn func(q db.Querier) error) error {
	f.txs++
	return fn(f)
}

func TestVersionsSorted(t *testing.T) {
	v, err := Versions()
	require.NoError(t, err)
	assert.Equal(t, []string{"001_runs.sql", "002_runs_started_idx.sql"}, v)
}

func TestUpIsIdempotent(t *testing.T) {
	s := &fakeStore{applied: map[string]bool{}}
	applied, err := Up(context.Background(), s)
	require.NoError(t, err)
	assert.Len(t, applied, 2)
	assert.Equal(t, 2, s.txs, "one transaction per migration")
	assert.Contains(t, strings.Join(s.execs, "\n"), "CREATE TABLE IF NOT EXISTS runs")

	applied, err = Up(context.Background(), s)
	require.NoError(t, err)
	assert.Empty(t, applied)
}

func TestUpStopsAtFailedMigration(t *testing.T) {
	s := &fakeStore{applied: map[string]bool{}, failOn: "CREATE INDEX"}
	applied, err := Up(context.Background(), s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "002_runs_started_idx.sql")
	assert.Equal(t, []string{"001_runs.sql"}, applied)
	assert.False(t, s.applied["002_runs_started_idx.sql"])
}
