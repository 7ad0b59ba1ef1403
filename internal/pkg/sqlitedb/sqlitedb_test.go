package sqlitedb

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatTime_SortsLexically(t *testing.T) {
	base := time.Date(2025, 5, 1, 10, 0, 5, 0, time.UTC)
	a := FormatTime(base)
	b := FormatTime(base.Add(100 * time.Millisecond))
	assert.Less(t, a, b)

	parsed, err := ParseTime(b)
	require.NoError(t, err)
	assert.True(t, parsed.Equal(base.Add(100*time.Millisecond)))
}

func TestOpen(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer db.Close()

	var fk int
	require.NoError(t, db.QueryRow("PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)
}
