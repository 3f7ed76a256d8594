// FILE: src/internal/counter/counter_test.go
package counter

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadInitializes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "internal_data.db")
	s := New(path)

	v, err := s.Read()
	require.NoError(t, err)
	assert.Equal(t, Initial, v)

	_, err = os.Stat(path)
	assert.NoError(t, err, "first read persists the initial value")

	v, err = s.Read()
	require.NoError(t, err)
	assert.Equal(t, Initial, v)
}

func TestIncrement(t *testing.T) {
	path := filepath.Join(t.TempDir(), "counter.db")
	s := New(path)

	for want := uint64(2); want <= 5; want++ {
		v, err := s.Increment()
		require.NoError(t, err)
		assert.Equal(t, want, v)
	}

	// Survives a new store instance (process restart)
	v, err := New(path).Read()
	require.NoError(t, err)
	assert.Equal(t, uint64(5), v)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestReadMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "counter.db")
	require.NoError(t, os.WriteFile(path, []byte{1, 2, 3}, 0o644))

	_, err := New(path).Read()
	assert.ErrorIs(t, err, ErrDecode)

	_, err = New(path).Increment()
	assert.ErrorIs(t, err, ErrDecode)
}
