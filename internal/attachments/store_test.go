package attachments

import (
	"context"
	"io"
	"os"
	"strings"
	"testing"

	"bizdash/internal/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiskStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := NewDiskStore(t.TempDir())
	require.NoError(t, err)

	n, err := s.Put(ctx, "abc.pdf", strings.NewReader("%PDF-1.4 body"))
	require.NoError(t, err)
	assert.EqualValues(t, 13, n)

	f, err := s.Open(ctx, "abc.pdf")
	require.NoError(t, err)
	b, err := io.ReadAll(f)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	assert.Equal(t, "%PDF-1.4 body", string(b))

	require.NoError(t, s.Delete(ctx, "abc.pdf"))
	_, err = s.Open(ctx, "abc.pdf")
	assert.ErrorIs(t, err, core.ErrNotFound)

	assert.NoError(t, s.Delete(ctx, "abc.pdf"), "second delete is a no-op")
}

func TestDiskStoreRejectsPathKeys(t *testing.T) {
	ctx := context.Background()
	s, err := NewDiskStore(t.TempDir())
	require.NoError(t, err)

	for _, key := range []string{"", "../escape", "a/b", ".hidden"} {
		_, err := s.Put(ctx, key, strings.NewReader("x"))
		assert.Error(t, err, "key %q", key)
	}
}

func TestDiskStoreLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := NewDiskStore(dir)
	require.NoError(t, err)

	_, err = s.Put(context.Background(), "one", strings.NewReader("data"))
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "one", entries[0].Name())
}

func TestNewDiskStoreRequiresDir(t *testing.T) {
	_, err := NewDiskStore("  ")
	assert.Error(t, err)
}
