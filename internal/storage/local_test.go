package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocal_SaveRemove(t *testing.T) {
	root := t.TempDir()
	store := NewLocal(root)
	ctx := context.Background()

	rel, err := store.Save(ctx, "../../etc/passwd", strings.NewReader("log line"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(rel, "attachments/"))
	assert.Equal(t, "passwd", DisplayName(rel))

	body, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	require.NoError(t, err)
	assert.Equal(t, "log line", string(body))

	require.NoError(t, store.Remove(ctx, rel))
	require.NoError(t, store.Remove(ctx, rel))
	_, err = os.Stat(filepath.Join(root, filepath.FromSlash(rel)))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLocal_SaveHonoursCancelledContext(t *testing.T) {
	store := NewLocal(t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.Save(ctx, "a.txt", strings.NewReader("x"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "report.pdf", DisplayName("attachments/6f1c1b8e-9c1a-4f4e-9a55-2b1f0c9d7e11-report.pdf"))
	assert.Equal(t, "plain.txt", DisplayName("attachments/plain.txt"))
	assert.Equal(t, "file", cleanName(".."))
}
