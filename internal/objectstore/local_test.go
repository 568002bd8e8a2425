package objectstore

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUpload_WritesAndReturnsURL(t *testing.T) {
	dir := t.TempDir()
	l, err := NewLocal(dir, "avatars", "http://localhost:8080/", 0)
	require.NoError(t, err)

	url, err := l.Upload(context.Background(), "u1-abc.png", []byte("img"))
	require.NoError(t, err)
	require.Equal(t, "http://localhost:8080/storage/avatars/u1-abc.png", url)

	b, err := os.ReadFile(filepath.Join(dir, "avatars", "u1-abc.png"))
	require.NoError(t, err)
	require.Equal(t, "img", string(b))

	// overwrite
	_, err = l.Upload(context.Background(), "u1-abc.png", []byte("img2"))
	require.NoError(t, err)
	p, err := l.Open("u1-abc.png")
	require.NoError(t, err)
	b, err = os.ReadFile(p)
	require.NoError(t, err)
	require.Equal(t, "img2", string(b))
}

func TestUpload_RejectsBadNamesAndSize(t *testing.T) {
	l, err := NewLocal(t.TempDir(), "avatars", "http://x", 4)
	require.NoError(t, err)
	ctx := context.Background()

	for _, name := range []string{"", "..", "../etc/passwd", `a\b`, "a/b"} {
		_, err := l.Upload(ctx, name, []byte("x"))
		require.ErrorIs(t, err, ErrInvalidName, name)
	}
	_, err = l.Upload(ctx, "big.png", []byte("12345"))
	require.ErrorIs(t, err, ErrTooLarge)
}

func TestOpen_Missing(t *testing.T) {
	l, err := NewLocal(t.TempDir(), "avatars", "http://x", 0)
	require.NoError(t, err)
	_, err = l.Open("nope.png")
	require.True(t, errors.Is(err, fs.ErrNotExist))
}
