package destination

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocal(t *testing.T) (*Local, string) {
	t.Helper()
	root := t.TempDir()
	return NewLocal(root, zerolog.Nop()), root
}

func TestLocal_TestConnection(t *testing.T) {
	d, _ := newTestLocal(t)
	require.NoError(t, d.TestConnection(context.Background()))
}

func TestLocal_TestConnection_CreatesRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nested", "backups")
	d := NewLocal(root, zerolog.Nop())

	require.NoError(t, d.TestConnection(context.Background()))
	info, err := os.Stat(root)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestLocal_UploadAndExists(t *testing.T) {
	d, root := newTestLocal(t)
	ctx := context.Background()

	src := filepath.Join(t.TempDir(), "photo1.jpg")
	require.NoError(t, os.WriteFile(src, []byte("jpeg-bytes-here"), 0o644))

	key := "events/active/event1/photo1.jpg"
	require.NoError(t, d.Upload(ctx, src, key))

	// Relative path preserved under the destination root.
	copied, err := os.ReadFile(filepath.Join(root, "events", "active", "event1", "photo1.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "jpeg-bytes-here", string(copied))

	exists, err := d.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = d.Exists(ctx, "events/active/event1/missing.jpg")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestLocal_Upload_MissingSource(t *testing.T) {
	d, _ := newTestLocal(t)

	err := d.Upload(context.Background(), "/nonexistent/file.jpg", "uploads/file.jpg")
	require.Error(t, err)
}

func TestLocal_UploadStream(t *testing.T) {
	d, _ := newTestLocal(t)
	ctx := context.Background()

	content := `{"version":"2.0"}`
	require.NoError(t, d.UploadStream(ctx, "manifests/backup-1.json", strings.NewReader(content), int64(len(content))))

	rc, err := d.Download(ctx, "manifests/backup-1.json")
	require.NoError(t, err)
	defer rc.Close()

	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, content, string(got))
}

func TestLocal_Delete(t *testing.T) {
	d, _ := newTestLocal(t)
	ctx := context.Background()

	require.NoError(t, d.UploadStream(ctx, "thumbnails/thumb1.jpg", strings.NewReader("x"), 1))
	require.NoError(t, d.Delete(ctx, "thumbnails/thumb1.jpg"))

	exists, err := d.Exists(ctx, "thumbnails/thumb1.jpg")
	require.NoError(t, err)
	assert.False(t, exists)

	// Deleting a missing key is not an error.
	require.NoError(t, d.Delete(ctx, "thumbnails/thumb1.jpg"))
}

func TestLocal_List(t *testing.T) {
	d, _ := newTestLocal(t)
	ctx := context.Background()

	require.NoError(t, d.UploadStream(ctx, "manifests/backup-1.json", strings.NewReader("aa"), 2))
	require.NoError(t, d.UploadStream(ctx, "manifests/backup-2.json", strings.NewReader("bbbb"), 4))
	require.NoError(t, d.UploadStream(ctx, "uploads/banner.png", strings.NewReader("c"), 1))

	objects, err := d.List(ctx, "manifests")
	require.NoError(t, err)
	require.Len(t, objects, 2)

	keys := []string{objects[0].Key, objects[1].Key}
	assert.Contains(t, keys, "manifests/backup-1.json")
	assert.Contains(t, keys, "manifests/backup-2.json")
}

func TestLocal_List_MissingPrefix(t *testing.T) {
	d, _ := newTestLocal(t)

	objects, err := d.List(context.Background(), "nothing-here")
	require.NoError(t, err)
	assert.Empty(t, objects)
}

func TestLocal_URI(t *testing.T) {
	d, root := newTestLocal(t)
	assert.Equal(t, filepath.Join(root, "manifests", "backup-1.json"), d.URI("manifests/backup-1.json"))
}
