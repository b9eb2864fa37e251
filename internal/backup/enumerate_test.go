package backup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edvin/photovault/internal/model"
)

func collectCandidates(t *testing.T, root string, cfg *model.BackupConfiguration) []Candidate {
	t.Helper()
	e := NewEnumerator(root, cfg, zerolog.Nop())
	var out []Candidate
	require.NoError(t, e.Walk(context.Background(), func(c Candidate) error {
		out = append(out, c)
		return nil
	}))
	return out
}

func candidatePaths(cs []Candidate) []string {
	paths := make([]string, len(cs))
	for i, c := range cs {
		paths[i] = c.RelPath
	}
	return paths
}

func TestEnumeratorWalksAllAreas(t *testing.T) {
	root := t.TempDir()
	writeStorageFile(t, root, "events/active/event1/photo1.jpg", "active photo")
	writeStorageFile(t, root, "events/archived/event0/old.jpg", "archived photo")
	writeStorageFile(t, root, "thumbnails/event1/photo1_thumb.jpg", "thumb")
	writeStorageFile(t, root, "uploads/pending.jpg", "pending")

	cfg := &model.BackupConfiguration{IncludeArchived: true}
	paths := candidatePaths(collectCandidates(t, root, cfg))

	assert.ElementsMatch(t, []string{
		"events/active/event1/photo1.jpg",
		"events/archived/event0/old.jpg",
		"thumbnails/event1/photo1_thumb.jpg",
		"uploads/pending.jpg",
	}, paths)
}

func TestEnumeratorSkipsArchivedWhenExcluded(t *testing.T) {
	root := t.TempDir()
	writeStorageFile(t, root, "events/active/event1/photo1.jpg", "active photo")
	writeStorageFile(t, root, "events/archived/event0/old.jpg", "archived photo")

	cfg := &model.BackupConfiguration{IncludeArchived: false}
	paths := candidatePaths(collectCandidates(t, root, cfg))

	assert.Equal(t, []string{"events/active/event1/photo1.jpg"}, paths)
}

func TestEnumeratorSkipsOversizedFiles(t *testing.T) {
	root := t.TempDir()
	writeStorageFile(t, root, "events/active/event1/small.jpg", "small")
	big := make([]byte, 2*1024*1024)
	abs := filepath.Join(root, "events", "active", "event1", "big.mp4")
	require.NoError(t, os.WriteFile(abs, big, 0o644))

	cfg := &model.BackupConfiguration{MaxFileSizeMB: 1}
	paths := candidatePaths(collectCandidates(t, root, cfg))

	assert.Equal(t, []string{"events/active/event1/small.jpg"}, paths)
}

func TestEnumeratorZeroMaxSizeMeansUnlimited(t *testing.T) {
	root := t.TempDir()
	big := make([]byte, 2*1024*1024)
	abs := filepath.Join(root, "events", "active", "big.mp4")
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, big, 0o644))

	cfg := &model.BackupConfiguration{MaxFileSizeMB: 0}
	paths := candidatePaths(collectCandidates(t, root, cfg))

	assert.Equal(t, []string{"events/active/big.mp4"}, paths)
}

func TestEnumeratorToleratesMissingAreas(t *testing.T) {
	root := t.TempDir()
	writeStorageFile(t, root, "events/active/event1/photo1.jpg", "only area present")

	cfg := &model.BackupConfiguration{IncludeArchived: true}
	paths := candidatePaths(collectCandidates(t, root, cfg))

	assert.Equal(t, []string{"events/active/event1/photo1.jpg"}, paths)
}

func TestEnumeratorComputesChecksumAndSize(t *testing.T) {
	root := t.TempDir()
	content := "0123456789abcd"
	writeStorageFile(t, root, "uploads/photo.jpg", content)

	cs := collectCandidates(t, root, &model.BackupConfiguration{})
	require.Len(t, cs, 1)

	sum := sha256.Sum256([]byte(content))
	assert.Equal(t, hex.EncodeToString(sum[:]), cs[0].Checksum)
	assert.Equal(t, int64(len(content)), cs[0].Size)
	assert.Equal(t, filepath.Join(root, "uploads", "photo.jpg"), cs[0].AbsPath)
}

func TestFileChecksumMissingFile(t *testing.T) {
	_, err := FileChecksum(filepath.Join(t.TempDir(), "nope.jpg"))
	assert.Error(t, err)
}
