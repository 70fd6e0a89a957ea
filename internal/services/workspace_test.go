package services

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/imageexportflow/internal/testsupport"
)

func TestAcquireWorkspaceCreatesLayout(t *testing.T) {
	root := filepath.Join(t.TempDir(), "romexis-export")
	ws, err := AcquireWorkspace(root, "1234567890")
	require.NoError(t, err)
	defer ws.Reclaim(discardLogger())

	assert.Equal(t, filepath.Join(root, "1234567890"), ws.Dir)
	assert.Equal(t, filepath.Join(root, "1234567890", "img"), ws.ImageDir)
	assert.DirExists(t, ws.ImageDir)
}

func TestAcquireWorkspaceClearsLeftovers(t *testing.T) {
	root := t.TempDir()
	testsupport.WriteFile(t, filepath.Join(root, "1234567890", "img", "old.png"), 10)

	ws, err := AcquireWorkspace(root, "1234567890")
	require.NoError(t, err)
	defer ws.Reclaim(discardLogger())
	assert.NoFileExists(t, filepath.Join(ws.ImageDir, "old.png"))
}

func TestAcquireWorkspaceIsExclusivePerSubject(t *testing.T) {
	root := t.TempDir()
	first, err := AcquireWorkspace(root, "1234567890")
	require.NoError(t, err)

	_, err = AcquireWorkspace(root, "1234567890")
	assert.ErrorIs(t, err, ErrWorkspaceBusy)

	other, err := AcquireWorkspace(root, "0987654321")
	require.NoError(t, err, "a different subject is independent")
	require.NoError(t, other.Reclaim(discardLogger()))

	require.NoError(t, first.Reclaim(discardLogger()))
	again, err := AcquireWorkspace(root, "1234567890")
	require.NoError(t, err)
	require.NoError(t, again.Reclaim(discardLogger()))
}

func TestAcquireWorkspaceRejectsPathLikeKeys(t *testing.T) {
	for _, key := range []string{"", "..", "a/b", "12 34"} {
		_, err := AcquireWorkspace(t.TempDir(), key)
		assert.ErrorIs(t, err, ErrInvalidRequest, key)
	}
}

func TestReclaimRemovesOnlyOwnSubject(t *testing.T) {
	root := t.TempDir()
	ws, err := AcquireWorkspace(root, "1234567890")
	require.NoError(t, err)
	testsupport.WriteFile(t, filepath.Join(ws.ImageDir, "a.png"), 10)

	neighbour, err := AcquireWorkspace(root, "0987654321")
	require.NoError(t, err)
	testsupport.WriteFile(t, filepath.Join(neighbour.ImageDir, "b.png"), 10)

	require.NoError(t, ws.Reclaim(discardLogger()))
	assert.NoDirExists(t, ws.Dir)
	assert.FileExists(t, filepath.Join(neighbour.ImageDir, "b.png"))

	require.NoError(t, ws.Reclaim(discardLogger()), "second reclaim is a no-op")
	require.NoError(t, neighbour.Reclaim(discardLogger()))
}

func TestSweepStale(t *testing.T) {
	root := t.TempDir()
	old := time.Now().Add(-48 * time.Hour)

	stale := filepath.Join(root, "1111111111")
	testsupport.WriteFile(t, filepath.Join(stale, "img", "a.png"), 10)
	require.NoError(t, os.Chtimes(stale, old, old))

	fresh := filepath.Join(root, "2222222222")
	testsupport.WriteFile(t, filepath.Join(fresh, "img", "b.png"), 10)

	busy, err := AcquireWorkspace(root, "3333333333")
	require.NoError(t, err)
	defer busy.Reclaim(discardLogger())
	require.NoError(t, os.Chtimes(busy.Dir, old, old))

	result := SweepStale(discardLogger(), root, 24*time.Hour)
	assert.Equal(t, []string{stale}, result.Removed)
	assert.Equal(t, []string{busy.Dir}, result.Skipped)
	assert.Empty(t, result.Errors)
	assert.NoDirExists(t, stale)
	assert.DirExists(t, fresh)
	assert.DirExists(t, busy.ImageDir)
}

func TestSweepStaleMissingRoot(t *testing.T) {
	result := SweepStale(discardLogger(), filepath.Join(t.TempDir(), "absent"), time.Hour)
	assert.Empty(t, result.Removed)
	assert.Empty(t, result.Errors)
}

func TestReclaimKeepsHashedLockFile(t *testing.T) {
	root := t.TempDir()
	ws, err := AcquireWorkspace(root, "1234567890")
	require.NoError(t, err)
	require.NoError(t, ws.Reclaim(discardLogger()))

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	require.Len(t, entries, 1, "only the lock file is left")
	assert.Equal(t, filepath.Base(workspaceLockPath(root, "1234567890")), entries[0].Name())
	assert.NotContains(t, entries[0].Name(), "1234567890")
	assert.Len(t, entries[0].Name(), len(".lock-")+16)
}
