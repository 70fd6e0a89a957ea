package services

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/imageexportflow/internal/testsupport"
)

func listNames(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

func TestSanitizeRemovesIntermediateFilesOnly(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.png", "a.img", "b.jpg", "b.jpg.part", "c.IMG", "d.tmp"} {
		testsupport.WriteFile(t, filepath.Join(dir, name), 8)
	}
	testsupport.WriteFile(t, filepath.Join(dir, "nested", "x.img"), 8)

	removed := Sanitize(discardLogger(), dir)
	assert.Len(t, removed, 4)
	assert.Equal(t, []string{"a.png", "b.jpg", "nested"}, listNames(t, dir))
	assert.FileExists(t, filepath.Join(dir, "nested", "x.img"))
}

func TestSanitizeIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	testsupport.WriteFile(t, filepath.Join(dir, "a.png"), 8)
	testsupport.WriteFile(t, filepath.Join(dir, "a.img"), 8)

	Sanitize(discardLogger(), dir)
	once := listNames(t, dir)
	assert.Empty(t, Sanitize(discardLogger(), dir))
	assert.Equal(t, once, listNames(t, dir))
}

func TestSanitizeMissingDirIsNotFatal(t *testing.T) {
	assert.Empty(t, Sanitize(discardLogger(), filepath.Join(t.TempDir(), "missing")))
}
