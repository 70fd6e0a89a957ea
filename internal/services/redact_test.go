package services

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubjectRedactorMasksLogRecords(t *testing.T) {
	var buf bytes.Buffer
	r := newSubjectRedactor("1234567890")
	logCtx := r.Logger(slog.New(slog.NewJSONHandler(&buf, nil))).With("archive", "1234567890_Anne.zip")

	pathErr := &fs.PathError{Op: "remove", Path: "/tmp/romexis-export/1234567890/img", Err: fs.ErrPermission}
	logCtx.WithGroup("part").Error("Could not send 1234567890_Anne.zip.",
		"error", pathErr,
		"files", []string{"1234567890_Anne_part01.zip"},
		slog.Group("attachment", "name", "1234567890_Anne_part02.zip"))

	out := buf.String()
	assert.NotContains(t, out, "1234567890")
	assert.Contains(t, out, "123456****_Anne.zip")
	assert.Contains(t, out, "/tmp/romexis-export/123456****/img")
	assert.Contains(t, out, "123456****_Anne_part02.zip")
}

func TestSubjectRedactorKeepsErrorChain(t *testing.T) {
	r := newSubjectRedactor("1234567890")
	cause := &fs.PathError{Op: "mkdir", Path: "/tmp/1234567890/img", Err: fs.ErrExist}
	err := r.Error(errors.Join(Wrap(ErrNotFound, "resolve", "no person", nil), Wrap(ErrCleanupFailed, "workspace", "reclaim", cause)))

	assert.NotContains(t, err.Error(), "1234567890")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, ErrCleanupFailed)
	assert.ErrorIs(t, err, fs.ErrExist)
	assert.Equal(t, "NotFound", Kind(err))

	var pathErr *fs.PathError
	require.ErrorAs(t, err, &pathErr)
}

func TestReplaceInErrorLeavesUnrelatedErrors(t *testing.T) {
	err := fmt.Errorf("relay down")
	assert.Same(t, err, replaceInError(err, "1234567890", "<workspace>"))
	assert.NoError(t, replaceInError(nil, "1234567890", "<workspace>"))
	assert.Same(t, err, newSubjectRedactor("").Error(err))
}
