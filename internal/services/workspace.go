package services

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/gofrs/flock"
)

const stageWorkspace = "workspace"

var validSubjectKey = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// removeWorkspace deletes a reclaimed workspace tree.
var removeWorkspace = os.RemoveAll

// Workspace is the directory tree one run owns under the shared temp root:
// Dir holds the archives, ImageDir the exported payloads. Ownership is held
// through a file lock next to Dir until Reclaim.
type Workspace struct {
	Root     string
	Dir      string
	ImageDir string

	lock      *flock.Flock
	reclaimed bool
}

// workspaceLockPath names the lock of a subject directory. The lock file is
// named by hash so it never carries the CPR number, and it is left in place
// after unlocking: removing a flock file races with a run that has just
// opened it.
func workspaceLockPath(root, name string) string {
	sum := sha256.Sum256([]byte(name))
	return filepath.Join(root, ".lock-"+hex.EncodeToString(sum[:8]))
}

// AcquireWorkspace locks and prepares the workspace of subjectKey under
// root. A leftover tree from an earlier run of the same subject is removed.
// ErrWorkspaceBusy is returned while another run holds the subject.
func AcquireWorkspace(root, subjectKey string) (*Workspace, error) {
	if !validSubjectKey.MatchString(subjectKey) {
		return nil, Wrap(ErrInvalidRequest, stageWorkspace, "subject key cannot name a directory", nil)
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, Wrap(ErrCleanupFailed, stageWorkspace, "create temp root", err)
	}

	lock := flock.New(workspaceLockPath(root, subjectKey))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, Wrap(ErrWorkspaceBusy, stageWorkspace, "acquire workspace lock", err)
	}
	if !ok {
		return nil, Wrap(ErrWorkspaceBusy, stageWorkspace, "another run is exporting this subject", nil)
	}

	ws := &Workspace{
		Root:     root,
		Dir:      filepath.Join(root, subjectKey),
		ImageDir: filepath.Join(root, subjectKey, "img"),
		lock:     lock,
	}
	if err := os.RemoveAll(ws.Dir); err != nil {
		_ = lock.Unlock()
		return nil, Wrap(ErrCleanupFailed, stageWorkspace, "clear leftover workspace", workspaceRelative(err, ws.Dir))
	}
	if err := os.MkdirAll(ws.ImageDir, 0o750); err != nil {
		_ = lock.Unlock()
		return nil, Wrap(ErrCleanupFailed, stageWorkspace, "create workspace", workspaceRelative(err, ws.Dir))
	}
	return ws, nil
}

// Reclaim removes the run's own subject directory and releases the lock.
// Nothing else under the root is touched. Calling it again is a no-op.
func (w *Workspace) Reclaim(logCtx *slog.Logger) error {
	if w == nil || w.reclaimed {
		return nil
	}
	w.reclaimed = true

	removeErr := removeWorkspace(w.Dir)
	unlockErr := w.lock.Unlock()
	if err := workspaceRelative(errors.Join(removeErr, unlockErr), w.Dir); err != nil {
		logCtx.Error("Failed to reclaim workspace.", "error", err)
		return Wrap(ErrCleanupFailed, stageWorkspace, "reclaim workspace", err)
	}
	logCtx.Info("Workspace reclaimed.")
	return nil
}

// SweepResult lists what a stale sweep removed and what it could not.
type SweepResult struct {
	Removed []string
	Skipped []string
	Errors  []error
}

// SweepStale removes subject directories under root that are older than
// maxAge and not locked by a running export. Failures are logged and
// collected; they never fail the caller's run.
func SweepStale(logCtx *slog.Logger, root string, maxAge time.Duration) SweepResult {
	var result SweepResult
	root = strings.TrimSpace(root)
	if root == "" || maxAge <= 0 {
		return result
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		if !os.IsNotExist(err) {
			result.Errors = append(result.Errors, err)
			logCtx.Warn("Failed to list temp root for stale workspaces.", "error", err)
		}
		return result
	}

	cutoff := time.Now().Add(-maxAge)
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		dirPath := filepath.Join(root, entry.Name())
		info, err := entry.Info()
		if err != nil {
			result.Errors = append(result.Errors, err)
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}

		lock := flock.New(workspaceLockPath(root, entry.Name()))
		ok, err := lock.TryLock()
		if err != nil || !ok {
			result.Skipped = append(result.Skipped, dirPath)
			continue
		}
		if err := os.RemoveAll(dirPath); err != nil {
			err = workspaceRelative(err, dirPath)
			result.Errors = append(result.Errors, err)
			logCtx.Warn("Failed to remove stale workspace.", "workspace", MaskSubject(entry.Name()), "error", err)
		} else {
			result.Removed = append(result.Removed, dirPath)
			logCtx.Info("Removed stale workspace.", "age", time.Since(info.ModTime()).Round(time.Second).String())
		}
		_ = lock.Unlock()
	}
	return result
}
