package services

import (
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// intermediateExtensions mark working files that are never delivered:
// Romexis raw .img files and interrupted writes.
var intermediateExtensions = []string{".img", partialSuffix, ".tmp"}

// IsIntermediateArtifact reports whether name is a non-deliverable working file.
func IsIntermediateArtifact(name string) bool {
	return slices.Contains(intermediateExtensions, strings.ToLower(filepath.Ext(name)))
}

// Sanitize removes intermediate artifacts from the top level of dir and
// returns the paths it removed. Subdirectories are left alone. A file that
// cannot be removed is logged and skipped.
func Sanitize(logCtx *slog.Logger, dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		logCtx.Warn("Could not list workspace for sanitizing.", "error", err)
		return nil
	}

	var removed []string
	for _, entry := range entries {
		if entry.IsDir() || !IsIntermediateArtifact(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logCtx.Warn("Failed to remove intermediate file.", "file", entry.Name(), "error", err)
			continue
		}
		removed = append(removed, path)
	}
	if len(removed) > 0 {
		logCtx.Info("Removed intermediate files from workspace.", "count", len(removed))
	}
	return removed
}
