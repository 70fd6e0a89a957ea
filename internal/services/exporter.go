package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/Lllllllleong/imageexportflow/internal/models"
	"github.com/Lllllllleong/imageexportflow/internal/romexis"
)

const (
	stageExport = "export"

	// DefaultExportWorkers bounds simultaneous payload fetches against the archive.
	DefaultExportWorkers = 5

	partialSuffix = ".part"
)

// ExportOutcome is the result of exporting one image: either a file in the
// workspace or the reason it is missing.
type ExportOutcome struct {
	Image models.ImageRecord
	Path  string
	Size  int64
	Err   error
}

// OK reports whether the image was written.
func (o ExportOutcome) OK() bool { return o.Err == nil }

// Exporter copies image payloads into a workspace directory with a bounded
// number of concurrent fetches.
type Exporter struct {
	fetcher romexis.PayloadFetcher
	workers int
}

// NewExporter returns an exporter using at most workers concurrent fetches.
func NewExporter(fetcher romexis.PayloadFetcher, workers int) *Exporter {
	if workers <= 0 {
		workers = DefaultExportWorkers
	}
	return &Exporter{fetcher: fetcher, workers: workers}
}

// Export writes every image's payload into dir and returns one outcome per
// image, in the order of images. A failing image never stops the others.
func (e *Exporter) Export(ctx context.Context, logCtx *slog.Logger, images []models.ImageRecord, dir string) []ExportOutcome {
	logCtx.Info("Starting concurrent export of images.", "imageCount", len(images), "workers", e.workers)
	outcomes := make([]ExportOutcome, len(images))

	// Path errors name the subject directory above dir; keep it out of them.
	subjectDir := filepath.Dir(dir)
	if subjectDir == "." || subjectDir == string(filepath.Separator) {
		subjectDir = ""
	}

	var eg errgroup.Group
	eg.SetLimit(e.workers)
	for i, image := range images {
		eg.Go(func() error {
			outcomes[i] = e.exportOne(ctx, image, dir)
			outcomes[i].Err = workspaceRelative(outcomes[i].Err, subjectDir)
			if err := outcomes[i].Err; err != nil {
				logCtx.Warn("Image export failed.", "imageId", image.ImageID, "error", err)
			}
			return nil
		})
	}
	_ = eg.Wait()
	return outcomes
}

func (e *Exporter) exportOne(ctx context.Context, image models.ImageRecord, dir string) ExportOutcome {
	outcome := ExportOutcome{Image: image}
	if err := ctx.Err(); err != nil {
		outcome.Err = err
		return outcome
	}
	name := ExportFileName(image)
	if IsIntermediateArtifact(name) {
		outcome.Err = fmt.Errorf("image %s has non-deliverable format %q", image.ImageID, image.Format)
		return outcome
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		outcome.Err = fmt.Errorf("create export dir: %w", err)
		return outcome
	}

	payload, err := e.fetcher.OpenPayload(ctx, image)
	if err != nil {
		outcome.Err = fmt.Errorf("fetch payload for image %s: %w", image.ImageID, err)
		return outcome
	}
	defer payload.Close()

	finalPath := filepath.Join(dir, name)
	size, err := writeAtomically(finalPath, payload)
	if err != nil {
		outcome.Err = fmt.Errorf("write image %s: %w", image.ImageID, err)
		return outcome
	}
	outcome.Path = finalPath
	outcome.Size = size
	return outcome
}

// writeAtomically copies r into path via a .part sibling and a rename, so a
// reader never sees a half-written file and a rerun overwrites cleanly.
func writeAtomically(path string, r io.Reader) (int64, error) {
	tmpPath := path + partialSuffix
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return 0, err
	}
	n, copyErr := io.Copy(f, r)
	closeErr := f.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		_ = os.Remove(tmpPath)
		return 0, err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return 0, err
	}
	return n, nil
}

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// ExportFileName derives the workspace file name of an image from its id
// and format. The same record always maps to the same name; ids that need
// rewriting get a hash suffix so two ids never share a name.
func ExportFileName(image models.ImageRecord) string {
	base := strings.Trim(unsafeFileChars.ReplaceAllString(image.ImageID, "_"), "._")
	if base != image.ImageID {
		sum := sha256.Sum256([]byte(image.ImageID))
		if base == "" {
			base = "image"
		}
		base += "-" + hex.EncodeToString(sum[:4])
	}
	ext := strings.ToLower(strings.Trim(unsafeFileChars.ReplaceAllString(image.Format, ""), "."))
	if ext == "" {
		ext = "bin"
	}
	return base + "." + ext
}

// ExportPolicy decides whether a partially failed export may continue.
type ExportPolicy struct {
	// MinSuccessFraction is the share of images that must export. Zero
	// means any single success is enough; no success always fails.
	MinSuccessFraction float64
}

// Evaluate returns the successful outcomes, or ErrExportFailed when too few
// images were exported.
func (p ExportPolicy) Evaluate(logCtx *slog.Logger, outcomes []ExportOutcome) ([]ExportOutcome, error) {
	if len(outcomes) == 0 {
		return nil, Wrap(ErrExportFailed, stageExport, "no images to export", nil)
	}

	var (
		succeeded []ExportOutcome
		failedIDs []string
		causes    []error
		total     int64
	)
	for _, o := range outcomes {
		if o.OK() {
			succeeded = append(succeeded, o)
			total += o.Size
			continue
		}
		failedIDs = append(failedIDs, o.Image.ImageID)
		causes = append(causes, o.Err)
	}

	if len(succeeded) == 0 {
		return nil, Wrap(ErrExportFailed, stageExport, fmt.Sprintf("all %d images failed", len(outcomes)), errors.Join(causes...))
	}
	fraction := float64(len(succeeded)) / float64(len(outcomes))
	if fraction < p.MinSuccessFraction {
		msg := fmt.Sprintf("%d of %d images exported, below required fraction %.2f", len(succeeded), len(outcomes), p.MinSuccessFraction)
		return nil, Wrap(ErrExportFailed, stageExport, msg, errors.Join(causes...))
	}
	if len(failedIDs) > 0 {
		logCtx.Warn("Continuing with partial export.",
			"exported", len(succeeded), "failed", len(failedIDs), "failedImageIds", failedIDs)
	}
	logCtx.Info("Export complete.", "exported", len(succeeded), "totalSize", humanize.Bytes(uint64(total)))
	return succeeded, nil
}
