package services

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/zip"
)

const (
	stagePackage = "package"

	// DefaultArchiveCeiling is the largest archive attached to a single email.
	DefaultArchiveCeiling int64 = 50 * 1000 * 1000

	// Zip container bytes per entry beyond the name: local header, data
	// descriptor, central directory record and the timestamp extras.
	zipEntryOverhead = 128
	// End of central directory record plus margin.
	zipArchiveOverhead = 64
)

// storedExtensions are already compressed; deflating them only costs CPU.
var storedExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true,
	".jp2": true, ".j2k": true, ".heic": true, ".zip": true, ".mp4": true,
}

// ArchiveDescriptor locates the packaged output. A single archive has Path
// pointing at the zip file and one part; a split archive has Path pointing
// at the directory holding the parts, listed in delivery order.
type ArchiveDescriptor struct {
	Path  string
	Parts []string
}

// IsSplit reports whether the content was spread over several archives.
func (d ArchiveDescriptor) IsSplit() bool { return len(d.Parts) > 1 }

// DescribeArchive builds a descriptor from disk: a zip file is a single
// archive, a directory is a split archive whose parts are its *.zip files
// in name order.
func DescribeArchive(path string) (ArchiveDescriptor, error) {
	info, err := os.Stat(path)
	if err != nil {
		return ArchiveDescriptor{}, err
	}
	if !info.IsDir() {
		return ArchiveDescriptor{Path: path, Parts: []string{path}}, nil
	}
	parts, err := filepath.Glob(filepath.Join(path, "*.zip"))
	if err != nil {
		return ArchiveDescriptor{}, err
	}
	if len(parts) == 0 {
		return ArchiveDescriptor{}, fmt.Errorf("no archive parts in %s", path)
	}
	sort.Strings(parts)
	return ArchiveDescriptor{Path: path, Parts: parts}, nil
}

type packEntry struct {
	name    string
	path    string
	size    int64
	cost    int64
	method  uint16
	modTime time.Time
}

// Packager zips a sanitized workspace into archives no larger than ceiling.
type Packager struct {
	ceiling int64
}

// NewPackager returns a packager for the given ceiling in bytes.
func NewPackager(ceiling int64) *Packager {
	if ceiling <= 0 {
		ceiling = DefaultArchiveCeiling
	}
	return &Packager{ceiling: ceiling}
}

// Package archives the files directly inside sourceDir into destDir. When
// everything fits under the ceiling one archive {base}.zip is written;
// otherwise files are assigned greedily, in name order, to parts written as
// {base}/{base}_partNN.zip. A file is never split across parts. The
// ceiling bounds each archive file, zip headers included, not the raw
// payload, so files adding up to exactly the ceiling are split.
func (p *Packager) Package(logCtx *slog.Logger, sourceDir, destDir, subjectKey, personName string) (ArchiveDescriptor, error) {
	entries, err := listPackEntries(sourceDir)
	if err != nil {
		return ArchiveDescriptor{}, Wrap(ErrPackagingFailed, stagePackage, "list workspace", err)
	}
	if len(entries) == 0 {
		return ArchiveDescriptor{}, Wrap(ErrPackagingFailed, stagePackage, "no files to archive", nil)
	}

	base := ArchiveBaseName(subjectKey, personName)
	total := int64(zipArchiveOverhead)
	var payload int64
	for _, e := range entries {
		total += e.cost
		payload += e.size
	}
	logCtx.Info("Packaging workspace.", "files", len(entries), "payloadSize", humanize.Bytes(uint64(payload)),
		"ceiling", humanize.Bytes(uint64(p.ceiling)))

	if total <= p.ceiling {
		archivePath := filepath.Join(destDir, base+".zip")
		if err := p.writeArchive(archivePath, entries); err != nil {
			return ArchiveDescriptor{}, err
		}
		logCtx.Info("Created single archive.", "archive", filepath.Base(archivePath))
		return ArchiveDescriptor{Path: archivePath, Parts: []string{archivePath}}, nil
	}

	groups, err := p.split(entries)
	if err != nil {
		return ArchiveDescriptor{}, err
	}
	partsDir := filepath.Join(destDir, base)
	if err := os.RemoveAll(partsDir); err != nil {
		return ArchiveDescriptor{}, Wrap(ErrPackagingFailed, stagePackage, "clear parts directory", err)
	}
	if err := os.MkdirAll(partsDir, 0o750); err != nil {
		return ArchiveDescriptor{}, Wrap(ErrPackagingFailed, stagePackage, "create parts directory", err)
	}
	width := len(strconv.Itoa(len(groups)))
	if width < 2 {
		width = 2
	}
	for i, group := range groups {
		partPath := filepath.Join(partsDir, fmt.Sprintf("%s_part%0*d.zip", base, width, i+1))
		if err := p.writeArchive(partPath, group); err != nil {
			return ArchiveDescriptor{}, err
		}
	}

	desc, err := DescribeArchive(partsDir)
	if err != nil {
		return ArchiveDescriptor{}, Wrap(ErrPackagingFailed, stagePackage, "list archive parts", err)
	}
	if len(desc.Parts) != len(groups) {
		return ArchiveDescriptor{}, Wrap(ErrPackagingFailed, stagePackage,
			fmt.Sprintf("expected %d archive parts, found %d", len(groups), len(desc.Parts)), nil)
	}
	logCtx.Info("Content exceeded the ceiling; created split archive.", "parts", len(desc.Parts))
	return desc, nil
}

// split assigns entries to groups in order, opening a new group whenever the
// next file would push the current one over the ceiling.
func (p *Packager) split(entries []packEntry) ([][]packEntry, error) {
	var (
		groups  [][]packEntry
		current []packEntry
		used    int64 = zipArchiveOverhead
	)
	for _, e := range entries {
		if zipArchiveOverhead+e.cost > p.ceiling {
			return nil, Wrap(ErrPackagingFailed, stagePackage,
				fmt.Sprintf("%s (%s) does not fit in one archive of %s", e.name, humanize.Bytes(uint64(e.size)), humanize.Bytes(uint64(p.ceiling))), nil)
		}
		if len(current) > 0 && used+e.cost > p.ceiling {
			groups = append(groups, current)
			current = nil
			used = zipArchiveOverhead
		}
		current = append(current, e)
		used += e.cost
	}
	if len(current) > 0 {
		groups = append(groups, current)
	}
	return groups, nil
}

func (p *Packager) writeArchive(archivePath string, entries []packEntry) error {
	tmpPath := archivePath + partialSuffix
	if err := writeZip(tmpPath, entries); err != nil {
		_ = os.Remove(tmpPath)
		return Wrap(ErrPackagingFailed, stagePackage, "write "+filepath.Base(archivePath), err)
	}
	info, err := os.Stat(tmpPath)
	if err != nil {
		_ = os.Remove(tmpPath)
		return Wrap(ErrPackagingFailed, stagePackage, "stat archive", err)
	}
	if info.Size() > p.ceiling {
		_ = os.Remove(tmpPath)
		return Wrap(ErrPackagingFailed, stagePackage,
			fmt.Sprintf("%s is %d bytes, above the ceiling of %d", filepath.Base(archivePath), info.Size(), p.ceiling), nil)
	}
	if err := os.Rename(tmpPath, archivePath); err != nil {
		_ = os.Remove(tmpPath)
		return Wrap(ErrPackagingFailed, stagePackage, "finalize archive", err)
	}
	return nil
}

func writeZip(path string, entries []packEntry) (err error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	zw := zip.NewWriter(f)
	for _, e := range entries {
		if err := addZipEntry(zw, e); err != nil {
			_ = zw.Close()
			return err
		}
	}
	return zw.Close()
}

func addZipEntry(zw *zip.Writer, e packEntry) error {
	w, err := zw.CreateHeader(&zip.FileHeader{
		Name:     e.name,
		Method:   e.method,
		Modified: e.modTime,
	})
	if err != nil {
		return fmt.Errorf("add %s: %w", e.name, err)
	}
	src, err := os.Open(e.path)
	if err != nil {
		return err
	}
	defer src.Close()
	n, err := io.Copy(w, src)
	if err != nil {
		return fmt.Errorf("copy %s: %w", e.name, err)
	}
	if n != e.size {
		return fmt.Errorf("%s changed size while archiving (%d != %d)", e.name, n, e.size)
	}
	return nil
}

func listPackEntries(dir string) ([]packEntry, error) {
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var entries []packEntry
	for _, de := range dirEntries {
		if !de.Type().IsRegular() || IsIntermediateArtifact(de.Name()) {
			continue
		}
		info, err := de.Info()
		if err != nil {
			return nil, err
		}
		method := zip.Deflate
		cost := info.Size() + int64(zipEntryOverhead+2*len(de.Name()))
		if storedExtensions[strings.ToLower(filepath.Ext(de.Name()))] {
			method = zip.Store
		} else {
			cost += info.Size()/100 + 64
		}
		entries = append(entries, packEntry{
			name:    de.Name(),
			path:    filepath.Join(dir, de.Name()),
			size:    info.Size(),
			cost:    cost,
			method:  method,
			modTime: info.ModTime(),
		})
	}
	// os.ReadDir already sorts by name; keep the order explicit.
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].name < entries[j].name })
	return entries, nil
}

var unsafeNameChars = regexp.MustCompile(`[^\p{L}\p{N}]+`)

// ArchiveBaseName is the archive name without extension for a subject and
// person, e.g. "1234567890_Anne_Hansen".
func ArchiveBaseName(subjectKey, personName string) string {
	parts := []string{}
	for _, s := range []string{subjectKey, personName} {
		if s = strings.Trim(unsafeNameChars.ReplaceAllString(s, "_"), "_"); s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		return "billeder"
	}
	return strings.Join(parts, "_")
}
