package services

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds produced by the export pipeline. Every error returned by a
// stage wraps exactly one of these so callers can use errors.Is.
var (
	ErrInvalidRequest  = errors.New("invalid request")
	ErrNotFound        = errors.New("not found")
	ErrDataSource      = errors.New("data source failure")
	ErrWorkspaceBusy   = errors.New("workspace busy")
	ErrExportFailed    = errors.New("export failed")
	ErrPackagingFailed = errors.New("packaging failed")
	ErrInvalidDelivery = errors.New("invalid delivery")
	ErrTransportFailed = errors.New("transport failed")
	ErrCleanupFailed   = errors.New("cleanup failed")
)

var kindNames = []struct {
	kind error
	name string
}{
	{ErrInvalidRequest, "InvalidRequest"},
	{ErrNotFound, "NotFound"},
	{ErrDataSource, "DataSource"},
	{ErrWorkspaceBusy, "WorkspaceBusy"},
	{ErrExportFailed, "ExportFailed"},
	{ErrPackagingFailed, "PackagingFailed"},
	{ErrInvalidDelivery, "InvalidDelivery"},
	{ErrTransportFailed, "TransportFailed"},
	{ErrCleanupFailed, "CleanupFailed"},
}

// Wrap tags err with kind and the stage that produced it. err may be nil.
func Wrap(kind error, stage, message string, err error) error {
	detail := stage
	if message = strings.TrimSpace(message); message != "" {
		detail = stage + ": " + message
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", kind, detail, err)
	}
	return fmt.Errorf("%w: %s", kind, detail)
}

// Kind returns the name of the pipeline error kind err carries, or
// "Unknown". For joined errors the first member decides.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	if r, ok := err.(*redactedError); ok {
		return Kind(r.err)
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		if errs := joined.Unwrap(); len(errs) > 0 {
			return Kind(errs[0])
		}
	}
	for _, k := range kindNames {
		if errors.Is(err, k.kind) {
			return k.name
		}
	}
	return "Unknown"
}
