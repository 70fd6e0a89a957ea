package romexis

import (
	"context"
	"io"

	"github.com/Lllllllleong/imageexportflow/internal/models"
)

// Source is the read-only lookup surface of the archive. Each method may
// return an empty result; callers decide what empty means.
type Source interface {
	GetPersonData(ctx context.Context, externalID string) ([]models.PersonRow, error)
	GetImageIDs(ctx context.Context, personID string) ([]string, error)
	GetImageData(ctx context.Context, imageIDs []string) ([]models.ImageRecord, error)
}

// PayloadFetcher opens the binary payload of one image. The caller closes
// the returned reader.
type PayloadFetcher interface {
	OpenPayload(ctx context.Context, image models.ImageRecord) (io.ReadCloser, error)
}

// Store is a data source that can also serve payloads.
type Store interface {
	Source
	PayloadFetcher
	Close() error
}

// orderByIDs returns records ordered as ids, dropping ids with no record.
func orderByIDs(ids []string, records []models.ImageRecord) []models.ImageRecord {
	byID := make(map[string]models.ImageRecord, len(records))
	for _, r := range records {
		byID[r.ImageID] = r
	}
	out := make([]models.ImageRecord, 0, len(records))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if r, ok := byID[id]; ok {
			out = append(out, r)
		}
	}
	return out
}
