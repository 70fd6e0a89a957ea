package testsupport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Lllllllleong/imageexportflow/internal/models"
)

// MemorySource is an in-memory romexis.Store.
type MemorySource struct {
	Persons  map[string][]models.PersonRow
	ImageIDs map[string][]string
	Images   map[string]models.ImageRecord
	Payloads map[string][]byte

	// PayloadErrs makes OpenPayload fail for the given image ids.
	PayloadErrs map[string]error
	// FetchDelay is slept inside OpenPayload to let workers overlap.
	FetchDelay time.Duration

	mu             sync.Mutex
	imageDataCalls int
	payloadCalls   int
	inFlight       atomic.Int32
	maxInFlight    atomic.Int32
}

// NewMemorySource returns an empty source.
func NewMemorySource() *MemorySource {
	return &MemorySource{
		Persons:     map[string][]models.PersonRow{},
		ImageIDs:    map[string][]string{},
		Images:      map[string]models.ImageRecord{},
		Payloads:    map[string][]byte{},
		PayloadErrs: map[string]error{},
	}
}

// AddImage registers an image with its payload for personID.
func (s *MemorySource) AddImage(personID string, rec models.ImageRecord, payload []byte) {
	rec.PersonID = personID
	s.ImageIDs[personID] = append(s.ImageIDs[personID], rec.ImageID)
	s.Images[rec.ImageID] = rec
	s.Payloads[rec.ImageID] = payload
}

func (s *MemorySource) GetPersonData(_ context.Context, externalID string) ([]models.PersonRow, error) {
	return s.Persons[externalID], nil
}

func (s *MemorySource) GetImageIDs(_ context.Context, personID string) ([]string, error) {
	return s.ImageIDs[personID], nil
}

func (s *MemorySource) GetImageData(_ context.Context, imageIDs []string) ([]models.ImageRecord, error) {
	s.mu.Lock()
	s.imageDataCalls++
	s.mu.Unlock()
	var out []models.ImageRecord
	for _, id := range imageIDs {
		if rec, ok := s.Images[id]; ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *MemorySource) OpenPayload(ctx context.Context, image models.ImageRecord) (io.ReadCloser, error) {
	s.mu.Lock()
	s.payloadCalls++
	s.mu.Unlock()

	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		cur := s.maxInFlight.Load()
		if n <= cur || s.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}
	if s.FetchDelay > 0 {
		select {
		case <-time.After(s.FetchDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if err := s.PayloadErrs[image.ImageID]; err != nil {
		return nil, err
	}
	data, ok := s.Payloads[image.ImageID]
	if !ok {
		return nil, errors.New("payload not found")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *MemorySource) Close() error { return nil }

// ImageDataCalls reports how often GetImageData was called.
func (s *MemorySource) ImageDataCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.imageDataCalls
}

// PayloadCalls reports how often OpenPayload was called.
func (s *MemorySource) PayloadCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.payloadCalls
}

// MaxConcurrentFetches reports the highest number of overlapping OpenPayload calls.
func (s *MemorySource) MaxConcurrentFetches() int {
	return int(s.maxInFlight.Load())
}
