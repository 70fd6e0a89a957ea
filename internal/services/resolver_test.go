package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/imageexportflow/internal/models"
	"github.com/Lllllllleong/imageexportflow/internal/testsupport"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestResolvePersonBuildsNameAndInventory(t *testing.T) {
	src := testsupport.NewMemorySource()
	src.Persons["1234567890"] = []models.PersonRow{{PersonID: "p1", FirstName: "Anne", ThirdName: "Kjær", LastName: "Hansen"}}
	src.AddImage("p1", models.ImageRecord{ImageID: "i1", Format: "png"}, []byte("a"))
	src.AddImage("p1", models.ImageRecord{ImageID: "i2", Format: "png"}, []byte("b"))

	person, images, err := ResolvePerson(context.Background(), discardLogger(), src, "1234567890")
	require.NoError(t, err)
	assert.Equal(t, models.PersonRecord{ID: "p1", Name: "Anne Kjær Hansen"}, person)
	require.Len(t, images, 2)
	assert.Equal(t, "i1", images[0].ImageID)
	assert.Equal(t, "i2", images[1].ImageID)
}

func TestResolvePersonNotFound(t *testing.T) {
	cases := []struct {
		name  string
		setup func(src *testsupport.MemorySource)
	}{
		{"no person", func(src *testsupport.MemorySource) {}},
		{"person without id", func(src *testsupport.MemorySource) {
			src.Persons["s"] = []models.PersonRow{{FirstName: "Anne"}}
		}},
		{"person without name", func(src *testsupport.MemorySource) {
			src.Persons["s"] = []models.PersonRow{{PersonID: "p1", SecondName: "  "}}
		}},
		{"no image ids", func(src *testsupport.MemorySource) {
			src.Persons["s"] = []models.PersonRow{{PersonID: "p1", LastName: "Hansen"}}
		}},
		{"image ids without data", func(src *testsupport.MemorySource) {
			src.Persons["s"] = []models.PersonRow{{PersonID: "p1", LastName: "Hansen"}}
			src.ImageIDs["p1"] = []string{"ghost-1", "ghost-2"}
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			src := testsupport.NewMemorySource()
			tc.setup(src)
			_, images, err := ResolvePerson(context.Background(), discardLogger(), src, "s")
			assert.ErrorIs(t, err, ErrNotFound)
			assert.Nil(t, images)
			assert.Zero(t, src.PayloadCalls())
		})
	}
}

func TestResolvePersonSkipsImageDataWhenNoImageIDs(t *testing.T) {
	src := testsupport.NewMemorySource()
	src.Persons["s"] = []models.PersonRow{{PersonID: "p1", FirstName: "Anne"}}

	_, _, err := ResolvePerson(context.Background(), discardLogger(), src, "s")
	require.ErrorIs(t, err, ErrNotFound)
	assert.Zero(t, src.ImageDataCalls())
}

type brokenSource struct{ err error }

func (b brokenSource) GetPersonData(context.Context, string) ([]models.PersonRow, error) {
	return nil, b.err
}
func (b brokenSource) GetImageIDs(context.Context, string) ([]string, error) { return nil, b.err }
func (b brokenSource) GetImageData(context.Context, []string) ([]models.ImageRecord, error) {
	return nil, b.err
}

func TestResolvePersonDataSourceErrorIsNotNotFound(t *testing.T) {
	cause := errors.New("connection reset")
	_, _, err := ResolvePerson(context.Background(), discardLogger(), brokenSource{err: cause}, "s")
	assert.ErrorIs(t, err, ErrDataSource)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrNotFound)
}
