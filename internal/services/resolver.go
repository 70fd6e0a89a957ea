package services

import (
	"context"
	"log/slog"
	"strings"

	"github.com/Lllllllleong/imageexportflow/internal/models"
	"github.com/Lllllllleong/imageexportflow/internal/romexis"
)

const stageResolve = "resolve"

// ResolvePerson looks up the person registered under subjectKey and the
// ordered image inventory for that person. Any empty result is ErrNotFound;
// the image metadata is only fetched when the person has image ids.
func ResolvePerson(ctx context.Context, logCtx *slog.Logger, source romexis.Source, subjectKey string) (models.PersonRecord, []models.ImageRecord, error) {
	var person models.PersonRecord

	rows, err := source.GetPersonData(ctx, subjectKey)
	if err != nil {
		return person, nil, Wrap(ErrDataSource, stageResolve, "get person data", err)
	}
	if len(rows) == 0 {
		return person, nil, Wrap(ErrNotFound, stageResolve, "no person found for subject", nil)
	}
	if len(rows) > 1 {
		logCtx.Warn("Subject matches several persons; using the first.", "matches", len(rows))
	}

	row := rows[0]
	person.ID = strings.TrimSpace(row.PersonID)
	if person.ID == "" {
		return person, nil, Wrap(ErrNotFound, stageResolve, "person record has no id", nil)
	}
	person.Name = row.DisplayName()
	if person.Name == "" {
		return person, nil, Wrap(ErrNotFound, stageResolve, "person "+person.ID+" has no name", nil)
	}

	imageIDs, err := source.GetImageIDs(ctx, person.ID)
	if err != nil {
		return person, nil, Wrap(ErrDataSource, stageResolve, "get image ids", err)
	}
	if len(imageIDs) == 0 {
		return person, nil, Wrap(ErrNotFound, stageResolve, "no images found for person "+person.ID, nil)
	}

	images, err := source.GetImageData(ctx, imageIDs)
	if err != nil {
		return person, nil, Wrap(ErrDataSource, stageResolve, "get image data", err)
	}
	if len(images) == 0 {
		return person, nil, Wrap(ErrNotFound, stageResolve, "no image data for the person's image ids", nil)
	}

	logCtx.Info("Resolved person and image inventory.", "personId", person.ID, "imageIds", len(imageIDs), "images", len(images))
	return person, images, nil
}
