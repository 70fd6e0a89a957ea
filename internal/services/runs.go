package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/Lllllllleong/imageexportflow/internal/models"
)

// RunUpdate carries the fields to change on a run. Zero values are left as
// they are.
type RunUpdate struct {
	Status        string
	ErrorKind     string
	ErrorDetails  string
	ImageCount    int
	ExportedCount int
	ArchiveCount  int
}

// RunTracker persists the status of export runs.
type RunTracker interface {
	// FindCompleted returns the id of a completed run for the same case and
	// subject, if any.
	FindCompleted(ctx context.Context, caseRef, subjectHash string) (string, bool, error)
	Create(ctx context.Context, run models.ExportRun) error
	Update(ctx context.Context, runID string, update RunUpdate) error
}

// SubjectHash is the identifier stored for a subject in place of its CPR number.
func SubjectHash(subjectKey string) string {
	sum := sha256.Sum256([]byte(subjectKey))
	return hex.EncodeToString(sum[:])
}

// MaskSubject returns the subject key with everything after the birth date
// hidden, for logging.
func MaskSubject(subjectKey string) string {
	if len(subjectKey) <= 6 {
		return "****"
	}
	return subjectKey[:6] + "****"
}

// FirestoreRunTracker stores one document per run, keyed by run id.
type FirestoreRunTracker struct {
	client     *firestore.Client
	collection string
}

// NewFirestoreRunTracker tracks runs in collection. The caller keeps
// ownership of client.
func NewFirestoreRunTracker(client *firestore.Client, collection string) *FirestoreRunTracker {
	return &FirestoreRunTracker{client: client, collection: collection}
}

func (t *FirestoreRunTracker) FindCompleted(ctx context.Context, caseRef, subjectHash string) (string, bool, error) {
	docs, err := t.client.Collection(t.collection).
		Where("caseRef", "==", caseRef).
		Where("subjectHash", "==", subjectHash).
		Where("status", "==", models.RunStatusCompleted).
		Limit(1).Documents(ctx).GetAll()
	if err != nil {
		return "", false, fmt.Errorf("failed to query for completed runs: %w", err)
	}
	if len(docs) > 0 {
		return docs[0].Ref.ID, true, nil
	}
	return "", false, nil
}

func (t *FirestoreRunTracker) Create(ctx context.Context, run models.ExportRun) error {
	now := time.Now()
	run.CreatedAt = now
	run.UpdatedAt = now
	if _, err := t.client.Collection(t.collection).Doc(run.RunID).Set(ctx, run); err != nil {
		return fmt.Errorf("failed to create run document: %w", err)
	}
	return nil
}

func (t *FirestoreRunTracker) Update(ctx context.Context, runID string, update RunUpdate) error {
	updates := []firestore.Update{
		{Path: "updatedAt", Value: firestore.ServerTimestamp},
	}
	if update.Status != "" {
		updates = append(updates, firestore.Update{Path: "status", Value: update.Status})
	}
	if update.ErrorKind != "" {
		updates = append(updates, firestore.Update{Path: "errorKind", Value: update.ErrorKind})
	}
	if update.ErrorDetails != "" {
		updates = append(updates, firestore.Update{Path: "errorDetails", Value: update.ErrorDetails})
	}
	if update.ImageCount > 0 {
		updates = append(updates, firestore.Update{Path: "imageCount", Value: update.ImageCount})
	}
	if update.ExportedCount > 0 {
		updates = append(updates, firestore.Update{Path: "exportedCount", Value: update.ExportedCount})
	}
	if update.ArchiveCount > 0 {
		updates = append(updates, firestore.Update{Path: "archiveCount", Value: update.ArchiveCount})
	}
	if _, err := t.client.Collection(t.collection).Doc(runID).Update(ctx, updates); err != nil {
		return fmt.Errorf("failed to update run %s: %w", runID, err)
	}
	return nil
}

// noopRunTracker is used when run tracking is not configured.
type noopRunTracker struct{}

func (noopRunTracker) FindCompleted(context.Context, string, string) (string, bool, error) {
	return "", false, nil
}
func (noopRunTracker) Create(context.Context, models.ExportRun) error { return nil }
func (noopRunTracker) Update(context.Context, string, RunUpdate) error { return nil }
