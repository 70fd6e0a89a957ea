package romexis

import (
	"context"
	"fmt"
	"io"
	"sort"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	"github.com/Lllllllleong/imageexportflow/internal/gcp"
	"github.com/Lllllllleong/imageexportflow/internal/models"
)

// FirestoreConfig names the collections and bucket backing a FirestoreStore.
type FirestoreConfig struct {
	PersonsCollection string
	ImagesCollection  string
	PayloadBucket     string
}

// FirestoreStore reads person and image documents from Firestore and image
// payloads from Cloud Storage.
type FirestoreStore struct {
	firestoreClient *firestore.Client
	storageClient   *storage.Client
	config          FirestoreConfig
}

// NewFirestoreStore wires a store around existing clients. The store owns
// the clients from here on and closes them in Close.
func NewFirestoreStore(firestoreClient *firestore.Client, storageClient *storage.Client, config FirestoreConfig) (*FirestoreStore, error) {
	if firestoreClient == nil || storageClient == nil {
		return nil, fmt.Errorf("firestore store requires firestore and storage clients")
	}
	if config.PersonsCollection == "" {
		config.PersonsCollection = "persons"
	}
	if config.ImagesCollection == "" {
		config.ImagesCollection = "images"
	}
	if config.PayloadBucket == "" {
		return nil, fmt.Errorf("PAYLOAD_BUCKET must be set for the firestore data source")
	}
	return &FirestoreStore{
		firestoreClient: firestoreClient,
		storageClient:   storageClient,
		config:          config,
	}, nil
}

// GetPersonData returns person documents whose externalId matches.
func (s *FirestoreStore) GetPersonData(ctx context.Context, externalID string) ([]models.PersonRow, error) {
	docs, err := s.firestoreClient.Collection(s.config.PersonsCollection).
		Where("externalId", "==", externalID).
		Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to query persons: %w", err)
	}

	rows := make([]models.PersonRow, 0, len(docs))
	for _, doc := range docs {
		var row models.PersonRow
		if err := doc.DataTo(&row); err != nil {
			return nil, fmt.Errorf("failed to decode person %s: %w", doc.Ref.ID, err)
		}
		if row.PersonID == "" {
			row.PersonID = doc.Ref.ID
		}
		rows = append(rows, row)
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].PersonID < rows[j].PersonID })
	return rows, nil
}

// GetImageIDs returns the ids of the person's images, oldest first.
func (s *FirestoreStore) GetImageIDs(ctx context.Context, personID string) ([]string, error) {
	it := s.firestoreClient.Collection(s.config.ImagesCollection).
		Where("personId", "==", personID).
		Documents(ctx)
	defer it.Stop()

	var records []models.ImageRecord
	for {
		doc, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list images: %w", err)
		}
		var rec models.ImageRecord
		if err := doc.DataTo(&rec); err != nil {
			return nil, fmt.Errorf("failed to decode image %s: %w", doc.Ref.ID, err)
		}
		rec.ImageID = doc.Ref.ID
		records = append(records, rec)
	}

	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].AcquiredAt.Equal(records[j].AcquiredAt) {
			return records[i].AcquiredAt.Before(records[j].AcquiredAt)
		}
		return records[i].ImageID < records[j].ImageID
	})
	ids := make([]string, len(records))
	for i, rec := range records {
		ids[i] = rec.ImageID
	}
	return ids, nil
}

// GetImageData fetches the image documents for ids in one batch, keeping
// the order of ids. Missing documents are skipped.
func (s *FirestoreStore) GetImageData(ctx context.Context, imageIDs []string) ([]models.ImageRecord, error) {
	if len(imageIDs) == 0 {
		return nil, nil
	}
	col := s.firestoreClient.Collection(s.config.ImagesCollection)
	refs := make([]*firestore.DocumentRef, len(imageIDs))
	for i, id := range imageIDs {
		refs[i] = col.Doc(id)
	}
	snaps, err := s.firestoreClient.GetAll(ctx, refs)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch image documents: %w", err)
	}

	records := make([]models.ImageRecord, 0, len(snaps))
	for _, snap := range snaps {
		if !snap.Exists() {
			continue
		}
		var rec models.ImageRecord
		if err := snap.DataTo(&rec); err != nil {
			return nil, fmt.Errorf("failed to decode image %s: %w", snap.Ref.ID, err)
		}
		rec.ImageID = snap.Ref.ID
		records = append(records, rec)
	}
	return orderByIDs(imageIDs, records), nil
}

// OpenPayload streams the image payload from the payload bucket. Records
// without an object name are looked up at {personId}/{imageId}.
func (s *FirestoreStore) OpenPayload(ctx context.Context, image models.ImageRecord) (io.ReadCloser, error) {
	objectName := image.ObjectName
	if objectName == "" {
		objectName = fmt.Sprintf("%s/%s", image.PersonID, image.ImageID)
	}
	return gcp.OpenObject(ctx, s.storageClient.Bucket(s.config.PayloadBucket), objectName)
}

// Close closes both clients.
func (s *FirestoreStore) Close() error {
	ferr := s.firestoreClient.Close()
	serr := s.storageClient.Close()
	if ferr != nil {
		return ferr
	}
	return serr
}
