package models

import (
	"strings"
	"time"
)

// PersonRow is a raw person row as returned by the Romexis data source.
// Name fragments may be empty.
type PersonRow struct {
	PersonID   string `firestore:"personId" json:"person_id"`
	ExternalID string `firestore:"externalId" json:"external_id"`
	FirstName  string `firestore:"firstName,omitempty" json:"first_name,omitempty"`
	SecondName string `firestore:"secondName,omitempty" json:"second_name,omitempty"`
	ThirdName  string `firestore:"thirdName,omitempty" json:"third_name,omitempty"`
	LastName   string `firestore:"lastName,omitempty" json:"last_name,omitempty"`
}

// DisplayName joins the non-empty name fragments in the order first,
// second, third, last.
func (r PersonRow) DisplayName() string {
	parts := make([]string, 0, 4)
	for _, p := range []string{r.FirstName, r.SecondName, r.ThirdName, r.LastName} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

// PersonRecord is the resolved patient identity. It is not modified after resolution.
type PersonRecord struct {
	ID   string
	Name string
}

// ImageRecord references one image and carries what a fetcher needs to
// retrieve its payload.
type ImageRecord struct {
	ImageID    string    `firestore:"imageId" json:"image_id"`
	PersonID   string    `firestore:"personId" json:"person_id"`
	Format     string    `firestore:"format,omitempty" json:"format,omitempty"`
	Modality   string    `firestore:"modality,omitempty" json:"modality,omitempty"`
	ObjectName string    `firestore:"objectName,omitempty" json:"object_name,omitempty"`
	AcquiredAt time.Time `firestore:"acquiredAt,omitempty" json:"acquired_at,omitempty"`
}

// Run statuses persisted on ExportRun documents.
const (
	RunStatusResolving   = "RESOLVING"
	RunStatusExporting   = "EXPORTING"
	RunStatusPackaging   = "PACKAGING"
	RunStatusDispatching = "DISPATCHING"
	RunStatusCompleted   = "COMPLETED"
	RunStatusFailed      = "FAILED"
)

// ExportRun is the Firestore record tracking one pipeline invocation.
// The subject is stored as a hash, never as the CPR number itself.
type ExportRun struct {
	RunID          string    `firestore:"runId"`
	CaseRef        string    `firestore:"caseRef"`
	SubjectHash    string    `firestore:"subjectHash"`
	QueueReference string    `firestore:"queueReference,omitempty"`
	Status         string    `firestore:"status"`
	ErrorKind      string    `firestore:"errorKind,omitempty"`
	ErrorDetails   string    `firestore:"errorDetails,omitempty"`
	ImageCount     int       `firestore:"imageCount,omitempty"`
	ExportedCount  int       `firestore:"exportedCount,omitempty"`
	ArchiveCount   int       `firestore:"archiveCount,omitempty"`
	CreatedAt      time.Time `firestore:"createdAt,omitempty"`
	UpdatedAt      time.Time `firestore:"updatedAt,omitempty"`
}
