package romexis

import (
	"bytes"
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Lllllllleong/imageexportflow/internal/models"
)

//go:embed schema.sql
var schemaSQL string

// ErrPayloadMissing is returned when an image row has no payload.
var ErrPayloadMissing = errors.New("image payload missing")

// SQLStore reads the archive from a relational database.
type SQLStore struct {
	db   *sql.DB
	path string
}

// OpenSQLStore opens the sqlite database at path and makes sure the schema exists.
func OpenSQLStore(ctx context.Context, path string) (*SQLStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("sqlite database path must be set")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open romexis database: %w", err)
	}
	// Pragmas are per connection.
	db.SetMaxOpenConns(1)
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", p, err)
		}
	}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLStore{db: db, path: path}, nil
}

// Close releases the database handle.
func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// GetPersonData returns the person rows whose external id matches.
func (s *SQLStore) GetPersonData(ctx context.Context, externalID string) ([]models.PersonRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT person_id, external_id, first_name, second_name, third_name, last_name
		   FROM persons WHERE external_id = ? ORDER BY person_id`, externalID)
	if err != nil {
		return nil, fmt.Errorf("query persons: %w", err)
	}
	defer rows.Close()

	var out []models.PersonRow
	for rows.Next() {
		var row models.PersonRow
		var pid, first, second, third, last sql.NullString
		if err := rows.Scan(&pid, &row.ExternalID, &first, &second, &third, &last); err != nil {
			return nil, fmt.Errorf("scan person: %w", err)
		}
		row.PersonID = pid.String
		row.FirstName = first.String
		row.SecondName = second.String
		row.ThirdName = third.String
		row.LastName = last.String
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate persons: %w", err)
	}
	return out, nil
}

// GetImageIDs returns the ids of the person's images, oldest first.
func (s *SQLStore) GetImageIDs(ctx context.Context, personID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT image_id FROM images WHERE person_id = ? ORDER BY acquired_at, image_id`, personID)
	if err != nil {
		return nil, fmt.Errorf("query image ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan image id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate image ids: %w", err)
	}
	return ids, nil
}

// GetImageData returns image metadata for ids, in the order of ids.
// Unknown ids are skipped.
func (s *SQLStore) GetImageData(ctx context.Context, imageIDs []string) ([]models.ImageRecord, error) {
	if len(imageIDs) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(imageIDs)), ",")
	args := make([]any, len(imageIDs))
	for i, id := range imageIDs {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT image_id, person_id, format, modality, acquired_at
		   FROM images WHERE image_id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("query image data: %w", err)
	}
	defer rows.Close()

	var records []models.ImageRecord
	for rows.Next() {
		var rec models.ImageRecord
		var format, modality, acquired sql.NullString
		if err := rows.Scan(&rec.ImageID, &rec.PersonID, &format, &modality, &acquired); err != nil {
			return nil, fmt.Errorf("scan image data: %w", err)
		}
		rec.Format = format.String
		rec.Modality = modality.String
		if acquired.Valid && acquired.String != "" {
			if ts, err := time.Parse(time.RFC3339, acquired.String); err == nil {
				rec.AcquiredAt = ts
			}
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate image data: %w", err)
	}
	return orderByIDs(imageIDs, records), nil
}

// OpenPayload returns the stored payload of image.
func (s *SQLStore) OpenPayload(ctx context.Context, image models.ImageRecord) (io.ReadCloser, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM images WHERE image_id = ?`, image.ImageID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: image %s not found", ErrPayloadMissing, image.ImageID)
	}
	if err != nil {
		return nil, fmt.Errorf("query payload for image %s: %w", image.ImageID, err)
	}
	if payload == nil {
		return nil, fmt.Errorf("%w: image %s", ErrPayloadMissing, image.ImageID)
	}
	return io.NopCloser(bytes.NewReader(payload)), nil
}

// AddPerson inserts or replaces a person row.
func (s *SQLStore) AddPerson(ctx context.Context, row models.PersonRow) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO persons (person_id, external_id, first_name, second_name, third_name, last_name)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		row.PersonID, row.ExternalID, nullable(row.FirstName), nullable(row.SecondName), nullable(row.ThirdName), nullable(row.LastName))
	if err != nil {
		return fmt.Errorf("insert person %s: %w", row.PersonID, err)
	}
	return nil
}

// AddImage inserts or replaces an image row and its payload.
func (s *SQLStore) AddImage(ctx context.Context, rec models.ImageRecord, payload []byte) error {
	var acquired any
	if !rec.AcquiredAt.IsZero() {
		acquired = rec.AcquiredAt.UTC().Format(time.RFC3339)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO images (image_id, person_id, format, modality, acquired_at, payload)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ImageID, rec.PersonID, nullable(rec.Format), nullable(rec.Modality), acquired, payload)
	if err != nil {
		return fmt.Errorf("insert image %s: %w", rec.ImageID, err)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
