package services

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/Lllllllleong/imageexportflow/internal/gcp"
)

// Data source kinds accepted in DATA_SOURCE.
const (
	DataSourceSQL       = "sql"
	DataSourceFirestore = "firestore"
)

type ImageExportConfig struct {
	TempRoot           string
	ArchiveCeiling     int64
	ExportWorkers      int
	MinSuccessFraction float64
	StaleWorkspaceAge  time.Duration

	DataSource        string
	RomexisDBPath     string
	ProjectID         string
	FirestoreDatabase string
	PersonsCollection string
	ImagesCollection  string
	PayloadBucket     string

	RunsCollection   string
	WorkflowID       string
	WorkflowLocation string

	SMTPServer    string
	SMTPPort      int
	SenderAddress string
}

// LoadConfig reads the exporter configuration from the environment.
func LoadConfig() (ImageExportConfig, error) {
	config := ImageExportConfig{
		TempRoot:          gcp.GetEnv("TEMP_ROOT_PATH", filepath.Join(os.TempDir(), "romexis-export")),
		DataSource:        strings.ToLower(gcp.GetEnv("DATA_SOURCE", DataSourceSQL)),
		RomexisDBPath:     gcp.GetEnv("ROMEXIS_DB_PATH", ""),
		ProjectID:         gcp.GetEnv("PROJECT_ID", ""),
		FirestoreDatabase: gcp.GetEnv("FIRESTORE_DATABASE", ""),
		PersonsCollection: gcp.GetEnv("PERSONS_COLLECTION", "persons"),
		ImagesCollection:  gcp.GetEnv("IMAGES_COLLECTION", "images"),
		PayloadBucket:     gcp.GetEnv("PAYLOAD_BUCKET", ""),
		RunsCollection:    gcp.GetEnv("RUNS_COLLECTION", ""),
		WorkflowID:        gcp.GetEnv("WORKFLOW_ID", ""),
		WorkflowLocation:  gcp.GetEnv("WORKFLOW_LOCATION", "europe-west1"),
		SMTPServer:        gcp.GetEnv("SMTP_SERVER", ""),
		SenderAddress:     gcp.GetEnv("SENDER_ADDRESS", DefaultSenderAddress),
	}

	ceiling, err := humanize.ParseBytes(gcp.GetEnv("ARCHIVE_CEILING", "50MB"))
	if err != nil {
		return config, fmt.Errorf("ARCHIVE_CEILING: %w", err)
	}
	config.ArchiveCeiling = int64(ceiling)
	if config.ExportWorkers, err = gcp.GetEnvInt("EXPORT_WORKERS", DefaultExportWorkers); err != nil {
		return config, err
	}
	if config.MinSuccessFraction, err = gcp.GetEnvFloat("MIN_EXPORT_SUCCESS_FRACTION", 0); err != nil {
		return config, err
	}
	if config.StaleWorkspaceAge, err = gcp.GetEnvDuration("STALE_WORKSPACE_AGE", 24*time.Hour); err != nil {
		return config, err
	}
	if config.SMTPPort, err = gcp.GetEnvInt("SMTP_PORT", 25); err != nil {
		return config, err
	}
	return config, config.Validate()
}

// Validate reports the first inconsistent setting.
func (c ImageExportConfig) Validate() error {
	switch {
	case c.ArchiveCeiling <= 0:
		return fmt.Errorf("ARCHIVE_CEILING must be positive")
	case c.ExportWorkers <= 0:
		return fmt.Errorf("EXPORT_WORKERS must be positive")
	case c.MinSuccessFraction < 0 || c.MinSuccessFraction > 1:
		return fmt.Errorf("MIN_EXPORT_SUCCESS_FRACTION must be between 0 and 1")
	case c.SMTPServer == "":
		return fmt.Errorf("SMTP_SERVER environment variable must be set")
	}
	switch c.DataSource {
	case DataSourceSQL:
		if c.RomexisDBPath == "" {
			return fmt.Errorf("ROMEXIS_DB_PATH environment variable must be set for the sql data source")
		}
	case DataSourceFirestore:
		if c.ProjectID == "" || c.PayloadBucket == "" {
			return fmt.Errorf("PROJECT_ID and PAYLOAD_BUCKET must be set for the firestore data source")
		}
	default:
		return fmt.Errorf("DATA_SOURCE must be %q or %q, got %q", DataSourceSQL, DataSourceFirestore, c.DataSource)
	}
	if (c.RunsCollection != "" || c.WorkflowID != "") && c.ProjectID == "" {
		return fmt.Errorf("PROJECT_ID environment variable must be set for run tracking and workflows")
	}
	return nil
}
