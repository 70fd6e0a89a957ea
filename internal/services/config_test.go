package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setBaseEnv(t *testing.T) {
	t.Setenv("SMTP_SERVER", "smtp.internal")
	t.Setenv("ROMEXIS_DB_PATH", "/data/romexis.db")
	for _, key := range []string{
		"DATA_SOURCE", "ARCHIVE_CEILING", "EXPORT_WORKERS", "MIN_EXPORT_SUCCESS_FRACTION",
		"STALE_WORKSPACE_AGE", "PROJECT_ID", "PAYLOAD_BUCKET", "RUNS_COLLECTION", "WORKFLOW_ID", "SMTP_PORT",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	setBaseEnv(t)
	config, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, DataSourceSQL, config.DataSource)
	assert.Equal(t, int64(50_000_000), config.ArchiveCeiling)
	assert.Equal(t, DefaultExportWorkers, config.ExportWorkers)
	assert.Equal(t, 24*time.Hour, config.StaleWorkspaceAge)
	assert.Equal(t, 25, config.SMTPPort)
	assert.Equal(t, DefaultSenderAddress, config.SenderAddress)
	assert.Equal(t, "europe-west1", config.WorkflowLocation)
}

func TestLoadConfigOverrides(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("ARCHIVE_CEILING", "20 MiB")
	t.Setenv("EXPORT_WORKERS", "8")
	t.Setenv("MIN_EXPORT_SUCCESS_FRACTION", "0.9")
	t.Setenv("DATA_SOURCE", "Firestore")
	t.Setenv("PROJECT_ID", "mbu-prod")
	t.Setenv("PAYLOAD_BUCKET", "romexis-payloads")

	config, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, int64(20*1024*1024), config.ArchiveCeiling)
	assert.Equal(t, 8, config.ExportWorkers)
	assert.InDelta(t, 0.9, config.MinSuccessFraction, 1e-9)
	assert.Equal(t, DataSourceFirestore, config.DataSource)
}

func TestLoadConfigRejectsInconsistentSettings(t *testing.T) {
	cases := map[string]map[string]string{
		"no smtp server":      {"SMTP_SERVER": ""},
		"bad ceiling":         {"ARCHIVE_CEILING": "lots"},
		"fraction above one":  {"MIN_EXPORT_SUCCESS_FRACTION": "1.5"},
		"zero workers":        {"EXPORT_WORKERS": "0"},
		"unknown data source": {"DATA_SOURCE": "oracle"},
		"sql without path":    {"ROMEXIS_DB_PATH": ""},
		"firestore no bucket": {"DATA_SOURCE": "firestore", "PROJECT_ID": "p"},
		"tracking no project": {"RUNS_COLLECTION": "exportRuns"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			setBaseEnv(t)
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := LoadConfig()
			assert.Error(t, err)
		})
	}
}
