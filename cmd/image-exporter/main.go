package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/Lllllllleong/imageexportflow/internal/models"
	"github.com/Lllllllleong/imageexportflow/internal/services"
)

const maxRequestBytes = 1 << 20

var (
	exporterInstance *services.ImageExportFunction
	once             sync.Once
	initErr          error
)

func init() {
	// --- Set up structured logging ---
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.CloudEvent("ExportAndSendImages", exportAndSendImages)
	functions.HTTP("HandleExportImages", handleExportImages)
}

func main() {}

func initExporter() error {
	once.Do(func() {
		exporterInstance, initErr = services.NewImageExporter(context.Background())
	})
	return initErr
}

// exportAndSendImages handles a queue element delivered as a CloudEvent.
func exportAndSendImages(ctx context.Context, e cloudevents.Event) error {
	if err := initExporter(); err != nil {
		slog.Error("Critical error during function initialization", "error", err)
		return err
	}

	req, err := models.DecodeExportRequest(e.Data())
	if err != nil {
		// The payload is not logged; it carries the CPR number.
		slog.Error("Failed to decode event data", "error", err, "eventId", e.ID())
		return fmt.Errorf("%w: %w", services.ErrInvalidRequest, err)
	}

	// Errors are logged with run context inside Process.
	_, err = exporterInstance.Process(ctx, req)
	return err
}

// handleExportImages is the HTTP entry point for the same pipeline.
func handleExportImages(w http.ResponseWriter, r *http.Request) {
	if err := initExporter(); err != nil {
		slog.Error("Critical: image exporter initialization failed", "error", err)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err != nil {
		slog.Warn("Could not read request body", "error", err)
		http.Error(w, "Bad Request: could not read body", http.StatusBadRequest)
		return
	}
	req, err := models.DecodeExportRequest(body)
	if err != nil {
		slog.Warn("Could not decode request body", "error", err)
		http.Error(w, "Bad Request: could not parse JSON", http.StatusBadRequest)
		return
	}

	res, err := exporterInstance.Process(r.Context(), req)
	if err != nil {
		status := statusFor(err)
		http.Error(w, fmt.Sprintf("%s: %s", http.StatusText(status), services.Kind(err)), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(res); err != nil {
		slog.Error("Failed to write response", "error", err, "runId", res.RunID)
		http.Error(w, "Internal Server Error: failed to encode response", http.StatusInternalServerError)
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrInvalidRequest), errors.Is(err, services.ErrInvalidDelivery):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrWorkspaceBusy):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
