package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"cloud.google.com/go/storage"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/Lllllllleong/imageexportflow/internal/gcp"
	"github.com/Lllllllleong/imageexportflow/internal/mail"
	"github.com/Lllllllleong/imageexportflow/internal/models"
	"github.com/Lllllllleong/imageexportflow/internal/romexis"
)

// Response statuses of Process.
const (
	ResponseCompleted = "COMPLETED"
	ResponseFailed    = "FAILED"
	ResponseDuplicate = "DUPLICATE"
)

// WorkflowStarter starts the follow-up workflow of a finished run.
type WorkflowStarter interface {
	Trigger(ctx context.Context, argument any) (string, error)
}

// Dependencies are the external collaborators of the exporter. Tracker and
// Workflow are optional.
type Dependencies struct {
	Store    romexis.Store
	Mailer   mail.Mailer
	Tracker  RunTracker
	Workflow WorkflowStarter
}

type ImageExportFunction struct {
	config     ImageExportConfig
	store      romexis.Store
	exporter   *Exporter
	policy     ExportPolicy
	packager   *Packager
	dispatcher *Dispatcher
	tracker    RunTracker
	workflow   WorkflowStarter
	closers    []func() error
}

// NewImageExporter builds the exporter from environment configuration.
func NewImageExporter(ctx context.Context) (*ImageExportFunction, error) {
	config, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	var closers []func() error
	closeAll := func() {
		for _, c := range closers {
			_ = c()
		}
	}

	store, err := openStore(ctx, config)
	if err != nil {
		return nil, err
	}
	closers = append(closers, store.Close)

	mailer, err := mail.NewSMTPMailer(mail.SMTPConfig{Server: config.SMTPServer, Port: config.SMTPPort})
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("failed to create mailer: %w", err)
	}
	deps := Dependencies{Store: store, Mailer: mailer}

	if config.RunsCollection != "" {
		firestoreClient, err := gcp.NewFirestoreClient(ctx, config.ProjectID, config.FirestoreDatabase)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("failed to create firestore client for run tracking: %w", err)
		}
		closers = append(closers, firestoreClient.Close)
		deps.Tracker = NewFirestoreRunTracker(firestoreClient, config.RunsCollection)
	}
	if config.WorkflowID != "" {
		trigger, err := gcp.NewWorkflowTrigger(ctx, config.ProjectID, config.WorkflowLocation, config.WorkflowID)
		if err != nil {
			closeAll()
			return nil, err
		}
		closers = append(closers, trigger.Close)
		deps.Workflow = trigger
	}

	f := NewImageExportFunction(config, deps)
	f.closers = closers
	slog.Info("Image exporter initialized.",
		"dataSource", config.DataSource,
		"archiveCeiling", humanize.Bytes(uint64(config.ArchiveCeiling)),
		"exportWorkers", config.ExportWorkers,
		"runTracking", config.RunsCollection != "",
		"workflowId", config.WorkflowID)
	return f, nil
}

func openStore(ctx context.Context, config ImageExportConfig) (romexis.Store, error) {
	switch config.DataSource {
	case DataSourceFirestore:
		firestoreClient, err := gcp.NewFirestoreClient(ctx, config.ProjectID, config.FirestoreDatabase)
		if err != nil {
			return nil, err
		}
		storageClient, err := storage.NewClient(ctx)
		if err != nil {
			_ = firestoreClient.Close()
			return nil, fmt.Errorf("failed to create Storage client: %w", err)
		}
		store, err := romexis.NewFirestoreStore(firestoreClient, storageClient, romexis.FirestoreConfig{
			PersonsCollection: config.PersonsCollection,
			ImagesCollection:  config.ImagesCollection,
			PayloadBucket:     config.PayloadBucket,
		})
		if err != nil {
			_ = firestoreClient.Close()
			_ = storageClient.Close()
			return nil, err
		}
		return store, nil
	default:
		store, err := romexis.OpenSQLStore(ctx, config.RomexisDBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open romexis database: %w", err)
		}
		return store, nil
	}
}

// NewImageExportFunction wires the pipeline around already built
// dependencies. The caller keeps ownership of them.
func NewImageExportFunction(config ImageExportConfig, deps Dependencies) *ImageExportFunction {
	tracker := deps.Tracker
	if tracker == nil {
		tracker = noopRunTracker{}
	}
	return &ImageExportFunction{
		config:     config,
		store:      deps.Store,
		exporter:   NewExporter(deps.Store, config.ExportWorkers),
		policy:     ExportPolicy{MinSuccessFraction: config.MinSuccessFraction},
		packager:   NewPackager(config.ArchiveCeiling),
		dispatcher: NewDispatcher(deps.Mailer, config.SenderAddress),
		tracker:    tracker,
		workflow:   deps.Workflow,
	}
}

// Close releases the clients created by NewImageExporter.
func (f *ImageExportFunction) Close() error {
	var errs []error
	for _, c := range f.closers {
		errs = append(errs, c())
	}
	f.closers = nil
	return errors.Join(errs...)
}

// Process runs one export request end to end: resolve the person, export
// the images, sanitize, package and email the archives. The workspace is
// reclaimed once the workspace was acquired, whatever the outcome; a reclaim
// failure is joined to the returned error. The subject key is masked in the
// logs, the run document and the returned error.
func (f *ImageExportFunction) Process(ctx context.Context, req *models.ExportRequest) (*models.ExportResponse, error) {
	runID := uuid.NewString()
	subjectKey := req.SubjectKey()
	delivery := req.Delivery()
	redactor := newSubjectRedactor(subjectKey)
	logCtx := redactor.Logger(slog.Default()).With("runId", runID, "caseRef", delivery.CaseRef, "subject", MaskSubject(subjectKey))
	if req.QueueReference != "" {
		logCtx = logCtx.With("queueReference", req.QueueReference)
	}
	logCtx.Info("Processing export request.")

	resp := &models.ExportResponse{Status: ResponseFailed, RunID: runID}
	if subjectKey == "" {
		err := Wrap(ErrInvalidRequest, "request", "patient_cpr is empty", nil)
		logCtx.Error("Rejected export request.", "error", err)
		return resp, err
	}
	if !validSubjectKey.MatchString(subjectKey) {
		err := Wrap(ErrInvalidRequest, "request", "patient_cpr may only hold digits, letters and hyphens", nil)
		logCtx.Error("Rejected export request.", "error", err)
		return resp, err
	}
	if err := ValidateDelivery(delivery); err != nil {
		logCtx.Error("Rejected export request.", "error", err)
		return resp, err
	}

	subjectHash := SubjectHash(subjectKey)
	if existingID, done, err := f.tracker.FindCompleted(ctx, delivery.CaseRef, subjectHash); err != nil {
		logCtx.Warn("Failed to check for a completed run; continuing.", "error", err)
	} else if done {
		logCtx.Info("Request already delivered. Skipping.", "existingRunId", existingID)
		return &models.ExportResponse{Status: ResponseDuplicate, RunID: existingID}, nil
	}

	run := models.ExportRun{
		RunID:          runID,
		CaseRef:        delivery.CaseRef,
		SubjectHash:    subjectHash,
		QueueReference: req.QueueReference,
		Status:         models.RunStatusResolving,
	}
	if err := f.tracker.Create(ctx, run); err != nil {
		logCtx.Error("Failed to create run document", "error", err)
		return resp, err
	}

	SweepStale(logCtx, f.config.TempRoot, f.config.StaleWorkspaceAge)

	archiveCount, err := f.runInWorkspace(ctx, logCtx, runID, subjectKey, delivery)
	err = redactor.Error(err)
	f.finish(ctx, logCtx, runID, delivery.CaseRef, archiveCount, err)
	if err != nil {
		return resp, err
	}
	resp.Status = ResponseCompleted
	resp.ArchiveCount = archiveCount
	return resp, nil
}

func (f *ImageExportFunction) runInWorkspace(ctx context.Context, logCtx *slog.Logger, runID, subjectKey string, delivery models.DeliveryRequest) (archiveCount int, err error) {
	ws, err := AcquireWorkspace(f.config.TempRoot, subjectKey)
	if err != nil {
		return 0, err
	}
	defer func() {
		if rerr := ws.Reclaim(logCtx); rerr != nil {
			err = errors.Join(err, rerr)
		}
	}()
	return f.runStages(ctx, logCtx, runID, ws, subjectKey, delivery)
}

func (f *ImageExportFunction) runStages(ctx context.Context, logCtx *slog.Logger, runID string, ws *Workspace, subjectKey string, delivery models.DeliveryRequest) (int, error) {
	person, images, err := ResolvePerson(ctx, logCtx, f.store, subjectKey)
	if err != nil {
		return 0, err
	}
	f.updateStatus(ctx, logCtx, runID, RunUpdate{Status: models.RunStatusExporting, ImageCount: len(images)})

	outcomes := f.exporter.Export(ctx, logCtx, images, ws.ImageDir)
	exported, err := f.policy.Evaluate(logCtx, outcomes)
	if err != nil {
		return 0, err
	}
	Sanitize(logCtx, ws.ImageDir)
	f.updateStatus(ctx, logCtx, runID, RunUpdate{Status: models.RunStatusPackaging, ExportedCount: len(exported)})

	archive, err := f.packager.Package(logCtx, ws.ImageDir, ws.Dir, subjectKey, person.Name)
	if err != nil {
		return 0, err
	}
	f.updateStatus(ctx, logCtx, runID, RunUpdate{Status: models.RunStatusDispatching, ArchiveCount: len(archive.Parts)})

	if err := f.dispatcher.Dispatch(ctx, logCtx, archive, delivery); err != nil {
		return 0, err
	}
	return len(archive.Parts), nil
}

func (f *ImageExportFunction) finish(ctx context.Context, logCtx *slog.Logger, runID, caseRef string, archiveCount int, runErr error) {
	payload := models.CompletionPayload{RunID: runID, CaseRef: caseRef, Status: models.RunStatusCompleted, ArchiveCount: archiveCount}
	if runErr != nil {
		payload.Status = models.RunStatusFailed
		payload.ErrorKind = Kind(runErr)
		logCtx.Error("Export run failed.", "errorKind", payload.ErrorKind, "error", runErr)
		f.updateStatus(ctx, logCtx, runID, RunUpdate{Status: models.RunStatusFailed, ErrorKind: payload.ErrorKind, ErrorDetails: runErr.Error()})
	} else {
		logCtx.Info("Export run completed.", "archiveCount", archiveCount)
		f.updateStatus(ctx, logCtx, runID, RunUpdate{Status: models.RunStatusCompleted, ArchiveCount: archiveCount})
	}

	if f.workflow == nil {
		return
	}
	execution, err := f.workflow.Trigger(ctx, payload)
	if err != nil {
		logCtx.Error("Failed to trigger completion workflow.", "error", err)
		return
	}
	logCtx.Info("Hand-off to workflow complete.", "execution", execution)
}

func (f *ImageExportFunction) updateStatus(ctx context.Context, logCtx *slog.Logger, runID string, update RunUpdate) {
	if err := f.tracker.Update(ctx, runID, update); err != nil {
		logCtx.Warn("Failed to update run status.", "status", update.Status, "error", err)
	}
}
