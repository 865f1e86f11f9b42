package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/catalog-import/internal/catalog"
	"github.com/JonMunkholm/catalog-import/internal/config"
	"github.com/JonMunkholm/catalog-import/internal/dispatch"
	"github.com/JonMunkholm/catalog-import/internal/events"
	"github.com/JonMunkholm/catalog-import/internal/logging"
	"github.com/JonMunkholm/catalog-import/internal/progress"
)

// finalizeTimeout bounds the status write made after a job's context ended.
const finalizeTimeout = 10 * time.Second

// Options configures a Service.
type Options struct {
	Strategy       string // default strategy when a request names none
	Encoding       string // default source charset
	SkipIncomplete bool
	MaxFileSize    int64
	SpoolDir       string
	Timeout        time.Duration // per job, covering the background phase
	MaxConcurrent  int
	MaxWait        time.Duration
	TTL            time.Duration
	ErrorTail      int
	ChunkErrorTail int
	Aliases        ColumnAliases
	Coordinator    CoordinatorOptions
	Preload        PreloadOptions
}

// OptionsFromConfig builds service options from the loaded configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Strategy:       cfg.Import.Strategy,
		Encoding:       cfg.Import.SourceEncoding,
		SkipIncomplete: cfg.Import.SkipIncomplete,
		MaxFileSize:    cfg.Upload.MaxFileSize,
		SpoolDir:       cfg.Upload.SpoolDir,
		Timeout:        cfg.Upload.Timeout,
		MaxConcurrent:  cfg.Upload.MaxConcurrent,
		MaxWait:        cfg.Upload.MaxWaitTime,
		TTL:            cfg.Progress.TTL,
		ErrorTail:      cfg.Progress.ErrorTail,
		ChunkErrorTail: cfg.Progress.ChunkErrorTail,
		Aliases:        AliasesFromConfig(cfg.File.Columns),
		Coordinator: CoordinatorOptions{
			ChunkSize:  cfg.Import.ChunkSize,
			MaxRetries: cfg.Import.MaxRetries,
			Backoff:    Backoff{Initial: cfg.Import.RetryBackoff, Max: cfg.Import.RetryMaxBackoff},
		},
		Preload: PreloadOptions{
			BatchSize:        cfg.Import.BatchSize,
			ProgressInterval: cfg.Import.ProgressInterval,
			RunningErrorTail: cfg.Progress.RunningErrorTail,
			FinalErrorTail:   cfg.Progress.ErrorTail,
		},
	}
}

// Service is the entry point for imports and catalog lookups.
type Service struct {
	catalog     catalog.Store
	tracker     *Tracker
	pool        *dispatch.Pool
	notifier    Notifier
	limiter     *UploadLimiter
	coordinator *Coordinator
	preload     *PreloadImporter
	opts        Options

	wg sync.WaitGroup
}

// NewService wires the import pipeline. A nil notifier drops events.
func NewService(store catalog.Store, jobs progress.Store, pool *dispatch.Pool, notifier Notifier, opts Options) *Service {
	if notifier == nil {
		notifier = events.Nop{}
	}
	if opts.Strategy == "" {
		opts.Strategy = StrategyChunked
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Hour
	}
	if opts.Aliases.Name == nil && opts.Aliases.Key == nil {
		opts.Aliases = DefaultAliases()
	}

	tracker := NewTracker(jobs, opts.TTL, opts.ErrorTail)
	reconciler := NewChunkReconciler(store, tracker, notifier, opts.ChunkErrorTail)

	return &Service{
		catalog:     store,
		tracker:     tracker,
		pool:        pool,
		notifier:    notifier,
		limiter:     NewUploadLimiter(opts.MaxConcurrent, opts.MaxWait),
		coordinator: NewCoordinator(pool, reconciler, tracker, opts.Coordinator),
		preload:     NewPreloadImporter(store, tracker, notifier, opts.Preload),
		opts:        opts,
	}
}

// ImportRequest describes one uploaded file.
type ImportRequest struct {
	FileName  string
	Body      io.Reader
	Size      int64  // bytes, or -1 when unknown
	Delimiter rune   // 0 detects from the header line
	Strategy  string // "" uses the configured default
	Encoding  string // "" uses the configured default
}

// StartImport validates and spools the file, reads its header, and starts
// the import in the background. The returned job is pending. Input problems
// are returned synchronously as the sentinel errors of this package.
func (s *Service) StartImport(ctx context.Context, req ImportRequest) (progress.Job, error) {
	log := logging.WithFields(ctx, RequestMetaFromContext(ctx).logArgs()...)

	strategy, encoding, err := s.checkRequest(req)
	if err != nil {
		return progress.Job{}, err
	}

	f, lines, err := s.spool(req.Body)
	if err != nil {
		return progress.Job{}, err
	}
	cleanup := func() {
		f.Close()
		if err := os.Remove(f.Name()); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn("remove spool file", "path", f.Name(), "error", err)
		}
	}

	rr, err := NewRecordReader(f, ParseOptions{
		Delimiter:      req.Delimiter,
		Encoding:       encoding,
		SkipIncomplete: s.opts.SkipIncomplete,
	})
	if err != nil {
		cleanup()
		return progress.Job{}, err
	}

	mapping := MapColumns(rr.Header(), s.opts.Aliases)
	ex := rr.Extractor(mapping)
	if !mapping.Complete() {
		log.Warn("header has no name or sku column, every row will be skipped",
			"file", req.FileName, "header", rr.Header())
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		cleanup()
		return progress.Job{}, err
	}

	job, err := s.tracker.Initialize(ctx, progress.Job{
		ID:        uuid.NewString(),
		TotalRows: lines,
		FileName:  req.FileName,
		Strategy:  strategy,
		Message:   "File uploaded, processing started",
	})
	if err != nil {
		s.limiter.Release()
		cleanup()
		return progress.Job{}, err
	}

	log.Info("import accepted",
		"job_id", job.ID,
		"file", req.FileName,
		"strategy", strategy,
		"estimated_rows", lines,
		"delimiter", string(rr.Dialect().Delimiter),
		"delimiter_confidence", rr.Dialect().Confidence,
		"mapping", mapping,
	)

	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.Timeout)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		defer s.limiter.Release()
		defer cleanup()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic in import job",
					"job_id", job.ID,
					"panic", r,
					"stack", string(debug.Stack()),
				)
				s.fail(jobCtx, job.ID, fmt.Errorf("internal error: %v", r))
			}
		}()

		s.run(jobCtx, job, rr, ex)
	}()

	return job, nil
}

func (s *Service) checkRequest(req ImportRequest) (strategy, encoding string, err error) {
	if req.Body == nil || strings.TrimSpace(req.FileName) == "" {
		return "", "", ErrNoFile
	}
	if !strings.EqualFold(filepath.Ext(req.FileName), ".csv") {
		return "", "", ErrUnsupportedFile
	}
	if req.Size == 0 {
		return "", "", ErrEmptyFile
	}
	if s.opts.MaxFileSize > 0 && req.Size > s.opts.MaxFileSize {
		return "", "", ErrFileTooLarge
	}

	strategy = strings.ToLower(strings.TrimSpace(req.Strategy))
	if strategy == "" {
		strategy = s.opts.Strategy
	}
	if strategy != StrategyChunked && strategy != StrategyPreload {
		return "", "", fmt.Errorf("%w: %q", ErrUnknownStrategy, req.Strategy)
	}

	encoding = req.Encoding
	if encoding == "" {
		encoding = s.opts.Encoding
	}
	if err := ValidateEncoding(encoding); err != nil {
		return "", "", err
	}
	return strategy, encoding, nil
}

// spool copies body to a temporary file, enforcing the size limit, and
// returns the file rewound to the start with the estimated data row count.
func (s *Service) spool(body io.Reader) (*os.File, int, error) {
	f, err := os.CreateTemp(s.opts.SpoolDir, "import-*.csv")
	if err != nil {
		return nil, 0, fmt.Errorf("create spool file: %w", err)
	}
	discard := func() {
		f.Close()
		os.Remove(f.Name())
	}

	var lines LineCounter
	n, err := io.Copy(io.MultiWriter(f, &lines), NewCountingReader(body, s.opts.MaxFileSize))
	if err != nil {
		discard()
		if errors.Is(err, ErrFileTooLarge) {
			return nil, 0, ErrFileTooLarge
		}
		return nil, 0, fmt.Errorf("spool upload: %w", err)
	}
	if n == 0 {
		discard()
		return nil, 0, ErrEmptyFile
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		discard()
		return nil, 0, fmt.Errorf("rewind spool file: %w", err)
	}
	return f, lines.EstimateRows(), nil
}

// run executes the job's strategy and records a failure.
func (s *Service) run(ctx context.Context, job progress.Job, rr *RecordReader, ex Extractor) {
	log := logging.WithFields(ctx, "job_id", job.ID)

	started, err := s.tracker.Start(ctx, job.ID)
	if err != nil {
		log.Error("start job", "error", err)
		return
	}
	if started.Status.Terminal() {
		log.Info("job finished before it started", "status", started.Status)
		return
	}

	start := time.Now()
	switch job.Strategy {
	case StrategyPreload:
		err = s.preload.Run(ctx, job.ID, NewRowStream(rr, ex))
	default:
		err = s.coordinator.Run(ctx, job.ID, rr, ex)
	}

	switch {
	case err == nil:
		log.Debug("job run returned", "duration_ms", time.Since(start).Milliseconds())
	case errors.Is(err, dispatch.ErrGroupRevoked):
		log.Info("dispatch stopped, job cancelled")
	default:
		log.Error("import failed", "error", err, "duration_ms", time.Since(start).Milliseconds())
		s.fail(ctx, job.ID, err)
	}
}

func (s *Service) fail(ctx context.Context, id string, cause error) {
	msg := cause.Error()
	if IsUserFacing(cause) {
		msg = MapError(cause).Message
	}
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()
	if _, err := s.tracker.Fail(fctx, id, "Import failed: "+msg); err != nil {
		logging.WithFields(ctx, "job_id", id).Error("record job failure", "error", err)
	}
}

// Progress returns the job record. A chunked job whose chunks have all
// finished is promoted to completed here as well as by its coordinator.
func (s *Service) Progress(ctx context.Context, id string) (progress.Job, error) {
	job, err := s.tracker.Get(ctx, id)
	if err != nil {
		return progress.Job{}, err
	}
	if !job.Status.Terminal() && job.Strategy == StrategyChunked && s.coordinator.Ready(job.GroupID) {
		return s.tracker.Complete(ctx, id)
	}
	return job, nil
}

// Cancel marks the job cancelled and revokes its queued chunks. Rows already
// written stay written.
func (s *Service) Cancel(ctx context.Context, id string) (progress.Job, error) {
	job, err := s.tracker.Cancel(ctx, id)
	if err != nil {
		return job, err
	}
	revoked := s.coordinator.Cancel(job.GroupID)
	logging.WithFields(ctx, "job_id", id).Info("import cancelled",
		"processed", job.ProcessedRows, "queued_chunks_revoked", revoked)
	return job, nil
}

// WaitForImports blocks until no import holds a slot.
func (s *Service) WaitForImports(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}

// Close waits for background jobs to return.
func (s *Service) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ping checks both stores.
func (s *Service) Ping(ctx context.Context) error {
	var errs []error
	if err := s.catalog.Ping(ctx); err != nil {
		errs = append(errs, fmt.Errorf("catalog store: %w", err))
	}
	if err := s.tracker.Ping(ctx); err != nil {
		errs = append(errs, fmt.Errorf("progress store: %w", err))
	}
	return errors.Join(errs...)
}

// Stats is a snapshot of import capacity.
type Stats struct {
	Imports UploadLimiterStatus `json:"imports"`
	Workers dispatch.Stats      `json:"workers"`
}

// Stats returns the limiter and worker pool state.
func (s *Service) Stats() Stats {
	return Stats{
		Imports: s.limiter.Status(),
		Workers: s.pool.Stats(),
	}
}
