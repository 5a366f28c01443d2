package core

// jobs.go runs imports in the background.
//
// StartImport does every whole-source check synchronously, so a caller
// learns about unreadable files, unknown sheets and bad mappings from the
// request itself. Once a job is accepted it materializes the sheet lazily,
// writes records in batches through the Store and broadcasts snapshots to
// progress subscribers. Finished jobs stay in memory for Options.JobRetention
// and remain available from the Store afterwards.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/finimport/internal/ingest"
	"github.com/JonMunkholm/finimport/internal/logging"
)

const (
	// finalizeTimeout bounds the Store writes made after a job stops.
	finalizeTimeout = 10 * time.Second

	// progressInterval is how many rows pass between progress updates.
	progressInterval = 100
)

type activeImport struct {
	mu  sync.Mutex
	job ImportJob

	cancel     context.CancelCauseFunc
	finishOnce sync.Once
	done       chan struct{}
	listenerMu sync.Mutex
	listeners  []chan ImportJob
}

func (a *activeImport) snapshot() ImportJob {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.job
}

func (a *activeImport) update(fn func(*ImportJob)) ImportJob {
	a.mu.Lock()
	defer a.mu.Unlock()
	fn(&a.job)
	return a.job
}

// StartImport validates the request and starts a background import.
// It returns the job ID.
//
// Returns ErrTooManyImports if no import slot frees up within the
// configured wait time.
func (s *Service) StartImport(ctx context.Context, req ImportRequest) (string, error) {
	if err := s.limiter.Acquire(ctx); err != nil {
		return "", err
	}
	released := false
	release := func() {
		if !released {
			released = true
			s.limiter.Release()
		}
	}
	defer release()

	doc, err := s.open(req.Upload)
	if err != nil {
		return "", err
	}
	defer doc.Close()

	plan, err := s.plan(ctx, req.Upload, doc, req.Sheet, req.Mapping)
	if err != nil {
		return "", err
	}

	tenant := req.TenantID
	if tenant == "" {
		tenant = GetTenantFromContext(ctx)
	}

	job := ImportJob{
		ID:           uuid.New(),
		TenantID:     tenant,
		FileName:     req.Upload.FileName,
		SourceHash:   req.Upload.Hash(),
		Sheet:        plan.table.Sheet,
		Mapping:      plan.mapping,
		Status:       StatusPending,
		TotalRows:    len(plan.table.Rows),
		QualityScore: plan.quality.Score,
		ClientIP:     GetIPAddressFromContext(ctx),
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return "", fmt.Errorf("create import job: %w", err)
	}

	id := job.ID.String()

	// The job outlives the request but keeps its values for logging.
	base, cancel := context.WithCancelCause(logging.WithJobID(context.WithoutCancel(ctx), id))
	jobCtx, stop := context.WithTimeout(base, s.opts.Timeout)

	imp := &activeImport{
		job:    job,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	s.imports[id] = imp
	s.mu.Unlock()

	released = true
	go func() {
		defer s.limiter.Release()
		defer stop()
		defer func() {
			if r := recover(); r != nil {
				logging.FromContext(jobCtx).Error("panic in import", "panic", r)
				s.finish(jobCtx, imp, StatusFailed, fmt.Errorf("internal error: %v", r))
			}
		}()
		s.runImport(jobCtx, imp, plan)
	}()

	return id, nil
}

// runImport materializes the planned sheet and persists it in batches.
func (s *Service) runImport(ctx context.Context, imp *activeImport, plan *importPlan) {
	logger := logging.WithFields(ctx,
		"tenant", imp.job.TenantID,
		"file", imp.job.FileName,
		"sheet", imp.job.Sheet,
	)

	started := time.Now().UTC()
	job := imp.update(func(j *ImportJob) {
		j.Status = StatusRunning
		j.StartedAt = &started
	})
	if err := s.store.UpdateJob(ctx, job); err != nil {
		s.finish(ctx, imp, StatusFailed, fmt.Errorf("update import job: %w", err))
		return
	}
	s.notifyProgress(imp)
	logger.Info("import started", "rows", job.TotalRows)

	batch := make([]ingest.TransactionRecord, 0, s.opts.BatchSize)
	var rowErrs []ingest.RowError

	flush := func() error {
		if len(rowErrs) > 0 {
			if err := s.store.InsertRowErrors(ctx, job.ID, rowErrs); err != nil {
				return fmt.Errorf("insert row errors: %w", err)
			}
			rowErrs = rowErrs[:0]
		}
		if len(batch) == 0 {
			return nil
		}
		inserted, err := s.store.InsertTransactions(ctx, job, batch)
		if err != nil {
			return fmt.Errorf("insert transactions: %w", err)
		}
		n := len(batch)
		imp.update(func(j *ImportJob) {
			j.Imported += int(inserted)
			j.Skipped += n - int(inserted)
		})
		batch = batch[:0]
		s.notifyProgress(imp)
		return nil
	}

	for res := range s.materializer.Records(plan.table.All(), plan.mapping) {
		if ctx.Err() != nil {
			break
		}
		if res.Err != nil {
			logger.Debug("row rejected", "row", res.Err.RowNumber, "column", res.Err.Column, "error", res.Err.Message)
			rowErrs = append(rowErrs, *res.Err)
		} else {
			batch = append(batch, *res.Record)
		}
		snap := imp.update(func(j *ImportJob) {
			j.Processed++
			if res.Err != nil {
				j.Failed++
			}
		})
		if snap.Processed%progressInterval == 0 {
			s.notifyProgress(imp)
		}

		if len(batch) >= s.opts.BatchSize {
			if err := flush(); err != nil {
				s.abort(ctx, imp, err)
				return
			}
		}
	}

	if ctx.Err() != nil {
		s.abort(ctx, imp, nil)
		return
	}
	if err := flush(); err != nil {
		s.abort(ctx, imp, err)
		return
	}

	status := StatusCompleted
	if imp.snapshot().Failed > 0 {
		status = StatusCompletedWithErrors
	}
	s.finish(ctx, imp, status, nil)
}

// abort ends a job that could not complete. A stopped context decides the
// outcome over err, since Store calls fail once the job is cancelled.
func (s *Service) abort(ctx context.Context, imp *activeImport, err error) {
	if cause := context.Cause(ctx); cause != nil {
		status := StatusFailed
		if errors.Is(cause, ErrImportCancelled) {
			status = StatusCancelled
		}
		s.finish(ctx, imp, status, cause)
		return
	}
	s.finish(ctx, imp, StatusFailed, err)
}

// finish records the final state, closes subscriptions and schedules the
// job for removal from memory.
func (s *Service) finish(ctx context.Context, imp *activeImport, status JobStatus, cause error) {
	imp.finishOnce.Do(func() {
		finished := time.Now().UTC()
		job := imp.update(func(j *ImportJob) {
			j.Status = status
			j.FinishedAt = &finished
			if cause != nil {
				j.Error = cause.Error()
				j.ErrorCode = MapError(cause).Code
			}
		})

		storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
		defer cancel()
		if err := s.store.UpdateJob(storeCtx, job); err != nil {
			logging.FromContext(ctx).Error("record import result", "error", err)
		}

		logging.FromContext(ctx).Log(ctx, levelFor(status), "import finished",
			"status", status,
			"processed", job.Processed,
			"imported", job.Imported,
			"failed", job.Failed,
			"skipped", job.Skipped,
			"error", job.Error,
		)

		imp.closeListeners(job)
		s.cleanup(job.ID.String(), s.opts.JobRetention)
	})
}

func levelFor(status JobStatus) slog.Level {
	switch status {
	case StatusFailed:
		return slog.LevelError
	case StatusCompletedWithErrors, StatusCancelled:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

func (s *Service) active(id string) (*activeImport, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	imp, ok := s.imports[id]
	return imp, ok
}

// Job returns the current state of an import.
func (s *Service) Job(ctx context.Context, id string) (ImportJob, error) {
	if imp, ok := s.active(id); ok {
		return imp.snapshot(), nil
	}
	jobID, err := uuid.Parse(id)
	if err != nil {
		return ImportJob{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return s.store.GetJob(ctx, jobID)
}

// Wait blocks until an import in memory finishes and returns its final state.
func (s *Service) Wait(ctx context.Context, id string) (ImportJob, error) {
	imp, ok := s.active(id)
	if !ok {
		return s.Job(ctx, id)
	}
	select {
	case <-imp.done:
		return imp.snapshot(), nil
	case <-ctx.Done():
		return ImportJob{}, ctx.Err()
	}
}

// RowErrors returns the row error log of an import.
func (s *Service) RowErrors(ctx context.Context, id string) ([]ingest.RowError, error) {
	job, err := s.Job(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.store.RowErrors(ctx, job.ID)
}

// SubscribeProgress returns a channel of job snapshots. The current state is
// sent immediately and the channel is closed when the job finishes. Slow
// subscribers miss intermediate updates.
func (s *Service) SubscribeProgress(id string) (<-chan ImportJob, error) {
	imp, ok := s.active(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}

	ch := make(chan ImportJob, 10)
	imp.listenerMu.Lock()
	defer imp.listenerMu.Unlock()

	ch <- imp.snapshot()
	select {
	case <-imp.done:
		close(ch)
	default:
		imp.listeners = append(imp.listeners, ch)
	}
	return ch, nil
}

// CancelImport stops a running import. Records already written are kept.
func (s *Service) CancelImport(id string) error {
	imp, ok := s.active(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	imp.cancel(ErrImportCancelled)
	return nil
}

// CancelAll stops every running import.
func (s *Service) CancelAll() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, imp := range s.imports {
		imp.cancel(ErrImportCancelled)
	}
}

// WaitForImports blocks until running imports finish or ctx is done.
func (s *Service) WaitForImports(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}

// notifyProgress sends the current snapshot to all listeners.
func (s *Service) notifyProgress(imp *activeImport) {
	job := imp.snapshot()

	imp.listenerMu.Lock()
	defer imp.listenerMu.Unlock()
	for _, ch := range imp.listeners {
		select {
		case ch <- job:
		default:
			// Listener is slow, skip this update
		}
	}
}

// closeListeners delivers the final snapshot, closes every listener and
// marks the import done. A listener whose buffer is full loses its oldest
// update so that the final state always arrives.
func (a *activeImport) closeListeners(final ImportJob) {
	a.listenerMu.Lock()
	defer a.listenerMu.Unlock()

	for _, ch := range a.listeners {
		select {
		case ch <- final:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- final:
			default:
			}
		}
		close(ch)
	}
	a.listeners = nil
	close(a.done)
}

// cleanup removes the import from memory after a delay.
func (s *Service) cleanup(id string, delay time.Duration) {
	time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.imports, id)
		s.mu.Unlock()
	})
}
