package core

import (
	"context"

	"github.com/google/uuid"

	"github.com/JonMunkholm/finimport/internal/ingest"
)

// Store persists import jobs, their records and their row error logs.
type Store interface {
	// CreateJob records a new job.
	CreateJob(ctx context.Context, job ImportJob) error

	// UpdateJob overwrites the status and counters of a job.
	UpdateJob(ctx context.Context, job ImportJob) error

	// GetJob loads a job. Returns ErrJobNotFound when it does not exist.
	GetJob(ctx context.Context, id uuid.UUID) (ImportJob, error)

	// InsertTransactions stores records for job and returns how many were
	// new. Records whose Fingerprint is already stored for the tenant are
	// skipped.
	InsertTransactions(ctx context.Context, job ImportJob, records []ingest.TransactionRecord) (int64, error)

	// InsertRowErrors appends to the row error log of a job.
	InsertRowErrors(ctx context.Context, jobID uuid.UUID, rowErrs []ingest.RowError) error

	// RowErrors returns the row error log of a job ordered by row number.
	RowErrors(ctx context.Context, jobID uuid.UUID) ([]ingest.RowError, error)
}
