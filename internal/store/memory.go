// Package store persists import jobs, transaction records and row error
// logs. Postgres is the production store; Memory backs dry runs and tests.
package store

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/JonMunkholm/finimport/internal/core"
	"github.com/JonMunkholm/finimport/internal/ingest"
)

// StoredTransaction is a record as kept by Memory.
type StoredTransaction struct {
	ID          uuid.UUID
	JobID       uuid.UUID
	TenantID    string
	Fingerprint string
	ingest.TransactionRecord
}

// Memory is an in-process Store. It is safe for concurrent use.
type Memory struct {
	mu      sync.RWMutex
	jobs    map[uuid.UUID]core.ImportJob
	txns    map[uuid.UUID][]StoredTransaction
	seen    map[string]struct{}
	rowErrs map[uuid.UUID][]ingest.RowError
}

var _ core.Store = (*Memory)(nil)

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{
		jobs:    make(map[uuid.UUID]core.ImportJob),
		txns:    make(map[uuid.UUID][]StoredTransaction),
		seen:    make(map[string]struct{}),
		rowErrs: make(map[uuid.UUID][]ingest.RowError),
	}
}

func (m *Memory) CreateJob(ctx context.Context, job core.ImportJob) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[job.ID]; ok {
		return fmt.Errorf("create job %s: duplicate key", job.ID)
	}
	m.jobs[job.ID] = job
	return nil
}

func (m *Memory) UpdateJob(ctx context.Context, job core.ImportJob) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[job.ID]; !ok {
		return fmt.Errorf("%w: %s", core.ErrJobNotFound, job.ID)
	}
	m.jobs[job.ID] = job
	return nil
}

func (m *Memory) GetJob(ctx context.Context, id uuid.UUID) (core.ImportJob, error) {
	if err := ctx.Err(); err != nil {
		return core.ImportJob{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, ok := m.jobs[id]
	if !ok {
		return core.ImportJob{}, fmt.Errorf("%w: %s", core.ErrJobNotFound, id)
	}
	return job, nil
}

func (m *Memory) InsertTransactions(ctx context.Context, job core.ImportJob, records []ingest.TransactionRecord) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var inserted int64
	for _, rec := range records {
		fp := core.Fingerprint(job.SourceHash, job.Sheet, rec.RowNumber)
		key := job.TenantID + "\x00" + fp
		if _, dup := m.seen[key]; dup {
			continue
		}
		m.seen[key] = struct{}{}
		m.txns[job.ID] = append(m.txns[job.ID], StoredTransaction{
			ID:                uuid.New(),
			JobID:             job.ID,
			TenantID:          job.TenantID,
			Fingerprint:       fp,
			TransactionRecord: rec,
		})
		inserted++
	}
	return inserted, nil
}

func (m *Memory) InsertRowErrors(ctx context.Context, jobID uuid.UUID, rowErrs []ingest.RowError) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rowErrs[jobID] = append(m.rowErrs[jobID], rowErrs...)
	return nil
}

func (m *Memory) RowErrors(ctx context.Context, jobID uuid.UUID) ([]ingest.RowError, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := slices.Clone(m.rowErrs[jobID])
	slices.SortStableFunc(out, func(a, b ingest.RowError) int { return a.RowNumber - b.RowNumber })
	return out, nil
}

// Transactions returns the records stored by a job in insertion order.
func (m *Memory) Transactions(jobID uuid.UUID) []StoredTransaction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.txns[jobID])
}
