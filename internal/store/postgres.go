package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/finimport/internal/config"
	"github.com/JonMunkholm/finimport/internal/core"
	"github.com/JonMunkholm/finimport/internal/ingest"
)

//go:embed schema.sql
var schemaSQL string

// transactionColumns is the COPY column order; copyRow must match it.
var transactionColumns = []string{
	"id", "job_id", "tenant_id", "fingerprint", "row_number",
	"txn_date", "amount", "description", "currency", "extra", "raw_row",
}

var rowErrorColumns = []string{"job_id", "row_number", "column_name", "message"}

const jobColumns = `id, tenant_id, file_name, source_hash, sheet, mapping, status,
	total_rows, processed, imported, failed, skipped, quality_score,
	error, error_code, client_ip, created_at, started_at, finished_at`

// Connect opens a connection pool using the database settings.
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)
	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// Postgres stores imports in PostgreSQL.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ core.Store = (*Postgres)(nil)

// NewPostgres creates a store on pool. Call EnsureSchema before first use.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// EnsureSchema creates the tables if they do not exist.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (p *Postgres) CreateJob(ctx context.Context, job core.ImportJob) error {
	mapping, err := json.Marshal(job.Mapping)
	if err != nil {
		return fmt.Errorf("encode mapping: %w", err)
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO import_jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		pgUUID(job.ID), job.TenantID, job.FileName, job.SourceHash, job.Sheet, mapping, string(job.Status),
		job.TotalRows, job.Processed, job.Imported, job.Failed, job.Skipped, job.QualityScore,
		job.Error, job.ErrorCode, job.ClientIP, job.CreatedAt, job.StartedAt, job.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert import job: %w", err)
	}
	return nil
}

func (p *Postgres) UpdateJob(ctx context.Context, job core.ImportJob) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE import_jobs SET
			status = $2, total_rows = $3, processed = $4, imported = $5, failed = $6,
			skipped = $7, error = $8, error_code = $9, started_at = $10, finished_at = $11
		WHERE id = $1`,
		pgUUID(job.ID), string(job.Status), job.TotalRows, job.Processed, job.Imported, job.Failed,
		job.Skipped, job.Error, job.ErrorCode, job.StartedAt, job.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("update import job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", core.ErrJobNotFound, job.ID)
	}
	return nil
}

func (p *Postgres) GetJob(ctx context.Context, id uuid.UUID) (core.ImportJob, error) {
	var (
		job     core.ImportJob
		jobID   pgtype.UUID
		mapping []byte
		status  string
	)
	err := p.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM import_jobs WHERE id = $1`, pgUUID(id)).Scan(
		&jobID, &job.TenantID, &job.FileName, &job.SourceHash, &job.Sheet, &mapping, &status,
		&job.TotalRows, &job.Processed, &job.Imported, &job.Failed, &job.Skipped, &job.QualityScore,
		&job.Error, &job.ErrorCode, &job.ClientIP, &job.CreatedAt, &job.StartedAt, &job.FinishedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.ImportJob{}, fmt.Errorf("%w: %s", core.ErrJobNotFound, id)
	}
	if err != nil {
		return core.ImportJob{}, fmt.Errorf("get import job: %w", err)
	}

	job.ID = uuid.UUID(jobID.Bytes)
	job.Status = core.JobStatus(status)
	if err := json.Unmarshal(mapping, &job.Mapping); err != nil {
		return core.ImportJob{}, fmt.Errorf("decode mapping: %w", err)
	}
	return job, nil
}

// InsertTransactions copies records into a staging table and moves them
// into transactions, skipping fingerprints the tenant already has.
func (p *Postgres) InsertTransactions(ctx context.Context, job core.ImportJob, records []ingest.TransactionRecord) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	rows := make([][]any, len(records))
	for i, rec := range records {
		row, err := copyRow(job, rec)
		if err != nil {
			return 0, fmt.Errorf("row %d: %w", rec.RowNumber, err)
		}
		rows[i] = row
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		CREATE TEMP TABLE transactions_staging
		(LIKE transactions INCLUDING DEFAULTS) ON COMMIT DROP`); err != nil {
		return 0, fmt.Errorf("create staging table: %w", err)
	}

	if _, err := tx.CopyFrom(ctx,
		pgx.Identifier{"transactions_staging"},
		transactionColumns,
		pgx.CopyFromRows(rows),
	); err != nil {
		return 0, fmt.Errorf("copy transactions: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		INSERT INTO transactions SELECT * FROM transactions_staging
		ON CONFLICT (tenant_id, fingerprint) DO NOTHING`)
	if err != nil {
		return 0, fmt.Errorf("move staged transactions: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (p *Postgres) InsertRowErrors(ctx context.Context, jobID uuid.UUID, rowErrs []ingest.RowError) error {
	if len(rowErrs) == 0 {
		return nil
	}
	id := pgUUID(jobID)
	_, err := p.pool.CopyFrom(ctx,
		pgx.Identifier{"import_row_errors"},
		rowErrorColumns,
		pgx.CopyFromSlice(len(rowErrs), func(i int) ([]any, error) {
			e := rowErrs[i]
			return []any{id, int32(e.RowNumber), e.Column, e.Message}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("copy row errors: %w", err)
	}
	return nil
}

func (p *Postgres) RowErrors(ctx context.Context, jobID uuid.UUID) ([]ingest.RowError, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT row_number, column_name, message
		FROM import_row_errors
		WHERE job_id = $1
		ORDER BY row_number`, pgUUID(jobID))
	if err != nil {
		return nil, fmt.Errorf("query row errors: %w", err)
	}
	defer rows.Close()

	var out []ingest.RowError
	for rows.Next() {
		var e ingest.RowError
		if err := rows.Scan(&e.RowNumber, &e.Column, &e.Message); err != nil {
			return nil, fmt.Errorf("scan row error: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// copyRow converts a record into COPY values in transactionColumns order.
func copyRow(job core.ImportJob, rec ingest.TransactionRecord) ([]any, error) {
	raw, err := json.Marshal(rec.RawRow)
	if err != nil {
		return nil, fmt.Errorf("encode raw row: %w", err)
	}
	var extra []byte
	if len(rec.Extra) > 0 {
		if extra, err = json.Marshal(rec.Extra); err != nil {
			return nil, fmt.Errorf("encode extra: %w", err)
		}
	}

	return []any{
		pgUUID(uuid.New()),
		pgUUID(job.ID),
		job.TenantID,
		core.Fingerprint(job.SourceHash, job.Sheet, rec.RowNumber),
		int32(rec.RowNumber),
		pgDate(rec),
		pgNumeric(rec),
		rec.Description,
		rec.Currency,
		extra,
		raw,
	}, nil
}

func pgUUID(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: true}
}

func pgDate(rec ingest.TransactionRecord) pgtype.Date {
	if rec.Date == nil {
		return pgtype.Date{}
	}
	return pgtype.Date{Time: *rec.Date, Valid: true}
}

// pgNumeric keeps the exact decimal; no float conversion is involved.
func pgNumeric(rec ingest.TransactionRecord) pgtype.Numeric {
	if !rec.Amount.Valid {
		return pgtype.Numeric{}
	}
	d := rec.Amount.Decimal
	return pgtype.Numeric{Int: d.Coefficient(), Exp: d.Exponent(), Valid: true}
}
