package core_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/finimport/internal/core"
	"github.com/JonMunkholm/finimport/internal/ingest"
	"github.com/JonMunkholm/finimport/internal/store"
)

const statementCSV = `Date,Amount,Description
2024-01-05,-12.50,Coffee shop purchase
2024-01-06,1500.00,Salary deposit ACME
not-a-date,20.00,Refund from store
2024-01-08,-3.99,Card payment online
`

func statement() core.Upload {
	return core.Upload{FileName: "statement.csv", Data: []byte(statementCSV)}
}

func newService(t *testing.T, s core.Store, mutate func(*core.Options)) *core.Service {
	t.Helper()
	opts := core.DefaultOptions()
	if mutate != nil {
		mutate(&opts)
	}
	return core.NewService(s, opts)
}

// blockingStore parks every transaction insert until the job context ends.
type blockingStore struct {
	*store.Memory
	entered chan struct{}
}

func newBlockingStore() *blockingStore {
	return &blockingStore{Memory: store.NewMemory(), entered: make(chan struct{}, 1)}
}

func (b *blockingStore) InsertTransactions(ctx context.Context, _ core.ImportJob, _ []ingest.TransactionRecord) (int64, error) {
	select {
	case b.entered <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return 0, ctx.Err()
}

func TestService_Probe(t *testing.T) {
	svc := newService(t, store.NewMemory(), nil)
	ctx := context.Background()

	first, err := svc.Probe(ctx, statement())
	require.NoError(t, err)
	assert.Equal(t, "statement", first.RecommendedSheet)

	second, err := svc.Probe(ctx, statement())
	require.NoError(t, err)
	assert.Same(t, first, second, "probe results are cached by content")

	_, err = svc.Probe(ctx, core.Upload{FileName: "empty.csv"})
	assert.ErrorIs(t, err, core.ErrNoFile)

	_, err = svc.Probe(ctx, core.Upload{FileName: "book.xlsx", Data: []byte("not a workbook")})
	assert.ErrorIs(t, err, ingest.ErrSourceUnreadable)
}

func TestService_Preview(t *testing.T) {
	svc := newService(t, store.NewMemory(), nil)
	ctx := context.Background()

	preview, err := svc.Preview(ctx, statement(), "", nil)
	require.NoError(t, err)

	assert.Equal(t, "statement", preview.Sheet)
	assert.Equal(t, []string{"Date", "Amount", "Description"}, preview.Columns)
	assert.Equal(t, 4, preview.TotalRows)
	assert.Equal(t, ingest.FieldMapping{
		"Date":        ingest.TargetDate,
		"Amount":      ingest.TargetAmount,
		"Description": ingest.TargetDescription,
	}, preview.SuggestedMapping)
	assert.Equal(t, ingest.TypeDate, preview.ColumnTypes.TypeOf("Date"))
	assert.Equal(t, 90, preview.QualityScore)
	require.Len(t, preview.Issues, 1)
	assert.Equal(t, ingest.IssueUnparseable, preview.Issues[0].Type)
	require.Len(t, preview.SampleRows, 4)
	assert.Equal(t, "Coffee shop purchase", preview.SampleRows[0]["Description"])

	overridden, err := svc.Preview(ctx, statement(), "statement", map[string]string{"Description": "ignore"})
	require.NoError(t, err)
	assert.Equal(t, ingest.TargetIgnore, overridden.SuggestedMapping["Description"])

	_, err = svc.Preview(ctx, statement(), "", map[string]string{"Description": "amount"})
	assert.ErrorIs(t, err, ingest.ErrMappingConflict)

	_, err = svc.Preview(ctx, statement(), "Summary", nil)
	assert.ErrorIs(t, err, ingest.ErrSheetNotFound)
}

func TestService_ImportCompletesWithRowErrors(t *testing.T) {
	mem := store.NewMemory()
	svc := newService(t, mem, func(o *core.Options) { o.BatchSize = 2 })
	ctx := core.ContextWithIPAddress(context.Background(), "10.0.0.7")

	id, err := svc.StartImport(ctx, core.ImportRequest{Upload: statement(), TenantID: "acme"})
	require.NoError(t, err)

	job, err := svc.Wait(ctx, id)
	require.NoError(t, err)

	assert.Equal(t, core.StatusCompletedWithErrors, job.Status)
	assert.Equal(t, 4, job.TotalRows)
	assert.Equal(t, 4, job.Processed)
	assert.Equal(t, 3, job.Imported)
	assert.Equal(t, 1, job.Failed)
	assert.Equal(t, 0, job.Skipped)
	assert.Equal(t, 100, job.Percent())
	assert.Equal(t, "10.0.0.7", job.ClientIP)
	require.NotNil(t, job.FinishedAt)

	stored := mem.Transactions(job.ID)
	require.Len(t, stored, 3)
	assert.Equal(t, []int{1, 2, 4}, []int{stored[0].RowNumber, stored[1].RowNumber, stored[2].RowNumber})
	assert.Equal(t, "1500", stored[1].Amount.Decimal.String())

	rowErrs, err := svc.RowErrors(ctx, id)
	require.NoError(t, err)
	require.Len(t, rowErrs, 1)
	assert.Equal(t, 3, rowErrs[0].RowNumber)
	assert.Equal(t, "Date", rowErrs[0].Column)

	persisted, err := mem.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusCompletedWithErrors, persisted.Status)

	require.NoError(t, svc.WaitForImports(ctx))
	assert.Equal(t, 0, svc.LimiterStatus().Active)
}

func TestService_ReimportSkipsStoredRows(t *testing.T) {
	svc := newService(t, store.NewMemory(), nil)
	ctx := context.Background()

	for i, wantImported := range []int{3, 0} {
		id, err := svc.StartImport(ctx, core.ImportRequest{Upload: statement(), TenantID: "acme"})
		require.NoError(t, err)
		job, err := svc.Wait(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, wantImported, job.Imported, "import #%d", i+1)
		assert.Equal(t, 3-wantImported, job.Skipped, "import #%d", i+1)
	}
}

func TestService_ImportFailsFast(t *testing.T) {
	svc := newService(t, store.NewMemory(), nil)
	ctx := context.Background()

	tests := []struct {
		name string
		req  core.ImportRequest
		want error
	}{
		{
			name: "unknown sheet",
			req:  core.ImportRequest{Upload: statement(), Sheet: "Summary"},
			want: ingest.ErrSheetNotFound,
		},
		{
			name: "mapping conflict",
			req:  core.ImportRequest{Upload: statement(), Mapping: map[string]string{"Description": "date"}},
			want: ingest.ErrMappingConflict,
		},
		{
			name: "unknown column",
			req:  core.ImportRequest{Upload: statement(), Mapping: map[string]string{"Memo": "description"}},
			want: ingest.ErrUnknownColumn,
		},
		{
			name: "too narrow",
			req:  core.ImportRequest{Upload: core.Upload{FileName: "x.csv", Data: []byte("a,b\n1,2\n")}},
			want: ingest.ErrSourceStructureInvalid,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.StartImport(ctx, tt.req)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, 0, svc.LimiterStatus().Active, "slot released")
		})
	}
}

func TestService_SubscribeProgressEndsWithFinalState(t *testing.T) {
	blocking := newBlockingStore()
	svc := newService(t, blocking, func(o *core.Options) { o.BatchSize = 1 })
	ctx := context.Background()

	id, err := svc.StartImport(ctx, core.ImportRequest{Upload: statement()})
	require.NoError(t, err)

	updates, err := svc.SubscribeProgress(id)
	require.NoError(t, err)

	<-blocking.entered
	require.NoError(t, svc.CancelImport(id))

	var last core.ImportJob
	for job := range updates {
		last = job
	}
	assert.Equal(t, core.StatusCancelled, last.Status)
	assert.Equal(t, "IMP003", last.ErrorCode)

	// Subscribing after the end yields the final state and a closed channel.
	late, err := svc.SubscribeProgress(id)
	require.NoError(t, err)
	final, ok := <-late
	require.True(t, ok)
	assert.Equal(t, core.StatusCancelled, final.Status)
	_, ok = <-late
	assert.False(t, ok)
}

func TestService_TimeoutFailsJob(t *testing.T) {
	blocking := newBlockingStore()
	svc := newService(t, blocking, func(o *core.Options) {
		o.BatchSize = 1
		o.Timeout = 50 * time.Millisecond
	})
	ctx := context.Background()

	id, err := svc.StartImport(ctx, core.ImportRequest{Upload: statement()})
	require.NoError(t, err)

	job, err := svc.Wait(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, core.StatusFailed, job.Status)
	assert.Equal(t, "IMP004", job.ErrorCode)
}

func TestService_TooManyImports(t *testing.T) {
	blocking := newBlockingStore()
	svc := newService(t, blocking, func(o *core.Options) {
		o.BatchSize = 1
		o.MaxConcurrent = 1
		o.MaxWait = 50 * time.Millisecond
	})
	ctx := context.Background()

	id, err := svc.StartImport(ctx, core.ImportRequest{Upload: statement()})
	require.NoError(t, err)
	<-blocking.entered

	_, err = svc.StartImport(ctx, core.ImportRequest{Upload: statement()})
	assert.ErrorIs(t, err, core.ErrTooManyImports)

	svc.CancelAll()
	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, svc.WaitForImports(waitCtx))

	job, err := svc.Job(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, core.StatusCancelled, job.Status)
}

func TestService_JobNotFound(t *testing.T) {
	svc := newService(t, store.NewMemory(), nil)
	ctx := context.Background()

	_, err := svc.Job(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, core.ErrJobNotFound)

	_, err = svc.Job(ctx, "6f1c2b9e-8a51-4d0e-9b43-2f6c1c6a7d10")
	assert.ErrorIs(t, err, core.ErrJobNotFound)

	_, err = svc.SubscribeProgress("missing")
	assert.ErrorIs(t, err, core.ErrJobNotFound)
	assert.ErrorIs(t, svc.CancelImport("missing"), core.ErrJobNotFound)
}

func TestFingerprint(t *testing.T) {
	a := core.Fingerprint("hash", "Sheet1", 1)
	assert.Len(t, a, 64)
	assert.Equal(t, a, core.Fingerprint("hash", "Sheet1", 1))
	assert.NotEqual(t, a, core.Fingerprint("hash", "Sheet1", 2))
	assert.NotEqual(t, a, core.Fingerprint("hash", "Sheet2", 1))
	assert.False(t, strings.ContainsAny(a, "ABCDEF"))
}
