package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/JonMunkholm/finimport/internal/config"
	"github.com/JonMunkholm/finimport/internal/ingest"
	"github.com/JonMunkholm/finimport/internal/logging"
)

// previewSampleRows is how many raw rows a preview shows.
const previewSampleRows = 5

// Options tunes a Service. Zero fields fall back to DefaultOptions.
type Options struct {
	Limits        ingest.Limits
	SampleSize    int
	BatchSize     int
	MaxConcurrent int
	MaxWait       time.Duration
	Timeout       time.Duration
	CacheTTL      time.Duration
	JobRetention  time.Duration

	Probe       ingest.ProbeRules
	Classify    ingest.ClassifierRules
	Materialize ingest.MaterializerRules
}

// DefaultOptions returns the settings used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		Limits:        ingest.DefaultLimits(),
		SampleSize:    ingest.DefaultSampleSize,
		BatchSize:     1000,
		MaxConcurrent: DefaultMaxConcurrentImports,
		MaxWait:       DefaultMaxWaitTime,
		Timeout:       10 * time.Minute,
		CacheTTL:      10 * time.Minute,
		JobRetention:  30 * time.Minute,
		Probe:         ingest.DefaultProbeRules(),
		Classify:      ingest.DefaultClassifierRules(),
		Materialize:   ingest.DefaultMaterializerRules(),
	}
}

// OptionsFromConfig applies the import settings of cfg to DefaultOptions.
func OptionsFromConfig(cfg config.ImportConfig) Options {
	opts := DefaultOptions()
	opts.Limits = ingest.Limits{MaxBytes: cfg.MaxFileSize, MaxRows: cfg.MaxRows}
	opts.Probe.MaxRows = cfg.MaxRows
	opts.SampleSize = cfg.SampleSize
	opts.BatchSize = cfg.BatchSize
	opts.MaxConcurrent = cfg.MaxConcurrent
	opts.MaxWait = cfg.MaxWaitTime
	opts.Timeout = cfg.Timeout
	opts.CacheTTL = cfg.CacheTTL
	opts.JobRetention = cfg.JobRetention
	return opts
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Limits == (ingest.Limits{}) {
		o.Limits = d.Limits
	}
	if o.SampleSize <= 0 {
		o.SampleSize = d.SampleSize
	}
	if o.BatchSize <= 0 {
		o.BatchSize = d.BatchSize
	}
	if o.Timeout <= 0 {
		o.Timeout = d.Timeout
	}
	if o.CacheTTL <= 0 {
		o.CacheTTL = d.CacheTTL
	}
	if o.JobRetention <= 0 {
		o.JobRetention = d.JobRetention
	}
	if o.Probe.SheetKeywords == nil {
		o.Probe = d.Probe
	}
	if o.Classify.DateLayouts == nil {
		o.Classify = d.Classify
	}
	if o.Materialize.DateLayouts == nil {
		o.Materialize = d.Materialize
	}
	return o
}

// Service runs the ingestion pipeline for clients and tracks import jobs.
// It is safe for concurrent use.
type Service struct {
	store        Store
	opts         Options
	prober       *ingest.Prober
	classifier   *ingest.Classifier
	materializer *ingest.Materializer
	limiter      *ImportLimiter
	cache        *cache.Cache

	mu      sync.RWMutex
	imports map[string]*activeImport
}

// NewService creates a Service persisting through store.
func NewService(store Store, opts Options) *Service {
	opts = opts.withDefaults()
	return &Service{
		store:        store,
		opts:         opts,
		prober:       ingest.NewProber(opts.Probe),
		classifier:   ingest.NewClassifier(opts.Classify),
		materializer: ingest.NewMaterializer(opts.Materialize),
		limiter:      NewImportLimiter(opts.MaxConcurrent, opts.MaxWait),
		cache:        cache.New(opts.CacheTTL, 2*opts.CacheTTL),
		imports:      make(map[string]*activeImport),
	}
}

// Options returns the effective settings.
func (s *Service) Options() Options {
	return s.opts
}

// open parses an upload into a document.
func (s *Service) open(u Upload) (ingest.Document, error) {
	if len(u.Data) == 0 {
		return nil, ErrNoFile
	}
	return ingest.Open(bytes.NewReader(u.Data), u.format(), u.FileName, s.opts.Limits)
}

// Probe reports the sheets of an upload and the recommended one.
// Results are cached by content hash.
func (s *Service) Probe(ctx context.Context, u Upload) (*ingest.ProbeResult, error) {
	key := "probe:" + u.Hash()
	if cached, ok := s.cache.Get(key); ok {
		return cached.(*ingest.ProbeResult), nil
	}

	doc, err := s.open(u)
	if err != nil {
		return nil, err
	}
	defer doc.Close()

	return s.probeDocument(ctx, u, doc)
}

func (s *Service) probeDocument(ctx context.Context, u Upload, doc ingest.Document) (*ingest.ProbeResult, error) {
	key := "probe:" + u.Hash()
	if cached, ok := s.cache.Get(key); ok {
		return cached.(*ingest.ProbeResult), nil
	}

	result, err := s.prober.Probe(doc)
	if err != nil {
		return nil, err
	}
	s.cache.SetDefault(key, result)

	logging.FromContext(ctx).Debug("probed source",
		"file", u.FileName,
		"sheets", len(result.Sheets),
		"recommended", result.RecommendedSheet,
	)
	return result, nil
}

// Preview classifies the columns of a sheet, suggests a mapping with
// override applied and assesses data quality. An empty sheet selects the
// recommended one.
func (s *Service) Preview(ctx context.Context, u Upload, sheet string, override map[string]string) (*Preview, error) {
	key := previewKey(u, sheet, override)
	if cached, ok := s.cache.Get(key); ok {
		return cached.(*Preview), nil
	}

	doc, err := s.open(u)
	if err != nil {
		return nil, err
	}
	defer doc.Close()

	plan, err := s.plan(ctx, u, doc, sheet, override)
	if err != nil {
		return nil, err
	}

	head := plan.table.Head(previewSampleRows)
	samples := make([]map[string]string, len(head))
	for i, row := range head {
		samples[i] = row.Raw()
	}

	preview := &Preview{
		Sheet:            plan.table.Sheet,
		Columns:          plan.table.Header,
		ColumnTypes:      plan.classification,
		SuggestedMapping: plan.mapping,
		QualityScore:     plan.quality.Score,
		Issues:           plan.quality.Issues,
		SampleRows:       samples,
		TotalRows:        len(plan.table.Rows),
		Probe:            plan.probe,
	}
	s.cache.SetDefault(key, preview)
	return preview, nil
}

// importPlan is a sheet read and analyzed, ready to materialize.
type importPlan struct {
	probe          *ingest.ProbeResult
	table          *ingest.Table
	classification ingest.Classification
	mapping        ingest.FieldMapping
	quality        ingest.DataQualityReport
}

// plan runs every whole-source check so that fatal problems surface before
// any record is materialized.
func (s *Service) plan(ctx context.Context, u Upload, doc ingest.Document, sheet string, override map[string]string) (*importPlan, error) {
	probe, err := s.probeDocument(ctx, u, doc)
	if err != nil {
		return nil, err
	}
	if sheet == "" {
		sheet = probe.RecommendedSheet
	}

	table, err := ingest.ReadSheet(doc, sheet, s.opts.Limits)
	if err != nil {
		return nil, err
	}
	if err := ingest.ValidateStructure(table); err != nil {
		return nil, err
	}

	classification := s.classifier.ClassifyColumns(table.Sample(s.opts.SampleSize))
	mapping := ingest.SuggestMapping(classification, table.Header).Merge(override)
	if err := mapping.Validate(table.Header); err != nil {
		return nil, err
	}

	return &importPlan{
		probe:          probe,
		table:          table,
		classification: classification,
		mapping:        mapping,
		quality:        s.classifier.AssessQuality(table.Head(s.opts.SampleSize), classification),
	}, nil
}

// previewKey keys a preview by content, sheet and overrides.
func previewKey(u Upload, sheet string, override map[string]string) string {
	cols := make([]string, 0, len(override))
	for c := range override {
		cols = append(cols, c)
	}
	sort.Strings(cols)

	pairs := make([][2]string, len(cols))
	for i, c := range cols {
		pairs[i] = [2]string{c, override[c]}
	}
	b, _ := json.Marshal(pairs)
	return fmt.Sprintf("preview:%s:%s:%s", u.Hash(), sheet, b)
}

// LimiterStatus returns import slot usage.
func (s *Service) LimiterStatus() LimiterStatus {
	return s.limiter.Status()
}
