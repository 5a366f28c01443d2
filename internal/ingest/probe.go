package ingest

import (
	"fmt"
	"strings"
)

// SheetInfo describes one sheet of a probed document.
type SheetInfo struct {
	Name        string `json:"name"`
	RowCount    *int   `json:"rowCount"`
	ColumnCount int    `json:"columnCount"`
	// DataDensity is the filled fraction of the sampled prefix; nil when the
	// prefix held no cells to sample.
	DataDensity          *float64 `json:"dataDensity"`
	EstimatedRecordCount *int     `json:"estimatedRecordCount"`
}

// ProbeResult is the outcome of probing a document.
type ProbeResult struct {
	Sheets           []SheetInfo `json:"sheets"`
	RecommendedSheet string      `json:"recommendedSheet"`
}

// Sheet returns the info for a sheet by name.
func (p *ProbeResult) Sheet(name string) (SheetInfo, bool) {
	for _, s := range p.Sheets {
		if s.Name == name {
			return s, true
		}
	}
	return SheetInfo{}, false
}

// ProbeRules configures structure probing and sheet recommendation.
type ProbeRules struct {
	SampleRows    int
	SampleColumns int
	// MaxRows rejects sheets with more data rows than this.
	MaxRows int

	SheetKeywords  []string
	KeywordScore   int
	DensityMin     float64
	DensityMax     float64
	DensityScore   int
	RecordCountMin int
	RecordCountMax int
	RecordScore    int
}

// DefaultProbeRules returns the standard recommendation weights.
func DefaultProbeRules() ProbeRules {
	return ProbeRules{
		SampleRows:     10,
		SampleColumns:  10,
		MaxRows:        DefaultLimits().MaxRows,
		SheetKeywords:  []string{"transaction", "trans", "statement", "activity", "history"},
		KeywordScore:   10,
		DensityMin:     0.3,
		DensityMax:     0.8,
		DensityScore:   5,
		RecordCountMin: 10,
		RecordCountMax: 10000,
		RecordScore:    3,
	}
}

// Prober inspects document structure.
type Prober struct {
	rules ProbeRules
}

// NewProber creates a prober with the given rules.
func NewProber(rules ProbeRules) *Prober {
	return &Prober{rules: rules}
}

// Probe returns per-sheet metadata and the recommended sheet.
// Only a bounded prefix of each sheet is read, so probing cost does not grow
// with sheet size.
func (p *Prober) Probe(doc Document) (*ProbeResult, error) {
	names := doc.Sheets()
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: no sheets", ErrSourceUnreadable)
	}

	result := &ProbeResult{Sheets: make([]SheetInfo, 0, len(names))}
	for _, name := range names {
		info, err := p.probeSheet(doc, name)
		if err != nil {
			return nil, err
		}
		result.Sheets = append(result.Sheets, info)
	}

	result.RecommendedSheet = p.Recommend(result.Sheets)
	return result, nil
}

func (p *Prober) probeSheet(doc Document, name string) (SheetInfo, error) {
	info := SheetInfo{Name: name}

	rows, cols, known := doc.Dimension(name)
	if known {
		if p.rules.MaxRows > 0 && rows-1 > p.rules.MaxRows {
			return SheetInfo{}, tooLarge(name, p.rules.MaxRows)
		}
		info.RowCount = &rows
		info.ColumnCount = cols
		estimated := max(rows-1, 0)
		info.EstimatedRecordCount = &estimated
	}

	var prefix [][]Cell
	width := 0
	err := doc.Scan(name, func(rowNum int, cells []Cell) bool {
		if rowNum > p.rules.SampleRows {
			return false
		}
		prefix = append(prefix, cells)
		width = max(width, len(cells))
		return true
	})
	if err != nil {
		return SheetInfo{}, err
	}

	// Short rows count their missing cells as empty.
	filled, sampled := 0, 0
	sampleCols := min(width, p.rules.SampleColumns)
	for _, cells := range prefix {
		for i := 0; i < sampleCols; i++ {
			sampled++
			if i < len(cells) && !cells[i].IsEmpty() {
				filled++
			}
		}
	}

	if !known {
		info.ColumnCount = width
	}
	if sampled > 0 {
		density := float64(filled) / float64(sampled)
		info.DataDensity = &density
	}
	return info, nil
}

// Recommend picks the sheet most likely to hold transactions.
// A single sheet is always recommended. Otherwise the highest score wins,
// ties go to the earlier sheet, and the first sheet wins when nothing scores.
// Unknown density or record counts score zero.
func (p *Prober) Recommend(sheets []SheetInfo) string {
	if len(sheets) == 0 {
		return ""
	}
	if len(sheets) == 1 {
		return sheets[0].Name
	}

	best, bestScore := 0, 0
	for i, s := range sheets {
		if score := p.Score(s); score > bestScore {
			best, bestScore = i, score
		}
	}
	return sheets[best].Name
}

// Score rates a sheet for recommendation.
func (p *Prober) Score(s SheetInfo) int {
	score := 0

	name := strings.ToLower(s.Name)
	for _, kw := range p.rules.SheetKeywords {
		if strings.Contains(name, strings.ToLower(kw)) {
			score += p.rules.KeywordScore
		}
	}

	if d := s.DataDensity; d != nil && *d >= p.rules.DensityMin && *d <= p.rules.DensityMax {
		score += p.rules.DensityScore
	}

	if n := s.EstimatedRecordCount; n != nil && *n >= p.rules.RecordCountMin && *n <= p.rules.RecordCountMax {
		score += p.rules.RecordScore
	}

	return score
}
