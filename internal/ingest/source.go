package ingest

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Format discriminates the kind of tabular source.
type Format string

const (
	FormatDelimited Format = "delimited"
	FormatWorkbook  Format = "workbook"
)

// FormatFromFilename picks the format from a file extension.
// Unknown extensions are treated as delimited text.
func FormatFromFilename(name string) Format {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx", ".xlsm", ".xltx", ".xltm":
		return FormatWorkbook
	default:
		return FormatDelimited
	}
}

// ParseFormat accepts the discriminator names used by callers
// ("csv", "tsv", "txt", "delimited", "xlsx", "excel", "workbook").
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "csv", "tsv", "txt", "text", "delimited":
		return FormatDelimited, nil
	case "xlsx", "xlsm", "excel", "workbook", "spreadsheet":
		return FormatWorkbook, nil
	default:
		return "", fmt.Errorf("%w: unsupported format %q", ErrSourceUnreadable, s)
	}
}

// Limits bounds the work done on a single source.
type Limits struct {
	// MaxBytes is the largest accepted source size.
	MaxBytes int64
	// MaxRows is the largest accepted number of data rows per sheet.
	MaxRows int
}

// DefaultLimits returns a 100MB / 100,000 row ceiling.
func DefaultLimits() Limits {
	return Limits{
		MaxBytes: 100 * 1024 * 1024,
		MaxRows:  100_000,
	}
}

// Document is an opened tabular source with one or more named sheets.
// It is read-only and must be closed once probing and reading are done.
type Document interface {
	// Sheets returns sheet names in source order.
	Sheets() []string

	// Dimension reports the row and column count of a sheet, header included.
	// known is false when the source does not record its extent.
	Dimension(sheet string) (rows, cols int, known bool)

	// Scan calls fn for each row of sheet in order until fn returns false.
	// rowNum is the 1-based position of the row in the sheet.
	Scan(sheet string, fn func(rowNum int, cells []Cell) bool) error

	Close() error
}

// Open reads a source of the given format. name is the original file name
// and is used to label single-sheet sources.
func Open(r io.Reader, format Format, name string, limits Limits) (Document, error) {
	data, err := readLimited(r, limits.MaxBytes)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: empty file", ErrSourceUnreadable)
	}

	switch format {
	case FormatDelimited:
		doc, err := openDelimited(data, name)
		if err != nil {
			return nil, err
		}
		return doc, nil
	case FormatWorkbook:
		doc, err := openWorkbook(data)
		if err != nil {
			return nil, err
		}
		return doc, nil
	default:
		return nil, fmt.Errorf("%w: unsupported format %q", ErrSourceUnreadable, format)
	}
}

func readLimited(r io.Reader, max int64) ([]byte, error) {
	if max <= 0 {
		max = DefaultLimits().MaxBytes
	}
	data, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read: %v", ErrSourceUnreadable, err)
	}
	if int64(len(data)) > max {
		return nil, fmt.Errorf("%w: file exceeds %dMB limit", ErrSourceTooLarge, max/(1024*1024))
	}
	return data, nil
}

// delimitedDocument is a single-sheet source backed by parsed records.
type delimitedDocument struct {
	sheet   string
	records [][]string
	width   int
}

func openDelimited(data []byte, name string) (*delimitedDocument, error) {
	// Honour UTF-8 and UTF-16 byte order marks; invalid UTF-8 becomes U+FFFD.
	decoder := unicode.BOMOverride(unicode.UTF8.NewDecoder())
	decoded, _, err := transform.Bytes(decoder, data)
	if err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrSourceUnreadable, err)
	}

	reader := csv.NewReader(bytes.NewReader(decoded))
	reader.Comma = sniffDelimiter(decoded)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: parse: %v", ErrSourceUnreadable, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: no rows", ErrSourceUnreadable)
	}

	width := 0
	for _, rec := range records {
		width = max(width, len(rec))
	}

	return &delimitedDocument{
		sheet:   sheetNameFromFile(name),
		records: records,
		width:   width,
	}, nil
}

func sheetNameFromFile(name string) string {
	stem := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	if stem == "" || stem == "." {
		return "Sheet1"
	}
	return stem
}

func (d *delimitedDocument) Sheets() []string { return []string{d.sheet} }

func (d *delimitedDocument) Dimension(sheet string) (int, int, bool) {
	if sheet != d.sheet {
		return 0, 0, false
	}
	return len(d.records), d.width, true
}

func (d *delimitedDocument) Scan(sheet string, fn func(int, []Cell) bool) error {
	if sheet != d.sheet {
		return fmt.Errorf("%w: %q", ErrSheetNotFound, sheet)
	}
	for i, rec := range d.records {
		cells := make([]Cell, len(rec))
		for j, v := range rec {
			if strings.TrimSpace(v) == "" {
				cells[j] = Null()
			} else {
				cells[j] = Text(v)
			}
		}
		if !fn(i+1, cells) {
			return nil
		}
	}
	return nil
}

func (d *delimitedDocument) Close() error { return nil }

// sniffDelimiter picks the candidate delimiter that splits the leading lines
// into the most consistent number of fields, preferring wider rows on ties.
// Comma wins when nothing splits.
func sniffDelimiter(data []byte) rune {
	lines := leadingLines(data, 10)
	if len(lines) == 0 {
		return ','
	}
	sample := strings.Join(lines, "\n")

	best, bestScore := ',', 0
	for _, cand := range []rune{',', ';', '\t', '|'} {
		r := csv.NewReader(strings.NewReader(sample))
		r.Comma = cand
		r.FieldsPerRecord = -1
		r.LazyQuotes = true

		recs, err := r.ReadAll()
		if err != nil || len(recs) == 0 {
			continue
		}
		width := len(recs[0])
		if width < 2 {
			continue
		}
		consistent := 0
		for _, rec := range recs {
			if len(rec) == width {
				consistent++
			}
		}
		if score := consistent*100 + width; score > bestScore {
			best, bestScore = cand, score
		}
	}
	return best
}

func leadingLines(data []byte, n int) []string {
	var lines []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
		if len(lines) == n {
			break
		}
	}
	return lines
}
