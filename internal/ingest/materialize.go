package ingest

import (
	"encoding/json"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionRecord is one normalized transaction.
type TransactionRecord struct {
	// Date is nil when the mapped cell was empty.
	Date *time.Time
	// Amount is invalid when the mapped cell was empty.
	Amount      decimal.NullDecimal
	Description string
	Currency    string
	// RowNumber is the 1-based position of the source row among data rows.
	RowNumber int
	// RawRow keeps the original values for auditing.
	RawRow map[string]string
	// Extra holds columns mapped to targets without a dedicated field.
	Extra map[string]string
}

// MarshalJSON renders the date as YYYY-MM-DD and absent values as null.
func (r TransactionRecord) MarshalJSON() ([]byte, error) {
	type wire struct {
		Date        *string           `json:"date"`
		Amount      *string           `json:"amount"`
		Description string            `json:"description"`
		Currency    string            `json:"currency"`
		RowNumber   int               `json:"rowNumber"`
		RawRow      map[string]string `json:"rawRow"`
		Extra       map[string]string `json:"extra,omitempty"`
	}
	w := wire{
		Description: r.Description,
		Currency:    r.Currency,
		RowNumber:   r.RowNumber,
		RawRow:      r.RawRow,
		Extra:       r.Extra,
	}
	if r.Date != nil {
		d := r.Date.Format("2006-01-02")
		w.Date = &d
	}
	if r.Amount.Valid {
		a := r.Amount.Decimal.String()
		w.Amount = &a
	}
	return json.Marshal(w)
}

// RowResult is the outcome of materializing one row: exactly one of Record
// and Err is set.
type RowResult struct {
	Record *TransactionRecord
	Err    *RowError
}

// Result partitions a materialization run into records and the error log.
type Result struct {
	Records []TransactionRecord `json:"records"`
	Errors  []RowError          `json:"errors"`
	Total   int                 `json:"total"`
}

// MaterializerRules configures conversions.
type MaterializerRules struct {
	DateLayouts []string
	// TwoDigitYearPivot is how many years into the future a two-digit year may
	// land before it is moved back a century.
	TwoDigitYearPivot int
	CurrencySymbols   []string
	// CurrencyCodes maps symbols written in a currency column to ISO codes.
	CurrencyCodes   map[string]string
	DefaultCurrency string
}

// DefaultMaterializerRules returns the standard conversion rules.
func DefaultMaterializerRules() MaterializerRules {
	return MaterializerRules{
		DateLayouts:       DefaultDateLayouts(),
		TwoDigitYearPivot: 20,
		CurrencySymbols:   DefaultCurrencySymbols(),
		CurrencyCodes: map[string]string{
			"$":  "USD",
			"€":  "EUR",
			"£":  "GBP",
			"¥":  "JPY",
			"C$": "CAD",
			"A$": "AUD",
		},
		DefaultCurrency: "USD",
	}
}

// Materializer converts rows into transaction records.
type Materializer struct {
	rules   MaterializerRules
	dates   dateParser
	amounts amountCleaner
}

// NewMaterializer creates a materializer with the given rules.
func NewMaterializer(rules MaterializerRules) *Materializer {
	return &Materializer{
		rules:   rules,
		dates:   dateParser{layouts: rules.DateLayouts, pivot: rules.TwoDigitYearPivot},
		amounts: amountCleaner{symbols: rules.CurrencySymbols},
	}
}

// Records lazily converts rows. The sequence consumes rows once, in order;
// row numbers are 1-based positions in rows. A row that fails conversion
// yields a RowResult with Err set and no record.
func (m *Materializer) Records(rows iter.Seq[Row], mapping FieldMapping) iter.Seq[RowResult] {
	return func(yield func(RowResult) bool) {
		n := 0
		for row := range rows {
			n++
			rec, err := m.convertRow(n, row, mapping)
			var res RowResult
			if err != nil {
				res.Err = err
			} else {
				res.Record = rec
			}
			if !yield(res) {
				return
			}
		}
	}
}

// Materialize converts all rows and returns the records alongside the error
// log. It never fails as a whole; bad rows are skipped and logged.
func (m *Materializer) Materialize(rows iter.Seq[Row], mapping FieldMapping) *Result {
	result := &Result{}
	for res := range m.Records(rows, mapping) {
		result.Total++
		if res.Err != nil {
			result.Errors = append(result.Errors, *res.Err)
			continue
		}
		result.Records = append(result.Records, *res.Record)
	}
	return result
}

// convertRow builds a record from a row. Any failure, including a panic in
// a conversion, becomes a RowError for that row only.
func (m *Materializer) convertRow(n int, row Row, mapping FieldMapping) (rec *TransactionRecord, rowErr *RowError) {
	column := ""
	defer func() {
		if r := recover(); r != nil {
			rec = nil
			rowErr = &RowError{
				RowNumber: n,
				Column:    column,
				Message:   fmt.Sprintf("internal error: %v", r),
				err:       fmt.Errorf("panic: %v", r),
			}
		}
	}()

	rec = &TransactionRecord{
		RowNumber: n,
		Currency:  m.rules.DefaultCurrency,
		RawRow:    row.Raw(),
	}

	for _, col := range row.Columns() {
		target, ok := mapping[col]
		if !ok || target == TargetIgnore {
			continue
		}
		column = col
		cell := row.Get(col)

		var err error
		switch target {
		case TargetDate:
			rec.Date, err = m.toDate(col, cell)
		case TargetAmount:
			rec.Amount, err = m.toAmount(col, cell)
		case TargetDescription:
			rec.Description = m.toText(cell)
		case TargetCurrency:
			rec.Currency = m.toCurrency(cell)
		default:
			if rec.Extra == nil {
				rec.Extra = make(map[string]string)
			}
			rec.Extra[string(target)] = m.toText(cell)
		}
		if err != nil {
			return nil, &RowError{RowNumber: n, Column: col, Message: err.Error(), err: err}
		}
	}
	return rec, nil
}

func (m *Materializer) toDate(col string, c Cell) (*time.Time, error) {
	if c.IsEmpty() {
		return nil, nil
	}
	if t, ok := c.Time(); ok {
		d := dateOnly(t)
		return &d, nil
	}
	t, ok := m.dates.parse(CleanCell(c.String()))
	if !ok {
		return nil, &DateParseError{Column: col, Value: c.String()}
	}
	return &t, nil
}

func (m *Materializer) toAmount(col string, c Cell) (decimal.NullDecimal, error) {
	if c.IsEmpty() {
		return decimal.NullDecimal{}, nil
	}
	if lit, ok := c.NumberLiteral(); ok {
		d, err := decimal.NewFromString(lit)
		if err != nil {
			return decimal.NullDecimal{}, &AmountParseError{Column: col, Value: lit}
		}
		return decimal.NewNullDecimal(d), nil
	}
	d, ok := m.amounts.parse(c.String())
	if !ok {
		return decimal.NullDecimal{}, &AmountParseError{Column: col, Value: c.String()}
	}
	return decimal.NewNullDecimal(d), nil
}

func (m *Materializer) toText(c Cell) string {
	if c.IsEmpty() {
		return ""
	}
	return strings.TrimSpace(c.String())
}

func (m *Materializer) toCurrency(c Cell) string {
	if c.IsEmpty() {
		return m.rules.DefaultCurrency
	}
	code := strings.ToUpper(strings.TrimSpace(c.String()))
	if iso, ok := m.rules.CurrencyCodes[code]; ok {
		code = iso
	}
	if !isCurrencyCode(code) {
		return m.rules.DefaultCurrency
	}
	return code
}

func isCurrencyCode(s string) bool {
	if len(s) != 3 {
		return false
	}
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
