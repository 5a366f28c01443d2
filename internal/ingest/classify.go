package ingest

import (
	"regexp"
	"strings"
)

// ColumnType is the semantic type inferred for a column.
type ColumnType string

const (
	TypeDate        ColumnType = "date"
	TypeAmount      ColumnType = "amount"
	TypeDescription ColumnType = "description"
	TypeAccount     ColumnType = "account"
	TypeText        ColumnType = "text"
	TypeEmpty       ColumnType = "empty"
)

// ColumnClassification is the inferred type of one column.
type ColumnClassification struct {
	Column string     `json:"column"`
	Type   ColumnType `json:"type"`
}

// Classification holds one entry per sampled column, in column order.
type Classification []ColumnClassification

// TypeOf returns the type of column, or TypeText when it was not classified.
func (c Classification) TypeOf(column string) ColumnType {
	for _, cc := range c {
		if cc.Column == column {
			return cc.Type
		}
	}
	return TypeText
}

// Map returns the classification keyed by column name.
func (c Classification) Map() map[string]ColumnType {
	m := make(map[string]ColumnType, len(c))
	for _, cc := range c {
		m[cc.Column] = cc.Type
	}
	return m
}

// ClassifierRules holds the patterns and thresholds used for classification.
type ClassifierRules struct {
	DateLayouts     []string
	CurrencySymbols []string

	DateThreshold   float64
	AmountThreshold float64

	DescriptionKeywords   []string
	DescriptionKeywordMin float64
	DescriptionUniqueMin  float64
	DescriptionLengthMin  float64

	AccountKeywords  []string
	AccountThreshold float64
}

// DefaultClassifierRules returns the standard detection rules.
func DefaultClassifierRules() ClassifierRules {
	return ClassifierRules{
		DateLayouts:     DefaultDateLayouts(),
		CurrencySymbols: DefaultCurrencySymbols(),
		DateThreshold:   0.7,
		AmountThreshold: 0.8,
		DescriptionKeywords: []string{
			"payment", "purchase", "transfer", "deposit", "withdrawal",
			"fee", "charge", "refund", "credit", "debit", "atm",
		},
		DescriptionKeywordMin: 0.3,
		DescriptionUniqueMin:  0.6,
		DescriptionLengthMin:  8,
		AccountKeywords:       []string{"checking", "saving", "credit", "account", "acct"},
		AccountThreshold:      0.5,
	}
}

var accountNumberRegex = regexp.MustCompile(`\d{4,}`)

// detector is one step of the classification chain.
type detector struct {
	typ    ColumnType
	passes func(values []Cell) bool
}

// Classifier infers column types from sampled values.
//
// Each column runs through the detectors in the fixed order
// date, amount, description, account; the first detector that passes decides
// the type and columns that pass none are text. The order is significant:
// a free-text column whose values mostly look like dates classifies as date.
type Classifier struct {
	rules     ClassifierRules
	dates     dateParser
	amounts   amountCleaner
	detectors []detector
}

// NewClassifier creates a classifier with the given rules.
func NewClassifier(rules ClassifierRules) *Classifier {
	c := &Classifier{
		rules:   rules,
		dates:   dateParser{layouts: rules.DateLayouts, pivot: 20},
		amounts: amountCleaner{symbols: rules.CurrencySymbols},
	}
	c.detectors = []detector{
		{TypeDate, c.isDateColumn},
		{TypeAmount, c.isAmountColumn},
		{TypeDescription, c.isDescriptionColumn},
		{TypeAccount, c.isAccountColumn},
	}
	return c
}

// ClassifyColumns assigns exactly one type to every sampled column.
func (c *Classifier) ClassifyColumns(samples []ColumnSample) Classification {
	out := make(Classification, len(samples))
	for i, s := range samples {
		out[i] = ColumnClassification{Column: s.Name, Type: c.Classify(s.Values)}
	}
	return out
}

// Classify returns the type of a single column's non-null values.
func (c *Classifier) Classify(values []Cell) ColumnType {
	values = nonEmpty(values)
	if len(values) == 0 {
		return TypeEmpty
	}
	for _, d := range c.detectors {
		if d.passes(values) {
			return d.typ
		}
	}
	return TypeText
}

func (c *Classifier) isDateColumn(values []Cell) bool {
	return ratio(values, c.isDateLike) >= c.rules.DateThreshold
}

func (c *Classifier) isAmountColumn(values []Cell) bool {
	return ratio(values, c.isNumeric) >= c.rules.AmountThreshold
}

func (c *Classifier) isDescriptionColumn(values []Cell) bool {
	unique := make(map[string]struct{}, len(values))
	totalLen := 0
	for _, v := range values {
		s := v.String()
		unique[s] = struct{}{}
		totalLen += len([]rune(s))
	}
	withKeyword := ratio(values, func(v Cell) bool {
		return containsAny(v.String(), c.rules.DescriptionKeywords)
	})
	if withKeyword >= c.rules.DescriptionKeywordMin {
		return true
	}

	// Long unique values are free text unless they are account identifiers
	// such as "Checking 4821", which are unique and long for the same reason.
	uniqueRatio := float64(len(unique)) / float64(len(values))
	avgLen := float64(totalLen) / float64(len(values))
	if uniqueRatio > c.rules.DescriptionUniqueMin && avgLen > c.rules.DescriptionLengthMin {
		return ratio(values, c.isAccountIdentifier) < c.rules.AccountThreshold
	}
	return false
}

func (c *Classifier) isAccountColumn(values []Cell) bool {
	return ratio(values, func(v Cell) bool {
		s := v.String()
		return accountNumberRegex.MatchString(s) || containsAny(s, c.rules.AccountKeywords)
	}) >= c.rules.AccountThreshold
}

// isAccountIdentifier matches labels naming an account by keyword and
// number, e.g. "Checking 4821" or "ACCT 00123456". Merchant text with a
// store or phone number, such as "SHELL OIL 57442", does not match.
func (c *Classifier) isAccountIdentifier(v Cell) bool {
	s := v.String()
	return accountNumberRegex.MatchString(s) && containsAny(s, c.rules.AccountKeywords)
}

func (c *Classifier) isDateLike(v Cell) bool {
	if v.Kind() == KindDate {
		return true
	}
	return c.dates.matches(v.String())
}

func (c *Classifier) isNumeric(v Cell) bool {
	if v.Kind() == KindNumber {
		return true
	}
	_, ok := c.amounts.clean(v.String())
	return ok
}

func ratio(values []Cell, pred func(Cell) bool) float64 {
	if len(values) == 0 {
		return 0
	}
	hits := 0
	for _, v := range values {
		if pred(v) {
			hits++
		}
	}
	return float64(hits) / float64(len(values))
}

func containsAny(s string, keywords []string) bool {
	s = strings.ToLower(s)
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

func nonEmpty(values []Cell) []Cell {
	out := values[:0:0]
	for _, v := range values {
		if !v.IsEmpty() {
			out = append(out, v)
		}
	}
	return out
}
