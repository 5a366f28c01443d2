package ingest

// convert.go turns raw cell text into typed values.
//
// These functions handle the messy reality of exported bank data:
//   - Multiple date formats (US, EU, ISO, long month names)
//   - Currency symbols and thousand separators in amounts
//   - Accounting format for negatives: (123.45)
//   - Excel formula prefixes (="value") and stray quotes

import (
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// numericRegex validates that a string is a valid numeric format after cleanup.
// Matches integers, decimals, and scientific notation.
var numericRegex = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

// DefaultDateLayouts is the ordered list of accepted date layouts. The first
// layout that parses a value wins, so month-first forms take precedence over
// day-first forms for ambiguous values such as 01/06/2024.
func DefaultDateLayouts() []string {
	return []string{
		"2006-01-02",
		"01/02/2006",
		"02/01/2006",
		"2006/01/02",
		"01-02-2006",
		"02-01-2006",
		"1/2/2006",
		"2/1/2006",
		"01/02/06",
		"02/01/06",
		"01-02-06",
		"02-01-06",
		"1/2/06",
		"January 2, 2006",
		"January 2 2006",
		"2 January 2006",
		"Jan 2, 2006",
		"Jan 2 2006",
		"2 Jan 2006",
		"02-Jan-2006",
		"02-Jan-06",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		time.RFC3339,
	}
}

// DefaultCurrencySymbols are stripped from amounts before parsing.
func DefaultCurrencySymbols() []string {
	return []string{"$", "€", "£", "¥"}
}

// dateParser parses dates against an ordered layout list.
type dateParser struct {
	layouts []string
	// pivot is how many years past the current year a two-digit year may land
	// before it is moved to the previous century.
	pivot int
	now   func() time.Time
}

// parse returns the date part of s. ok is false when no layout matches.
func (p dateParser) parse(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}

	for _, layout := range p.layouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		if hasTwoDigitYear(layout) {
			now := time.Now
			if p.now != nil {
				now = p.now
			}
			if t.Year() > now().Year()+p.pivot {
				t = t.AddDate(-100, 0, 0)
			}
		}
		return dateOnly(t), true
	}
	return time.Time{}, false
}

// matches reports whether s parses with any layout.
func (p dateParser) matches(s string) bool {
	_, ok := p.parse(s)
	return ok
}

func hasTwoDigitYear(layout string) bool {
	return strings.Contains(layout, "06") && !strings.Contains(layout, "2006")
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// amountCleaner normalizes amount text into a plain decimal literal.
type amountCleaner struct {
	symbols []string
}

// clean strips currency symbols, thousands separators and accounting
// parentheses. It returns the literal and whether it is numeric.
func (c amountCleaner) clean(s string) (string, bool) {
	s = strings.TrimSpace(CleanCell(s))
	if s == "" {
		return "", false
	}

	for _, sym := range c.symbols {
		s = strings.ReplaceAll(s, sym, "")
	}
	s = strings.ReplaceAll(s, ",", "")
	s = strings.ReplaceAll(s, " ", "")

	// Detect negative accounting format "(123.45)", with the currency symbol
	// inside or outside the parentheses
	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}

	// Trailing minus, as some ledgers print "50.00-"
	if strings.HasSuffix(s, "-") && !strings.HasPrefix(s, "-") {
		s = "-" + strings.TrimSuffix(s, "-")
	}

	if negative {
		if strings.HasPrefix(s, "-") {
			s = s[1:]
		} else {
			s = "-" + s
		}
	}

	if !numericRegex.MatchString(s) {
		return "", false
	}
	return s, true
}

// parse returns the exact decimal value of s.
func (c amountCleaner) parse(s string) (decimal.Decimal, bool) {
	lit, ok := c.clean(s)
	if !ok {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(lit)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

// CleanCell removes common export artifacts from a cell value:
// - Trims whitespace
// - Removes Excel formula prefix (="...")
// - Removes surrounding quotes
func CleanCell(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") {
		s = s[2 : len(s)-1]
	} else if strings.HasPrefix(s, "=") {
		s = s[1:]
	}

	return strings.TrimSpace(strings.Trim(s, `"'`))
}
