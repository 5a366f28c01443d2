package ingest

import (
	"errors"
	"fmt"
)

// Whole-source failures. They abort ingestion before any record is produced
// and are always returned wrapped; match them with errors.Is.
var (
	ErrSourceUnreadable       = errors.New("source unreadable")
	ErrSourceTooLarge         = errors.New("source too large")
	ErrSourceStructureInvalid = errors.New("source structure invalid")
	ErrSheetNotFound          = errors.New("sheet not found")
	ErrMappingConflict        = errors.New("mapping conflict")
	ErrUnknownColumn          = errors.New("unknown column")
)

// DateParseError reports a date cell that matched none of the configured layouts.
type DateParseError struct {
	Column string
	Value  string
}

func (e *DateParseError) Error() string {
	return fmt.Sprintf("invalid date in column %q: %q", e.Column, e.Value)
}

// AmountParseError reports an amount cell that is not a number after cleanup.
type AmountParseError struct {
	Column string
	Value  string
}

func (e *AmountParseError) Error() string {
	return fmt.Sprintf("invalid amount in column %q: %q", e.Column, e.Value)
}

// RowError is one entry of the materialization error log.
type RowError struct {
	RowNumber int    `json:"rowNumber"`
	Column    string `json:"column,omitempty"`
	Message   string `json:"message"`

	err error
}

func (e RowError) Error() string {
	return fmt.Sprintf("row %d: %s", e.RowNumber, e.Message)
}

// Unwrap exposes the conversion error, e.g. *DateParseError.
func (e RowError) Unwrap() error { return e.err }

func tooLarge(sheet string, limit int) error {
	return fmt.Errorf("%w: sheet %q has more than %d data rows", ErrSourceTooLarge, sheet, limit)
}
