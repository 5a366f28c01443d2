package core

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/finimport/internal/ingest"
)

// Upload is a source file received from a client.
type Upload struct {
	FileName string
	// Format overrides detection from FileName when set.
	Format ingest.Format
	Data   []byte
}

func (u Upload) format() ingest.Format {
	if u.Format != "" {
		return u.Format
	}
	return ingest.FormatFromFilename(u.FileName)
}

// Hash identifies the upload content. Identical bytes hash the same
// regardless of file name.
func (u Upload) Hash() string {
	sum := sha256.Sum256(u.Data)
	return hex.EncodeToString(sum[:])
}

// ImportRequest describes an import to start.
type ImportRequest struct {
	Upload Upload
	// Sheet defaults to the recommended sheet.
	Sheet string
	// Mapping overrides the suggested mapping per column.
	Mapping  map[string]string
	TenantID string
}

// Preview is what a client sees before committing to an import.
type Preview struct {
	Sheet            string                `json:"sheet"`
	Columns          []string              `json:"columns"`
	ColumnTypes      ingest.Classification `json:"columnTypes"`
	SuggestedMapping ingest.FieldMapping   `json:"suggestedMapping"`
	QualityScore     int                   `json:"qualityScore"`
	Issues           []ingest.QualityIssue `json:"issues"`
	SampleRows       []map[string]string   `json:"sampleRows"`
	TotalRows        int                   `json:"totalRows"`
	Probe            *ingest.ProbeResult   `json:"probe,omitempty"`
}

// JobStatus is the lifecycle state of an import job.
type JobStatus string

const (
	StatusPending             JobStatus = "pending"
	StatusRunning             JobStatus = "running"
	StatusCompleted           JobStatus = "completed"
	StatusCompletedWithErrors JobStatus = "completed_with_errors"
	StatusFailed              JobStatus = "failed"
	StatusCancelled           JobStatus = "cancelled"
)

// Terminal reports whether no further updates will follow.
func (s JobStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCompletedWithErrors, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// ImportJob is the state of one import. Progress subscribers receive
// snapshots of it.
type ImportJob struct {
	ID         uuid.UUID           `json:"id"`
	TenantID   string              `json:"tenantId"`
	FileName   string              `json:"fileName"`
	SourceHash string              `json:"sourceHash"`
	Sheet      string              `json:"sheet"`
	Mapping    ingest.FieldMapping `json:"mapping"`
	Status     JobStatus           `json:"status"`

	TotalRows int `json:"totalRows"`
	Processed int `json:"processed"`
	Imported  int `json:"imported"`
	Failed    int `json:"failed"`

	// Skipped counts records already stored by an earlier import of the same file.
	Skipped int `json:"skipped"`

	QualityScore int    `json:"qualityScore"`
	Error        string `json:"error,omitempty"`
	ErrorCode    string `json:"errorCode,omitempty"`
	ClientIP     string `json:"-"`

	CreatedAt  time.Time  `json:"createdAt"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

// Percent returns progress as 0-100.
func (j ImportJob) Percent() int {
	if j.Status.Terminal() {
		return 100
	}
	if j.TotalRows <= 0 {
		return 0
	}
	return j.Processed * 100 / j.TotalRows
}

// Fingerprint identifies a record by its position in a source file, so
// importing the same file twice stores each row once.
func Fingerprint(sourceHash, sheet string, rowNumber int) string {
	h := sha256.New()
	h.Write([]byte(sourceHash))
	h.Write([]byte{0})
	h.Write([]byte(sheet))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(rowNumber)))
	return hex.EncodeToString(h.Sum(nil))
}
