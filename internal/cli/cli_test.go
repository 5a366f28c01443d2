package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/JonMunkholm/finimport/internal/core"
	"github.com/JonMunkholm/finimport/internal/ingest"
)

const statementCSV = `Date,Amount,Description
2024-01-05,-12.50,Coffee shop purchase
2024-01-06,1500.00,Salary deposit ACME
not-a-date,20.00,Refund from store
2024-01-08,-3.99,Card payment online
`

func writeStatement(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "statement.csv")
	if err := os.WriteFile(path, []byte(statementCSV), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

// run executes the root command without a database.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DB_URL", "")

	cmd := NewRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

func TestProbeCommand(t *testing.T) {
	path := writeStatement(t)

	out, err := run(t, "probe", path)
	if err != nil {
		t.Fatalf("probe error = %v", err)
	}
	for _, want := range []string{"statement", "Recommended sheet: statement"} {
		if !strings.Contains(out, want) {
			t.Errorf("output should contain %q, got:\n%s", want, out)
		}
	}

	out, err = run(t, "probe", path, "-o", "json")
	if err != nil {
		t.Fatalf("probe -o json error = %v", err)
	}
	var result ingest.ProbeResult
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, out)
	}
	if result.RecommendedSheet != "statement" {
		t.Errorf("RecommendedSheet = %q, want %q", result.RecommendedSheet, "statement")
	}
}

func TestPreviewCommand(t *testing.T) {
	path := writeStatement(t)

	out, err := run(t, "preview", path)
	if err != nil {
		t.Fatalf("preview error = %v", err)
	}
	for _, want := range []string{"Quality score: 90/100", "Salary deposit ACME", "description"} {
		if !strings.Contains(out, want) {
			t.Errorf("output should contain %q, got:\n%s", want, out)
		}
	}
}

func TestPreviewCommand_MappingOverride(t *testing.T) {
	path := writeStatement(t)

	out, err := run(t, "preview", path, "--map", "Description=ignore", "-o", "json")
	if err != nil {
		t.Fatalf("preview error = %v", err)
	}
	var preview core.Preview
	if err := json.Unmarshal([]byte(out), &preview); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, out)
	}
	if got := preview.SuggestedMapping["Description"]; got != ingest.TargetIgnore {
		t.Errorf("Description mapped to %q, want %q", got, ingest.TargetIgnore)
	}
}

func TestCommandErrors(t *testing.T) {
	path := writeStatement(t)

	tests := []struct {
		name    string
		args    []string
		wantErr string
		target  error
	}{
		{name: "bad output", args: []string{"probe", path, "-o", "xml"}, wantErr: "unknown output format"},
		{name: "bad map", args: []string{"preview", path, "--map", "Description"}, wantErr: "invalid --map"},
		{name: "missing file", args: []string{"probe", filepath.Join(t.TempDir(), "nope.csv")}, target: os.ErrNotExist},
		{name: "unknown sheet", args: []string{"preview", path, "--sheet", "Other"}, target: ingest.ErrSheetNotFound},
		{name: "unknown format", args: []string{"probe", path, "--format", "pdf"}, target: ingest.ErrSourceUnreadable},
		{name: "missing argument", args: []string{"import"}, wantErr: "accepts 1 arg"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, tt.args...)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantErr != "" && !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want it to contain %q", err, tt.wantErr)
			}
			if tt.target != nil && !errors.Is(err, tt.target) {
				t.Errorf("error = %v, want %v", err, tt.target)
			}
		})
	}
}

func TestImportCommand_DryRun(t *testing.T) {
	path := writeStatement(t)

	out, err := run(t, "import", path)
	if err != nil {
		t.Fatalf("import error = %v", err)
	}
	for _, want := range []string{
		"completed_with_errors",
		"Row errors",
		"Dry run",
		"Salary deposit ACME",
		"2024-01-06",
		"1500",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output should contain %q, got:\n%s", want, out)
		}
	}
}

func TestImportCommand_JSON(t *testing.T) {
	path := writeStatement(t)

	out, err := run(t, "import", path, "--tenant", "acme", "--show", "2", "-o", "json")
	if err != nil {
		t.Fatalf("import error = %v", err)
	}

	var result struct {
		Job       core.ImportJob    `json:"job"`
		RowErrors []ingest.RowError `json:"rowErrors"`
		Records   []struct {
			Date   string `json:"date"`
			Amount string `json:"amount"`
		} `json:"records"`
		DryRun bool `json:"dryRun"`
	}
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, out)
	}

	if result.Job.TenantID != "acme" {
		t.Errorf("TenantID = %q, want %q", result.Job.TenantID, "acme")
	}
	if result.Job.Imported != 3 || result.Job.Failed != 1 {
		t.Errorf("imported/failed = %d/%d, want 3/1", result.Job.Imported, result.Job.Failed)
	}
	if len(result.RowErrors) != 1 || result.RowErrors[0].RowNumber != 3 {
		t.Errorf("RowErrors = %+v, want one error on row 3", result.RowErrors)
	}
	if !result.DryRun {
		t.Error("DryRun = false, want true without a database")
	}
	if len(result.Records) != 2 {
		t.Fatalf("len(Records) = %d, want 2 with --show 2", len(result.Records))
	}
	if result.Records[0].Date != "2024-01-05" || result.Records[0].Amount != "-12.5" {
		t.Errorf("first record = %+v", result.Records[0])
	}
}

func TestDescribe(t *testing.T) {
	got := describe(ingest.ErrSheetNotFound)
	if !strings.Contains(got, "SRC004") {
		t.Errorf("describe() = %q, want the SRC004 code", got)
	}
	if got := describe(errors.New("boom")); got != "boom" {
		t.Errorf("describe() = %q, want the raw message", got)
	}
}
