package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/finimport/internal/core"
	"github.com/JonMunkholm/finimport/internal/ingest"
)

// sourceFlags are shared by every command that reads a file.
type sourceFlags struct {
	format  string
	sheet   string
	mapping []string
}

func (f *sourceFlags) register(cmd *cobra.Command, withSheet bool) {
	cmd.Flags().StringVar(&f.format, "format", "", "Source format (csv|xlsx); detected from the extension by default")
	if withSheet {
		cmd.Flags().StringVar(&f.sheet, "sheet", "", "Sheet to read (default: the recommended sheet)")
		cmd.Flags().StringArrayVarP(&f.mapping, "map", "m", nil, "Override a column mapping as COLUMN=FIELD (repeatable)")
	}
}

// upload reads path into an Upload.
func (f *sourceFlags) upload(path string) (core.Upload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return core.Upload{}, fmt.Errorf("read %s: %w", path, err)
	}
	u := core.Upload{FileName: path, Data: data}
	if f.format != "" {
		format, err := ingest.ParseFormat(f.format)
		if err != nil {
			return core.Upload{}, err
		}
		u.Format = format
	}
	return u, nil
}

// overrides parses the --map flags.
func (f *sourceFlags) overrides() (map[string]string, error) {
	if len(f.mapping) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(f.mapping))
	for _, m := range f.mapping {
		col, target, ok := strings.Cut(m, "=")
		if !ok || strings.TrimSpace(col) == "" {
			return nil, fmt.Errorf("invalid --map %q (want COLUMN=FIELD)", m)
		}
		out[strings.TrimSpace(col)] = strings.TrimSpace(target)
	}
	return out, nil
}

func newProbeCommand(opts *globalOptions) *cobra.Command {
	flags := &sourceFlags{}
	cmd := &cobra.Command{
		Use:   "probe FILE",
		Short: "List the sheets of a file and recommend one",
		Example: `  # Probe a workbook
  finimport probe statements.xlsx

  # Probe as JSON
  finimport probe statements.xlsx -o json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := flags.upload(args[0])
			if err != nil {
				return err
			}
			svc, _, cleanup, err := newService(cmd.Context(), getConfig(cmd.Context()))
			if err != nil {
				return err
			}
			defer cleanup()

			result, err := svc.Probe(cmd.Context(), u)
			if err != nil {
				return err
			}
			return newRenderer(cmd.OutOrStdout(), opts.output).probe(result)
		},
	}
	flags.register(cmd, false)
	return cmd
}

func newPreviewCommand(opts *globalOptions) *cobra.Command {
	flags := &sourceFlags{}
	cmd := &cobra.Command{
		Use:   "preview FILE",
		Short: "Show detected column types, the suggested mapping and data quality",
		Example: `  # Preview the recommended sheet
  finimport preview statement.csv

  # Preview a sheet with a mapping override
  finimport preview book.xlsx --sheet "Bank Statement" --map Memo=description`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := flags.upload(args[0])
			if err != nil {
				return err
			}
			override, err := flags.overrides()
			if err != nil {
				return err
			}
			svc, _, cleanup, err := newService(cmd.Context(), getConfig(cmd.Context()))
			if err != nil {
				return err
			}
			defer cleanup()

			preview, err := svc.Preview(cmd.Context(), u, flags.sheet, override)
			if err != nil {
				return err
			}
			return newRenderer(cmd.OutOrStdout(), opts.output).preview(preview)
		},
	}
	flags.register(cmd, true)
	return cmd
}

func newImportCommand(opts *globalOptions) *cobra.Command {
	flags := &sourceFlags{}
	var showRecords int
	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Import the transactions of a sheet",
		Long: `Import materializes every row of a sheet into transaction records and
stores them. Rows that fail to convert are reported and skipped.

Without a database URL the import is a dry run: records are kept in memory
and the first ones are printed.`,
		Example: `  # Dry run
  finimport import statement.csv

  # Import into PostgreSQL for a tenant
  finimport import statement.csv --database-url postgres://localhost/finance --tenant acme`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			u, err := flags.upload(args[0])
			if err != nil {
				return err
			}
			override, err := flags.overrides()
			if err != nil {
				return err
			}
			svc, mem, cleanup, err := newService(ctx, getConfig(ctx))
			if err != nil {
				return err
			}
			defer cleanup()

			jobID, err := svc.StartImport(ctx, core.ImportRequest{
				Upload:   u,
				Sheet:    flags.sheet,
				Mapping:  override,
				TenantID: opts.tenant,
			})
			if err != nil {
				return err
			}

			// Interrupting the command cancels the import; its final state is
			// still reported.
			stop := context.AfterFunc(ctx, func() { _ = svc.CancelImport(jobID) })
			defer stop()
			ctx = context.WithoutCancel(ctx)

			progress, err := svc.SubscribeProgress(jobID)
			if err == nil {
				for job := range progress {
					if !job.Status.Terminal() {
						fmt.Fprintf(cmd.ErrOrStderr(), "\r%s: %d%%", job.Status, job.Percent())
					}
				}
				fmt.Fprintln(cmd.ErrOrStderr())
			}

			job, err := svc.Wait(ctx, jobID)
			if err != nil {
				return err
			}
			rowErrors, err := svc.RowErrors(ctx, jobID)
			if err != nil {
				return err
			}

			r := newRenderer(cmd.OutOrStdout(), opts.output)
			var records []ingest.TransactionRecord
			if mem != nil {
				for _, t := range mem.Transactions(job.ID) {
					records = append(records, t.TransactionRecord)
				}
				if showRecords >= 0 && len(records) > showRecords {
					records = records[:showRecords]
				}
			}
			if err := r.importResult(job, rowErrors, records, mem != nil); err != nil {
				return err
			}

			switch job.Status {
			case core.StatusFailed, core.StatusCancelled:
				return fmt.Errorf("import %s: %s (Code: %s)", job.Status, job.Error, job.ErrorCode)
			}
			return nil
		},
	}
	flags.register(cmd, true)
	cmd.Flags().IntVar(&showRecords, "show", 10, "Records to print on a dry run (-1 for all)")
	return cmd
}
