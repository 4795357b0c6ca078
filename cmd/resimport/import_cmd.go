package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/ResourceImport/internal/application"
	"github.com/JonMunkholm/ResourceImport/internal/config"
	"github.com/JonMunkholm/ResourceImport/internal/core"
	"github.com/JonMunkholm/ResourceImport/internal/mapping"
	"github.com/JonMunkholm/ResourceImport/internal/parser"
	"github.com/JonMunkholm/ResourceImport/internal/validate"
)

// errInvalidRows is returned by validate --strict when any row fails.
var errInvalidRows = errors.New("file has invalid rows")

// fileOptions are shared by validate and import.
type fileOptions struct {
	resourceType string
	overrides    map[string]string // field → header
}

func (o *fileOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&o.resourceType, "type", "t", "", "Resource type (required)")
	cmd.Flags().StringToStringVar(&o.overrides, "map", nil, `Mapping overrides as field=Header; an empty header unmaps ("summary=Notes,tags=")`)
	_ = cmd.MarkFlagRequired("type")
}

// validateReport is the --json output of validate.
type validateReport struct {
	File         string                  `json:"file"`
	ResourceType string                  `json:"resourceType"`
	Mapping      mapping.Mapping         `json:"mapping"`
	Unmapped     []string                `json:"unmapped"`
	Summary      validate.Summary        `json:"summary"`
	Problems     []validate.ImportResult `json:"problems"`
}

func newValidateCmd(root *rootOptions) *cobra.Command {
	var (
		opts    fileOptions
		asJSON  bool
		strict  bool
		maxRows int
	)

	cmd := &cobra.Command{
		Use:   "validate <file>",
		Short: "Check a file against a resource type without importing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := root.registry()
			if err != nil {
				return err
			}
			c, err := reg.Get(opts.resourceType)
			if err != nil {
				return err
			}

			table, err := readFile(args[0], 0)
			if err != nil {
				return err
			}
			m, err := mapping.AutoMap(c, table.Headers).Apply(opts.overrides, c, table.Headers)
			if err != nil {
				return err
			}

			results := validate.Rows(c, m, table.Rows)
			report := validateReport{
				File:         args[0],
				ResourceType: c.ResourceType,
				Mapping:      m,
				Unmapped:     m.Unmapped(c),
				Summary:      validate.Summarize(results),
				Problems:     []validate.ImportResult{},
			}
			for _, r := range results {
				if !r.Valid || len(r.Warnings) > 0 {
					report.Problems = append(report.Problems, r)
				}
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return err
				}
			} else {
				printValidation(out, report, maxRows)
			}

			if strict && report.Summary.InvalidRows > 0 {
				return fmt.Errorf("%w: %d of %d", errInvalidRows, report.Summary.InvalidRows, report.Summary.TotalRows)
			}
			return nil
		},
	}

	opts.bind(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full report as JSON")
	cmd.Flags().BoolVar(&strict, "strict", false, "Exit non-zero when any row is invalid")
	cmd.Flags().IntVar(&maxRows, "max-problems", 20, "Problem rows to print in text mode (0 for all)")
	return cmd
}

func printValidation(w io.Writer, r validateReport, maxRows int) {
	fmt.Fprintf(w, "%s as %s: %d rows, %d valid, %d invalid, %d with warnings\n",
		r.File, r.ResourceType, r.Summary.TotalRows, r.Summary.ValidRows, r.Summary.InvalidRows, r.Summary.WarningRows)

	fields := r.Mapping.Fields()
	sort.Strings(fields)
	fmt.Fprintln(w, "\nMapping:")
	for _, f := range fields {
		fmt.Fprintf(w, "  %s <- %q\n", f, r.Mapping[f])
	}
	if len(r.Unmapped) > 0 {
		fmt.Fprintf(w, "  unmapped: %s\n", strings.Join(r.Unmapped, ", "))
	}

	if len(r.Problems) == 0 {
		return
	}
	fmt.Fprintln(w, "\nProblems:")
	for i, p := range r.Problems {
		if maxRows > 0 && i == maxRows {
			fmt.Fprintf(w, "  ... %d more\n", len(r.Problems)-maxRows)
			break
		}
		for _, e := range p.Errors {
			fmt.Fprintf(w, "  row %d: error: %s\n", p.Row, e.Message)
		}
		for _, warn := range p.Warnings {
			fmt.Fprintf(w, "  row %d: warning: %s\n", p.Row, warn.Message)
		}
	}
}

func newImportCmd(root *rootOptions) *cobra.Command {
	var (
		opts   fileOptions
		target string
	)

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Validate a file and import its valid rows",
		Long: `Validate a file and import its valid rows in batches.

The target and its connection settings come from the environment
(DATABASE_URL, TARGET_KIND, TARGET_URL, IMPORT_BATCH_SIZE, ...). Invalid rows
are skipped. If a batch fails, rows in earlier batches stay imported and the
command reports which rows were not.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(func(c *config.Config) {
				if target != "" {
					c.Target.Kind = target
				}
				c.Catalog.Path = root.catalogPath
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := application.New(ctx, cfg)
			if err != nil {
				return err
			}
			defer app.Close()

			return runImport(ctx, app.Service, args[0], opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	opts.bind(cmd)
	cmd.Flags().StringVar(&target, "target", "", "Target kind: postgres or http (default: TARGET_KIND)")
	return cmd
}

// runImport drives one session through the service: upload, mapping,
// validation and import, printing progress to errOut. Interrupting ctx
// cancels before the next batch.
func runImport(ctx context.Context, svc *core.Service, path string, opts fileOptions, out, errOut io.Writer) error {
	sess, err := svc.CreateSession(ctx, opts.resourceType)
	if err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	_, err = svc.Upload(ctx, sess.ID, filepath.Base(path), f)
	f.Close()
	if err != nil {
		return err
	}

	if len(opts.overrides) > 0 {
		if _, err := svc.UpdateMapping(sess.ID, opts.overrides); err != nil {
			return err
		}
	}

	_, results, err := svc.Validate(ctx, sess.ID)
	if err != nil {
		return err
	}
	sum := validate.Summarize(results)
	fmt.Fprintf(errOut, "%d rows: %d valid, %d invalid\n", sum.TotalRows, sum.ValidRows, sum.InvalidRows)

	if _, err := svc.StartImport(ctx, sess.ID); err != nil {
		return err
	}
	events, err := svc.Subscribe(sess.ID)
	if err != nil {
		return err
	}

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return finishImport(ctx, sess, out)
			}
			if ev.Progress.TotalBatches > 0 {
				fmt.Fprintf(errOut, "batch %d/%d (%.0f%%)\n", ev.Progress.CompletedBatches, ev.Progress.TotalBatches, ev.Progress.Percent)
			}
		case <-ctx.Done():
			fmt.Fprintln(errOut, "cancelling after the current batch...")
			if err := svc.Cancel(context.WithoutCancel(ctx), sess.ID); err != nil {
				return err
			}
			return finishImport(context.WithoutCancel(ctx), sess, out)
		}
	}
}

func finishImport(ctx context.Context, sess *core.Session, out io.Writer) error {
	report, err := sess.Wait(ctx)
	if report != nil {
		fmt.Fprintf(out, "imported %d of %d rows in %d of %d batches (%s)\n",
			len(report.CommittedRows), report.TotalRows, report.CompletedBatches, report.TotalBatches, report.Duration.Round(1e6))
		if len(report.PendingRows) > 0 {
			fmt.Fprintf(out, "not imported: rows %s\n", formatRows(report.PendingRows))
		}
	}
	if err != nil {
		return errors.New(core.FormatUserError(err) + ": " + err.Error())
	}
	return nil
}

// formatRows collapses consecutive row numbers into ranges: 2-5, 9, 11-12.
func formatRows(rows []int) string {
	var parts []string
	for i := 0; i < len(rows); {
		j := i
		for j+1 < len(rows) && rows[j+1] == rows[j]+1 {
			j++
		}
		if i == j {
			parts = append(parts, fmt.Sprint(rows[i]))
		} else {
			parts = append(parts, fmt.Sprintf("%d-%d", rows[i], rows[j]))
		}
		i = j + 1
	}
	return strings.Join(parts, ", ")
}

// readFile parses a file from disk. maxBytes of 0 means unlimited.
func readFile(path string, maxBytes int64) (*parser.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parser.Parse(f, parser.Options{FileName: filepath.Base(path), MaxBytes: maxBytes})
}
