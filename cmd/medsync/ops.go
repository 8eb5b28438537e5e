package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/fleetmed/medsync/internal/archive"
	"github.com/fleetmed/medsync/internal/export"
	"github.com/fleetmed/medsync/internal/prefs"
	"github.com/fleetmed/medsync/internal/reconcile"
	"github.com/fleetmed/medsync/internal/syncer"
	"github.com/fleetmed/medsync/jobs"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// withStack bootstraps the services for one command run.
func withStack(cmd *cobra.Command, fn func(s *stack) error) error {
	s, err := bootstrap(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s)
}

// errAlreadyCompiled refuses to fold the same cumulative flows into a date twice.
var errAlreadyCompiled = errors.New("date already compiled, pass --force to accumulate again")

// compileDate compiles date unless its daily archive already holds rows.
func compileDate(ctx context.Context, s *stack, date string, force bool) (reconcile.Result, error) {
	if !force {
		rows, err := s.archive.ListDay(ctx, date)
		if err != nil {
			return reconcile.Result{}, err
		}
		if len(rows) > 0 {
			return reconcile.Result{}, fmt.Errorf("%w: %s", errAlreadyCompiled, date)
		}
	}
	return s.compiler.Compile(ctx, date)
}

func cmdCompile() *cobra.Command {
	var date string
	var force bool
	var cmd = &cobra.Command{
		Use:          "compile",
		Short:        "fold the ledger into the summary and archive stores",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStack(cmd, func(s *stack) error {
				if date == "" {
					date = s.cfg.Today()
				}
				res, err := compileDate(cmd.Context(), s, date, force)
				if err != nil {
					return err
				}
				s.logger.Info("compile finished", slog.String("date", res.Date), slog.Int("medicines", len(res.Items)), slog.Bool("forced", force))
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "compile date (YYYY-MM-DD), defaults to today")
	cmd.Flags().BoolVar(&force, "force", false, "compile again even if the date already has archive rows")
	return cmd
}

func cmdRollover() *cobra.Command {
	var date string
	var cmd = &cobra.Command{
		Use:          "rollover",
		Short:        "carry closing balances into opening for a new day",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStack(cmd, func(s *stack) error {
				if date == "" {
					date = s.cfg.Today()
				}
				rolled, err := s.ledger.Rollover(cmd.Context(), date)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{"date": date, "rolledOver": rolled})
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "rollover date (YYYY-MM-DD), defaults to today")
	return cmd
}

func cmdUpload() *cobra.Command {
	var date, shift string
	var cmd = &cobra.Command{
		Use:          "upload",
		Short:        "send the ledger to the remote system of record",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			in := syncer.UploadInput{Date: date}
			if shift != "" {
				sh, err := prefs.ParseShift(shift)
				if err != nil {
					return err
				}
				in.Shift = sh
			}
			return withStack(cmd, func(s *stack) error {
				if in.Date == "" {
					in.Date = s.cfg.Today()
				}
				res, err := s.syncer.UploadLedger(cmd.Context(), in)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "ledger date (YYYY-MM-DD), defaults to today")
	cmd.Flags().StringVar(&shift, "shift", "", "upload only once per shift (day or night)")
	return cmd
}

func cmdExport() *cobra.Command {
	var format, vehicle, output string
	var cmd = &cobra.Command{
		Use:          "export",
		Short:        "write the ledger as CSV or XLSX",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := export.ParseFormat(format)
			if err != nil {
				return err
			}
			return withStack(cmd, func(s *stack) error {
				if output == "" || output == "-" {
					return s.export.Export(cmd.Context(), cmd.OutOrStdout(), f, vehicle)
				}
				file, err := os.Create(output)
				if err != nil {
					return err
				}
				if err := s.export.Export(cmd.Context(), file, f, vehicle); err != nil {
					_ = file.Close()
					return err
				}
				return file.Close()
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", "csv", "output format (csv or xlsx)")
	cmd.Flags().StringVar(&vehicle, "vehicle", "", "export one vehicle only")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file, stdout when empty")
	return cmd
}

func cmdImport() *cobra.Command {
	var cmd = &cobra.Command{
		Use:          "import <file>",
		Short:        "load ledger rows from a CSV file",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer file.Close()
			return withStack(cmd, func(s *stack) error {
				n, err := s.export.Import(cmd.Context(), file)
				if err != nil {
					return err
				}
				s.logger.Info("import finished", slog.String("file", args[0]), slog.Int("rows", n))
				return printJSON(cmd.OutOrStdout(), map[string]int{"imported": n})
			})
		},
	}
	return cmd
}

// purgeOptions selects the daily archive rows removed by archive purge.
type purgeOptions struct {
	Year     int
	Month    int
	Half     string
	From     string
	To       string
	Medicine string
}

var errPurgeScope = errors.New("archive purge needs --year, --month and --half, or --from and --to")

// purgeArchive deletes one half month, or an explicit date range, of the
// daily archive.
func purgeArchive(ctx context.Context, svc *archive.Service, opts purgeOptions) (int64, error) {
	switch {
	case opts.From != "" || opts.To != "":
		if opts.From == "" || opts.To == "" {
			return 0, errPurgeScope
		}
		return svc.DeleteRange(ctx, opts.From, opts.To, opts.Medicine)
	case opts.Half != "":
		half, err := archive.ParseHalf(opts.Half)
		if err != nil {
			return 0, err
		}
		return svc.DeleteHalf(ctx, opts.Year, opts.Month, half, opts.Medicine)
	}
	return 0, errPurgeScope
}

func cmdArchive() *cobra.Command {
	var cmd = &cobra.Command{
		Use:   "archive",
		Short: "maintain the daily and monthly archives",
	}
	cmd.AddCommand(cmdArchivePurge())
	return cmd
}

func cmdArchivePurge() *cobra.Command {
	var opts purgeOptions
	var cmd = &cobra.Command{
		Use:          "purge",
		Short:        "delete daily archive rows of a half month or a date range",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStack(cmd, func(s *stack) error {
				n, err := purgeArchive(cmd.Context(), s.archive, opts)
				if err != nil {
					return err
				}
				s.logger.Info("archive purged", slog.Int64("deleted", n))
				return printJSON(cmd.OutOrStdout(), map[string]int64{"deleted": n})
			})
		},
	}
	now := time.Now()
	cmd.Flags().IntVar(&opts.Year, "year", now.Year(), "archive year")
	cmd.Flags().IntVar(&opts.Month, "month", int(now.Month()), "archive month (1-12)")
	cmd.Flags().StringVar(&opts.Half, "half", "", "half month to delete (first or second)")
	cmd.Flags().StringVar(&opts.From, "from", "", "range start (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.To, "to", "", "range end (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.Medicine, "medicine", "", "delete one medicine only")
	return cmd
}

func cmdJobs() *cobra.Command {
	var cmd = &cobra.Command{
		Use:   "jobs",
		Short: "manage queued ledger jobs",
	}
	cmd.AddCommand(cmdJobsTrigger())
	cmd.AddCommand(cmdJobsStats())
	return cmd
}

func cmdJobsTrigger() *cobra.Command {
	var date string
	var cmd = &cobra.Command{
		Use:          "trigger <task>",
		Short:        fmt.Sprintf("enqueue %s, %s or %s", jobs.TaskCompile, jobs.TaskRollover, jobs.TaskUpload),
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, err := newJobsCLI()
			if err != nil {
				return err
			}
			defer cli.Close()
			info, err := cli.client.Trigger(cmd.Context(), args[0], date)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]string{"id": info.ID, "type": info.Type, "queue": info.Queue})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "task date (YYYY-MM-DD), the worker's today when empty")
	return cmd
}

func cmdJobsStats() *cobra.Command {
	var cmd = &cobra.Command{
		Use:          "stats",
		Short:        "show the default queue state",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, err := newJobsCLI()
			if err != nil {
				return err
			}
			defer cli.Close()
			stats, err := cli.InspectQueue()
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), stats)
		},
	}
	return cmd
}
