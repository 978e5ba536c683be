package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/spf13/cobra"

	"voc-insights-go/internal/aggregator"
	"voc-insights-go/internal/config"
	"voc-insights-go/internal/dataset"
	"voc-insights-go/internal/pipeline"
	"voc-insights-go/internal/report"
	"voc-insights-go/internal/store"
	"voc-insights-go/internal/types"
)

// app carries what commands share; tests swap the decryptor and store.
type app struct {
	envFile   string
	cfg       *config.Config
	decryptor dataset.Decryptor
	openStore func(*config.Config) (store.Store, error)
	// saveRetry is the pause before the first save retry.
	saveRetry time.Duration
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	a := &app{decryptor: dataset.ExcelDecryptor{}}
	if err := newRootCmd(a).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:          "vocctl",
		Short:        "vocctl - manage monthly VOC snapshots",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.envFile)
			if err != nil {
				return err
			}
			a.cfg = cfg
			return nil
		},
	}
	root.PersistentFlags().StringVar(&a.envFile, "env", ".env", "optional dotenv file")
	root.AddCommand(
		newGenerateCmd(a),
		newListCmd(a),
		newShowCmd(a),
		newDeleteCmd(a),
		newMigrateCmd(a),
		newRestoreCmd(a),
	)
	return root
}

func (a *app) withStore(fn func(store.Store) error) error {
	open := a.openStore
	if open == nil {
		open = (*config.Config).OpenStore
	}
	st, err := open(a.cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(st)
}

func newGenerateCmd(a *app) *cobra.Command {
	var file, month, countryFlag, password string
	var force bool
	var dump string
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Decrypt an export and build the month's snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			country, err := types.ParseCountry(countryFlag)
			if err != nil {
				return err
			}
			if password == "" {
				password = a.cfg.FilePassword
			}
			return a.withStore(func(st store.Store) error {
				exists, err := store.Exists(cmd.Context(), st, month, country)
				if err != nil {
					return err
				}
				if exists && !force {
					key, _ := store.KeyFor(month, country)
					return fmt.Errorf("snapshot %s already exists; pass --force to overwrite", key)
				}

				runner := pipeline.NewRunner(st, a.cfg.Summarizer(), aggregator.Options{
					TopCategories: a.cfg.TopCategories,
					SampleSize:    a.cfg.SampleSize,
					OnProgress: func(p aggregator.Progress) {
						fmt.Fprintf(cmd.ErrOrStderr(), "\rsummarizing %d/%d", p.Done, p.Total)
					},
				})
				runner.Decryptor = a.decryptor
				res, err := runner.Run(cmd.Context(), pipeline.Request{
					Path:     file,
					Password: password,
					Month:    month,
					Country:  country,
				})
				fmt.Fprintln(cmd.ErrOrStderr())
				if errors.Is(err, pipeline.ErrSave) {
					err = a.recoverSave(cmd, runner, res, dump)
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "saved %s (%d records, %d segments) in %s\n",
					res.Key, res.Snapshot.TotalCount, len(res.Snapshot.RFMSegments), res.Duration.Round(time.Millisecond))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "encrypted xlsx export")
	cmd.Flags().StringVarP(&month, "month", "m", "", "target month, YYYY-MM")
	cmd.Flags().StringVarP(&countryFlag, "country", "c", "KR", "KR or JP")
	cmd.Flags().StringVarP(&password, "password", "p", "", "file password (default $VOC_FILE_PASSWORD)")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing snapshot")
	cmd.Flags().StringVar(&dump, "dump", "", "where to write the snapshot if saving keeps failing (default ./KEY.unsaved.json)")
	cmd.MarkFlagRequired("file")
	cmd.MarkFlagRequired("month")
	return cmd
}

// recoverSave retries a failed save with backoff. When the store stays
// unavailable the snapshot is written to a file for `vocctl restore`.
func (a *app) recoverSave(cmd *cobra.Command, runner *pipeline.Runner, res pipeline.Result, dump string) error {
	b := backoff.NewExponentialBackOff()
	if a.saveRetry > 0 {
		b.InitialInterval = a.saveRetry
	}
	op := func() error {
		err := runner.Save(cmd.Context(), res)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "save failed, retrying: %v\n", err)
		}
		return err
	}
	saveErr := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, 2), cmd.Context()))
	if saveErr == nil {
		return nil
	}

	if dump == "" {
		dump = res.Key + ".unsaved.json"
	}
	f, err := os.Create(dump)
	if err != nil {
		return fmt.Errorf("%w (dump to %s also failed: %v)", saveErr, dump, err)
	}
	defer f.Close()
	if err := writeJSON(f, res.Snapshot); err != nil {
		return fmt.Errorf("%w (dump to %s also failed: %v)", saveErr, dump, err)
	}
	return fmt.Errorf("%w; snapshot written to %s, run `vocctl restore %s` to save it", saveErr, dump, dump)
}

func newListCmd(a *app) *cobra.Command {
	var countryFlag string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored snapshot keys, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(func(st store.Store) error {
				doc, err := st.LoadAll(cmd.Context())
				if err != nil {
					return err
				}
				keys := store.Keys(doc)
				if countryFlag != "" {
					country, err := types.ParseCountry(countryFlag)
					if err != nil {
						return err
					}
					keys = store.Filter(doc, country)
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "KEY\tMONTH\tCOUNTRY\tRECORDS")
				for _, k := range keys {
					snap := doc.Months[k]
					fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", k, store.DisplayMonth(k), snap.Country(), snap.TotalCount)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().StringVarP(&countryFlag, "country", "c", "", "only KR or JP")
	return cmd
}

func newShowCmd(a *app) *cobra.Command {
	var segment string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show KEY",
		Short: "Show a snapshot's segments, or one segment's categories",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			return a.withStore(func(st store.Store) error {
				snap, err := store.Get(cmd.Context(), st, key)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if segment == "" {
					if asJSON {
						return writeJSON(out, snap)
					}
					tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
					fmt.Fprintf(tw, "%s\t%d records\n", key, snap.TotalCount)
					fmt.Fprintln(tw, "SEGMENT\tDJ\tLISTENER")
					for _, s := range report.Overview(snap) {
						fmt.Fprintf(tw, "%s\t%d\t%d\n", s.Code, s.DJCount, s.ListenerCount)
					}
					return tw.Flush()
				}

				rep, err := report.Generate(key, snap, segment)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(out, rep)
				}
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				for _, rb := range []report.RoleBreakdown{rep.DJ, rep.Listener} {
					fmt.Fprintf(tw, "%s (%d)\n", rb.Role, rb.Total)
					for _, row := range rb.Rows {
						fmt.Fprintf(tw, "  %s\t%d\t%.0f%%\t%s\n", row.Category, row.Count, row.Share*100, row.Summary)
					}
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().StringVarP(&segment, "segment", "s", "", "RFM code to break down, e.g. HHM")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newDeleteCmd(a *app) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete KEY",
		Short: "Delete a stored snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("refusing to delete without --yes")
			}
			return a.withStore(func(st store.Store) error {
				if err := st.Delete(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm deletion")
	return cmd
}

func newMigrateCmd(a *app) *cobra.Command {
	var target string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Copy the JSON document into a SQLite database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			src := store.NewFileStore(a.cfg.DataDir)
			doc, err := src.LoadAll(cmd.Context())
			if err != nil {
				return err
			}
			dst, err := store.NewSQLiteStore(target)
			if err != nil {
				return err
			}
			defer dst.Close()
			n, err := dst.Import(cmd.Context(), doc)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d snapshots from %s into %s\n", n, src.Path(), target)
			return nil
		},
	}
	cmd.Flags().StringVar(&target, "to-sqlite", "", "destination database path")
	cmd.MarkFlagRequired("to-sqlite")
	return cmd
}

func newRestoreCmd(a *app) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "restore FILE",
		Short: "Save a snapshot previously dumped by generate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var snap types.Snapshot
			if err := json.Unmarshal(data, &snap); err != nil {
				return fmt.Errorf("decode %s: %w", args[0], err)
			}
			return a.withStore(func(st store.Store) error {
				exists, err := store.Exists(cmd.Context(), st, snap.Month, snap.Country())
				if err != nil {
					return err
				}
				if exists && !force {
					return fmt.Errorf("snapshot for %s %s already exists; pass --force to overwrite", snap.Month, snap.Country())
				}
				key, err := st.Save(cmd.Context(), snap)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "restored %s\n", key)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing snapshot")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
