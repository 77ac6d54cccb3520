package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hupe1980/localvec"
	"github.com/hupe1980/localvec/cleanup"
	"github.com/hupe1980/localvec/codec"
)

func (a *app) statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print storage usage and collection statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withDB(cmd, func(db *localvec.DB) error {
				st, err := db.Stats(cmd.Context())
				if err != nil {
					return err
				}

				return a.print(cmd.OutOrStdout(), st, func(w io.Writer) error {
					fmt.Fprintf(w, "backend: %s (persistent: %t, schema: v%d)\n", st.Backend, st.Persistent, st.SchemaVersion)
					fmt.Fprintf(w, "used: %d bytes", st.Usage.Used)

					if st.Usage.Quota > 0 {
						fmt.Fprintf(w, " of %d (%.1f%%)", st.Usage.Quota, st.Usage.Percent)
					}

					fmt.Fprintln(w)

					for _, c := range st.Collections {
						fmt.Fprintf(w, "%s: %d documents, dimension %d, %s, %d indexed\n",
							c.Collection, c.Documents, c.Dimension, c.Metric, c.Index.Nodes)
					}

					return nil
				})
			})
		},
	}
}

func parseVector(s string) ([]float32, error) {
	parts := strings.Split(s, ",")
	v := make([]float32, 0, len(parts))

	for _, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("vector component %q: %w", p, err)
		}

		v = append(v, float32(f))
	}

	return v, nil
}

func (a *app) searchCmd() *cobra.Command {
	var (
		vector    string
		k         int
		filter    string
		threshold float64
		ef        int
	)

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Run a nearest-neighbour query",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			query, err := parseVector(vector)
			if err != nil {
				return err
			}

			var qopts []localvec.QueryOption

			if filter != "" {
				var expr map[string]any
				if err := (codec.JSON{}).Unmarshal([]byte(filter), &expr); err != nil {
					return fmt.Errorf("filter: %w", err)
				}

				qopts = append(qopts, localvec.WithFilter(expr))
			}

			if cmd.Flags().Changed("threshold") {
				qopts = append(qopts, localvec.WithThreshold(float32(threshold)))
			}

			if ef > 0 {
				qopts = append(qopts, localvec.WithEf(ef))
			}

			return a.withDB(cmd, func(db *localvec.DB) error {
				c, err := db.Default()
				if err != nil {
					return err
				}

				results, err := c.Search(cmd.Context(), query, k, qopts...)
				if err != nil {
					return err
				}

				return a.print(cmd.OutOrStdout(), results, func(w io.Writer) error {
					for _, r := range results {
						fmt.Fprintf(w, "%s\t%.4f\n", r.ID, r.Score)
					}

					return nil
				})
			})
		},
	}

	f := cmd.Flags()
	f.StringVar(&vector, "vector", "", "comma separated query vector")
	f.IntVar(&k, "k", 10, "number of results")
	f.StringVar(&filter, "filter", "", "JSON metadata filter")
	f.Float64Var(&threshold, "threshold", 0, "minimum score")
	f.IntVar(&ef, "ef", 0, "search beam width")
	_ = cmd.MarkFlagRequired("vector")

	return cmd
}

func (a *app) exportCmd() *cobra.Command {
	var (
		collections    []string
		withoutVectors bool
		compression    string
	)

	cmd := &cobra.Command{
		Use:   "export <name>",
		Short: "Write a bundle to the configured store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			comp, err := codec.ParseCompression(compression)
			if err != nil {
				return err
			}

			store, err := a.cfg.store(cmd.Context())
			if err != nil {
				return err
			}

			eopts := []localvec.ExportOption{localvec.WithExportCompression(comp)}
			if len(collections) > 0 {
				eopts = append(eopts, localvec.WithCollections(collections...))
			}

			if withoutVectors {
				eopts = append(eopts, localvec.WithoutVectors())
			}

			return a.withDB(cmd, func(db *localvec.DB) error {
				if err := db.ExportTo(cmd.Context(), store, args[0], eopts...); err != nil {
					return err
				}

				fmt.Fprintf(cmd.OutOrStdout(), "exported %s\n", args[0])

				return nil
			})
		},
	}

	f := cmd.Flags()
	f.StringSliceVar(&collections, "collections", nil, "collections to export, default all")
	f.BoolVar(&withoutVectors, "without-vectors", false, "export metadata only")
	f.StringVar(&compression, "compression", "zstd", "none, lz4 or zstd")

	return cmd
}

func (a *app) importCmd() *cobra.Command {
	var replace bool

	cmd := &cobra.Command{
		Use:   "import <name>",
		Short: "Restore a bundle from the configured store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.cfg.store(cmd.Context())
			if err != nil {
				return err
			}

			mode := localvec.ImportMerge
			if replace {
				mode = localvec.ImportReplace
			}

			return a.withDB(cmd, func(db *localvec.DB) error {
				res, err := db.ImportFrom(cmd.Context(), store, args[0], localvec.WithImportMode(mode))
				if err != nil {
					return err
				}

				return a.print(cmd.OutOrStdout(), res, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "imported %d documents into %d collections (%d metadata only)\n",
						res.Documents, res.Collections, res.MetadataOnly)
					return err
				})
			})
		},
	}

	cmd.Flags().BoolVar(&replace, "replace", false, "clear bundled collections first")

	return cmd
}

func (a *app) cleanupCmd() *cobra.Command {
	var (
		dryRun   bool
		schedule string
	)

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Evict old documents by age or toward a usage target",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			flags := cmd.Flags()
			if flags.Changed("max-age") {
				a.cfg.Cleanup.MaxAge, _ = flags.GetString("max-age")
			}

			if flags.Changed("keep-min") {
				a.cfg.Cleanup.KeepMinCount, _ = flags.GetInt("keep-min")
			}

			if flags.Changed("target-usage") {
				a.cfg.Cleanup.TargetUsagePercent, _ = flags.GetFloat64("target-usage")
			}

			if !flags.Changed("schedule") {
				schedule = a.cfg.Cleanup.Schedule
			}

			copts, err := a.cfg.cleanupOptions()
			if err != nil {
				return err
			}

			copts = append(copts, func(o *cleanup.Options) { o.DryRun = dryRun })

			return a.withDB(cmd, func(db *localvec.DB) error {
				c, err := db.Default()
				if err != nil {
					return err
				}

				if schedule != "" {
					return runScheduled(cmd, c, schedule, copts)
				}

				res, err := c.Cleanup(cmd.Context(), copts...)
				if err != nil {
					return err
				}

				return a.print(cmd.OutOrStdout(), res, func(w io.Writer) error {
					verb := "deleted"
					n := res.Deleted

					if res.DryRun {
						verb, n = "would delete", len(res.Selected)
					}

					_, err := fmt.Fprintf(w, "%s %d of %d documents (%.1f%%)\n", verb, n, res.Total, res.Percent)

					return err
				})
			})
		},
	}

	f := cmd.Flags()
	f.String("max-age", "", `delete documents older than this, e.g. "30d"`)
	f.Int("keep-min", 0, "documents that always remain")
	f.Float64("target-usage", 0, "usage percent to shrink to")
	f.BoolVar(&dryRun, "dry-run", false, "report without deleting")
	f.StringVar(&schedule, "schedule", "", `run on a cron schedule until interrupted, e.g. "@every 1h"`)

	return cmd
}

func runScheduled(cmd *cobra.Command, c *localvec.Collection, schedule string, copts []func(*cleanup.Options)) error {
	s, err := c.CleanupScheduler(schedule, copts...)
	if err != nil {
		return err
	}

	if err := s.Start(); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "cleanup scheduled %q\n", schedule)

	<-cmd.Context().Done()
	s.Stop(30 * time.Second)

	return nil
}

func (a *app) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations and print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withDB(cmd, func(db *localvec.DB) error {
				v, err := db.Backend().SchemaVersion(cmd.Context())
				if err != nil {
					return err
				}

				return a.print(cmd.OutOrStdout(), map[string]any{"backend": db.Backend().Name(), "schemaVersion": v}, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "%s at schema v%d\n", db.Backend().Name(), v)
					return err
				})
			})
		},
	}
}
