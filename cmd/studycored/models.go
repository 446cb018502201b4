package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"studycore/internal/download"
)

func newModelsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List catalog models and their local state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.offlineApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.models.Initialize(cmd.Context()); err != nil {
				return err
			}
			return writeModels(cmd.OutOrStdout(), a)
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "download <id>",
		Short: "Download a catalog model into the models directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.offlineApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.models.Initialize(cmd.Context()); err != nil {
				return err
			}
			out := cmd.ErrOrStderr()
			last := -1
			err = a.models.Download(cmd.Context(), args[0], func(p download.Progress) {
				pct := int(p.Fraction() * 100)
				if pct == last {
					return
				}
				last = pct
				fmt.Fprintf(out, "\r%s / %s (%d%%)", humanize.IBytes(uint64(p.Downloaded)), humanize.IBytes(uint64(p.Total)), pct)
			})
			fmt.Fprintln(out)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s downloaded to %s\n", args[0], a.cfg.ModelsDir)
			return nil
		},
	})
	return cmd
}

// offlineApp wires the daemon without serving it, logging to stderr.
func (o *rootOptions) offlineApp(cmd *cobra.Command) (*app, error) {
	cfg, err := o.loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return build(cmd.Context(), cfg, newLogger(os.Stderr, cfg.LogLevel, cfg.LogJSON))
}

func writeModels(w io.Writer, a *app) error {
	cat := a.models.Catalog()
	sort.Slice(cat, func(i, j int) bool { return cat[i].ID < cat[j].ID })
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPURPOSE\tENGINE\tSIZE\tMIN RAM\tSTATE\tCAN RUN")
	for _, c := range cat {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%t\n",
			c.ID, c.Purpose, c.Engine,
			megabytes(c.FileSizeMB), megabytes(c.MinRAMMB),
			a.engine.State(c.ID), a.models.CanRunModel(c))
	}
	return tw.Flush()
}

func megabytes(mb int64) string {
	if mb <= 0 {
		return "-"
	}
	return humanize.IBytes(uint64(mb) * 1024 * 1024)
}
