package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kyuhyong/surveillance-camera/internal/retention"
)

func newSweepCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete clips older than the retention window once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.openDatabase(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			s := retention.New(a.layout(), retention.Config{
				Days:     a.cfg.Retention.Days,
				Schedule: a.cfg.Retention.Schedule,
			}, db, a.logger)
			res, err := s.Sweep(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "scanned %d, deleted %d, skipped %d\n", res.Scanned, res.Deleted, res.Skipped)
			return nil
		},
	}
}

func newClipsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clips",
		Short: "Inspect the clip index",
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List transcoded clips, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.openDatabase(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			clips, err := db.ListClips(cmd.Context(), limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "STAMP\tSTREAM\tIMAGE")
			for _, c := range clips {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", c.Stamp, c.StreamPath, c.ImagePath)
			}
			return tw.Flush()
		},
	}
	list.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of clips (0 for all)")

	cmd.AddCommand(list)
	return cmd
}
