package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newStateCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Show or change the armed flag and motion sensitivity",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the persisted control state",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.openDatabase(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()
			store, err := a.openState(db)
			if err != nil {
				return err
			}
			defer store.Close()

			st, err := store.Load(cmd.Context())
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(st, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, string(out))
			return nil
		},
	}

	var (
		armed       bool
		sensitivity int
	)
	set := &cobra.Command{
		Use:   "set",
		Short: "Update the persisted control state",
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			if !flags.Changed("armed") && !flags.Changed("sensitivity") {
				return errors.New("nothing to set: pass --armed and/or --sensitivity")
			}

			db, err := a.openDatabase(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()
			store, err := a.openState(db)
			if err != nil {
				return err
			}
			defer store.Close()

			st, err := store.Load(cmd.Context())
			if err != nil {
				return err
			}
			if flags.Changed("armed") {
				st.Armed = armed
			}
			if flags.Changed("sensitivity") {
				st.Sensitivity = sensitivity
			}
			if err := store.Save(cmd.Context(), st); err != nil {
				return err
			}
			a.logger.Info("control state updated", "armed", st.Armed, "sensitivity", st.Sensitivity)
			return nil
		},
	}
	set.Flags().BoolVar(&armed, "armed", false, "arm (true) or disarm (false) recording")
	set.Flags().IntVar(&sensitivity, "sensitivity", 3, "number of motion regions that must be exceeded")

	cmd.AddCommand(show, set)
	return cmd
}
