package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newMigrateCmd(a *app) *cobra.Command {
	var rollback bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the storage schema (tables or indexes)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			b, err := a.backends(cmd)
			if err != nil {
				return err
			}
			defer b.Close(ctx)

			run := b.migrate
			verb := "applied"
			if rollback {
				run, verb = b.rollback, "rolled back"
			}
			if run == nil {
				if rollback {
					return errors.New("rollback is not supported by the " + a.cfg.Storage.Driver + " driver")
				}
				a.log.Info().Str("driver", a.cfg.Storage.Driver).Msg("nothing to migrate")
				return nil
			}

			names, err := run(ctx)
			if err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			if len(names) == 0 {
				a.log.Info().Msg("schema is up to date")
				return nil
			}
			for _, name := range names {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", verb, name)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&rollback, "rollback", false, "roll back the last migration group")
	return cmd
}
