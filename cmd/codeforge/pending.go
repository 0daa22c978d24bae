package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newPendingCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List executions suspended for approval",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := buildApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer app.Close()

			records, err := app.gate.Pending(ctx)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no pending suspensions")
				return nil
			}
			for _, r := range records {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  attempt %d  %s\n",
					r.Handle,
					r.CreatedAt.Format(time.RFC3339),
					r.Attempt,
					r.TaskObjective)
				for _, concern := range r.SafetyConcerns {
					fmt.Fprintf(cmd.OutOrStdout(), "    concern: %s\n", concern)
				}
			}
			return nil
		},
	}
}

func newReapCmd(configPath *string) *cobra.Command {
	var maxAge time.Duration

	cmd := &cobra.Command{
		Use:   "reap",
		Short: "Delete suspensions older than the expiry age",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := buildApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer app.Close()

			age := maxAge
			if age == 0 {
				age = app.cfg.Pipeline.MaxSuspensionAge.Std()
			}
			n, err := app.gate.Reap(ctx, age)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reaped %d expired suspension(s)\n", n)
			return nil
		},
	}
	cmd.Flags().DurationVar(&maxAge, "max-age", 0, "override the configured expiry age")
	return cmd
}
