package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-books/internal/app"
)

func newMigrateCommand(env Env) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Opening the books applies the schema.
			return withBooks(cmd, env, func(rt *app.Runtime) error {
				if rt.Pool == nil {
					fmt.Fprintln(cmd.OutOrStdout(), "in-memory storage, nothing to migrate")
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), "schema applied")
				return nil
			})
		},
	}
}

func newSeedCommand(env Env) *cobra.Command {
	var orgID int64
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create the default ledger groups and system ledgers of an organization",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireOrg(orgID); err != nil {
				return err
			}
			return withBooks(cmd, env, func(rt *app.Runtime) error {
				n, err := rt.Books.Directory.SeedDefaults(cmd.Context(), orgID)
				if err != nil {
					return fmt.Errorf("seeding defaults: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "seeded %d system ledgers for organization %d\n", n, orgID)
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&orgID, "org", 0, "organization id (required)")
	_ = cmd.MarkFlagRequired("org")
	return cmd
}

func newCounterCommand(env Env) *cobra.Command {
	counterCmd := &cobra.Command{
		Use:   "counter",
		Short: "Inspect and repair voucher number counters",
	}

	var orgID int64
	peekCmd := &cobra.Command{
		Use:   "peek <voucher-type>",
		Short: "Print the current counter value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireOrg(orgID); err != nil {
				return err
			}
			return withBooks(cmd, env, func(rt *app.Runtime) error {
				value, err := rt.Books.Allocator.Peek(cmd.Context(), orgID, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %d\n", args[0], value)
				return nil
			})
		},
	}
	peekCmd.Flags().Int64Var(&orgID, "org", 0, "organization id (required)")
	_ = peekCmd.MarkFlagRequired("org")

	var (
		resyncOrg int64
		value     int64
	)
	resyncCmd := &cobra.Command{
		Use:   "resync <voucher-type>",
		Short: "Raise a drifted counter to at least --value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireOrg(resyncOrg); err != nil {
				return err
			}
			if value <= 0 {
				return fmt.Errorf("--value must be positive")
			}
			return withBooks(cmd, env, func(rt *app.Runtime) error {
				stored, err := rt.Books.Allocator.Resync(cmd.Context(), resyncOrg, args[0], value)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %d\n", args[0], stored)
				return nil
			})
		},
	}
	resyncCmd.Flags().Int64Var(&resyncOrg, "org", 0, "organization id (required)")
	resyncCmd.Flags().Int64Var(&value, "value", 0, "lowest acceptable counter value")
	_ = resyncCmd.MarkFlagRequired("org")
	_ = resyncCmd.MarkFlagRequired("value")

	counterCmd.AddCommand(peekCmd, resyncCmd)
	return counterCmd
}

func newSyncChartsCommand(env Env) *cobra.Command {
	var orgID int64
	cmd := &cobra.Command{
		Use:   "sync-charts",
		Short: "Ensure a chart of accounts row for every ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireOrg(orgID); err != nil {
				return err
			}
			return withBooks(cmd, env, func(rt *app.Runtime) error {
				n, err := rt.Books.Directory.SyncCharts(cmd.Context(), orgID)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "synced %d ledgers\n", n)
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&orgID, "org", 0, "organization id (required)")
	_ = cmd.MarkFlagRequired("org")
	return cmd
}

func newTrialBalanceCommand(env Env) *cobra.Command {
	var (
		orgID int64
		asOf  string
	)
	cmd := &cobra.Command{
		Use:   "trial-balance",
		Short: "Print the trial balance of an organization as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireOrg(orgID); err != nil {
				return err
			}
			var at *time.Time
			if asOf != "" {
				day, err := time.Parse(time.DateOnly, asOf)
				if err != nil {
					return fmt.Errorf("--as-of: %w", err)
				}
				end := day.Add(24*time.Hour - time.Nanosecond)
				at = &end
			}
			return withBooks(cmd, env, func(rt *app.Runtime) error {
				tb, err := rt.Books.Ledger.TrialBalance(cmd.Context(), orgID, at, true)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), tb)
			})
		},
	}
	cmd.Flags().Int64Var(&orgID, "org", 0, "organization id (required)")
	cmd.Flags().StringVar(&asOf, "as-of", "", "last day to include (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("org")
	return cmd
}
