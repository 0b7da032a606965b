// Package commands implements booksctl, the admin CLI of the books.
package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-books/internal/app"
)

// Opener connects the books for one command run.
type Opener func(ctx context.Context) (*app.Runtime, error)

// Env carries what the commands need from the process.
type Env struct {
	Open Opener
	// Jobs is optional; job commands fail without it.
	Jobs func() (*JobsCLI, error)
}

// DefaultEnv opens the books from the environment configuration.
func DefaultEnv() Env {
	return Env{
		Open: func(ctx context.Context) (*app.Runtime, error) {
			cfg, err := app.LoadConfig()
			if err != nil {
				return nil, err
			}
			return app.OpenBooks(ctx, cfg, app.NewLogger(cfg), nil)
		},
		Jobs: func() (*JobsCLI, error) {
			cfg, err := app.LoadConfig()
			if err != nil {
				return nil, err
			}
			return NewJobsCLI(cfg.Redis())
		},
	}
}

// NewRootCommand creates the root CLI command with all subcommands registered.
func NewRootCommand(env Env) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "booksctl",
		Short: "Administer the Odyssey books",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		newMigrateCommand(env),
		newSeedCommand(env),
		newCounterCommand(env),
		newSyncChartsCommand(env),
		newTrialBalanceCommand(env),
		newJobsCommand(env),
	)

	return rootCmd
}

// withBooks opens the books, runs fn and closes them again.
func withBooks(cmd *cobra.Command, env Env, fn func(rt *app.Runtime) error) error {
	if env.Open == nil {
		return fmt.Errorf("books not configured")
	}
	rt, err := env.Open(cmd.Context())
	if err != nil {
		return fmt.Errorf("opening books: %w", err)
	}
	defer rt.Close()
	return fn(rt)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func requireOrg(orgID int64) error {
	if orgID <= 0 {
		return fmt.Errorf("--org must be a positive organization id")
	}
	return nil
}
