package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"deskbridge.io/internal/migrate"
)

var (
	dsn     string
	timeout time.Duration
)

var rootCmd = &cobra.Command{
	Use:           "migrate",
	Short:         "Apply or inspect the deskbridge database schema",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if dsn == "" {
			return errors.New("missing DSN: provide via --dsn or DESKBRIDGE_DATABASE_DSN")
		}
		return nil
	},
}

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply every pending migration",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(cmd.Context(), func(ctx context.Context, mgr *migrate.Manager) error {
			applied, err := mgr.Up(ctx)
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
			}
			for _, name := range applied {
				fmt.Fprintln(cmd.OutOrStdout(), "applied", name)
			}
			return nil
		})
	},
}

var downCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the most recent migration",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(cmd.Context(), func(ctx context.Context, mgr *migrate.Manager) error {
			name, err := mgr.Down(ctx)
			if errors.Is(err, migrate.ErrNothingApplied) {
				fmt.Fprintln(cmd.OutOrStdout(), "nothing to roll back")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "rolled back", name)
			return nil
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "List applied migrations in order",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(cmd.Context(), func(ctx context.Context, mgr *migrate.Manager) error {
			history, err := mgr.Status(ctx)
			if err != nil {
				return err
			}
			for _, item := range history {
				fmt.Fprintln(cmd.OutOrStdout(), item)
			}
			return nil
		})
	},
}

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List migrations not yet applied",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(cmd.Context(), func(ctx context.Context, mgr *migrate.Manager) error {
			pending, err := mgr.Pending(ctx)
			if err != nil {
				return err
			}
			for _, item := range pending {
				fmt.Fprintln(cmd.OutOrStdout(), item)
			}
			return nil
		})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dsn, "dsn", os.Getenv("DESKBRIDGE_DATABASE_DSN"), "PostgreSQL DSN")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "overall deadline for the command")
	rootCmd.AddCommand(upCmd, downCmd, statusCmd, pendingCmd)
}

func withManager(parent context.Context, fn func(context.Context, *migrate.Manager) error) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping db: %w", err)
	}
	return fn(ctx, migrate.NewManager(db))
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
}
