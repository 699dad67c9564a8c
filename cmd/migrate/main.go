package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"gatherly.app/internal/audit"
	"gatherly.app/internal/migrate"
	"gatherly.app/internal/obs"
	"gatherly.app/internal/store/pg"
	"gatherly.app/internal/subscription"
	"gatherly.app/ops/migrations"
)

var (
	dsn     string
	dir     string
	timeout time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the Gatherly PostgreSQL schema",
	Long: `Apply, roll back and inspect schema migrations and seed files.

Migrations are read from the binary unless --dir points at a directory
containing sql/ and seeds/ subdirectories.`,
	SilenceUsage: true,
}

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: withManager(func(ctx context.Context, m *migrate.Manager) error {
		return m.Up(ctx)
	}),
}

var downCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the most recent migration",
	RunE: withManager(func(ctx context.Context, m *migrate.Manager) error {
		return m.Down(ctx)
	}),
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Run seed files that have not run yet",
	RunE: withManager(func(ctx context.Context, m *migrate.Manager) error {
		return m.Seed(ctx)
	}),
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "List applied migrations",
	RunE: withManager(func(ctx context.Context, m *migrate.Manager) error {
		history, err := m.Status(ctx)
		if err != nil {
			return err
		}
		for _, line := range history {
			fmt.Println(line)
		}
		return nil
	}),
}

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List migrations that have not been applied",
	RunE: withManager(func(ctx context.Context, m *migrate.Manager) error {
		names, err := m.Pending(ctx)
		if err != nil {
			return err
		}
		for _, name := range names {
			fmt.Println(name)
		}
		return nil
	}),
}

var assignPlanCmd = &cobra.Command{
	Use:   "assign-free-plan USER_ID...",
	Short: "Give users an active free subscription",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		svc, err := subscription.NewService(st, st, audit.Multi(st, audit.NewLogSink(obs.Logger())))
		if err != nil {
			return err
		}
		for _, userID := range args {
			sub, err := svc.AssignFreePlan(ctx, audit.System, userID)
			if err != nil {
				return fmt.Errorf("assign free plan to %s: %w", userID, err)
			}
			obs.Logger().Info("free plan assigned",
				zap.String("user_id", userID),
				zap.String("subscription_id", sub.ID),
			)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dsn, "dsn", os.Getenv("GATHERLY_PG_DSN"), "PostgreSQL DSN (default $GATHERLY_PG_DSN)")
	rootCmd.PersistentFlags().StringVar(&dir, "dir", "", "read migrations from this directory instead of the embedded set")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "overall deadline")
	rootCmd.AddCommand(upCmd, downCmd, seedCmd, statusCmd, pendingCmd, assignPlanCmd)
}

func openStore() (*pg.Store, error) {
	if dsn == "" {
		return nil, errors.New("missing DSN: provide via --dsn or GATHERLY_PG_DSN")
	}
	return pg.Open(dsn)
}

func source() fs.FS {
	if dir != "" {
		return os.DirFS(dir)
	}
	return migrations.FS
}

func withManager(fn func(ctx context.Context, m *migrate.Manager) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()
		m := migrate.NewManager(st.DB(), source(), migrations.MigrationsDir, migrations.SeedsDir)
		if err := fn(ctx, m); err != nil {
			return fmt.Errorf("migrate %s: %w", cmd.Name(), err)
		}
		return nil
	}
}

func main() {
	obs.ConfigureLogger("info")
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
