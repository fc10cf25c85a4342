package main

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/logging"
	"github.com/hackgods/clinic-scheduling/internal/scheduling"
)

func main() {
	if err := newRootCmd(openPostgres).Execute(); err != nil {
		os.Exit(1)
	}
}

// opener yields the repository a command runs against plus its cleanup.
type opener func(ctx context.Context) (scheduling.Repository, scheduling.Options, func(), error)

func openPostgres(ctx context.Context) (scheduling.Repository, scheduling.Options, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, scheduling.Options{}, nil, err
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pool, err := db.ConnectPostgres(connectCtx, cfg.PostgresDSN)
	if err != nil {
		return nil, scheduling.Options{}, nil, err
	}

	log := logging.NewWithWriter(os.Stderr, cfg.LogLevel).With().Str("component", "schedctl").Logger()
	opts := scheduling.Options{Logger: log}
	return scheduling.NewPgRepository(pool), opts, pool.Close, nil
}

func newRootCmd(open opener) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "schedctl",
		Short:        "Inspect and maintain clinic schedules",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(listCmd(open))
	rootCmd.AddCommand(conflictCmd(open))
	rootCmd.AddCommand(statsCmd(open))
	rootCmd.AddCommand(dailyCmd(open))
	rootCmd.AddCommand(sweepCmd(open))

	return rootCmd
}
