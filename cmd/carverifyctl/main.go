package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/carverify/carverify/internal/app"
	"github.com/carverify/carverify/internal/config"
	"github.com/carverify/carverify/pkg/log"
)

var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logOpts := log.NewOptions()
	logOpts.Format = "console"
	logOpts.Level = "warn"
	logOpts.Service = "carverifyctl"

	rootCmd := &cobra.Command{
		Use:           "carverifyctl",
		Short:         "Operator tool for the Car Verify report service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return log.Init(logOpts)
		},
	}
	logOpts.AddFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(maintenanceCmd())
	rootCmd.AddCommand(vinCmd())
	rootCmd.AddCommand(pendingCmd())
	rootCmd.AddCommand(retryCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(operatorKeyCmd())

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// openApp loads configuration and connects to the database.
func openApp(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg, log.Std(), app.Options{})
}
