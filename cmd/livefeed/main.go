package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/YaganovValera/livefeed/internal/app"
	"github.com/YaganovValera/livefeed/internal/config"
	"github.com/YaganovValera/livefeed/pkg/configloader"
	"github.com/YaganovValera/livefeed/pkg/logger"
)

func main() {
	var cfgFile string

	root := &cobra.Command{
		Use:           "livefeed",
		Short:         "Streams numeric values from a websocket feed into a recency window",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("config error: %w", err)
			}

			log, err := logger.New(cfg.Logging)
			if err != nil {
				return fmt.Errorf("logger init error: %w", err)
			}
			defer log.Sync()
			configloader.PrintConfig(log, cfg)

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			log.Sugar().Infow("starting service",
				"service.name", cfg.ServiceName,
				"service.version", cfg.ServiceVersion,
			)
			if err := app.Run(ctx, cfg, log); err != nil {
				log.Sugar().Errorw("application exited with error", "error", err)
				return err
			}
			log.Sugar().Infow("shutdown complete")
			return nil
		},
	}
	bindFlags(root.PersistentFlags(), &cfgFile)

	root.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.Load(cfgFile); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "configuration OK")
			return nil
		},
	})

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "livefeed: %v\n", err)
		os.Exit(1)
	}
}

func bindFlags(fs *pflag.FlagSet, cfgFile *string) {
	fs.StringVarP(cfgFile, "config", "c", "config/config.yaml", "path to config file")
}
