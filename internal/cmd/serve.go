package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/denniswebb/iptpanel/internal/api"
	"github.com/denniswebb/iptpanel/internal/config"
	"github.com/denniswebb/iptpanel/internal/iptables"
	"github.com/denniswebb/iptpanel/internal/logging"
	"github.com/denniswebb/iptpanel/internal/metrics"
)

// ServeCmd runs the HTTP API on the firewall host.
var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the iptables JSON API",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := logging.GetLogger()
		if logger == nil {
			logger = slog.Default()
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		timeout, err := cfg.CommandTimeoutDuration()
		if err != nil {
			return err
		}

		executor := iptables.NewExecutor(cfg.IptablesPath, cfg.Sudo)
		name, prefix := executor.Command(nil)
		commandPrefix := strings.Join(append([]string{name}, prefix...), " ")
		manager := iptables.NewManager(executor, commandPrefix, logger.With(slog.String("component", "iptables")))

		server := api.NewServer(api.Config{
			Listen:         cfg.Listen,
			CORSOrigin:     cfg.CORSOrigin,
			CommandTimeout: timeout,
		}, manager, metrics.NewMetrics(), metrics.NewHealthChecker(), logger)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigCh)

		done := make(chan error, 1)
		go func() {
			done <- server.Start(ctx)
		}()

		logger.Info("panel starting",
			slog.String("listen", cfg.Listen),
			slog.String("executor", commandPrefix),
			slog.String("command_timeout", timeout.String()),
		)

		select {
		case sig := <-sigCh:
			logger.Info("shutdown signal received", slog.String("signal", sig.String()))
		case err := <-done:
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			return nil
		}

		cancel()
		if err := <-done; err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		logger.Info("panel shutdown complete")
		return nil
	},
}

func init() {
	ServeCmd.Flags().String("listen", ":5000", "Address the API listens on")
	ServeCmd.Flags().String("iptables-path", iptables.DefaultBinary, "Path to the iptables binary")
	ServeCmd.Flags().Bool("sudo", true, "Run iptables through sudo")
	ServeCmd.Flags().String("command-timeout", "30s", "Timeout for a single iptables invocation")
	ServeCmd.Flags().String("cors-origin", "*", "Value of Access-Control-Allow-Origin")

	for _, key := range []string{"listen", "iptables-path", "sudo", "command-timeout", "cors-origin"} {
		bindFlag(key, ServeCmd, false)
	}
}
