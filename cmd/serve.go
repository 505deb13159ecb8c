package cmd

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kys42/remote-agent/agent"
	"github.com/kys42/remote-agent/internal/daemon/pidfile"
	"github.com/kys42/remote-agent/internal/daemon/server"
	"github.com/kys42/remote-agent/logging"
	"github.com/kys42/remote-agent/pkg/paths"
	"github.com/kys42/remote-agent/sessions"
)

// NewServeCmd returns the foreground daemon command.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the remote-agent daemon",
		Long:  "Run the session manager daemon in foreground mode.",
		RunE:  runServe,
	}
	cmd.Flags().String("listen", "", "TCP listen address (overrides config)")
	cmd.Flags().String("socket", "", "Unix socket path (overrides config)")
	cmd.Flags().String("pid-file", "", "PID file path (overrides config)")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
		cfg.Server.Listen = listen
		cfg.Server.Socket = ""
	}
	if socket, _ := cmd.Flags().GetString("socket"); socket != "" {
		cfg.Server.Socket = socket
	}
	if pidPath, _ := cmd.Flags().GetString("pid-file"); pidPath != "" {
		cfg.Server.PidFile = pidPath
	}

	logging.Configure(cfg.Logging)
	logger := logging.NewLogger("daemon")

	if err := paths.EnsureDirs(); err != nil {
		return fmt.Errorf("failed to create state directories: %w", err)
	}

	pidPath := cfg.Server.PidFile
	if pidPath == "" {
		pidPath = paths.PidFilePath()
	}
	if err := pidfile.Acquire(pidPath); err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}
	defer func() {
		if err := pidfile.Release(pidPath); err != nil {
			logger.Errorf("Failed to release pidfile: %v", err)
		}
	}()

	registry := agent.FromConfig(cfg)
	manager := sessions.NewManager(registry, cfg.Limits)
	srv := server.New(manager, registry)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-stop
		logger.Info("Received stop signal")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Errorf("Server shutdown error: %v", err)
		}
	}()

	logger.WithField("pid", os.Getpid()).Info("Starting daemon")
	if err := srv.ListenAndServe(cfg.Server); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}

	// Server stopped accepting requests; now reap every live session.
	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		cfg.Limits.GracePeriod.Std()+10*time.Second)
	defer cancel()
	if err := manager.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Session manager shutdown error: %v", err)
	}
	return nil
}

// NewStopCmd returns the command that signals a running daemon to stop.
func NewStopCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			pidPath := resolvePidPath(cmd)

			running, pid, err := pidfile.IsRunning(pidPath)
			if err != nil {
				return fmt.Errorf("error checking status: %w", err)
			}
			if !running {
				fmt.Println("Daemon is not running")
				return nil
			}

			process, err := os.FindProcess(pid)
			if err != nil {
				return fmt.Errorf("failed to find process %d: %w", pid, err)
			}
			if err := process.Signal(syscall.SIGTERM); err != nil {
				return fmt.Errorf("failed to send stop signal: %w", err)
			}

			fmt.Printf("Sent SIGTERM to process %d\n", pid)
			return nil
		},
	}
	cmd.Flags().String("pid-file", "", "PID file path (overrides config)")
	return cmd
}

// NewStatusCmd returns the daemon status command.
func NewStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Check daemon status",
		RunE: func(cmd *cobra.Command, args []string) error {
			pidPath := resolvePidPath(cmd)

			running, pid, err := pidfile.IsRunning(pidPath)
			if err != nil {
				return fmt.Errorf("error: %w", err)
			}
			if !running {
				fmt.Println("Stopped")
				os.Exit(1) // Non-zero for stopped state (useful for scripts)
			}

			fmt.Printf("Running (PID: %d)\n", pid)
			return nil
		},
	}
	cmd.Flags().String("pid-file", "", "PID file path (overrides config)")
	return cmd
}

// resolvePidPath picks the PID file from flag, config, then defaults.
func resolvePidPath(cmd *cobra.Command) string {
	if pidPath, _ := cmd.Flags().GetString("pid-file"); pidPath != "" {
		return pidPath
	}
	if cfg, err := loadConfig(cmd); err == nil && cfg.Server.PidFile != "" {
		return cfg.Server.PidFile
	}
	return paths.PidFilePath()
}
