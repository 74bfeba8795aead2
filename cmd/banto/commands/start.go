package commands

import (
	"context"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shizukutanaka/Banto/internal/app"
	"github.com/shizukutanaka/Banto/internal/config"
	"github.com/shizukutanaka/Banto/internal/logging"
)

const shutdownTimeout = 30 * time.Second

// startCmd represents the start command
var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the controller",
	Long: `Start the controller with the given configuration.

Examples:
  # Start with the default config
  banto start

  # Start with a specific config
  banto start --config custom.yaml

  # Start with profiling
  banto start --profile --profile-port 6060`,
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)

	startCmd.Flags().Bool("profile", false, "Enable pprof profiling")
	startCmd.Flags().Int("profile-port", 6060, "pprof listen port")
	startCmd.Flags().String("pid-file", "", "PID file path (empty writes none)")
}

func runStart(cmd *cobra.Command, args []string) error {
	enableProfile, _ := cmd.Flags().GetBool("profile")
	profilePort, _ := cmd.Flags().GetInt("profile-port")
	pidFile, _ := cmd.Flags().GetString("pid-file")

	path := configPath()
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}

	logs, err := logging.NewFactory(cfg.Logging)
	if err != nil {
		return fmt.Errorf("initialize logging: %w", err)
	}
	defer logs.Sync()
	logger := logs.Logger("cli")

	manager, err := config.NewManager(logs.Logger("config"), path)
	if err != nil {
		return fmt.Errorf("configuration manager: %w", err)
	}

	if pidFile != "" {
		if err := writePIDFile(pidFile); err != nil {
			logger.Warn("Failed to write PID file", zap.Error(err))
		} else {
			defer os.Remove(pidFile)
		}
	}

	if enableProfile {
		go startProfiling(profilePort, logger)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Starting Banto",
		zap.String("version", app.Version),
		zap.String("config", path),
	)

	application, err := app.New(logs, manager)
	if err != nil {
		return fmt.Errorf("create application: %w", err)
	}
	if err := application.Start(); err != nil {
		return fmt.Errorf("start application: %w", err)
	}

	printStartupInfo(manager.Get())

	sig := <-sigChan
	logger.Info("Received shutdown signal", zap.String("signal", sig.String()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown failed", zap.Error(err))
		return err
	}

	logger.Info("Banto stopped")
	return nil
}

func writePIDFile(path string) error {
	return os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644)
}

func startProfiling(port int, logger *zap.Logger) {
	logger.Info("Starting profiling server", zap.Int("port", port))

	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	server := &http.Server{
		Addr:    fmt.Sprintf("localhost:%d", port),
		Handler: mux,
	}
	if err := server.ListenAndServe(); err != nil {
		logger.Error("Profiling server error", zap.Error(err))
	}
}

func printStartupInfo(cfg *config.Config) {
	fmt.Println("\n=== Banto Mining Controller ===")
	fmt.Printf("Version: %s\n", app.Version)
	fmt.Printf("Strategy: %s\n", cfg.Profit.Strategy)
	fmt.Printf("Store: %s\n", cfg.Store.Driver)
	if cfg.API.Enabled {
		fmt.Printf("API: http://%s:%d/api/v1\n", cfg.API.Host, cfg.API.Port)
		fmt.Printf("Metrics: http://%s:%d/metrics\n", cfg.API.Host, cfg.API.Port)
	}
	fmt.Println("\nPress Ctrl+C to stop")
	fmt.Println("===============================")
}
