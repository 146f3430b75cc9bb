// Package main is the CLI entry point for wardend.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/wardenhq/warden/internal/agent"
	"github.com/wardenhq/warden/internal/api"
	"github.com/wardenhq/warden/internal/config"
	"github.com/wardenhq/warden/internal/domain"
	"github.com/wardenhq/warden/internal/engine"
	"github.com/wardenhq/warden/internal/infra"
	"github.com/wardenhq/warden/internal/usecase"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "wardend",
	Short: "Parental-control enforcement engine",
	Long: `wardend watches the device's foreground app, enforces per-app time
limits and content rules, and escalates violations through a strike and
punishment state machine. A REST API serves the dashboard client.`,
	Version: Version,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the enforcement engine and the dashboard API",
	Long: `Starts the tick loop and the HTTP API in one process. Enforcement
itself stays paused until the dashboard issues POST /start.`,
	RunE: runServe,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Query a running daemon's status",
	RunE:  runStatus,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run:   runVersion,
}

var (
	configPath string
	debugMode  bool
	statusAddr string
	jsonOutput bool
)

func init() {
	serveCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file (YAML)")
	serveCmd.Flags().BoolVar(&debugMode, "debug", false, "Log to console at debug level")
	statusCmd.Flags().StringVar(&statusAddr, "addr", "http://localhost:8000", "Daemon API address")
	versionCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := createLogger(cfg.DataDir)
	defer func() { _ = logger.Sync() }()

	// Encrypted state store
	keys := infra.NewKeyProvider(cfg.DataDir)
	key, err := keys.EnsureKey()
	if err != nil {
		return fmt.Errorf("failed to prepare store key: %w", err)
	}
	store, err := infra.NewEncryptedStore(cfg.DataDir, key)
	if err != nil {
		return fmt.Errorf("failed to open state store: %w", err)
	}
	defer store.Close()

	// Device capabilities
	device := infra.NewAdbDevice(cfg.AdbPath, logger)
	model := infra.NewOllamaClassifier(cfg.OllamaURL, cfg.OllamaModel, logger)
	classifier := infra.NewHeuristicClassifier(model)

	var detector domain.ForegroundDetector = device
	if len(cfg.Watch) > 0 {
		detector = infra.NewProcessDetector(cfg.Watch)
		logger.Info("using process-scan foreground detector",
			zap.Int("watched", len(cfg.Watch)))
	}

	// Seed rules for installed apps (best effort)
	seedInventory(cmd.Context(), device, store, logger)

	// Core
	punisher := usecase.NewPunisher(device, logger)
	evaluator := usecase.NewEvaluator(classifier, logger)
	eng := engine.New(engine.Config{
		TickInterval:  cfg.TickInterval,
		FlushInterval: cfg.FlushInterval,
		Whitelist:     cfg.Whitelist,
	}, detector, evaluator, punisher, store, logger)

	bridge := agent.NewBridge(model, device, logger)
	server := api.New(cfg.Listen, eng, bridge, logger)

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return eng.Run(ctx) })
	g.Go(func() error { return server.Run(ctx) })

	logger.Info("wardend started",
		zap.String("listen", cfg.Listen),
		zap.String("data_dir", cfg.DataDir))

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// seedInventory upserts a default rule for every installed app the device
// reports, so the dashboard has a full list to configure.
func seedInventory(ctx context.Context, inventory domain.AppInventory, store domain.StateStore, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	apps, err := inventory.InstalledApps(ctx)
	if err != nil {
		logger.Warn("app inventory sync failed", zap.Error(err))
		return
	}
	seeded := 0
	for _, app := range apps {
		app.LimitMins = 30
		if err := store.SeedRule(app); err != nil {
			logger.Warn("rule seed failed", zap.String("package", app.Package), zap.Error(err))
			continue
		}
		seeded++
	}
	logger.Info("app inventory synced", zap.Int("apps", seeded))
}

func runStatus(cmd *cobra.Command, args []string) error {
	resp, err := http.Get(statusAddr + "/status")
	if err != nil {
		fmt.Println("Status: NOT RUNNING")
		fmt.Println("\nRun 'wardend serve' to start the daemon.")
		return nil
	}
	defer resp.Body.Close()

	var snap engine.StatusSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return fmt.Errorf("malformed status response: %w", err)
	}

	fmt.Println("\n=== wardend Status ===")
	if snap.Running {
		fmt.Println("Enforcement: RUNNING")
	} else {
		fmt.Println("Enforcement: PAUSED")
	}
	fmt.Printf("Current app: %s\n", snap.CurrentApp)
	fmt.Printf("Last verdict: %s\n", snap.LastVerdict)
	if len(snap.Logs) > 0 {
		fmt.Println("\nRecent activity:")
		for _, line := range snap.Logs {
			fmt.Printf("  %s\n", line)
		}
	}
	fmt.Println("======================")
	return nil
}

func createLogger(dataDir string) *zap.Logger {
	if debugMode {
		logger, _ := zap.NewDevelopment()
		return logger
	}

	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{filepath.Join(dataDir, "wardend.log")}
	cfg.ErrorOutputPaths = []string{filepath.Join(dataDir, "wardend.error.log")}
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		logger, _ := zap.NewProduction()
		return logger
	}
	logger, err := cfg.Build()
	if err != nil {
		// Fallback to stdout if file logging fails
		logger, _ = zap.NewProduction()
	}
	return logger
}

func runVersion(cmd *cobra.Command, args []string) {
	if jsonOutput {
		fmt.Printf(`{"version":"%s","commit":"%s","build_time":"%s"}`+"\n",
			Version, Commit, BuildTime)
	} else {
		fmt.Printf("wardend %s (commit: %s, built: %s)\n",
			Version, Commit, BuildTime)
	}
}
