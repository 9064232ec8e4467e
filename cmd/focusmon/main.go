// Package main is the CLI entry point for focusmon.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/eliteGoblin/focusd/focus_mon/internal/config"
	"github.com/eliteGoblin/focusd/focus_mon/internal/daemon"
	"github.com/eliteGoblin/focusd/focus_mon/internal/domain"
	"github.com/eliteGoblin/focusd/focus_mon/internal/infra"
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
	Use:   "focusmon",
	Short: "Focus monitor - notices when you drift off task",
	Long: `focusmon samples the active window once a second, asks a local
vision-language model whether what is on screen matches your task, and
nudges you with a notification when you get distracted.

Screenshots never leave the machine: analysis runs against a local
Ollama server and only focus transitions are stored, encrypted.`,
	Version:      Version,
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the monitor in the foreground",
	RunE:  runForeground,
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the monitor in the background",
	RunE:  runStart,
}

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Start the monitor at login (macOS LaunchAgent)",
	RunE:  runInstall,
}

var uninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Stop starting the monitor at login",
	RunE:  runUninstall,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the monitor is running and today's focus counts",
	RunE:  runStatus,
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "List recent focus transitions",
	RunE:  runEvents,
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check screen capture permission and the analysis service",
	RunE:  runCheck,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	RunE:  runConfig,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Prints version, commit, and build time. Use --json for machine-readable output.`,
	Run:   runVersion,
}

// Hidden daemon command - used for self-exec by start
var daemonCmd = &cobra.Command{
	Use:    "daemon",
	Hidden: true,
	RunE:   runDaemon,
}

var (
	configPath  string
	eventsLimit int
	jsonOutput  bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ~/.focusmon/config.yaml)")
	eventsCmd.Flags().IntVar(&eventsLimit, "limit", 20, "Number of events to show")
	versionCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(uninstallCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(daemonCmd)
}

func runForeground(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := zap.NewDevelopment()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	return runMonitor(cfg, logger)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := createLogger(cfg.Logging)
	defer func() { _ = logger.Sync() }()

	return runMonitor(cfg, logger)
}

func runMonitor(cfg *config.Config, logger *zap.Logger) error {
	monitor, err := buildMonitor(cfg, logger)
	if err != nil {
		logger.Error("failed to build monitor", zap.Error(err))
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return monitor.Run(ctx)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if state, alive := daemonState(cfg); alive {
		fmt.Printf("focusmon is already running (pid %d)\n", state.PID)
		return nil
	}

	path := configPath
	if path != "" {
		if path, err = filepath.Abs(path); err != nil {
			return err
		}
	}

	pid, err := daemon.StartDaemon(path)
	if err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}
	fmt.Printf("focusmon started (pid %d)\n", pid)
	fmt.Printf("Logs: %s\n", cfg.Logging.File)
	return nil
}

// launchAgent returns the login item manager, which exists only on macOS.
func launchAgent(cfg *config.Config, logger *zap.Logger) (domain.LaunchAgentManager, error) {
	if runtime.GOOS != "darwin" {
		return nil, fmt.Errorf("login start is only supported on macOS (running on %s)", runtime.GOOS)
	}
	return infra.NewLaunchAgentManager(&infra.RealCommandRunner{}, infra.RealUserHome(), cfg.Storage.DataDir, logger), nil
}

// agentPaths resolves the absolute binary and config paths the agent runs with.
func agentPaths() (execPath, cfgPath string, err error) {
	if execPath, err = os.Executable(); err != nil {
		return "", "", err
	}
	if execPath, err = filepath.EvalSymlinks(execPath); err != nil {
		return "", "", err
	}
	cfgPath = configPath
	if cfgPath == "" {
		cfgPath = infra.DetectPaths().ConfigPath
	}
	if cfgPath, err = filepath.Abs(cfgPath); err != nil {
		return "", "", err
	}
	return execPath, cfgPath, nil
}

func runInstall(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	agent, err := launchAgent(cfg, zap.NewNop())
	if err != nil {
		return err
	}
	execPath, cfgPath, err := agentPaths()
	if err != nil {
		return err
	}

	if state, alive := daemonState(cfg); alive {
		fmt.Printf("Note: focusmon is already running (pid %d); the agent's copy will exit until it stops.\n", state.PID)
	}
	if err := agent.Install(cmd.Context(), execPath, cfgPath); err != nil {
		return fmt.Errorf("failed to install launch agent: %w", err)
	}
	fmt.Printf("focusmon will start at login (%s)\n", agent.PlistPath())
	return nil
}

func runUninstall(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	agent, err := launchAgent(cfg, zap.NewNop())
	if err != nil {
		return err
	}
	if !agent.IsInstalled() {
		fmt.Println("focusmon is not set to start at login")
		return nil
	}
	if err := agent.Uninstall(cmd.Context()); err != nil {
		return fmt.Errorf("failed to remove launch agent: %w", err)
	}
	fmt.Println("focusmon will no longer start at login")
	return nil
}

// daemonState reads the liveness record and checks the PID is still alive.
func daemonState(cfg *config.Config) (*domain.DaemonState, bool) {
	store, err := infra.OpenEventStore(cfg.Storage.DataDir)
	if err != nil {
		return nil, false
	}
	defer store.Close()

	state, err := store.GetDaemonState(context.Background())
	if err != nil {
		return nil, false
	}
	return state, infra.NewProcessManager().IsRunning(state.PID)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	store, err := infra.OpenEventStore(cfg.Storage.DataDir)
	if err != nil {
		return err
	}
	defer store.Close()
	ctx := context.Background()

	fmt.Println("\n=== focusmon Status ===")

	state, err := store.GetDaemonState(ctx)
	switch {
	case errors.Is(err, domain.ErrNotRunning):
		fmt.Println("Status: NOT RUNNING")
		fmt.Println("\nRun 'focusmon start' to begin monitoring.")
	case err != nil:
		return err
	case infra.NewProcessManager().IsRunning(state.PID):
		fmt.Printf("Status: RUNNING (pid %d, version %s)\n", state.PID, state.AppVersion)
		fmt.Printf("Uptime: %s\n", time.Since(state.StartedAt).Round(time.Second))
		fmt.Printf("Last heartbeat: %s ago\n", time.Since(state.LastHeartbeat).Round(time.Second))
	default:
		fmt.Printf("Status: NOT RUNNING (stale record for pid %d)\n", state.PID)
	}

	now := time.Now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	counts, err := store.CountSince(ctx, midnight)
	if err != nil {
		return err
	}
	fmt.Printf("Events: %s\n", store.Path())
	fmt.Println("\nToday:")
	fmt.Printf("  focused:    %d\n", counts[domain.StatusFocused])
	fmt.Printf("  distracted: %d\n", counts[domain.StatusDistracted])

	if cfg.Focus.Task != "" {
		fmt.Printf("\nTask: %s\n", cfg.Focus.Task)
	}
	if agent, err := launchAgent(cfg, zap.NewNop()); err == nil {
		switch execPath, cfgPath, perr := agentPaths(); {
		case !agent.IsInstalled():
			fmt.Println("Start at login: no")
		case perr == nil && agent.NeedsUpdate(execPath, cfgPath):
			fmt.Println("Start at login: yes (outdated, run 'focusmon install')")
		default:
			fmt.Println("Start at login: yes")
		}
	}
	fmt.Println("=======================")
	return nil
}

func runEvents(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	store, err := infra.OpenEventStore(cfg.Storage.DataDir)
	if err != nil {
		return err
	}
	defer store.Close()

	events, err := store.Recent(context.Background(), eventsLimit)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Println("No focus events recorded yet.")
		return nil
	}

	for _, e := range events {
		line := fmt.Sprintf("%s  %-10s  %s", e.RecordedAt.Local().Format("2006-01-02 15:04:05"), e.Status, e.Subject)
		if e.AppName != "" {
			line += fmt.Sprintf(" [%s]", e.AppName)
		}
		fmt.Println(line)
		if e.Message != "" {
			fmt.Printf("    %s\n", e.Message)
		}
	}
	return nil
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := zap.NewNop()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	failed := false

	platform, err := infra.NewPlatform(&infra.RealCommandRunner{}, infra.PlatformOptions{
		BundleID: cfg.Capture.BundleID,
		Display:  cfg.Capture.Display,
	}, logger)
	switch {
	case err != nil:
		fmt.Printf("Screen capture: FAIL (%v)\n", err)
		failed = true
	case platform.Permissions.HasPermission(ctx):
		fmt.Println("Screen capture: OK")
	default:
		fmt.Println("Screen capture: DENIED (grant Screen Recording permission and retry)")
		failed = true
	}
	if platform != nil && platform.Closer != nil {
		platform.Closer.Close()
	}

	client := infra.NewOllamaClient(cfg.OllamaConfig(), logger)
	if err := client.Health(ctx); err != nil {
		fmt.Printf("Analysis service: FAIL (%v)\n", err)
		failed = true
	} else {
		fmt.Printf("Analysis service: OK (%s at %s)\n", cfg.Analysis.Model, cfg.Analysis.BaseURL)
	}

	if failed {
		return errors.New("checks failed")
	}
	return nil
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	data, err := cfg.ToYAML()
	if err != nil {
		return err
	}
	fmt.Print(string(data))
	return nil
}

// createLogger builds the daemon's file logger.
func createLogger(cfg config.LoggingConfig) *zap.Logger {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{cfg.File}
	zc.ErrorOutputPaths = []string{cfg.File}
	zc.EncoderConfig.TimeKey = "time"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	if dir := filepath.Dir(cfg.File); dir != "" {
		_ = os.MkdirAll(dir, 0700)
	}

	logger, err := zc.Build()
	if err != nil {
		// Fallback to stderr if file logging fails
		logger, _ = zap.NewProduction()
	}
	return logger
}

func runVersion(cmd *cobra.Command, args []string) {
	if jsonOutput {
		data, _ := json.Marshal(map[string]string{
			"version":    Version,
			"commit":     Commit,
			"build_time": BuildTime,
		})
		fmt.Println(string(data))
	} else {
		fmt.Printf("focusmon %s (commit: %s, built: %s)\n",
			Version, Commit, BuildTime)
	}
}
