// hostbridge is a capability dispatch bridge for reload-prone host
// environments: clients talk to a stable RPC surface while the execution
// tier behind it is torn down and rebuilt at will.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/mattjoyce/hostbridge/internal/api"
	"github.com/mattjoyce/hostbridge/internal/config"
	"github.com/mattjoyce/hostbridge/internal/host"
	"github.com/mattjoyce/hostbridge/internal/lock"
	"github.com/mattjoyce/hostbridge/internal/log"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "system":
		os.Exit(runSystemNoun(args))
	case "config":
		os.Exit(runConfigNoun(args))
	case "job":
		os.Exit(runJobNoun(args))
	case "capability":
		os.Exit(runCapabilityNoun(args))
	case "session":
		os.Exit(runSessionNoun(args))
	case "version":
		fmt.Printf("hostbridge version %s\n", version)
		os.Exit(0)
	case "help", "--help", "-h":
		printUsage()
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`hostbridge - Capability dispatch bridge for reload-prone hosts

Usage:
  hostbridge <noun> <action> [flags]

System Commands:
  system start       Start the bridge service in foreground

Config Commands:
  config lock        Authorize current configuration (update integrity hash)
  config check       Validate configuration syntax and integrity

Job Commands:
  job list           Show retained job records
  job inspect <id>   Show one job record

Capability Commands:
  capability list    Show built-in capabilities

Session Commands:
  session clear      Delete everything in the session store

General:
  version            Show version information
  help               Show this help message

Use 'hostbridge <noun> help' for resource-specific flags.
`)
}

// --- NOUN DISPATCHERS ---

func runSystemNoun(args []string) int {
	if len(args) < 1 || isHelpToken(args[0]) {
		w := os.Stderr
		code := 1
		if len(args) >= 1 {
			w, code = os.Stdout, 0
		}
		fmt.Fprintln(w, "Usage: hostbridge system <action>")
		fmt.Fprintln(w, "Actions: start")
		return code
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "start":
		if hasHelpFlag(actionArgs) {
			fmt.Println("Usage: hostbridge system start [--config PATH]")
			fmt.Println("Start the bridge service in the foreground.")
			return 0
		}
		return runStart(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown system action: %s\n", action)
		return 1
	}
}

func runConfigNoun(args []string) int {
	if len(args) < 1 || isHelpToken(args[0]) {
		w := os.Stderr
		code := 1
		if len(args) >= 1 {
			w, code = os.Stdout, 0
		}
		fmt.Fprintln(w, "Usage: hostbridge config <action> [flags]")
		fmt.Fprintln(w, "Actions: lock, check")
		return code
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "lock":
		if hasHelpFlag(actionArgs) {
			fmt.Println("Usage: hostbridge config lock [--config PATH]")
			fmt.Println("Authorize the current configuration contents.")
			return 0
		}
		return runConfigLock(actionArgs)
	case "check":
		if hasHelpFlag(actionArgs) {
			fmt.Println("Usage: hostbridge config check [--config PATH]")
			fmt.Println("Validate configuration syntax and integrity.")
			return 0
		}
		return runConfigCheck(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func runJobNoun(args []string) int {
	if len(args) < 1 || isHelpToken(args[0]) {
		w := os.Stderr
		code := 1
		if len(args) >= 1 {
			w, code = os.Stdout, 0
		}
		fmt.Fprintln(w, "Usage: hostbridge job <action> [flags]")
		fmt.Fprintln(w, "Actions: list, inspect")
		return code
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "list":
		if hasHelpFlag(actionArgs) {
			fmt.Println("Usage: hostbridge job list [--config PATH] [--json]")
			fmt.Println("Show retained job records, most recent first.")
			return 0
		}
		return runJobList(actionArgs)
	case "inspect":
		if hasHelpFlag(actionArgs) {
			fmt.Println("Usage: hostbridge job inspect <job_id> [--config PATH]")
			fmt.Println("Show one job record as JSON.")
			return 0
		}
		return runJobInspect(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown job action: %s\n", action)
		return 1
	}
}

func runCapabilityNoun(args []string) int {
	if len(args) < 1 || isHelpToken(args[0]) {
		w := os.Stderr
		code := 1
		if len(args) >= 1 {
			w, code = os.Stdout, 0
		}
		fmt.Fprintln(w, "Usage: hostbridge capability <action>")
		fmt.Fprintln(w, "Actions: list")
		return code
	}

	switch args[0] {
	case "list":
		if hasHelpFlag(args[1:]) {
			fmt.Println("Usage: hostbridge capability list [--json]")
			fmt.Println("Show built-in capabilities and their parameters.")
			return 0
		}
		return runCapabilityList(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown capability action: %s\n", args[0])
		return 1
	}
}

func runSessionNoun(args []string) int {
	if len(args) < 1 || isHelpToken(args[0]) {
		w := os.Stderr
		code := 1
		if len(args) >= 1 {
			w, code = os.Stdout, 0
		}
		fmt.Fprintln(w, "Usage: hostbridge session <action>")
		fmt.Fprintln(w, "Actions: clear")
		return code
	}

	switch args[0] {
	case "clear":
		if hasHelpFlag(args[1:]) {
			fmt.Println("Usage: hostbridge session clear [--config PATH]")
			fmt.Println("Delete everything in the session store, job records included.")
			return 0
		}
		return runSessionClear(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown session action: %s\n", args[0])
		return 1
	}
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

// pidLockPath picks the lock location: explicit config first, then next to
// the session store, then the temp dir for purely in-memory runs.
func pidLockPath(cfg *config.Config) string {
	if cfg.Service.LockFile != "" {
		return cfg.Service.LockFile
	}
	if cfg.Session.Path != "" {
		return cfg.Session.Path + ".lock"
	}
	return filepath.Join(os.TempDir(), "hostbridge.lock")
}

// --- system start ---

func runStart(args []string) int {
	configPath, rest, err := splitConfigFlag(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if len(rest) > 0 {
		fmt.Fprintf(os.Stderr, "Unexpected arguments: %v\n", rest)
		return 1
	}

	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("hostbridge starting", "version", version, "service", cfg.Service.Name)

	if configPath != "" {
		if err := config.Verify(configPath); err != nil {
			logger.Warn("config integrity check failed", "error", err)
		}
	}

	lockPath := pidLockPath(cfg)
	instanceLock, err := lock.Acquire(lockPath)
	if err != nil {
		logger.Error("failed to acquire instance lock", "path", lockPath, "error", err)
		return 1
	}
	defer instanceLock.Release()
	logger.Info("acquired instance lock", "path", lockPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	h, err := host.New(ctx, cfg)
	if err != nil {
		logger.Error("failed to build host", "error", err)
		return 1
	}
	h.RegisterSource(builtinSource(h.Store()))

	if err := h.Start(ctx); err != nil {
		logger.Error("failed to start host", "error", err)
		return 1
	}
	defer h.Stop()

	g, gctx := errgroup.WithContext(ctx)

	if cfg.API.Enabled {
		server := api.New(api.Config{
			Listen: cfg.API.Listen,
			APIKey: cfg.API.APIKey,
		}, h.Bridge(), healthAdapter{h}, h, h.Hub(), log.WithComponent("api"))
		g.Go(func() error {
			if err := server.Start(gctx); err != nil && err != context.Canceled {
				return fmt.Errorf("api: %w", err)
			}
			return nil
		})
		logger.Info("api server enabled", "listen", cfg.API.Listen)
	} else {
		logger.Warn("api disabled, service is only reachable in-process")
	}

	logger.Info("hostbridge running (press Ctrl+C to stop)")

	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("component failed", "error", err)
		return 1
	}
	logger.Info("hostbridge stopped")
	return 0
}

// healthAdapter exposes host stats in the shape the API expects.
type healthAdapter struct{ h *host.Host }

func (a healthAdapter) Health(context.Context) api.Health {
	s := a.h.Stats()
	return api.Health{
		Service:       s.Service,
		UptimeSeconds: int64(s.Uptime.Seconds()),
		QueueDepth:    s.QueueDepth,
		Capabilities:  s.Capabilities,
		Reloads:       s.Reloads,
	}
}
