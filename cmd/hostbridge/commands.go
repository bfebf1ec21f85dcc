package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/mattjoyce/hostbridge/internal/capability"
	"github.com/mattjoyce/hostbridge/internal/config"
	"github.com/mattjoyce/hostbridge/internal/job"
	"github.com/mattjoyce/hostbridge/internal/session"
	"github.com/mattjoyce/hostbridge/internal/storage"
)

const defaultConfigFile = "hostbridge.yaml"

// splitConfigFlag parses a lone --config flag and returns the rest untouched.
func splitConfigFlag(args []string) (string, []string, error) {
	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		return "", nil, err
	}
	return *configPath, fs.Args(), nil
}

// loadConfig loads the named file, falls back to ./hostbridge.yaml, and runs
// on pure defaults when neither exists.
func loadConfig(configPath string) (*config.Config, error) {
	if configPath != "" {
		return config.Load(configPath)
	}
	if _, err := os.Stat(defaultConfigFile); err == nil {
		return config.Load(defaultConfigFile)
	}
	return config.Default(), nil
}

// openStore opens the persisted session store named in cfg, or fails for
// in-memory configurations where there is nothing on disk to inspect.
func openStore(ctx context.Context, cfg *config.Config) (*session.SQLiteStore, func(), error) {
	if cfg.Session.Path == "" {
		return nil, nil, fmt.Errorf("no session.path configured; records are in-memory only")
	}
	db, err := storage.OpenSQLite(ctx, cfg.Session.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open session store: %w", err)
	}
	if err := storage.BootstrapSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("bootstrap session store: %w", err)
	}
	return session.NewSQLiteStore(db), func() { _ = db.Close() }, nil
}

// --- config actions ---

func runConfigLock(args []string) int {
	configPath, _, err := splitConfigFlag(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if configPath == "" {
		configPath = defaultConfigFile
	}

	// Refuse to lock a file that does not even parse.
	if _, err := config.Load(configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Config invalid, not locking: %v\n", err)
		return 1
	}
	if err := config.Lock(configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Lock failed: %v\n", err)
		return 1
	}
	fmt.Printf("Locked %s\n", configPath)
	return 0
}

func runConfigCheck(args []string) int {
	configPath, _, err := splitConfigFlag(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if configPath == "" {
		configPath = defaultConfigFile
	}

	if _, err := config.Load(configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Syntax: FAILED\n  %v\n", err)
		return 1
	}
	fmt.Println("Syntax: OK")

	if err := config.Verify(configPath); err != nil {
		fmt.Printf("Integrity: FAILED\n  %v\n", err)
		return 1
	}
	fmt.Println("Integrity: OK")
	return 0
}

// --- job actions ---

func runJobList(args []string) int {
	var configPath string
	var jsonOut bool
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration")
	fs.BoolVar(&jsonOut, "json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	ctx := context.Background()
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer closeStore()

	mgr := job.NewManager(store, job.Config{
		Retention:     cfg.Jobs.Retention,
		KindRetention: cfg.Jobs.KindRetention,
	}, nil)
	records, err := mgr.List(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list jobs: %v\n", err)
		return 1
	}

	if jsonOut {
		data, _ := json.MarshalIndent(records, "", "  ")
		fmt.Println(string(data))
		return 0
	}

	if len(records) == 0 {
		fmt.Println("No job records.")
		return 0
	}
	fmt.Printf("%-36s  %-20s  %-10s  %s\n", "ID", "KIND", "STATUS", "STARTED")
	for _, r := range records {
		fmt.Printf("%-36s  %-20s  %-10s  %s\n", r.ID, r.Kind, r.Status, r.StartedAt.Format("2006-01-02 15:04:05"))
	}
	return 0
}

func runJobInspect(args []string) int {
	var configPath string
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration")

	// Accept the job id before or after flags.
	var jobID string
	var rest []string
	for _, arg := range args {
		if !strings.HasPrefix(arg, "-") && jobID == "" {
			jobID = arg
		} else {
			rest = append(rest, arg)
		}
	}
	if err := fs.Parse(rest); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if jobID == "" {
		fmt.Fprintln(os.Stderr, "Usage: hostbridge job inspect <job_id> [--config PATH]")
		return 1
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	ctx := context.Background()
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer closeStore()

	mgr := job.NewManager(store, job.Config{
		Retention:     cfg.Jobs.Retention,
		KindRetention: cfg.Jobs.KindRetention,
	}, nil)
	record, err := mgr.Get(ctx, jobID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to inspect job: %v\n", err)
		return 1
	}

	data, _ := json.MarshalIndent(record, "", "  ")
	fmt.Println(string(data))
	return 0
}

// --- capability actions ---

func runCapabilityList(args []string) int {
	var jsonOut bool
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	fs.BoolVar(&jsonOut, "json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	registry := capability.NewRegistry(builtinSource(session.NewMemoryStore()))
	descriptors := registry.Descriptors()

	if jsonOut {
		data, _ := json.MarshalIndent(descriptors, "", "  ")
		fmt.Println(string(data))
		return 0
	}

	for _, d := range descriptors {
		fmt.Printf("%-14s  %s\n", d.Name, d.Description)
		for _, p := range d.Parameters {
			req := "optional"
			if p.Required {
				req = "required"
			}
			fmt.Printf("    %-12s  %s (%s)\n", p.Name, p.Type, req)
		}
	}
	return 0
}

// --- session actions ---

func runSessionClear(args []string) int {
	configPath, _, err := splitConfigFlag(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	ctx := context.Background()
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer closeStore()

	if err := store.Clear(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to clear session store: %v\n", err)
		return 1
	}
	fmt.Println("Session store cleared.")
	return 0
}
