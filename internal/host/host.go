// Package host ties the two tiers of the service together: the persisted
// tier (session store, job records) that survives a reload, and the
// ephemeral tier (execution queue, capability and resource registries, job
// manager) that is torn down and rebuilt from nothing every time the host
// reloads. The Host is an explicit object, not package-level state, so tests
// can run several side by side.
package host

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mattjoyce/hostbridge/internal/bridge"
	"github.com/mattjoyce/hostbridge/internal/capability"
	"github.com/mattjoyce/hostbridge/internal/config"
	"github.com/mattjoyce/hostbridge/internal/events"
	"github.com/mattjoyce/hostbridge/internal/execqueue"
	"github.com/mattjoyce/hostbridge/internal/job"
	"github.com/mattjoyce/hostbridge/internal/log"
	"github.com/mattjoyce/hostbridge/internal/resource"
	"github.com/mattjoyce/hostbridge/internal/session"
	"github.com/mattjoyce/hostbridge/internal/storage"
)

// Stats is a point-in-time summary of the host, used by health reporting.
type Stats struct {
	Service      string
	Uptime       time.Duration
	QueueDepth   int
	Capabilities int
	Reloads      int
}

type namedResource struct {
	desc   resource.Descriptor
	reader resource.Reader
}

// Host owns the persisted tier and rebuilds the ephemeral tier on demand.
type Host struct {
	cfg    *config.Config
	store  session.Store
	db     *sql.DB
	hub    *events.Hub
	bridge *bridge.Bridge
	logger *slog.Logger

	sources   []capability.Source
	resources []namedResource

	mu        sync.Mutex
	tier      bridge.Tier
	reloads   int
	startedAt time.Time

	stopCh  chan struct{}
	stopped bool
	wg      sync.WaitGroup
}

// New builds a host around cfg. With a session path configured the persisted
// tier lives in SQLite and survives process restarts; without one it lives in
// memory and a restart behaves like a cold start.
func New(ctx context.Context, cfg *config.Config) (*Host, error) {
	h := &Host{
		cfg:       cfg,
		hub:       events.NewHub(256),
		logger:    log.WithComponent("host"),
		startedAt: time.Now(),
		stopCh:    make(chan struct{}),
	}

	if cfg.Session.Path != "" {
		db, err := storage.OpenSQLite(ctx, cfg.Session.Path)
		if err != nil {
			return nil, fmt.Errorf("open session store: %w", err)
		}
		if err := storage.BootstrapSQLite(ctx, db); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("bootstrap session store: %w", err)
		}
		h.db = db
		h.store = session.NewSQLiteStore(db)
	} else {
		h.store = session.NewMemoryStore()
	}

	h.bridge = bridge.New(bridge.Config{
		InvokeTimeout: cfg.Bridge.InvokeTimeout,
		RetryHintMS:   cfg.Bridge.RetryHintMS,
	}, h.hub)

	return h, nil
}

// Bridge returns the request entry point. Stable across reloads.
func (h *Host) Bridge() *bridge.Bridge { return h.bridge }

// Hub returns the event hub. Stable across reloads.
func (h *Host) Hub() *events.Hub { return h.hub }

// Store returns the persisted-tier session store.
func (h *Host) Store() session.Store { return h.store }

// Jobs returns the current tier's job manager, or nil before Start.
func (h *Host) Jobs() *job.Manager {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.tier.Jobs
}

// RegisterSource adds a capability source. Sources are replayed into a fresh
// registry on every tier build, which is how handler identity changes across
// reloads without the bridge noticing.
func (h *Host) RegisterSource(src capability.Source) {
	h.mu.Lock()
	h.sources = append(h.sources, src)
	h.mu.Unlock()
}

// RegisterResource adds a read-only resource exposed via resource/read.
func (h *Host) RegisterResource(desc resource.Descriptor, reader resource.Reader) {
	h.mu.Lock()
	h.resources = append(h.resources, namedResource{desc: desc, reader: reader})
	h.mu.Unlock()
}

// Start builds the first ephemeral tier, reconciles job records left over
// from a previous process, and begins ticking the execution queue.
func (h *Host) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.tier.Queue != nil {
		h.mu.Unlock()
		return fmt.Errorf("host already started")
	}
	tier := h.buildTier()
	h.tier = tier
	h.mu.Unlock()

	// Records claiming to run predate this process; nothing is executing them.
	if err := tier.Jobs.Reconcile(ctx); err != nil {
		return fmt.Errorf("reconcile jobs: %w", err)
	}
	h.bridge.Attach(tier)

	h.wg.Add(1)
	go h.tickLoop(ctx)
	if h.cfg.Jobs.SweepInterval > 0 {
		h.wg.Add(1)
		go h.sweepLoop(ctx)
	}

	h.logger.Info("host started",
		"capabilities", tier.Registry.Len(),
		"resources", len(h.resources),
		"tick_interval", h.cfg.Service.TickInterval)
	return nil
}

// Reload simulates what the real host does on a recompile: the ephemeral
// tier is destroyed and rebuilt while the persisted tier and the bridge stay
// up. Requests waiting on the old queue resolve with a recoverable
// executor-unavailable error; job records that were running are marked
// failed by reconciliation.
func (h *Host) Reload(ctx context.Context) error {
	h.mu.Lock()
	old := h.tier
	if old.Queue == nil {
		h.mu.Unlock()
		return fmt.Errorf("host not started")
	}

	old.Queue.Close()

	tier := h.buildTier()
	h.tier = tier
	h.reloads++
	n := h.reloads
	h.mu.Unlock()

	if err := tier.Jobs.Reconcile(ctx); err != nil {
		return fmt.Errorf("reconcile jobs after reload: %w", err)
	}
	h.bridge.Attach(tier)

	h.logger.Info("host reloaded", "reload", n, "capabilities", tier.Registry.Len())
	h.hub.Publish("host.reloaded", map[string]any{
		"reload":       n,
		"capabilities": tier.Registry.Len(),
	})
	return nil
}

// Stop shuts the loops down and closes the queue so nothing is left waiting.
func (h *Host) Stop() {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	h.stopped = true
	queue := h.tier.Queue
	h.mu.Unlock()

	close(h.stopCh)
	h.wg.Wait()
	if queue != nil {
		queue.Close()
	}
	if h.db != nil {
		_ = h.db.Close()
	}
	h.logger.Info("host stopped")
}

// Stats summarizes the host for health reporting.
func (h *Host) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := Stats{
		Service: h.cfg.Service.Name,
		Uptime:  time.Since(h.startedAt),
		Reloads: h.reloads,
	}
	if h.tier.Queue != nil {
		s.QueueDepth = h.tier.Queue.Len()
	}
	if h.tier.Registry != nil {
		s.Capabilities = h.tier.Registry.Len()
	}
	return s
}

// buildTier constructs a fresh ephemeral tier. Caller holds h.mu.
func (h *Host) buildTier() bridge.Tier {
	registry := capability.NewRegistry(capability.SourceFunc(func(r *capability.Registry) {
		for _, src := range h.sources {
			src.RegisterCapabilities(r)
		}
	}))

	jobs := job.NewManager(h.store, job.Config{
		Retention:     h.cfg.Jobs.Retention,
		KindRetention: h.cfg.Jobs.KindRetention,
	}, h.hub)

	resources := resource.NewRegistry()
	h.registerBuiltinResources(resources, registry, jobs)
	for _, nr := range h.resources {
		if err := resources.Register(nr.desc, nr.reader); err != nil {
			h.logger.Warn("resource registration rejected", "name", nr.desc.Name, "error", err)
		}
	}

	return bridge.Tier{
		Queue:     execqueue.New(),
		Registry:  registry,
		Resources: resources,
		Jobs:      jobs,
	}
}

func (h *Host) registerBuiltinResources(resources *resource.Registry, registry *capability.Registry, jobs *job.Manager) {
	_ = resources.Register(resource.Descriptor{
		Name:        "host/info",
		Description: "Service identity and reload counter",
	}, func(ctx context.Context) ([]byte, error) {
		return json.Marshal(map[string]any{
			"service":    h.cfg.Service.Name,
			"started_at": h.startedAt.UTC().Format(time.RFC3339),
			"reloads":    h.Stats().Reloads,
		})
	})

	_ = resources.Register(resource.Descriptor{
		Name:        "capabilities/schema",
		Description: "Full parameter schemas for all registered capabilities",
	}, func(ctx context.Context) ([]byte, error) {
		return json.Marshal(registry.Descriptors())
	})

	_ = resources.Register(resource.Descriptor{
		Name:        "jobs/recent",
		Description: "Retained job records, most recent first",
	}, func(ctx context.Context) ([]byte, error) {
		records, err := jobs.List(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(records)
	})
}

// tickLoop drives the execution queue. This goroutine is the single consumer
// the capability contract depends on.
func (h *Host) tickLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.cfg.Service.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.mu.Lock()
			queue := h.tier.Queue
			h.mu.Unlock()
			if queue != nil {
				queue.Tick(ctx)
			}
		case <-h.stopCh:
			return
		case <-ctx.Done():
			h.logger.Warn("host context cancelled, stopping tick loop")
			return
		}
	}
}

// sweepLoop periodically logs advisories for stuck and orphaned job records.
func (h *Host) sweepLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.cfg.Jobs.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.mu.Lock()
			jobs := h.tier.Jobs
			h.mu.Unlock()
			if jobs != nil {
				jobs.SweepAdvisories(ctx)
			}
		case <-h.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}
