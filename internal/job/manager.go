// Package job implements the asynchronous job lifecycle manager: a state
// machine over session-persisted records that survives host reloads and is
// reconciled on restart. The manager tracks work; it never executes it.
package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/hostbridge/internal/log"
	"github.com/mattjoyce/hostbridge/internal/session"
)

const (
	// keyPrefix namespaces job blobs in the session store, one blob per kind.
	keyPrefix = "jobs/"

	// DefaultRetention is the per-kind record cap when none is configured.
	DefaultRetention = 10

	// StuckAfter is the advisory threshold for a running job with no recent
	// progress updates.
	StuckAfter = 60 * time.Second

	// OrphanedAfter is the advisory threshold past which a silent running job
	// is presumed abandoned by its executor.
	OrphanedAfter = 5 * time.Minute
)

// Recorder receives job lifecycle notifications. Satisfied by events.Hub.
type Recorder interface {
	Publish(eventType string, data any)
}

// Config tunes the manager.
type Config struct {
	// Retention caps records kept per kind; <= 0 means DefaultRetention.
	Retention int
	// KindRetention overrides Retention for specific kinds.
	KindRetention map[string]int
}

// Manager owns every job mutation. All store access happens inside one coarse
// lock around the load→mutate→save cycle; there is no per-job locking.
type Manager struct {
	store    session.Store
	cfg      Config
	recorder Recorder
	logger   *slog.Logger

	mu    sync.Mutex
	kinds map[string]string // id → kind, rebuilt lazily from the store

	now func() time.Time
}

// NewManager creates a manager over the given session store. recorder may be
// nil.
func NewManager(store session.Store, cfg Config, recorder Recorder) *Manager {
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	return &Manager{
		store:    store,
		cfg:      cfg,
		recorder: recorder,
		logger:   log.WithComponent("job"),
		kinds:    make(map[string]string),
		now:      time.Now,
	}
}

// Start creates a running job of the given kind. Kinds are exclusive: if a
// job of this kind is already running, Start returns ErrConflict and creates
// nothing. The check and the insert happen under one lock, so a concurrent
// Start of the same kind cannot slip between them.
func (m *Manager) Start(ctx context.Context, kind string, params map[string]any) (*Job, error) {
	if kind == "" {
		return nil, fmt.Errorf("job kind is empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	records, err := m.load(ctx, kind)
	if err != nil {
		return nil, err
	}
	for i := range records {
		if records[i].Status == StatusRunning {
			return nil, ErrConflict
		}
	}

	now := m.now().UTC()
	j := Job{
		ID:           uuid.NewString(),
		Kind:         kind,
		Status:       StatusRunning,
		Params:       params,
		StartedAt:    now,
		LastUpdateAt: now,
	}
	records = append(records, j)

	if err := m.save(ctx, kind, records); err != nil {
		return nil, err
	}
	m.kinds[j.ID] = kind

	m.logger.Info("job started", "job_id", j.ID, "kind", kind)
	m.publish("job.started", j)
	return &j, nil
}

// ReportProgress updates counters and the freshness timestamp. The status is
// untouched.
func (m *Manager) ReportProgress(ctx context.Context, id string, completed, total int, label string) error {
	return m.mutate(ctx, id, func(j *Job) error {
		if j.Status.Terminal() {
			return ErrTerminal
		}
		j.Progress = Progress{Completed: completed, Total: total, CurrentLabel: label}
		j.LastUpdateAt = m.now().UTC()
		return nil
	})
}

// Complete transitions a running job to succeeded and attaches its payload.
func (m *Manager) Complete(ctx context.Context, id string, result any) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal job result: %w", err)
	}
	return m.finish(ctx, id, StatusSucceeded, func(j *Job) {
		j.Result = raw
	})
}

// Fail transitions a running job to failed with the given message.
func (m *Manager) Fail(ctx context.Context, id string, message string) error {
	return m.finish(ctx, id, StatusFailed, func(j *Job) {
		j.Error = message
	})
}

// Cancel transitions a running job to cancelled. Work already dequeued keeps
// running; only the record is marked.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	return m.finish(ctx, id, StatusCancelled, func(j *Job) {})
}

func (m *Manager) finish(ctx context.Context, id string, status Status, apply func(*Job)) error {
	var finished Job
	err := m.mutate(ctx, id, func(j *Job) error {
		if j.Status.Terminal() {
			return ErrTerminal
		}
		now := m.now().UTC()
		j.Status = status
		j.FinishedAt = &now
		j.LastUpdateAt = now
		apply(j)
		finished = *j
		return nil
	})
	if err != nil {
		return err
	}

	m.logger.Info("job finished", "job_id", id, "status", string(status))
	m.publish("job.finished", finished)
	return nil
}

// Get returns the job with the given id, or ErrNotFound for unknown and
// evicted ids.
func (m *Manager) Get(ctx context.Context, id string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kind, err := m.kindOf(ctx, id)
	if err != nil {
		return nil, err
	}
	records, err := m.load(ctx, kind)
	if err != nil {
		return nil, err
	}
	for i := range records {
		if records[i].ID == id {
			j := records[i]
			return &j, nil
		}
	}
	// Evicted since the index was built.
	delete(m.kinds, id)
	return nil, ErrNotFound
}

// List returns every retained job across all kinds, most recent first.
func (m *Manager) List(ctx context.Context) ([]Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys, err := m.store.Keys(ctx, keyPrefix)
	if err != nil {
		return nil, fmt.Errorf("list job kinds: %w", err)
	}

	var all []Job
	for _, key := range keys {
		records, err := m.load(ctx, strings.TrimPrefix(key, keyPrefix))
		if err != nil {
			return nil, err
		}
		all = append(all, records...)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].StartedAt.After(all[j].StartedAt) })
	return all, nil
}

// IsStuck reports whether a running job has gone quiet past the stuck
// threshold. Advisory only; never authoritative.
func (m *Manager) IsStuck(j *Job) bool {
	return j.Status == StatusRunning && m.now().Sub(j.LastUpdateAt) > StuckAfter
}

// IsOrphaned reports whether a running job has gone quiet past the orphan
// threshold. Advisory only.
func (m *Manager) IsOrphaned(j *Job) bool {
	return j.Status == StatusRunning && m.now().Sub(j.LastUpdateAt) > OrphanedAfter
}

// Reconcile resolves records left inconsistent by a reload: every persisted
// running job is transitioned to failed with an interruption reason. Nothing
// is ever resumed. The host calls this before any new job may start.
func (m *Manager) Reconcile(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys, err := m.store.Keys(ctx, keyPrefix)
	if err != nil {
		return fmt.Errorf("list job kinds: %w", err)
	}

	interrupted := 0
	for _, key := range keys {
		kind := strings.TrimPrefix(key, keyPrefix)
		records, err := m.load(ctx, kind)
		if err != nil {
			return err
		}

		changed := false
		for i := range records {
			if records[i].Status != StatusRunning {
				continue
			}
			now := m.now().UTC()
			records[i].Status = StatusFailed
			records[i].FinishedAt = &now
			records[i].Error = "interrupted by executor restart"
			changed = true
			interrupted++
		}
		if changed {
			if err := m.save(ctx, kind, records); err != nil {
				return err
			}
		}
	}

	if interrupted > 0 {
		m.logger.Warn("reconciled interrupted jobs", "count", interrupted)
	}
	return nil
}

// SweepAdvisories logs and publishes hints for stuck and orphaned jobs. It
// mutates nothing.
func (m *Manager) SweepAdvisories(ctx context.Context) {
	jobs, err := m.List(ctx)
	if err != nil {
		m.logger.Error("advisory sweep failed", "error", err)
		return
	}
	for i := range jobs {
		j := jobs[i]
		switch {
		case m.IsOrphaned(&j):
			m.logger.Warn("job appears orphaned", "job_id", j.ID, "kind", j.Kind)
			m.publish("job.orphaned", j)
		case m.IsStuck(&j):
			m.logger.Warn("job appears stuck", "job_id", j.ID, "kind", j.Kind)
			m.publish("job.stuck", j)
		}
	}
}

// mutate runs fn against the record with the given id inside the coarse lock
// and persists the blob when fn succeeds.
func (m *Manager) mutate(ctx context.Context, id string, fn func(*Job) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	kind, err := m.kindOf(ctx, id)
	if err != nil {
		return err
	}
	records, err := m.load(ctx, kind)
	if err != nil {
		return err
	}

	for i := range records {
		if records[i].ID != id {
			continue
		}
		if err := fn(&records[i]); err != nil {
			return err
		}
		return m.save(ctx, kind, records)
	}
	delete(m.kinds, id)
	return ErrNotFound
}

// kindOf resolves id → kind via the in-memory index, falling back to a store
// scan after a reload has wiped the index. Caller holds m.mu.
func (m *Manager) kindOf(ctx context.Context, id string) (string, error) {
	if kind, ok := m.kinds[id]; ok {
		return kind, nil
	}

	keys, err := m.store.Keys(ctx, keyPrefix)
	if err != nil {
		return "", fmt.Errorf("list job kinds: %w", err)
	}
	for _, key := range keys {
		kind := strings.TrimPrefix(key, keyPrefix)
		records, err := m.load(ctx, kind)
		if err != nil {
			return "", err
		}
		for i := range records {
			m.kinds[records[i].ID] = kind
		}
	}
	if kind, ok := m.kinds[id]; ok {
		return kind, nil
	}
	return "", ErrNotFound
}

// load reads the ordered record list for kind; a missing blob is an empty
// list. Caller holds m.mu.
func (m *Manager) load(ctx context.Context, kind string) ([]Job, error) {
	raw, err := m.store.Get(ctx, keyPrefix+kind)
	if errors.Is(err, session.ErrNoKey) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load jobs for kind %q: %w", kind, err)
	}

	var records []Job
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("decode jobs for kind %q: %w", kind, err)
	}
	return records, nil
}

// save enforces retention and rewrites the blob wholesale. The oldest
// non-running records are evicted first; a running job is never evicted.
// Caller holds m.mu.
func (m *Manager) save(ctx context.Context, kind string, records []Job) error {
	limit := m.cfg.Retention
	if override, ok := m.cfg.KindRetention[kind]; ok && override > 0 {
		limit = override
	}

	for len(records) > limit {
		evicted := false
		for i := range records {
			if records[i].Status != StatusRunning {
				m.logger.Debug("evicting job record", "job_id", records[i].ID, "kind", kind)
				delete(m.kinds, records[i].ID)
				records = append(records[:i], records[i+1:]...)
				evicted = true
				break
			}
		}
		if !evicted {
			// Everything retained is running; never evict those.
			break
		}
	}

	raw, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encode jobs for kind %q: %w", kind, err)
	}
	if err := m.store.Put(ctx, keyPrefix+kind, raw); err != nil {
		return fmt.Errorf("persist jobs for kind %q: %w", kind, err)
	}
	return nil
}

func (m *Manager) publish(eventType string, j Job) {
	if m.recorder == nil {
		return
	}
	m.recorder.Publish(eventType, j)
}
