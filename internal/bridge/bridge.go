// Package bridge implements the request dispatch bridge: the single entry
// point that accepts requests from any goroutine, answers protocol methods
// directly, and hands capability invocations to the exclusive execution
// context with a bounded synchronous wait.
//
// The bridge itself survives a host reload; the ephemeral tier it points at
// (registry, resources, queue, job manager) is swapped out from under it via
// Attach. A submit caught mid-reload gets a distinguished recoverable error,
// never a hang or a generic failure.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mattjoyce/hostbridge/internal/capability"
	"github.com/mattjoyce/hostbridge/internal/execqueue"
	"github.com/mattjoyce/hostbridge/internal/job"
	"github.com/mattjoyce/hostbridge/internal/log"
	"github.com/mattjoyce/hostbridge/internal/protocol"
	"github.com/mattjoyce/hostbridge/internal/resource"
)

const (
	// DefaultInvokeTimeout bounds the synchronous wait for a capability call.
	DefaultInvokeTimeout = 30 * time.Second

	// DefaultRetryHintMS is the retry delay suggested to callers that hit a
	// reload window.
	DefaultRetryHintMS = 1000
)

// Recorder receives request observations. Satisfied by events.Hub.
type Recorder interface {
	Publish(eventType string, data any)
}

// Config tunes the bridge.
type Config struct {
	// InvokeTimeout bounds the blocking capability call; <= 0 means
	// DefaultInvokeTimeout.
	InvokeTimeout time.Duration
	// RetryHintMS is the suggested retry delay on ExecutorUnavailable; <= 0
	// means DefaultRetryHintMS.
	RetryHintMS int
}

// Tier is the ephemeral in-process state the bridge dispatches against. It is
// rebuilt from nothing on every host reload.
type Tier struct {
	Queue     *execqueue.Queue
	Registry  *capability.Registry
	Resources *resource.Registry
	Jobs      *job.Manager
}

// Bridge routes requests. Safe for concurrent use from any goroutine.
type Bridge struct {
	cfg      Config
	recorder Recorder
	logger   *slog.Logger

	mu   sync.RWMutex
	tier Tier
}

// New creates a bridge with no tier attached; Submit before the first Attach
// reports the executor unavailable. recorder may be nil.
func New(cfg Config, recorder Recorder) *Bridge {
	if cfg.InvokeTimeout <= 0 {
		cfg.InvokeTimeout = DefaultInvokeTimeout
	}
	if cfg.RetryHintMS <= 0 {
		cfg.RetryHintMS = DefaultRetryHintMS
	}
	return &Bridge{
		cfg:      cfg,
		recorder: recorder,
		logger:   log.WithComponent("bridge"),
	}
}

// Attach swaps in a freshly built ephemeral tier. Called at startup and after
// every reload. The previous queue, if any, must already be closed by the
// host so in-flight waiters resolve.
func (b *Bridge) Attach(tier Tier) {
	b.mu.Lock()
	b.tier = tier
	b.mu.Unlock()
}

func (b *Bridge) currentTier() Tier {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.tier
}

// Submit processes one raw request and always returns exactly one raw
// response. Any internal fault, including panics downstream, is converted to
// a well-formed error response.
func (b *Bridge) Submit(ctx context.Context, raw []byte) []byte {
	resp := b.submit(ctx, raw)
	b.record(resp)
	return protocol.Encode(resp)
}

func (b *Bridge) submit(ctx context.Context, raw []byte) (resp *protocol.Response) {
	var id *string
	defer func() {
		if rec := recover(); rec != nil {
			b.logger.Error("panic in request dispatch", "panic", fmt.Sprint(rec))
			resp = protocol.NewError(id, protocol.Errorf(protocol.CodeInternalError, "internal error: %v", rec))
		}
	}()

	req, perr := protocol.ParseRequest(raw)
	if req != nil {
		id = req.ID
	}
	if perr != nil {
		return protocol.NewError(id, perr)
	}

	b.logger.Debug("request received", "method", req.Method)

	switch req.Method {
	case protocol.MethodCapabilityList:
		return b.handleCapabilityList(id)
	case protocol.MethodCapabilitySchema:
		return b.handleCapabilitySchema(id)
	case protocol.MethodCapabilityInvoke:
		return b.handleInvoke(ctx, id, req.Params)
	case protocol.MethodResourceList:
		return b.handleResourceList(id)
	case protocol.MethodResourceRead:
		return b.handleResourceRead(ctx, id, req.Params)
	case protocol.MethodJobStatus:
		return b.handleJobStatus(ctx, id, req.Params)
	case protocol.MethodJobList:
		return b.handleJobList(ctx, id)
	default:
		return protocol.NewError(id, protocol.Errorf(protocol.CodeMethodNotFound, "unknown method %q", req.Method))
	}
}

// handleInvoke is the only path that blocks the caller: it enqueues the
// handler on the exclusive execution context and waits, bounded, for the
// outcome. Intake is concurrent; execution is serialized by the queue.
func (b *Bridge) handleInvoke(ctx context.Context, id *string, rawParams json.RawMessage) *protocol.Response {
	var params protocol.InvokeParams
	if err := unmarshalParams(rawParams, &params); err != nil {
		return protocol.NewError(id, protocol.Errorf(protocol.CodeInvalidParams, "invalid invoke params: %v", err))
	}
	if params.Name == "" {
		return protocol.NewError(id, &protocol.Error{
			Code:    protocol.CodeInvalidParams,
			Message: `invalid parameter "name": required but missing`,
			Data:    &protocol.ErrorData{Field: "name"},
		})
	}

	tier := b.currentTier()
	if tier.Registry == nil || tier.Queue == nil {
		return protocol.NewError(id, b.unavailableError())
	}
	if !tier.Registry.Has(params.Name) {
		return protocol.NewError(id, protocol.Errorf(protocol.CodeMethodNotFound, "capability %q not found", params.Name))
	}

	pending, err := tier.Queue.Enqueue(func(ctx context.Context) (any, error) {
		return tier.Registry.Invoke(ctx, params.Name, params.Arguments)
	})
	if errors.Is(err, execqueue.ErrUnavailable) {
		return protocol.NewError(id, b.unavailableError())
	}
	if err != nil {
		return protocol.NewError(id, protocol.Errorf(protocol.CodeInternalError, "enqueue: %v", err))
	}

	result, err := pending.Wait(b.cfg.InvokeTimeout)
	if err != nil {
		return protocol.NewError(id, b.invokeError(params.Name, err))
	}
	return protocol.NewResult(id, result)
}

// invokeError maps an execution failure onto the protocol taxonomy. Reload
// interruption and timeout stay distinct from genuine handler failures so a
// caller can tell "retry shortly" from "this operation is broken".
func (b *Bridge) invokeError(name string, err error) *protocol.Error {
	var paramErr *capability.ParamError
	var handlerErr *capability.HandlerError
	var notFound *capability.NotFoundError

	switch {
	case errors.Is(err, execqueue.ErrTimeout):
		b.logger.Warn("capability call timed out", "capability", name, "timeout", b.cfg.InvokeTimeout)
		return &protocol.Error{
			Code:    protocol.CodeTimeout,
			Message: fmt.Sprintf("capability %q did not complete within %s", name, b.cfg.InvokeTimeout),
			Data:    &protocol.ErrorData{Recoverable: true},
		}
	case errors.Is(err, execqueue.ErrUnavailable):
		return b.unavailableError()
	case errors.As(err, &paramErr):
		return &protocol.Error{
			Code:    protocol.CodeInvalidParams,
			Message: paramErr.Error(),
			Data:    &protocol.ErrorData{Field: paramErr.Field},
		}
	case errors.As(err, &notFound):
		// Registry refreshed between lookup and execution.
		return protocol.Errorf(protocol.CodeMethodNotFound, "capability %q not found", name)
	case errors.Is(err, job.ErrConflict):
		return protocol.Errorf(protocol.CodeJobConflict, "%v", err)
	case errors.As(err, &handlerErr):
		return protocol.Errorf(protocol.CodeHandlerError, "%s", handlerErr.Error())
	default:
		return protocol.Errorf(protocol.CodeInternalError, "capability %q: %v", name, err)
	}
}

func (b *Bridge) unavailableError() *protocol.Error {
	return protocol.RecoverableError(
		protocol.CodeExecutorUnavailable,
		"execution context unavailable (host reloading); retry shortly",
		b.cfg.RetryHintMS,
	)
}

func (b *Bridge) handleCapabilityList(id *string) *protocol.Response {
	tier := b.currentTier()
	if tier.Registry == nil {
		return protocol.NewError(id, b.unavailableError())
	}

	type item struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Category    string `json:"category"`
	}
	descs := tier.Registry.Descriptors()
	items := make([]item, 0, len(descs))
	for _, d := range descs {
		items = append(items, item{Name: d.Name, Description: d.Description, Category: d.Category})
	}
	return protocol.NewResult(id, map[string]any{"capabilities": items})
}

func (b *Bridge) handleCapabilitySchema(id *string) *protocol.Response {
	tier := b.currentTier()
	if tier.Registry == nil {
		return protocol.NewError(id, b.unavailableError())
	}
	return protocol.NewResult(id, map[string]any{"capabilities": tier.Registry.Descriptors()})
}

func (b *Bridge) handleResourceList(id *string) *protocol.Response {
	tier := b.currentTier()
	if tier.Resources == nil {
		return protocol.NewError(id, b.unavailableError())
	}
	return protocol.NewResult(id, map[string]any{"resources": tier.Resources.Descriptors()})
}

func (b *Bridge) handleResourceRead(ctx context.Context, id *string, rawParams json.RawMessage) *protocol.Response {
	var params protocol.ResourceReadParams
	if err := unmarshalParams(rawParams, &params); err != nil {
		return protocol.NewError(id, protocol.Errorf(protocol.CodeInvalidParams, "invalid read params: %v", err))
	}
	if params.Name == "" {
		return protocol.NewError(id, &protocol.Error{
			Code:    protocol.CodeInvalidParams,
			Message: `invalid parameter "name": required but missing`,
			Data:    &protocol.ErrorData{Field: "name"},
		})
	}

	tier := b.currentTier()
	if tier.Resources == nil {
		return protocol.NewError(id, b.unavailableError())
	}

	desc, content, err := tier.Resources.Read(ctx, params.Name)
	var nf *resource.NotFoundError
	if errors.As(err, &nf) {
		return protocol.NewError(id, protocol.Errorf(protocol.CodeMethodNotFound, "resource %q not found", params.Name))
	}
	if err != nil {
		return protocol.NewError(id, protocol.Errorf(protocol.CodeInternalError, "%v", err))
	}
	return protocol.NewResult(id, map[string]any{
		"name":      desc.Name,
		"mime_type": desc.MIMEType,
		"content":   string(content),
	})
}

// handleJobStatus answers directly from the job manager, non-blocking: job
// queries never queue behind a running capability.
func (b *Bridge) handleJobStatus(ctx context.Context, id *string, rawParams json.RawMessage) *protocol.Response {
	var params protocol.JobStatusParams
	if err := unmarshalParams(rawParams, &params); err != nil {
		return protocol.NewError(id, protocol.Errorf(protocol.CodeInvalidParams, "invalid job params: %v", err))
	}
	if params.JobID == "" {
		return protocol.NewError(id, &protocol.Error{
			Code:    protocol.CodeInvalidParams,
			Message: `invalid parameter "job_id": required but missing`,
			Data:    &protocol.ErrorData{Field: "job_id"},
		})
	}

	tier := b.currentTier()
	if tier.Jobs == nil {
		return protocol.NewError(id, b.unavailableError())
	}

	j, err := tier.Jobs.Get(ctx, params.JobID)
	if errors.Is(err, job.ErrNotFound) {
		return protocol.NewError(id, protocol.Errorf(protocol.CodeJobNotFound, "no job with id %q", params.JobID))
	}
	if err != nil {
		return protocol.NewError(id, protocol.Errorf(protocol.CodeInternalError, "job lookup: %v", err))
	}
	return protocol.NewResult(id, j)
}

func (b *Bridge) handleJobList(ctx context.Context, id *string) *protocol.Response {
	tier := b.currentTier()
	if tier.Jobs == nil {
		return protocol.NewError(id, b.unavailableError())
	}

	jobs, err := tier.Jobs.List(ctx)
	if err != nil {
		return protocol.NewError(id, protocol.Errorf(protocol.CodeInternalError, "job list: %v", err))
	}
	if jobs == nil {
		jobs = []job.Job{}
	}
	return protocol.NewResult(id, map[string]any{"jobs": jobs})
}

func (b *Bridge) record(resp *protocol.Response) {
	if b.recorder == nil {
		return
	}
	if resp.Error != nil {
		b.recorder.Publish("bridge.request", map[string]any{
			"ok":   false,
			"code": resp.Error.Code,
		})
		return
	}
	b.recorder.Publish("bridge.request", map[string]any{"ok": true})
}

func unmarshalParams(raw json.RawMessage, into any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, into)
}
