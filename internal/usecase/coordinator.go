// Package usecase contains the activation coordinator and its core
// collaborators: conflict resolution, session tracking and the error
// recovery gateway.
package usecase

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"crewd/internal/domain"
	"crewd/internal/infra/snapshot"
	"crewd/internal/infra/tracer"
	"crewd/internal/usecase/scheduling"
)

// Coordinator defaults.
const (
	DefaultMaxActive     = 10
	DefaultSweepInterval = 60 * time.Second

	sweepTaskName = "session-sweep"
)

// ActiveInstance is a running agent created by a successful activation.
// Instances are coordinator-owned: callers receive copies, never the
// table entry itself.
type ActiveInstance struct {
	AgentID     string
	Data        domain.InstanceData
	ActivatedAt time.Time
	Bundle      *domain.ResourceBundle
	Context     domain.ActivationContext
	// Degraded marks instances synthesized by a fallback recovery rather
	// than the agent's own activation procedure.
	Degraded bool

	desc *domain.AgentDescriptor
}

// view returns a caller-safe copy with its own data map.
func (i *ActiveInstance) view() *ActiveInstance {
	cp := *i
	cp.Data = make(domain.InstanceData, len(i.Data))
	for k, v := range i.Data {
		cp.Data[k] = v
	}
	return &cp
}

// Statistics is a point-in-time summary of coordinator state.
type Statistics struct {
	ActiveCount int       `json:"active_count"`
	MaxActive   int       `json:"max_active"`
	Sessions    []Session `json:"sessions"`
}

// CoordinatorConfig holds coordinator tuning.
type CoordinatorConfig struct {
	MaxActive     int           // concurrency ceiling (default 10)
	SessionTTL    time.Duration // session idle lifetime (default 30m)
	SweepInterval time.Duration // expiry sweep cadence (default 60s)
	// ActivationsPerMin rate-limits Activate calls; 0 disables the guard.
	ActivationsPerMin int
	ActivationBurst   int
}

// Coordinator is the activation state machine. It owns the active-instance
// table, enforces the concurrency ceiling, sequences catalog lookup →
// conflict resolution → resource loading → activation procedure → session
// creation, and mirrors active membership to the snapshot store.
//
// All mutations of the table, the session tracker and the snapshot happen
// under per-agent locks plus the table mutex, so a sweep-triggered
// deactivation is safe against an in-flight activation of the same agent.
type Coordinator struct {
	cfg       CoordinatorConfig
	mu        sync.Mutex
	instances map[string]*ActiveInstance

	catalog   domain.Catalog
	loader    domain.ResourceLoader
	resolver  *ConflictResolver
	tracker   *SessionTracker
	gateway   domain.RecoveryGateway
	snapshots *snapshot.Store
	bus       domain.EventBus
	sched     *scheduling.Scheduler
	locker    *agentLocker
	limiter   *rate.Limiter
	logger    *slog.Logger

	closed atomic.Bool
}

// NewCoordinator creates a coordinator. gateway, snapshots and bus may be
// nil: failures then propagate verbatim, snapshotting is skipped and no
// events are emitted.
func NewCoordinator(
	cfg CoordinatorConfig,
	catalog domain.Catalog,
	loader domain.ResourceLoader,
	gateway domain.RecoveryGateway,
	snapshots *snapshot.Store,
	bus domain.EventBus,
	logger *slog.Logger,
) *Coordinator {
	if cfg.MaxActive <= 0 {
		cfg.MaxActive = DefaultMaxActive
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultSessionTTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}

	c := &Coordinator{
		cfg:       cfg,
		instances: make(map[string]*ActiveInstance),
		catalog:   catalog,
		loader:    loader,
		resolver:  NewConflictResolver(logger),
		tracker:   NewSessionTracker(cfg.SessionTTL, logger),
		gateway:   gateway,
		snapshots: snapshots,
		bus:       bus,
		sched:     scheduling.New(logger),
		locker:    newAgentLocker(),
		logger:    logger,
	}
	if cfg.ActivationsPerMin > 0 {
		burst := cfg.ActivationBurst
		if burst <= 0 {
			burst = cfg.ActivationsPerMin
		}
		c.limiter = rate.NewLimiter(rate.Limit(float64(cfg.ActivationsPerMin)/60), burst)
	}
	return c
}

// Start launches the periodic expiry sweep. The context bounds the sweep
// goroutine's lifetime; Shutdown stops it as well.
func (c *Coordinator) Start(ctx context.Context) error {
	if err := c.sched.Every(sweepTaskName, c.cfg.SweepInterval, func(ctx context.Context) error {
		c.Sweep(ctx)
		return nil
	}); err != nil {
		return err
	}
	c.sched.Start(ctx)
	return nil
}

// Activate brings the agent into the active state, or reports a structured
// failure. Re-activating an already-active agent returns its existing
// instance unchanged.
func (c *Coordinator) Activate(ctx context.Context, agentID string, actx domain.ActivationContext) (*ActiveInstance, error) {
	const op = "Coordinator.Activate"

	if c.closed.Load() {
		return nil, domain.NewActivationError(op, domain.PhaseCeiling, agentID, domain.ErrResourceExhausted, "coordinator is shut down")
	}

	// Same-identifier activations serialize here: the second caller waits
	// for the first instead of both observing "not yet active".
	unlock, err := c.locker.Lock(ctx, agentID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	ctx, span := tracer.StartSpan(ctx, "coordinator.activate")
	defer span.End()
	span.SetAttributes(tracer.StringAttr("agent.id", agentID))

	// 1. Idempotent re-activation: no new session, no conflict check.
	c.mu.Lock()
	if inst, ok := c.instances[agentID]; ok {
		view := inst.view()
		c.mu.Unlock()
		c.tracker.Touch(agentID)
		tracer.SetOK(span)
		return view, nil
	}
	active := len(c.instances)
	c.mu.Unlock()

	if c.limiter != nil && !c.limiter.Allow() {
		return c.fail(ctx, span, actx,
			domain.NewActivationError(op, domain.PhaseCeiling, agentID, domain.ErrResourceExhausted, "activation rate limit exceeded"))
	}

	// 2. Concurrency ceiling.
	if active >= c.cfg.MaxActive {
		return c.fail(ctx, span, actx,
			domain.NewActivationError(op, domain.PhaseCeiling, agentID, domain.ErrResourceExhausted,
				"active agents at configured ceiling"))
	}

	// 3. Catalog lookup.
	desc, err := c.catalog.Descriptor(ctx, agentID)
	if err != nil {
		return c.fail(ctx, span, actx,
			domain.NewActivationError(op, domain.PhaseLookup, agentID, domain.ErrAgentNotFound, "no descriptor in catalog"))
	}

	// 4. Conflict resolution against the full active table.
	decisions := c.resolver.Resolve(desc, c.activeDescriptors())
	for _, d := range decisions {
		if d.Resolution == ResolutionReject {
			actErr := domain.NewActivationError(op, domain.PhaseConflict, agentID, domain.ErrConflict,
				"incumbent "+d.IncumbentID+" is at least as specific")
			actErr.Incumbent = d.IncumbentID
			return c.fail(ctx, span, actx, actErr)
		}
	}
	for _, d := range decisions {
		if !c.evict(ctx, d) {
			actErr := domain.NewActivationError(op, domain.PhaseConflict, agentID, domain.ErrConflict,
				"incumbent "+d.IncumbentID+" could not be evicted")
			actErr.Incumbent = d.IncumbentID
			return c.fail(ctx, span, actx, actErr)
		}
	}

	// 5. Resource bundle.
	bundle, err := c.loader.Load(ctx, desc)
	if err != nil {
		return c.fail(ctx, span, actx,
			domain.NewActivationError(op, domain.PhaseLoad, agentID, domain.ErrResourceLoad, err.Error()))
	}

	// 6. Activation procedure.
	data, err := desc.Activate(ctx, actx, bundle)
	if err != nil {
		return c.fail(ctx, span, actx,
			domain.NewActivationError(op, domain.PhaseProcedure, agentID, domain.ErrActivationProc, err.Error()))
	}

	// 7. Insert, create session, snapshot.
	inst := &ActiveInstance{
		AgentID:     agentID,
		Data:        data,
		ActivatedAt: time.Now(),
		Bundle:      bundle,
		Context:     actx,
		desc:        desc,
	}
	view, instErr := c.install(ctx, inst)
	if instErr != nil {
		return c.fail(ctx, span, actx, instErr)
	}

	if g, ok := c.gateway.(*Gateway); ok && g != nil {
		g.NoteSuccess(agentID)
	}

	tracer.SetOK(span)
	c.logger.Info("agent activated",
		"agent_id", agentID,
		"role", string(desc.Role()),
		"source", string(desc.Source),
		"active", c.ActiveCount(),
	)
	return view, nil
}

// Deactivate removes the agent's instance and session. Deactivating an
// inactive agent succeeds: the call is idempotent. Cleanup failures are
// logged and never prevent table removal — the slot's availability is
// deliberately favored over cleanup correctness.
func (c *Coordinator) Deactivate(ctx context.Context, agentID string) bool {
	unlock, err := c.locker.Lock(ctx, agentID)
	if err != nil {
		return false
	}
	defer unlock()

	return c.deactivateLocked(ctx, agentID, "requested")
}

// deactivateLocked performs the removal. The caller must hold the agent's
// lock.
func (c *Coordinator) deactivateLocked(ctx context.Context, agentID, reason string) bool {
	c.mu.Lock()
	inst, ok := c.instances[agentID]
	if !ok {
		c.mu.Unlock()
		return true
	}
	delete(c.instances, agentID)
	c.mu.Unlock()

	if inst.desc != nil && inst.desc.Cleanup != nil {
		if err := inst.desc.Cleanup(ctx, inst.Data); err != nil {
			c.logger.Warn("instance cleanup failed, removing anyway",
				"agent_id", agentID,
				"error", err,
			)
		}
	}

	c.tracker.Remove(agentID)
	c.writeSnapshot()

	c.emit(ctx, domain.EventAgentDeactivated, agentID, map[string]string{"reason": reason})
	c.logger.Info("agent deactivated", "agent_id", agentID, "reason", reason)
	return true
}

// evict deactivates a conflict loser before the candidate proceeds. A
// false return means the incumbent is still active and the candidate must
// not install.
func (c *Coordinator) evict(ctx context.Context, d ConflictDecision) bool {
	unlock, err := c.locker.Lock(ctx, d.IncumbentID)
	if err != nil {
		return false
	}
	defer unlock()

	c.emit(ctx, domain.EventAgentEvicted, d.IncumbentID, map[string]any{
		"evicted_by":      d.CandidateID,
		"incumbent_score": d.IncumbentScore,
		"candidate_score": d.CandidateScore,
	})
	return c.deactivateLocked(ctx, d.IncumbentID, "evicted by "+d.CandidateID)
}

// GetActive returns a read view of the agent's instance and refreshes its
// session activity.
func (c *Coordinator) GetActive(agentID string) (*ActiveInstance, bool) {
	c.mu.Lock()
	inst, ok := c.instances[agentID]
	if !ok {
		c.mu.Unlock()
		return nil, false
	}
	view := inst.view()
	c.mu.Unlock()

	c.tracker.Touch(agentID)
	return view, true
}

// ListActive returns read views of all active instances, sorted by agent
// identifier.
func (c *Coordinator) ListActive() []*ActiveInstance {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*ActiveInstance, 0, len(c.instances))
	for _, inst := range c.instances {
		out = append(out, inst.view())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

// ActiveCount returns the size of the active table.
func (c *Coordinator) ActiveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.instances)
}

// Statistics returns activation counts, the ceiling and per-session timing.
func (c *Coordinator) Statistics() Statistics {
	return Statistics{
		ActiveCount: c.ActiveCount(),
		MaxActive:   c.cfg.MaxActive,
		Sessions:    c.tracker.List(),
	}
}

// Sweep deactivates every agent whose session has expired and returns the
// number of agents swept. The scheduler calls this on the configured
// interval; it is exported so operators and tests can trigger it directly.
func (c *Coordinator) Sweep(ctx context.Context) int {
	expired := c.tracker.ExpiredIDs()
	for _, agentID := range expired {
		c.emit(ctx, domain.EventSessionExpired, agentID, nil)
		c.logger.Info("session expired", "agent_id", agentID)
		c.Deactivate(ctx, agentID)
	}
	return len(expired)
}

// Shutdown deactivates every active agent, stops the sweep and writes a
// final snapshot. An in-flight activation that already installed serializes
// with its deactivation on the per-agent lock; one that has not yet
// installed is refused at install, so the table stays empty afterwards.
func (c *Coordinator) Shutdown(ctx context.Context) {
	if c.closed.Swap(true) {
		return
	}

	c.sched.Stop()

	for _, inst := range c.ListActive() {
		c.Deactivate(ctx, inst.AgentID)
	}
	c.writeSnapshot()
	c.logger.Info("coordinator shut down")
}

// install inserts the instance and creates its session atomically with
// respect to the table mutex. The pre-insert checks run again here: a
// concurrent activation of a different agent may have filled the table or
// installed a conflicting instance while this one was loading resources,
// and Shutdown may have started. Evictions force another pass, since the
// table is unlocked while the loser is removed.
func (c *Coordinator) install(ctx context.Context, inst *ActiveInstance) (*ActiveInstance, *domain.ActivationError) {
	const op = "Coordinator.Activate"

	for {
		c.mu.Lock()
		if c.closed.Load() {
			c.mu.Unlock()
			return nil, domain.NewActivationError(op, domain.PhaseCeiling, inst.AgentID, domain.ErrResourceExhausted,
				"coordinator is shut down")
		}
		if len(c.instances) >= c.cfg.MaxActive {
			c.mu.Unlock()
			return nil, domain.NewActivationError(op, domain.PhaseCeiling, inst.AgentID, domain.ErrResourceExhausted,
				"ceiling reached while activation was in flight")
		}

		var evictions []ConflictDecision
		if inst.desc != nil {
			for _, d := range c.resolver.Resolve(inst.desc, c.descriptorsLocked()) {
				if d.Resolution == ResolutionReject {
					c.mu.Unlock()
					actErr := domain.NewActivationError(op, domain.PhaseConflict, inst.AgentID, domain.ErrConflict,
						"incumbent "+d.IncumbentID+" activated while this activation was in flight")
					actErr.Incumbent = d.IncumbentID
					return nil, actErr
				}
				evictions = append(evictions, d)
			}
		}

		if len(evictions) == 0 {
			c.instances[inst.AgentID] = inst
			view := inst.view()
			c.mu.Unlock()

			session := c.tracker.Create(inst.AgentID)
			c.writeSnapshot()

			c.emit(ctx, domain.EventAgentActivated, inst.AgentID, inst.Data)
			c.emit(ctx, domain.EventSessionCreated, inst.AgentID, session)
			return view, nil
		}
		c.mu.Unlock()

		for _, d := range evictions {
			if !c.evict(ctx, d) {
				actErr := domain.NewActivationError(op, domain.PhaseConflict, inst.AgentID, domain.ErrConflict,
					"incumbent "+d.IncumbentID+" could not be evicted")
				actErr.Incumbent = d.IncumbentID
				return nil, actErr
			}
		}
	}
}

// fail routes an activation failure through the recovery gateway. A
// fallback verdict synthesizes a degraded instance that takes the failed
// activation's place; anything else propagates the structured error.
func (c *Coordinator) fail(ctx context.Context, span trace.Span, actx domain.ActivationContext, actErr *domain.ActivationError) (*ActiveInstance, error) {
	tracer.RecordError(span, actErr)
	span.SetAttributes(
		tracer.StringAttr("error.code", string(actErr.Code())),
		tracer.StringAttr("error.phase", string(actErr.Phase)),
	)

	if c.gateway == nil {
		return nil, actErr
	}

	verdict := c.gateway.Handle(actErr)
	actErr.Recovery = verdict

	if verdict.Recovered && verdict.Method == domain.RecoveryFallback {
		if data, ok := verdict.Details["instance"].(domain.InstanceData); ok {
			inst := &ActiveInstance{
				AgentID:     actErr.AgentID,
				Data:        data,
				ActivatedAt: time.Now(),
				Bundle:      &domain.ResourceBundle{},
				Context:     actx,
				Degraded:    true,
			}
			if view, instErr := c.install(ctx, inst); instErr == nil {
				c.logger.Warn("activation recovered via fallback",
					"agent_id", actErr.AgentID,
					"error_id", verdict.ErrorID,
				)
				return view, nil
			}
		}
	}

	c.logger.Error("activation failed",
		"agent_id", actErr.AgentID,
		"phase", string(actErr.Phase),
		"code", string(actErr.Code()),
		"error_id", verdict.ErrorID,
		"recoverable", verdict.Recoverable,
		"error", actErr.Err,
	)
	return nil, actErr
}

// activeDescriptors snapshots the descriptors behind the active table for
// conflict resolution. Degraded fallback instances carry no descriptor and
// are skipped: they were synthesized without one.
func (c *Coordinator) activeDescriptors() []*domain.AgentDescriptor {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.descriptorsLocked()
}

// descriptorsLocked is activeDescriptors for callers already holding c.mu.
func (c *Coordinator) descriptorsLocked() []*domain.AgentDescriptor {
	descs := make([]*domain.AgentDescriptor, 0, len(c.instances))
	for _, inst := range c.instances {
		if inst.desc != nil {
			descs = append(descs, inst.desc)
		}
	}
	return descs
}

// writeSnapshot mirrors active membership and session timing to the
// snapshot store. Persistence failures are absorbed: the snapshot is a
// best-effort diagnostic, never part of the caller-visible outcome.
func (c *Coordinator) writeSnapshot() {
	if c.snapshots == nil {
		return
	}

	c.mu.Lock()
	ids := make([]string, 0, len(c.instances))
	for id := range c.instances {
		ids = append(ids, id)
	}
	c.mu.Unlock()
	sort.Strings(ids)

	state := snapshot.State{ActiveAgentIDs: ids}
	for _, s := range c.tracker.List() {
		state.Sessions = append(state.Sessions, snapshot.SessionRecord{
			AgentID:      s.AgentID,
			CreatedAt:    s.CreatedAt,
			LastActivity: s.LastActivity,
			ExpiresAt:    s.ExpiresAt,
		})
	}

	if err := c.snapshots.Write(state); err != nil {
		c.logger.Warn("snapshot write failed",
			"path", c.snapshots.Path(),
			"code", string(domain.CodePersistence),
			"error", err,
		)
	}
}

func (c *Coordinator) emit(ctx context.Context, eventType domain.EventType, agentID string, payload any) {
	if c.bus == nil {
		return
	}
	data, _ := json.Marshal(payload)
	c.bus.Publish(ctx, domain.Event{
		Type:      eventType,
		Timestamp: time.Now(),
		AgentID:   agentID,
		Payload:   data,
	})
}
