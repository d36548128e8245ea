package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sony/gobreaker/v2"

	"crewd/internal/domain"
)

// Default gateway tuning.
const (
	defaultMaxFailures     uint32 = 5
	defaultFallbackAfter   uint32 = 3
	defaultBreakerTimeout         = 30 * time.Second
	defaultBreakerInterval        = 60 * time.Second
)

// Override option identifiers understood by ExecuteManualOverride.
const (
	OverrideDismiss    = "dismiss"
	OverrideForceEvict = "force-evict"
	OverrideEvictAgent = "evict-agent"
)

// GatewayConfig tunes the default recovery gateway.
type GatewayConfig struct {
	// MaxFailures is the consecutive activation-procedure failures per
	// agent before that agent's circuit opens and verdicts turn terminal.
	MaxFailures uint32
	// FallbackAfter is the consecutive failure count at which the gateway
	// starts offering a degraded fallback instead of suggesting a retry.
	FallbackAfter uint32
	// BreakerTimeout is how long an open circuit stays open.
	BreakerTimeout time.Duration
	// BreakerInterval is the closed-state period for clearing counts.
	BreakerInterval time.Duration
}

// deactivator is the slice of the coordinator the gateway needs to execute
// manual overrides.
type deactivator interface {
	Deactivate(ctx context.Context, agentID string) bool
}

type errorRecord struct {
	err      *domain.ActivationError
	verdict  *domain.RecoveryResult
	resolved bool
}

// Gateway is the default recovery gateway. Repeated activation-procedure
// failures per agent are tracked with a circuit breaker: while an agent's
// circuit is open the verdict is terminal rather than a retry suggestion,
// which stops retry storms against a broken activation procedure.
type Gateway struct {
	mu       sync.Mutex
	cfg      GatewayConfig
	breakers map[string]*gobreaker.CircuitBreaker[any]
	records  map[string]*errorRecord
	exec     deactivator
	bus      domain.EventBus
	logger   *slog.Logger
}

// NewGateway creates a gateway. Zero-valued config fields get defaults.
func NewGateway(cfg GatewayConfig, bus domain.EventBus, logger *slog.Logger) *Gateway {
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = defaultMaxFailures
	}
	if cfg.FallbackAfter == 0 {
		cfg.FallbackAfter = defaultFallbackAfter
	}
	if cfg.BreakerTimeout == 0 {
		cfg.BreakerTimeout = defaultBreakerTimeout
	}
	if cfg.BreakerInterval == 0 {
		cfg.BreakerInterval = defaultBreakerInterval
	}
	return &Gateway{
		cfg:      cfg,
		breakers: make(map[string]*gobreaker.CircuitBreaker[any]),
		records:  make(map[string]*errorRecord),
		bus:      bus,
		logger:   logger,
	}
}

// Bind attaches the coordinator the gateway acts on when executing manual
// overrides. Called once during wiring; the gateway works without it but
// eviction overrides then fail.
func (g *Gateway) Bind(exec deactivator) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.exec = exec
}

// Handle classifies an activation failure and returns a recovery verdict.
func (g *Gateway) Handle(actErr *domain.ActivationError) *domain.RecoveryResult {
	verdict := &domain.RecoveryResult{
		ErrorID:  newULID(),
		Category: actErr.Code(),
		Method:   domain.RecoveryNone,
	}

	switch {
	case errors.Is(actErr.Err, domain.ErrAgentNotFound):
		verdict.Severity = domain.SeverityError
		verdict.Overrides = dismissOnly()

	case errors.Is(actErr.Err, domain.ErrResourceExhausted):
		verdict.Method = domain.RecoveryRetry
		verdict.Recoverable = true
		verdict.Severity = domain.SeverityWarning
		verdict.Overrides = []domain.OverrideOption{
			{ID: OverrideEvictAgent, Label: "deactivate a named agent to free a slot", Parameters: []string{"agent_id"}},
			{ID: OverrideDismiss, Label: "dismiss"},
		}

	case errors.Is(actErr.Err, domain.ErrConflict):
		verdict.Severity = domain.SeverityWarning
		verdict.Details = map[string]any{"incumbent_id": actErr.Incumbent}
		verdict.Overrides = []domain.OverrideOption{
			{ID: OverrideForceEvict, Label: "force-evict the incumbent"},
			{ID: OverrideDismiss, Label: "dismiss"},
		}

	case errors.Is(actErr.Err, domain.ErrResourceLoad):
		verdict.Method = domain.RecoveryRetry
		verdict.Recoverable = true
		verdict.Severity = domain.SeverityWarning
		verdict.Overrides = dismissOnly()

	case errors.Is(actErr.Err, domain.ErrActivationProc):
		g.judgeProcFailure(actErr, verdict)

	default:
		verdict.Severity = domain.SeverityError
		verdict.Overrides = dismissOnly()
	}

	g.mu.Lock()
	g.records[verdict.ErrorID] = &errorRecord{err: actErr, verdict: verdict}
	g.mu.Unlock()

	g.emit(domain.EventRecoveryAttempted, actErr.AgentID, verdict)
	g.logger.Info("recovery verdict",
		"agent_id", actErr.AgentID,
		"phase", string(actErr.Phase),
		"category", string(verdict.Category),
		"method", string(verdict.Method),
		"recovered", verdict.Recovered,
		"error_id", verdict.ErrorID,
	)
	return verdict
}

// judgeProcFailure decides retry vs fallback vs terminal for an
// activation-procedure failure using the agent's circuit breaker.
func (g *Gateway) judgeProcFailure(actErr *domain.ActivationError, verdict *domain.RecoveryResult) {
	br := g.breakerFor(actErr.AgentID)

	_, execErr := br.Execute(func() (any, error) { return nil, actErr.Err })
	if execErr == gobreaker.ErrOpenState || br.State() == gobreaker.StateOpen {
		verdict.Severity = domain.SeverityCritical
		verdict.Overrides = dismissOnly()
		return
	}

	failures := br.Counts().ConsecutiveFailures
	if failures >= g.cfg.FallbackAfter {
		verdict.Method = domain.RecoveryFallback
		verdict.Recovered = true
		verdict.Recoverable = true
		verdict.Severity = domain.SeverityWarning
		verdict.Details = map[string]any{
			"instance": domain.InstanceData{
				"agent_id": actErr.AgentID,
				"degraded": true,
			},
			"limitations": []string{
				"activation procedure bypassed",
				"instance carries no procedure-provided capabilities",
			},
		}
		return
	}

	verdict.Method = domain.RecoveryRetry
	verdict.Recoverable = true
	verdict.Severity = domain.SeverityWarning
	verdict.Overrides = dismissOnly()
}

// NoteSuccess records a successful activation for agentID, clearing its
// consecutive-failure count (and closing a half-open circuit).
func (g *Gateway) NoteSuccess(agentID string) {
	g.mu.Lock()
	br, ok := g.breakers[agentID]
	g.mu.Unlock()
	if !ok {
		return
	}
	br.Execute(func() (any, error) { return nil, nil }) //nolint:errcheck
}

// BreakerState exposes the circuit state for an agent, for diagnostics.
func (g *Gateway) BreakerState(agentID string) gobreaker.State {
	g.mu.Lock()
	br, ok := g.breakers[agentID]
	g.mu.Unlock()
	if !ok {
		return gobreaker.StateClosed
	}
	return br.State()
}

// ExecuteManualOverride resolves a previously reported error out-of-band.
func (g *Gateway) ExecuteManualOverride(errorID, optionID string, params map[string]string) error {
	g.mu.Lock()
	rec, ok := g.records[errorID]
	if !ok {
		g.mu.Unlock()
		return fmt.Errorf("manual override: unknown error id %q", errorID)
	}
	if rec.resolved {
		g.mu.Unlock()
		return fmt.Errorf("manual override: error %q already resolved", errorID)
	}
	exec := g.exec
	g.mu.Unlock()

	switch optionID {
	case OverrideDismiss:
		// Nothing to execute.

	case OverrideForceEvict:
		if rec.err.Incumbent == "" {
			return fmt.Errorf("manual override: error %q has no incumbent to evict", errorID)
		}
		if exec == nil {
			return fmt.Errorf("manual override: gateway has no coordinator bound")
		}
		exec.Deactivate(context.Background(), rec.err.Incumbent)

	case OverrideEvictAgent:
		target := params["agent_id"]
		if target == "" {
			return fmt.Errorf("manual override: option %q requires an agent_id parameter", optionID)
		}
		if exec == nil {
			return fmt.Errorf("manual override: gateway has no coordinator bound")
		}
		exec.Deactivate(context.Background(), target)

	default:
		return fmt.Errorf("manual override: unknown option %q for error %q", optionID, errorID)
	}

	g.mu.Lock()
	rec.resolved = true
	g.mu.Unlock()

	g.emit(domain.EventRecoveryOverride, rec.err.AgentID, map[string]string{
		"error_id": errorID,
		"option":   optionID,
	})
	g.logger.Info("manual override executed", "error_id", errorID, "option", optionID)
	return nil
}

// Record returns the verdict previously issued under errorID.
func (g *Gateway) Record(errorID string) (*domain.RecoveryResult, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	rec, ok := g.records[errorID]
	if !ok {
		return nil, false
	}
	return rec.verdict, true
}

func (g *Gateway) breakerFor(agentID string) *gobreaker.CircuitBreaker[any] {
	g.mu.Lock()
	defer g.mu.Unlock()

	if br, ok := g.breakers[agentID]; ok {
		return br
	}

	maxFailures := g.cfg.MaxFailures
	logger := g.logger
	br := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "activate:" + agentID,
		MaxRequests: 1, // one probe in half-open state
		Interval:    g.cfg.BreakerInterval,
		Timeout:     g.cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("activation circuit state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
	g.breakers[agentID] = br
	return br
}

func (g *Gateway) emit(eventType domain.EventType, agentID string, payload any) {
	if g.bus == nil {
		return
	}
	data, _ := json.Marshal(payload)
	g.bus.Publish(context.Background(), domain.Event{
		Type:      eventType,
		Timestamp: time.Now(),
		AgentID:   agentID,
		Payload:   data,
	})
}

func dismissOnly() []domain.OverrideOption {
	return []domain.OverrideOption{{ID: OverrideDismiss, Label: "dismiss"}}
}

func newULID() string {
	t := time.Now()
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

var _ domain.RecoveryGateway = (*Gateway)(nil)
