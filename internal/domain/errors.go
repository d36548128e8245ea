package domain

import (
	"errors"
	"fmt"
)

// Category sentinels for activation failures. Wrap them in an
// ActivationError so callers can match with errors.Is and monitoring can
// resolve a machine-parseable code.
var (
	ErrAgentNotFound     = fmt.Errorf("agent not found")
	ErrResourceExhausted = fmt.Errorf("concurrency ceiling reached")
	ErrConflict          = fmt.Errorf("agent conflict")
	ErrResourceLoad      = fmt.Errorf("resource bundle load failed")
	ErrActivationProc    = fmt.Errorf("activation procedure failed")
	ErrPersistence       = fmt.Errorf("snapshot persistence failed")

	// Catalog sentinels.
	ErrDuplicate = fmt.Errorf("already registered")
)

// Phase names the activation step that failed.
type Phase string

const (
	PhaseCeiling   Phase = "ceiling"
	PhaseLookup    Phase = "lookup"
	PhaseConflict  Phase = "conflict"
	PhaseLoad      Phase = "load"
	PhaseProcedure Phase = "procedure"
	PhasePersist   Phase = "persist"
)

// RecoveryMethod is how the recovery gateway proposes to resolve a failure.
type RecoveryMethod string

const (
	RecoveryRetry    RecoveryMethod = "retry"
	RecoveryFallback RecoveryMethod = "fallback"
	RecoveryNone     RecoveryMethod = "none"
)

// Severity grades a failure for operators.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// OverrideOption is an operator-selectable remediation action attached to a
// recovery verdict. Parameters lists the keys ExecuteManualOverride expects.
type OverrideOption struct {
	ID         string   `json:"id"`
	Label      string   `json:"label"`
	Parameters []string `json:"parameters,omitempty"`
}

// RecoveryResult is the recovery gateway's verdict on an ActivationError.
type RecoveryResult struct {
	Recovered   bool             `json:"recovered"`
	Method      RecoveryMethod   `json:"method"`
	Details     map[string]any   `json:"details,omitempty"`
	ErrorID     string           `json:"error_id"`
	Category    ErrorCode        `json:"category"`
	Severity    Severity         `json:"severity"`
	Recoverable bool             `json:"recoverable"`
	Overrides   []OverrideOption `json:"overrides,omitempty"`
}

// RecoveryGateway is the contract the coordinator calls on any activation
// failure. Handle never returns nil.
type RecoveryGateway interface {
	Handle(err *ActivationError) *RecoveryResult
	// ExecuteManualOverride resolves a previously reported error
	// out-of-band, e.g. an operator forcing eviction of an incumbent.
	ExecuteManualOverride(errorID, optionID string, params map[string]string) error
}

// ActivationError is the structured failure record for an activation attempt.
type ActivationError struct {
	Op        string // operation name, e.g. "Coordinator.Activate"
	Phase     Phase
	AgentID   string
	Err       error  // category sentinel or wrapped cause
	Detail    string // human-readable detail
	Incumbent string // set for conflict errors: the agent that stays active

	// Recovery is attached by the gateway before the error reaches the
	// caller.
	Recovery *RecoveryResult
}

func (e *ActivationError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: agent %q: %s: %s", e.Op, e.AgentID, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: agent %q: %s", e.Op, e.AgentID, e.Err)
}

func (e *ActivationError) Unwrap() error { return e.Err }

// Retryable reports whether the failure category may succeed if re-issued.
func (e *ActivationError) Retryable() bool {
	return errors.Is(e.Err, ErrResourceExhausted) ||
		errors.Is(e.Err, ErrResourceLoad) ||
		errors.Is(e.Err, ErrActivationProc)
}

// NewActivationError builds an ActivationError for the given phase.
func NewActivationError(op string, phase Phase, agentID string, err error, detail string) *ActivationError {
	return &ActivationError{Op: op, Phase: phase, AgentID: agentID, Err: err, Detail: detail}
}

// ErrorCode is a machine-parseable error category for monitoring.
type ErrorCode string

const (
	CodeUnknown           ErrorCode = "UNKNOWN"
	CodeAgentNotFound     ErrorCode = "AGENT_NOT_FOUND"
	CodeResourceExhausted ErrorCode = "RESOURCE_EXHAUSTED"
	CodeConflict          ErrorCode = "CONFLICT"
	CodeResourceLoad      ErrorCode = "RESOURCE_LOAD"
	CodeActivationFailed  ErrorCode = "ACTIVATION_FAILED"
	CodePersistence       ErrorCode = "PERSISTENCE"
	CodeDuplicate         ErrorCode = "DUPLICATE"
)

var errorCodeMap = map[error]ErrorCode{
	ErrAgentNotFound:     CodeAgentNotFound,
	ErrResourceExhausted: CodeResourceExhausted,
	ErrConflict:          CodeConflict,
	ErrResourceLoad:      CodeResourceLoad,
	ErrActivationProc:    CodeActivationFailed,
	ErrPersistence:       CodePersistence,
	ErrDuplicate:         CodeDuplicate,
}

// ErrorCodeOf resolves the machine code for err by walking its chain.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}
	if code, ok := errorCodeMap[err]; ok {
		return code
	}
	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return CodeUnknown
}

// Code returns the machine code for this error's underlying sentinel.
func (e *ActivationError) Code() ErrorCode {
	return ErrorCodeOf(e.Err)
}
