package domain

import (
	"context"
	"strings"
	"time"
)

// SourceKind identifies where an agent descriptor was defined.
type SourceKind string

const (
	SourceCore          SourceKind = "core"
	SourceExpansionPack SourceKind = "expansion-pack"
)

// RoleCategory is the role an agent plays, derived from its identifier.
type RoleCategory string

const (
	RoleArchitect RoleCategory = "architect"
	RolePM        RoleCategory = "pm"
	RolePO        RoleCategory = "po"
	RoleDev       RoleCategory = "dev"
	RoleQA        RoleCategory = "qa"
	RoleSM        RoleCategory = "sm"
	RoleAnalyst   RoleCategory = "analyst"
	RoleUX        RoleCategory = "ux"

	// RoleGeneric is assigned when no rule matches. Generic agents never
	// participate in role-exclusivity conflicts.
	RoleGeneric RoleCategory = "generic"
)

// roleRules is the ordered pattern set used to classify identifiers.
// First match wins; the order is fixed and part of the contract.
var roleRules = []struct {
	pattern string
	role    RoleCategory
}{
	{"architect", RoleArchitect},
	{"pm", RolePM},
	{"po", RolePO},
	{"dev", RoleDev},
	{"qa", RoleQA},
	{"sm", RoleSM},
	{"analyst", RoleAnalyst},
	{"ux", RoleUX},
}

// RoleOf derives the role category from an agent identifier.
func RoleOf(agentID string) RoleCategory {
	lower := strings.ToLower(agentID)
	for _, r := range roleRules {
		if strings.Contains(lower, r.pattern) {
			return r.role
		}
	}
	return RoleGeneric
}

// ExclusiveRole reports whether a role participates in role-exclusivity
// conflicts. Dev agents are exempt: any number may be active at once.
func ExclusiveRole(role RoleCategory) bool {
	return role != RoleDev && role != RoleGeneric
}

// ActivationContext carries caller-supplied data into an activation procedure.
type ActivationContext map[string]any

// InstanceData is the opaque payload an activation procedure returns.
type InstanceData map[string]any

// SteeringRule is a named piece of steering text that applies to an agent.
type SteeringRule struct {
	Name string `yaml:"name"`
	Text string `yaml:"text"`
}

// Hook binds an automation command to a lifecycle event.
type Hook struct {
	Name    string `yaml:"name"`
	Event   string `yaml:"event"`
	Command string `yaml:"command"`
}

// ResourceBundle is everything an agent needs loaded before activation.
type ResourceBundle struct {
	Dependencies  []string
	SteeringRules []SteeringRule
	Hooks         []Hook
}

// ActivationFunc turns a descriptor plus loaded resources into instance data.
type ActivationFunc func(ctx context.Context, actx ActivationContext, bundle *ResourceBundle) (InstanceData, error)

// CleanupFunc releases whatever an activation procedure acquired. Cleanup is
// best-effort: failures are logged by the coordinator and never block
// deactivation.
type CleanupFunc func(ctx context.Context, data InstanceData) error

// AgentDescriptor is an immutable record describing an activatable agent.
// Descriptors are owned by the catalog; the coordinator only reads them.
type AgentDescriptor struct {
	ID            string
	Name          string
	Source        SourceKind
	ExpansionPack string // empty for core agents
	Description   string
	LastModified  time.Time

	Activate ActivationFunc
	Cleanup  CleanupFunc
}

// Role returns the role category derived from the descriptor's identifier.
func (d *AgentDescriptor) Role() RoleCategory {
	return RoleOf(d.ID)
}

// Catalog supplies agent descriptors. Implementations announce newly
// registered descriptors on the event bus as EventAgentAvailable.
type Catalog interface {
	// Descriptor returns the descriptor for id, or ErrAgentNotFound.
	Descriptor(ctx context.Context, id string) (*AgentDescriptor, error)
	// Descriptors lists all known descriptors.
	Descriptors(ctx context.Context) ([]*AgentDescriptor, error)
}

// ResourceLoader fetches the declared dependencies, steering rules and hooks
// for a descriptor. Load failures wrap ErrResourceLoad with diagnostics.
type ResourceLoader interface {
	Load(ctx context.Context, desc *AgentDescriptor) (*ResourceBundle, error)
}
