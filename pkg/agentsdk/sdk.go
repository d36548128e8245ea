// Package agentsdk helps programs embedding the crewd coordinator build
// agent descriptors without touching domain internals. The SDK is
// catalog-agnostic — it produces descriptors; registering them is the
// embedder's call.
//
// Example:
//
//	desc := agentsdk.Descriptor("qa-lead", "QA Lead",
//	    agentsdk.WithDescription("Reviews changes for defects"),
//	    agentsdk.WithExpansionPack("quality-pack"),
//	    agentsdk.WithActivation(func(ctx context.Context, actx domain.ActivationContext, bundle *domain.ResourceBundle) (domain.InstanceData, error) {
//	        return domain.InstanceData{"persona": "qa-lead"}, nil
//	    }),
//	)
//	registry.Register(ctx, desc)
package agentsdk

import (
	"context"
	"time"

	"crewd/internal/domain"
)

// Option configures a descriptor under construction.
type Option func(*domain.AgentDescriptor)

// WithDescription sets the descriptor's free-text description. Longer
// descriptions score higher in conflict resolution.
func WithDescription(text string) Option {
	return func(d *domain.AgentDescriptor) { d.Description = text }
}

// WithExpansionPack marks the agent as belonging to an expansion pack.
func WithExpansionPack(pack string) Option {
	return func(d *domain.AgentDescriptor) {
		d.ExpansionPack = pack
		d.Source = domain.SourceExpansionPack
	}
}

// WithLastModified sets the descriptor's modification time, which feeds the
// recency component of its specificity score.
func WithLastModified(t time.Time) Option {
	return func(d *domain.AgentDescriptor) { d.LastModified = t }
}

// WithActivation sets the activation procedure.
func WithActivation(fn domain.ActivationFunc) Option {
	return func(d *domain.AgentDescriptor) { d.Activate = fn }
}

// WithCleanup sets the deactivation cleanup hook.
func WithCleanup(fn domain.CleanupFunc) Option {
	return func(d *domain.AgentDescriptor) { d.Cleanup = fn }
}

// Descriptor builds an agent descriptor. Without WithActivation the
// descriptor gets a minimal procedure that echoes the activation context,
// which suits declarative agents whose behavior lives in steering rules.
func Descriptor(id, name string, opts ...Option) *domain.AgentDescriptor {
	d := &domain.AgentDescriptor{
		ID:     id,
		Name:   name,
		Source: domain.SourceCore,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.Activate == nil {
		d.Activate = echoActivation(id)
	}
	return d
}

func echoActivation(agentID string) domain.ActivationFunc {
	return func(ctx context.Context, actx domain.ActivationContext, bundle *domain.ResourceBundle) (domain.InstanceData, error) {
		data := domain.InstanceData{"agent_id": agentID}
		for k, v := range actx {
			data[k] = v
		}
		return data, nil
	}
}
