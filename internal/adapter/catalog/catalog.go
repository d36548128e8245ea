// Package catalog implements the agent descriptor registry. Descriptors are
// registered programmatically or loaded from a directory of YAML files.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"crewd/internal/domain"
)

// Registry is an in-memory domain.Catalog. Registration announces the new
// descriptor on the event bus when one is attached.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*domain.AgentDescriptor
	bus    domain.EventBus
	logger *slog.Logger
}

// NewRegistry creates an empty registry. bus may be nil.
func NewRegistry(bus domain.EventBus, logger *slog.Logger) *Registry {
	return &Registry{
		agents: make(map[string]*domain.AgentDescriptor),
		bus:    bus,
		logger: logger,
	}
}

// Register adds a descriptor. Registering an already-known identifier
// returns ErrDuplicate; descriptors are immutable once registered.
func (r *Registry) Register(ctx context.Context, desc *domain.AgentDescriptor) error {
	if desc == nil || desc.ID == "" {
		return fmt.Errorf("catalog: descriptor must have an id")
	}
	if desc.Activate == nil {
		return fmt.Errorf("catalog: descriptor %q has no activation procedure", desc.ID)
	}

	r.mu.Lock()
	if _, exists := r.agents[desc.ID]; exists {
		r.mu.Unlock()
		return fmt.Errorf("catalog: agent %q: %w", desc.ID, domain.ErrDuplicate)
	}
	r.agents[desc.ID] = desc
	r.mu.Unlock()

	r.logger.Info("agent registered",
		"agent_id", desc.ID,
		"source", string(desc.Source),
		"role", string(desc.Role()),
	)

	if r.bus != nil {
		payload, _ := json.Marshal(map[string]string{
			"name":   desc.Name,
			"source": string(desc.Source),
			"role":   string(desc.Role()),
		})
		r.bus.Publish(ctx, domain.Event{
			Type:      domain.EventAgentAvailable,
			Timestamp: time.Now(),
			AgentID:   desc.ID,
			Payload:   payload,
		})
	}
	return nil
}

// Descriptor returns the descriptor for id or ErrAgentNotFound.
func (r *Registry) Descriptor(ctx context.Context, id string) (*domain.AgentDescriptor, error) {
	r.mu.RLock()
	desc, ok := r.agents[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("catalog: agent %q: %w", id, domain.ErrAgentNotFound)
	}
	return desc, nil
}

// Descriptors lists all registered descriptors sorted by identifier.
func (r *Registry) Descriptors(ctx context.Context) ([]*domain.AgentDescriptor, error) {
	r.mu.RLock()
	out := make([]*domain.AgentDescriptor, 0, len(r.agents))
	for _, desc := range r.agents {
		out = append(out, desc)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Len returns the number of registered descriptors.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

var _ domain.Catalog = (*Registry)(nil)
