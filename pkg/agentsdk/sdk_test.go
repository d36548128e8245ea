package agentsdk

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"crewd/internal/adapter/catalog"
	"crewd/internal/domain"
)

func TestDescriptorDefaults(t *testing.T) {
	d := Descriptor("writer", "Writer")
	if d.ID != "writer" || d.Name != "Writer" {
		t.Errorf("descriptor = %+v", d)
	}
	if d.Source != domain.SourceCore {
		t.Errorf("Source = %q, want core", d.Source)
	}
	if d.Activate == nil {
		t.Fatal("default activation procedure missing")
	}

	data, err := d.Activate(context.Background(), domain.ActivationContext{"trigger": "test"}, &domain.ResourceBundle{})
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if data["agent_id"] != "writer" || data["trigger"] != "test" {
		t.Errorf("data = %v", data)
	}
}

func TestDescriptorOptions(t *testing.T) {
	mod := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	cleaned := false

	d := Descriptor("qa-lead", "QA Lead",
		WithDescription("Reviews changes for defects"),
		WithExpansionPack("quality-pack"),
		WithLastModified(mod),
		WithActivation(func(ctx context.Context, actx domain.ActivationContext, bundle *domain.ResourceBundle) (domain.InstanceData, error) {
			return domain.InstanceData{"persona": "qa-lead"}, nil
		}),
		WithCleanup(func(ctx context.Context, data domain.InstanceData) error {
			cleaned = true
			return nil
		}),
	)

	if d.Source != domain.SourceExpansionPack || d.ExpansionPack != "quality-pack" {
		t.Errorf("pack fields = %q/%q", d.Source, d.ExpansionPack)
	}
	if !d.LastModified.Equal(mod) {
		t.Errorf("LastModified = %v", d.LastModified)
	}
	if d.Description != "Reviews changes for defects" {
		t.Errorf("Description = %q", d.Description)
	}

	data, err := d.Activate(context.Background(), nil, nil)
	if err != nil || data["persona"] != "qa-lead" {
		t.Errorf("Activate = %v, %v", data, err)
	}
	if err := d.Cleanup(context.Background(), data); err != nil || !cleaned {
		t.Errorf("Cleanup = %v, cleaned = %v", err, cleaned)
	}
}

func TestDescriptorRegisters(t *testing.T) {
	r := catalog.NewRegistry(nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	d := Descriptor("analyst", "Business Analyst")
	if err := r.Register(context.Background(), d); err != nil {
		t.Fatalf("Register: %v", err)
	}
	got, err := r.Descriptor(context.Background(), "analyst")
	if err != nil {
		t.Fatalf("Descriptor: %v", err)
	}
	if got.Role() != domain.RoleAnalyst {
		t.Errorf("Role = %q, want analyst", got.Role())
	}
}
