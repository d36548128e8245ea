package catalog

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"crewd/internal/domain"
	"crewd/internal/usecase/eventbus"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testDesc(id string) *domain.AgentDescriptor {
	return &domain.AgentDescriptor{
		ID:     id,
		Name:   id,
		Source: domain.SourceCore,
		Activate: func(ctx context.Context, actx domain.ActivationContext, bundle *domain.ResourceBundle) (domain.InstanceData, error) {
			return domain.InstanceData{}, nil
		},
	}
}

func TestRegisterAndLookup(t *testing.T) {
	r := NewRegistry(nil, testLogger())
	ctx := context.Background()

	if err := r.Register(ctx, testDesc("qa")); err != nil {
		t.Fatalf("Register: %v", err)
	}

	desc, err := r.Descriptor(ctx, "qa")
	if err != nil {
		t.Fatalf("Descriptor: %v", err)
	}
	if desc.ID != "qa" {
		t.Errorf("ID = %q, want qa", desc.ID)
	}
	if r.Len() != 1 {
		t.Errorf("Len = %d, want 1", r.Len())
	}
}

func TestDescriptorNotFound(t *testing.T) {
	r := NewRegistry(nil, testLogger())

	_, err := r.Descriptor(context.Background(), "ghost")
	if !errors.Is(err, domain.ErrAgentNotFound) {
		t.Fatalf("err = %v, want ErrAgentNotFound", err)
	}
}

func TestRegisterDuplicate(t *testing.T) {
	r := NewRegistry(nil, testLogger())
	ctx := context.Background()

	if err := r.Register(ctx, testDesc("qa")); err != nil {
		t.Fatalf("Register: %v", err)
	}
	err := r.Register(ctx, testDesc("qa"))
	if !errors.Is(err, domain.ErrDuplicate) {
		t.Fatalf("err = %v, want ErrDuplicate", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	r := NewRegistry(nil, testLogger())
	ctx := context.Background()

	if err := r.Register(ctx, nil); err == nil {
		t.Error("nil descriptor should be rejected")
	}
	if err := r.Register(ctx, &domain.AgentDescriptor{Name: "anon"}); err == nil {
		t.Error("descriptor without id should be rejected")
	}
	if err := r.Register(ctx, &domain.AgentDescriptor{ID: "no-proc"}); err == nil {
		t.Error("descriptor without activation procedure should be rejected")
	}
}

func TestRegisterAnnouncesOnBus(t *testing.T) {
	bus := eventbus.New(testLogger())
	defer bus.Close()

	var announced atomic.Int32
	bus.Subscribe(domain.EventAgentAvailable, func(ctx context.Context, e domain.Event) {
		if e.AgentID == "qa" {
			announced.Add(1)
		}
	})

	r := NewRegistry(bus, testLogger())
	if err := r.Register(context.Background(), testDesc("qa")); err != nil {
		t.Fatalf("Register: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for announced.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("registration was never announced")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDescriptorsSorted(t *testing.T) {
	r := NewRegistry(nil, testLogger())
	ctx := context.Background()

	for _, id := range []string{"zeta", "alpha", "mid"} {
		if err := r.Register(ctx, testDesc(id)); err != nil {
			t.Fatalf("Register %s: %v", id, err)
		}
	}

	descs, err := r.Descriptors(ctx)
	if err != nil {
		t.Fatalf("Descriptors: %v", err)
	}
	if len(descs) != 3 || descs[0].ID != "alpha" || descs[1].ID != "mid" || descs[2].ID != "zeta" {
		t.Errorf("Descriptors not sorted: %v", descs)
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()

	writeFile(t, filepath.Join(dir, "qa.yaml"), `
id: qa
name: QA Engineer
description: Reviews changes for defects
`)
	writeFile(t, filepath.Join(dir, "dev-godot.yml"), `
name: Godot Developer
source: expansion-pack
expansion_pack: game-dev
last_modified: 2026-08-01T00:00:00Z
`)
	// Non-YAML files are ignored.
	writeFile(t, filepath.Join(dir, "notes.txt"), "not a descriptor")

	r := NewRegistry(nil, testLogger())
	n, err := r.LoadDir(context.Background(), dir)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if n != 2 {
		t.Errorf("LoadDir = %d, want 2", n)
	}

	qa, err := r.Descriptor(context.Background(), "qa")
	if err != nil {
		t.Fatalf("Descriptor qa: %v", err)
	}
	if qa.Name != "QA Engineer" || qa.Source != domain.SourceCore {
		t.Errorf("qa = %+v", qa)
	}
	if qa.LastModified.IsZero() {
		t.Error("missing last_modified should fall back to file mtime")
	}

	// ID defaults to the file name; pack membership implies the source.
	godot, err := r.Descriptor(context.Background(), "dev-godot")
	if err != nil {
		t.Fatalf("Descriptor dev-godot: %v", err)
	}
	if godot.Source != domain.SourceExpansionPack || godot.ExpansionPack != "game-dev" {
		t.Errorf("godot = %+v", godot)
	}
	want := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	if !godot.LastModified.Equal(want) {
		t.Errorf("LastModified = %v, want %v", godot.LastModified, want)
	}
}

func TestLoadDirDefaultActivation(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "writer.yaml"), "id: writer\n")

	r := NewRegistry(nil, testLogger())
	if _, err := r.LoadDir(context.Background(), dir); err != nil {
		t.Fatalf("LoadDir: %v", err)
	}

	desc, err := r.Descriptor(context.Background(), "writer")
	if err != nil {
		t.Fatalf("Descriptor: %v", err)
	}

	data, err := desc.Activate(context.Background(),
		domain.ActivationContext{"trigger": "test"},
		&domain.ResourceBundle{Dependencies: []string{"a", "b"}})
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if data["agent_id"] != "writer" {
		t.Errorf("agent_id = %v, want writer", data["agent_id"])
	}
	if data["dependencies"] != 2 {
		t.Errorf("dependencies = %v, want 2", data["dependencies"])
	}
	if data["ctx.trigger"] != "test" {
		t.Errorf("ctx.trigger = %v, want test", data["ctx.trigger"])
	}
}

func TestLoadDirMissing(t *testing.T) {
	r := NewRegistry(nil, testLogger())
	n, err := r.LoadDir(context.Background(), filepath.Join(t.TempDir(), "nope"))
	if err != nil {
		t.Fatalf("missing dir should not error: %v", err)
	}
	if n != 0 {
		t.Errorf("n = %d, want 0", n)
	}
}

func TestLoadDirBadYAML(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "broken.yaml"), "id: [unclosed")

	r := NewRegistry(nil, testLogger())
	if _, err := r.LoadDir(context.Background(), dir); err == nil {
		t.Error("malformed descriptor should fail the load")
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("WriteFile %s: %v", path, err)
	}
}
