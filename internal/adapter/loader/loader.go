// Package loader assembles agent resource bundles from an on-disk layout:
//
//	<root>/<agent-id>/deps.yaml      — declared dependency identifiers
//	<root>/<agent-id>/steering/*.md  — steering rule documents
//	<root>/<agent-id>/hooks.yaml     — lifecycle hook definitions
//
// Every file is optional; an agent with no directory gets an empty bundle.
// Declared dependencies are verified to exist under <root>/shared/ — a
// declaration without its file is a load failure, not a silent gap.
package loader

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"crewd/internal/domain"
)

const (
	depsFile    = "deps.yaml"
	hooksFile   = "hooks.yaml"
	steeringDir = "steering"
	sharedDir   = "shared"
	steeringExt = ".md"
)

// FSLoader is a domain.ResourceLoader reading from a root directory.
type FSLoader struct {
	root   string
	logger *slog.Logger
}

// New creates a loader rooted at root.
func New(root string, logger *slog.Logger) *FSLoader {
	return &FSLoader{root: root, logger: logger}
}

// Load builds the descriptor's resource bundle. Failures wrap
// domain.ErrResourceLoad so the coordinator classifies them correctly.
func (l *FSLoader) Load(ctx context.Context, desc *domain.AgentDescriptor) (*domain.ResourceBundle, error) {
	agentDir := filepath.Join(l.root, desc.ID)

	bundle := &domain.ResourceBundle{}

	deps, err := l.loadDeps(agentDir)
	if err != nil {
		return nil, fmt.Errorf("%w: agent %q: %v", domain.ErrResourceLoad, desc.ID, err)
	}
	bundle.Dependencies = deps

	rules, err := l.loadSteering(agentDir)
	if err != nil {
		return nil, fmt.Errorf("%w: agent %q: %v", domain.ErrResourceLoad, desc.ID, err)
	}
	bundle.SteeringRules = rules

	hooks, err := l.loadHooks(agentDir)
	if err != nil {
		return nil, fmt.Errorf("%w: agent %q: %v", domain.ErrResourceLoad, desc.ID, err)
	}
	bundle.Hooks = hooks

	l.logger.Debug("resource bundle loaded",
		"agent_id", desc.ID,
		"dependencies", len(bundle.Dependencies),
		"steering_rules", len(bundle.SteeringRules),
		"hooks", len(bundle.Hooks),
	)
	return bundle, nil
}

func (l *FSLoader) loadDeps(agentDir string) ([]string, error) {
	data, err := os.ReadFile(filepath.Join(agentDir, depsFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %v", depsFile, err)
	}

	var decl struct {
		Dependencies []string `yaml:"dependencies"`
	}
	if err := yaml.Unmarshal(data, &decl); err != nil {
		return nil, fmt.Errorf("parse %s: %v", depsFile, err)
	}

	for _, dep := range decl.Dependencies {
		path := filepath.Join(l.root, sharedDir, filepath.FromSlash(dep))
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("dependency %q not found under %s", dep, sharedDir)
		}
	}
	return decl.Dependencies, nil
}

func (l *FSLoader) loadSteering(agentDir string) ([]domain.SteeringRule, error) {
	dir := filepath.Join(agentDir, steeringDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %v", steeringDir, err)
	}

	var rules []domain.SteeringRule
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), steeringExt) {
			continue
		}
		text, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read steering rule %s: %v", entry.Name(), err)
		}
		rules = append(rules, domain.SteeringRule{
			Name: strings.TrimSuffix(entry.Name(), steeringExt),
			Text: string(text),
		})
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].Name < rules[j].Name })
	return rules, nil
}

func (l *FSLoader) loadHooks(agentDir string) ([]domain.Hook, error) {
	data, err := os.ReadFile(filepath.Join(agentDir, hooksFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %v", hooksFile, err)
	}

	var decl struct {
		Hooks []domain.Hook `yaml:"hooks"`
	}
	if err := yaml.Unmarshal(data, &decl); err != nil {
		return nil, fmt.Errorf("parse %s: %v", hooksFile, err)
	}

	for _, h := range decl.Hooks {
		if h.Name == "" || h.Event == "" {
			return nil, fmt.Errorf("hook missing name or event in %s", hooksFile)
		}
	}
	return decl.Hooks, nil
}

var _ domain.ResourceLoader = (*FSLoader)(nil)
