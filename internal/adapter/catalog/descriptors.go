package catalog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"crewd/internal/domain"
)

// descriptorFile is the on-disk YAML shape of an agent descriptor.
type descriptorFile struct {
	ID            string    `yaml:"id"`
	Name          string    `yaml:"name"`
	Source        string    `yaml:"source"`
	ExpansionPack string    `yaml:"expansion_pack"`
	Description   string    `yaml:"description"`
	LastModified  time.Time `yaml:"last_modified"`
}

// LoadDir registers every *.yaml / *.yml descriptor found directly in dir.
// File descriptors get a default activation procedure that records the
// activation context and bundle sizes as instance data; binaries embedding
// crewd register richer procedures through Register. Returns the number of
// descriptors registered.
func (r *Registry) LoadDir(ctx context.Context, dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("catalog: read descriptor dir %s: %w", dir, err)
	}

	count := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		desc, err := readDescriptorFile(path)
		if err != nil {
			return count, err
		}
		if err := r.Register(ctx, desc); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func readDescriptorFile(path string) (*domain.AgentDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}

	var df descriptorFile
	if err := yaml.Unmarshal(data, &df); err != nil {
		return nil, fmt.Errorf("catalog: parse %s: %w", path, err)
	}
	if df.ID == "" {
		df.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if df.Name == "" {
		df.Name = df.ID
	}

	source := domain.SourceCore
	if df.Source == string(domain.SourceExpansionPack) || df.ExpansionPack != "" {
		source = domain.SourceExpansionPack
	}

	lastModified := df.LastModified
	if lastModified.IsZero() {
		if info, err := os.Stat(path); err == nil {
			lastModified = info.ModTime()
		}
	}

	return &domain.AgentDescriptor{
		ID:            df.ID,
		Name:          df.Name,
		Source:        source,
		ExpansionPack: df.ExpansionPack,
		Description:   df.Description,
		LastModified:  lastModified,
		Activate:      defaultActivation(df.ID),
	}, nil
}

// defaultActivation is the procedure given to file-backed descriptors.
func defaultActivation(agentID string) domain.ActivationFunc {
	return func(ctx context.Context, actx domain.ActivationContext, bundle *domain.ResourceBundle) (domain.InstanceData, error) {
		data := domain.InstanceData{
			"agent_id":       agentID,
			"dependencies":   len(bundle.Dependencies),
			"steering_rules": len(bundle.SteeringRules),
			"hooks":          len(bundle.Hooks),
		}
		for k, v := range actx {
			data["ctx."+k] = v
		}
		return data, nil
	}
}
