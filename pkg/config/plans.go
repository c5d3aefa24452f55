package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/tenantguard/pkg/observability"
	"github.com/platinummonkey/tenantguard/pkg/tenancy"
)

// planFile is the YAML layout of the plan catalog:
//
//	plans:
//	  free:
//	    max_users: 5
//	    max_projects: 10
type planFile struct {
	Plans map[tenancy.PlanTier]tenancy.Limits `yaml:"plans"`
}

// PlanCatalog maps plan tiers to limits. It is safe for concurrent use and
// can follow changes to its file.
type PlanCatalog struct {
	path string

	mu    sync.RWMutex
	plans map[tenancy.PlanTier]tenancy.Limits
}

// DefaultPlans returns the built-in catalog used when no file is configured
func DefaultPlans() map[tenancy.PlanTier]tenancy.Limits {
	return map[tenancy.PlanTier]tenancy.Limits{
		tenancy.PlanFree:       tenancy.DefaultLimits(),
		tenancy.PlanPro:        {MaxUsers: 50, MaxProjects: 100},
		tenancy.PlanEnterprise: {},
	}
}

// NewPlanCatalog creates a catalog with fixed plans
func NewPlanCatalog(plans map[tenancy.PlanTier]tenancy.Limits) *PlanCatalog {
	c := &PlanCatalog{}
	c.set(plans)
	return c
}

// LoadPlanCatalog reads the catalog at path. An empty path yields DefaultPlans.
func LoadPlanCatalog(path string) (*PlanCatalog, error) {
	if path == "" {
		return NewPlanCatalog(DefaultPlans()), nil
	}
	c := &PlanCatalog{path: path}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Limits implements tenants.PlanCatalog
func (c *PlanCatalog) Limits(tier tenancy.PlanTier) (tenancy.Limits, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	l, ok := c.plans[tier]
	return l, ok
}

// Tiers returns the number of configured tiers
func (c *PlanCatalog) Tiers() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.plans)
}

// Names returns the configured tiers, sorted
func (c *PlanCatalog) Names() []tenancy.PlanTier {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]tenancy.PlanTier, 0, len(c.plans))
	for tier := range c.plans {
		out = append(out, tier)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Reload rereads the catalog file. The previous catalog stays in effect when
// the file cannot be parsed.
func (c *PlanCatalog) Reload() error {
	if c.path == "" {
		return nil
	}
	data, err := os.ReadFile(c.path)
	if err != nil {
		return fmt.Errorf("failed to read plan catalog: %w", err)
	}
	plans, err := parsePlans(data)
	if err != nil {
		return fmt.Errorf("failed to parse plan catalog %s: %w", c.path, err)
	}
	c.set(plans)
	return nil
}

func parsePlans(data []byte) (map[tenancy.PlanTier]tenancy.Limits, error) {
	var f planFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	if len(f.Plans) == 0 {
		return nil, fmt.Errorf("no plans defined")
	}
	for tier, l := range f.Plans {
		if l.MaxUsers < 0 || l.MaxProjects < 0 {
			return nil, fmt.Errorf("plan %s has negative limits", tier)
		}
	}
	return f.Plans, nil
}

func (c *PlanCatalog) set(plans map[tenancy.PlanTier]tenancy.Limits) {
	copied := make(map[tenancy.PlanTier]tenancy.Limits, len(plans))
	for k, v := range plans {
		copied[k] = v
	}
	c.mu.Lock()
	c.plans = copied
	c.mu.Unlock()
}

// Watch reloads the catalog whenever its file changes until ctx is done.
// The parent directory is watched so that editors replacing the file by
// rename are picked up.
func (c *PlanCatalog) Watch(ctx context.Context, logger *observability.Logger) error {
	if c.path == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(c.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", c.path, err)
	}

	target := filepath.Clean(c.path)
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target || event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if err := c.Reload(); err != nil {
					logger.WithError(err).Warn("plan catalog reload failed, keeping previous plans")
					continue
				}
				logger.WithField("tiers", c.Tiers()).Info("plan catalog reloaded")
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.WithError(err).Warn("plan catalog watcher error")
			}
		}
	}()
	return nil
}
