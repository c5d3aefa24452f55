package config

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenantguard/pkg/observability"
	"github.com/platinummonkey/tenantguard/pkg/tenancy"
)

const plansYAML = `
plans:
  free:
    max_users: 3
    max_projects: 2
  pro:
    max_users: 25
    max_projects: 50
  enterprise: {}
`

func writePlans(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "plans.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadPlanCatalog(t *testing.T) {
	path := writePlans(t, t.TempDir(), plansYAML)

	catalog, err := LoadPlanCatalog(path)
	require.NoError(t, err)

	free, ok := catalog.Limits(tenancy.PlanFree)
	require.True(t, ok)
	assert.Equal(t, tenancy.Limits{MaxUsers: 3, MaxProjects: 2}, free)

	enterprise, ok := catalog.Limits(tenancy.PlanEnterprise)
	require.True(t, ok)
	assert.Equal(t, tenancy.Limits{}, enterprise)

	_, ok = catalog.Limits("platinum")
	assert.False(t, ok)
}

func TestLoadPlanCatalogDefaults(t *testing.T) {
	catalog, err := LoadPlanCatalog("")
	require.NoError(t, err)

	free, ok := catalog.Limits(tenancy.PlanFree)
	require.True(t, ok)
	assert.Equal(t, tenancy.DefaultLimits(), free)
	assert.Equal(t, 3, catalog.Tiers())
}

func TestLoadPlanCatalogErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadPlanCatalog(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	_, err = LoadPlanCatalog(writePlans(t, dir, "plans: [unclosed"))
	assert.Error(t, err)

	_, err = LoadPlanCatalog(writePlans(t, dir, "plans: {}"))
	assert.ErrorContains(t, err, "no plans defined")

	_, err = LoadPlanCatalog(writePlans(t, dir, "plans:\n  free:\n    max_users: -1\n"))
	assert.ErrorContains(t, err, "negative limits")
}

func TestPlanCatalogReloadKeepsPreviousOnError(t *testing.T) {
	dir := t.TempDir()
	path := writePlans(t, dir, plansYAML)
	catalog, err := LoadPlanCatalog(path)
	require.NoError(t, err)

	writePlans(t, dir, "plans: [broken")
	assert.Error(t, catalog.Reload())

	free, ok := catalog.Limits(tenancy.PlanFree)
	require.True(t, ok)
	assert.Equal(t, 3, free.MaxUsers)
}

func TestPlanCatalogWatch(t *testing.T) {
	dir := t.TempDir()
	path := writePlans(t, dir, plansYAML)
	catalog, err := LoadPlanCatalog(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, catalog.Watch(ctx, observability.NewLogger(observability.ErrorLevel, io.Discard)))

	writePlans(t, dir, "plans:\n  free:\n    max_users: 7\n    max_projects: 7\n")

	assert.Eventually(t, func() bool {
		free, ok := catalog.Limits(tenancy.PlanFree)
		return ok && free.MaxUsers == 7
	}, 5*time.Second, 20*time.Millisecond)
}
