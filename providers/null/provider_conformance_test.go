package null

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/machflow/envsmith/internal/ir"
)

// Provider conformance test suite.
// These tests walk the full lifecycle the pipeline drives:
// Base -> List -> Create -> Activate -> InstallBatch -> InstallEditable -> Remove

func TestConformance_FullLifecycle(t *testing.T) {
	ctx := context.Background()
	p := New()

	// 1. Base
	scope, err := p.Base(ctx)
	require.NoError(t, err)
	assert.Equal(t, "/null", scope.RootPrefix)

	// 2. List shows only base
	envs, err := p.List(ctx, scope)
	require.NoError(t, err)
	_, ok := ir.FindEnv(envs, "machflow")
	assert.False(t, ok)

	// 3. Create
	spec := ir.EnvSpec{
		Name:     "machflow",
		Channels: []string{"conda-forge"},
		Packages: []ir.Package{{Name: "python", Version: "=3.11"}, {Name: "numpy"}},
	}
	require.NoError(t, p.Create(ctx, scope, spec))

	// 4. Activate
	env, err := p.Activate(ctx, scope, "machflow")
	require.NoError(t, err)
	assert.True(t, env.Active)
	assert.Equal(t, "/null/envs/machflow", env.Prefix)

	// 5. InstallBatch
	l, err := (&ir.Manifest{Layer: []string{"optuna>=3", "jsonargparse[signatures]"}}).PackageLayer()
	require.NoError(t, err)
	require.NoError(t, p.InstallBatch(ctx, env, l))

	// 6. InstallEditable
	require.NoError(t, p.InstallEditable(ctx, env, "/src/machflow"))

	recorded, ok := p.Env("machflow")
	require.True(t, ok)
	assert.Equal(t, ">=3", recorded.Packages["optuna"])
	assert.Contains(t, recorded.Packages, "jsonargparse")
	assert.Equal(t, "/src/machflow", recorded.Editable)

	// 7. Remove
	require.NoError(t, p.Remove(ctx, scope, "machflow"))
	_, ok = p.Env("machflow")
	assert.False(t, ok)
}

func TestConformance_InstallBatchIsAtomic(t *testing.T) {
	ctx := context.Background()
	p := New()
	p.Unavailable["notapkg"] = true
	p.Seed("machflow")
	scope, _ := p.Base(ctx)
	env, err := p.Activate(ctx, scope, "machflow")
	require.NoError(t, err)

	l, err := (&ir.Manifest{Layer: []string{"optuna", "notapkg", "zarr"}}).PackageLayer()
	require.NoError(t, err)

	err = p.InstallBatch(ctx, env, l)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "notapkg")

	recorded, _ := p.Env("machflow")
	assert.Empty(t, recorded.Packages)
}

func TestConformance_RejectsInactiveHandles(t *testing.T) {
	ctx := context.Background()
	p := New()
	p.Seed("machflow")

	inactive := &ir.Environment{Name: "machflow"}
	assert.True(t, errors.Is(p.InstallBatch(ctx, inactive, ir.PackageLayer{}), ir.ErrNotActive))
	assert.True(t, errors.Is(p.InstallEditable(ctx, inactive, "/src"), ir.ErrNotActive))

	ghost := &ir.Environment{Name: "ghost", Active: true}
	assert.Error(t, p.InstallBatch(ctx, ghost, ir.PackageLayer{}))
	assert.Error(t, p.InstallEditable(ctx, ghost, "/src"))
}

func TestConformance_UnavailablePackageFailsCreate(t *testing.T) {
	ctx := context.Background()
	p := New()
	p.Unavailable["python"] = true

	scope, _ := p.Base(ctx)
	err := p.Create(ctx, scope, ir.EnvSpec{Name: "machflow", Packages: []ir.Package{{Name: "python", Version: "=2.1"}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PackagesNotFoundError")
	_, ok := p.Env("machflow")
	assert.False(t, ok)
}

func TestConformance_RemoveMissing(t *testing.T) {
	ctx := context.Background()
	p := New()
	scope, _ := p.Base(ctx)
	assert.Error(t, p.Remove(ctx, scope, "machflow"))
}

func TestConformance_InjectedErrors(t *testing.T) {
	ctx := context.Background()
	p := New()
	p.Errors[OpBase] = errors.New("permission denied")

	_, err := p.Base(ctx)
	assert.EqualError(t, err, "permission denied")
	assert.Equal(t, 1, p.Calls(OpBase))
}

func TestConformance_HangHonoursContext(t *testing.T) {
	p := New()
	p.Hang[OpCreate] = true

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	scope, err := p.Base(context.Background())
	require.NoError(t, err)
	err = p.Create(ctx, scope, ir.EnvSpec{Name: "machflow"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	_, ok := p.Env("machflow")
	assert.False(t, ok)
}
