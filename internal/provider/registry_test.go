package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/machflow/envsmith/internal/testutil"
	"github.com/machflow/envsmith/providers/null"
)

func TestRegistry_LoadAndGet(t *testing.T) {
	reg := NewRegistry(testutil.NewScriptedRunner())

	for _, name := range []string{"conda", "mamba", "null"} {
		require.NoError(t, reg.LoadManager(name))
		m, err := reg.Manager(name)
		require.NoError(t, err)
		assert.Equal(t, name, m.Name())
	}

	require.NoError(t, reg.LoadInstaller("pip"))
	i, err := reg.Installer("pip")
	require.NoError(t, err)
	assert.Equal(t, "pip", i.Name())
}

func TestRegistry_Unknown(t *testing.T) {
	reg := NewRegistry(testutil.NewScriptedRunner())

	assert.Error(t, reg.LoadManager("poetry"))
	assert.Error(t, reg.LoadInstaller("uv"))

	_, err := reg.Manager("conda")
	assert.ErrorContains(t, err, "not loaded")
}

func TestRegistry_NullIsShared(t *testing.T) {
	shared := null.New()
	reg := NewRegistry(nil, WithNull(shared))

	require.NoError(t, reg.LoadManager("null"))
	require.NoError(t, reg.LoadInstaller(InstallerFor("null")))

	m, _ := reg.Manager("null")
	i, _ := reg.Installer("null")
	assert.Same(t, shared, m)
	assert.Same(t, shared, i)
}

func TestInstallerFor(t *testing.T) {
	assert.Equal(t, "pip", InstallerFor("conda"))
	assert.Equal(t, "pip", InstallerFor("mamba"))
	assert.Equal(t, "null", InstallerFor("null"))
}
