package pip

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/machflow/envsmith/internal/ir"
	"github.com/machflow/envsmith/internal/runner"
	"github.com/machflow/envsmith/internal/testutil"
)

const python = "/opt/conda/envs/machflow/bin/python"

func activeEnv() *ir.Environment {
	return &ir.Environment{Name: "machflow", Python: python, Active: true}
}

func layer(t *testing.T, specs ...string) ir.PackageLayer {
	t.Helper()
	m := &ir.Manifest{Layer: specs}
	l, err := m.PackageLayer()
	require.NoError(t, err)
	return l
}

func TestInstallBatch_SingleRequest(t *testing.T) {
	r := testutil.NewScriptedRunner().
		On(python+" -m pip list", testutil.Response{Stdout: `[{"name": "pip", "version": "24.0"}]`}).
		On(python+" -m pip install", testutil.Response{})
	inst := New(r)

	err := inst.InstallBatch(context.Background(), activeEnv(), layer(t, "lightning>=2.2", "jsonargparse[signatures]", "optuna"))
	require.NoError(t, err)

	assert.Equal(t, 1, r.Count(python+" -m pip install"))
	calls := r.Calls()
	last := calls[len(calls)-1]
	assert.Equal(t, []string{"-m", "pip", "install", "--disable-pip-version-check", "--no-input",
		"lightning>=2.2", "jsonargparse[signatures]", "optuna"}, last.Args)
}

func TestInstallBatch_RollsBackOnFailure(t *testing.T) {
	lists := 0
	r := testutil.NewScriptedRunner().
		OnFunc(python+" -m pip list", func(runner.Cmd) testutil.Response {
			lists++
			if lists == 1 {
				return testutil.Response{Stdout: `[{"name": "pip", "version": "24.0"}, {"name": "numpy", "version": "1.26.4"}]`}
			}
			return testutil.Response{Stdout: `[{"name": "pip", "version": "24.0"}, {"name": "numpy", "version": "2.0.0"}, {"name": "Lightning_Utilities", "version": "0.11"}]`}
		}).
		On(python+" -m pip install --disable-pip-version-check --no-input --no-deps", testutil.Response{}).
		On(python+" -m pip install", testutil.Response{Code: 1, Stderr: "ERROR: No matching distribution found for notapkg"}).
		On(python+" -m pip uninstall", testutil.Response{})
	inst := New(r)

	err := inst.InstallBatch(context.Background(), activeEnv(), layer(t, "lightning", "notapkg"))
	require.Error(t, err)
	assert.Equal(t, "ERROR: No matching distribution found for notapkg", err.Error())

	var uninstall, restore runner.Cmd
	for _, c := range r.Calls() {
		if len(c.Args) > 2 && c.Args[2] == "uninstall" {
			uninstall = c
		}
		if len(c.Args) > 5 && c.Args[5] == "--no-deps" {
			restore = c
		}
	}
	assert.Equal(t, []string{"-m", "pip", "uninstall", "-y", "--disable-pip-version-check", "lightning-utilities"}, uninstall.Args)
	assert.Contains(t, restore.Args, "numpy==1.26.4")
}

func TestInstallBatch_RequiresActiveEnvironment(t *testing.T) {
	r := testutil.NewScriptedRunner()
	inst := New(r)

	err := inst.InstallBatch(context.Background(), &ir.Environment{Name: "machflow", Python: python}, layer(t, "optuna"))
	assert.True(t, errors.Is(err, ir.ErrNotActive))

	err = inst.InstallBatch(context.Background(), nil, layer(t, "optuna"))
	assert.True(t, errors.Is(err, ir.ErrNotActive))
	assert.Empty(t, r.Calls())
}

func TestInstallBatch_EmptyLayer(t *testing.T) {
	r := testutil.NewScriptedRunner()
	require.NoError(t, New(r).InstallBatch(context.Background(), activeEnv(), ir.PackageLayer{}))
	assert.Empty(t, r.Calls())
}

func TestInstallEditable(t *testing.T) {
	r := testutil.NewScriptedRunner().On(python+" -m pip install", testutil.Response{})
	inst := New(r)

	require.NoError(t, inst.InstallEditable(context.Background(), activeEnv(), "/src/machflow"))
	calls := r.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "/src/machflow", calls[0].Dir)
	assert.Equal(t, []string{"-e", "/src/machflow"}, calls[0].Args[len(calls[0].Args)-2:])
}

func TestInstallEditable_RequiresActiveEnvironment(t *testing.T) {
	r := testutil.NewScriptedRunner()
	err := New(r).InstallEditable(context.Background(), &ir.Environment{Name: "machflow"}, "/src")
	assert.ErrorIs(t, err, ir.ErrNotActive)
	assert.Empty(t, r.Calls())
}

func TestDiff(t *testing.T) {
	added, changed := diff(
		map[string]string{"a": "1", "b": "1"},
		map[string]string{"a": "1", "b": "2", "d": "1", "c": "3"},
	)
	assert.Equal(t, []string{"c", "d"}, added)
	assert.Equal(t, []string{"b==1"}, changed)
}
