package cli

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/machflow/envsmith/internal/engine"
	"github.com/machflow/envsmith/internal/ir"
	"github.com/machflow/envsmith/internal/state"
)

const pyproject = "[project]\nname = \"machflow\"\nversion = \"0.3.0\"\n"

// resetFlags restores every flag to its default between executions of the
// shared command tree.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.PersistentFlags().VisitAll(reset)
	cmd.Flags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// newProject creates a project root, makes it the working directory and
// blanks the settings environment.
func newProject(t *testing.T, withDescriptor bool) string {
	t.Helper()
	for _, key := range []string{
		"ENVSMITH_MANIFEST", "ENVSMITH_PROFILE", "ENVSMITH_MANAGER", "ENVSMITH_RUNNER",
		"ENVSMITH_STAGE_TIMEOUT", "ENVSMITH_LOCK", "ENVSMITH_LOCK_FILE", "ENVSMITH_LOG_LEVEL",
	} {
		t.Setenv(key, "")
	}
	dir := t.TempDir()
	if withDescriptor {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "pyproject.toml"), []byte(pyproject), 0644))
	}
	t.Chdir(dir)
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestProvision_NullManager(t *testing.T) {
	newProject(t, true)

	out, err := execute(t, "--manager", "null")
	require.NoError(t, err)
	assert.Contains(t, out, "Provisioning machflow (profile machflow, null) for machflow")
	for _, stage := range []ir.Stage{ir.StageActivate, ir.StageReconcile, ir.StageBuild, ir.StageInstall, ir.StageLink} {
		assert.Contains(t, out, "==> "+string(stage))
	}
	assert.Contains(t, out, "none, created fresh")
	assert.Contains(t, out, "done")

	out, err = execute(t, "provision", "--manager", "null", "--profile", "machflow-geo")
	require.NoError(t, err)
	assert.Contains(t, out, "profile machflow-geo")
}

func TestProvision_RequiresProjectRoot(t *testing.T) {
	newProject(t, false)

	_, err := execute(t, "--manager", "null")
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrPreflight)
	assert.Contains(t, err.Error(), "Preflight: run envsmith from the project root")
}

func TestProvision_StageFailure(t *testing.T) {
	dir := newProject(t, true)
	manifest := `
profiles:
  broken:
    name: machflow
    manager: "null"
    python: "3.11"
    channels: [conda-forge]
    packages: [numpy]
    layer: ["lightning>=2.2", "optuna>=>3"]
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "envsmith.yaml"), []byte(manifest), 0644))

	out, err := execute(t)
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrInstall)
	assert.Equal(t, `Install: malformed specifier "optuna>=>3"`, err.Error())
	assert.Contains(t, out, "failed at Install")
	assert.NotContains(t, out, "==> Link")
}

func TestProvision_FailureReportedOnce(t *testing.T) {
	dir := newProject(t, true)
	manifest := `
profiles:
  broken:
    name: machflow
    manager: "null"
    python: "3.11"
    channels: [conda-forge]
    layer: ["optuna>=>3"]
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "envsmith.yaml"), []byte(manifest), 0644))

	resetFlags(rootCmd)
	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(nil)
	err := rootCmd.Execute()
	require.Error(t, err)

	// The caller prints err as the only failure line.
	assert.Equal(t, `Install: malformed specifier "optuna>=>3"`, err.Error())
	assert.NotContains(t, stderr.String(), "malformed specifier")
	assert.NotContains(t, stdout.String(), "malformed specifier")
	assert.Contains(t, stdout.String(), "failed at Install")
}

func TestProvision_UnknownProfile(t *testing.T) {
	newProject(t, true)

	_, err := execute(t, "--manager", "null", "--profile", "nope")
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrPreflight)
	assert.Contains(t, err.Error(), "machflow-geo")
}

func TestProvision_HeldLock(t *testing.T) {
	dir := newProject(t, true)
	lockPath := filepath.Join(dir, "run.lock")
	held := state.NewLock(lockPath)
	require.NoError(t, held.Acquire("machflow"))
	defer held.Release()
	t.Setenv("ENVSMITH_LOCK_FILE", lockPath)

	_, err := execute(t, "--manager", "null", "--lock")
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrPreflight)
	assert.ErrorIs(t, err, state.ErrLocked)

	// Without --lock the run proceeds.
	_, err = execute(t, "--manager", "null")
	require.NoError(t, err)
}

func TestProvision_LockReleased(t *testing.T) {
	dir := newProject(t, true)
	lockPath := filepath.Join(dir, "run.lock")
	t.Setenv("ENVSMITH_LOCK_FILE", lockPath)

	_, err := execute(t, "--manager", "null", "--lock", "--stage-timeout", "1m")
	require.NoError(t, err)
	_, err = os.Stat(lockPath)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestProvision_InvalidSettings(t *testing.T) {
	newProject(t, true)

	_, err := execute(t, "--runner", "ssh")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown runner")
}

func TestProfiles(t *testing.T) {
	newProject(t, false)

	out, err := execute(t, "profiles")
	require.NoError(t, err)
	assert.Contains(t, out, "Manifest: builtin")
	assert.Contains(t, out, "*machflow")
	assert.Contains(t, out, "machflow-geo")
	assert.Contains(t, out, "mamba")
}

func TestValidate(t *testing.T) {
	dir := newProject(t, true)

	out, err := execute(t, "validate", "--all")
	require.NoError(t, err)
	assert.Contains(t, out, "Checking profile machflow... OK")
	assert.Contains(t, out, "Checking profile machflow-geo... OK")
	assert.Contains(t, out, "OK (machflow 0.3.0 from pyproject.toml)")
	assert.Contains(t, out, "Configuration is valid!")

	manifest := "profiles:\n  dev:\n    name: base\n    python: \"3.11\"\n    channels: [conda-forge]\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "envsmith.yaml"), []byte(manifest), 0644))
	out, err = execute(t, "validate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reserved")
	assert.Contains(t, out, "Checking profile dev... FAILED")
}

func TestInit(t *testing.T) {
	dir := newProject(t, false)

	out, err := execute(t, "init")
	require.NoError(t, err)
	assert.Contains(t, out, "Created")
	raw, err := os.ReadFile(filepath.Join(dir, "envsmith.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "machflow-geo")

	_, err = execute(t, "init")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	_, err = execute(t, "init", "--force")
	require.NoError(t, err)
}

func TestDoctor_NullManager(t *testing.T) {
	newProject(t, true)

	out, err := execute(t, "doctor", "--manager", "null")
	require.NoError(t, err)
	assert.Contains(t, out, "null 0.0.0 at /null")
	assert.Contains(t, out, "Everything looks good.")
}

func TestDoctor_ReportsMissingProject(t *testing.T) {
	newProject(t, false)

	out, err := execute(t, "doctor", "--manager", "null")
	require.Error(t, err)
	assert.Contains(t, out, "FAIL")
	assert.Contains(t, err.Error(), "project:")
}

func TestVersion(t *testing.T) {
	newProject(t, false)

	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "envsmith version dev")
}

func TestRender(t *testing.T) {
	noColor = true
	assert.Equal(t, "ok", render(okStyle, "ok"))
	noColor = false
}

func TestRenderRunSummary(t *testing.T) {
	noColor = true
	defer func() { noColor = false }()

	var buf bytes.Buffer
	renderRunSummary(&buf, &ir.Run{
		ID:          "5d0c",
		Profile:     "machflow",
		Environment: "machflow",
		Manager:     "conda",
		State:       ir.StateFailed,
		FailedStage: ir.StageBuild,
		Outcome:     ir.OutcomeRemoved,
		Started:     time.Unix(0, 0),
		Finished:    time.Unix(90, 0),
	})
	out := buf.String()
	assert.Contains(t, out, "failed at Build")
	assert.Contains(t, out, "removed and recreated")
	assert.Contains(t, out, "1m30s")

	buf.Reset()
	renderRunSummary(&buf, nil)
	assert.Empty(t, buf.String())
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "250ms", formatDuration(250*time.Millisecond+300*time.Microsecond))
	assert.Equal(t, "2.5s", formatDuration(2530*time.Millisecond))
	assert.Equal(t, "4m2s", formatDuration(4*time.Minute+2400*time.Millisecond))
}
