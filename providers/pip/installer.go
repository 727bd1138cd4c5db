package pip

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/machflow/envsmith/internal/ir"
	"github.com/machflow/envsmith/internal/logging"
	"github.com/machflow/envsmith/internal/runner"
)

var baseArgs = []string{"-m", "pip"}

const rollbackTimeout = 10 * time.Minute

// Installer installs packages with pip, using the interpreter of the target
// environment directly.
type Installer struct {
	runner runner.Runner
}

func New(r runner.Runner) *Installer {
	return &Installer{runner: r}
}

func (i *Installer) Name() string {
	return "pip"
}

// InstallBatch installs the whole layer with one pip invocation. If pip
// fails, distributions it added are uninstalled and distributions whose
// version it changed are put back, so the batch leaves nothing behind.
func (i *Installer) InstallBatch(ctx context.Context, env *ir.Environment, layer ir.PackageLayer) error {
	if err := ir.RequireActive(env); err != nil {
		return err
	}
	if layer.Empty() {
		return nil
	}

	before, err := i.installed(ctx, env)
	if err != nil {
		return fmt.Errorf("failed to snapshot installed packages: %w", err)
	}

	args := append(i.installArgs(), layer.Args()...)
	if _, err := i.pip(ctx, env, "", args...); err != nil {
		// The batch may have failed because ctx ended; rollback still runs.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
		defer cancel()
		i.rollback(rctx, env, before)
		return err
	}
	return nil
}

// InstallEditable runs an editable install of projectRoot.
func (i *Installer) InstallEditable(ctx context.Context, env *ir.Environment, projectRoot string) error {
	if err := ir.RequireActive(env); err != nil {
		return err
	}
	args := append(i.installArgs(), "-e", projectRoot)
	_, err := i.pip(ctx, env, projectRoot, args...)
	return err
}

func (i *Installer) installArgs() []string {
	return []string{"install", "--disable-pip-version-check", "--no-input"}
}

func (i *Installer) pip(ctx context.Context, env *ir.Environment, dir string, args ...string) (*runner.Result, error) {
	return i.runner.Run(ctx, runner.Cmd{
		Name: env.Python,
		Args: append(append([]string{}, baseArgs...), args...),
		Dir:  dir,
	})
}

type distribution struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// installed maps normalized distribution names to versions.
func (i *Installer) installed(ctx context.Context, env *ir.Environment) (map[string]string, error) {
	res, err := i.pip(ctx, env, "", "list", "--format=json", "--disable-pip-version-check")
	if err != nil {
		return nil, err
	}
	var dists []distribution
	if err := json.Unmarshal(res.Stdout, &dists); err != nil {
		return nil, fmt.Errorf("failed to parse pip list output: %w", err)
	}
	out := make(map[string]string, len(dists))
	for _, d := range dists {
		out[ir.NormalizeName(d.Name)] = d.Version
	}
	return out, nil
}

func (i *Installer) rollback(ctx context.Context, env *ir.Environment, before map[string]string) {
	after, err := i.installed(ctx, env)
	if err != nil {
		logging.Warn("could not list packages after failed install; skipping rollback", "env", env.Name, "error", err)
		return
	}

	added, changed := diff(before, after)
	if len(added) > 0 {
		logging.Info("removing packages left by failed install", "env", env.Name, "packages", added)
		args := append([]string{"uninstall", "-y", "--disable-pip-version-check"}, added...)
		if _, err := i.pip(ctx, env, "", args...); err != nil {
			logging.Warn("rollback uninstall failed", "env", env.Name, "error", err)
		}
	}
	if len(changed) > 0 {
		logging.Info("restoring package versions changed by failed install", "env", env.Name, "packages", changed)
		args := append(i.installArgs(), "--no-deps")
		args = append(args, changed...)
		if _, err := i.pip(ctx, env, "", args...); err != nil {
			logging.Warn("rollback restore failed", "env", env.Name, "error", err)
		}
	}
}

// diff returns the names present only in after, and name==version pins for
// every distribution whose version differs between the two snapshots.
func diff(before, after map[string]string) (added, changed []string) {
	for name, version := range after {
		prior, ok := before[name]
		switch {
		case !ok:
			added = append(added, name)
		case prior != version:
			changed = append(changed, name+"=="+prior)
		}
	}
	sort.Strings(added)
	sort.Strings(changed)
	return added, changed
}
