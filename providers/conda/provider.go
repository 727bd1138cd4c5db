package conda

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"runtime"
	"strings"

	"github.com/machflow/envsmith/internal/ir"
	"github.com/machflow/envsmith/internal/logging"
	"github.com/machflow/envsmith/internal/runner"
)

// Provider drives conda and conda-compatible frontends (mamba) through
// their command line.
type Provider struct {
	runner  runner.Runner
	name    string
	exe     string
	windows bool
}

// New creates a provider for the named frontend. exe overrides the
// executable looked up on PATH.
func New(r runner.Runner, name, exe string) *Provider {
	if exe == "" {
		exe = name
	}
	return &Provider{
		runner:  r,
		name:    name,
		exe:     exe,
		windows: runtime.GOOS == "windows",
	}
}

func (p *Provider) Name() string {
	return p.name
}

// Base enters the base scope by asking the tool for its installation root.
func (p *Provider) Base(ctx context.Context) (*ir.Scope, error) {
	res, err := p.run(ctx, "info", "--json")
	if err != nil {
		return nil, err
	}

	var info Info
	if err := json.Unmarshal(res.Stdout, &info); err != nil {
		return nil, fmt.Errorf("failed to parse %s info output: %w", p.name, err)
	}
	root := info.rootPrefix()
	if root == "" {
		return nil, fmt.Errorf("%s info reported no root prefix", p.name)
	}

	return &ir.Scope{
		Manager:    p.name,
		RootPrefix: root,
		Version:    info.version(),
	}, nil
}

// List returns the named environments known to the tool. Environments that
// live outside an envs directory have no name and are skipped.
func (p *Provider) List(ctx context.Context, scope *ir.Scope) ([]ir.EnvRef, error) {
	if scope == nil {
		return nil, errors.New("base scope is not active")
	}
	res, err := p.run(ctx, "env", "list", "--json")
	if err != nil {
		return nil, err
	}

	var listing struct {
		Envs []string `json:"envs"`
	}
	if err := json.Unmarshal(res.Stdout, &listing); err != nil {
		return nil, fmt.Errorf("failed to parse %s env list output: %w", p.name, err)
	}

	envs := make([]ir.EnvRef, 0, len(listing.Envs))
	for _, prefix := range listing.Envs {
		if name := envName(scope.RootPrefix, prefix); name != "" {
			envs = append(envs, ir.EnvRef{Name: name, Prefix: prefix})
		}
	}
	return envs, nil
}

// Remove deletes the named environment.
func (p *Provider) Remove(ctx context.Context, scope *ir.Scope, name string) error {
	if scope == nil {
		return errors.New("base scope is not active")
	}
	_, err := p.run(ctx, "remove", "-n", name, "--all", "-y")
	return err
}

// Create issues a single create request. Only the listed channels are used,
// with strict priority so the first channel carrying a package wins.
func (p *Provider) Create(ctx context.Context, scope *ir.Scope, spec ir.EnvSpec) error {
	if scope == nil {
		return errors.New("base scope is not active")
	}
	_, err := p.run(ctx, createArgs(spec)...)
	return err
}

func createArgs(spec ir.EnvSpec) []string {
	args := []string{"create", "-n", spec.Name, "-y", "--override-channels", "--strict-channel-priority"}
	for _, ch := range spec.Channels {
		args = append(args, "-c", ch)
	}
	for _, pkg := range spec.Packages {
		args = append(args, pkg.String())
	}
	return args
}

// Activate resolves name to an active handle and checks that its
// interpreter runs.
func (p *Provider) Activate(ctx context.Context, scope *ir.Scope, name string) (*ir.Environment, error) {
	envs, err := p.List(ctx, scope)
	if err != nil {
		return nil, err
	}
	ref, ok := ir.FindEnv(envs, name)
	if !ok {
		return nil, fmt.Errorf("environment %q does not exist", name)
	}

	python := p.pythonPath(ref.Prefix)
	res, err := p.runner.Run(ctx, runner.Cmd{
		Name: python,
		Args: []string{"-c", "import sys; print('%d.%d.%d' % sys.version_info[:3])"},
	})
	if err != nil {
		return nil, fmt.Errorf("environment %q has no working interpreter: %w", name, err)
	}

	env := &ir.Environment{
		Name:          name,
		Prefix:        ref.Prefix,
		Python:        python,
		PythonVersion: strings.TrimSpace(string(res.Stdout)),
		Active:        true,
	}
	logging.Debug("environment activated", "env", name, "prefix", ref.Prefix, "python", env.PythonVersion)
	return env, nil
}

func (p *Provider) pythonPath(prefix string) string {
	if p.windows {
		return strings.TrimRight(prefix, `\/`) + `\python.exe`
	}
	return path.Join(prefix, "bin", "python")
}

// run invokes the frontend. Failures of --json commands are reported on
// stdout as a JSON document; its message is surfaced unchanged.
func (p *Provider) run(ctx context.Context, args ...string) (*runner.Result, error) {
	res, err := p.runner.Run(ctx, runner.Cmd{Name: p.exe, Args: args})
	if err == nil {
		return res, nil
	}
	var exitErr *runner.ExitError
	if errors.As(err, &exitErr) {
		if msg := jsonErrorMessage(exitErr.Stdout); msg != "" {
			return res, errors.New(msg)
		}
	}
	return res, err
}

// Info is the subset of `conda info --json` (and mamba's variant) in use.
type Info struct {
	RootPrefix        string `json:"root_prefix"`
	BaseEnvironment   string `json:"base environment"`
	CondaVersion      string `json:"conda_version"`
	MambaVersion      string `json:"mamba version"`
	MicromambaVersion string `json:"micromamba version"`
}

func (i Info) rootPrefix() string {
	if i.RootPrefix != "" {
		return i.RootPrefix
	}
	return i.BaseEnvironment
}

func (i Info) version() string {
	for _, v := range []string{i.CondaVersion, i.MambaVersion, i.MicromambaVersion} {
		if v != "" {
			return v
		}
	}
	return ""
}

// envName maps an environment prefix to its name: the root prefix is
// "base", anything directly under an envs directory is named after its
// directory.
func envName(root, prefix string) string {
	clean := func(s string) string { return strings.TrimRight(strings.ReplaceAll(s, `\`, "/"), "/") }
	root, prefix = clean(root), clean(prefix)
	if prefix == root {
		return "base"
	}
	dir, base := path.Split(prefix)
	if path.Base(strings.TrimRight(dir, "/")) != "envs" {
		return ""
	}
	return base
}

func jsonErrorMessage(stdout []byte) string {
	var doc struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(stdout, &doc); err != nil {
		return ""
	}
	if doc.Message != "" {
		return strings.TrimSpace(doc.Message)
	}
	return strings.TrimSpace(doc.Error)
}
