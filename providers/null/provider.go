package null

import (
	"context"
	"fmt"
	"path"
	"sort"
	"sync"

	"github.com/machflow/envsmith/internal/ir"
)

// Operation names used for call counting and fault injection.
const (
	OpBase     = "base"
	OpList     = "list"
	OpRemove   = "remove"
	OpCreate   = "create"
	OpActivate = "activate"
	OpInstall  = "install"
	OpEditable = "editable"
)

// Provider is an in-memory package manager and installer. Nothing touches
// the host; environments live in a map. It backs smoke runs of manifests and
// the pipeline tests.
type Provider struct {
	mu sync.Mutex

	Root string
	// Unavailable lists package names the fake resolver cannot satisfy.
	Unavailable map[string]bool
	// Errors injects a failure for an operation.
	Errors map[string]error
	// Hang makes an operation block until its context is done.
	Hang map[string]bool

	envs  map[string]*Env
	calls map[string]int
}

// Env is the recorded content of one environment.
type Env struct {
	Prefix   string
	Channels []string
	Packages map[string]string // name -> version constraint as requested
	Editable string            // project root linked in editable mode
}

func New() *Provider {
	return &Provider{
		Root:        "/null",
		Unavailable: make(map[string]bool),
		Errors:      make(map[string]error),
		Hang:        make(map[string]bool),
		envs:        make(map[string]*Env),
		calls:       make(map[string]int),
	}
}

func (p *Provider) Name() string {
	return "null"
}

// Seed creates an environment directly, as if left over from an earlier run.
func (p *Provider) Seed(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.envs[name] = p.newEnv(name)
}

// Calls returns how many times op was invoked.
func (p *Provider) Calls(op string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[op]
}

// Env returns a copy of the named environment.
func (p *Provider) Env(name string) (Env, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.envs[name]
	if !ok {
		return Env{}, false
	}
	cp := *e
	cp.Packages = make(map[string]string, len(e.Packages))
	for k, v := range e.Packages {
		cp.Packages[k] = v
	}
	return cp, true
}

func (p *Provider) Base(ctx context.Context) (*ir.Scope, error) {
	if err := p.enter(ctx, OpBase); err != nil {
		return nil, err
	}
	return &ir.Scope{Manager: "null", RootPrefix: p.Root, Version: "0.0.0"}, nil
}

func (p *Provider) List(ctx context.Context, scope *ir.Scope) ([]ir.EnvRef, error) {
	if err := p.enter(ctx, OpList); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.list(), nil
}

func (p *Provider) Remove(ctx context.Context, scope *ir.Scope, name string) error {
	if err := p.enter(ctx, OpRemove); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.envs[name]; !ok {
		return fmt.Errorf("EnvironmentLocationNotFound: Not a conda environment: %s", path.Join(p.Root, "envs", name))
	}
	delete(p.envs, name)
	return nil
}

func (p *Provider) Create(ctx context.Context, scope *ir.Scope, spec ir.EnvSpec) error {
	if err := p.enter(ctx, OpCreate); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, pkg := range spec.Packages {
		if p.Unavailable[pkg.Name] {
			return fmt.Errorf("PackagesNotFoundError: The following packages are not available from current channels:\n  - %s", pkg)
		}
	}
	env := p.newEnv(spec.Name)
	env.Channels = append([]string(nil), spec.Channels...)
	for _, pkg := range spec.Packages {
		env.Packages[pkg.Name] = pkg.Version
	}
	p.envs[spec.Name] = env
	return nil
}

func (p *Provider) Activate(ctx context.Context, scope *ir.Scope, name string) (*ir.Environment, error) {
	if err := p.enter(ctx, OpActivate); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	env, ok := p.envs[name]
	if !ok {
		return nil, fmt.Errorf("environment %q does not exist", name)
	}
	return &ir.Environment{
		Name:          name,
		Prefix:        env.Prefix,
		Python:        path.Join(env.Prefix, "bin", "python"),
		PythonVersion: env.Packages["python"],
		Active:        true,
	}, nil
}

// InstallBatch checks every specifier before recording any of them.
func (p *Provider) InstallBatch(ctx context.Context, env *ir.Environment, layer ir.PackageLayer) error {
	if err := p.enter(ctx, OpInstall); err != nil {
		return err
	}
	if err := ir.RequireActive(env); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	target, ok := p.envs[env.Name]
	if !ok {
		return fmt.Errorf("environment %q does not exist", env.Name)
	}
	for _, spec := range layer.Specifiers {
		if p.Unavailable[spec.Name] {
			return fmt.Errorf("ERROR: No matching distribution found for %s", spec.Raw)
		}
	}
	for _, spec := range layer.Specifiers {
		target.Packages[spec.Name] = spec.Constraint
	}
	return nil
}

func (p *Provider) InstallEditable(ctx context.Context, env *ir.Environment, projectRoot string) error {
	if err := p.enter(ctx, OpEditable); err != nil {
		return err
	}
	if err := ir.RequireActive(env); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	target, ok := p.envs[env.Name]
	if !ok {
		return fmt.Errorf("environment %q does not exist", env.Name)
	}
	target.Editable = projectRoot
	return nil
}

func (p *Provider) enter(ctx context.Context, op string) error {
	p.mu.Lock()
	p.calls[op]++
	err, hang := p.Errors[op], p.Hang[op]
	p.mu.Unlock()

	if hang {
		<-ctx.Done()
		return fmt.Errorf("%s interrupted: %w", op, ctx.Err())
	}
	return err
}

func (p *Provider) newEnv(name string) *Env {
	return &Env{
		Prefix:   path.Join(p.Root, "envs", name),
		Packages: make(map[string]string),
	}
}

func (p *Provider) list() []ir.EnvRef {
	refs := []ir.EnvRef{{Name: "base", Prefix: p.Root}}
	names := make([]string, 0, len(p.envs))
	for name := range p.envs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		refs = append(refs, ir.EnvRef{Name: name, Prefix: p.envs[name].Prefix})
	}
	return refs
}
