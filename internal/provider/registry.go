package provider

import (
	"fmt"
	"sync"

	"github.com/machflow/envsmith/internal/runner"
	"github.com/machflow/envsmith/providers/conda"
	"github.com/machflow/envsmith/providers/null"
	"github.com/machflow/envsmith/providers/pip"
)

// Registry manages the lifecycle of managers and installers.
type Registry struct {
	mu          sync.RWMutex
	runner      runner.Runner
	executables map[string]string
	null        *null.Provider
	managers    map[string]Manager
	installers  map[string]Installer
}

// Option configures a Registry.
type Option func(*Registry)

// WithExecutable overrides the executable used for a manager, e.g. the
// value of CONDA_EXE for "conda".
func WithExecutable(manager, path string) Option {
	return func(r *Registry) {
		if path != "" {
			r.executables[manager] = path
		}
	}
}

// WithNull shares an existing in-memory provider between manager and installer lookups.
func WithNull(p *null.Provider) Option {
	return func(r *Registry) {
		r.null = p
	}
}

// NewRegistry creates a registry whose real providers run commands through run.
func NewRegistry(run runner.Runner, opts ...Option) *Registry {
	r := &Registry{
		runner:      run,
		executables: make(map[string]string),
		managers:    make(map[string]Manager),
		installers:  make(map[string]Installer),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// LoadManager initializes and registers a primary manager.
func (r *Registry) LoadManager(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.managers[name]; exists {
		return nil
	}

	var m Manager
	switch name {
	case "conda", "mamba":
		m = conda.New(r.runner, name, r.executables[name])
	case "null":
		m = r.nullProvider()
	default:
		return fmt.Errorf("unknown package manager: %s", name)
	}

	r.managers[name] = m
	return nil
}

// LoadInstaller initializes and registers a secondary installer.
func (r *Registry) LoadInstaller(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.installers[name]; exists {
		return nil
	}

	var i Installer
	switch name {
	case "pip":
		i = pip.New(r.runner)
	case "null":
		i = r.nullProvider()
	default:
		return fmt.Errorf("unknown installer: %s", name)
	}

	r.installers[name] = i
	return nil
}

// Manager returns a loaded manager.
func (r *Registry) Manager(name string) (Manager, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.managers[name]
	if !ok {
		return nil, fmt.Errorf("package manager not loaded: %s", name)
	}
	return m, nil
}

// Installer returns a loaded installer.
func (r *Registry) Installer(name string) (Installer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i, ok := r.installers[name]
	if !ok {
		return nil, fmt.Errorf("installer not loaded: %s", name)
	}
	return i, nil
}

// InstallerFor returns the installer paired with a manager: the null manager
// pairs with the null installer, every real manager with pip.
func InstallerFor(manager string) string {
	if manager == "null" {
		return "null"
	}
	return "pip"
}

// nullProvider must be called with r.mu held.
func (r *Registry) nullProvider() *null.Provider {
	if r.null == nil {
		r.null = null.New()
	}
	return r.null
}
