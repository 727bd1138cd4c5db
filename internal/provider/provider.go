package provider

import (
	"context"

	"github.com/machflow/envsmith/internal/ir"
)

// Manager is the primary, channel-based package manager.
type Manager interface {
	Name() string
	// Base enters the manager's base administrative scope.
	Base(ctx context.Context) (*ir.Scope, error)
	// List returns every environment the manager knows about.
	List(ctx context.Context, scope *ir.Scope) ([]ir.EnvRef, error)
	// Remove deletes the named environment and everything installed in it.
	Remove(ctx context.Context, scope *ir.Scope, name string) error
	// Create issues one atomic create request for spec.
	Create(ctx context.Context, scope *ir.Scope, spec ir.EnvSpec) error
	// Activate resolves the named environment into an active handle.
	Activate(ctx context.Context, scope *ir.Scope, name string) (*ir.Environment, error)
}

// Installer is the secondary mechanism used for the post-creation layer and
// the editable project registration.
type Installer interface {
	Name() string
	// InstallBatch installs every specifier in one request, or none of them.
	InstallBatch(ctx context.Context, env *ir.Environment, layer ir.PackageLayer) error
	// InstallEditable registers projectRoot so env resolves it to the live tree.
	InstallEditable(ctx context.Context, env *ir.Environment, projectRoot string) error
}
