package engine

import (
	"context"

	"github.com/machflow/envsmith/internal/ir"
	"github.com/machflow/envsmith/internal/logging"
	"github.com/machflow/envsmith/internal/project"
	"github.com/machflow/envsmith/internal/provider"
)

// Stages binds the pipeline stage operations to one primary manager and one
// secondary installer. Each operation returns a *StageError on failure.
type Stages struct {
	Manager   provider.Manager
	Installer provider.Installer
}

// ActivateBase enters the manager's base scope.
func (s *Stages) ActivateBase(ctx context.Context) (*ir.Scope, error) {
	scope, err := s.Manager.Base(ctx)
	if err != nil {
		return nil, stageError(ir.StageActivate, ErrActivation, err)
	}
	logging.Debug("base scope entered", "manager", scope.Manager, "root", scope.RootPrefix, "version", scope.Version)
	return scope, nil
}

// Reconcile removes the environment called name if the manager lists it.
// A missing environment is not an error.
func (s *Stages) Reconcile(ctx context.Context, scope *ir.Scope, name string) (ir.Outcome, error) {
	envs, err := s.Manager.List(ctx, scope)
	if err != nil {
		return "", stageError(ir.StageReconcile, ErrReconciliation, err)
	}
	ref, ok := ir.FindEnv(envs, name)
	if !ok {
		logging.Debug("environment absent", "env", name)
		return ir.OutcomeAbsent, nil
	}

	logging.Info("removing existing environment", "env", name, "prefix", ref.Prefix)
	if err := s.Manager.Remove(ctx, scope, name); err != nil {
		return "", stageError(ir.StageReconcile, ErrReconciliation, err)
	}
	return ir.OutcomeRemoved, nil
}

// Build creates the environment in a single request. The returned handle is
// not active.
func (s *Stages) Build(ctx context.Context, scope *ir.Scope, m *ir.Manifest) (*ir.Environment, error) {
	spec, err := m.EnvSpec()
	if err != nil {
		return nil, stageError(ir.StageBuild, ErrBuild, err)
	}

	logging.Info("creating environment", "env", spec.Name, "channels", spec.Channels, "packages", len(spec.Packages))
	if err := s.Manager.Create(ctx, scope, spec); err != nil {
		return nil, stageError(ir.StageBuild, ErrBuild, err)
	}
	return &ir.Environment{Name: spec.Name}, nil
}

// ActivateEnvironment is the activation sub-step of the install stage.
func (s *Stages) ActivateEnvironment(ctx context.Context, scope *ir.Scope, name string) (*ir.Environment, error) {
	env, err := s.Manager.Activate(ctx, scope, name)
	if err != nil {
		return nil, stageError(ir.StageInstall, ErrActivation, err)
	}
	if err := ir.RequireActive(env); err != nil {
		return nil, stageError(ir.StageInstall, ErrActivation, err)
	}
	return env, nil
}

// InstallLayer applies the secondary layer as one batch. Every specifier is
// parsed before the installer is called, so a malformed entry leaves the
// environment untouched.
func (s *Stages) InstallLayer(ctx context.Context, env *ir.Environment, specifiers []string) error {
	if err := ir.RequireActive(env); err != nil {
		return stageError(ir.StageInstall, ErrInstall, err)
	}
	layer, err := ir.ParseLayer(specifiers)
	if err != nil {
		return stageError(ir.StageInstall, ErrInstall, err)
	}
	if layer.Empty() {
		logging.Debug("secondary layer is empty", "env", env.Name)
		return nil
	}

	logging.Info("installing layer", "env", env.Name, "installer", s.Installer.Name(), "specifiers", layer.Args())
	if err := s.Installer.InstallBatch(ctx, env, layer); err != nil {
		return stageError(ir.StageInstall, ErrInstall, err)
	}
	return nil
}

// LinkEditable registers the project at projectRoot in editable mode.
func (s *Stages) LinkEditable(ctx context.Context, env *ir.Environment, projectRoot string) error {
	if err := ir.RequireActive(env); err != nil {
		return stageError(ir.StageLink, ErrLink, err)
	}
	desc, err := project.Load(projectRoot)
	if err != nil {
		return stageError(ir.StageLink, ErrLink, err)
	}

	logging.Info("linking project", "env", env.Name, "project", desc.Name, "descriptor", desc.File)
	if err := s.Installer.InstallEditable(ctx, env, desc.Root); err != nil {
		return stageError(ir.StageLink, ErrLink, err)
	}
	return nil
}
