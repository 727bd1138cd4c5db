package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/machflow/envsmith/internal/ir"
	"github.com/machflow/envsmith/internal/logging"
	"github.com/machflow/envsmith/internal/provider"
)

// EventCallback is called for each stage event if set.
type EventCallback func(event ir.StageEvent)

// Engine drives the provisioning pipeline strictly forward: activate the base
// scope, reconcile, build, install the secondary layer, link the project.
// The first failure ends the run.
type Engine struct {
	registry *provider.Registry

	// StageTimeout bounds every stage; zero means no deadline.
	StageTimeout time.Duration
	callback     EventCallback
}

func NewEngine(registry *provider.Registry) *Engine {
	return &Engine{
		registry: registry,
	}
}

// OnEvent registers a callback for stage progress events.
func (e *Engine) OnEvent(cb EventCallback) {
	e.callback = cb
}

// Stages resolves the manager named by m and its paired installer.
func (e *Engine) Stages(m *ir.Manifest) (*Stages, error) {
	managerName := m.ManagerName()
	if err := e.registry.LoadManager(managerName); err != nil {
		return nil, err
	}
	installerName := provider.InstallerFor(managerName)
	if err := e.registry.LoadInstaller(installerName); err != nil {
		return nil, err
	}

	mgr, err := e.registry.Manager(managerName)
	if err != nil {
		return nil, err
	}
	inst, err := e.registry.Installer(installerName)
	if err != nil {
		return nil, err
	}
	return &Stages{Manager: mgr, Installer: inst}, nil
}

// Run provisions the environment described by m and links projectRoot into
// it. The returned run report is always non-nil; on failure its error is
// also returned and is a *StageError.
func (e *Engine) Run(ctx context.Context, profile string, m *ir.Manifest, projectRoot string) (*ir.Run, error) {
	run := &ir.Run{
		ID:          uuid.NewString(),
		Profile:     profile,
		Environment: m.Name,
		Manager:     m.ManagerName(),
		State:       ir.StateIdle,
		Started:     time.Now(),
	}
	log := logging.Logger().With("run_id", run.ID, "env", m.Name)
	log.Info("provisioning started", "profile", profile, "manager", run.Manager)

	fail := func(err error) (*ir.Run, error) {
		run.State = ir.StateFailed
		run.Err = err
		run.Finished = time.Now()
		if stage, ok := FailedStage(err); ok {
			run.FailedStage = stage
		}
		log.Debug("provisioning failed", "stage", run.FailedStage, "error", err)
		return run, err
	}

	if err := ir.ValidateEnvName(m.Name); err != nil {
		return fail(stageError(ir.StagePreflight, ErrPreflight, err))
	}
	stages, err := e.Stages(m)
	if err != nil {
		return fail(stageError(ir.StagePreflight, ErrPreflight, err))
	}
	run.Installer = stages.Installer.Name()

	var scope *ir.Scope
	if err := e.stage(ctx, run, log, ir.StageActivate, func(ctx context.Context) error {
		var err error
		scope, err = stages.ActivateBase(ctx)
		return err
	}); err != nil {
		return fail(err)
	}
	run.State = ir.StateBaseActivated

	if err := e.stage(ctx, run, log, ir.StageReconcile, func(ctx context.Context) error {
		outcome, err := stages.Reconcile(ctx, scope, m.Name)
		run.Outcome = outcome
		return err
	}); err != nil {
		return fail(err)
	}
	run.State = ir.StateReconciled

	if err := e.stage(ctx, run, log, ir.StageBuild, func(ctx context.Context) error {
		_, err := stages.Build(ctx, scope, m)
		return err
	}); err != nil {
		return fail(err)
	}
	run.State = ir.StateBuilt

	var env *ir.Environment
	if err := e.stage(ctx, run, log, ir.StageInstall, func(ctx context.Context) error {
		var err error
		env, err = stages.ActivateEnvironment(ctx, scope, m.Name)
		if err != nil {
			return err
		}
		run.State = ir.StateLayerActivated
		return stages.InstallLayer(ctx, env, m.Layer)
	}); err != nil {
		return fail(err)
	}
	run.State = ir.StateLayerInstalled

	if m.LinkProject() {
		if err := e.stage(ctx, run, log, ir.StageLink, func(ctx context.Context) error {
			return stages.LinkEditable(ctx, env, projectRoot)
		}); err != nil {
			return fail(err)
		}
	} else {
		e.emit(run, ir.StageEvent{Stage: ir.StageLink, Status: "skipped"})
		log.Info("project linking disabled", "profile", profile)
	}

	run.State = ir.StateDone
	run.Finished = time.Now()
	log.Info("provisioning complete", "outcome", run.Outcome, "duration", run.Finished.Sub(run.Started).Round(time.Millisecond))
	return run, nil
}

// stage runs fn under the stage deadline and records its events.
func (e *Engine) stage(ctx context.Context, run *ir.Run, log *slog.Logger, stage ir.Stage, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return stageError(stage, kindOf(stage), fmt.Errorf("cancelled: %w", err))
	}

	e.emit(run, ir.StageEvent{Stage: stage, Status: "started"})
	log.Debug("stage started", "stage", stage)
	start := time.Now()

	stageCtx, cancel := WithStageTimeout(ctx, e.StageTimeout)
	err := fn(stageCtx)
	if err != nil {
		err = e.withDeadline(ctx, stageCtx, stage, err)
	}
	cancel()

	ev := ir.StageEvent{Stage: stage, Status: "completed", Duration: time.Since(start)}
	if err != nil {
		ev.Status = "failed"
		ev.Error = err
	}
	e.emit(run, ev)
	log.Debug("stage finished", "stage", stage, "status", ev.Status, "duration", ev.Duration.Round(time.Millisecond))
	return err
}

// withDeadline annotates the innermost cause so the stage label and kind stay
// on the outside.
func (e *Engine) withDeadline(parent, stageCtx context.Context, stage ir.Stage, err error) error {
	se, ok := err.(*StageError)
	if !ok {
		return stageError(stage, kindOf(stage), annotateDeadline(parent, stageCtx, e.StageTimeout, err))
	}
	se.Err = annotateDeadline(parent, stageCtx, e.StageTimeout, se.Err)
	return se
}

func (e *Engine) emit(run *ir.Run, ev ir.StageEvent) {
	if ev.Status != "started" {
		run.Events = append(run.Events, ev)
	}
	if e.callback != nil {
		e.callback(ev)
	}
}

func kindOf(stage ir.Stage) error {
	switch stage {
	case ir.StageActivate:
		return ErrActivation
	case ir.StageReconcile:
		return ErrReconciliation
	case ir.StageBuild:
		return ErrBuild
	case ir.StageInstall:
		return ErrInstall
	case ir.StageLink:
		return ErrLink
	default:
		return ErrPreflight
	}
}
