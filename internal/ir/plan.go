package ir

import "time"

// Stage identifies one step of the provisioning pipeline. The string form is
// the label used in diagnostics.
type Stage string

const (
	StagePreflight Stage = "Preflight"
	StageActivate  Stage = "Activate"
	StageReconcile Stage = "Reconcile"
	StageBuild     Stage = "Build"
	StageInstall   Stage = "Install"
	StageLink      Stage = "Link"
)

// RunState is the pipeline state machine position.
type RunState string

const (
	StateIdle           RunState = "Idle"
	StateBaseActivated  RunState = "BaseActivated"
	StateReconciled     RunState = "Reconciled"
	StateBuilt          RunState = "Built"
	StateLayerActivated RunState = "LayerActivated"
	StateLayerInstalled RunState = "LayerInstalled"
	StateDone           RunState = "Done"
	StateFailed         RunState = "Failed"
)

// Outcome is the result of reconciling a named environment.
type Outcome string

const (
	OutcomeAbsent  Outcome = "Absent"
	OutcomeRemoved Outcome = "Removed"
)

// StageEvent records one stage execution.
type StageEvent struct {
	Stage    Stage
	Status   string // "started", "completed", "skipped", "failed"
	Duration time.Duration
	Error    error
}

// Run is the report of a single pipeline run.
type Run struct {
	ID          string
	Profile     string
	Environment string
	Manager     string
	Installer   string
	State       RunState
	Outcome     Outcome
	FailedStage Stage
	Events      []StageEvent
	Started     time.Time
	Finished    time.Time
	Err         error
}

// Done reports whether the run reached the terminal success state.
func (r *Run) Done() bool {
	return r.State == StateDone
}
