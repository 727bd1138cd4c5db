package engine

import (
	"errors"
	"fmt"

	"github.com/machflow/envsmith/internal/ir"
)

// Failure kinds. Every one of them is fatal to the run.
var (
	ErrPreflight      = errors.New("preflight failed")
	ErrActivation     = errors.New("activation failed")
	ErrReconciliation = errors.New("reconciliation failed")
	ErrBuild          = errors.New("build failed")
	ErrInstall        = errors.New("install failed")
	ErrLink           = errors.New("link failed")
)

// StageError is the failure of one pipeline stage. It renders as
// "<Stage>: <diagnostic>" with the collaborator's diagnostic unchanged, and
// matches both its Kind and the underlying cause with errors.Is.
type StageError struct {
	Stage ir.Stage
	Kind  error
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %s", e.Stage, e.Err)
}

func (e *StageError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

func stageError(stage ir.Stage, kind, err error) *StageError {
	return &StageError{Stage: stage, Kind: kind, Err: err}
}

// PreflightError labels a failure detected before the first stage runs.
func PreflightError(err error) error {
	return stageError(ir.StagePreflight, ErrPreflight, err)
}

// FailedStage returns the stage of a StageError anywhere in err's chain.
func FailedStage(err error) (ir.Stage, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage, true
	}
	return "", false
}
