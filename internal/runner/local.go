package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/machflow/envsmith/internal/logging"
)

// Local runs commands on the current host.
type Local struct {
	// Env is appended to the process environment of every command.
	Env []string
}

// NewLocal constructs a Local runner.
func NewLocal(env ...string) *Local {
	return &Local{Env: env}
}

// Run executes cmd, streaming its output to the debug log while capturing it.
func (l *Local) Run(ctx context.Context, cmd Cmd) (*Result, error) {
	if _, err := exec.LookPath(cmd.Name); err != nil {
		return nil, fmt.Errorf("%s not found in PATH: %w", cmd.Name, err)
	}

	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	if len(l.Env) > 0 || len(cmd.Env) > 0 {
		env := os.Environ()
		env = append(env, l.Env...)
		env = append(env, cmd.Env...)
		c.Env = env
	}

	logw := logging.NewWriter(logging.Logger(), "cmd", filepath.Base(cmd.Name))
	defer logw.Flush()

	var stdout, stderr bytes.Buffer
	c.Stdout = io.MultiWriter(&stdout, logw)
	c.Stderr = io.MultiWriter(&stderr, logw)

	logging.Debug("running command", "cmd", cmd.String())
	err := c.Run()

	res := &Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if c.ProcessState != nil {
		res.ExitCode = c.ProcessState.ExitCode()
	}
	if err == nil {
		return res, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, fmt.Errorf("%s interrupted: %w", filepath.Base(cmd.Name), ctxErr)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return res, newExitError(cmd, exitErr.ExitCode(), &stdout, &stderr)
	}
	return res, fmt.Errorf("run %s: %w", cmd.Name, err)
}
