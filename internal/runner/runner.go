// Package runner executes package-manager commands on the provisioning
// target, either the local host or a container.
package runner

import (
	"bytes"
	"context"
	"fmt"
	"strings"
)

// Cmd is a single command invocation.
type Cmd struct {
	Name string
	Args []string
	Dir  string
	Env  []string // extra KEY=VALUE entries
}

// String renders the command line for logs.
func (c Cmd) String() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Args, " ")
}

// Result holds the captured output of a finished command.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Runner executes commands and blocks until they finish.
type Runner interface {
	Run(ctx context.Context, cmd Cmd) (*Result, error)
}

// ExitError reports a command that ran and exited non-zero. Its message is
// the command's own diagnostic output, unmodified apart from trimming.
type ExitError struct {
	Cmd    Cmd
	Code   int
	Stdout []byte
	Stderr []byte
}

func (e *ExitError) Error() string {
	if d := e.Diagnostic(); d != "" {
		return d
	}
	return fmt.Sprintf("%s exited with status %d", e.Cmd.Name, e.Code)
}

// Diagnostic returns stderr, or stdout when stderr is empty.
func (e *ExitError) Diagnostic() string {
	if s := strings.TrimSpace(string(e.Stderr)); s != "" {
		return s
	}
	return strings.TrimSpace(string(e.Stdout))
}

func newExitError(cmd Cmd, code int, stdout, stderr *bytes.Buffer) *ExitError {
	return &ExitError{
		Cmd:    cmd,
		Code:   code,
		Stdout: bytes.Clone(stdout.Bytes()),
		Stderr: bytes.Clone(stderr.Bytes()),
	}
}
