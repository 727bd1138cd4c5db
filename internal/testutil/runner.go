// Package testutil holds test doubles shared across packages.
package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/machflow/envsmith/internal/runner"
)

// Response is the scripted outcome of a command.
type Response struct {
	Stdout string
	Stderr string
	Code   int
	Err    error // returned as-is instead of an exit status
}

type handler struct {
	prefix string
	fn     func(runner.Cmd) Response
}

// ScriptedRunner is a runner.Runner that answers commands from a script and
// records every call.
type ScriptedRunner struct {
	mu       sync.Mutex
	calls    []runner.Cmd
	handlers []handler
}

// NewScriptedRunner creates an empty ScriptedRunner. Unscripted commands fail.
func NewScriptedRunner() *ScriptedRunner {
	return &ScriptedRunner{}
}

// On answers commands whose command line starts with prefix.
func (r *ScriptedRunner) On(prefix string, resp Response) *ScriptedRunner {
	return r.OnFunc(prefix, func(runner.Cmd) Response { return resp })
}

// OnFunc answers commands whose command line starts with prefix using fn.
// Handlers are matched in registration order.
func (r *ScriptedRunner) OnFunc(prefix string, fn func(runner.Cmd) Response) *ScriptedRunner {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = append(r.handlers, handler{prefix: prefix, fn: fn})
	return r
}

// Run implements runner.Runner.
func (r *ScriptedRunner) Run(ctx context.Context, cmd runner.Cmd) (*runner.Result, error) {
	r.mu.Lock()
	r.calls = append(r.calls, cmd)
	var fn func(runner.Cmd) Response
	line := cmd.String()
	for _, h := range r.handlers {
		if strings.HasPrefix(line, h.prefix) {
			fn = h.fn
			break
		}
	}
	r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if fn == nil {
		return nil, fmt.Errorf("unexpected command: %s", line)
	}
	resp := fn(cmd)
	if resp.Err != nil {
		return nil, resp.Err
	}
	res := &runner.Result{Stdout: []byte(resp.Stdout), Stderr: []byte(resp.Stderr), ExitCode: resp.Code}
	if resp.Code != 0 {
		return res, &runner.ExitError{Cmd: cmd, Code: resp.Code, Stdout: res.Stdout, Stderr: res.Stderr}
	}
	return res, nil
}

// Calls returns a copy of every recorded command.
func (r *ScriptedRunner) Calls() []runner.Cmd {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]runner.Cmd(nil), r.calls...)
}

// Count returns how many recorded commands start with prefix.
func (r *ScriptedRunner) Count(prefix string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if strings.HasPrefix(c.String(), prefix) {
			n++
		}
	}
	return n
}
