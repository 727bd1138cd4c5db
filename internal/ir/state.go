package ir

import (
	"errors"
	"fmt"
)

// Scope is the base administrative scope of a package manager. Every
// environment lifecycle operation takes it explicitly.
type Scope struct {
	Manager    string
	RootPrefix string
	Version    string
}

// EnvRef is one entry of a manager's environment listing.
type EnvRef struct {
	Name   string
	Prefix string
}

// Environment is a handle to a created environment. Active is only set by
// the activation sub-step; installers refuse handles that are not active.
type Environment struct {
	Name          string
	Prefix        string
	Python        string // interpreter path inside Prefix
	PythonVersion string
	Active        bool
}

// FindEnv returns the entry whose name equals name exactly.
func FindEnv(envs []EnvRef, name string) (EnvRef, bool) {
	for _, e := range envs {
		if e.Name == name {
			return e, true
		}
	}
	return EnvRef{}, false
}

// ErrNotActive is returned when an operation that needs an active
// environment receives a handle that is not active.
var ErrNotActive = errors.New("environment is not active")

// EnvSpec is the full create request for one environment.
type EnvSpec struct {
	Name     string
	Packages []Package // interpreter pin first
	Channels []string
}

// RequireActive fails unless env is a non-nil, active handle.
func RequireActive(env *Environment) error {
	if env == nil {
		return fmt.Errorf("no environment: %w", ErrNotActive)
	}
	if !env.Active {
		return fmt.Errorf("environment %q: %w", env.Name, ErrNotActive)
	}
	return nil
}
