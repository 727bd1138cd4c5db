// Package config resolves ambient settings from the process environment and
// an optional .env file in the project root.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	envparse "github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// DotEnvFile is read from the project root when present.
const DotEnvFile = ".env"

// Settings are the run settings; command-line flags override them.
type Settings struct {
	// Manifest is a manifest path or s3:// URI from ENVSMITH_MANIFEST.
	Manifest string `env:"ENVSMITH_MANIFEST"`
	// Profile selects a manifest profile from ENVSMITH_PROFILE.
	Profile string `env:"ENVSMITH_PROFILE"`
	// Manager overrides the profile's manager from ENVSMITH_MANAGER.
	Manager string `env:"ENVSMITH_MANAGER"`
	// CondaExe is the conda executable from CONDA_EXE, as exported by conda's shell hook.
	CondaExe string `env:"CONDA_EXE"`
	// MambaExe is the mamba executable from MAMBA_EXE.
	MambaExe string `env:"MAMBA_EXE"`
	// LogLevel is the logging level from ENVSMITH_LOG_LEVEL.
	LogLevel string `env:"ENVSMITH_LOG_LEVEL" envDefault:"info"`
	// StageTimeout bounds each stage from ENVSMITH_STAGE_TIMEOUT; zero disables it.
	StageTimeout time.Duration `env:"ENVSMITH_STAGE_TIMEOUT"`
	// Runner is "local" or "docker" from ENVSMITH_RUNNER.
	Runner string `env:"ENVSMITH_RUNNER" envDefault:"local"`
	// Docker configures the docker runner.
	Docker DockerSettings `envPrefix:"ENVSMITH_DOCKER_"`
	// Lock serializes runs on this host from ENVSMITH_LOCK.
	Lock bool `env:"ENVSMITH_LOCK"`
	// LockFile overrides the lock file path from ENVSMITH_LOCK_FILE.
	LockFile string `env:"ENVSMITH_LOCK_FILE"`
	// AWSRegion is used for s3:// manifests.
	AWSRegion string `env:"AWS_REGION"`
	// AWSProfile is the shared config profile for s3:// manifests.
	AWSProfile string `env:"AWS_PROFILE"`
}

// DockerSettings select the container the docker runner executes in.
type DockerSettings struct {
	Container string `env:"CONTAINER"`
	Image     string `env:"IMAGE"`
	Platform  string `env:"PLATFORM"`
	Workdir   string `env:"WORKDIR" envDefault:"/workspace"`
}

// Load parses settings for a run in projectRoot. Non-empty process
// variables win over the .env file; an empty one counts as unset.
func Load(projectRoot string) (*Settings, error) {
	vars, err := readDotEnv(filepath.Join(projectRoot, DotEnvFile))
	if err != nil {
		return nil, err
	}
	for k, v := range envparse.ToMap(os.Environ()) {
		if v != "" {
			vars[k] = v
		}
	}

	var s Settings
	if err := envparse.ParseWithOptions(&s, envparse.Options{Environment: vars}); err != nil {
		return nil, fmt.Errorf("failed to parse settings: %w", err)
	}
	return &s, nil
}

func readDotEnv(path string) (map[string]string, error) {
	vars, err := godotenv.Read(path)
	if errors.Is(err, os.ErrNotExist) {
		return make(map[string]string), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return vars, nil
}

// Validate checks combinations that cannot be expressed in struct tags.
func (s *Settings) Validate() error {
	if s.StageTimeout < 0 {
		return fmt.Errorf("stage timeout must not be negative, got %s", s.StageTimeout)
	}
	switch s.Manager {
	case "", "conda", "mamba", "null":
	default:
		return fmt.Errorf("unknown package manager %q (expected conda, mamba or null)", s.Manager)
	}
	switch s.Runner {
	case "local":
	case "docker":
		if s.Docker.Container == "" && s.Docker.Image == "" {
			return fmt.Errorf("docker runner requires ENVSMITH_DOCKER_CONTAINER or ENVSMITH_DOCKER_IMAGE")
		}
	default:
		return fmt.Errorf("unknown runner %q (expected local or docker)", s.Runner)
	}
	return nil
}

// Executable returns the configured executable for a manager, if any.
func (s *Settings) Executable(manager string) string {
	switch manager {
	case "conda":
		return s.CondaExe
	case "mamba":
		return s.MambaExe
	}
	return ""
}

// LockPath returns the lock file guarding runs against env.
func (s *Settings) LockPath(env string) string {
	if s.LockFile != "" {
		return s.LockFile
	}
	name := strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == ':' {
			return '_'
		}
		return r
	}, env)
	return filepath.Join(os.TempDir(), "envsmith-"+name+".lock")
}
