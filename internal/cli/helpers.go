package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/machflow/envsmith/internal/config"
	"github.com/machflow/envsmith/internal/eval"
	"github.com/machflow/envsmith/internal/ir"
	"github.com/machflow/envsmith/internal/project"
	"github.com/machflow/envsmith/internal/provider"
	"github.com/machflow/envsmith/internal/runner"
)

// projectRoot returns the working directory after checking that it holds a
// project descriptor.
func projectRoot() (string, *project.Descriptor, error) {
	wd, err := workingDir()
	if err != nil {
		return "", nil, err
	}
	desc, err := project.Load(wd)
	if err != nil {
		return "", nil, fmt.Errorf("run envsmith from the project root: %w", err)
	}
	return wd, desc, nil
}

// loadManifest loads the configured manifest relative to root.
func loadManifest(ctx context.Context, root string, s *config.Settings) (*ir.ManifestFile, string, error) {
	evaluator := eval.NewEvaluator(root, eval.WithAWS(s.AWSRegion, s.AWSProfile))
	mf, source, err := evaluator.LoadManifest(ctx, s.Manifest)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load manifest: %w", err)
	}
	return mf, source, nil
}

// selectProfile picks the configured profile and applies the manager override.
// The returned manifest is a copy.
func selectProfile(mf *ir.ManifestFile, s *config.Settings) (string, *ir.Manifest, error) {
	name, m, err := mf.Profile(s.Profile)
	if err != nil {
		return "", nil, err
	}
	selected := *m
	if s.Manager != "" {
		selected.Manager = s.Manager
	}
	return name, &selected, nil
}

// newRunner builds the command runner for the configured target. The
// returned close function must be called when the run ends.
func newRunner(ctx context.Context, root string, s *config.Settings) (runner.Runner, func() error, error) {
	if s.Runner != "docker" {
		return runner.NewLocal(), func() error { return nil }, nil
	}
	d, err := runner.NewDocker(ctx, runner.DockerOptions{
		Container:   s.Docker.Container,
		Image:       s.Docker.Image,
		Platform:    s.Docker.Platform,
		ProjectRoot: root,
		Workdir:     s.Docker.Workdir,
	})
	if err != nil {
		return nil, nil, err
	}
	return d, d.Close, nil
}

func newRegistry(r runner.Runner, s *config.Settings) *provider.Registry {
	return provider.NewRegistry(r,
		provider.WithExecutable("conda", s.CondaExe),
		provider.WithExecutable("mamba", s.MambaExe),
	)
}

func workingDir() (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory: %w", err)
	}
	return wd, nil
}
