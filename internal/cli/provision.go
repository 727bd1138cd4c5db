package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/machflow/envsmith/internal/engine"
	"github.com/machflow/envsmith/internal/ir"
	"github.com/machflow/envsmith/internal/logging"
	"github.com/machflow/envsmith/internal/state"
)

var provisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Rebuild the environment and link the project",
	Long: `Tears down the profile's environment if it exists, recreates it from the
manifest, installs the secondary layer, and installs the project in editable
mode. Must be run from the project root.`,
	Args: cobra.NoArgs,
	RunE: runProvision,
}

func runProvision(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	root, desc, err := projectRoot()
	if err != nil {
		return engine.PreflightError(err)
	}
	mf, source, err := loadManifest(ctx, root, settings)
	if err != nil {
		return engine.PreflightError(err)
	}
	profile, m, err := selectProfile(mf, settings)
	if err != nil {
		return engine.PreflightError(err)
	}
	if err := m.Check(); err != nil {
		return engine.PreflightError(err)
	}
	logging.Debug("manifest loaded", "source", source, "profile", profile, "project", desc.Name)

	if settings.Lock {
		lock := state.NewLock(settings.LockPath(m.Name))
		if err := lock.Acquire(m.Name); err != nil {
			return engine.PreflightError(err)
		}
		defer func() {
			if err := lock.Release(); err != nil {
				logging.Warn("failed to release lock", "path", lock.Path(), "error", err)
			}
		}()
	}

	r, closeRunner, err := newRunner(ctx, root, settings)
	if err != nil {
		return engine.PreflightError(err)
	}
	defer func() {
		if err := closeRunner(); err != nil {
			logging.Warn("failed to clean up runner", "error", err)
		}
	}()

	eng := engine.NewEngine(newRegistry(r, settings))
	eng.StageTimeout = settings.StageTimeout
	eng.OnEvent(func(ev ir.StageEvent) {
		renderStageEvent(out, ev)
	})

	fmt.Fprintf(out, "Provisioning %s (profile %s, %s) for %s\n", m.Name, profile, m.ManagerName(), desc.Name)
	run, err := eng.Run(ctx, profile, m, root)
	renderRunSummary(out, run)
	return err
}
