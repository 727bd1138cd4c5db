package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/machflow/envsmith/internal/engine"
	"github.com/machflow/envsmith/internal/logging"
	"github.com/machflow/envsmith/internal/project"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check that the provisioning target is usable",
	Long: `Checks that commands can be run on the configured target (the local host or a
container), that the profile's package manager answers in its base scope, and
that the working directory is a project root. Nothing is modified.`,
	Args: cobra.NoArgs,
	RunE: runDoctor,
}

func runDoctor(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	root, err := workingDir()
	if err != nil {
		return err
	}

	var failed []error
	check := func(name string, fn func() (string, error)) {
		detail, err := fn()
		if err != nil {
			reportCheck(out, name, false, err.Error())
			failed = append(failed, fmt.Errorf("%s: %w", name, err))
			return
		}
		reportCheck(out, name, true, detail)
	}

	check("project", func() (string, error) {
		desc, err := project.Load(root)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s (%s)", desc.Name, desc.File), nil
	})

	mf, source, err := loadManifest(ctx, root, settings)
	if err != nil {
		reportCheck(out, "manifest", false, err.Error())
		return err
	}
	profile, m, err := selectProfile(mf, settings)
	if err != nil {
		reportCheck(out, "manifest", false, err.Error())
		return err
	}
	reportCheck(out, "manifest", true, fmt.Sprintf("%s, profile %s", source, profile))

	r, closeRunner, err := newRunner(ctx, root, settings)
	if err != nil {
		reportCheck(out, "runner", false, err.Error())
		return errors.Join(append(failed, err)...)
	}
	defer func() {
		if err := closeRunner(); err != nil {
			logging.Warn("failed to clean up runner", "error", err)
		}
	}()
	reportCheck(out, "runner", true, settings.Runner)

	check("manager", func() (string, error) {
		stages, err := engine.NewEngine(newRegistry(r, settings)).Stages(m)
		if err != nil {
			return "", err
		}
		scope, err := stages.ActivateBase(ctx)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s %s at %s", scope.Manager, scope.Version, scope.RootPrefix), nil
	})

	if err := errors.Join(failed...); err != nil {
		return err
	}
	fmt.Fprintln(out, "\nEverything looks good.")
	return nil
}

func reportCheck(w io.Writer, name string, ok bool, detail string) {
	mark := render(okStyle, "ok  ")
	if !ok {
		mark = render(failStyle, "FAIL")
	}
	fmt.Fprintf(w, "[%s] %-9s %s\n", mark, name, detail)
}
