package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/machflow/envsmith/internal/project"
)

var validateAll bool

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the manifest and project descriptor",
	Long: `Loads the manifest, parses every package and layer specifier, and reads the
project descriptor. No package manager is contacted.`,
	Args: cobra.NoArgs,
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().BoolVar(&validateAll, "all", false, "Validate every profile, not only the selected one")
}

func runValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Validating configuration...")

	root, err := workingDir()
	if err != nil {
		return err
	}

	fmt.Fprint(out, "Loading manifest... ")
	mf, source, err := loadManifest(cmd.Context(), root, settings)
	if err != nil {
		fmt.Fprintln(out, "FAILED")
		return err
	}
	fmt.Fprintf(out, "OK (%s)\n", source)

	names := mf.ProfileNames()
	if !validateAll {
		name, _, err := selectProfile(mf, settings)
		if err != nil {
			return err
		}
		names = []string{name}
	}

	var errs []error
	for _, name := range names {
		fmt.Fprintf(out, "Checking profile %s... ", name)
		m := mf.Profiles[name]
		if m == nil {
			fmt.Fprintln(out, "FAILED")
			errs = append(errs, fmt.Errorf("profile %q is empty", name))
			continue
		}
		if err := m.Validate(); err != nil {
			fmt.Fprintln(out, "FAILED")
			errs = append(errs, fmt.Errorf("profile %q: %w", name, err))
			continue
		}
		fmt.Fprintln(out, "OK")
	}

	fmt.Fprint(out, "Reading project descriptor... ")
	desc, err := project.Load(root)
	if err != nil {
		fmt.Fprintln(out, "FAILED")
		errs = append(errs, err)
	} else {
		fmt.Fprintf(out, "OK (%s %s from %s)\n", desc.Name, desc.Version, desc.File)
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	fmt.Fprintln(out, "\nConfiguration is valid!")
	return nil
}
