package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/machflow/envsmith/internal/eval"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter envsmith.yaml",
	Long:  `Writes the built-in manifest to envsmith.yaml in the working directory so it can be edited.`,
	Args:  cobra.NoArgs,
	RunE:  runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing envsmith.yaml")
}

func runInit(cmd *cobra.Command, args []string) error {
	root, err := workingDir()
	if err != nil {
		return err
	}
	path := filepath.Join(root, eval.DefaultFiles[0])

	if _, err := os.Stat(path); err == nil && !initForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := os.WriteFile(path, eval.Builtin(), 0644); err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Created %s\n", path)
	fmt.Fprintln(out, "Next steps:")
	fmt.Fprintln(out, "  1. Edit envsmith.yaml to describe your environment")
	fmt.Fprintln(out, "  2. Run 'envsmith validate' to check it")
	fmt.Fprintln(out, "  3. Run 'envsmith' to provision it")
	return nil
}
