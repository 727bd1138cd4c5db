package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/machflow/envsmith/internal/config"
	"github.com/machflow/envsmith/internal/logging"
)

var (
	flagManifest     string
	flagProfile      string
	flagManager      string
	flagLogLevel     string
	flagStageTimeout time.Duration
	flagLock         bool
	flagRunner       string
	flagNoColor      bool

	// settings is resolved once per invocation before any command runs.
	settings *config.Settings
)

var rootCmd = &cobra.Command{
	Use:   "envsmith",
	Short: "Provision a project's conda environment from a manifest",
	Long: `envsmith rebuilds a project's development environment from a declarative manifest.

Run from the project root, it:
  1. enters the package manager's base scope
  2. removes any existing environment of the target name
  3. creates the environment in a single request
  4. installs the secondary layer with pip as one batch
  5. installs the project itself in editable mode

Running envsmith with no command is the same as 'envsmith provision'.`,
	Args:              cobra.NoArgs,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
	RunE:              runProvision,
}

// Execute runs the root command
func Execute() error {
	return ExecuteContext(context.Background())
}

// ExecuteContext runs the root command; cancelling ctx aborts the running stage.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&flagManifest, "manifest", "f", "", "Manifest file or s3://bucket/key (default: envsmith.yaml, else built-in)")
	flags.StringVarP(&flagProfile, "profile", "p", "", "Manifest profile to use (default: the manifest's default)")
	flags.StringVar(&flagManager, "manager", "", "Override the profile's package manager (conda, mamba, null)")
	flags.StringVar(&flagLogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flags.DurationVar(&flagStageTimeout, "stage-timeout", 0, "Deadline for each stage, e.g. 45m (0 disables)")
	flags.BoolVar(&flagLock, "lock", false, "Serialize runs on this host with a lock file")
	flags.StringVar(&flagRunner, "runner", "", "Where commands run: local or docker")
	flags.BoolVar(&flagNoColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(provisionCmd)
	rootCmd.AddCommand(profilesCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
}

// setup resolves settings from the environment, then applies explicit flags.
func setup(cmd *cobra.Command, args []string) error {
	wd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}
	s, err := config.Load(wd)
	if err != nil {
		return err
	}
	applyFlags(cmd, s)
	if err := s.Validate(); err != nil {
		return err
	}
	settings = s

	logging.InitWriter(cmd.ErrOrStderr(), s.LogLevel)
	noColor = flagNoColor || os.Getenv("NO_COLOR") != "" || !isatty.IsTerminal(os.Stdout.Fd())
	return nil
}

func applyFlags(cmd *cobra.Command, s *config.Settings) {
	flags := cmd.Flags()
	if flags.Changed("manifest") {
		s.Manifest = flagManifest
	}
	if flags.Changed("profile") {
		s.Profile = flagProfile
	}
	if flags.Changed("manager") {
		s.Manager = flagManager
	}
	if flags.Changed("log-level") {
		s.LogLevel = flagLogLevel
	}
	if flags.Changed("stage-timeout") {
		s.StageTimeout = flagStageTimeout
	}
	if flags.Changed("lock") {
		s.Lock = flagLock
	}
	if flags.Changed("runner") {
		s.Runner = flagRunner
	}
}
