package cmd

import (
	"os"
	"time"

	"github.com/spf13/cobra"
)

// Version is injected at build time via -ldflags
var Version = "dev"

// globalOptions are the persistent flags shared by every subcommand.
type globalOptions struct {
	user           string
	dryRun         bool
	logLevel       string
	dbPath         string
	processTimeout time.Duration
	lockTimeout    time.Duration
}

// NewRootCommand creates and returns the root cobra command for opgate
func NewRootCommand() *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:   "opgate",
		Short: "Classify, verify, approve and execute operations with undo",
		Long: `opgate turns natural-language requests into atomic operations.

Each request is classified on three axes (destination, consumer, semantics),
verified through a layered pipeline, gated by an approval policy and then
executed with before/after state snapshots and automatic backups, so that
completed operations can be undone.

State lives in .opgate/ (or $OPGATE_HOME); configuration is read from
config.yaml in that directory. CLI flags override configuration.`,
		Version: Version,
		// Silence usage on errors to avoid duplicate help text
		SilenceUsage: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.user, "user", "u", defaultUser(), "user the requests belong to")
	flags.BoolVar(&opts.dryRun, "dry-run", false, "record executions without performing them")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
	flags.StringVar(&opts.dbPath, "db", "", "operation store database path")
	flags.DurationVar(&opts.processTimeout, "process-timeout", 0, "wall-clock limit for spawned processes")
	flags.DurationVar(&opts.lockTimeout, "lock-timeout", 30*time.Second, "how long to wait for the workspace lock")

	cmd.AddCommand(NewSubmitCommand(opts))
	cmd.AddCommand(NewClarifyCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewApproveCommand(opts))
	cmd.AddCommand(NewRejectCommand(opts))
	cmd.AddCommand(NewUndoCommand(opts))
	cmd.AddCommand(NewCorrectCommand(opts))
	cmd.AddCommand(NewShowCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))

	return cmd
}

func defaultUser() string {
	if u := os.Getenv("OPGATE_USER"); u != "" {
		return u
	}
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "local"
}
