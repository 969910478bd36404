package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/harrison/opgate/internal/config"
	"github.com/harrison/opgate/internal/filelock"
	"github.com/harrison/opgate/internal/logger"
	"github.com/harrison/opgate/internal/models"
	"github.com/harrison/opgate/internal/pipeline"
	"github.com/harrison/opgate/internal/snapshot"
	"github.com/harrison/opgate/internal/store"
)

// LockFileName is the workspace lock inside the opgate home directory.
const LockFileName = "opgate.lock"

// app is everything one CLI invocation needs.
type app struct {
	cfg     *config.Config
	home    string
	store   *store.Store
	svc     *pipeline.Service
	console *logger.ConsoleLogger
	file    *logger.FileLogger
	out     io.Writer
	in      io.Reader
	color   bool
	opts    *globalOptions
}

// openApp loads configuration, opens the store and wires the pipeline.
// Relative paths in the configuration resolve against the directory that
// contains the opgate home.
func openApp(cmd *cobra.Command, opts *globalOptions) (*app, error) {
	home, err := config.GetHome()
	if err != nil {
		return nil, err
	}
	cfg, err := config.LoadConfig(filepath.Join(home, "config.yaml"))
	if err != nil {
		return nil, err
	}
	mergeFlags(cmd, cfg, opts)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	base := filepath.Dir(home)
	cfg.DBPath = config.ResolvePath(base, cfg.DBPath)
	cfg.LogDir = config.ResolvePath(base, cfg.LogDir)
	cfg.Executor.BackupDir = config.ResolvePath(base, cfg.Executor.BackupDir)

	a := &app{
		cfg:     cfg,
		home:    home,
		out:     cmd.OutOrStdout(),
		in:      cmd.InOrStdin(),
		console: logger.NewConsoleLogger(cmd.ErrOrStderr(), cfg.LogLevel),
		opts:    opts,
	}
	a.color = a.out == os.Stdout && isatty.IsTerminal(os.Stdout.Fd())

	loggers := []logger.Logger{a.console}
	if fl, err := logger.NewFileLogger(cfg.LogDir, cfg.LogLevel); err != nil {
		a.console.Warnf("file logging disabled: %v", err)
	} else {
		a.file = fl
		loggers = append(loggers, fl)
	}
	log := logger.NewMultiLogger(loggers...)

	st, err := store.NewStore(cfg.DBPath)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open operation store: %w", err)
	}
	a.store = st

	userHome, _ := os.UserHomeDir()
	workDir, _ := os.Getwd()
	paths := snapshot.PathExtractor{Home: userHome, WorkDir: workDir}
	a.svc = pipeline.New(cfg, st, afero.NewOsFs(), paths, log)
	log.Debugf("opgate home %s, database %s", home, cfg.DBPath)
	return a, nil
}

// mergeFlags applies only the flags the user actually set.
func mergeFlags(cmd *cobra.Command, cfg *config.Config, opts *globalOptions) {
	var (
		dryRun   *bool
		logLevel *string
		dbPath   *string
	)
	flags := cmd.Flags()
	if flags.Changed("dry-run") {
		dryRun = &opts.dryRun
	}
	if flags.Changed("log-level") {
		logLevel = &opts.logLevel
	}
	if flags.Changed("db") {
		dbPath = &opts.dbPath
	}
	if flags.Changed("process-timeout") {
		cfg.MergeWithFlags(dryRun, logLevel, dbPath, &opts.processTimeout)
		return
	}
	cfg.MergeWithFlags(dryRun, logLevel, dbPath, nil)
}

func (a *app) Close() error {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.file != nil {
		errs = append(errs, a.file.Close())
	}
	return errors.Join(errs...)
}

// withLock serializes mutating commands across processes sharing the workspace.
func (a *app) withLock(ctx context.Context, fn func() error) error {
	ctx, cancel := context.WithTimeout(ctx, a.opts.lockTimeout)
	defer cancel()
	return filelock.WithLock(ctx, filepath.Join(a.home, LockFileName), fn)
}

// runApp opens the app, runs fn and closes it. Mutating commands run fn
// under the workspace lock.
func runApp(cmd *cobra.Command, opts *globalOptions, mutating bool, fn func(ctx context.Context, a *app) error) error {
	a, err := openApp(cmd, opts)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	if !mutating {
		return fn(ctx, a)
	}
	return a.withLock(ctx, func() error { return fn(ctx, a) })
}

// resolveID expands a unique id prefix, as printed by list and submit.
func (a *app) resolveID(ctx context.Context, arg string) (string, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return "", fmt.Errorf("operation id is empty")
	}
	if _, err := a.store.GetOperation(ctx, nil, arg); err == nil {
		return arg, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return "", err
	}

	ops, err := a.store.ListOperations(ctx, nil, store.ListFilter{})
	if err != nil {
		return "", err
	}
	var matches []string
	for _, op := range ops {
		if strings.HasPrefix(op.ID, arg) {
			matches = append(matches, op.ID)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("no operation matches %q: %w", arg, store.ErrNotFound)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("operation id %q is ambiguous (%d matches)", arg, len(matches))
	}
}

// logExecution mirrors an execution into the run log.
func (a *app) logExecution(op *models.AtomicOperation, rec *models.ExecutionRecord) {
	if a.file != nil {
		a.file.LogExecution(op, rec)
	}
}

// interactive reports whether approval prompts can be shown.
func (a *app) interactive() bool {
	f, ok := a.in.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
