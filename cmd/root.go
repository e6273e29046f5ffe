package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"
	"pkt.systems/pslog"

	"github.com/sleepiecappy/riverflow/internal/config"
	"github.com/sleepiecappy/riverflow/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "riverflow [flags] -- <command> [args...]",
	Short: "Run a command and browse, search and filter its output live",
	Long: `riverflow (River Flow) supervises one command, captures stdout and stderr line by
line and lets you search, filter and talk to it while it runs.

Quick start:
  riverflow -- npm run dev                   # Interactive view (i insert, / search, f filter)
  riverflow headless --filter ERROR -- make  # Print only matching lines
  riverflow headless --until 'listening' -- ./server
  riverflow config                           # Show the effective configuration`,
	Args:               cobra.ArbitraryArgs,
	SilenceErrors:      true,
	SilenceUsage:       true,
	PersistentPostRunE: teardown,
}

var (
	configFlag      string
	logFileFlag     string
	logLevelFlag    string
	ptyFlag         bool
	gracePeriodFlag string
	maxLinesFlag    int
	maxLineSizeFlag string
)

// Populated by setup for the command being run.
var (
	appLoader *config.Loader
	appConfig *config.Config
	closeLog  func() error
)

// ExitError carries the exit code of the supervised command out of Execute.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("command exited with code %d", e.Code)
}

// Execute runs the CLI and returns the process exit code.
func Execute(ctx context.Context) int {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			return exitErr.Code
		}
		pslog.Ctx(ctx).With("err", err).Error("riverflow command failed")
		return 1
	}
	return 0
}

func init() {
	// Assigned here rather than in the literal: setup and runInteractive
	// reference rootCmd, which would otherwise be an initialization cycle.
	rootCmd.PersistentPreRunE = setup
	rootCmd.RunE = runInteractive

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFlag, "config", "", "Config file (default: $XDG_CONFIG_HOME/riverflow/config.yaml)")
	flags.StringVar(&logFileFlag, "log-file", "", "Write JSON diagnostics to this file")
	flags.StringVar(&logLevelFlag, "log-level", "", "Log level: trace, debug, info, warn, error")
	flags.BoolVar(&ptyFlag, "pty", false, "Attach the command to a pseudo terminal")
	flags.StringVar(&gracePeriodFlag, "grace-period", "", "Time between SIGTERM and SIGKILL on stop (e.g. 3s)")
	flags.IntVar(&maxLinesFlag, "max-lines", 0, "Keep at most N lines (0 keeps everything)")
	flags.StringVar(&maxLineSizeFlag, "max-line-size", "", "Split lines longer than this (e.g. 64KB)")

	rootCmd.AddCommand(headlessCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

var flagKeys = map[string]string{
	"log-file":     "logging.file",
	"log-level":    "logging.level",
	"pty":          "process.pty",
	"grace-period": "process.grace_period",
	"max-lines":    "buffer.max_lines",
}

func setup(cmd *cobra.Command, args []string) error {
	appLoader = config.NewLoader(configFlag)
	for name, key := range flagKeys {
		if err := appLoader.BindFlag(key, cmd.Flags().Lookup(name)); err != nil {
			return err
		}
	}
	if cmd.Flags().Changed("max-line-size") {
		n, err := parseSize(maxLineSizeFlag)
		if err != nil {
			return fmt.Errorf("invalid --max-line-size: %w", err)
		}
		appLoader.Set("buffer.max_line_bytes", n)
	}

	cfg, err := appLoader.Load()
	if err != nil {
		return err
	}
	appConfig = cfg

	logCfg := logging.Config{Level: cfg.Logging.Level, File: cfg.Logging.File}
	if !interactive(cmd) {
		logCfg.Console = os.Stderr
	}
	log, closer, err := logging.New(logCfg)
	if err != nil {
		return err
	}
	closeLog = closer
	if used := appLoader.ConfigFileUsed(); used != "" {
		log.Debug("config loaded", "file", used)
	}
	cmd.SetContext(pslog.ContextWithLogger(cmd.Context(), log))
	return nil
}

func teardown(cmd *cobra.Command, args []string) error {
	if closeLog == nil {
		return nil
	}
	return closeLog()
}

// interactive reports whether cmd draws the TUI.
func interactive(cmd *cobra.Command) bool {
	return cmd == rootCmd && term.IsTerminal(os.Stdout.Fd())
}

func runInteractive(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return cmd.Help()
	}
	if !interactive(cmd) {
		return runSession(cmd.Context(), args, headlessOptions{})
	}
	return runTUI(cmd.Context(), args)
}
