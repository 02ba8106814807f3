// Command pipeforge drives the build, verification and packaging pipeline of
// a Python project from a fixed task catalog.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"pipeforge/internal/cli"
	"pipeforge/internal/task"
)

var (
	logger *zap.Logger

	workdirFlag  string
	verboseFlag  bool
	parallelFlag bool

	// exitCode is the semantic exit code of the executed command; main
	// exits with it after the logger is synced.
	exitCode int
)

func main() {
	root := buildRootCmd()
	if err := root.Execute(); err != nil {
		// Cobra-level failures (unknown command, bad flags) are misuse.
		if exitCode == cli.ExitSuccess {
			exitCode = cli.ExitInvalidInvocation
		}
	}
	os.Exit(exitCode)
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "pipeforge",
		Short:         "Deterministic CI pipeline runner for Python projects",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initLogger()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				_ = logger.Sync()
			}
		},
	}

	root.PersistentFlags().StringVar(&workdirFlag, "workdir", "", "project root (defaults to the current directory)")
	root.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "enable debug logging")

	for _, t := range []struct {
		use, name, short string
	}{
		{"venv", task.CreateVenv, "Create a fresh isolated environment with the dependency tooling"},
		{"install", task.InstallDependencies, "Sync the environment to the lock files exactly"},
		{"update", task.UpdateDependencies, "Recompile the lock files from the project manifest"},
		{"lint", task.Lint, "Run style analysis over the source and test trees"},
		{"typecheck", task.Typecheck, "Run type analysis over the source and test trees"},
		{"test", task.TestUnit, "Run the unit-test suite and write a JUnit report"},
		{"build", task.BuildPackage, "Build distributable package artifacts"},
	} {
		root.AddCommand(taskCmd(t.use, t.name, t.short))
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Execute the full pipeline graph",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return dispatch(func(ctx context.Context, a *cli.App) (int, error) {
				return a.RunPipeline(ctx, parallelFlag)
			})
		},
	}
	runCmd.Flags().BoolVar(&parallelFlag, "parallel", false, "run independent tasks concurrently")
	root.AddCommand(runCmd)

	root.AddCommand(&cobra.Command{
		Use:   "matrix",
		Short: "Execute the full pipeline once per declared interpreter version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return dispatch(func(ctx context.Context, a *cli.App) (int, error) {
				return a.RunMatrix(ctx)
			})
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "watch",
		Short: "Rerun lint and typecheck on source changes until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return dispatch(func(ctx context.Context, a *cli.App) (int, error) {
				return a.Watch(ctx)
			})
		},
	})

	return root
}

func taskCmd(use, name, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return dispatch(func(ctx context.Context, a *cli.App) (int, error) {
				return a.RunTask(ctx, name)
			})
		},
	}
}

// dispatch builds the application for the working directory, runs op under a
// signal-cancelled context and records its exit code.
func dispatch(op func(ctx context.Context, a *cli.App) (int, error)) error {
	a, err := cli.NewApp(workdirFlag, logger)
	if err != nil {
		exitCode = cli.ExitCodeFor(err)
		fmt.Fprintln(os.Stderr, "pipeforge:", err)
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	code, err := op(ctx, a)
	exitCode = code
	if err != nil {
		fmt.Fprintln(os.Stderr, "pipeforge:", err)
	}
	return nil
}

func initLogger() error {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if verboseFlag {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	l, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	logger = l
	return nil
}
