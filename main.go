package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/whacked/ktest/config"
	"github.com/whacked/ktest/log"
)

const logLevelEnvVar = "KTEST_LOG_LEVEL"

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "ktest [flags] [task...]",
		Short: "build, install and boot a kernel on a test host",
		Long: fmt.Sprintf(
			"Runs the tasks of a kernel test scenario in dependency order.\n\nThe scenario is read from --file, or from %s in the current directory. "+
				"Naming tasks runs them and the tasks they depend on; otherwise every task runs.",
			color.CyanString("Ktest.yaml"),
		),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runScenario,
	}

	rootCmd.Flags().StringP("file", "f", "", "scenario file")
	rootCmd.Flags().Bool("validate", false, "validate the scenario file and exit")
	rootCmd.Flags().Bool("targets", false, "list the tasks in execution order and exit")
	rootCmd.Flags().Bool("dry-run", false, "print the execution plan without running it")
	rootCmd.Flags().String("log-level", "", "log level (trace, debug, info, warn, error); overrides "+logLevelEnvVar)

	return rootCmd
}

func runScenario(cmd *cobra.Command, args []string) error {
	file, _ := cmd.Flags().GetString("file")
	if file == "" {
		discovered, err := config.Discover(".")
		if err != nil {
			return err
		}

		file = discovered
	}

	validateFlag, _ := cmd.Flags().GetBool("validate")
	if validateFlag {
		if err := config.Validate(file); err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", file, color.GreenString("is valid"))

		return nil
	}

	level, err := logLevel(cmd)
	if err != nil {
		return err
	}

	logger := log.New(log.WithOutput(cmd.ErrOrStderr()), log.WithLevel(level))

	sc, err := config.Load(file)
	if err != nil {
		return err
	}

	c, err := newContext(sc, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			logger.Warnf("Cleanup failed: %v", err)
		}
	}()

	p, err := buildPlan(c, sc)
	if err != nil {
		return err
	}

	targets, err := p.targets(args)
	if err != nil {
		return err
	}

	order, err := c.Order(targets...)
	if err != nil {
		return err
	}

	targetsFlag, _ := cmd.Flags().GetBool("targets")
	if targetsFlag {
		for _, task := range order {
			fmt.Fprintln(cmd.OutOrStdout(), task.Name())
		}

		return nil
	}

	for _, task := range order {
		printVitalsForTask(cmd.ErrOrStderr(), p, task)
	}

	dryRun, _ := cmd.Flags().GetBool("dry-run")
	if dryRun {
		return nil
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return c.RunOrder(ctx, order)
}

// logLevel reads --log-level, falling back to the environment.
func logLevel(cmd *cobra.Command) (logrus.Level, error) {
	levelName, _ := cmd.Flags().GetString("log-level")
	if levelName == "" {
		levelName = os.Getenv(logLevelEnvVar)
	}

	return log.ParseLevel(levelName)
}

func main() {
	rootCmd := newRootCommand()
	err := rootCmd.ExecuteContext(context.Background())

	level, levelErr := logLevel(rootCmd)
	bailOnError(err, levelErr == nil && level >= logrus.DebugLevel)
}
