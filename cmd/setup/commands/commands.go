// Package commands provides the setup command line tool for feedpipe.
package commands

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/feedpipe/feedpipe/internal/cli"
	"github.com/feedpipe/feedpipe/internal/constants"
	"github.com/feedpipe/feedpipe/internal/emulator"
	"github.com/feedpipe/feedpipe/internal/pipeline"
	"github.com/feedpipe/feedpipe/internal/report"
	"github.com/feedpipe/feedpipe/internal/setup"
	"github.com/feedpipe/feedpipe/internal/stack"
)

// App represents the application.
type App struct {
	cmd    *cobra.Command
	viper  *viper.Viper
	config appConfig
}

// appConfig holds the configuration for the application.
type appConfig struct {
	Verbosity int
	JSONLogs  bool

	StackDir string
	Endpoint string
	Region   string

	SkipDeps   bool
	SkipDeploy bool
	SkipVerify bool

	WaitAttempts int
	WaitInterval time.Duration

	Fixture      string
	PollAttempts int
	PollInterval time.Duration
}

// New creates a new App instance with default values.
func New() (*App, error) {
	a := App{}

	a.cmd = &cobra.Command{
		Use:           constants.SetupCmdName,
		Short:         "Bootstrap the local emulator and deploy the serverless quote pipeline",
		Long: "feedpipe-setup starts the local cloud-service emulator, installs the stack dependencies, " +
			"deploys the serverless stack and runs the pipeline verification.",
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Command parsing has been successful. Returns to not print usage anymore.
			a.cmd.SilenceUsage = true
			cli.SetSlog(a.config.Verbosity, a.config.JSONLogs) // Set verbosity before loading config
			if err := cli.InitViperConfig(constants.SetupCmdName, a.cmd, a.viper); err != nil {
				return err
			}
			if err := a.viper.Unmarshal(&a.config, viper.DecodeHook(
				mapstructure.StringToTimeDurationHookFunc())); err != nil {
				return fmt.Errorf("unable to decode configuration into struct: %w", err)
			}

			cli.SetSlog(a.config.Verbosity, a.config.JSONLogs) // Update logging after loading config if necessary
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run()
		},
	}
	a.viper = viper.New()
	a.cmd.CompletionOptions.HiddenDefaultCmd = true

	installRootCmd(&a)
	cli.InstallConfigFlag(a.cmd)

	if err := a.viper.BindPFlags(a.cmd.PersistentFlags()); err != nil {
		return nil, err
	}

	return &a, nil
}

func installRootCmd(app *App) {
	cmd := app.cmd

	emu := emulator.NewConfig()

	cmd.PersistentFlags().CountVarP(&app.config.Verbosity, "verbose", "v", "issue INFO (-v), DEBUG (-vv)")
	cmd.PersistentFlags().BoolVar(&app.config.JSONLogs, "json-logs", false, "enable JSON formatted logs")

	cmd.Flags().StringVar(&app.config.StackDir, "stack-dir", constants.DefaultStackDir, "directory holding the deployment descriptor")
	cmd.Flags().StringVar(&app.config.Endpoint, "endpoint", emu.Endpoint, "emulator endpoint")
	cmd.Flags().StringVar(&app.config.Region, "region", emu.Region, "region used against the emulator")

	cmd.Flags().BoolVar(&app.config.SkipDeps, "skip-deps", false, "skip installing stack dependencies")
	cmd.Flags().BoolVar(&app.config.SkipDeploy, "skip-deploy", false, "skip deploying the serverless stack")
	cmd.Flags().BoolVar(&app.config.SkipVerify, "skip-verify", false, "skip the pipeline verification run")

	cmd.Flags().IntVar(&app.config.WaitAttempts, "wait-attempts", 30, "health probes before giving up on the emulator")
	cmd.Flags().DurationVar(&app.config.WaitInterval, "wait-interval", 2*time.Second, "fixed wait between health probes")

	cmd.Flags().StringVar(&app.config.Fixture, "fixture", constants.DefaultFixture, "quote fixture file used by the verification run")
	cmd.Flags().IntVar(&app.config.PollAttempts, "poll-attempts", constants.DefaultPollAttempts, "table scans before giving up on derived records")
	cmd.Flags().DurationVar(&app.config.PollInterval, "poll-interval", constants.DefaultPollInterval, "fixed wait between table scans")

	if err := cmd.MarkFlagDirname("stack-dir"); err != nil {
		panic(fmt.Sprintf("failed to mark stack-dir flag as directory: %v", err))
	}
}

// Run executes the command and associated process, returning an error if any.
func (a *App) Run() error {
	return a.cmd.Execute()
}

// UsageError returns if the error is a command parsing or runtime one.
func (a App) UsageError() bool {
	return !a.cmd.SilenceUsage
}

// RootCmd returns the root command.
func (a App) RootCmd() cobra.Command {
	return *a.cmd
}

// run executes the bootstrap steps sequentially, aborting on the first failure.
func (a *App) run() error {
	ctx := context.Background()

	prereqs := []string{"docker"}
	if !a.config.SkipDeps {
		prereqs = append(prereqs, "npm")
	}
	if !a.config.SkipDeploy {
		prereqs = append(prereqs, "serverless")
	}
	if err := setup.CheckPrerequisites(prereqs...); err != nil {
		return err
	}

	runner := setup.NewRunner(a.config.StackDir)
	if err := runner.Run(ctx, 2*time.Minute, "docker", "compose", "up", "-d"); err != nil {
		return err
	}

	clients, err := emulator.New(ctx, emulator.Config{Endpoint: a.config.Endpoint, Region: a.config.Region})
	if err != nil {
		return err
	}
	if err := setup.WaitForEmulator(ctx, clients.Health, a.config.WaitAttempts, a.config.WaitInterval); err != nil {
		return err
	}

	if !a.config.SkipDeps {
		if err := runner.Run(ctx, 5*time.Minute, "npm", "install"); err != nil {
			return err
		}
	}

	descriptor, err := a.loadDescriptor()
	if err != nil {
		return err
	}

	if !a.config.SkipDeploy {
		if err := runner.Run(ctx, 10*time.Minute, "serverless", "deploy", "--stage", descriptor.Stage()); err != nil {
			return err
		}
	}

	if a.config.SkipVerify {
		slog.Info("Setup finished, verification skipped")
		return nil
	}

	ledger := report.New()
	runID, err := pipeline.Run(ctx, pipeline.RunConfig{
		Emulator:     emulator.Config{Endpoint: a.config.Endpoint, Region: a.config.Region},
		Resources:    descriptor.Resources(),
		Fixture:      a.config.Fixture,
		PollAttempts: a.config.PollAttempts,
		PollInterval: a.config.PollInterval,
	}, ledger)
	if err != nil {
		return err
	}

	slog.Info("Setup finished", "runID", runID, "allPassed", ledger.AllPassed())
	return nil
}

// loadDescriptor reads the descriptor from the stack directory. A missing file
// is not an error; defaults apply.
func (a *App) loadDescriptor() (*stack.Descriptor, error) {
	path := filepath.Join(a.config.StackDir, constants.DescriptorFileName)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			slog.Info("No deployment descriptor found, using default resource names", "path", path)
			return nil, nil
		}
		return nil, fmt.Errorf("could not stat deployment descriptor: %v", err)
	}
	return stack.Load(path)
}
