// Package commands provides the verify command line tool for feedpipe.
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

	Endpoint string
	Region   string

	Bucket   string
	Table    string
	Function string
	Topic    string

	Fixture      string
	Descriptor   string
	PollAttempts int
	PollInterval time.Duration
}

// New creates a new App instance with default values.
func New() (*App, error) {
	a := App{}

	a.cmd = &cobra.Command{
		Use:           constants.VerifyCmdName,
		Short:         "Verify the serverless quote pipeline against the local emulator",
		Long: "feedpipe-verify checks the emulator and the deployed resources, uploads a quote fixture, " +
			"waits for derived records in the managed table, validates their shape and exercises the API function.",
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Command parsing has been successful. Returns to not print usage anymore.
			a.cmd.SilenceUsage = true
			cli.SetSlog(a.config.Verbosity, a.config.JSONLogs) // Set verbosity before loading config
			if err := cli.InitViperConfig(constants.VerifyCmdName, a.cmd, a.viper); err != nil {
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

	cmd.Flags().StringVar(&app.config.Endpoint, "endpoint", emu.Endpoint, "emulator endpoint")
	cmd.Flags().StringVar(&app.config.Region, "region", emu.Region, "region used against the emulator")

	cmd.Flags().StringVar(&app.config.Bucket, "bucket", "", "incoming bucket (defaults to the deployment descriptor)")
	cmd.Flags().StringVar(&app.config.Table, "table", "", "managed table (defaults to the deployment descriptor)")
	cmd.Flags().StringVar(&app.config.Function, "function", "", "API function name (defaults to the deployment descriptor)")
	cmd.Flags().StringVar(&app.config.Topic, "topic", "", "notification topic (defaults to the deployment descriptor)")

	cmd.Flags().StringVar(&app.config.Fixture, "fixture", constants.DefaultFixture, "quote fixture file to upload")
	cmd.Flags().StringVar(&app.config.Descriptor, "descriptor",
		filepath.Join(constants.DefaultStackDir, constants.DescriptorFileName), "path to the deployment descriptor")
	cmd.Flags().IntVar(&app.config.PollAttempts, "poll-attempts", constants.DefaultPollAttempts, "table scans before giving up on derived records")
	cmd.Flags().DurationVar(&app.config.PollInterval, "poll-interval", constants.DefaultPollInterval, "fixed wait between table scans")

	if err := cmd.MarkFlagFilename("fixture"); err != nil {
		panic(fmt.Sprintf("failed to mark fixture flag as filename: %v", err))
	}
	if err := cmd.MarkFlagFilename("descriptor", "yml", "yaml"); err != nil {
		panic(fmt.Sprintf("failed to mark descriptor flag as filename: %v", err))
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

func (a *App) run() error {
	ctx := context.Background()

	resources, err := a.resolveResources()
	if err != nil {
		return err
	}

	ledger := report.New()
	runID, err := pipeline.Run(ctx, pipeline.RunConfig{
		Emulator:     emulator.Config{Endpoint: a.config.Endpoint, Region: a.config.Region},
		Resources:    resources,
		Fixture:      a.config.Fixture,
		PollAttempts: a.config.PollAttempts,
		PollInterval: a.config.PollInterval,
	}, ledger)
	if err != nil {
		// Fatal tier: emulator or managed resources unavailable.
		return err
	}

	if !ledger.AllPassed() {
		_, failed, _ := ledger.Counts()
		slog.Warn("Verification finished with failing steps", "runID", runID, "failed", failed)
		return nil
	}
	slog.Info("Verification finished, all steps passed", "runID", runID)
	return nil
}

// resolveResources merges the deployment descriptor with explicit flag
// overrides. Flags win; a missing descriptor file falls back to defaults.
func (a *App) resolveResources() (stack.Resources, error) {
	var d *stack.Descriptor
	if _, err := os.Stat(a.config.Descriptor); err == nil {
		d, err = stack.Load(a.config.Descriptor)
		if err != nil {
			return stack.Resources{}, err
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return stack.Resources{}, fmt.Errorf("could not stat deployment descriptor: %v", err)
	} else {
		slog.Info("No deployment descriptor found, using default resource names", "path", a.config.Descriptor)
	}

	resources := d.Resources()
	if a.config.Bucket != "" {
		resources.Bucket = a.config.Bucket
	}
	if a.config.Table != "" {
		resources.Table = a.config.Table
	}
	if a.config.Function != "" {
		resources.APIFunction = a.config.Function
	}
	if a.config.Topic != "" {
		resources.Topic = a.config.Topic
	}
	return resources, nil
}
