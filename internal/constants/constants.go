// Package constants is responsible for defining the constants used in the application.
package constants

import (
	"log/slog"
	"time"
)

const (
	// SetupCmdName is the name of the setup command line tool.
	SetupCmdName = "feedpipe-setup"

	// VerifyCmdName is the name of the verify command line tool.
	VerifyCmdName = "feedpipe-verify"

	// DefaultLogLevel is the default log level selected without any verbosity flags.
	DefaultLogLevel = slog.LevelWarn

	// DefaultEndpoint is the default emulator endpoint.
	DefaultEndpoint = "http://localhost:4566"

	// DefaultRegion is the default region used against the emulator.
	DefaultRegion = "us-east-1"

	// DefaultBucket is the default incoming bucket for quote fixture files.
	DefaultBucket = "feedpipe-incoming"

	// DefaultTable is the default managed table derived quote records land in.
	DefaultTable = "quotes"

	// DefaultAPIFunction is the default name of the deployed API function.
	DefaultAPIFunction = "feedpipe-local-api"

	// DefaultTopic is the default notification topic name.
	DefaultTopic = "feedpipe-events"

	// DefaultFixture is the default quote fixture uploaded during verification.
	DefaultFixture = "fixtures/sample-quotes.csv"

	// DefaultStackDir is the default directory holding the deployment descriptor.
	DefaultStackDir = "deploy"

	// DescriptorFileName is the base name of the deployment descriptor.
	DescriptorFileName = "serverless.yml"

	// DefaultStage is the default deployment stage against the emulator.
	DefaultStage = "local"

	// DefaultPollAttempts is the number of table scans attempted before giving up on derived records.
	DefaultPollAttempts = 18

	// DefaultPollInterval is the fixed wait between table scans.
	DefaultPollInterval = 5 * time.Second
)
