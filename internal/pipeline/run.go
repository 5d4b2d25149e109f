package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/feedpipe/feedpipe/internal/emulator"
	"github.com/feedpipe/feedpipe/internal/notify"
	"github.com/feedpipe/feedpipe/internal/report"
	"github.com/feedpipe/feedpipe/internal/stack"
)

// RunConfig configures a full verification run.
type RunConfig struct {
	Emulator  emulator.Config
	Resources stack.Resources
	Fixture   string

	PollAttempts int
	PollInterval time.Duration
}

// Run performs a complete verification run against the emulator.
//
// Failures split into two tiers: an unreachable emulator or an absent
// bucket/table is fatal and returned as an error with nothing recorded in the
// ledger; every later step failure is recorded in the ledger and never aborts
// the run. The run ID identifying the run is always returned.
func Run(ctx context.Context, cfg RunConfig, ledger *report.Ledger) (runID string, err error) {
	runID = uuid.New().String()
	start := time.Now()

	clients, err := emulator.New(ctx, cfg.Emulator)
	if err != nil {
		return runID, err
	}

	if err := clients.Health(ctx); err != nil {
		return runID, err
	}
	if ok, err := clients.BucketExists(ctx, cfg.Resources.Bucket); err != nil {
		return runID, err
	} else if !ok {
		return runID, fmt.Errorf("required bucket %q is missing, deploy the stack first", cfg.Resources.Bucket)
	}
	if ok, err := clients.TableExists(ctx, cfg.Resources.Table); err != nil {
		return runID, err
	} else if !ok {
		return runID, fmt.Errorf("required table %q is missing, deploy the stack first", cfg.Resources.Table)
	}
	slog.Info("Emulator and managed resources are ready", "endpoint", clients.Endpoint(), "runID", runID)

	v := New(Clients{
		Storage:   clients.S3(),
		Table:     clients.DynamoDB(),
		Functions: clients.Lambda(),
		Notifier:  notify.New(clients.SNS()),
	}, cfg.Resources, cfg.PollAttempts, cfg.PollInterval)

	v.runSteps(ctx, runID, cfg.Fixture, ledger)

	ledger.Render(runID, time.Since(start))
	return runID, nil
}

// runSteps executes the recoverable-tier steps, recording each outcome.
func (v *Verifier) runSteps(ctx context.Context, runID, fixture string, ledger *report.Ledger) {
	stepStart := time.Now()
	key, err := v.UploadFixture(ctx, fixture)
	ledger.Record("upload fixture", time.Since(stepStart), err)

	if err != nil {
		ledger.Skip("wait for derived records", "fixture upload failed")
		ledger.Skip("validate record shape", "fixture upload failed")
	} else {
		stepStart = time.Now()
		items, err := v.WaitForRecords(ctx, key)
		ledger.Record("wait for derived records", time.Since(stepStart), err)

		if err != nil {
			ledger.Skip("validate record shape", "no records to validate")
		} else {
			stepStart = time.Now()
			validateErr := v.ValidateRecords(items)
			ledger.Record("validate record shape", time.Since(stepStart), validateErr)
		}
	}

	stepStart = time.Now()
	_, err = v.InvokeAPI(ctx, runID)
	ledger.Record("invoke API function", time.Since(stepStart), err)

	passed, failed, _ := ledger.Counts()
	stepStart = time.Now()
	notifyErr := v.Notify(ctx, runID, passed, failed)
	ledger.Record("publish completion notification", time.Since(stepStart), notifyErr)
}
