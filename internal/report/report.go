// Package report tracks the outcome of individual verification steps and
// renders a colored console summary once the run is over.
package report

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// Status is the outcome of a single verification step.
type Status string

const (
	// StatusPass marks a step that completed successfully.
	StatusPass Status = "PASS"
	// StatusFail marks a step that failed. A failed step does not stop the run.
	StatusFail Status = "FAIL"
	// StatusSkip marks a step that was not attempted.
	StatusSkip Status = "SKIP"
)

// Step is a recorded verification step outcome.
type Step struct {
	Name     string
	Status   Status
	Detail   string
	Duration time.Duration
}

// Ledger collects step outcomes and prints status lines as they happen.
type Ledger struct {
	steps []Step
	out   io.Writer
}

type options struct {
	out io.Writer
}

// Options represents an optional function to override Ledger default values.
type Options func(*options)

// WithWriter overrides the writer status lines and the summary are printed to.
func WithWriter(w io.Writer) Options {
	return func(o *options) {
		o.out = w
	}
}

// New returns an empty ledger printing to stdout unless overridden.
func New(args ...Options) *Ledger {
	opts := options{
		out: os.Stdout,
	}
	for _, opt := range args {
		opt(&opts)
	}

	return &Ledger{out: opts.out}
}

// Record adds a step outcome derived from err and prints its status line.
// A nil err records a pass; otherwise a failure with the error text as detail.
func (l *Ledger) Record(name string, d time.Duration, err error) {
	s := Step{Name: name, Status: StatusPass, Duration: d}
	if err != nil {
		s.Status = StatusFail
		s.Detail = err.Error()
	}
	l.append(s)
}

// Skip records a step that was not attempted, with the reason as detail.
func (l *Ledger) Skip(name, reason string) {
	l.append(Step{Name: name, Status: StatusSkip, Detail: reason})
}

func (l *Ledger) append(s Step) {
	l.steps = append(l.steps, s)
	fmt.Fprintf(l.out, "%s %s%s\n", statusText(s.Status), s.Name, detailSuffix(s))
}

// Steps returns a copy of the recorded steps in order.
func (l *Ledger) Steps() []Step {
	steps := make([]Step, len(l.steps))
	copy(steps, l.steps)
	return steps
}

// AllPassed reports whether no recorded step failed. Skipped steps don't count
// as failures.
func (l *Ledger) AllPassed() bool {
	for _, s := range l.steps {
		if s.Status == StatusFail {
			return false
		}
	}
	return true
}

// Counts returns the number of passed, failed and skipped steps.
func (l *Ledger) Counts() (passed, failed, skipped int) {
	for _, s := range l.steps {
		switch s.Status {
		case StatusPass:
			passed++
		case StatusFail:
			failed++
		case StatusSkip:
			skipped++
		}
	}
	return passed, failed, skipped
}

// Render prints the summary table for the run.
func (l *Ledger) Render(runID string, total time.Duration) {
	t := table.NewWriter()
	t.SetOutputMirror(l.out)
	t.SetTitle(fmt.Sprintf("Pipeline verification (%s)", runID))

	t.AppendHeader(table.Row{"Step", "Status", "Duration", "Detail"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Duration", Align: text.AlignRight},
		{Name: "Detail", WidthMax: 60, WidthMaxEnforcer: text.WrapSoft},
	})

	for _, s := range l.steps {
		t.AppendRow(table.Row{s.Name, string(s.Status), formatDuration(s.Duration), s.Detail})
	}

	if l.AllPassed() {
		t.SetStyle(table.StyleColoredBlackOnGreenWhite)
	} else {
		t.SetStyle(table.StyleColoredBlackOnRedWhite)
	}

	passed, failed, skipped := l.Counts()
	t.AppendFooter(table.Row{"TOTAL", verdict(l.AllPassed()), formatDuration(total),
		fmt.Sprintf("%d passed, %d failed, %d skipped", passed, failed, skipped)})

	t.Render()
}

func statusText(s Status) string {
	switch s {
	case StatusPass:
		return text.FgGreen.Sprint("[PASS]")
	case StatusFail:
		return text.FgRed.Sprint("[FAIL]")
	default:
		return text.FgYellow.Sprint("[SKIP]")
	}
}

func detailSuffix(s Step) string {
	if s.Detail == "" {
		return ""
	}
	return ": " + s.Detail
}

func verdict(passed bool) string {
	if passed {
		return "PASS"
	}
	return "FAIL"
}

// formatDuration formats a duration to seconds with 1 decimal place.
func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%.1fs", d.Seconds())
}
