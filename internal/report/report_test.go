package report_test

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feedpipe/feedpipe/internal/report"
)

func TestRecord(t *testing.T) {
	t.Parallel()

	out := &bytes.Buffer{}
	l := report.New(report.WithWriter(out))

	l.Record("upload fixture", 120*time.Millisecond, nil)
	l.Record("wait for derived records", time.Second, errors.New("budget exhausted"))
	l.Skip("validate record shape", "no records to validate")

	steps := l.Steps()
	require.Len(t, steps, 3)
	assert.Equal(t, report.StatusPass, steps[0].Status)
	assert.Equal(t, report.StatusFail, steps[1].Status)
	assert.Equal(t, "budget exhausted", steps[1].Detail)
	assert.Equal(t, report.StatusSkip, steps[2].Status)

	assert.Contains(t, out.String(), "upload fixture")
	assert.Contains(t, out.String(), "budget exhausted")
}

func TestAllPassed(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		errs    []error
		skipped int

		want bool
	}{
		"Empty ledger":           {want: true},
		"All pass":               {errs: []error{nil, nil}, want: true},
		"Skips don't fail a run": {errs: []error{nil}, skipped: 2, want: true},

		"One failure": {errs: []error{nil, errors.New("boom")}, want: false},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			l := report.New(report.WithWriter(&bytes.Buffer{}))
			for i, err := range tc.errs {
				l.Record("step", time.Duration(i)*time.Millisecond, err)
			}
			for range tc.skipped {
				l.Skip("step", "not attempted")
			}

			assert.Equal(t, tc.want, l.AllPassed())
		})
	}
}

func TestCounts(t *testing.T) {
	t.Parallel()

	l := report.New(report.WithWriter(&bytes.Buffer{}))
	l.Record("a", 0, nil)
	l.Record("b", 0, nil)
	l.Record("c", 0, errors.New("boom"))
	l.Skip("d", "skipped")

	passed, failed, skipped := l.Counts()
	assert.Equal(t, 2, passed)
	assert.Equal(t, 1, failed)
	assert.Equal(t, 1, skipped)
}

func TestRender(t *testing.T) {
	t.Parallel()

	out := &bytes.Buffer{}
	l := report.New(report.WithWriter(out))
	l.Record("upload fixture", 100*time.Millisecond, nil)
	l.Record("invoke API function", 200*time.Millisecond, errors.New("boom"))

	l.Render("run-1", 3*time.Second)

	got := out.String()
	assert.Contains(t, got, "run-1")
	assert.Contains(t, got, "TOTAL")
	assert.Contains(t, got, "1 passed, 1 failed, 0 skipped")
}
