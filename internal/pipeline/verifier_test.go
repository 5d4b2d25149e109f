package pipeline_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feedpipe/feedpipe/internal/pipeline"
	"github.com/feedpipe/feedpipe/internal/report"
	"github.com/feedpipe/feedpipe/internal/stack"
)

var testResources = stack.Resources{
	Bucket:      "feedpipe-incoming",
	Table:       "quotes",
	Topic:       "feedpipe-events",
	APIFunction: "feedpipe-local-api",
}

// immediately fires the polling wait so tests never sleep.
func noWait(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- time.Time{}
	return ch
}

type mockStorage struct {
	err error

	bucket, key string
}

func (m *mockStorage) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.bucket = aws.ToString(params.Bucket)
	m.key = aws.ToString(params.Key)
	return &s3.PutObjectOutput{}, nil
}

type mockScanner struct {
	emptyScans int
	err        error
	items      []map[string]ddbtypes.AttributeValue

	scans      int
	lastFilter string
}

func (m *mockScanner) Scan(_ context.Context, params *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	m.scans++
	m.lastFilter = aws.ToString(params.FilterExpression)
	if m.err != nil {
		return nil, m.err
	}
	if m.scans <= m.emptyScans {
		return &dynamodb.ScanOutput{}, nil
	}
	return &dynamodb.ScanOutput{Items: m.items}, nil
}

type mockInvoker struct {
	payload       []byte
	functionError *string
	err           error
}

func (m *mockInvoker) Invoke(_ context.Context, _ *lambda.InvokeInput, _ ...func(*lambda.Options)) (*lambda.InvokeOutput, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &lambda.InvokeOutput{Payload: m.payload, FunctionError: m.functionError}, nil
}

type mockNotifier struct {
	createErr  error
	publishErr error

	published []string
}

func (m *mockNotifier) CreateTopic(_ context.Context, name string) (string, error) {
	if m.createErr != nil {
		return "", m.createErr
	}
	return "arn:aws:sns:us-east-1:000000000000:" + name, nil
}

func (m *mockNotifier) Publish(_ context.Context, _, _, message string) (string, error) {
	if m.publishErr != nil {
		return "", m.publishErr
	}
	m.published = append(m.published, message)
	return "message-id", nil
}

func newVerifier(clients pipeline.Clients, attempts int) *pipeline.Verifier {
	return pipeline.New(clients, testResources, attempts, time.Millisecond, pipeline.WithAfter(noWait))
}

func TestUploadFixture(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		missingFile bool
		putErr      error

		wantErr bool
	}{
		"Uploads under base name": {},

		"Error on missing fixture": {missingFile: true, wantErr: true},
		"Error on failed put":      {putErr: assert.AnError, wantErr: true},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			path := filepath.Join(t.TempDir(), "quotes.csv")
			if !tc.missingFile {
				require.NoError(t, os.WriteFile(path, []byte("name,price\nACME Corp,101.25\n"), 0600))
			}

			storage := &mockStorage{err: tc.putErr}
			v := newVerifier(pipeline.Clients{Storage: storage}, 1)

			key, err := v.UploadFixture(context.Background(), path)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "quotes.csv", key)
			assert.Equal(t, "feedpipe-incoming", storage.bucket)
			assert.Equal(t, "quotes.csv", storage.key)
		})
	}
}

func TestWaitForRecords(t *testing.T) {
	t.Parallel()

	items := []map[string]ddbtypes.AttributeValue{fullItem()}

	tests := map[string]struct {
		attempts   int
		emptyScans int
		scanErr    error

		wantErr     error
		wantAnyErr  bool
		wantScans   int
		wantRecords int
	}{
		"Records on first attempt": {attempts: 3, wantScans: 1, wantRecords: 1},
		"Records after retries":    {attempts: 5, emptyScans: 2, wantScans: 3, wantRecords: 1},
		"Budget exhausted":         {attempts: 3, emptyScans: 10, wantErr: pipeline.ErrPollTimeout, wantScans: 3},
		"Scan error aborts":        {attempts: 3, scanErr: assert.AnError, wantAnyErr: true, wantScans: 1},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			scanner := &mockScanner{emptyScans: tc.emptyScans, err: tc.scanErr, items: items}
			v := newVerifier(pipeline.Clients{Table: scanner}, tc.attempts)

			got, err := v.WaitForRecords(context.Background(), "quotes.csv")
			assert.Equal(t, tc.wantScans, scanner.scans, "unexpected number of scans")

			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				return
			}
			if tc.wantAnyErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, got, tc.wantRecords)
			assert.Equal(t, "source_file = :sf", scanner.lastFilter)
		})
	}
}

func TestWaitForRecordsHonorsContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	scanner := &mockScanner{emptyScans: 10}
	// nil channel from the wait blocks forever, the canceled context must win.
	v := pipeline.New(pipeline.Clients{Table: scanner}, testResources, 2, time.Millisecond,
		pipeline.WithAfter(func(time.Duration) <-chan time.Time { return nil }))

	_, err := v.WaitForRecords(ctx, "quotes.csv")
	require.ErrorIs(t, err, context.Canceled)
}

func TestValidateRecords(t *testing.T) {
	t.Parallel()

	incomplete := fullItem()
	delete(incomplete, "price")
	delete(incomplete, "source_file")

	tests := map[string]struct {
		items []map[string]ddbtypes.AttributeValue

		wantErr     bool
		wantInError []string
	}{
		"Complete record": {items: []map[string]ddbtypes.AttributeValue{fullItem()}},

		"No records":      {wantErr: true},
		"Missing fields":  {items: []map[string]ddbtypes.AttributeValue{incomplete}, wantErr: true, wantInError: []string{"price", "source_file"}},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			v := newVerifier(pipeline.Clients{}, 1)
			err := v.ValidateRecords(tc.items)
			if !tc.wantErr {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			for _, want := range tc.wantInError {
				assert.Contains(t, err.Error(), want, "error should report each missing field")
			}
		})
	}
}

func TestInvokeAPI(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		payload       string
		functionError *string
		invokeErr     error

		wantID    string
		wantErr   bool
		wantErrIs error
	}{
		"Created with identifier": {payload: `{"statusCode":201,"body":"{\"id\":\"q-123\"}"}`, wantID: "q-123"},

		"Invoke error":        {invokeErr: assert.AnError, wantErr: true},
		"Function error":      {payload: `{"errorMessage":"boom"}`, functionError: aws.String("Unhandled"), wantErr: true},
		"Non-created status":  {payload: `{"statusCode":200,"body":"{\"id\":\"q-123\"}"}`, wantErr: true},
		"Undecodable payload": {payload: `not-json`, wantErr: true},
		"Undecodable body":    {payload: `{"statusCode":201,"body":"not-json"}`, wantErr: true},
		"Missing identifier":  {payload: `{"statusCode":201,"body":"{}"}`, wantErr: true, wantErrIs: pipeline.ErrMissingIdentifier},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			invoker := &mockInvoker{payload: []byte(tc.payload), functionError: tc.functionError, err: tc.invokeErr}
			v := newVerifier(pipeline.Clients{Functions: invoker}, 1)

			id, err := v.InvokeAPI(context.Background(), "run-1")
			if tc.wantErr {
				require.Error(t, err)
				if tc.wantErrIs != nil {
					require.ErrorIs(t, err, tc.wantErrIs)
				}
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantID, id)
		})
	}
}

func TestNotify(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		createErr  error
		publishErr error

		wantErr bool
	}{
		"Publishes run summary": {},

		"Create topic error": {createErr: assert.AnError, wantErr: true},
		"Publish error":      {publishErr: assert.AnError, wantErr: true},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			notifier := &mockNotifier{createErr: tc.createErr, publishErr: tc.publishErr}
			v := newVerifier(pipeline.Clients{Notifier: notifier}, 1)

			err := v.Notify(context.Background(), "run-1", 4, 1)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Len(t, notifier.published, 1)
			assert.Contains(t, notifier.published[0], "run-1")
		})
	}
}

func TestRunSteps(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		missingFixture bool
		emptyScans     int

		wantStatuses map[string]report.Status
	}{
		"All steps pass": {
			wantStatuses: map[string]report.Status{
				"upload fixture":                  report.StatusPass,
				"wait for derived records":        report.StatusPass,
				"validate record shape":           report.StatusPass,
				"invoke API function":             report.StatusPass,
				"publish completion notification": report.StatusPass,
			},
		},
		"Failed upload skips table steps": {
			missingFixture: true,
			wantStatuses: map[string]report.Status{
				"upload fixture":                  report.StatusFail,
				"wait for derived records":        report.StatusSkip,
				"validate record shape":           report.StatusSkip,
				"invoke API function":             report.StatusPass,
				"publish completion notification": report.StatusPass,
			},
		},
		"Polling timeout skips validation": {
			emptyScans: 10,
			wantStatuses: map[string]report.Status{
				"upload fixture":                  report.StatusPass,
				"wait for derived records":        report.StatusFail,
				"validate record shape":           report.StatusSkip,
				"invoke API function":             report.StatusPass,
				"publish completion notification": report.StatusPass,
			},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			fixture := filepath.Join(t.TempDir(), "quotes.csv")
			if !tc.missingFixture {
				require.NoError(t, os.WriteFile(fixture, []byte("name,price\nACME Corp,101.25\n"), 0600))
			}

			clients := pipeline.Clients{
				Storage:   &mockStorage{},
				Table:     &mockScanner{emptyScans: tc.emptyScans, items: []map[string]ddbtypes.AttributeValue{fullItem()}},
				Functions: &mockInvoker{payload: []byte(`{"statusCode":201,"body":"{\"id\":\"q-123\"}"}`)},
				Notifier:  &mockNotifier{},
			}
			v := pipeline.New(clients, testResources, 2, time.Millisecond, pipeline.WithAfter(noWait))

			ledger := report.New(report.WithWriter(&bytes.Buffer{}))
			pipeline.RunSteps(v, context.Background(), "run-1", fixture, ledger)

			got := map[string]report.Status{}
			for _, s := range ledger.Steps() {
				got[s.Name] = s.Status
			}
			assert.Equal(t, tc.wantStatuses, got)
		})
	}
}
