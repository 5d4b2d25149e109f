// Package pipeline implements the end-to-end verification of the serverless
// quote pipeline: upload a fixture, wait for derived records to appear in the
// managed table, check their shape, and exercise the API function.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/ubuntu/decorate"

	"github.com/feedpipe/feedpipe/internal/stack"
)

var (
	// ErrPollTimeout is returned when no derived records appear within the polling budget.
	ErrPollTimeout = errors.New("no derived records appeared within the polling budget")
	// ErrMissingIdentifier is returned when the API response body carries no identifier.
	ErrMissingIdentifier = errors.New("API response body contains no identifier")
)

// ObjectPutter is the minimal object storage interface required by the verifier.
// It is implemented by the AWS SDK S3 client; we define our own type to allow
// mocking in tests.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// TableScanner is the minimal managed table interface required by the verifier.
type TableScanner interface {
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// FunctionInvoker is the minimal function invocation interface required by the verifier.
type FunctionInvoker interface {
	Invoke(ctx context.Context, params *lambda.InvokeInput, optFns ...func(*lambda.Options)) (*lambda.InvokeOutput, error)
}

// Notifier publishes the run completion notification.
type Notifier interface {
	CreateTopic(ctx context.Context, name string) (string, error)
	Publish(ctx context.Context, topicARN, subject, message string) (string, error)
}

// Clients groups the service clients the verifier drives.
type Clients struct {
	Storage   ObjectPutter
	Table     TableScanner
	Functions FunctionInvoker
	Notifier  Notifier
}

// Verifier runs the pipeline verification steps sequentially. Every external
// call is awaited before the next step begins.
type Verifier struct {
	clients   Clients
	resources stack.Resources

	attempts int
	interval time.Duration

	after func(time.Duration) <-chan time.Time
}

type options struct {
	// Private member exported for tests.
	after func(time.Duration) <-chan time.Time
}

// Options represents an optional function to override Verifier default values.
type Options func(*options)

// New returns a verifier for the given resources with a fixed polling budget.
func New(clients Clients, resources stack.Resources, attempts int, interval time.Duration, args ...Options) *Verifier {
	opts := options{
		after: time.After,
	}
	for _, opt := range args {
		opt(&opts)
	}

	return &Verifier{
		clients:   clients,
		resources: resources,
		attempts:  attempts,
		interval:  interval,
		after:     opts.after,
	}
}

// UploadFixture uploads the fixture file to the incoming bucket, keyed by its
// base name, and returns the object key.
func (v *Verifier) UploadFixture(ctx context.Context, path string) (key string, err error) {
	defer decorate.OnError(&err, "fixture upload failed")

	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	key = filepath.Base(path)
	_, err = v.clients.Storage.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(v.resources.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("text/csv"),
	})
	if err != nil {
		return "", err
	}

	slog.Info("Uploaded fixture", "bucket", v.resources.Bucket, "key", key, "bytes", len(data))
	return key, nil
}

// WaitForRecords polls the managed table with scan-style reads filtered on the
// source file tag until a non-empty record set appears. Fixed interval between
// attempts, no backoff. Returns ErrPollTimeout once the attempt budget is
// exhausted.
func (v *Verifier) WaitForRecords(ctx context.Context, sourceFile string) ([]map[string]ddbtypes.AttributeValue, error) {
	for attempt := 1; attempt <= v.attempts; attempt++ {
		out, err := v.clients.Table.Scan(ctx, &dynamodb.ScanInput{
			TableName:        aws.String(v.resources.Table),
			FilterExpression: aws.String("source_file = :sf"),
			ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
				":sf": &ddbtypes.AttributeValueMemberS{Value: sourceFile},
			},
		})
		if err != nil {
			return nil, fmt.Errorf("table scan failed: %v", err)
		}
		if len(out.Items) > 0 {
			slog.Info("Derived records appeared", "count", len(out.Items), "attempt", attempt)
			return out.Items, nil
		}

		slog.Debug("No derived records yet", "attempt", attempt, "attempts", v.attempts)
		if attempt == v.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-v.after(v.interval):
		}
	}

	return nil, fmt.Errorf("%w: %d attempts every %s", ErrPollTimeout, v.attempts, v.interval)
}

// ValidateRecords checks the first derived record carries every required
// field. Missing fields are reported through the returned error; the caller
// decides whether that is fatal.
func (v *Verifier) ValidateRecords(items []map[string]ddbtypes.AttributeValue) error {
	if len(items) == 0 {
		return errors.New("no records to validate")
	}

	if missing := MissingFields(items[0]); len(missing) > 0 {
		return fmt.Errorf("record is missing fields: %v", missing)
	}

	records, err := DecodeRecords(items[:1])
	if err != nil {
		return err
	}
	slog.Debug("Validated record", "id", records[0].ID, "name", records[0].Name, "price", records[0].Price)
	return nil
}

// apiGatewayRequest mirrors the proxy integration event shape the API function
// is deployed behind.
type apiGatewayRequest struct {
	Path       string            `json:"path"`
	HTTPMethod string            `json:"httpMethod"`
	Headers    map[string]string `json:"headers"`
	Body       string            `json:"body"`
}

type apiGatewayResponse struct {
	StatusCode int    `json:"statusCode"`
	Body       string `json:"body"`
}

// InvokeAPI synchronously invokes the API function with a quote creation
// payload and returns the identifier of the created quote. The response must
// indicate creation and carry a non-empty identifier.
func (v *Verifier) InvokeAPI(ctx context.Context, runID string) (id string, err error) {
	defer decorate.OnError(&err, "API invocation failed")

	body, err := json.Marshal(map[string]any{
		"name":   "ACME Corp",
		"price":  101.25,
		"source": "verify-" + runID,
	})
	if err != nil {
		return "", err
	}

	payload, err := json.Marshal(apiGatewayRequest{
		Path:       "/quotes",
		HTTPMethod: http.MethodPost,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(body),
	})
	if err != nil {
		return "", err
	}

	out, err := v.clients.Functions.Invoke(ctx, &lambda.InvokeInput{
		FunctionName: aws.String(v.resources.APIFunction),
		Payload:      payload,
	})
	if err != nil {
		return "", err
	}
	if out.FunctionError != nil {
		return "", fmt.Errorf("function error %s: %s", aws.ToString(out.FunctionError), out.Payload)
	}

	var resp apiGatewayResponse
	if err := json.Unmarshal(out.Payload, &resp); err != nil {
		return "", fmt.Errorf("undecodable response payload: %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("expected status %d, got %d", http.StatusCreated, resp.StatusCode)
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal([]byte(resp.Body), &created); err != nil {
		return "", fmt.Errorf("undecodable response body: %v", err)
	}
	if created.ID == "" {
		return "", ErrMissingIdentifier
	}

	slog.Info("API created quote", "id", created.ID)
	return created.ID, nil
}

// Notify publishes the run completion message to the notification topic,
// creating the topic first so a fresh emulator does not fail the step.
func (v *Verifier) Notify(ctx context.Context, runID string, passed, failed int) (err error) {
	defer decorate.OnError(&err, "completion notification failed")

	arn, err := v.clients.Notifier.CreateTopic(ctx, v.resources.Topic)
	if err != nil {
		return err
	}

	message, err := json.Marshal(map[string]any{
		"run_id":      runID,
		"passed":      passed,
		"failed":      failed,
		"finished_at": time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}

	_, err = v.clients.Notifier.Publish(ctx, arn, "feedpipe verification finished", string(message))
	return err
}
