// Package emulator builds AWS service clients pointed at a local cloud-service
// emulator and provides the readiness probes used before exercising the pipeline.
package emulator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/smithy-go"

	"github.com/feedpipe/feedpipe/internal/constants"
)

// ErrUnreachable is returned when the emulator health endpoint cannot be queried.
var ErrUnreachable = errors.New("emulator is unreachable")

// Config holds the connection parameters for the emulator.
type Config struct {
	Endpoint string
	Region   string
}

// NewConfig returns an emulator configuration from the environment, falling
// back to the defaults. AWS_ENDPOINT_URL and AWS_REGION take precedence, which
// matches how the official SDKs resolve a local endpoint.
func NewConfig() Config {
	c := Config{
		Endpoint: constants.DefaultEndpoint,
		Region:   constants.DefaultRegion,
	}
	if v := os.Getenv("AWS_ENDPOINT_URL"); v != "" {
		c.Endpoint = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		c.Region = v
	}
	return c
}

// Clients builds the AWS service clients from a single shared configuration.
type Clients struct {
	cfg      aws.Config
	endpoint string

	httpClient *http.Client
}

type options struct {
	httpClient *http.Client
}

// Options represents an optional function to override Clients default values.
type Options func(*options)

// WithHTTPClient overrides the HTTP client used for the health probe.
func WithHTTPClient(client *http.Client) Options {
	return func(o *options) {
		o.httpClient = client
	}
}

// New loads the AWS configuration with static test credentials and returns a
// client factory bound to the emulator endpoint.
func New(ctx context.Context, c Config, args ...Options) (*Clients, error) {
	opts := options{
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
	for _, opt := range args {
		opt(&opts)
	}

	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(c.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("test", "test", "")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &Clients{
		cfg:        cfg,
		endpoint:   strings.TrimRight(c.Endpoint, "/"),
		httpClient: opts.httpClient,
	}, nil
}

// Endpoint returns the emulator endpoint the clients are bound to.
func (c *Clients) Endpoint() string {
	return c.endpoint
}

// S3 returns an object storage client using path-style addressing, which the
// emulator requires for bucket subdomains to resolve.
func (c *Clients) S3() *s3.Client {
	return s3.NewFromConfig(c.cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(c.endpoint)
		o.UsePathStyle = true
	})
}

// DynamoDB returns a managed table client.
func (c *Clients) DynamoDB() *dynamodb.Client {
	return dynamodb.NewFromConfig(c.cfg, func(o *dynamodb.Options) {
		o.BaseEndpoint = aws.String(c.endpoint)
	})
}

// Lambda returns a function invocation client.
func (c *Clients) Lambda() *lambda.Client {
	return lambda.NewFromConfig(c.cfg, func(o *lambda.Options) {
		o.BaseEndpoint = aws.String(c.endpoint)
	})
}

// SNS returns a pub/sub client.
func (c *Clients) SNS() *sns.Client {
	return sns.NewFromConfig(c.cfg, func(o *sns.Options) {
		o.BaseEndpoint = aws.String(c.endpoint)
	})
}

// Health queries the emulator health endpoint.
// Returns ErrUnreachable if the endpoint cannot be reached or answers with a
// non-200 status.
func (c *Clients) Health(ctx context.Context) error {
	url := c.endpoint + "/_localstack/health"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create health request: %v", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: health endpoint returned status %d", ErrUnreachable, resp.StatusCode)
	}

	var health struct {
		Services map[string]string `json:"services"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		// A reachable emulator with an undecodable health payload is still up.
		slog.Debug("Could not decode emulator health payload", "error", err)
		return nil
	}

	slog.Debug("Emulator is reachable", "services", len(health.Services))
	return nil
}

// BucketExists reports whether the bucket is present on the emulator.
// A missing bucket is not an error; transport failures are.
func (c *Clients) BucketExists(ctx context.Context, name string) (bool, error) {
	_, err := c.S3().HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(name)})
	if err != nil {
		var notFound *s3types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		// HeadBucket reports absence as a bare 404 on some emulator versions.
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "NotFound" {
			return false, nil
		}
		return false, fmt.Errorf("failed to check bucket %s: %v", name, err)
	}
	return true, nil
}

// TableExists reports whether the managed table is present on the emulator.
// A missing table is not an error; transport failures are.
func (c *Clients) TableExists(ctx context.Context, name string) (bool, error) {
	_, err := c.DynamoDB().DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(name)})
	if err != nil {
		var notFound *ddbtypes.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check table %s: %v", name, err)
	}
	return true, nil
}
