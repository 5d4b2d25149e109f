// Package notify wraps the publish side of the pub/sub service.
// Each wrapper is independent; there is no state shared between calls beyond
// the service client itself.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
)

// ErrEmptyMessage is returned when an empty message body is passed to Publish.
var ErrEmptyMessage = errors.New("message cannot be empty")

// Client is the minimal interface for the pub/sub client required by the
// notifier. These functions are already implemented by the AWS SDK, but we
// define our own type to allow us to mock the client in tests.
type Client interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
	CreateTopic(ctx context.Context, params *sns.CreateTopicInput, optFns ...func(*sns.Options)) (*sns.CreateTopicOutput, error)
	Subscribe(ctx context.Context, params *sns.SubscribeInput, optFns ...func(*sns.Options)) (*sns.SubscribeOutput, error)
	ListTopics(ctx context.Context, params *sns.ListTopicsInput, optFns ...func(*sns.Options)) (*sns.ListTopicsOutput, error)
}

// Notifier publishes pipeline notifications to a pub/sub topic.
type Notifier struct {
	client Client
}

// New returns a notifier using the provided pub/sub client.
func New(client Client) Notifier {
	return Notifier{client: client}
}

// TopicARN builds the emulator topic ARN for a topic name in the given region.
// FEEDPIPE_TOPIC_ARN overrides the constructed value entirely.
func TopicARN(region, name string) string {
	if v := os.Getenv("FEEDPIPE_TOPIC_ARN"); v != "" {
		return v
	}
	// 000000000000 is the emulator's default account ID.
	return fmt.Sprintf("arn:aws:sns:%s:000000000000:%s", region, name)
}

// Publish sends a message to the topic and returns the message ID.
func (n Notifier) Publish(ctx context.Context, topicARN, subject, message string) (string, error) {
	if message == "" {
		return "", ErrEmptyMessage
	}

	out, err := n.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(topicARN),
		Subject:  aws.String(subject),
		Message:  aws.String(message),
	})
	if err != nil {
		return "", fmt.Errorf("failed to publish to %s: %v", topicARN, err)
	}

	slog.Debug("Published notification", "topic", topicARN, "messageID", aws.ToString(out.MessageId))
	return aws.ToString(out.MessageId), nil
}

// CreateTopic creates the topic if it does not exist and returns its ARN.
// The call is idempotent on the service side.
func (n Notifier) CreateTopic(ctx context.Context, name string) (string, error) {
	out, err := n.client.CreateTopic(ctx, &sns.CreateTopicInput{Name: aws.String(name)})
	if err != nil {
		return "", fmt.Errorf("failed to create topic %s: %v", name, err)
	}
	return aws.ToString(out.TopicArn), nil
}

// Subscribe subscribes an endpoint to the topic and returns the subscription ARN.
func (n Notifier) Subscribe(ctx context.Context, topicARN, protocol, endpoint string) (string, error) {
	out, err := n.client.Subscribe(ctx, &sns.SubscribeInput{
		TopicArn: aws.String(topicARN),
		Protocol: aws.String(protocol),
		Endpoint: aws.String(endpoint),
	})
	if err != nil {
		return "", fmt.Errorf("failed to subscribe %s to %s: %v", endpoint, topicARN, err)
	}
	return aws.ToString(out.SubscriptionArn), nil
}

// ListTopics returns the ARNs of every topic on the service, following
// pagination to the end.
func (n Notifier) ListTopics(ctx context.Context) ([]string, error) {
	var arns []string
	var nextToken *string
	for {
		out, err := n.client.ListTopics(ctx, &sns.ListTopicsInput{NextToken: nextToken})
		if err != nil {
			return nil, fmt.Errorf("failed to list topics: %v", err)
		}
		for _, t := range out.Topics {
			arns = append(arns, aws.ToString(t.TopicArn))
		}
		if out.NextToken == nil {
			return arns, nil
		}
		nextToken = out.NextToken
	}
}
