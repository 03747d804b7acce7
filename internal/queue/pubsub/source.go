// Package pubsub implements queue.Source over a Google Cloud Pub/Sub pull
// subscription using synchronous Pull, so a message is acknowledged only when
// the consumer deletes it.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"time"

	pubsubapi "cloud.google.com/go/pubsub/apiv1"
	"cloud.google.com/go/pubsub/apiv1/pubsubpb"
	"github.com/googleapis/gax-go/v2"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/JakeFAU/due-diligence-crawler/internal/queue"
)

// maxAckDeadline is the longest lease Pub/Sub accepts.
const maxAckDeadline = 600 * time.Second

type subscriberClient interface {
	Pull(ctx context.Context, req *pubsubpb.PullRequest, opts ...gax.CallOption) (*pubsubpb.PullResponse, error)
	Acknowledge(ctx context.Context, req *pubsubpb.AcknowledgeRequest, opts ...gax.CallOption) error
	ModifyAckDeadline(ctx context.Context, req *pubsubpb.ModifyAckDeadlineRequest, opts ...gax.CallOption) error
	Close() error
}

// Source pulls from one subscription.
type Source struct {
	client       subscriberClient
	subscription string
	logger       *zap.Logger
}

// SubscriptionName returns the fully qualified subscription name.
func SubscriptionName(projectID, subscriptionID string) string {
	return fmt.Sprintf("projects/%s/subscriptions/%s", projectID, subscriptionID)
}

// NewSource dials Pub/Sub with Application Default Credentials unless opts
// say otherwise.
func NewSource(ctx context.Context, projectID, subscriptionID string, logger *zap.Logger, opts ...option.ClientOption) (*Source, error) {
	if projectID == "" || subscriptionID == "" {
		return nil, errors.New("pubsub project and subscription are required")
	}
	client, err := pubsubapi.NewSubscriberClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub subscriber client: %w", err)
	}
	return newSource(client, SubscriptionName(projectID, subscriptionID), logger), nil
}

func newSource(client subscriberClient, subscription string, logger *zap.Logger) *Source {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Source{client: client, subscription: subscription, logger: logger}
}

// Receive long-polls for up to max messages. Hitting wait with nothing
// delivered is not an error.
func (s *Source) Receive(ctx context.Context, max int, wait time.Duration) ([]queue.Message, error) {
	if max <= 0 {
		max = 1
	}
	pullCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	resp, err := s.client.Pull(pullCtx, &pubsubpb.PullRequest{
		Subscription: s.subscription,
		MaxMessages:  int32(max), //nolint:gosec // bounded by configuration
	})
	if err != nil {
		if ctx.Err() == nil && isIdle(err) {
			return []queue.Message{}, nil
		}
		return nil, fmt.Errorf("pull %s: %w", s.subscription, err)
	}

	out := make([]queue.Message, 0, len(resp.GetReceivedMessages()))
	for _, rm := range resp.GetReceivedMessages() {
		out = append(out, queue.Message{
			ID:       rm.GetMessage().GetMessageId(),
			Body:     rm.GetMessage().GetData(),
			AckToken: rm.GetAckId(),
		})
	}
	return out, nil
}

func isIdle(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return status.Code(err) == codes.DeadlineExceeded
}

// Delete acknowledges a delivery.
func (s *Source) Delete(ctx context.Context, ackToken string) error {
	if err := s.client.Acknowledge(ctx, &pubsubpb.AcknowledgeRequest{
		Subscription: s.subscription,
		AckIds:       []string{ackToken},
	}); err != nil {
		return fmt.Errorf("acknowledge: %w", err)
	}
	return nil
}

// Extend pushes the delivery's ack deadline d into the future.
func (s *Source) Extend(ctx context.Context, ackToken string, d time.Duration) error {
	if d > maxAckDeadline {
		d = maxAckDeadline
	}
	if err := s.client.ModifyAckDeadline(ctx, &pubsubpb.ModifyAckDeadlineRequest{
		Subscription:       s.subscription,
		AckIds:             []string{ackToken},
		AckDeadlineSeconds: int32(d / time.Second),
	}); err != nil {
		return fmt.Errorf("modify ack deadline: %w", err)
	}
	return nil
}

// Close releases the client connection.
func (s *Source) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("failed to close pubsub subscriber client: %w", err)
	}
	return nil
}
