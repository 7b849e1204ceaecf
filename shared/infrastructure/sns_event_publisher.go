package infrastructure

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/draftea/order-system/shared/events"
	"github.com/draftea/order-system/shared/telemetry"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

var _ events.Publisher = (*SNSEventPublisher)(nil)

const maxBatchSize = 10

// SNSAPI is the part of the SNS client the publisher uses
type SNSAPI interface {
	PublishBatch(ctx context.Context, params *sns.PublishBatchInput, optFns ...func(*sns.Options)) (*sns.PublishBatchOutput, error)
}

// SNSEventPublisher publishes events to SNS. Each destination may be routed
// to its own topic; anything else goes to the default topic.
type SNSEventPublisher struct {
	client   SNSAPI
	topicArn string
	routes   map[string]string
}

// NewSNSEventPublisher creates a new SNSEventPublisher
func NewSNSEventPublisher(client SNSAPI, topicArn string, routes map[string]string) *SNSEventPublisher {
	return &SNSEventPublisher{
		client:   client,
		topicArn: topicArn,
		routes:   routes,
	}
}

// Publish publishes events to SNS
func (p *SNSEventPublisher) Publish(ctx context.Context, evts ...*events.Event) error {
	if len(evts) == 0 {
		return nil
	}

	byTopic := map[string][]*events.Event{}
	for _, event := range evts {
		arn := p.topicFor(event)
		if arn == "" {
			return errors.Errorf("no SNS topic for destination %q", event.Metadata[events.MetadataDestination])
		}
		byTopic[arn] = append(byTopic[arn], event)
	}

	gr, ctx := errgroup.WithContext(ctx)

	for arn, topicEvents := range byTopic {
		for _, eventBatch := range splitToChunks(topicEvents, maxBatchSize) {
			arn, eventBatch := arn, eventBatch
			gr.Go(func() error {
				return p.batchPublish(ctx, arn, eventBatch)
			})
		}
	}

	return gr.Wait()
}

func (p *SNSEventPublisher) topicFor(event *events.Event) string {
	if arn, ok := p.routes[event.Metadata[events.MetadataDestination]]; ok {
		return arn
	}
	return p.topicArn
}

func (p *SNSEventPublisher) batchPublish(ctx context.Context, topicArn string, events []*events.Event) error {
	requests := make([]types.PublishBatchRequestEntry, len(events))

	for i, event := range events {
		body, err := event.ToJSON()
		if err != nil {
			return errors.Wrap(err, "failed to marshal event")
		}

		requests[i] = types.PublishBatchRequestEntry{
			Id:                aws.String(event.ID.String()),
			Message:           aws.String(string(body)),
			MessageAttributes: messageAttributes(event),
		}
	}

	res, err := p.client.PublishBatch(
		ctx,
		&sns.PublishBatchInput{
			TopicArn:                   &topicArn,
			PublishBatchRequestEntries: requests,
		},
	)
	if err != nil {
		return errors.Wrap(err, "failed to publish batch to SNS")
	}

	telemetry.RecordCounter(ctx, "sns_messages_published_total", "Messages accepted by SNS", int64(len(res.Successful)),
		attribute.String("topic", topicArn),
	)

	if len(res.Failed) > 0 {
		failed := make([]string, 0, len(res.Failed))
		for _, entry := range res.Failed {
			failed = append(failed, aws.ToString(entry.Id)+": "+aws.ToString(entry.Message))
		}
		telemetry.RecordCounter(ctx, "sns_messages_failed_total", "Messages rejected by SNS", int64(len(res.Failed)),
			attribute.String("topic", topicArn),
		)
		return errors.Errorf("SNS rejected %d of %d messages: %s", len(res.Failed), len(events), strings.Join(failed, "; "))
	}

	return nil
}

// messageAttributes exposes routing metadata for subscription filter policies
func messageAttributes(event *events.Event) map[string]types.MessageAttributeValue {
	attrs := map[string]types.MessageAttributeValue{
		"topic": {
			DataType:    aws.String("String"),
			StringValue: aws.String(string(event.Topic)),
		},
		events.MetadataEventType: {
			DataType:    aws.String("String"),
			StringValue: aws.String(event.EventType),
		},
	}

	if !event.CorrelationID.IsEmpty() {
		attrs[events.MetadataCorrelationID] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(event.CorrelationID.String()),
		}
	}

	for k, v := range event.Metadata {
		if k == SQSMessageIDKey || k == SQSReceiptHandleKey || k == SQSReceiveCountKey || v == "" {
			continue
		}

		attrs[k] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(v),
		}
	}

	return attrs
}

// splitToChunks splits slice into chunks of specified size
func splitToChunks[T any](slice []T, chunkSize int) [][]T {
	var chunks [][]T
	for i := 0; i < len(slice); i += chunkSize {
		end := i + chunkSize
		if end > len(slice) {
			end = len(slice)
		}
		chunks = append(chunks, slice[i:end])
	}
	return chunks
}
