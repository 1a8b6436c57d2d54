// internal/dlq/publisher.go
package dlq

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/rs/zerolog"
)

// SQSAPI is the subset of the SQS client the publisher uses.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// Publisher parks batch envelopes that could not even be decoded on a
// dead-letter queue for later inspection. Per-record failures never land
// here; this is for catastrophic decode errors only.
type Publisher struct {
	client   SQSAPI
	queueURL string
	log      zerolog.Logger
}

// New builds a publisher. An empty queueURL disables dead-lettering.
func New(client SQSAPI, queueURL string, log zerolog.Logger) *Publisher {
	return &Publisher{client: client, queueURL: queueURL, log: log}
}

// Publish sends the undecodable payload with the decode failure reason
// attached.
func (p *Publisher) Publish(ctx context.Context, payload, reason string) error {
	if p.queueURL == "" {
		p.log.Warn().Msg("dead-letter queue not configured, dropping undecodable envelope")
		return nil
	}

	_, err := p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(payload),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"Reason": {
				DataType:    aws.String("String"),
				StringValue: aws.String(reason),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to publish to dead-letter queue: %w", err)
	}
	return nil
}
