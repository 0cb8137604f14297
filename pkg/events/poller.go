package events

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

const (
	// longPollSeconds is the receive wait when the queue is empty.
	longPollSeconds = 20

	// maxReceiveBatch is the queue's per-receive cap.
	maxReceiveBatch = 10
)

// SQSAPI is the subset of the SQS client used by the poller.
type SQSAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessageBatch(ctx context.Context, params *sqs.DeleteMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageBatchOutput, error)
}

// Message is one leased queue message. Its lease expires after the
// configured visibility timeout unless acknowledged first.
type Message struct {
	ID            string
	ReceiptHandle string
	Body          string
}

// PollerConfig tunes the queue consumer.
type PollerConfig struct {
	QueueURL string

	// MaxMessages per receive, capped at the queue's limit of 10.
	MaxMessages int

	// VisibilitySeconds is the lease duration on received messages. A
	// worker that stalls past it loses the lease and the messages are
	// redelivered elsewhere.
	VisibilitySeconds int
}

// Poller long-polls a queue for notification batches. Messages are leased
// on receive and stay redeliverable until Ack.
type Poller struct {
	client SQSAPI
	cfg    PollerConfig
}

func NewPoller(client SQSAPI, cfg PollerConfig) *Poller {
	if cfg.MaxMessages <= 0 || cfg.MaxMessages > maxReceiveBatch {
		cfg.MaxMessages = maxReceiveBatch
	}
	return &Poller{client: client, cfg: cfg}
}

// Receive long-polls once and returns the leased messages, possibly none.
func (p *Poller) Receive(ctx context.Context) ([]Message, error) {
	out, err := p.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(p.cfg.QueueURL),
		MaxNumberOfMessages: int32(p.cfg.MaxMessages),
		WaitTimeSeconds:     longPollSeconds,
		VisibilityTimeout:   int32(p.cfg.VisibilitySeconds),
	})
	if err != nil {
		return nil, fmt.Errorf("receive messages: %w", err)
	}

	msgs := make([]Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		msgs = append(msgs, Message{
			ID:            aws.ToString(m.MessageId),
			ReceiptHandle: aws.ToString(m.ReceiptHandle),
			Body:          aws.ToString(m.Body),
		})
	}
	return msgs, nil
}

// Ack deletes the messages from the queue in batches. Messages that are
// not acked are redelivered after their lease expires; the caller leaves
// failed batches unacked on purpose.
func (p *Poller) Ack(ctx context.Context, msgs []Message) error {
	for start := 0; start < len(msgs); start += maxReceiveBatch {
		end := start + maxReceiveBatch
		if end > len(msgs) {
			end = len(msgs)
		}

		entries := make([]types.DeleteMessageBatchRequestEntry, 0, end-start)
		for i, m := range msgs[start:end] {
			entries = append(entries, types.DeleteMessageBatchRequestEntry{
				Id:            aws.String(fmt.Sprintf("m%d", start+i)),
				ReceiptHandle: aws.String(m.ReceiptHandle),
			})
		}

		out, err := p.client.DeleteMessageBatch(ctx, &sqs.DeleteMessageBatchInput{
			QueueUrl: aws.String(p.cfg.QueueURL),
			Entries:  entries,
		})
		if err != nil {
			return fmt.Errorf("ack messages: %w", err)
		}
		if len(out.Failed) > 0 {
			first := out.Failed[0]
			return fmt.Errorf("ack messages: %d failed, first: %s", len(out.Failed), aws.ToString(first.Message))
		}
	}
	return nil
}
