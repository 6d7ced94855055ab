package tracking

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/ignite/mail-manager/internal/pkg/logger"
)

// sqsReceiver is the subset of the SQS client the consumer uses.
type sqsReceiver interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// Consumer drains the tracking queue and applies the events.
type Consumer struct {
	client     sqsReceiver
	queueURL   string
	processor  *Processor
	correlator *Correlator
	done       chan struct{}
}

// NewConsumer builds a queue consumer.
func NewConsumer(client sqsReceiver, queueURL string, processor *Processor, correlator *Correlator) *Consumer {
	return &Consumer{
		client:     client,
		queueURL:   queueURL,
		processor:  processor,
		correlator: correlator,
		done:       make(chan struct{}),
	}
}

// Start begins polling in the background.
func (c *Consumer) Start(ctx context.Context) {
	logger.Info("tracking consumer started", "queue", c.queueURL)
	go c.poll(ctx)
}

// Stop ends polling.
func (c *Consumer) Stop() {
	close(c.done)
}

func (c *Consumer) poll(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		default:
		}

		out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(c.queueURL),
			MaxNumberOfMessages: 10,
			WaitTimeSeconds:     20,
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("tracking queue receive failed", "error", err.Error())
			time.Sleep(5 * time.Second)
			continue
		}

		for _, msg := range out.Messages {
			var evt Event
			if err := json.Unmarshal([]byte(*msg.Body), &evt); err != nil {
				logger.Error("dropping malformed tracking event", "error", err.Error())
				c.deleteMessage(ctx, msg.ReceiptHandle)
				continue
			}

			if err := c.Apply(ctx, evt); err != nil {
				// Leave the message for redelivery.
				logger.Error("applying tracking event failed",
					"kind", string(evt.Kind), "error", err.Error())
				continue
			}
			c.deleteMessage(ctx, msg.ReceiptHandle)
		}
	}
}

// Apply routes one event to the processor or correlator.
func (c *Consumer) Apply(ctx context.Context, evt Event) error {
	switch evt.Kind {
	case EventOpen:
		return c.processor.RecordOpen(ctx, evt.Hash)
	case EventClick:
		return c.processor.RecordClick(ctx, evt.Hash, evt.Destination)
	case EventWebhook:
		return c.correlator.Ingest(ctx, evt.Payload)
	default:
		logger.Warn("unknown tracking event kind", "kind", string(evt.Kind))
		return nil
	}
}

func (c *Consumer) deleteMessage(ctx context.Context, receipt *string) {
	_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: receipt,
	})
	if err != nil {
		logger.Error("deleting tracking queue message failed", "error", err.Error())
	}
}
