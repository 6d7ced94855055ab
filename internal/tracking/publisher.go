package tracking

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/ignite/mail-manager/internal/pkg/logger"
)

// EventKind discriminates queued tracking work.
type EventKind string

const (
	EventOpen    EventKind = "open"
	EventClick   EventKind = "click"
	EventWebhook EventKind = "webhook"
)

// Event is one unit of queued tracking work.
type Event struct {
	Kind        EventKind       `json:"kind"`
	Hash        string          `json:"hash,omitempty"`
	Destination string          `json:"destination,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
}

// sqsSender is the subset of the SQS client the publisher uses.
type sqsSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// Publisher pushes tracking events onto the queue. Publishing is fire
// and forget: the HTTP endpoints must answer fast regardless of queue
// health.
type Publisher struct {
	client   sqsSender
	queueURL string
}

// NewPublisher builds a publisher on an existing SQS client.
func NewPublisher(client sqsSender, queueURL string) *Publisher {
	return &Publisher{client: client, queueURL: queueURL}
}

// Publish enqueues an event asynchronously.
func (p *Publisher) Publish(ctx context.Context, evt Event) {
	evt.Timestamp = time.Now().UTC()
	body, err := json.Marshal(evt)
	if err != nil {
		logger.Error("marshal tracking event failed", "kind", string(evt.Kind), "error", err.Error())
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_, err := p.client.SendMessage(ctx, &sqs.SendMessageInput{
			QueueUrl:    aws.String(p.queueURL),
			MessageBody: aws.String(string(body)),
		})
		if err != nil {
			logger.Error("publishing tracking event failed", "kind", string(evt.Kind), "error", err.Error())
		}
	}()
}
