// Package bus wraps Cloud Pub/Sub to decouple the ingestion pipeline
// and the recall evaluator's background runs from the HTTP requests
// that trigger them. A doc.upload message currently drives all three
// ingestion stages (parse, split, vectorize) inside one worker call —
// doc.parsed and doc.chunks are declared as the seam for splitting a
// stage onto its own consumer later, but nothing publishes or consumes
// them yet (see DESIGN.md, "Ingestion pipeline staging").
package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
)

const (
	TopicDocUpload  = "doc.upload"
	TopicDocParsed  = "doc.parsed"
	TopicDocChunks  = "doc.chunks"
	TopicRecallTest = "recall.test"
)

// Bus publishes and subscribes to the topics above, all on one
// Pub/Sub client. Topics and their pull subscriptions are provisioned
// out of band (terraform/gcloud); Bus assumes they already exist.
type Bus struct {
	client *pubsub.Client
}

func New(ctx context.Context, projectID string) (*Bus, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("bus.New: %w", err)
	}
	return &Bus{client: client}, nil
}

func (b *Bus) Close() error {
	return b.client.Close()
}

// Publish JSON-encodes payload and publishes it to topic, blocking
// until the broker acknowledges receipt.
func (b *Bus) Publish(ctx context.Context, topic string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("bus.Publish: marshal: %w", err)
	}
	result := b.client.Topic(topic).Publish(ctx, &pubsub.Message{Data: data})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("bus.Publish: %s: %w", topic, err)
	}
	return nil
}

// Handler processes one decoded message. Returning an error nacks the
// message so Pub/Sub redelivers it.
type Handler func(ctx context.Context, data []byte) error

// Subscribe pulls from subscriptionID until ctx is canceled, acking on
// success and nacking (for redelivery) on error. Blocks the calling
// goroutine — callers run one Subscribe per worker goroutine per topic.
func (b *Bus) Subscribe(ctx context.Context, subscriptionID string, handle Handler) error {
	sub := b.client.Subscription(subscriptionID)
	err := sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if err := handle(ctx, msg.Data); err != nil {
			msg.Nack()
			return
		}
		msg.Ack()
	})
	if err != nil {
		return fmt.Errorf("bus.Subscribe: %s: %w", subscriptionID, err)
	}
	return nil
}

// DocUploadMessage is published when a document's bytes have landed in
// storage and parsing should begin. DocumentID alone identifies the
// work; the rest rides along so a consumer can log and route without a
// row lookup.
type DocUploadMessage struct {
	DocumentID  string `json:"document_id"`
	FilePath    string `json:"file_path,omitempty"`
	FileName    string `json:"file_name,omitempty"`
	KnowledgeID string `json:"knowledge_id,omitempty"`
}

// RecallQuery is one evaluation query in a recall.test message.
type RecallQuery struct {
	Query          string   `json:"query"`
	ExpectedDocIDs []string `json:"expected_doc_ids,omitempty"`
}

// RecallTestMessage is published when a recall evaluation run has been
// enqueued and should start.
type RecallTestMessage struct {
	TaskID       string        `json:"task_id"`
	Queries      []RecallQuery `json:"queries"`
	TopN         int           `json:"topN"`
	Threshold    float64       `json:"threshold"`
	KnowledgeIDs []string      `json:"knowledge_ids"`
	RobotID      *string       `json:"robot_id,omitempty"`
	UserID       string        `json:"user_id"`
}

// DecodeDocUpload decodes a doc.upload message payload.
func DecodeDocUpload(data []byte) (DocUploadMessage, error) {
	var msg DocUploadMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return DocUploadMessage{}, fmt.Errorf("bus.DecodeDocUpload: %w", err)
	}
	return msg, nil
}

// DecodeRecallTest decodes a recall.test message payload.
func DecodeRecallTest(data []byte) (RecallTestMessage, error) {
	var msg RecallTestMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return RecallTestMessage{}, fmt.Errorf("bus.DecodeRecallTest: %w", err)
	}
	return msg, nil
}
