// Package pubsub streams discovery records to a Google Cloud Pub/Sub topic.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/JakeFAU/followcrawl/internal/crawler"
)

// Writer publishes each discovery record as a JSON message and waits for the
// server to acknowledge it, so a failed publish is reported for its record.
type Writer struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	logger *zap.Logger
}

// Connect dials Pub/Sub and returns a Writer that owns its client.
func Connect(ctx context.Context, projectID, topicID string, logger *zap.Logger, opts ...option.ClientOption) (*Writer, error) {
	if projectID == "" || topicID == "" {
		return nil, errors.New("pubsub project id and topic are required")
	}
	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	topic := client.Topic(topicID)
	// Records arrive one at a time from the sink; don't hold them for a batch.
	topic.PublishSettings.CountThreshold = 1
	w, err := New(topic, logger)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	w.client = client
	return w, nil
}

// New wraps an existing topic. The caller keeps ownership of the client.
func New(topic *pubsub.Topic, logger *zap.Logger) (*Writer, error) {
	if topic == nil {
		return nil, errors.New("pubsub topic is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{topic: topic, logger: logger}, nil
}

// WriteRecord publishes record and blocks until it is acknowledged.
func (w *Writer) WriteRecord(ctx context.Context, record crawler.DiscoveryRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	msg := &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"run_id":   record.RunID,
			"username": string(record.Username),
			"depth":    strconv.Itoa(record.Depth),
		},
	}
	id, err := w.topic.Publish(ctx, msg).Get(ctx)
	if err != nil {
		return fmt.Errorf("publish %s: %w", record.Username, err)
	}
	w.logger.Debug("record published", zap.String("username", string(record.Username)), zap.String("message_id", id))
	return nil
}

// Close stops the topic and, when the Writer owns it, the client.
func (w *Writer) Close(context.Context) error {
	w.topic.Stop()
	if w.client != nil {
		if err := w.client.Close(); err != nil {
			return fmt.Errorf("close pubsub client: %w", err)
		}
	}
	return nil
}
