// Package pubsub implements a Google Cloud Pub/Sub notification publisher.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"

	"magharvest/internal/notify"
)

// Publisher delivers completion notifications to a Pub/Sub topic.
type Publisher struct {
	client    *pubsub.Client
	topic     *pubsub.Topic
	closeOnce sync.Once
	closeErr  error
}

// New creates a Pub/Sub client and verifies the topic exists. It authenticates
// using Google Cloud's Application Default Credentials.
func New(ctx context.Context, projectID, topicID string) (*Publisher, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}

	topic := client.Topic(topicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("check pubsub topic %q: %w", topicID, err)
	}
	if !exists {
		_ = client.Close()
		return nil, fmt.Errorf("pubsub topic %q does not exist in project %q", topicID, projectID)
	}

	return &Publisher{client: client, topic: topic}, nil
}

// Publish marshals the completion to JSON, publishes it and waits for the
// server acknowledgement. Completions are low volume, so blocking for the
// message ID is fine here.
func (p *Publisher) Publish(ctx context.Context, c notify.Completion) (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshal completion: %w", err)
	}

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"status": c.Status,
		},
	})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish completion: %w", err)
	}
	return id, nil
}

// Close stops the topic's publish goroutines and closes the client. Both the
// notify sink and the service shutdown path call it; only the first call does
// the work.
func (p *Publisher) Close() error {
	p.closeOnce.Do(func() {
		p.topic.Stop()
		if err := p.client.Close(); err != nil {
			p.closeErr = fmt.Errorf("close pubsub client: %w", err)
		}
	})
	return p.closeErr
}
