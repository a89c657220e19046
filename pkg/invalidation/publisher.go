package invalidation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/rs/zerolog"
)

// PubsubPublisherConfig holds the topic settings for a PubsubPublisher.
type PubsubPublisherConfig struct {
	TopicID                    string
	TopicExistsTimeout         time.Duration
	PublishConfirmationTimeout time.Duration
}

// NewPubsubPublisherDefaults returns a config for topicID with default timeouts.
func NewPubsubPublisherDefaults(topicID string) *PubsubPublisherConfig {
	return &PubsubPublisherConfig{
		TopicID:                    topicID,
		TopicExistsTimeout:         15 * time.Second,
		PublishConfirmationTimeout: 20 * time.Second,
	}
}

// PubsubPublisher broadcasts invalidation instructions to a topic so that
// every listener subscribed to it applies them.
type PubsubPublisher struct {
	topic          *pubsub.Topic
	logger         zerolog.Logger
	confirmTimeout time.Duration
}

// NewPubsubPublisher checks that the topic exists and returns a publisher for it.
func NewPubsubPublisher(ctx context.Context, cfg *PubsubPublisherConfig, client *pubsub.Client, logger zerolog.Logger) (*PubsubPublisher, error) {
	if client == nil {
		return nil, errors.New("pubsub client cannot be nil for publisher")
	}
	topic := client.Topic(cfg.TopicID)
	// Instructions are rare and must go out promptly.
	topic.PublishSettings.CountThreshold = 1

	existsCtx, cancel := context.WithTimeout(ctx, cfg.TopicExistsTimeout)
	defer cancel()
	exists, err := topic.Exists(existsCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to check for topic %s: %w", cfg.TopicID, err)
	}
	if !exists {
		return nil, fmt.Errorf("pubsub topic %s does not exist", cfg.TopicID)
	}

	return &PubsubPublisher{
		topic:          topic,
		logger:         logger.With().Str("component", "PubsubInvalidationPublisher").Str("topic_id", cfg.TopicID).Logger(),
		confirmTimeout: cfg.PublishConfirmationTimeout,
	}, nil
}

// Publish sends in and waits for the server to confirm it, returning the message ID.
func (p *PubsubPublisher) Publish(ctx context.Context, in Instruction) (string, error) {
	if !in.All && in.Key == "" {
		return "", ErrEmptyInstruction
	}
	payload, err := json.Marshal(in)
	if err != nil {
		return "", fmt.Errorf("failed to marshal invalidation instruction: %w", err)
	}

	res := p.topic.Publish(ctx, &pubsub.Message{Data: payload})

	getCtx, cancel := context.WithTimeout(ctx, p.confirmTimeout)
	defer cancel()
	id, err := res.Get(getCtx)
	if err != nil {
		p.logger.Error().Err(err).Str("key", in.Key).Bool("all", in.All).Msg("Failed to publish invalidation.")
		return "", fmt.Errorf("failed to publish invalidation: %w", err)
	}
	p.logger.Debug().Str("msg_id", id).Str("key", in.Key).Bool("all", in.All).Msg("Published invalidation.")
	return id, nil
}

// Stop flushes pending messages and releases the topic's goroutines.
func (p *PubsubPublisher) Stop() {
	p.topic.Stop()
}
