package invalidation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/rs/zerolog"
)

// PubsubListenerConfig holds the subscription settings for a PubsubListener.
type PubsubListenerConfig struct {
	ProjectID              string
	SubscriptionID         string
	CredentialsFile        string // Optional
	MaxOutstandingMessages int
	NumGoroutines          int
}

// LoadDefaultPubsubListenerConfig returns a config for subID with the default receive settings.
func LoadDefaultPubsubListenerConfig(subID string) *PubsubListenerConfig {
	return &PubsubListenerConfig{
		SubscriptionID:         subID,
		MaxOutstandingMessages: 100,
		NumGoroutines:          1,
	}
}

// ErrListenerStopped is returned by Start after Stop has been called.
var ErrListenerStopped = errors.New("invalidation: listener already stopped")

// PubsubListener receives invalidation instructions from a Pub/Sub subscription
// and applies them to an Invalidator.
type PubsubListener struct {
	subscription *pubsub.Subscription
	target       Invalidator
	logger       zerolog.Logger

	mu                 sync.Mutex
	started, stopped   bool
	stopOnce           sync.Once
	cancelSubscription context.CancelFunc
	doneChan           chan struct{}
}

// NewPubsubListener checks that the subscription exists and prepares a listener.
func NewPubsubListener(ctx context.Context, cfg *PubsubListenerConfig, client *pubsub.Client, target Invalidator, logger zerolog.Logger) (*PubsubListener, error) {
	if client == nil {
		return nil, errors.New("pubsub client cannot be nil")
	}
	if target == nil {
		return nil, errors.New("invalidation target cannot be nil")
	}
	sub := client.Subscription(cfg.SubscriptionID)

	existsCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()
	exists, err := sub.Exists(existsCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to check subscription %s: %w", cfg.SubscriptionID, err)
	}
	if !exists {
		return nil, fmt.Errorf("subscription %s does not exist", cfg.SubscriptionID)
	}

	if cfg.MaxOutstandingMessages > 0 {
		sub.ReceiveSettings.MaxOutstandingMessages = cfg.MaxOutstandingMessages
	}
	if cfg.NumGoroutines > 0 {
		sub.ReceiveSettings.NumGoroutines = cfg.NumGoroutines
	}

	return &PubsubListener{
		subscription: sub,
		target:       target,
		logger:       logger.With().Str("component", "PubsubInvalidationListener").Str("subscription_id", cfg.SubscriptionID).Logger(),
		doneChan:     make(chan struct{}),
	}, nil
}

// Start begins receiving in the background. It returns immediately. A listener
// can be started once, and not after Stop.
func (l *PubsubListener) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return ErrListenerStopped
	}
	if l.started {
		return errors.New("invalidation: listener already started")
	}
	l.started = true

	receiveCtx, cancel := context.WithCancel(ctx)
	l.cancelSubscription = cancel

	go func() {
		defer close(l.doneChan)
		defer l.logger.Info().Msg("Invalidation listener stopped.")

		l.logger.Info().Msg("Invalidation listener started.")
		err := l.subscription.Receive(receiveCtx, l.handle)
		if err != nil && !errors.Is(err, context.Canceled) {
			l.logger.Error().Err(err).Msg("Pub/Sub Receive call exited with error")
		}
	}()
	return nil
}

// handle applies a single message. Malformed messages are acked so they are not
// redelivered forever.
func (l *PubsubListener) handle(_ context.Context, msg *pubsub.Message) {
	defer msg.Ack()

	in, err := Decode(msg.Data, msg.Attributes)
	if err != nil {
		l.logger.Warn().Err(err).Str("msg_id", msg.ID).Msg("Discarding malformed invalidation message.")
		return
	}
	in.Apply(l.target)
	l.logger.Debug().Str("msg_id", msg.ID).Str("key", in.Key).Bool("all", in.All).Msg("Applied invalidation.")
}

// Stop cancels the subscription and waits for the receive loop to exit or ctx to expire.
func (l *PubsubListener) Stop(ctx context.Context) error {
	var err error
	l.stopOnce.Do(func() {
		l.logger.Info().Msg("Stopping invalidation listener...")
		l.mu.Lock()
		l.stopped = true
		started, cancel := l.started, l.cancelSubscription
		l.mu.Unlock()

		if !started {
			close(l.doneChan)
			return
		}
		cancel()
		select {
		case <-l.doneChan:
		case <-ctx.Done():
			err = fmt.Errorf("timeout waiting for invalidation listener to stop: %w", ctx.Err())
		}
	})
	return err
}

// Done is closed once the receive loop has exited.
func (l *PubsubListener) Done() <-chan struct{} { return l.doneChan }
