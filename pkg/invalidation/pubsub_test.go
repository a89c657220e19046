package invalidation_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/illmade-knight/go-querycache/pkg/invalidation"
	"github.com/illmade-knight/go-querycache/pkg/query"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// setupTestPubsub creates an in-memory Pub/Sub server with a topic and subscription.
func setupTestPubsub(t *testing.T, projectID, topicID, subID string) (*pubsub.Client, *pubsub.Topic) {
	t.Helper()
	ctx := context.Background()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(ctx, projectID, option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	topic, err := client.CreateTopic(ctx, topicID)
	require.NoError(t, err)
	t.Cleanup(topic.Stop)

	_, err = client.CreateSubscription(ctx, subID, pubsub.SubscriptionConfig{Topic: topic})
	require.NoError(t, err)

	return client, topic
}

func publish(t *testing.T, ctx context.Context, topic *pubsub.Topic, msg *pubsub.Message) {
	t.Helper()
	_, err := topic.Publish(ctx, msg).Get(ctx)
	require.NoError(t, err)
}

func TestPubsubListener_AppliesInstructions(t *testing.T) {
	// Arrange
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	suffix := fmt.Sprintf("%d", time.Now().UnixNano())
	client, topic := setupTestPubsub(t, "proj-"+suffix, "topic-"+suffix, "sub-"+suffix)

	inv := &recordingInvalidator{}
	cfg := invalidation.LoadDefaultPubsubListenerConfig("sub-" + suffix)
	listener, err := invalidation.NewPubsubListener(ctx, cfg, client, inv, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, listener.Start(ctx))
	t.Cleanup(func() { _ = listener.Stop(context.Background()) })

	// Act
	publish(t, ctx, topic, &pubsub.Message{Data: []byte(`{"key":"user:1"}`)})
	publish(t, ctx, topic, &pubsub.Message{Attributes: map[string]string{"key": "user:2"}})
	publish(t, ctx, topic, &pubsub.Message{Data: []byte(`not json`)})
	publish(t, ctx, topic, &pubsub.Message{Data: []byte(`{"all":true}`)})

	// Assert
	require.Eventually(t, func() bool {
		keys, all := inv.calls()
		return len(keys) == 2 && all == 1
	}, 5*time.Second, 20*time.Millisecond)
	keys, _ := inv.calls()
	assert.ElementsMatch(t, []string{"user:1", "user:2"}, keys)
}

func TestPubsubListener_InvalidatesQueryCache(t *testing.T) {
	// Arrange
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	suffix := fmt.Sprintf("%d", time.Now().UnixNano())
	client, topic := setupTestPubsub(t, "proj-"+suffix, "topic-"+suffix, "sub-"+suffix)

	c := query.New()
	_, err := query.Fetch(ctx, c, "report", func(context.Context) (string, error) { return "v1", nil })
	require.NoError(t, err)
	require.Equal(t, 1, c.Len())

	listener, err := invalidation.NewPubsubListener(ctx, invalidation.LoadDefaultPubsubListenerConfig("sub-"+suffix), client, c, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, listener.Start(ctx))

	// Act
	publish(t, ctx, topic, &pubsub.Message{Data: []byte(`{"key":"report"}`)})

	// Assert
	require.Eventually(t, func() bool { return c.Len() == 0 }, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, listener.Stop(ctx))
	select {
	case <-listener.Done():
	default:
		t.Fatal("listener should be done after Stop")
	}
}

func TestNewPubsubListener_Validation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	suffix := fmt.Sprintf("%d", time.Now().UnixNano())
	client, _ := setupTestPubsub(t, "proj-"+suffix, "topic-"+suffix, "sub-"+suffix)

	t.Run("Missing subscription", func(t *testing.T) {
		_, err := invalidation.NewPubsubListener(ctx, invalidation.LoadDefaultPubsubListenerConfig("nope"), client, &recordingInvalidator{}, zerolog.Nop())
		assert.Error(t, err)
	})

	t.Run("Nil target", func(t *testing.T) {
		_, err := invalidation.NewPubsubListener(ctx, invalidation.LoadDefaultPubsubListenerConfig("sub-"+suffix), client, nil, zerolog.Nop())
		assert.Error(t, err)
	})

	t.Run("Stop before Start", func(t *testing.T) {
		l, err := invalidation.NewPubsubListener(ctx, invalidation.LoadDefaultPubsubListenerConfig("sub-"+suffix), client, &recordingInvalidator{}, zerolog.Nop())
		require.NoError(t, err)
		assert.NoError(t, l.Stop(ctx))
		<-l.Done()

		assert.ErrorIs(t, l.Start(ctx), invalidation.ErrListenerStopped)
		assert.NoError(t, l.Stop(ctx), "Stop is idempotent")
	})

	t.Run("Start twice", func(t *testing.T) {
		l, err := invalidation.NewPubsubListener(ctx, invalidation.LoadDefaultPubsubListenerConfig("sub-"+suffix), client, &recordingInvalidator{}, zerolog.Nop())
		require.NoError(t, err)
		require.NoError(t, l.Start(ctx))
		t.Cleanup(func() { _ = l.Stop(context.Background()) })

		assert.Error(t, l.Start(ctx))
	})
}
