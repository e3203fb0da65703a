package pubsub

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageMapping(t *testing.T) {
	in := Message{
		Topic:    "notify.push",
		UserID:   "user:1",
		Payload:  []byte(`{"title":"hi"}`),
		Metadata: map[string]string{"request_id": "req-1", metaKeyTopic: "spoofed"},
	}

	out := mapToPubSubMessage(mapToWatermillMessage(context.Background(), in))

	assert.Equal(t, "notify.push", out.Topic)
	assert.Equal(t, "user:1", out.UserID)
	assert.Equal(t, in.Payload, out.Payload)
	assert.Equal(t, map[string]string{"request_id": "req-1"}, out.Metadata)
}

func TestWatermillBridge_FanOutToAllSubscribers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bridge := NewWatermillBridge()
	defer bridge.Close()

	var wg sync.WaitGroup
	wg.Add(2)
	for i := 0; i < 2; i++ {
		require.NoError(t, bridge.Subscribe(ctx, "chat.fanout", func(context.Context, Message) error {
			wg.Done()
			return nil
		}))
	}

	require.NoError(t, bridge.Publish(ctx, Message{Topic: "chat.fanout", Payload: []byte("x")}))

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("not every subscriber received the message")
	}
}

func TestWatermillBridge_HandlerErrorDoesNotStopLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bridge := NewWatermillBridge()
	defer bridge.Close()

	calls := make(chan string, 4)
	require.NoError(t, bridge.Subscribe(ctx, "chat.errors", func(_ context.Context, msg Message) error {
		calls <- string(msg.Payload)
		if string(msg.Payload) == "first" {
			return errors.New("boom")
		}
		return nil
	}))

	require.NoError(t, bridge.Publish(ctx, Message{Topic: "chat.errors", Payload: []byte("first")}))
	require.NoError(t, bridge.Publish(ctx, Message{Topic: "chat.errors", Payload: []byte("second")}))

	seen := map[string]bool{}
	for len(seen) < 2 {
		select {
		case p := <-calls:
			seen[p] = true
		case <-time.After(2 * time.Second):
			t.Fatalf("only saw %v", seen)
		}
	}
	assert.True(t, seen["second"])
}

func TestWatermillBridge_CancelStopsDelivery(t *testing.T) {
	bridge := NewWatermillBridge()
	defer bridge.Close()

	ctx, cancel := context.WithCancel(context.Background())
	calls := make(chan struct{}, 1)
	require.NoError(t, bridge.Subscribe(ctx, "chat.cancel", func(context.Context, Message) error {
		calls <- struct{}{}
		return nil
	}))
	cancel()
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, bridge.Publish(context.Background(), Message{Topic: "chat.cancel"}))

	select {
	case <-calls:
		t.Fatal("canceled subscription still received a message")
	case <-time.After(100 * time.Millisecond):
	}
}
