package bus

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/opensource-health/kestrel/internal/domain"
)

func TestChannelBus(t *testing.T) {
	bus := NewChannelBus(100)
	defer bus.Close()

	ctx := context.Background()
	scope := "respiratory"

	t.Run("PublishAndSubscribe", func(t *testing.T) {
		var received atomic.Bool
		var receivedMsg *domain.Message

		var wg sync.WaitGroup
		wg.Add(1)

		_, err := bus.Subscribe(ctx, scope, "test.topic", func(ctx context.Context, msg *domain.Message) error {
			receivedMsg = msg
			received.Store(true)
			wg.Done()
			return nil
		})
		if err != nil {
			t.Fatalf("subscribe failed: %v", err)
		}

		// Allow subscription to be active
		time.Sleep(10 * time.Millisecond)

		err = bus.Publish(ctx, scope, "test.topic", []byte("hello"))
		if err != nil {
			t.Fatalf("publish failed: %v", err)
		}

		// Wait for message
		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			// Success
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for message")
		}

		if !received.Load() {
			t.Error("message not received")
		}

		if string(receivedMsg.Payload) != "hello" {
			t.Errorf("expected payload 'hello', got '%s'", string(receivedMsg.Payload))
		}
		if receivedMsg.Scope != scope {
			t.Errorf("expected scope '%s', got '%s'", scope, receivedMsg.Scope)
		}
	})

	t.Run("ScopeIsolation", func(t *testing.T) {
		scope1 := "respiratory"
		scope2 := "neuro"

		var received1 atomic.Int32
		var received2 atomic.Int32

		bus.Subscribe(ctx, scope1, "isolation.topic", func(ctx context.Context, msg *domain.Message) error {
			received1.Add(1)
			return nil
		})

		bus.Subscribe(ctx, scope2, "isolation.topic", func(ctx context.Context, msg *domain.Message) error {
			received2.Add(1)
			return nil
		})

		time.Sleep(10 * time.Millisecond)

		// Publish to scope1
		bus.Publish(ctx, scope1, "isolation.topic", []byte("msg1"))
		time.Sleep(50 * time.Millisecond)

		if received1.Load() != 1 {
			t.Errorf("scope1 should receive 1 message, got %d", received1.Load())
		}
		if received2.Load() != 0 {
			t.Errorf("scope2 should receive 0 messages, got %d", received2.Load())
		}
	})

	t.Run("RequiresScope", func(t *testing.T) {
		err := bus.Publish(ctx, "", "topic", []byte("data"))
		if err == nil {
			t.Error("expected error for empty scope")
		}

		_, err = bus.Subscribe(ctx, "", "topic", func(ctx context.Context, msg *domain.Message) error {
			return nil
		})
		if err == nil {
			t.Error("expected error for empty scope")
		}
	})

	t.Run("Unsubscribe", func(t *testing.T) {
		var count atomic.Int32

		sub, _ := bus.Subscribe(ctx, scope, "unsub.topic", func(ctx context.Context, msg *domain.Message) error {
			count.Add(1)
			return nil
		})

		time.Sleep(10 * time.Millisecond)

		bus.Publish(ctx, scope, "unsub.topic", []byte("msg1"))
		time.Sleep(50 * time.Millisecond)

		if count.Load() != 1 {
			t.Errorf("expected 1 message before unsubscribe, got %d", count.Load())
		}

		sub.Unsubscribe()
		time.Sleep(10 * time.Millisecond)

		bus.Publish(ctx, scope, "unsub.topic", []byte("msg2"))
		time.Sleep(50 * time.Millisecond)

		// Should still be 1 after unsubscribe
		if count.Load() != 1 {
			t.Errorf("expected 1 message after unsubscribe, got %d", count.Load())
		}
		if n := bus.SubscriberCount(scope, "unsub.topic"); n != 0 {
			t.Errorf("expected subscription removed, got %d", n)
		}
	})

	t.Run("MultipleSubscribers", func(t *testing.T) {
		var count1, count2 atomic.Int32

		bus.Subscribe(ctx, scope, "multi.topic", func(ctx context.Context, msg *domain.Message) error {
			count1.Add(1)
			return nil
		})

		bus.Subscribe(ctx, scope, "multi.topic", func(ctx context.Context, msg *domain.Message) error {
			count2.Add(1)
			return nil
		})

		time.Sleep(10 * time.Millisecond)

		bus.Publish(ctx, scope, "multi.topic", []byte("broadcast"))
		time.Sleep(50 * time.Millisecond)

		if count1.Load() != 1 || count2.Load() != 1 {
			t.Errorf("expected both subscribers to receive, got %d and %d", count1.Load(), count2.Load())
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := bus.Ping(ctx); err != nil {
			t.Errorf("ping failed: %v", err)
		}
	})

	t.Run("SubscriptionTopic", func(t *testing.T) {
		sub, _ := bus.Subscribe(ctx, scope, "my.topic", func(ctx context.Context, msg *domain.Message) error {
			return nil
		})

		if sub.Topic() != "my.topic" {
			t.Errorf("expected topic 'my.topic', got '%s'", sub.Topic())
		}
	})
}

func TestChannelBusRequestReply(t *testing.T) {
	bus := NewChannelBus(100)
	defer bus.Close()

	ctx := context.Background()
	scope := "respiratory"

	_, err := bus.Subscribe(ctx, scope, domain.TopicDiagnosisRequest, func(ctx context.Context, msg *domain.Message) error {
		return bus.Reply(ctx, msg, append([]byte("echo:"), msg.Payload...))
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	t.Run("Reply", func(t *testing.T) {
		reqCtx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()

		reply, err := bus.Request(reqCtx, scope, domain.TopicDiagnosisRequest, []byte("ping"))
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		if string(reply) != "echo:ping" {
			t.Errorf("expected 'echo:ping', got '%s'", string(reply))
		}
	})

	t.Run("ReplySubscriptionRemoved", func(t *testing.T) {
		bus.mu.RLock()
		defer bus.mu.RUnlock()
		for key := range bus.subscriptions {
			if strings.Contains(key, ".reply.") {
				t.Errorf("reply subscription %q left behind", key)
			}
		}
	})

	t.Run("NoResponder", func(t *testing.T) {
		reqCtx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
		defer cancel()

		_, err := bus.Request(reqCtx, scope, "nobody.listens", []byte("ping"))
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("expected deadline exceeded, got %v", err)
		}
	})

	t.Run("ReplyWithoutRequest", func(t *testing.T) {
		err := bus.Reply(ctx, &domain.Message{Scope: scope, Metadata: map[string]string{}}, []byte("x"))
		if !errors.Is(err, ErrNoReplyTo) {
			t.Errorf("expected ErrNoReplyTo, got %v", err)
		}
	})
}

func TestChannelBusClose(t *testing.T) {
	bus := NewChannelBus(100)

	ctx := context.Background()
	scope := "respiratory"

	bus.Subscribe(ctx, scope, "close.topic", func(ctx context.Context, msg *domain.Message) error {
		return nil
	})

	if err := bus.Close(); err != nil {
		t.Errorf("close failed: %v", err)
	}

	// Operations should fail after close
	if err := bus.Publish(ctx, scope, "close.topic", []byte("data")); err == nil {
		t.Error("expected error after close")
	}

	if err := bus.Ping(ctx); err == nil {
		t.Error("expected ping error after close")
	}

	if _, err := bus.Subscribe(ctx, scope, "late.topic", func(ctx context.Context, msg *domain.Message) error {
		return nil
	}); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestNewBus(t *testing.T) {
	t.Run("ChannelType", func(t *testing.T) {
		cfg := domain.EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 50,
		}

		bus, err := New(cfg)
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer bus.Close()

		_, ok := bus.(*ChannelBus)
		if !ok {
			t.Error("expected ChannelBus for channel type")
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		cfg := domain.EventBusConfig{
			Type: "kafka",
		}

		_, err := New(cfg)
		if err == nil {
			t.Error("expected error for unsupported type")
		}
	})
}

func TestChannelBusHighLoad(t *testing.T) {
	bus := NewChannelBus(1000)
	defer bus.Close()

	ctx := context.Background()
	scope := "load"

	var received atomic.Int32
	const messageCount = 100

	var wg sync.WaitGroup
	wg.Add(messageCount)

	bus.Subscribe(ctx, scope, "load.topic", func(ctx context.Context, msg *domain.Message) error {
		received.Add(1)
		wg.Done()
		return nil
	})

	time.Sleep(10 * time.Millisecond)

	// Publish many messages
	for i := 0; i < messageCount; i++ {
		bus.Publish(ctx, scope, "load.topic", []byte("msg"))
	}

	// Wait for all messages
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		if received.Load() != messageCount {
			t.Errorf("expected %d messages, got %d", messageCount, received.Load())
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timeout: received %d/%d messages", received.Load(), messageCount)
	}
}

func TestNATSEnvelope(t *testing.T) {
	if got := subject(domain.ScopeGlobal, domain.TopicCatalogueUpdated); got != "kestrel._global.kestrel.catalogue.updated" {
		t.Errorf("unexpected subject %q", got)
	}

	data, err := encode("respiratory", domain.TopicDiagnosisRequest, []byte(`{"answers":{}}`))
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	t.Run("RequestCarriesInbox", func(t *testing.T) {
		msg, err := decode(&nats.Msg{Data: data, Reply: "_INBOX.abc"})
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		if msg.Scope != "respiratory" || msg.Topic != domain.TopicDiagnosisRequest {
			t.Errorf("unexpected envelope: %+v", msg)
		}
		if msg.Metadata[domain.MetadataReplyTo] != "_INBOX.abc" {
			t.Errorf("expected reply inbox, got %v", msg.Metadata)
		}
		if string(msg.Payload) != `{"answers":{}}` {
			t.Errorf("unexpected payload %s", msg.Payload)
		}
	})

	t.Run("PublishHasNoInbox", func(t *testing.T) {
		msg, err := decode(&nats.Msg{Data: data})
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		if _, ok := msg.Metadata[domain.MetadataReplyTo]; ok {
			t.Error("plain publish must not carry a reply destination")
		}
	})

	t.Run("Garbage", func(t *testing.T) {
		if _, err := decode(&nats.Msg{Data: []byte("not json")}); err == nil {
			t.Error("expected decode error")
		}
	})

	t.Run("QueuedTopics", func(t *testing.T) {
		if !queuedTopics[domain.TopicDiagnosisRequest] {
			t.Error("diagnose requests must be load-balanced")
		}
		if queuedTopics[domain.TopicCatalogueUpdated] {
			t.Error("catalogue updates must fan out")
		}
	})
}
