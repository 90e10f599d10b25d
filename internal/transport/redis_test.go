package transport

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type recordingHandler struct {
	mu           sync.Mutex
	texts        []string
	sessions     []string
	disconnected []string
}

func (h *recordingHandler) OnUserText(_ context.Context, sessionID, text string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions = append(h.sessions, sessionID)
	h.texts = append(h.texts, text)
}

func (h *recordingHandler) OnDisconnect(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.disconnected = append(h.disconnected, sessionID)
}

func (h *recordingHandler) snapshot() ([]string, []string, []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.sessions...),
		append([]string(nil), h.texts...),
		append([]string(nil), h.disconnected...)
}

func newTestTransport(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()

	srv := miniredis.RunT(t)

	tr, err := NewRedis(context.Background(), &redis.Options{Addr: srv.Addr()}, nil)
	if err != nil {
		t.Fatalf("creating transport: %v", err)
	}
	t.Cleanup(func() { tr.Close() })

	return tr, srv
}

func TestDeliverPublishesOutboundEvent(t *testing.T) {
	tr, srv := newTestTransport(t)

	sub := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer sub.Close()

	ctx := context.Background()
	pubsub := sub.Subscribe(ctx, "keith:out:s1")
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := tr.Deliver(ctx, "s1", "hello"); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	select {
	case msg := <-pubsub.Channel():
		var event outboundEvent
		if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if event.Message != "hello" {
			t.Fatalf("unexpected message: %q", event.Message)
		}
		if event.Timestamp == 0 {
			t.Fatalf("expected a timestamp")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no outbound event received")
	}
}

func TestDispatchMessageEvent(t *testing.T) {
	tr, _ := newTestTransport(t)
	handler := &recordingHandler{}

	tr.dispatch(context.Background(), handler, &redis.Message{
		Channel: "keith:in:s1",
		Payload: `{"message":"I need food"}`,
	})

	waitFor(t, func() bool {
		sessions, texts, _ := handler.snapshot()
		return len(sessions) == 1 && sessions[0] == "s1" && texts[0] == "I need food"
	})
}

func TestDispatchToleratesBareText(t *testing.T) {
	tr, _ := newTestTransport(t)
	handler := &recordingHandler{}

	tr.dispatch(context.Background(), handler, &redis.Message{
		Channel: "keith:in:s2",
		Payload: "plain utterance",
	})

	waitFor(t, func() bool {
		_, texts, _ := handler.snapshot()
		return len(texts) == 1 && texts[0] == "plain utterance"
	})
}

func TestDispatchDisconnectEvent(t *testing.T) {
	tr, _ := newTestTransport(t)
	handler := &recordingHandler{}

	tr.dispatch(context.Background(), handler, &redis.Message{
		Channel: "keith:in:s3",
		Payload: `{"event":"disconnect"}`,
	})

	_, texts, disconnected := handler.snapshot()
	if len(disconnected) != 1 || disconnected[0] != "s3" {
		t.Fatalf("expected disconnect for s3, got %v", disconnected)
	}
	if len(texts) != 0 {
		t.Fatalf("disconnect must not produce a user turn")
	}
}

func TestDispatchDropsEmptyMessages(t *testing.T) {
	tr, _ := newTestTransport(t)
	handler := &recordingHandler{}

	tr.dispatch(context.Background(), handler, &redis.Message{
		Channel: "keith:in:s4",
		Payload: `{"message":"   "}`,
	})

	time.Sleep(50 * time.Millisecond)
	_, texts, _ := handler.snapshot()
	if len(texts) != 0 {
		t.Fatalf("blank messages must be dropped, got %v", texts)
	}
}

func TestRunRoutesInboundToHandler(t *testing.T) {
	tr, srv := newTestTransport(t)
	handler := &recordingHandler{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		tr.Run(ctx, handler)
	}()

	pub := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer pub.Close()

	// The subscription is established asynchronously; retry until routed.
	deadline := time.Now().Add(2 * time.Second)
	for {
		pub.Publish(ctx, "keith:in:s9", `{"message":"hi"}`)

		sessions, _, _ := handler.snapshot()
		if len(sessions) > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("inbound message never reached the handler")
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not stop on cancel")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition never met")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
