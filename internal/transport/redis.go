package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	inboundPattern = "keith:in:*"
	inboundPrefix  = "keith:in:"
	outboundPrefix = "keith:out:"

	eventDisconnect = "disconnect"
)

// inboundEvent is the JSON payload published by the channel bridge. A message
// event carries the utterance; a disconnect event tears the session down.
type inboundEvent struct {
	Event   string `json:"event,omitempty"`
	Message string `json:"message,omitempty"`
}

type outboundEvent struct {
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// Redis is a pub/sub transport: one inbound channel per session under
// keith:in:<session>, replies published to keith:out:<session>.
type Redis struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedis creates a redis transport and verifies connectivity.
func NewRedis(ctx context.Context, opts *redis.Options, logger *zap.Logger) (*Redis, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &Redis{client: client, logger: logger}, nil
}

// Deliver publishes the reply to the session's outbound channel.
func (r *Redis) Deliver(ctx context.Context, sessionID, text string) error {
	payload, err := json.Marshal(outboundEvent{
		Message:   text,
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("marshal outbound event: %w", err)
	}

	if err := r.client.Publish(ctx, outboundPrefix+sessionID, payload).Err(); err != nil {
		return fmt.Errorf("publish reply: %w", err)
	}

	r.logger.Debug("reply delivered", zap.String("session_id", sessionID))
	return nil
}

// Run subscribes to all inbound session channels and dispatches events to the
// handler until the context is canceled. Each event is handled on its own
// goroutine so a slow session never stalls the others.
func (r *Redis) Run(ctx context.Context, handler Handler) error {
	pubsub := r.client.PSubscribe(ctx, inboundPattern)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe inbound: %w", err)
	}

	r.logger.Info("transport listening", zap.String("pattern", inboundPattern))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.dispatch(ctx, handler, msg)
		}
	}
}

func (r *Redis) dispatch(ctx context.Context, handler Handler, msg *redis.Message) {
	sessionID := strings.TrimPrefix(msg.Channel, inboundPrefix)

	var event inboundEvent
	if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
		// Tolerate bare-text publishers.
		event = inboundEvent{Message: msg.Payload}
	}

	if event.Event == eventDisconnect {
		handler.OnDisconnect(sessionID)
		return
	}

	text := strings.TrimSpace(event.Message)
	if text == "" {
		return
	}

	go handler.OnUserText(ctx, sessionID, text)
}

// Close releases the underlying redis client.
func (r *Redis) Close() error {
	return r.client.Close()
}
