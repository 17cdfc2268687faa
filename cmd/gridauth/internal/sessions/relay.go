package sessions

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultExpiryChannel is the Redis pub/sub channel carrying session expiry events.
const DefaultExpiryChannel = "gridauth:session-expired"

// ExpiryRelay shares session expiry between nodes over Redis pub/sub.
//
// Messages are "<node>:<session>". A node ignores its own messages; every other node
// calls Manager.Expire, which evicts local cached principals without republishing.
type ExpiryRelay struct {
	client  *redis.Client
	channel string
	node    string
	manager *Manager
	logger  *slog.Logger
}

// NewExpiryRelay creates a relay and installs it as the manager's publisher.
func NewExpiryRelay(client *redis.Client, channel string, manager *Manager, logger *slog.Logger) *ExpiryRelay {
	if channel == "" {
		channel = DefaultExpiryChannel
	}
	if logger == nil {
		logger = slog.Default()
	}
	relay := &ExpiryRelay{
		client:  client,
		channel: channel,
		node:    uuid.NewString(),
		manager: manager,
		logger:  logger.With("component", "expiry-relay"),
	}
	manager.SetPublisher(relay)
	return relay
}

// PublishExpiry announces a locally expired session.
func (r *ExpiryRelay) PublishExpiry(ctx context.Context, id uuid.UUID) error {
	if err := r.client.Publish(ctx, r.channel, r.node+":"+id.String()).Err(); err != nil {
		return fmt.Errorf("publish expiry: %w", err)
	}
	return nil
}

// Serve subscribes to the channel until ctx is done.
func (r *ExpiryRelay) Serve(ctx context.Context) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	// Wait for the subscription to be confirmed so no event published after Serve
	// starts is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return fmt.Errorf("subscription to %s closed", r.channel)
			}
			r.handle(msg.Payload)
		}
	}
}

func (r *ExpiryRelay) String() string {
	return "expiry-relay"
}

func (r *ExpiryRelay) handle(payload string) {
	node, session, found := strings.Cut(payload, ":")
	if !found {
		r.logger.Warn("ignoring malformed expiry message", "payload", payload)
		return
	}
	if node == r.node {
		return
	}
	id, err := uuid.Parse(session)
	if err != nil {
		r.logger.Warn("ignoring expiry message with invalid session", "payload", payload)
		return
	}
	r.manager.Expire(id)
}
