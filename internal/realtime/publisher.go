package realtime

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Publisher fans table changes out to every listening aggregator. Write
// paths call it after a successful store mutation; a publish failure is the
// caller's to log, never to propagate to the client.
type Publisher struct {
	client *redis.Client
}

func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

func (p *Publisher) Publish(ctx context.Context, event ChangeEvent) error {
	payload, err := event.encode()
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, ChannelFor(event.Table), payload).Err(); err != nil {
		return fmt.Errorf("publish %s change: %w", event.Table, err)
	}
	return nil
}
