package redis

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"quizzer/internal/domain"
	"quizzer/internal/logger"
)

// EventsChannelPrefix is prepended to the chat channel to form the pub/sub channel.
const EventsChannelPrefix = "quiz:events:"

// Envelope is the pub/sub payload.
type Envelope struct {
	Name  string       `json:"name"`
	Event domain.Event `json:"event"`
}

// Publisher fans session events out over Redis pub/sub so other instances
// and dashboards can follow a game.
type Publisher struct {
	client *redis.Client
}

func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

func (p *Publisher) Notify(ctx context.Context, event domain.Event) {
	payload, err := json.Marshal(Envelope{Name: event.Name(), Event: event})
	if err != nil {
		logger.Error("encode event", "event", event.Name(), "error", err)
		return
	}
	if err := p.client.Publish(ctx, EventsChannelPrefix+event.ChannelID(), payload).Err(); err != nil {
		logger.Warn("publish event", "event", event.Name(), "channel", event.ChannelID(), "error", err)
	}
}
