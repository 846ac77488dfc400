// Package events carries the real-time side of the system over Redis:
// pub/sub broadcast channels for logs and job progress, and the worker
// liveness heartbeat key. Clients are constructed at process start and
// injected; nothing in here is a package-level singleton.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ChannelSystem receives events that are not scoped to an execution or user.
const ChannelSystem = "backhaul:events:system"

// Job lifecycle event kinds published to the per-user channel.
const (
	KindJobStarted   = "job:started"
	KindJobProgress  = "job:progress"
	KindJobCompleted = "job:completed"
	KindLog          = "log"
)

func ExecutionChannel(historyID string) string {
	return "backhaul:events:execution:" + historyID
}

func UserChannel(userID string) string {
	return "backhaul:events:user:" + userID
}

// Envelope is the wire shape on every channel.
type Envelope struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// Broadcaster publishes fire-and-forget events. Publish failures are logged
// and swallowed: a slow or dead broker must never stall a backup run.
type Broadcaster struct {
	rdb    redis.UniversalClient
	logger zerolog.Logger
}

func NewBroadcaster(rdb redis.UniversalClient, logger zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		rdb:    rdb,
		logger: logger.With().Str("component", "broadcaster").Logger(),
	}
}

func (b *Broadcaster) Publish(ctx context.Context, channel, kind string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		b.logger.Warn().Err(err).Str("channel", channel).Msg("failed to marshal event")
		return
	}
	payload, err := json.Marshal(Envelope{Kind: kind, Data: raw})
	if err != nil {
		b.logger.Warn().Err(err).Str("channel", channel).Msg("failed to marshal envelope")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := b.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		b.logger.Warn().Err(err).Str("channel", channel).Msg("failed to publish event")
	}
}

// Subscribe opens a pub/sub subscription on the given channels. The caller
// owns the returned subscription and must close it.
func (b *Broadcaster) Subscribe(ctx context.Context, channels ...string) *redis.PubSub {
	return b.rdb.Subscribe(ctx, channels...)
}
