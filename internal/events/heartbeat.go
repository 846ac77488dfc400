package events

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const heartbeatKey = "backhaul:worker:heartbeat"

// Heartbeat periodically refreshes a TTL-bound liveness key. External health
// checks treat an absent or stale key as a dead worker fleet. The TTL must
// exceed the refresh interval.
type Heartbeat struct {
	rdb      redis.UniversalClient
	logger   zerolog.Logger
	workerID string
	interval time.Duration
	ttl      time.Duration
}

func NewHeartbeat(rdb redis.UniversalClient, logger zerolog.Logger, workerID string, interval, ttl time.Duration) *Heartbeat {
	return &Heartbeat{
		rdb:      rdb,
		logger:   logger.With().Str("component", "heartbeat").Logger(),
		workerID: workerID,
		interval: interval,
		ttl:      ttl,
	}
}

// Run refreshes the key until ctx is cancelled. Individual refresh failures
// are logged and retried on the next tick.
func (h *Heartbeat) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.beat(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.beat(ctx)
		}
	}
}

func (h *Heartbeat) beat(ctx context.Context) {
	value := fmt.Sprintf("%s:%d", h.workerID, time.Now().Unix())
	if err := h.rdb.Set(ctx, heartbeatKey, value, h.ttl).Err(); err != nil {
		h.logger.Warn().Err(err).Msg("failed to refresh heartbeat")
	}
}

// Alive reports whether any worker refreshed the heartbeat within its TTL.
func Alive(ctx context.Context, rdb redis.UniversalClient) (bool, error) {
	err := rdb.Get(ctx, heartbeatKey).Err()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
