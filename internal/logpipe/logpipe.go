// Package logpipe fans structured log events out to two channels: a
// real-time broadcast (best effort, drop on backpressure) and a durable
// buffer flushed in size/time-bounded batches.
package logpipe

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/backhaul/internal/events"
)

// Log levels. Mirrors what the dashboard understands.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Event is one log entry. Write-once; never mutated after Emit.
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	HistoryID string         `json:"history_id,omitempty"`
	UserID    string         `json:"user_id,omitempty"`
	JobID     string         `json:"job_id,omitempty"`
	Source    string         `json:"source"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Sink receives durable batches.
type Sink interface {
	InsertLogEvents(ctx context.Context, batch []Event) error
}

// Publisher is the real-time side; satisfied by events.Broadcaster.
type Publisher interface {
	Publish(ctx context.Context, channel, kind string, data any)
}

// Options tune batching. Zero values take defaults.
type Options struct {
	BatchSize     int
	FlushInterval time.Duration
	QueueSize     int
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.BatchSize <= 0 {
		out.BatchSize = 50
	}
	if out.FlushInterval <= 0 {
		out.FlushInterval = 2 * time.Second
	}
	if out.QueueSize <= 0 {
		out.QueueSize = 256
	}
	return out
}

// Pipe is the dual-channel log fan-out. Emit never blocks the caller beyond
// a buffered channel send; when the queue is full the event still reaches
// the durable buffer but the real-time broadcast for it is dropped.
type Pipe struct {
	logger zerolog.Logger
	pub    Publisher
	sink   Sink
	opts   Options

	queue   chan Event
	batches chan []Event
	done    chan struct{}
	wg      sync.WaitGroup

	mu      sync.Mutex
	batch   []Event
	dropped int64
}

func New(logger zerolog.Logger, pub Publisher, sink Sink, opts Options) *Pipe {
	p := &Pipe{
		logger: logger.With().Str("component", "logpipe").Logger(),
		pub:    pub,
		sink:   sink,
		opts:   opts.withDefaults(),
		done:   make(chan struct{}),
	}
	p.queue = make(chan Event, p.opts.QueueSize)
	p.batches = make(chan []Event, 8)

	p.wg.Add(1)
	go p.run()
	return p
}

// Emit records the event durably and broadcasts it best-effort.
func (p *Pipe) Emit(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.Level == "" {
		e.Level = LevelInfo
	}

	p.buffer(e)

	select {
	case p.queue <- e:
	default:
		// Broadcast channel is backed up; drop rather than block uploads.
		p.mu.Lock()
		p.dropped++
		p.mu.Unlock()
	}
}

// Dropped returns how many real-time broadcasts were dropped under
// backpressure.
func (p *Pipe) Dropped() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

// Close flushes the remaining durable buffer and stops the broadcast loop.
func (p *Pipe) Close(ctx context.Context) error {
	close(p.done)
	p.wg.Wait()
	return p.flush(ctx)
}

// buffer appends to the durable batch and, once the batch is full, hands it
// to the background loop. The emitting goroutine never waits on the sink.
func (p *Pipe) buffer(e Event) {
	var full []Event
	p.mu.Lock()
	p.batch = append(p.batch, e)
	if len(p.batch) >= p.opts.BatchSize {
		full = p.batch
		p.batch = nil
	}
	p.mu.Unlock()

	if full == nil {
		return
	}
	select {
	case p.batches <- full:
	default:
		// Persist loop is behind; keep accumulating and let the next
		// size or interval flush carry these events.
		p.mu.Lock()
		p.batch = append(full, p.batch...)
		p.mu.Unlock()
	}
}

func (p *Pipe) flush(ctx context.Context) error {
	p.mu.Lock()
	batch := p.batch
	p.batch = nil
	p.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	return p.sink.InsertLogEvents(ctx, batch)
}

func (p *Pipe) persist(batch []Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.sink.InsertLogEvents(ctx, batch); err != nil {
		p.logger.Error().Err(err).Int("events", len(batch)).Msg("failed to persist log batch")
	}
}

func (p *Pipe) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.opts.FlushInterval)
	defer ticker.Stop()

	ctx := context.Background()
	for {
		select {
		case <-p.done:
			// Drain queued broadcasts and pending durable batches.
			for {
				select {
				case e := <-p.queue:
					p.broadcast(ctx, e)
				case b := <-p.batches:
					p.persist(b)
				default:
					return
				}
			}
		case e := <-p.queue:
			p.broadcast(ctx, e)
		case b := <-p.batches:
			p.persist(b)
		case <-ticker.C:
			if err := p.flush(ctx); err != nil {
				p.logger.Error().Err(err).Msg("failed to flush log batch")
			}
		}
	}
}

// broadcast publishes to the execution channel and the user channel when the
// event is scoped, otherwise to the system channel.
func (p *Pipe) broadcast(ctx context.Context, e Event) {
	if p.pub == nil {
		return
	}
	published := false
	if e.HistoryID != "" {
		p.pub.Publish(ctx, events.ExecutionChannel(e.HistoryID), events.KindLog, e)
		published = true
	}
	if e.UserID != "" {
		p.pub.Publish(ctx, events.UserChannel(e.UserID), events.KindLog, e)
		published = true
	}
	if !published {
		p.pub.Publish(ctx, events.ChannelSystem, events.KindLog, e)
	}
}
