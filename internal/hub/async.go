package hub

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// FlushFunc writes a batch of messages to an external system.
type FlushFunc func(ctx context.Context, batch []Message) error

// Async is an observer that queues messages and hands them to a FlushFunc
// from its own goroutine. A full queue drops the message instead of
// failing Send, so a slow external sink is never detached.
type Async struct {
	id     string
	queue  chan Message
	flush  FlushFunc
	filter func(Message) bool
	max    int
	log    zerolog.Logger

	dropped atomic.Int64
	failed  atomic.Int64
	once    sync.Once
	done    chan struct{}
}

// NewAsync creates an idle async observer; call Run to start draining.
// filter may be nil to accept every message. maxBatch bounds the batch
// handed to flush.
func NewAsync(id string, buffer, maxBatch int, filter func(Message) bool, flush FlushFunc, log zerolog.Logger) *Async {
	if buffer <= 0 {
		buffer = 1024
	}
	if maxBatch <= 0 {
		maxBatch = 100
	}
	return &Async{
		id:     id,
		queue:  make(chan Message, buffer),
		flush:  flush,
		filter: filter,
		max:    maxBatch,
		log:    log.With().Str("component", id).Logger(),
		done:   make(chan struct{}),
	}
}

func (a *Async) ID() string { return a.id }

// Send enqueues msg. It never returns an error while the observer is open.
func (a *Async) Send(msg Message) error {
	select {
	case <-a.done:
		return ErrClosed
	default:
	}
	if a.filter != nil && !a.filter(msg) {
		return nil
	}
	select {
	case a.queue <- msg:
	default:
		if n := a.dropped.Add(1); n == 1 || n%1000 == 0 {
			a.log.Warn().Int64("dropped", n).Msg("queue full, message dropped")
		}
	}
	return nil
}

// Close stops accepting messages. Run flushes what is queued and returns.
func (a *Async) Close() { a.once.Do(func() { close(a.done) }) }

// Dropped returns the number of messages dropped on a full queue.
func (a *Async) Dropped() int64 { return a.dropped.Load() }

// Failed returns the number of messages in batches whose flush failed.
func (a *Async) Failed() int64 { return a.failed.Load() }

// Run drains the queue in batches until ctx is cancelled or Close is called.
func (a *Async) Run(ctx context.Context) {
	batch := make([]Message, 0, a.max)
	for {
		select {
		case <-ctx.Done():
			a.drain(context.Background(), batch)
			return
		case <-a.done:
			a.drain(ctx, batch)
			return
		case m := <-a.queue:
			batch = append(batch[:0], m)
		fill:
			for len(batch) < a.max {
				select {
				case m := <-a.queue:
					batch = append(batch, m)
				default:
					break fill
				}
			}
			a.write(ctx, batch)
		}
	}
}

// drain flushes whatever is still queued.
func (a *Async) drain(ctx context.Context, batch []Message) {
	for {
		batch = batch[:0]
		for len(batch) < a.max {
			select {
			case m := <-a.queue:
				batch = append(batch, m)
				continue
			default:
			}
			break
		}
		if len(batch) == 0 {
			return
		}
		a.write(ctx, batch)
	}
}

func (a *Async) write(ctx context.Context, batch []Message) {
	if err := a.flush(ctx, batch); err != nil {
		a.failed.Add(int64(len(batch)))
		a.log.Warn().Err(err).Int("batch", len(batch)).Msg("flush failed")
	}
}
