package backend

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Scheduler defaults: the window runs from the first queued request,
// the queue size forces an early flush.
const (
	DefaultWindow   = 25 * time.Millisecond
	DefaultMaxQueue = 32
)

// ErrSchedulerClosed resolves requests enqueued after Close.
var ErrSchedulerClosed = errors.New("scheduler closed")

// SchedulerConfig tunes coalescing. Zero values use the defaults.
type SchedulerConfig struct {
	Window   time.Duration
	MaxQueue int
}

// DefaultSchedulerConfig returns the standard coalescing parameters.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Window:   DefaultWindow,
		MaxQueue: DefaultMaxQueue,
	}
}

// Pending resolves with the outcome of one enqueued request.
type Pending struct {
	done   chan struct{}
	result Result
	err    error
}

// Await blocks until the request resolves or ctx is canceled. Abandoning
// a Pending is safe; resolution does not depend on anyone waiting.
func (p *Pending) Await(ctx context.Context) (Result, error) {
	select {
	case <-p.done:
		return p.result, p.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (p *Pending) resolve(r Result, err error) {
	p.result = r
	p.err = err
	close(p.done)
}

// request lives only until its batch flushes.
type request struct {
	channel string
	args    []any
	pending *Pending
}

// Scheduler coalesces bursts of invocations. A batch flushes when the
// window elapses after its first request or the queue hits MaxQueue.
// On flush, requests group by channel: groups dispatch concurrently,
// requests inside a group run in submission order, and every request
// resolves independently of its siblings.
//
// The backend offers no wire-level batching; the win here is one
// scheduling point for a burst, not fewer round-trips.
type Scheduler struct {
	cfg     SchedulerConfig
	invoker Invoker
	logger  *zap.Logger

	mu     sync.Mutex
	queue  []request
	timer  *time.Timer
	closed bool

	wg sync.WaitGroup
}

// NewScheduler creates a scheduler in front of an invoker.
func NewScheduler(invoker Invoker, cfg SchedulerConfig, logger *zap.Logger) *Scheduler {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.MaxQueue <= 0 {
		cfg.MaxQueue = DefaultMaxQueue
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cfg:     cfg,
		invoker: invoker,
		logger:  logger,
	}
}

// Enqueue queues one invocation and returns its Pending. The first
// request of an empty queue arms the flush timer; later requests ride
// the same window.
func (s *Scheduler) Enqueue(channel string, args ...any) *Pending {
	p := &Pending{done: make(chan struct{})}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		p.resolve(Result{}, ErrSchedulerClosed)
		return p
	}

	s.queue = append(s.queue, request{channel: channel, args: args, pending: p})

	if len(s.queue) >= s.cfg.MaxQueue {
		batch := s.takeLocked()
		s.mu.Unlock()
		s.dispatch(batch)
		return p
	}

	if s.timer == nil {
		s.timer = time.AfterFunc(s.cfg.Window, s.flushExpired)
	}
	s.mu.Unlock()
	return p
}

// Flush forces dispatch of everything queued. Requests still resolve
// asynchronously through their Pending.
func (s *Scheduler) Flush() {
	s.mu.Lock()
	batch := s.takeLocked()
	s.mu.Unlock()
	s.dispatch(batch)
}

// Close flushes the queue, waits for in-flight dispatches, and rejects
// any later Enqueue with ErrSchedulerClosed.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	batch := s.takeLocked()
	s.mu.Unlock()

	s.dispatch(batch)
	s.wg.Wait()
}

func (s *Scheduler) flushExpired() {
	s.mu.Lock()
	batch := s.takeLocked()
	s.mu.Unlock()
	s.dispatch(batch)
}

// takeLocked empties the queue and disarms the timer. Caller holds mu.
func (s *Scheduler) takeLocked() []request {
	batch := s.queue
	s.queue = nil
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	return batch
}

func (s *Scheduler) dispatch(batch []request) {
	if len(batch) == 0 {
		return
	}

	groups := make(map[string][]request)
	var order []string
	for _, r := range batch {
		if _, seen := groups[r.channel]; !seen {
			order = append(order, r.channel)
		}
		groups[r.channel] = append(groups[r.channel], r)
	}

	s.logger.Debug("dispatching batch",
		zap.Int("requests", len(batch)),
		zap.Int("channels", len(order)))

	for _, channel := range order {
		group := groups[channel]
		s.wg.Add(1)
		go func(group []request) {
			defer s.wg.Done()
			for _, r := range group {
				res, err := s.invoker.Invoke(context.Background(), r.channel, r.args...)
				r.pending.resolve(res, err)
			}
		}(group)
	}
}
