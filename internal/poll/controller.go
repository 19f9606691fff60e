// Package poll drives the continuous conversation fetch loop for one task.
//
// The controller owns at most one live poll cycle at a time. Starting a new
// cycle cancels the previous one by construction, and a cycle that has been
// superseded discards its own response instead of applying it. Polling is an
// explicit scheduler loop with a cancellable delay rather than a
// self-rescheduling callback, which keeps cancellation and tests tractable.
package poll

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/ztkuaikuai/round-cast-app/internal/conv"
	"github.com/ztkuaikuai/round-cast-app/internal/taskapi"
)

const (
	// DefaultDelay is the pause between successful poll cycles.
	DefaultDelay = 500 * time.Millisecond
	// DefaultMaxAttempts bounds consecutive failed fetches before the chain
	// stops and the error is surfaced. Failures back off with doubling delay.
	DefaultMaxAttempts = 3
)

// Fetcher issues a single conversation fetch. *taskapi.Client satisfies it.
type Fetcher interface {
	Conversation(ctx context.Context, req taskapi.Request) (*taskapi.Response, error)
}

// Config tunes a Controller. Zero values pick the defaults above.
type Config struct {
	Delay       time.Duration
	MaxAttempts int
	Logger      zerolog.Logger
}

// Controller runs the polling loop for one task. All methods are safe for
// concurrent use.
type Controller struct {
	fetcher     Fetcher
	taskID      string
	topic       string
	delay       time.Duration
	maxAttempts int
	onUpdate    func(turns []conv.Turn, status conv.Status)
	onError     func(err error)
	log         zerolog.Logger

	mu   sync.Mutex
	live *cycle
}

// cycle is one logical polling run. It dies when cancelled, superseded, the
// task completes, or retries are exhausted.
type cycle struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// NewController constructs a Controller. onUpdate receives every applied
// response; onError fires once when a cycle gives up after bounded retries.
// Either callback may be nil.
func NewController(f Fetcher, taskID, topic string, onUpdate func([]conv.Turn, conv.Status), onError func(error), cfg Config) *Controller {
	if cfg.Delay <= 0 {
		cfg.Delay = DefaultDelay
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	return &Controller{
		fetcher:     f,
		taskID:      taskID,
		topic:       topic,
		delay:       cfg.Delay,
		maxAttempts: cfg.MaxAttempts,
		onUpdate:    onUpdate,
		onError:     onError,
		log:         cfg.Logger.With().Str("component", "poll").Str("task_id", taskID).Logger(),
	}
}

// Start begins continuous polling with the given turns as context. If a cycle
// is already live it is cancelled first; its in-flight response, if any, will
// be discarded. Start never rejects a call, so an interruption can always
// force a fresh cycle regardless of what the previous one is doing.
func (p *Controller) Start(ctx context.Context, initial []conv.Turn) {
	cctx, cancel := context.WithCancel(ctx)
	cy := &cycle{ctx: cctx, cancel: cancel}

	p.mu.Lock()
	if p.live != nil {
		p.live.cancel()
	}
	p.live = cy
	p.mu.Unlock()

	turns := make([]conv.Turn, len(initial))
	copy(turns, initial)
	go p.run(cy, turns)
}

// Cancel marks the live cycle cancelled and abandons its in-flight request.
// The eventual response is dropped via the cycle's own context, never applied
// to state. No-op when idle.
func (p *Controller) Cancel() {
	p.mu.Lock()
	if p.live != nil {
		p.live.cancel()
		p.live = nil
	}
	p.mu.Unlock()
}

// Live reports whether a poll cycle is currently running.
func (p *Controller) Live() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.live != nil
}

func (p *Controller) run(cy *cycle, turns []conv.Turn) {
	defer cy.cancel()
	backoff := p.delay
	attempts := 0
	for {
		resp, err := p.fetcher.Conversation(cy.ctx, taskapi.Request{
			TaskID:  p.taskID,
			Topic:   p.topic,
			Context: turns,
		})
		if err != nil {
			if cy.ctx.Err() != nil || errors.Is(err, context.Canceled) {
				// Expected cooperative cancellation, swallowed here.
				return
			}
			attempts++
			if attempts >= p.maxAttempts {
				p.log.Error().Err(err).Int("attempts", attempts).Msg("polling failed, giving up")
				p.retire(cy)
				if p.onError != nil {
					p.onError(err)
				}
				return
			}
			p.log.Warn().Err(err).Int("attempt", attempts).Dur("backoff", backoff).Msg("poll fetch failed, retrying")
			if !sleep(cy.ctx, backoff) {
				return
			}
			backoff *= 2
			continue
		}
		attempts = 0
		backoff = p.delay

		// A newer cycle may have started while this request was in flight;
		// its result wins and ours must not touch state.
		if !p.isCurrent(cy) || cy.ctx.Err() != nil {
			return
		}
		if p.onUpdate != nil {
			p.onUpdate(resp.Context, resp.Status)
		}
		if resp.Status == conv.StatusCompleted {
			p.log.Debug().Int("turns", len(resp.Context)).Msg("task completed, polling stops")
			p.retire(cy)
			return
		}
		turns = resp.Context
		if !sleep(cy.ctx, p.delay) {
			return
		}
	}
}

func (p *Controller) isCurrent(cy *cycle) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.live == cy
}

// retire clears the live slot if this cycle still holds it.
func (p *Controller) retire(cy *cycle) {
	p.mu.Lock()
	if p.live == cy {
		p.live = nil
	}
	p.mu.Unlock()
}

// sleep waits d or until ctx is done; it reports false on cancellation.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
