// Package audio owns the single audio output device and plays conversation
// turns sequentially. Turns are synthesized on demand as they reach the head
// of the queue; a failed item is skipped after a cooldown rather than
// retried, so one bad item can never stall the rest of the queue.
package audio

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ztkuaikuai/round-cast-app/internal/conv"
	"github.com/ztkuaikuai/round-cast-app/internal/tts"
)

// DefaultCooldown is the pause after a synthesis failure before the engine
// attempts the next item.
const DefaultCooldown = 3 * time.Second

// Device is the audio output. It is exclusively owned by the Engine; nothing
// else may call play/pause/replace on it.
type Device interface {
	// Replace loads new audio, discarding whatever was loaded before.
	Replace(data []byte) error
	Play() error
	Pause() error
	// SetOnComplete registers the natural end-of-playback callback.
	SetOnComplete(fn func())
}

// Item pairs a synthesis voice with its source turn. Items are exclusively
// owned by the engine while queued and are consumed at the start of a
// playback attempt, not at completion.
type Item struct {
	VoiceID string
	Turn    conv.Turn
}

// Config tunes an Engine. Zero values pick the defaults.
type Config struct {
	Cooldown time.Duration
	Logger   zerolog.Logger
}

// Engine maintains the FIFO queue and drives the device. The queue is
// mutated from several call sites (new-turn arrival, interruption, the
// completion callback), so every transition is computed under the mutex from
// the live queue, never from a captured snapshot. Clearing the queue bumps an
// epoch counter; any in-flight synthesis whose epoch is stale discards its
// result instead of playing it.
type Engine struct {
	dev      Device
	synth    tts.Synthesizer
	cooldown time.Duration
	log      zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	queue    []Item
	epoch    uint64
	busy     bool // an item is being synthesized, cooling down, or played
	loaded   bool // the device holds audio (playing or paused)
	playing  bool
	current  *conv.Turn
	lastErr  error
	coolTmr  *time.Timer
}

func NewEngine(dev Device, synth tts.Synthesizer, cfg Config) *Engine {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		dev:      dev,
		synth:    synth,
		cooldown: cfg.Cooldown,
		log:      cfg.Logger.With().Str("component", "audio").Logger(),
		ctx:      ctx,
		cancel:   cancel,
	}
	dev.SetOnComplete(e.onComplete)
	return e
}

// Enqueue appends one item to the tail. Items without a voice are dropped;
// playback does not start here.
func (e *Engine) Enqueue(voiceID string, turn conv.Turn) {
	voiceID = strings.TrimSpace(voiceID)
	if voiceID == "" {
		return
	}
	e.mu.Lock()
	e.queue = append(e.queue, Item{VoiceID: voiceID, Turn: turn})
	e.lastErr = nil
	e.mu.Unlock()
}

// EnqueueTurns appends every audio-eligible turn, preserving order. User
// turns and turns without a voice reference are filtered out.
func (e *Engine) EnqueueTurns(turns []conv.Turn) {
	e.mu.Lock()
	added := false
	for _, t := range turns {
		if !t.HasVoice() {
			continue
		}
		e.queue = append(e.queue, Item{VoiceID: strings.TrimSpace(t.VoiceID), Turn: t})
		added = true
	}
	if added {
		e.lastErr = nil
	}
	e.mu.Unlock()
}

// Play resumes paused audio if the device holds an item, otherwise starts the
// pipeline on the queue head. Concurrent calls cannot double-advance: the
// engine marks itself busy before the asynchronous synthesis begins.
func (e *Engine) Play() {
	e.mu.Lock()
	if e.loaded {
		if !e.playing {
			e.playing = true
			e.mu.Unlock()
			_ = e.dev.Play()
			return
		}
		e.mu.Unlock()
		return
	}
	if e.busy {
		e.mu.Unlock()
		return
	}
	e.advanceLocked()
	e.mu.Unlock()
}

// Pause pauses output without clearing the queue or losing position.
func (e *Engine) Pause() {
	e.mu.Lock()
	e.playing = false
	e.mu.Unlock()
	_ = e.dev.Pause()
}

// ClearQueue empties the pending items and pauses output. Any in-flight
// synthesis becomes stale via the epoch bump and its result is discarded.
func (e *Engine) ClearQueue() {
	e.mu.Lock()
	e.queue = nil
	e.epoch++
	if e.coolTmr != nil {
		e.coolTmr.Stop()
		e.coolTmr = nil
	}
	e.busy = false
	e.loaded = false
	e.playing = false
	e.current = nil
	e.mu.Unlock()
	_ = e.dev.Pause()
}

// Close cancels outstanding synthesis and silences the device.
func (e *Engine) Close() {
	e.cancel()
	e.ClearQueue()
}

// Playing reports whether audio is currently audible.
func (e *Engine) Playing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.playing
}

// Pending returns the number of queued, not-yet-consumed items.
func (e *Engine) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

// Current returns the turn being synthesized or played, or nil when idle.
func (e *Engine) Current() *conv.Turn {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil {
		return nil
	}
	t := *e.current
	return &t
}

// Err returns the most recent synthesis failure, cleared on the next enqueue.
func (e *Engine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

// advanceLocked consumes the queue head and starts resolving it. Caller holds
// the mutex. With an empty queue the engine transitions to idle.
func (e *Engine) advanceLocked() {
	if len(e.queue) == 0 {
		e.busy = false
		e.loaded = false
		e.playing = false
		e.current = nil
		return
	}
	item := e.queue[0]
	e.queue = e.queue[1:]
	e.busy = true
	e.loaded = false
	e.playing = false
	turn := item.Turn
	e.current = &turn
	ep := e.epoch
	go e.resolve(ep, item)
}

// resolve synthesizes audio for one consumed item and hands it to the device.
func (e *Engine) resolve(ep uint64, item Item) {
	data, err := e.synth.Synthesize(e.ctx, item.VoiceID, item.Turn.Content)

	e.mu.Lock()
	if ep != e.epoch {
		// Queue was cleared while we were synthesizing; this result belongs
		// to a dead pipeline.
		e.mu.Unlock()
		return
	}
	if err != nil {
		e.lastErr = err
		e.log.Warn().Err(err).
			Int("chunk_id", item.Turn.ChunkID).
			Str("voice_id", item.VoiceID).
			Dur("cooldown", e.cooldown).
			Msg("synthesis failed, skipping item")
		e.coolTmr = time.AfterFunc(e.cooldown, func() {
			e.mu.Lock()
			if ep == e.epoch && e.busy {
				e.coolTmr = nil
				e.advanceLocked()
			}
			e.mu.Unlock()
		})
		e.mu.Unlock()
		return
	}
	e.loaded = true
	e.playing = true
	e.mu.Unlock()

	if err := e.dev.Replace(data); err != nil {
		e.mu.Lock()
		if ep == e.epoch {
			e.lastErr = err
			e.loaded = false
			e.playing = false
			e.advanceLocked()
		}
		e.mu.Unlock()
		return
	}
	_ = e.dev.Play()
}

// onComplete fires on natural playback completion and pulls the next item, or
// goes idle when nothing is queued.
func (e *Engine) onComplete() {
	e.mu.Lock()
	if !e.busy {
		e.mu.Unlock()
		return
	}
	e.loaded = false
	e.playing = false
	e.advanceLocked()
	e.mu.Unlock()
}
