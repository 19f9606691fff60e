package stt

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// State is the capture lifecycle.
type State int

const (
	StateIdle State = iota
	StateRecording
	StateProcessing
	StateCompleted
	StateError
)

func (s State) String() string {
	switch s {
	case StateRecording:
		return "recording"
	case StateProcessing:
		return "processing"
	case StateCompleted:
		return "completed"
	case StateError:
		return "error"
	default:
		return "idle"
	}
}

// Capture accumulates one voice recording and resolves it to text through a
// Recognizer when the capture ends. Completion and failure are delivered via
// callbacks, mirroring how the press-to-talk flow consumes them.
type Capture struct {
	rec     Recognizer
	format  string
	onText  func(text string)
	onError func(err error)
	log     zerolog.Logger

	mu    sync.Mutex
	state State
	buf   []byte
}

func NewCapture(rec Recognizer, format string, onText func(string), onError func(error), logger zerolog.Logger) *Capture {
	return &Capture{
		rec:     rec,
		format:  format,
		onText:  onText,
		onError: onError,
		log:     logger.With().Str("component", "stt").Logger(),
	}
}

// State returns the current lifecycle state.
func (c *Capture) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Begin starts a fresh recording, discarding any previous buffer.
func (c *Capture) Begin() {
	c.mu.Lock()
	c.state = StateRecording
	c.buf = c.buf[:0]
	c.mu.Unlock()
}

// Feed appends recorded audio. Ignored outside the recording state.
func (c *Capture) Feed(pcm []byte) {
	c.mu.Lock()
	if c.state == StateRecording {
		c.buf = append(c.buf, pcm...)
	}
	c.mu.Unlock()
}

// End finishes the recording and resolves it asynchronously. The recognized
// text (or error) arrives through the callbacks given at construction.
func (c *Capture) End(ctx context.Context) {
	c.mu.Lock()
	if c.state != StateRecording {
		c.mu.Unlock()
		return
	}
	c.state = StateProcessing
	audio := make([]byte, len(c.buf))
	copy(audio, c.buf)
	c.mu.Unlock()

	go func() {
		text, err := c.rec.Recognize(ctx, audio, c.format)
		c.mu.Lock()
		if err != nil {
			c.state = StateError
		} else {
			c.state = StateCompleted
		}
		c.mu.Unlock()
		if err != nil {
			c.log.Warn().Err(err).Msg("recognition failed")
			if c.onError != nil {
				c.onError(err)
			}
			return
		}
		if c.onText != nil {
			c.onText(text)
		}
	}()
}

// Abort drops the capture without recognition.
func (c *Capture) Abort() {
	c.mu.Lock()
	c.state = StateIdle
	c.buf = c.buf[:0]
	c.mu.Unlock()
}
