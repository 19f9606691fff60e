// Package typewriter reveals the newest conversation turn character by
// character. Only the final non-historical turn animates; everything earlier,
// and anything hydrated from history, renders its full text at once.
package typewriter

import (
	"sync"
	"time"

	"github.com/ztkuaikuai/round-cast-app/internal/conv"
)

// DefaultInterval is the per-character reveal delay.
const DefaultInterval = 50 * time.Millisecond

// Renderer drives the reveal. OnFrame receives every intermediate text state
// keyed by chunk id; OnDone fires when the active turn's reveal completes
// (callers use it for the idle indicator and scroll re-anchor). Callbacks run
// without the renderer's lock held, so they may call back into the Renderer.
type Renderer struct {
	interval time.Duration
	onFrame  func(chunkID int, text string)
	onDone   func(chunkID int)

	mu       sync.Mutex
	active   *animation
	rendered map[int]string // full text already shown per chunk id
}

type animation struct {
	chunkID int
	runes   []rune
	n       int
	timer   *time.Timer
}

func NewRenderer(interval time.Duration, onFrame func(int, string), onDone func(int)) *Renderer {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Renderer{
		interval: interval,
		onFrame:  onFrame,
		onDone:   onDone,
		rendered: make(map[int]string),
	}
}

type emission struct {
	chunkID int
	text    string
	done    bool
}

// SetTurns reconciles the display with the given ordered turn list. A reveal
// already mid-flight for a superseded turn is short-circuited to its complete
// text before the newest turn begins animating. If the same chunk id arrives
// with different text, its reveal restarts from zero.
func (r *Renderer) SetTurns(turns []conv.Turn) {
	var out []emission

	r.mu.Lock()
	var last *conv.Turn
	if len(turns) > 0 {
		last = &turns[len(turns)-1]
	}

	if r.active != nil {
		switch {
		case last != nil && r.active.chunkID == last.ChunkID && string(r.active.runes) == last.Content:
			// Still animating the current last turn; leave it alone.
		case last != nil && r.active.chunkID == last.ChunkID:
			// Same turn, replaced text: restart from zero without emitting
			// a completion for the stale text.
			r.stopActiveLocked()
			delete(r.rendered, last.ChunkID)
		default:
			// Superseded: snap to the full text, then let the new turn start.
			full := string(r.active.runes)
			id := r.active.chunkID
			r.stopActiveLocked()
			r.rendered[id] = full
			out = append(out, emission{chunkID: id, text: full}, emission{chunkID: id, done: true})
		}
	}

	for i := range turns {
		t := &turns[i]
		isLast := last != nil && t.ChunkID == last.ChunkID && i == len(turns)-1
		if !isLast {
			if r.rendered[t.ChunkID] != t.Content {
				r.rendered[t.ChunkID] = t.Content
				out = append(out, emission{chunkID: t.ChunkID, text: t.Content})
			}
			continue
		}
		if r.rendered[t.ChunkID] == t.Content {
			continue
		}
		if r.active != nil && r.active.chunkID == t.ChunkID {
			continue
		}
		if t.Historical || len(t.Content) == 0 {
			r.rendered[t.ChunkID] = t.Content
			out = append(out, emission{chunkID: t.ChunkID, text: t.Content}, emission{chunkID: t.ChunkID, done: true})
			continue
		}
		a := &animation{chunkID: t.ChunkID, runes: []rune(t.Content)}
		r.active = a
		a.timer = time.AfterFunc(r.interval, func() { r.step(a) })
	}
	r.mu.Unlock()

	r.emit(out)
}

// Stop abandons the active reveal without emitting anything further.
func (r *Renderer) Stop() {
	r.mu.Lock()
	r.stopActiveLocked()
	r.mu.Unlock()
}

func (r *Renderer) stopActiveLocked() {
	if r.active != nil {
		r.active.timer.Stop()
		r.active = nil
	}
}

func (r *Renderer) step(a *animation) {
	var out []emission

	r.mu.Lock()
	if r.active != a {
		r.mu.Unlock()
		return
	}
	a.n++
	out = append(out, emission{chunkID: a.chunkID, text: string(a.runes[:a.n])})
	if a.n >= len(a.runes) {
		r.rendered[a.chunkID] = string(a.runes)
		r.active = nil
		out = append(out, emission{chunkID: a.chunkID, done: true})
	} else {
		a.timer = time.AfterFunc(r.interval, func() { r.step(a) })
	}
	r.mu.Unlock()

	r.emit(out)
}

func (r *Renderer) emit(out []emission) {
	for _, e := range out {
		if e.done {
			if r.onDone != nil {
				r.onDone(e.chunkID)
			}
			continue
		}
		if r.onFrame != nil {
			r.onFrame(e.chunkID, e.text)
		}
	}
}
