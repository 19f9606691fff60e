package audio

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ztkuaikuai/round-cast-app/internal/conv"
	"github.com/ztkuaikuai/round-cast-app/internal/tts"
)

// fakeDevice records everything handed to it and finishes each segment a few
// milliseconds after Play.
type fakeDevice struct {
	mu         sync.Mutex
	onComplete func()
	played     []string
	pauses     int
	manual     bool // when set, playback only finishes via fire()
	pending    bool
}

func (d *fakeDevice) SetOnComplete(fn func()) {
	d.mu.Lock()
	d.onComplete = fn
	d.mu.Unlock()
}

func (d *fakeDevice) Replace(data []byte) error {
	d.mu.Lock()
	d.played = append(d.played, string(data))
	d.pending = true
	d.mu.Unlock()
	return nil
}

func (d *fakeDevice) Play() error {
	d.mu.Lock()
	pending := d.pending
	manual := d.manual
	d.mu.Unlock()
	if pending && !manual {
		time.AfterFunc(3*time.Millisecond, d.fire)
	}
	return nil
}

func (d *fakeDevice) Pause() error {
	d.mu.Lock()
	d.pauses++
	d.mu.Unlock()
	return nil
}

func (d *fakeDevice) fire() {
	d.mu.Lock()
	d.pending = false
	cb := d.onComplete
	d.mu.Unlock()
	if cb != nil {
		cb()
	}
}

func (d *fakeDevice) playedSegments() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string{}, d.played...)
}

// fakeSynth echoes the text as audio bytes, failing for configured texts.
type fakeSynth struct {
	mu    sync.Mutex
	fail  map[string]bool
	calls map[string]int
	block chan struct{} // when non-nil, Synthesize waits on it
}

func (f *fakeSynth) Synthesize(ctx context.Context, voiceID, text string) ([]byte, error) {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[text]++
	fail := f.fail[text]
	block := f.block
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail {
		return nil, &tts.SynthesisError{Msg: "boom"}
	}
	return []byte(text), nil
}

func (f *fakeSynth) callCount(text string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[text]
}

func turn(id int, text string) conv.Turn {
	return conv.Turn{ChunkID: id, Speaker: "host", Content: text, VoiceID: "v"}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}

func TestEngine_PlaysInEnqueueOrder(t *testing.T) {
	dev := &fakeDevice{}
	synth := &fakeSynth{}
	e := NewEngine(dev, synth, Config{Cooldown: 5 * time.Millisecond})
	defer e.Close()

	e.EnqueueTurns([]conv.Turn{turn(1, "a"), turn(2, "b"), turn(3, "c")})
	assert.Equal(t, 3, e.Pending())
	e.Play()

	waitFor(t, func() bool { return len(dev.playedSegments()) == 3 })
	assert.Equal(t, []string{"a", "b", "c"}, dev.playedSegments())
	waitFor(t, func() bool { return e.Current() == nil })
	assert.Equal(t, 0, e.Pending())
}

func TestEngine_SkipAndContinueOnSynthesisFailure(t *testing.T) {
	dev := &fakeDevice{}
	synth := &fakeSynth{fail: map[string]bool{"b": true}}
	e := NewEngine(dev, synth, Config{Cooldown: 5 * time.Millisecond})
	defer e.Close()

	e.EnqueueTurns([]conv.Turn{turn(1, "a"), turn(2, "b"), turn(3, "c")})
	e.Play()

	waitFor(t, func() bool {
		got := dev.playedSegments()
		return len(got) == 2 && got[0] == "a" && got[1] == "c"
	})
	// b failed once, surfaced, and was never retried.
	assert.Equal(t, 1, synth.callCount("b"))
	waitFor(t, func() bool { return e.Current() == nil })
}

func TestEngine_FailureSurfacesError(t *testing.T) {
	dev := &fakeDevice{}
	synth := &fakeSynth{fail: map[string]bool{"only": true}}
	e := NewEngine(dev, synth, Config{Cooldown: 2 * time.Millisecond})
	defer e.Close()

	e.EnqueueTurns([]conv.Turn{turn(1, "only")})
	e.Play()
	waitFor(t, func() bool { return e.Err() != nil })
	waitFor(t, func() bool { return e.Current() == nil })
}

func TestEngine_ClearQueueDiscardsInFlightSynthesis(t *testing.T) {
	dev := &fakeDevice{}
	block := make(chan struct{})
	synth := &fakeSynth{block: block}
	e := NewEngine(dev, synth, Config{Cooldown: 5 * time.Millisecond})
	defer e.Close()

	e.EnqueueTurns([]conv.Turn{turn(1, "a"), turn(2, "b")})
	e.Play()
	waitFor(t, func() bool { return synth.callCount("a") == 1 })

	e.ClearQueue()
	close(block) // synthesis for "a" now resolves, but its epoch is stale

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, dev.playedSegments(), "stale synthesis must not reach the device")
	assert.Equal(t, 0, e.Pending())
	assert.Nil(t, e.Current())
}

func TestEngine_PlayResumesWhenLoaded(t *testing.T) {
	dev := &fakeDevice{manual: true}
	synth := &fakeSynth{}
	e := NewEngine(dev, synth, Config{})
	defer e.Close()

	e.Enqueue("v", turn(1, "a"))
	e.Play()
	waitFor(t, func() bool { return len(dev.playedSegments()) == 1 })

	e.Pause()
	assert.False(t, e.Playing())
	e.Play()
	assert.True(t, e.Playing())
	// Resume must not consume another item or re-replace the loaded one.
	assert.Equal(t, 1, len(dev.playedSegments()))
}

func TestEngine_ConcurrentPlayDoesNotDoubleAdvance(t *testing.T) {
	dev := &fakeDevice{}
	block := make(chan struct{})
	synth := &fakeSynth{block: block}
	e := NewEngine(dev, synth, Config{})
	defer e.Close()

	e.EnqueueTurns([]conv.Turn{turn(1, "a"), turn(2, "b")})
	e.Play()
	e.Play()
	e.Play()
	waitFor(t, func() bool { return synth.callCount("a") == 1 })
	assert.Equal(t, 0, synth.callCount("b"), "second item must not be consumed while busy")
	assert.Equal(t, 1, e.Pending())
	close(block)
	waitFor(t, func() bool { return len(dev.playedSegments()) == 2 })
}

func TestEngine_EnqueueFiltersVoicelessTurns(t *testing.T) {
	dev := &fakeDevice{}
	e := NewEngine(dev, &fakeSynth{}, Config{})
	defer e.Close()

	e.EnqueueTurns([]conv.Turn{
		{ChunkID: 1, Speaker: conv.UserSpeaker, Content: "why?"},
		{ChunkID: 2, Speaker: "host", Content: "because", VoiceID: "v"},
		{ChunkID: 3, Speaker: "host", Content: "  ", VoiceID: "   "},
	})
	assert.Equal(t, 1, e.Pending())

	e.Enqueue("", conv.Turn{ChunkID: 4})
	assert.Equal(t, 1, e.Pending())
}

func TestFileSink_EstimatesAndCompletes(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileSink(dir, testLogger())
	require.NoError(t, err)

	done := make(chan struct{}, 1)
	s.SetOnComplete(func() { done <- struct{}{} })

	require.NoError(t, s.Replace([]byte("tiny")))
	require.NoError(t, s.Play())
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected completion callback")
	}
}
