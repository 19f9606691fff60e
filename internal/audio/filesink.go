package audio

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// mp3BitrateBps matches the bitrate requested from the synthesis service and
// is used to estimate segment duration from byte length.
const mp3BitrateBps = 128000

// FileSink is a Device that writes each audio segment to a directory and
// simulates playback by waiting out the segment's estimated duration. It
// stands in for a platform audio device in the CLI demo and keeps playback
// pacing observable without an audio stack.
type FileSink struct {
	dir string
	log zerolog.Logger

	mu         sync.Mutex
	onComplete func()
	seq        int
	remaining  time.Duration
	startedAt  time.Time
	playing    bool
	timer      *time.Timer
}

func NewFileSink(dir string, logger zerolog.Logger) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create audio dir")
	}
	return &FileSink{dir: dir, log: logger.With().Str("component", "filesink").Logger()}, nil
}

func (s *FileSink) SetOnComplete(fn func()) {
	s.mu.Lock()
	s.onComplete = fn
	s.mu.Unlock()
}

func (s *FileSink) Replace(data []byte) error {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.playing = false
	s.seq++
	name := filepath.Join(s.dir, fmt.Sprintf("segment-%03d.mp3", s.seq))
	s.remaining = time.Duration(len(data)) * 8 * time.Second / mp3BitrateBps
	if s.remaining <= 0 {
		s.remaining = 50 * time.Millisecond
	}
	s.mu.Unlock()

	if err := os.WriteFile(name, data, 0o644); err != nil {
		return errors.Wrap(err, "write audio segment")
	}
	s.log.Debug().Str("file", name).Int("bytes", len(data)).Msg("segment written")
	return nil
}

func (s *FileSink) Play() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.playing || s.remaining <= 0 {
		return nil
	}
	s.playing = true
	s.startedAt = time.Now()
	s.timer = time.AfterFunc(s.remaining, s.finish)
	return nil
}

func (s *FileSink) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.playing {
		return nil
	}
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.remaining -= time.Since(s.startedAt)
	if s.remaining < 0 {
		s.remaining = 0
	}
	s.playing = false
	return nil
}

func (s *FileSink) finish() {
	s.mu.Lock()
	s.playing = false
	s.remaining = 0
	s.timer = nil
	cb := s.onComplete
	s.mu.Unlock()
	if cb != nil {
		cb()
	}
}
