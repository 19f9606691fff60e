package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ztkuaikuai/round-cast-app/internal/audio"
	"github.com/ztkuaikuai/round-cast-app/internal/config"
	"github.com/ztkuaikuai/round-cast-app/internal/roundtable"
	"github.com/ztkuaikuai/round-cast-app/internal/store"
	"github.com/ztkuaikuai/round-cast-app/internal/stt"
	"github.com/ztkuaikuai/round-cast-app/internal/taskapi"
	"github.com/ztkuaikuai/round-cast-app/internal/tts"
	"github.com/ztkuaikuai/round-cast-app/internal/typewriter"
)

// view prints typewriter frames to the terminal, one line per turn.
type view struct {
	session *roundtable.Session
	mu      sync.Mutex
}

func (v *view) speakerOf(chunkID int) string {
	for _, t := range v.session.Turns() {
		if t.ChunkID == chunkID {
			if t.IsUser() {
				return "You"
			}
			return t.Speaker
		}
	}
	return "?"
}

func (v *view) onFrame(chunkID int, text string) {
	v.mu.Lock()
	fmt.Printf("\r\033[K%s: %s", v.speakerOf(chunkID), text)
	v.mu.Unlock()
}

func (v *view) onDone(chunkID int) {
	v.mu.Lock()
	fmt.Println()
	v.mu.Unlock()
}

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()
	log.Logger = logger

	cfg := config.Load()
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	topic := "an open round-table discussion"
	if len(os.Args) > 1 {
		topic = strings.Join(os.Args[1:], " ")
	}

	sessions, err := store.Open(cfg.SessionDBPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("open session store")
	}
	defer sessions.Close()

	sink, err := audio.NewFileSink(cfg.AudioDir, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("create audio sink")
	}
	synth := tts.NewMiniMaxClient(cfg.MiniMaxAPIKey, cfg.MiniMaxGroupID)
	engine := audio.NewEngine(sink, synth, audio.Config{Logger: logger})
	defer engine.Close()

	client := taskapi.NewClient(cfg.TaskAPIBase)

	var recognizer stt.Recognizer
	if cfg.SpeechAPIKey != "" && cfg.SpeechSecret != "" {
		recognizer = stt.NewClient(cfg.SpeechAPIKey, cfg.SpeechSecret, cfg.SpeechTokenURL, cfg.SpeechURL)
	}

	v := &view{}
	renderer := typewriter.NewRenderer(typewriter.DefaultInterval, v.onFrame, v.onDone)
	defer renderer.Stop()

	session := roundtable.NewSession(client, engine, renderer, sessions, recognizer, roundtable.Config{
		OnNotice: func(err error) {
			fmt.Fprintf(os.Stderr, "\n[notice] %v\n", err)
		},
		Logger: logger,
	})
	v.session = session
	defer session.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	taskID := uuid.NewString()
	logger.Info().Str("task_id", taskID).Str("topic", topic).Msg("starting conversation")
	if err := session.StartConversation(ctx, taskID, topic); err != nil {
		logger.Fatal().Err(err).Msg("start conversation")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Typed lines barge into the conversation.
	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line != "" {
				lines <- line
			}
		}
		close(lines)
	}()

	for {
		select {
		case sig := <-sigChan:
			logger.Info().Str("signal", sig.String()).Msg("shutting down")
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if err := session.SendUserMessage(line); err != nil {
				logger.Error().Err(err).Msg("send user message")
			}
		}
	}
}
