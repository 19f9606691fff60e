// Package httpserver implements a mock round-table task service for local
// development and end-to-end tests. It replays a scripted conversation one
// turn per poll, exactly like the real service drips turns while a task is in
// progress.
package httpserver

import (
	"context"
	"net/http"
	"sync"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/ztkuaikuai/round-cast-app/internal/conv"
	"github.com/ztkuaikuai/round-cast-app/internal/taskapi"
)

// Server bundles the echo router and the scripted conversation.
type Server struct {
	echo   *echo.Echo
	log    zerolog.Logger
	mu     sync.Mutex
	script []conv.Turn
}

// New constructs the mock service around a script. Each conversation poll
// appends the next scripted turn to the caller's context; the last scripted
// turn flips the status to completed. User turns in the context do not
// consume script entries.
func New(script []conv.Turn, logger zerolog.Logger) *Server {
	s := &Server{
		echo:   echo.New(),
		log:    logger.With().Str("component", "mockserver").Logger(),
		script: append([]conv.Turn{}, script...),
	}
	s.echo.HideBanner = true
	s.echo.Use(middleware.Recover())

	s.echo.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	s.echo.POST("/task/conversation", s.handleConversation)
	s.echo.POST("/task/history", s.handleHistory)
	return s
}

// Handler exposes the router for httptest.
func (s *Server) Handler() http.Handler { return s.echo }

// Start serves until Shutdown.
func (s *Server) Start(addr string) error { return s.echo.Start(addr) }

func (s *Server) Shutdown(ctx context.Context) error { return s.echo.Shutdown(ctx) }

func (s *Server) handleConversation(c echo.Context) error {
	var req taskapi.Request
	if err := c.Bind(&req); err != nil {
		return c.NoContent(http.StatusBadRequest)
	}

	s.mu.Lock()
	script := s.script
	s.mu.Unlock()

	// Script position is the number of non-user turns already delivered.
	next := 0
	for _, t := range req.Context {
		if !t.IsUser() {
			next++
		}
	}
	if next >= len(script) {
		return c.JSON(http.StatusOK, taskapi.Response{
			TaskID:  req.TaskID,
			Status:  conv.StatusCompleted,
			Context: req.Context,
		})
	}

	turn := script[next]
	turn.ChunkID = len(req.Context) + 1
	out := append(append([]conv.Turn{}, req.Context...), turn)
	status := conv.StatusInProgress
	if next == len(script)-1 {
		status = conv.StatusCompleted
	}
	s.log.Debug().Str("task_id", req.TaskID).Int("chunk_id", turn.ChunkID).Msg("turn delivered")
	return c.JSON(http.StatusOK, taskapi.Response{TaskID: req.TaskID, Status: status, Context: out})
}

// handleHistory always reports a fresh task: completed with no turns. The
// client treats that as an invitation to poll, not a dead end.
func (s *Server) handleHistory(c echo.Context) error {
	var req struct {
		TaskID string `json:"task_id"`
	}
	if err := c.Bind(&req); err != nil {
		return c.NoContent(http.StatusBadRequest)
	}
	return c.JSON(http.StatusOK, taskapi.Response{
		TaskID:  req.TaskID,
		Status:  conv.StatusCompleted,
		Context: []conv.Turn{},
	})
}

// SampleScript is the canned round-table used by the dev server.
func SampleScript() []conv.Turn {
	return []conv.Turn{
		{Speaker: "Kelsie", Content: "Welcome everyone to today's round table!", VoiceID: "voice-kelsie"},
		{Speaker: "Amiya", Content: "Great to see you all here.", VoiceID: "voice-amiya"},
		{Speaker: "Kelsie", Content: "Let's dive into our topic.", VoiceID: "voice-kelsie"},
		{Speaker: "Doc", Content: "I have some thoughts on that.", VoiceID: "voice-doc"},
	}
}
