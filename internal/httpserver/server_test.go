package httpserver

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ztkuaikuai/round-cast-app/internal/conv"
	"github.com/ztkuaikuai/round-cast-app/internal/taskapi"
)

func testServer() *Server {
	return New([]conv.Turn{
		{Speaker: "a", Content: "one", VoiceID: "v1"},
		{Speaker: "b", Content: "two", VoiceID: "v2"},
	}, zerolog.New(io.Discard))
}

func postJSON(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	buf, err := json.Marshal(body)
	require.NoError(t, err)
	r := httptest.NewRequest(http.MethodPost, path, strings.NewReader(string(buf)))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) taskapi.Response {
	t.Helper()
	var resp taskapi.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestServer_Healthz(t *testing.T) {
	srv := testServer()
	r := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServer_DripsOneTurnPerPoll(t *testing.T) {
	srv := testServer()

	w := postJSON(t, srv.Handler(), "/task/conversation", taskapi.Request{TaskID: "42", Topic: "x"})
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	require.Len(t, resp.Context, 1)
	assert.Equal(t, 1, resp.Context[0].ChunkID)
	assert.Equal(t, conv.StatusInProgress, resp.Status)

	w = postJSON(t, srv.Handler(), "/task/conversation", taskapi.Request{TaskID: "42", Context: resp.Context})
	resp = decode(t, w)
	require.Len(t, resp.Context, 2)
	assert.Equal(t, 2, resp.Context[1].ChunkID)
	assert.Equal(t, conv.StatusCompleted, resp.Status, "last scripted turn completes the task")

	// Exhausted script echoes the context back, still completed.
	w = postJSON(t, srv.Handler(), "/task/conversation", taskapi.Request{TaskID: "42", Context: resp.Context})
	resp = decode(t, w)
	assert.Len(t, resp.Context, 2)
	assert.Equal(t, conv.StatusCompleted, resp.Status)
}

func TestServer_UserTurnsDoNotConsumeScript(t *testing.T) {
	srv := testServer()

	w := postJSON(t, srv.Handler(), "/task/conversation", taskapi.Request{TaskID: "42"})
	resp := decode(t, w)
	require.Len(t, resp.Context, 1)

	// Barge-in: the user turn takes the next chunk id.
	ctx := append(resp.Context, conv.Turn{ChunkID: 2, Speaker: conv.UserSpeaker, Content: "why?"})
	w = postJSON(t, srv.Handler(), "/task/conversation", taskapi.Request{TaskID: "42", Context: ctx})
	resp = decode(t, w)
	require.Len(t, resp.Context, 3)
	assert.Equal(t, 3, resp.Context[2].ChunkID)
	assert.Equal(t, "two", resp.Context[2].Content, "script resumes at the second scripted turn")
}

func TestServer_HistoryIsFresh(t *testing.T) {
	srv := testServer()
	w := postJSON(t, srv.Handler(), "/task/history", map[string]string{"task_id": "42"})
	resp := decode(t, w)
	assert.Equal(t, conv.StatusCompleted, resp.Status)
	assert.Empty(t, resp.Context)
}

func TestServer_BadJSON(t *testing.T) {
	srv := testServer()
	r := httptest.NewRequest(http.MethodPost, "/task/conversation", strings.NewReader("not-json"))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, r)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
