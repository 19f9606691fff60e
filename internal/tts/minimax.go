// Package tts resolves playable audio for conversation turns via the MiniMax
// synchronous text-to-audio API.
package tts

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const (
	defaultBaseURL = "https://api.minimaxi.com"
	// synthesisTimeout bounds a single synthesis call. Hitting it raises a
	// *TimeoutError, distinct from connectivity failures so the caller can
	// message the user differently.
	synthesisTimeout = 30 * time.Second
)

// SynthesisError is a failed synthesis for a single item: connectivity, a
// non-2xx status, or an API-level rejection. The audio queue treats it as
// skip-and-continue, never retrying the item.
type SynthesisError struct {
	Status int
	Msg    string
	Err    error
}

func (e *SynthesisError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("tts synthesis: %s", e.Msg)
	}
	if e.Status != 0 {
		return fmt.Sprintf("tts synthesis: status=%d", e.Status)
	}
	return fmt.Sprintf("tts synthesis: %v", e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }

// TimeoutError marks a synthesis call that exceeded its read timeout.
type TimeoutError struct {
	Err error
}

func (e *TimeoutError) Error() string { return fmt.Sprintf("tts synthesis timed out: %v", e.Err) }
func (e *TimeoutError) Unwrap() error { return e.Err }
func (e *TimeoutError) Timeout() bool { return true }

// Synthesizer resolves encoded audio bytes for a voice and text.
type Synthesizer interface {
	Synthesize(ctx context.Context, voiceID, text string) ([]byte, error)
}

// MiniMaxClient calls the MiniMax t2a_v2 endpoint. The response carries the
// audio as a hex-encoded MP3, decoded here to raw bytes.
type MiniMaxClient struct {
	HTTPClient *http.Client
	APIKey     string
	GroupID    string
	BaseURL    string
}

func NewMiniMaxClient(apiKey, groupID string) *MiniMaxClient {
	return &MiniMaxClient{
		HTTPClient: &http.Client{Timeout: synthesisTimeout},
		APIKey:     apiKey,
		GroupID:    groupID,
		BaseURL:    defaultBaseURL,
	}
}

type voiceSetting struct {
	VoiceID string  `json:"voice_id"`
	Speed   float64 `json:"speed"`
	Vol     float64 `json:"vol"`
	Pitch   int     `json:"pitch"`
	Emotion string  `json:"emotion"`
}

type audioSetting struct {
	SampleRate int    `json:"sample_rate"`
	Bitrate    int    `json:"bitrate"`
	Format     string `json:"format"`
}

type synthesisRequest struct {
	Model         string       `json:"model"`
	Text          string       `json:"text"`
	Stream        bool         `json:"stream"`
	LanguageBoost string       `json:"language_boost"`
	OutputFormat  string       `json:"output_format"`
	VoiceSetting  voiceSetting `json:"voice_setting"`
	AudioSetting  audioSetting `json:"audio_setting"`
}

type synthesisResponse struct {
	Data struct {
		Audio string `json:"audio"`
	} `json:"data"`
	ExtraInfo struct {
		AudioSize int `json:"audio_size"`
	} `json:"extra_info"`
	BaseResp struct {
		StatusCode int    `json:"status_code"`
		StatusMsg  string `json:"status_msg"`
	} `json:"base_resp"`
	TraceID string `json:"trace_id"`
}

// Synthesize performs one synchronous synthesis call and returns decoded MP3
// bytes.
func (c *MiniMaxClient) Synthesize(ctx context.Context, voiceID, text string) ([]byte, error) {
	if c.APIKey == "" {
		return nil, &SynthesisError{Msg: "api key missing"}
	}
	body := synthesisRequest{
		Model:         "speech-02-turbo",
		Text:          text,
		Stream:        false,
		LanguageBoost: "auto",
		OutputFormat:  "hex",
		VoiceSetting: voiceSetting{
			VoiceID: strings.TrimSpace(voiceID),
			Speed:   1.1,
			Vol:     1.0,
			Pitch:   0,
			Emotion: "happy",
		},
		AudioSetting: audioSetting{SampleRate: 32000, Bitrate: 128000, Format: "mp3"},
	}
	buf, _ := json.Marshal(body)

	endpoint := c.BaseURL + "/v1/t2a_v2?GroupId=" + url.QueryEscape(c.GroupID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(buf))
	if err != nil {
		return nil, &SynthesisError{Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		if isTimeout(ctx, err) {
			return nil, &TimeoutError{Err: err}
		}
		return nil, &SynthesisError{Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &SynthesisError{Status: resp.StatusCode, Msg: string(b)}
	}

	var sr synthesisResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, &SynthesisError{Err: errors.Wrap(err, "decode response")}
	}
	if sr.BaseResp.StatusCode != 0 {
		return nil, &SynthesisError{Status: sr.BaseResp.StatusCode, Msg: sr.BaseResp.StatusMsg}
	}
	if sr.Data.Audio == "" {
		return nil, &SynthesisError{Msg: "response missing audio data"}
	}
	return decodeHexAudio(sr.Data.Audio)
}

// decodeHexAudio converts the service's hex payload to raw bytes, dropping a
// trailing nibble if the payload length is odd.
func decodeHexAudio(h string) ([]byte, error) {
	if len(h)%2 != 0 {
		h = h[:len(h)-1]
	}
	out, err := hex.DecodeString(h)
	if err != nil {
		return nil, &SynthesisError{Err: errors.Wrap(err, "invalid hex audio data")}
	}
	if len(out) == 0 {
		return nil, &SynthesisError{Msg: "empty audio payload"}
	}
	return out, nil
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if ctx.Err() == context.DeadlineExceeded {
		return true
	}
	var ue *url.Error
	if errors.As(err, &ue) && ue.Timeout() {
		return true
	}
	return false
}
