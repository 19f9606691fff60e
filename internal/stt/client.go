// Package stt turns a finished audio capture into text through a REST speech
// service with token-based auth.
package stt

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// tokenExpiryMargin renews the access token this long before its reported
// expiry to avoid boundary failures.
const tokenExpiryMargin = 5 * time.Minute

// RecognitionError is a speech-to-text failure, either transport-level or an
// API error code. Surfaced to the user as a dismissible notice; never retried
// automatically.
type RecognitionError struct {
	Code int
	Msg  string
	Err  error
}

func (e *RecognitionError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("speech recognition: code=%d msg=%s", e.Code, e.Msg)
	}
	return fmt.Sprintf("speech recognition: %v", e.Err)
}

func (e *RecognitionError) Unwrap() error { return e.Err }

// Recognizer resolves recognized text for a completed audio capture.
type Recognizer interface {
	Recognize(ctx context.Context, audio []byte, format string) (string, error)
}

// Client is a REST recognizer. Tokens are fetched with client credentials and
// cached until shortly before expiry.
type Client struct {
	HTTPClient *http.Client
	APIKey     string
	SecretKey  string
	TokenURL   string
	SpeechURL  string
	DeviceID   string

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

func NewClient(apiKey, secretKey, tokenURL, speechURL string) *Client {
	return &Client{
		HTTPClient: &http.Client{Timeout: 20 * time.Second},
		APIKey:     apiKey,
		SecretKey:  secretKey,
		TokenURL:   tokenURL,
		SpeechURL:  speechURL,
		DeviceID:   "round-cast-client",
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

type recognizeRequest struct {
	Format  string `json:"format"`
	Rate    int    `json:"rate"`
	Channel int    `json:"channel"`
	Cuid    string `json:"cuid"`
	Token   string `json:"token"`
	Speech  string `json:"speech"`
	Len     int    `json:"len"`
}

type recognizeResponse struct {
	ErrNo  int      `json:"err_no"`
	ErrMsg string   `json:"err_msg"`
	Result []string `json:"result"`
}

func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.token != "" && time.Now().Before(c.expiresAt) {
		tok := c.token
		c.mu.Unlock()
		return tok, nil
	}
	c.mu.Unlock()

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.APIKey},
		"client_secret": {c.SecretKey},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", &RecognitionError{Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &RecognitionError{Err: errors.Wrap(err, "fetch token")}
	}
	defer resp.Body.Close()
	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", &RecognitionError{Err: errors.Wrap(err, "decode token response")}
	}
	if tr.AccessToken == "" {
		return "", &RecognitionError{Msg: "token response missing access_token"}
	}

	c.mu.Lock()
	c.token = tr.AccessToken
	c.expiresAt = time.Now().Add(time.Duration(tr.ExpiresIn)*time.Second - tokenExpiryMargin)
	c.mu.Unlock()
	return tr.AccessToken, nil
}

// Recognize posts the capture as base64 and returns the first recognition
// candidate.
func (c *Client) Recognize(ctx context.Context, audio []byte, format string) (string, error) {
	if len(audio) == 0 {
		return "", &RecognitionError{Msg: "empty audio capture"}
	}
	token, err := c.accessToken(ctx)
	if err != nil {
		return "", err
	}
	body := recognizeRequest{
		Format:  format,
		Rate:    16000,
		Channel: 1,
		Cuid:    c.DeviceID,
		Token:   token,
		Speech:  base64.StdEncoding.EncodeToString(audio),
		Len:     len(audio),
	}
	buf, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.SpeechURL, bytes.NewReader(buf))
	if err != nil {
		return "", &RecognitionError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &RecognitionError{Err: err}
	}
	defer resp.Body.Close()
	var rr recognizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return "", &RecognitionError{Err: errors.Wrap(err, "decode response")}
	}
	if rr.ErrNo != 0 {
		return "", &RecognitionError{Code: rr.ErrNo, Msg: rr.ErrMsg}
	}
	if len(rr.Result) == 0 || strings.TrimSpace(rr.Result[0]) == "" {
		return "", &RecognitionError{Msg: "no recognition result"}
	}
	return strings.TrimSpace(rr.Result[0]), nil
}
