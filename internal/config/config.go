package config

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds application configuration.
type Config struct {
	HTTPAddress    string // mock task service listen address
	TaskAPIBase    string // round-table task service base URL
	MiniMaxAPIKey  string
	MiniMaxGroupID string
	SpeechAPIKey   string // speech-to-text credentials
	SpeechSecret   string
	SpeechTokenURL string
	SpeechURL      string
	SessionDBPath  string
	AudioDir       string
	LogLevel       string
}

// Load reads environment variables (honoring a local .env) and returns Config
// with sane defaults.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file loaded")
	}

	addr := os.Getenv("HTTP_ADDRESS")
	if addr == "" {
		addr = ":8080"
	}

	apiBase := os.Getenv("TASK_API_BASE")
	if apiBase == "" {
		apiBase = "http://localhost:8080"
	}

	minimaxKey := os.Getenv("MINIMAX_API_KEY")
	if minimaxKey == "" {
		log.Warn().Msg("MINIMAX_API_KEY not set - audio synthesis will not work")
	}
	minimaxGroup := os.Getenv("MINIMAX_GROUP_ID")
	if minimaxGroup == "" {
		log.Warn().Msg("MINIMAX_GROUP_ID not set - audio synthesis will not work")
	}

	speechKey := os.Getenv("SPEECH_API_KEY")
	speechSecret := os.Getenv("SPEECH_SECRET_KEY")
	if speechKey == "" || speechSecret == "" {
		log.Warn().Msg("SPEECH_API_KEY / SPEECH_SECRET_KEY not set - voice input will not work")
	}
	tokenURL := os.Getenv("SPEECH_TOKEN_URL")
	if tokenURL == "" {
		tokenURL = "https://aip.baidubce.com/oauth/2.0/token"
	}
	speechURL := os.Getenv("SPEECH_API_URL")
	if speechURL == "" {
		speechURL = "https://vop.baidu.com/server_api"
	}

	dbPath := os.Getenv("SESSION_DB_PATH")
	if dbPath == "" {
		dbPath = "sessions.db"
	}
	audioDir := os.Getenv("AUDIO_DIR")
	if audioDir == "" {
		audioDir = "audio-out"
	}
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = "info"
	}

	return Config{
		HTTPAddress:    addr,
		TaskAPIBase:    apiBase,
		MiniMaxAPIKey:  minimaxKey,
		MiniMaxGroupID: minimaxGroup,
		SpeechAPIKey:   speechKey,
		SpeechSecret:   speechSecret,
		SpeechTokenURL: tokenURL,
		SpeechURL:      speechURL,
		SessionDBPath:  dbPath,
		AudioDir:       audioDir,
		LogLevel:       level,
	}
}
