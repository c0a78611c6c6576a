package ollama

import (
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Config for the Ollama client.
type Config struct {
	BaseURL     string // default http://localhost:11434
	VisionURL   string // full override for the vision endpoint; default BaseURL+/api/generate
	TextURL     string // full override for the chat endpoint; default BaseURL+/api/chat
	VisionModel string // e.g., "minicpm-v"
	TextModel   string
	MaxAttempts int           // retry budget for transient failures, default 3
	BaseDelay   time.Duration // first backoff delay, doubled per attempt
	Timeout     time.Duration // http client timeout
}

type Client struct {
	cfg  Config
	http *http.Client
	log  *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if cfg.VisionURL == "" {
		cfg.VisionURL = base + "/api/generate"
	}
	if cfg.TextURL == "" {
		cfg.TextURL = base + "/api/chat"
	}
	if cfg.VisionModel == "" {
		cfg.VisionModel = "minicpm-v"
	}
	if cfg.TextModel == "" {
		cfg.TextModel = cfg.VisionModel
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 500 * time.Millisecond
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  logger,
	}
}
