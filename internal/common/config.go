package common

import (
	"encoding/json"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Pipeline PipelineConfig
	OCR      OCRConfig
	LLM      LLMConfig
	Sink     SinkConfig
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	HTTPAddr       string
	RequestTimeout time.Duration
}

// PipelineConfig holds extraction pipeline configuration
type PipelineConfig struct {
	PDFStrategy    string // rasterize | embedded | text
	DPI            int
	Concurrency    int
	PromptMaxBytes int
	DefaultPrompt  string
	SchemaHintJSON string // optional JSON object appended to prompts as guidance
}

// OCRConfig holds OCR-related configuration
type OCRConfig struct {
	Enabled       bool
	Tesseract     string
	TesseractLang string
	TessdataDir   string
}

// LLMConfig holds model-server configuration
type LLMConfig struct {
	BaseURL     string
	VisionURL   string // optional full override of BaseURL+/api/generate
	TextURL     string // optional full override of BaseURL+/api/chat
	VisionModel string
	TextModel   string
	MaxAttempts int
	BaseDelay   time.Duration
	Timeout     time.Duration
}

// SinkConfig holds result sink configuration
type SinkConfig struct {
	OutputPath string
}

// DefaultPrompt mirrors the prompt the pipeline was originally built around.
const DefaultPrompt = "Extract data in JSON format from this uploaded invoice"

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPAddr:       getEnv("HTTP_ADDR", ":8080"),
			RequestTimeout: getEnvAsDuration("REQUEST_TIMEOUT", 5*time.Minute),
		},
		Pipeline: PipelineConfig{
			PDFStrategy:    getEnv("PDF_STRATEGY", "rasterize"),
			DPI:            getEnvAsInt("DPI", 300),
			Concurrency:    getEnvAsInt("CONCURRENCY", 1),
			PromptMaxBytes: getEnvAsInt("PROMPT_MAX_BYTES", 32768),
			DefaultPrompt:  getEnv("DEFAULT_PROMPT", DefaultPrompt),
			SchemaHintJSON: getEnv("PROMPT_SCHEMA_HINT", ""),
		},
		OCR: OCRConfig{
			Enabled:       getEnvAsBool("OCR_ENABLED", true),
			Tesseract:     getEnv("TESSERACT_BIN", "tesseract"),
			TesseractLang: getEnv("TESSERACT_LANG", "eng"),
			TessdataDir:   getEnv("TESSDATA_PREFIX", ""),
		},
		LLM: LLMConfig{
			BaseURL:     getEnv("OLLAMA_BASE_URL", "http://localhost:11434"),
			VisionURL:   getEnv("VISION_URL", ""),
			TextURL:     getEnv("TEXT_URL", ""),
			VisionModel: getEnv("VISION_MODEL", "minicpm-v"),
			TextModel:   getEnv("TEXT_MODEL", "minicpm-v"),
			MaxAttempts: getEnvAsInt("RETRY_MAX_ATTEMPTS", 3),
			BaseDelay:   getEnvAsDuration("RETRY_BASE_DELAY", 500*time.Millisecond),
			Timeout:     getEnvAsDuration("MODEL_TIMEOUT", 120*time.Second),
		},
		Sink: SinkConfig{
			OutputPath: getEnv("OUTPUT_PATH", "output.txt"),
		},
	}
}

// SchemaHint parses the configured schema hint JSON, if any.
func (c *Config) SchemaHint() (map[string]any, error) {
	if c.Pipeline.SchemaHintJSON == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(c.Pipeline.SchemaHintJSON), &m); err != nil {
		return nil, WrapError(err, "parse PROMPT_SCHEMA_HINT")
	}
	return m, nil
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// ValidateConfig validates the loaded configuration
func (c *Config) Validate() error {
	switch c.Pipeline.PDFStrategy {
	case "rasterize", "embedded", "text":
	default:
		return NewAppError("CONFIG_ERROR", "PDF_STRATEGY must be one of rasterize|embedded|text", ErrInvalidInput)
	}
	if c.Pipeline.DPI <= 0 {
		return NewAppError("CONFIG_ERROR", "DPI must be positive", ErrInvalidInput)
	}
	if c.Pipeline.Concurrency <= 0 {
		return NewAppError("CONFIG_ERROR", "CONCURRENCY must be positive", ErrInvalidInput)
	}
	if c.LLM.MaxAttempts <= 0 {
		return NewAppError("CONFIG_ERROR", "RETRY_MAX_ATTEMPTS must be positive", ErrInvalidInput)
	}
	if c.LLM.BaseURL == "" && (c.LLM.VisionURL == "" || c.LLM.TextURL == "") {
		return NewAppError("CONFIG_ERROR", "OLLAMA_BASE_URL is required unless both profile URLs are set", ErrInvalidInput)
	}
	if _, err := c.SchemaHint(); err != nil {
		return NewAppError("CONFIG_ERROR", "PROMPT_SCHEMA_HINT must be a JSON object", err)
	}
	return nil
}
