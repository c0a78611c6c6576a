package ocr

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

type Config struct {
	Tesseract string // binary name or absolute path; if empty -> "tesseract"

	TesseractLang string // default "eng"
	TessdataDir   string

	PSM int // e.g., 6 is good for uniform block of text
	OEM int // 1 = LSTM; leave 0 to use default
}

// Engine runs OCR over raw image bytes. Construction is cheap here, but the
// process-wide instance is still initialized exactly once, before any
// concurrent page processing, and is read-only afterward.
type Engine struct {
	cfg    Config
	runner Runner
	logger *slog.Logger
}

var (
	defaultEngine *Engine
	initOnce      sync.Once
)

// Init sets up the process-wide engine. Not safe for concurrent use; call it
// from main before the pipeline starts. Subsequent calls are no-ops.
func Init(cfg Config, logger *slog.Logger) *Engine {
	initOnce.Do(func() {
		defaultEngine = NewEngine(cfg, logger)
	})
	return defaultEngine
}

// Default returns the engine set up by Init, or nil if Init was never called.
func Default() *Engine { return defaultEngine }

func NewEngine(cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.TesseractLang == "" {
		cfg.TesseractLang = "eng"
	}
	return &Engine{cfg: cfg, runner: newExecRunner(logger), logger: logger}
}

// ExtractImage OCRs one image and returns its text in the engine's reading
// order, one recognized line per output line.
func (e *Engine) ExtractImage(ctx context.Context, img []byte) (string, error) {
	start := time.Now()

	tmpDir, err := os.MkdirTemp("", "dx-ocr-*")
	if err != nil {
		return "", fmt.Errorf("ocr temp dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(tmpDir); err != nil {
			e.logger.Warn("ocr temp cleanup failed", "dir", tmpDir, "error", err)
		}
	}()

	path := filepath.Join(tmpDir, "page.png")
	if err := os.WriteFile(path, img, 0o600); err != nil {
		return "", fmt.Errorf("ocr write image: %w", err)
	}

	args := []string{path, "stdout", "-l", e.cfg.TesseractLang}
	if e.cfg.PSM > 0 {
		args = append(args, "--psm", fmt.Sprintf("%d", e.cfg.PSM))
	}
	if e.cfg.OEM > 0 {
		args = append(args, "--oem", fmt.Sprintf("%d", e.cfg.OEM))
	}
	if e.cfg.TessdataDir != "" {
		args = append(args, "--tessdata-dir", e.cfg.TessdataDir)
	}

	out, errb, err := e.runner.Run(ctx, e.cfg.Tesseract, args...)
	if err != nil {
		return "", fmt.Errorf("tesseract: %w: %s", err, clip(string(errb), 512))
	}

	txt := Normalize(string(out))
	e.logger.Debug("ocr.extract.ok",
		"bytes_in", len(img),
		"text_len", len(txt),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return txt, nil
}

// Normalize trims carriage returns and collapses runs of blank lines, keeping
// the engine's own line ordering intact.
func Normalize(s string) string {
	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, ln := range lines {
		ln = strings.TrimRight(ln, " \t")
		if strings.TrimSpace(ln) == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, ln)
	}
	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	return strings.Join(out, "\n")
}
