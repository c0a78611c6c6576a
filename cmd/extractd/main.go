package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/samuel-adebayo/docextract/internal/common"
	"github.com/samuel-adebayo/docextract/internal/llm/ollama"
	"github.com/samuel-adebayo/docextract/internal/ocr"
	"github.com/samuel-adebayo/docextract/internal/pdfio"
	"github.com/samuel-adebayo/docextract/internal/pipeline"
	"github.com/samuel-adebayo/docextract/internal/server"
	"github.com/samuel-adebayo/docextract/internal/sink"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	schemaHint, _ := cfg.SchemaHint()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// OCR engine is a process-wide singleton; construct it before any
	// concurrent page processing begins.
	var recognizer pipeline.TextRecognizer
	if cfg.OCR.Enabled {
		recognizer = ocr.Init(ocr.Config{
			Tesseract:     cfg.OCR.Tesseract,
			TesseractLang: cfg.OCR.TesseractLang,
			TessdataDir:   cfg.OCR.TessdataDir,
		}, logger)
	}

	out, err := sink.NewFileSink(cfg.Sink.OutputPath)
	if err != nil {
		logger.Error("open result sink", "path", cfg.Sink.OutputPath, "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := out.Close(); err != nil {
			logger.Warn("close result sink", "error", err)
		}
	}()

	invoker := ollama.NewClient(ollama.Config{
		BaseURL:     cfg.LLM.BaseURL,
		VisionURL:   cfg.LLM.VisionURL,
		TextURL:     cfg.LLM.TextURL,
		VisionModel: cfg.LLM.VisionModel,
		TextModel:   cfg.LLM.TextModel,
		MaxAttempts: cfg.LLM.MaxAttempts,
		BaseDelay:   cfg.LLM.BaseDelay,
		Timeout:     cfg.LLM.Timeout,
	}, logger)

	orch := pipeline.NewOrchestrator(pipeline.Config{
		Concurrency:    cfg.Pipeline.Concurrency,
		DPI:            cfg.Pipeline.DPI,
		OCREnabled:     cfg.OCR.Enabled,
		PromptMaxBytes: cfg.Pipeline.PromptMaxBytes,
	}, pdfio.NewMaterializer(logger), recognizer, invoker, out, logger)

	srv := server.New(orch, cfg.Pipeline.PDFStrategy, cfg.Pipeline.DefaultPrompt, schemaHint, logger)
	httpServer := &http.Server{
		Addr:         cfg.Server.HTTPAddr,
		Handler:      srv.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.Server.RequestTimeout,
	}

	go func() {
		logger.Info("http serving", "addr", cfg.Server.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http serve", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
}
