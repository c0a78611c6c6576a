package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/samuel-adebayo/docextract/constants"
	"github.com/samuel-adebayo/docextract/internal/common"
	"github.com/samuel-adebayo/docextract/internal/document"
	"github.com/samuel-adebayo/docextract/internal/llm"
	"github.com/samuel-adebayo/docextract/internal/llm/ollama"
	"github.com/samuel-adebayo/docextract/internal/ocr"
	"github.com/samuel-adebayo/docextract/internal/pdfio"
	"github.com/samuel-adebayo/docextract/internal/pipeline"
	"github.com/samuel-adebayo/docextract/internal/sink"
)

var (
	flagFile        string
	flagPrompt      string
	flagStrategy    string
	flagDPI         int
	flagConcurrency int
	flagNoOCR       bool
	flagOut         string
	flagTimeout     time.Duration
)

func main() {
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "extract",
		Short: "Run the document extraction pipeline on a single file",
		RunE:  run,
	}
	root.Flags().StringVarP(&flagFile, "file", "f", "", "document to process (jpg, png, or pdf)")
	root.Flags().StringVarP(&flagPrompt, "prompt", "p", "", "instruction template (default from config)")
	root.Flags().StringVar(&flagStrategy, "strategy", "", "pdf strategy: rasterize|embedded|text")
	root.Flags().IntVar(&flagDPI, "dpi", 0, "rasterization DPI")
	root.Flags().IntVar(&flagConcurrency, "concurrency", 0, "page worker bound")
	root.Flags().BoolVar(&flagNoOCR, "no-ocr", false, "skip the OCR context pass")
	root.Flags().StringVarP(&flagOut, "out", "o", "", "result log path")
	root.Flags().DurationVar(&flagTimeout, "timeout", 0, "overall run timeout (0 = none)")
	_ = root.MarkFlagRequired("file")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	slog.SetDefault(logger)

	cfg := common.LoadConfig()
	applyFlags(cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	schemaHint, _ := cfg.SchemaHint()

	mediaType := constants.MapExtToMediaType(filepath.Ext(flagFile))
	if mediaType == "" {
		return fmt.Errorf("%w: extension %q", common.ErrUnsupportedMediaType, filepath.Ext(flagFile))
	}

	data, err := os.ReadFile(flagFile)
	if err != nil {
		return fmt.Errorf("read %s: %w", flagFile, err)
	}
	doc, err := document.New(filepath.Base(flagFile), mediaType, data)
	if err != nil {
		return err
	}
	strategy, err := document.Classify(mediaType, cfg.Pipeline.PDFStrategy)
	if err != nil {
		return err
	}

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
		return err
	}
	defer out.Close()

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

	template := flagPrompt
	if template == "" {
		template = cfg.Pipeline.DefaultPrompt
	}

	ctx := cmd.Context()
	if flagTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, flagTimeout)
		defer cancel()
	}

	res, err := orch.Run(ctx, doc, strategy, template, schemaHint)
	if err != nil {
		return err
	}

	for _, pr := range res.Pages {
		if pr.Response.Status == llm.StatusOK {
			fmt.Printf("--- page %d ---\n%s\n", pr.PageIndex, pr.Response.Text)
		} else {
			fmt.Printf("--- page %d (error %s) ---\n%s\n", pr.PageIndex, pr.Response.Code, pr.Response.Message)
		}
	}
	fmt.Printf("results appended to %s\n", cfg.Sink.OutputPath)
	return nil
}

func applyFlags(cfg *common.Config) {
	if flagStrategy != "" {
		cfg.Pipeline.PDFStrategy = flagStrategy
	}
	if flagDPI > 0 {
		cfg.Pipeline.DPI = flagDPI
	}
	if flagConcurrency > 0 {
		cfg.Pipeline.Concurrency = flagConcurrency
	}
	if flagNoOCR {
		cfg.OCR.Enabled = false
	}
	if flagOut != "" {
		cfg.Sink.OutputPath = flagOut
	}
}
