package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/samuel-adebayo/docextract/internal/common"
	"github.com/samuel-adebayo/docextract/internal/document"
	"github.com/samuel-adebayo/docextract/internal/llm"
	"github.com/samuel-adebayo/docextract/internal/prompt"
	"github.com/samuel-adebayo/docextract/internal/sink"
)

// Materializer turns a document into its ordered pages.
type Materializer interface {
	Materialize(ctx context.Context, doc *document.Document, strategy document.Strategy, dpi int) ([]document.Page, error)
}

// TextRecognizer is the OCR capability. Failures are never fatal to a page.
type TextRecognizer interface {
	ExtractImage(ctx context.Context, img []byte) (string, error)
}

// Config holds orchestration policy.
type Config struct {
	Concurrency    int // page worker bound, default 1 (sequential)
	DPI            int
	OCREnabled     bool
	PromptMaxBytes int
}

// PageResult is one entry of a pipeline result.
type PageResult struct {
	PageIndex int               `json:"page_index"`
	Response  llm.ModelResponse `json:"response"`
}

// Result covers every materialized page exactly once, in increasing
// page_index order, regardless of individual failures.
type Result struct {
	RunID    string       `json:"run_id"`
	Document string       `json:"document"`
	Pages    []PageResult `json:"pages"`
}

// Orchestrator drives pages through context extraction, prompt building, and
// model invocation, then hands ordered results to the sink.
type Orchestrator struct {
	cfg     Config
	mat     Materializer
	ocr     TextRecognizer // nil when OCR is disabled or unavailable
	builder prompt.Builder
	invoker llm.Invoker
	sink    sink.Sink
	logger  *slog.Logger
}

func NewOrchestrator(cfg Config, mat Materializer, ocr TextRecognizer, invoker llm.Invoker, out sink.Sink, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Orchestrator{
		cfg:     cfg,
		mat:     mat,
		ocr:     ocr,
		builder: prompt.NewBuilder(cfg.PromptMaxBytes),
		invoker: invoker,
		sink:    out,
		logger:  logger,
	}
}

// Run executes one pipeline run. A materialization failure aborts the run
// with no result; any later failure is captured inside that page's response
// and never touches sibling pages. The returned result is ordered by page
// index even when workers complete out of order.
func (o *Orchestrator) Run(ctx context.Context, doc *document.Document, strategy document.Strategy, template string, schemaHint map[string]any) (*Result, error) {
	runID := uuid.New().String()
	start := time.Now()

	pages, err := o.mat.Materialize(ctx, doc, strategy, o.cfg.DPI)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		if !errors.Is(err, common.ErrMaterialization) {
			err = fmt.Errorf("%w: %v", common.ErrMaterialization, err)
		}
		o.logger.Error("pipeline.materialize.failed", "run_id", runID, "doc", doc.Name, "error", err)
		return nil, err
	}

	o.logger.Info("pipeline.run.start",
		"run_id", runID,
		"doc", doc.Name,
		"strategy", string(strategy),
		"pages", len(pages),
		"concurrency", o.cfg.Concurrency,
	)

	// Results land in an index-addressed slot per page, so ordering never
	// depends on completion order.
	results := make([]llm.ModelResponse, len(pages))
	started := make([]bool, len(pages))

	var g errgroup.Group
	g.SetLimit(o.cfg.Concurrency)
	for _, pg := range pages {
		if ctx.Err() != nil {
			break // stop dispatching; in-flight pages finish on their own
		}
		pg := pg
		started[pg.Index] = true
		g.Go(func() error {
			if ctx.Err() != nil {
				results[pg.Index] = llm.Errorf(llm.CodeCancelled, "page never started: run cancelled")
				return nil
			}
			results[pg.Index] = o.processPage(ctx, runID, pg, template, schemaHint)
			return nil
		})
	}
	_ = g.Wait()

	for i := range results {
		if !started[i] {
			results[i] = llm.Errorf(llm.CodeCancelled, "page never started: run cancelled")
		}
	}

	res := &Result{RunID: runID, Document: doc.Name, Pages: make([]PageResult, len(pages))}
	for i, r := range results {
		res.Pages[i] = PageResult{PageIndex: i, Response: r}
		if o.sink != nil {
			if err := o.sink.Write(i, r); err != nil {
				o.logger.Warn("pipeline.sink.write_failed", "run_id", runID, "page", i, "error", err)
			}
		}
	}

	o.logger.Info("pipeline.run.done",
		"run_id", runID,
		"pages", len(pages),
		"failed", countFailed(results),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

func (o *Orchestrator) processPage(ctx context.Context, runID string, pg document.Page, template string, schemaHint map[string]any) llm.ModelResponse {
	aux := o.auxiliaryText(ctx, runID, pg)

	spec := prompt.Spec{Template: template, AuxText: aux, SchemaHint: schemaHint}
	rendered, err := o.builder.Render(spec)
	if err != nil && errors.Is(err, common.ErrPromptTooLarge) && aux != "" {
		// Drop the auxiliary text and try once more before giving up on the page.
		o.logger.Warn("pipeline.prompt.too_large", "run_id", runID, "page", pg.Index, "retry", "without aux text")
		spec.AuxText = ""
		rendered, err = o.builder.Render(spec)
	}
	if err != nil {
		if errors.Is(err, common.ErrPromptTooLarge) {
			return llm.Errorf(llm.CodePromptSize, "%v", err)
		}
		return llm.Errorf(llm.CodePermanent, "render prompt: %v", err)
	}

	profile := llm.ProfileText
	if pg.HasImage() {
		profile = llm.ProfileVision
	}
	return o.invoker.Invoke(ctx, llm.Job{Profile: profile, Prompt: rendered, Image: pg.Image})
}

// auxiliaryText returns the page's own text layer when present, otherwise an
// OCR pass over the image when enabled. OCR is an enhancement: any failure
// degrades to "no auxiliary text" and the vision call proceeds on the image
// alone.
func (o *Orchestrator) auxiliaryText(ctx context.Context, runID string, pg document.Page) string {
	if pg.SourceText != "" {
		return pg.SourceText
	}
	if !o.cfg.OCREnabled || o.ocr == nil || !pg.HasImage() {
		return ""
	}
	txt, err := o.ocr.ExtractImage(ctx, pg.Image)
	if err != nil {
		o.logger.Warn("pipeline.ocr.failed", "run_id", runID, "page", pg.Index, "error", err)
		return ""
	}
	return txt
}

func countFailed(rs []llm.ModelResponse) int {
	n := 0
	for _, r := range rs {
		if r.Status != llm.StatusOK {
			n++
		}
	}
	return n
}
