package pdfio

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/gen2brain/go-fitz"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/samuel-adebayo/docextract/internal/common"
	"github.com/samuel-adebayo/docextract/internal/document"

	_ "image/jpeg"
)

// DefaultDPI is the rasterization resolution used when none is configured.
const DefaultDPI = 300

// Materializer turns a Document into its ordered sequence of Pages.
type Materializer struct {
	logger *slog.Logger
}

func NewMaterializer(logger *slog.Logger) *Materializer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Materializer{logger: logger}
}

// Materialize dispatches on the chosen strategy. A parse failure of the
// declared kind is fatal for the whole run; no partial page set is returned.
func (m *Materializer) Materialize(ctx context.Context, doc *document.Document, strategy document.Strategy, dpi int) ([]document.Page, error) {
	if dpi <= 0 {
		dpi = DefaultDPI
	}
	start := time.Now()

	var pages []document.Page
	var err error
	switch strategy {
	case document.StrategySingleImage:
		pages, err = m.singleImage(doc)
	case document.StrategyPDFRasterize:
		pages, err = m.rasterizePDF(ctx, doc, dpi)
	case document.StrategyPDFEmbedded:
		pages, err = m.embeddedImages(ctx, doc)
	case document.StrategyPDFText:
		pages, err = m.pdfText(ctx, doc)
	default:
		return nil, fmt.Errorf("%w: unknown strategy %q", common.ErrInvalidInput, strategy)
	}
	if err != nil {
		return nil, err
	}

	m.logger.Info("materialize.ok",
		"doc", doc.Name,
		"strategy", string(strategy),
		"pages", len(pages),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return pages, nil
}

func (m *Materializer) singleImage(doc *document.Document) ([]document.Page, error) {
	if _, _, err := image.DecodeConfig(bytes.NewReader(doc.Bytes)); err != nil {
		return nil, fmt.Errorf("%w: decode image: %v", common.ErrMaterialization, err)
	}
	return []document.Page{{Index: 0, Image: doc.Bytes}}, nil
}

// rasterizePDF renders every PDF page to a PNG at the given DPI, one Page per
// rendered page in document order.
func (m *Materializer) rasterizePDF(ctx context.Context, doc *document.Document, dpi int) ([]document.Page, error) {
	fz, err := fitz.NewFromMemory(doc.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: open pdf: %v", common.ErrMaterialization, err)
	}
	defer fz.Close()

	n := fz.NumPage()
	if n == 0 {
		return nil, fmt.Errorf("%w: pdf has no pages", common.ErrMaterialization)
	}

	pages := make([]document.Page, 0, n)
	for i := 0; i < n; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		img, err := fz.ImageDPI(i, float64(dpi))
		if err != nil {
			return nil, fmt.Errorf("%w: render page %d: %v", common.ErrMaterialization, i, err)
		}
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("%w: encode page %d: %v", common.ErrMaterialization, i, err)
		}
		pages = append(pages, document.Page{Index: i, Image: buf.Bytes()})
	}
	return pages, nil
}

// embeddedImages pulls out raster images already embedded in the PDF, in
// document traversal order (page order, then object order within the page).
// PDF pages with zero embedded images contribute nothing.
func (m *Materializer) embeddedImages(ctx context.Context, doc *document.Document) ([]document.Page, error) {
	conf := model.NewDefaultConfiguration()
	perPage, err := api.ExtractImagesRaw(bytes.NewReader(doc.Bytes), nil, conf)
	if err != nil {
		return nil, fmt.Errorf("%w: extract embedded images: %v", common.ErrMaterialization, err)
	}

	var imgs []model.Image
	for _, byObj := range perPage {
		for _, img := range byObj {
			imgs = append(imgs, img)
		}
	}
	sort.Slice(imgs, func(i, j int) bool {
		if imgs[i].PageNr != imgs[j].PageNr {
			return imgs[i].PageNr < imgs[j].PageNr
		}
		return imgs[i].ObjNr < imgs[j].ObjNr
	})

	pages := make([]document.Page, 0, len(imgs))
	for _, img := range imgs {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		data, err := io.ReadAll(img)
		if err != nil {
			return nil, fmt.Errorf("%w: read embedded image p%d/%d: %v", common.ErrMaterialization, img.PageNr, img.ObjNr, err)
		}
		pages = append(pages, document.Page{Index: len(pages), Image: data})
	}

	m.logger.Debug("materialize.embedded", "doc", doc.Name, "images", len(pages))
	return pages, nil
}

// pdfText extracts the text layer of every page and concatenates it, in page
// order, into a single text-only Page. A form feed marks page breaks.
func (m *Materializer) pdfText(ctx context.Context, doc *document.Document) ([]document.Page, error) {
	fz, err := fitz.NewFromMemory(doc.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: open pdf: %v", common.ErrMaterialization, err)
	}
	defer fz.Close()

	n := fz.NumPage()
	if n == 0 {
		return nil, fmt.Errorf("%w: pdf has no pages", common.ErrMaterialization)
	}

	var b strings.Builder
	for i := 0; i < n; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		txt, err := fz.Text(i)
		if err != nil {
			return nil, fmt.Errorf("%w: extract text page %d: %v", common.ErrMaterialization, i, err)
		}
		if b.Len() > 0 {
			b.WriteString("\n\f\n") // keep a clear page break marker
		}
		b.WriteString(txt)
	}
	return []document.Page{{Index: 0, SourceText: b.String()}}, nil
}
