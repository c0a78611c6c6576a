package document

import (
	"fmt"

	"github.com/samuel-adebayo/docextract/constants"
	"github.com/samuel-adebayo/docextract/internal/common"
)

// Strategy selects how a document is materialized into pages.
type Strategy string

const (
	StrategySingleImage  Strategy = "single-image"
	StrategyPDFRasterize Strategy = "pdf-rasterize"
	StrategyPDFEmbedded  Strategy = "pdf-embedded-images"
	StrategyPDFText      Strategy = "pdf-text"
)

// Recognized PDF_STRATEGY configuration values. The PDF sub-strategy is a
// caller policy, never inferred from content.
const (
	PDFRasterize = "rasterize"
	PDFEmbedded  = "embedded"
	PDFText      = "text"
)

// Classify maps a declared media type plus the configured PDF sub-strategy to
// a materialization strategy. The declaration is trusted; bytes are not
// sniffed.
func Classify(mediaType, pdfStrategy string) (Strategy, error) {
	switch mediaType {
	case constants.MediaJPEG, constants.MediaPNG:
		return StrategySingleImage, nil
	case constants.MediaPDF:
		switch pdfStrategy {
		case PDFRasterize:
			return StrategyPDFRasterize, nil
		case PDFEmbedded:
			return StrategyPDFEmbedded, nil
		case PDFText:
			return StrategyPDFText, nil
		default:
			return "", fmt.Errorf("%w: unknown pdf strategy %q", common.ErrInvalidInput, pdfStrategy)
		}
	default:
		return "", fmt.Errorf("%w: %q", common.ErrUnsupportedMediaType, mediaType)
	}
}
