package prompt

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/samuel-adebayo/docextract/internal/common"
)

// Spec carries everything that goes into one page's prompt. Rendering a Spec
// is pure: the same inputs always produce the same string.
type Spec struct {
	Template   string
	AuxText    string
	SchemaHint map[string]any
}

const (
	auxHeader    = "--- Document text ---"
	schemaHeader = "--- Target schema (guidance only) ---"
)

// DefaultMaxBytes is the policy ceiling on a rendered prompt. It is not a
// protocol limit; the orchestrator may retry a too-large render with the
// auxiliary text omitted.
const DefaultMaxBytes = 32768

type Builder struct {
	MaxBytes int
}

func NewBuilder(maxBytes int) Builder {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return Builder{MaxBytes: maxBytes}
}

// Render assembles template, auxiliary text, and schema hint into the final
// prompt. It never truncates: exceeding the ceiling fails with
// ErrPromptTooLarge instead.
func (b Builder) Render(s Spec) (string, error) {
	var sb strings.Builder
	sb.WriteString(strings.TrimSpace(s.Template))

	if aux := strings.TrimSpace(s.AuxText); aux != "" {
		sb.WriteString("\n\n")
		sb.WriteString(auxHeader)
		sb.WriteString("\n")
		sb.WriteString(aux)
	}

	if len(s.SchemaHint) > 0 {
		// json.MarshalIndent sorts map keys, so the hint section is stable
		// across renders.
		hint, err := json.MarshalIndent(s.SchemaHint, "", "  ")
		if err != nil {
			return "", fmt.Errorf("marshal schema hint: %w", err)
		}
		sb.WriteString("\n\n")
		sb.WriteString(schemaHeader)
		sb.WriteString("\n")
		sb.Write(hint)
	}

	out := sb.String()
	if len(out) > b.MaxBytes {
		return "", fmt.Errorf("%w: %d bytes, max %d", common.ErrPromptTooLarge, len(out), b.MaxBytes)
	}
	return out, nil
}
