package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samuel-adebayo/docextract/internal/common"
)

func TestRenderDeterministic(t *testing.T) {
	b := NewBuilder(0)
	spec := Spec{
		Template: "Extract data in JSON format from this uploaded invoice",
		AuxText:  "INVOICE #A1\nTOTAL 12.50",
		SchemaHint: map[string]any{
			"invoice_number": "string",
			"total":          "decimal",
			"currency":       "string",
		},
	}

	first, err := b.Render(spec)
	require.NoError(t, err)
	second, err := b.Render(spec)
	require.NoError(t, err)
	assert.Equal(t, first, second, "rendering the same spec twice must yield identical strings")
}

func TestRenderSections(t *testing.T) {
	b := NewBuilder(0)

	t.Run("template only", func(t *testing.T) {
		out, err := b.Render(Spec{Template: "describe this"})
		require.NoError(t, err)
		assert.Equal(t, "describe this", out)
	})

	t.Run("aux text under its own section", func(t *testing.T) {
		out, err := b.Render(Spec{Template: "describe this", AuxText: "line one\nline two"})
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(out, "describe this"))
		assert.Contains(t, out, auxHeader)
		assert.Contains(t, out, "line one\nline two")
		assert.NotContains(t, out, schemaHeader)
	})

	t.Run("schema hint after aux text", func(t *testing.T) {
		out, err := b.Render(Spec{
			Template:   "describe this",
			AuxText:    "some text",
			SchemaHint: map[string]any{"total": "decimal"},
		})
		require.NoError(t, err)
		assert.Less(t, strings.Index(out, auxHeader), strings.Index(out, schemaHeader))
		assert.Contains(t, out, `"total": "decimal"`)
	})
}

func TestRenderTooLarge(t *testing.T) {
	b := NewBuilder(64)

	_, err := b.Render(Spec{
		Template: "short template",
		AuxText:  strings.Repeat("x", 200),
	})
	require.ErrorIs(t, err, common.ErrPromptTooLarge)

	// the same spec fits once the auxiliary text is dropped
	out, err := b.Render(Spec{Template: "short template"})
	require.NoError(t, err)
	assert.Equal(t, "short template", out)
}

func TestRenderNeverTruncates(t *testing.T) {
	b := NewBuilder(1 << 20)
	aux := strings.Repeat("y", 10_000)
	out, err := b.Render(Spec{Template: "t", AuxText: aux})
	require.NoError(t, err)
	assert.Contains(t, out, aux)
}
