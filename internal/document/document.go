package document

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/samuel-adebayo/docextract/constants"
	"github.com/samuel-adebayo/docextract/internal/common"
)

// Kind is the declared kind of an uploaded document.
type Kind string

const (
	KindImage Kind = "IMAGE"
	KindPDF   Kind = "PDF"
)

// Document is one upload. Immutable once created; owned by a single pipeline
// run and discarded afterward.
type Document struct {
	Name        string
	Kind        Kind
	Bytes       []byte
	ContentHash string
}

// New validates the declared media type and wraps the raw upload. The bytes
// are trusted to match the declaration; mismatches surface later as a
// materialization failure.
func New(name, mediaType string, data []byte) (*Document, error) {
	if !constants.IsSupportedMediaType(mediaType) {
		return nil, fmt.Errorf("%w: %q", common.ErrUnsupportedMediaType, mediaType)
	}
	kind := KindImage
	if mediaType == constants.MediaPDF {
		kind = KindPDF
	}
	sum := sha256.Sum256(data)
	return &Document{
		Name:        name,
		Kind:        kind,
		Bytes:       data,
		ContentHash: hex.EncodeToString(sum[:]),
	}, nil
}

// Page is one unit of extractable content derived from a Document. Indices
// are contiguous from 0 in materialization order. At least one of Image or
// SourceText is populated.
type Page struct {
	Index      int
	Image      []byte
	SourceText string
}

// HasImage reports whether the page carries image bytes.
func (p Page) HasImage() bool { return len(p.Image) > 0 }
