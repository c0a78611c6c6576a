package constants

import "strings"

// Media types accepted by the upload interface. Anything else is rejected
// before classification.
const (
	MediaJPEG = "image/jpeg"
	MediaPNG  = "image/png"
	MediaPDF  = "application/pdf"
)

// SupportedMediaTypes holds the allowed declared media types for uploads.
var SupportedMediaTypes = map[string]struct{}{
	MediaJPEG: {},
	MediaPNG:  {},
	MediaPDF:  {},
}

// IsSupportedMediaType reports whether the declared media type is accepted.
func IsSupportedMediaType(mt string) bool {
	_, ok := SupportedMediaTypes[strings.ToLower(strings.TrimSpace(mt))]
	return ok
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// MapExtToMediaType maps a file extension to a declared media type.
// Returns "" for extensions we do not recognize.
func MapExtToMediaType(ext string) string {
	switch NormalizeExt(ext) {
	case "jpg", "jpeg":
		return MediaJPEG
	case "png":
		return MediaPNG
	case "pdf":
		return MediaPDF
	default:
		return ""
	}
}
