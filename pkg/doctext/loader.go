package doctext

import (
	"os"
	"strings"
)

// Loader reads document files and extracts their plain text.
type Loader struct {
	pdf TextExtractor
}

// NewLoader creates a Loader. pdf may be nil, in which case PDF
// documents report pdf_support_unavailable.
func NewLoader(pdf TextExtractor) *Loader {
	return &Loader{pdf: pdf}
}

// Load reads the file at path and extracts its plain text. The
// returned kind is the effective format used for extraction, which may
// differ from Classify's answer when content sniffing promotes a
// mislabelled file. A non-empty code means no usable text was
// produced; codes are the doctext Code* constants.
func (l *Loader) Load(path, declaredType string) (string, Kind, string) {
	kind := Classify(path, declaredType)
	data, err := os.ReadFile(path)
	if err != nil {
		return "", kind, CodeReadError
	}
	return l.Extract(data, kind)
}

// Extract extracts plain text from an in-memory payload of the given
// kind.
func (l *Loader) Extract(data []byte, kind Kind) (string, Kind, string) {
	// A .doc or unknown file that is really a ZIP with OOXML inside is
	// treated as docx.
	if kind != KindDocx && IsDocxPayload(data) {
		kind = KindDocx
	}

	switch kind {
	case KindHtml:
		text, err := ExtractHTMLText(DecodeBytes(data))
		if err != nil {
			return "", kind, CodeHTMLParse
		}
		if strings.TrimSpace(text) == "" {
			return "", kind, CodeHTMLEmpty
		}
		return text, kind, ""

	case KindPdf:
		if l.pdf == nil {
			return "", kind, CodePdfSupportUnavailable
		}
		text, err := l.pdf.ExtractText(data)
		if err != nil {
			return "", kind, CodePdfParseError
		}
		if strings.TrimSpace(text) == "" {
			return "", kind, CodePdfEmpty
		}
		return text, kind, ""

	case KindDocx:
		text, code := ExtractDocxText(data)
		if code != "" {
			return "", kind, code
		}
		return text, kind, ""

	case KindDoc:
		if IsOLEPayload(data) {
			return "", kind, CodeDocBinaryUnsupported
		}
		text := DecodeBytes(data)
		if strings.TrimSpace(text) == "" {
			return "", kind, CodeDocEmpty
		}
		return text, kind, ""

	case KindText, KindUnknown:
		text := DecodeBytes(data)
		if strings.TrimSpace(text) == "" {
			return "", KindText, CodeTextEmpty
		}
		return text, KindText, ""
	}
	return "", kind, CodeUnsupportedType
}
