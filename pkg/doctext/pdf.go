package doctext

// TextExtractor extracts plain text from a PDF payload. The backend is
// injected at construction time; when none is configured, PDF
// documents report pdf_support_unavailable instead of failing hard.
// Implementations must be safe for concurrent use.
type TextExtractor interface {
	ExtractText(data []byte) (string, error)
}

// TextExtractorFunc adapts a function to the TextExtractor interface.
type TextExtractorFunc func(data []byte) (string, error)

// ExtractText calls f.
func (f TextExtractorFunc) ExtractText(data []byte) (string, error) {
	return f(data)
}
