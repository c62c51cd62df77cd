// Package crawler monitors regulator listing pages, walks their
// pagination, and downloads newly published attachments into a local
// archive, recording everything in a state file the search engine and
// the text pipeline consume.
package crawler

import (
	"net/url"
	"path"
	"regexp"
	"strings"
)

// ListingDocument is one link discovered on a listing page: the detail
// page itself or an attachment (PDF, Word, archive).
type ListingDocument struct {
	Type  string `json:"type"`
	URL   string `json:"url"`
	Title string `json:"title"`
}

// ListingEntry is one row of a listing table. Serial is nil when the
// page carries no row number.
type ListingEntry struct {
	Serial    *int              `json:"serial"`
	Title     string            `json:"title"`
	Remark    string            `json:"remark"`
	Documents []ListingDocument `json:"documents"`
}

// PageLink is one pagination anchor with its visible text.
type PageLink struct {
	URL  string `json:"url"`
	Text string `json:"text"`
}

// Pagination describes the navigation links found on a listing page.
type Pagination struct {
	Next  string     `json:"next,omitempty"`
	Prev  string     `json:"prev,omitempty"`
	First string     `json:"first,omitempty"`
	Last  string     `json:"last,omitempty"`
	Links []PageLink `json:"links"`
}

var attachmentSuffixes = []string{
	".pdf", ".doc", ".docx", ".xls", ".xlsx", ".zip", ".rar",
}

var documentTypeByExt = map[string]string{
	".pdf":  "pdf",
	".doc":  "word",
	".docx": "word",
	".xls":  "excel",
	".xlsx": "excel",
	".zip":  "archive",
	".rar":  "archive",
	".htm":  "html",
	".html": "html",
	".txt":  "text",
}

// extensionFallback maps a document type back to a file extension for
// URLs whose path carries none.
var extensionFallback = map[string]string{
	"pdf":     ".pdf",
	"word":    ".doc",
	"excel":   ".xls",
	"archive": ".zip",
	"text":    ".txt",
	"html":    ".html",
}

// ClassifyDocumentType maps a URL to a document type by its path
// extension. Extension-less URLs are detail pages, hence "html";
// unknown extensions are "other".
func ClassifyDocumentType(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "other"
	}
	ext := strings.ToLower(path.Ext(parsed.Path))
	if t, ok := documentTypeByExt[ext]; ok {
		return t
	}
	if ext == "" {
		return "html"
	}
	return "other"
}

var unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// SafeFilename replaces every character outside [a-zA-Z0-9_-] with an
// underscore.
func SafeFilename(s string) string {
	return unsafeFilenameChars.ReplaceAllString(s, "_")
}

// StructuredFilename derives a stable local filename from a document
// URL: the path segments joined with underscores (extensions stripped
// from intermediate segments), the query string appended when present,
// and the original extension kept. URLs without an extension fall back
// to one implied by docType, or ".bin".
func StructuredFilename(fileURL, docType string) string {
	parsed, err := url.Parse(fileURL)
	if err != nil {
		return SafeFilename(fileURL) + ".bin"
	}

	var namePart string
	segments := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	var cleaned []string
	for _, segment := range segments {
		if segment == "" {
			continue
		}
		stem := strings.TrimSuffix(segment, path.Ext(segment))
		if stem != "" {
			cleaned = append(cleaned, stem)
		} else {
			cleaned = append(cleaned, segment)
		}
	}
	if len(cleaned) > 0 {
		namePart = strings.Join(cleaned, "_")
	} else if parsed.Host != "" {
		namePart = parsed.Host
	} else {
		namePart = "file"
	}

	if parsed.RawQuery != "" {
		querySlug := SafeFilename(parsed.RawQuery)
		if querySlug != "" {
			namePart = namePart + "__" + querySlug
		}
	}

	sanitized := SafeFilename(namePart)
	if sanitized == "" {
		sanitized = "file"
	}

	ext := strings.ToLower(path.Ext(path.Base(parsed.Path)))
	if ext == "" {
		mapped := extensionFallback[strings.ToLower(docType)]
		if mapped != "" {
			ext = mapped
		} else {
			ext = ".bin"
		}
	}
	return sanitized + ext
}

// cachePathForURL maps a page URL to a filename inside the page cache
// directory.
func cachePathForURL(pageURL string) string {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return SafeFilename(pageURL) + ".html"
	}
	var components []string
	if parsed.Host != "" {
		components = append(components, parsed.Host)
	}
	if p := strings.Trim(parsed.Path, "/"); p != "" {
		components = append(components, p)
	}
	if parsed.RawQuery != "" {
		components = append(components, parsed.RawQuery)
	}
	if len(components) == 0 {
		components = []string{pageURL}
	}
	base := SafeFilename(strings.Join(components, "_"))
	if base == "" {
		base = "page"
	}
	return base + ".html"
}
