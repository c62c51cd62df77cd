package doctext

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"io"
	"strings"
)

var (
	zipMagic = []byte("PK")
	oleMagic = []byte{0xD0, 0xCF, 0x11, 0xE0}
)

// IsZipPayload reports whether the payload starts with a ZIP local
// file header. Regulator sites sometimes serve OOXML files under a
// .doc or .wps extension.
func IsZipPayload(data []byte) bool {
	return bytes.HasPrefix(data, zipMagic)
}

// IsOLEPayload reports whether the payload is an OLE compound file,
// i.e. a legacy binary .doc/.wps document.
func IsOLEPayload(data []byte) bool {
	return bytes.HasPrefix(data, oleMagic)
}

// IsDocxPayload reports whether the payload is a ZIP archive that
// contains word/document.xml.
func IsDocxPayload(data []byte) bool {
	if !IsZipPayload(data) {
		return false
	}
	archive, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return false
	}
	for _, file := range archive.File {
		if file.Name == "word/document.xml" {
			return true
		}
	}
	return false
}

// ExtractDocxText extracts the plain text of an OOXML payload: the
// concatenated <w:t> runs of each <w:p> paragraph, paragraphs joined
// by newlines. Returns an empty code on success, otherwise one of the
// docx_* codes.
func ExtractDocxText(data []byte) (string, string) {
	archive, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", CodeDocxReadError
	}

	var documentXML []byte
	for _, file := range archive.File {
		if file.Name != "word/document.xml" {
			continue
		}
		reader, err := file.Open()
		if err != nil {
			return "", CodeDocxReadError
		}
		documentXML, err = io.ReadAll(reader)
		reader.Close()
		if err != nil {
			return "", CodeDocxReadError
		}
		break
	}
	if documentXML == nil {
		return "", CodeDocxDocumentMissing
	}

	var paragraphs []string
	var runs []string
	depth := 0 // nesting depth of w:p elements
	inRunText := false

	decoder := xml.NewDecoder(bytes.NewReader(documentXML))
	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", CodeDocxParseError
		}
		switch element := token.(type) {
		case xml.StartElement:
			switch element.Name.Local {
			case "p":
				depth++
			case "t":
				if depth > 0 {
					inRunText = true
				}
			}
		case xml.EndElement:
			switch element.Name.Local {
			case "p":
				if depth > 0 {
					depth--
					if depth == 0 && len(runs) > 0 {
						paragraphs = append(paragraphs, strings.Join(runs, ""))
						runs = nil
					}
				}
			case "t":
				inRunText = false
			}
		case xml.CharData:
			if inRunText {
				runs = append(runs, string(element))
			}
		}
	}

	text := strings.TrimSpace(strings.Join(paragraphs, "\n"))
	if text == "" {
		return "", CodeDocxEmpty
	}
	return text, ""
}
