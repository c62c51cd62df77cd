package doctext

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/unicode"
)

func decodeWith(data []byte, enc encoding.Encoding) (string, error) {
	decoded, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return "", err
	}
	return string(decoded), nil
}

// DecodeBytes decodes a document payload trying the encodings seen in
// the wild on regulator sites: UTF-8, BOM-marked UTF-16, GB18030 and
// GBK, falling back to lossy UTF-8 as a last resort.
func DecodeBytes(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	if utf8.Valid(data) {
		return string(data)
	}
	if len(data) >= 2 {
		if data[0] == 0xFF && data[1] == 0xFE {
			if text, err := decodeWith(data, unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM)); err == nil {
				return text
			}
		}
		if data[0] == 0xFE && data[1] == 0xFF {
			if text, err := decodeWith(data, unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM)); err == nil {
				return text
			}
		}
	}
	if text, err := decodeWith(data, simplifiedchinese.GB18030); err == nil && !strings.ContainsRune(text, utf8.RuneError) {
		return text
	}
	if text, err := decodeWith(data, simplifiedchinese.GBK); err == nil && !strings.ContainsRune(text, utf8.RuneError) {
		return text
	}
	return string(bytes.ToValidUTF8(data, []byte("�")))
}
