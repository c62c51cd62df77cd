package zhtext

import (
	"regexp"
	"strconv"
	"strings"
)

// NumberClass is the character class matching any single character that
// can appear inside a Chinese or Arabic clause numeral.
const NumberClass = `[一二三四五六七八九十百千万零〇0-9两俩壹贰叁肆伍陆柒捌玖]`

var chineseDigits = map[rune]int{
	'零': 0, '〇': 0, '○': 0, 'Ｏ': 0,
	'一': 1, '二': 2, '三': 3, '四': 4, '五': 5,
	'六': 6, '七': 7, '八': 8, '九': 9,
	'壹': 1, '贰': 2, '叁': 3, '肆': 4, '伍': 5,
	'陆': 6, '柒': 7, '捌': 8, '玖': 9,
	'两': 2, '俩': 2,
}

var chineseUnits = map[rune]int{
	'十': 10, '拾': 10,
	'百': 100, '佰': 100,
	'千': 1000, '仟': 1000,
	'万': 10000,
}

func isASCIIDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// ChineseToInt parses a Chinese numeral (or a plain Arabic digit
// string) into an integer. A missing digit before a unit counts as 1,
// so "十二" parses as 12. Separator characters (、, spaces, tabs) are
// ignored. Returns false for any unrecognized character.
func ChineseToInt(s string) (int, bool) {
	stripped := strings.TrimSpace(s)
	if stripped == "" {
		return 0, false
	}
	if isASCIIDigits(stripped) {
		n, err := strconv.Atoi(stripped)
		if err != nil {
			return 0, false
		}
		return n, true
	}
	total := 0
	current := 0
	for _, r := range stripped {
		if digit, ok := chineseDigits[r]; ok {
			current = digit
			continue
		}
		if unit, ok := chineseUnits[r]; ok {
			if current == 0 {
				current = 1
			}
			total += current * unit
			current = 0
			continue
		}
		if r == '、' || r == ' ' || r == '\t' {
			continue
		}
		return 0, false
	}
	return total + current, true
}

var digitChars = []string{"零", "一", "二", "三", "四", "五", "六", "七", "八", "九"}
var sectionUnits = []string{"", "十", "百", "千"}
var bigUnits = []string{"", "万", "亿", "兆"}

var zeroRun = regexp.MustCompile(`零+`)

func convertSection(section int) string {
	if section == 0 {
		return "零"
	}
	var pieces []string
	zeroFlag := false
	unitIndex := 0
	for value := section; value > 0; value /= 10 {
		remainder := value % 10
		if remainder == 0 {
			zeroFlag = true
		} else {
			if zeroFlag && len(pieces) > 0 {
				pieces = append(pieces, "零")
			}
			pieces = append(pieces, digitChars[remainder]+sectionUnits[unitIndex])
			zeroFlag = false
		}
		unitIndex++
	}
	var b strings.Builder
	for i := len(pieces) - 1; i >= 0; i-- {
		b.WriteString(pieces[i])
	}
	out := zeroRun.ReplaceAllString(b.String(), "零")
	out = strings.Trim(out, "零")
	// 10..19 read as 十/十一/..., not 一十/一十一.
	if section < 20 && strings.HasPrefix(out, "一十") {
		out = strings.TrimPrefix(out, "一")
	}
	if out == "" {
		return "零"
	}
	return out
}

// IntToChinese renders n as a Chinese numeral with zero compression.
// The leading 一 before 十 is elided only for 10-19.
func IntToChinese(n int) string {
	if n == 0 {
		return "零"
	}
	var parts []string
	unitIndex := 0
	for remaining := n; remaining > 0; remaining /= 10000 {
		section := remaining % 10000
		if section != 0 {
			text := convertSection(section)
			if bigUnits[unitIndex] != "" {
				text += bigUnits[unitIndex]
			}
			parts = append([]string{text}, parts...)
		} else if len(parts) > 0 && !strings.HasPrefix(parts[0], "零") {
			parts = append([]string{"零"}, parts...)
		}
		unitIndex++
	}
	out := zeroRun.ReplaceAllString(strings.Join(parts, ""), "零")
	out = strings.Trim(out, "零")
	if n < 20 && strings.HasPrefix(out, "一十") {
		out = strings.TrimPrefix(out, "一")
	}
	if out == "" {
		return "零"
	}
	return out
}

// NumberVariants returns every textual form of n that may appear in a
// source document: the Arabic digits, the Chinese rendering, and the
// colloquial 两/俩 for 2.
func NumberVariants(n int) []string {
	variants := []string{strconv.Itoa(n), IntToChinese(n)}
	if n == 2 {
		variants = append(variants, "两", "俩")
	}
	return variants
}

// NumberPattern builds a regex alternation matching any textual variant
// of n. Characters within a variant are joined with \s* so stray
// spacing in scraped or OCR'd text still matches.
func NumberPattern(n int) string {
	variants := NumberVariants(n)
	pieces := make([]string, 0, len(variants))
	for _, variant := range variants {
		if variant == "" {
			continue
		}
		var chars []string
		for _, r := range variant {
			chars = append(chars, regexp.QuoteMeta(string(r)))
		}
		pieces = append(pieces, strings.Join(chars, `\s*`))
	}
	return strings.Join(pieces, "|")
}
