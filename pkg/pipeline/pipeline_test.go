package pipeline

import (
	"archive/zip"
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/coolbeans/policyfinder/pkg/doctext"
	"github.com/coolbeans/policyfinder/pkg/policy"
)

func writeDocx(t *testing.T, path, text string) {
	t.Helper()
	var buf bytes.Buffer
	archive := zip.NewWriter(&buf)
	w, err := archive.Create("word/document.xml")
	if err != nil {
		t.Fatalf("create document.xml: %v", err)
	}
	xml := `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>
    <w:p><w:r><w:t>` + text + `</w:t></w:r></w:p>
  </w:body>
</w:document>`
	if _, err := w.Write([]byte(xml)); err != nil {
		t.Fatalf("write document.xml: %v", err)
	}
	if err := archive.Close(); err != nil {
		t.Fatalf("close archive: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

const layoutPdfText = "Page Header\n\n" +
	"Paragraph line one\n" +
	"line two\n\n" +
	"Page Footer\n" +
	"- 1 -\n" +
	"\fPage Header\n\n" +
	"第二段第一行\n" +
	"继续内容\n\n" +
	"Page Footer\n"

// fakePdfExtractor keys its output on marker bytes inside the file so
// tests can steer per-document behavior.
var fakePdfExtractor = doctext.TextExtractorFunc(func(data []byte) (string, error) {
	switch {
	case bytes.Contains(data, []byte("layout")):
		return layoutPdfText, nil
	case bytes.Contains(data, []byte("with_text")):
		return "PDF 正文内容", nil
	case bytes.Contains(data, []byte("needs_ocr")):
		return "", nil
	}
	return "", errors.New("unexpected pdf payload")
})

func singleDocEntry(docType, url, path string) *policy.Entry {
	entry := &policy.Entry{
		ID:    1,
		Title: "测试制度",
		Documents: []*policy.Document{
			{Type: docType, URL: url, LocalPath: path},
		},
	}
	entry.Build()
	return entry
}

func TestExtractEntrySniffsDocxUnderWpsName(t *testing.T) {
	dir := t.TempDir()
	wpsPath := filepath.Join(dir, "policy.wps")
	writeDocx(t, wpsPath, "WPS 文本内容")

	p := New(nil)
	extraction := p.ExtractEntry(singleDocEntry("doc", "http://example.com/policy.wps", wpsPath), dir)

	if extraction.Selected == nil {
		t.Fatal("Expected a selected attempt")
	}
	if extraction.Selected.Candidate.NormalizedType != "docx" {
		t.Errorf("Expected normalized type %q, got %q", "docx", extraction.Selected.Candidate.NormalizedType)
	}
	if extraction.Text != "WPS 文本内容" {
		t.Errorf("Unexpected text: %q", extraction.Text)
	}
	if extraction.Status != StatusSuccess {
		t.Errorf("Expected status %q, got %q", StatusSuccess, extraction.Status)
	}
}

func TestExtractEntryFlagsBinaryWps(t *testing.T) {
	dir := t.TempDir()
	wpsPath := filepath.Join(dir, "policy_binary.wps")
	payload := append([]byte{0xD0, 0xCF, 0x11, 0xE0}, make([]byte, 128)...)
	if err := os.WriteFile(wpsPath, payload, 0644); err != nil {
		t.Fatalf("write wps: %v", err)
	}

	p := New(nil)
	extraction := p.ExtractEntry(singleDocEntry("doc", "http://example.com/policy_binary.wps", wpsPath), dir)

	if extraction.Selected == nil {
		t.Fatal("Expected a selected attempt")
	}
	if extraction.Selected.Error != doctext.CodeDocBinaryUnsupported {
		t.Errorf("Expected error %q, got %q", doctext.CodeDocBinaryUnsupported, extraction.Selected.Error)
	}
	if extraction.Status != StatusError {
		t.Errorf("Expected status %q, got %q", StatusError, extraction.Status)
	}
}

func TestExtractEntryNormalizesPdfText(t *testing.T) {
	dir := t.TempDir()
	pdfPath := filepath.Join(dir, "layout.pdf")
	if err := os.WriteFile(pdfPath, []byte("%PDF-1.4 layout"), 0644); err != nil {
		t.Fatalf("write pdf: %v", err)
	}

	p := New(fakePdfExtractor)
	extraction := p.ExtractEntry(singleDocEntry("pdf", "http://example.com/layout.pdf", pdfPath), dir)

	if extraction.Selected == nil {
		t.Fatal("Expected a selected attempt")
	}
	want := "Paragraph line one line two\n第二段第一行继续内容"
	if extraction.Text != want {
		t.Errorf("Expected %q, got %q", want, extraction.Text)
	}
}

func TestExtractEntryNormalizesHTMLText(t *testing.T) {
	dir := t.TempDir()
	htmlPath := filepath.Join(dir, "policy.html")
	page := `
<html>
  <body>
    <div>中国人民银行规章</div>
    <div>所在位置 ：</div>
    <div>政府信息公开</div>
    <div>政　　策</div>
    <div>行政规范性文件</div>
    <div>下载word版</div>
    <div>下载pdf版</div>
    <h1>制度标题</h1>
    <p>第一段内容。</p>
    <p>法律声明</p>
    <p>中国人民银行发布</p>
  </body>
</html>
`
	if err := os.WriteFile(htmlPath, []byte(page), 0644); err != nil {
		t.Fatalf("write html: %v", err)
	}

	p := New(nil)
	extraction := p.ExtractEntry(singleDocEntry("html", "http://example.com/policy.html", htmlPath), dir)

	if extraction.Selected == nil {
		t.Fatal("Expected a selected attempt")
	}
	text := extraction.Text
	lines := strings.Split(text, "\n")
	if lines[0] != "制度标题" {
		t.Errorf("Expected first line %q, got %q", "制度标题", lines[0])
	}
	for _, banned := range []string{"下载word版", "中国人民银行规章", "所在位置", "法律声明"} {
		if strings.Contains(text, banned) {
			t.Errorf("Expected %q to be removed, text: %q", banned, text)
		}
	}
	if strings.HasSuffix(text, "中国人民银行发布") {
		t.Errorf("Expected trailing boilerplate removed, text: %q", text)
	}
}

func TestExtractEntrySeparatesConclusionFromArticle(t *testing.T) {
	dir := t.TempDir()
	htmlPath := filepath.Join(dir, "conclusion.html")
	page := `
<html>
  <body>
    <p>八、外国银行境内分行参照本通知执行。</p>
    <p>本通知自2023年12月20日起实施。</p>
  </body>
</html>
`
	if err := os.WriteFile(htmlPath, []byte(page), 0644); err != nil {
		t.Fatalf("write html: %v", err)
	}

	p := New(nil)
	extraction := p.ExtractEntry(singleDocEntry("html", "http://example.com/conclusion.html", htmlPath), dir)

	lines := strings.Split(extraction.Text, "\n")
	if len(lines) < 3 {
		t.Fatalf("Expected 3 lines, got %q", extraction.Text)
	}
	if lines[0] != "八、外国银行境内分行参照本通知执行。" {
		t.Errorf("Unexpected first line: %q", lines[0])
	}
	if lines[1] != "" {
		t.Errorf("Expected blank separator, got %q", lines[1])
	}
	if lines[2] != "本通知自2023年12月20日起实施。" {
		t.Errorf("Unexpected third line: %q", lines[2])
	}
}

func TestMergeWrappedLines(t *testing.T) {
	tests := []struct {
		name  string
		lines []string
		want  string
	}{
		{"empty", nil, ""},
		{"latin words keep space", []string{"hello", "world"}, "hello world"},
		{"cjk joins bare", []string{"第一行", "第二行"}, "第一行第二行"},
		{"hyphenation", []string{"regula-", "tion"}, "regulation"},
		{"closing punctuation", []string{"value", ")"}, "value)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := mergeWrappedLines(tt.lines); got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestProcessStateExtractsText(t *testing.T) {
	root := t.TempDir()
	downloads := filepath.Join(root, "downloads")
	if err := os.MkdirAll(downloads, 0755); err != nil {
		t.Fatalf("mkdir downloads: %v", err)
	}

	docxPath := filepath.Join(downloads, "policy.docx")
	writeDocx(t, docxPath, "Word 文本内容")

	pdfPath := filepath.Join(downloads, "policy_with_text.pdf")
	if err := os.WriteFile(pdfPath, []byte("%PDF-1.4 with_text"), 0644); err != nil {
		t.Fatalf("write pdf: %v", err)
	}

	pdfEmptyPath := filepath.Join(downloads, "policy_needs_ocr.pdf")
	if err := os.WriteFile(pdfEmptyPath, []byte("%PDF-1.4 needs_ocr"), 0644); err != nil {
		t.Fatalf("write pdf: %v", err)
	}

	htmlPath := filepath.Join(downloads, "fallback.html")
	if err := os.WriteFile(htmlPath, []byte("<html><body><p>HTML 正文</p></body></html>"), 0644); err != nil {
		t.Fatalf("write html: %v", err)
	}

	state := &policy.State{Entries: []*policy.Entry{
		{ID: 1, Title: "制度一", Documents: []*policy.Document{
			{URL: "http://example.com/doc.docx", Type: "doc", LocalPath: docxPath},
		}},
		{ID: 2, Title: "制度二", Documents: []*policy.Document{
			{URL: "http://example.com/policy.pdf", Type: "pdf", LocalPath: pdfPath},
		}},
		{ID: 3, Title: "制度三", Documents: []*policy.Document{
			{URL: "http://example.com/scan.pdf", Type: "pdf", LocalPath: pdfEmptyPath},
			{URL: "http://example.com/scan.html", Type: "html", LocalPath: htmlPath},
		}},
		{ID: 4, Title: "制度四"},
	}}

	outputDir := filepath.Join(root, "texts")
	p := New(fakePdfExtractor)
	report, err := p.Process(state, outputDir, filepath.Join(downloads, "policy_state.json"))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(report.Records) != 4 {
		t.Fatalf("Expected 4 records, got %d", len(report.Records))
	}
	files, err := os.ReadDir(outputDir)
	if err != nil {
		t.Fatalf("read output dir: %v", err)
	}
	if len(files) != 4 {
		t.Errorf("Expected 4 text artifacts, got %d", len(files))
	}

	bySerial := make(map[int]Record)
	for _, record := range report.Records {
		bySerial[record.Serial] = record
	}

	one := bySerial[1]
	if one.SourceType != "docx" {
		t.Errorf("Expected source type docx, got %q", one.SourceType)
	}
	content, err := os.ReadFile(one.TextPath)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if string(content) != "Word 文本内容" {
		t.Errorf("Unexpected artifact content: %q", content)
	}

	two := bySerial[2]
	if two.Status != StatusSuccess || two.SourceType != "pdf" || two.PdfNeedsOCR {
		t.Errorf("Unexpected record for pdf entry: %+v", two)
	}

	three := bySerial[3]
	if three.SourceType != "html" || three.Status != StatusSuccess {
		t.Errorf("Expected html fallback success, got %+v", three)
	}
	if !three.PdfNeedsOCR {
		t.Error("Expected pdf_needs_ocr flag when the scanned PDF was skipped")
	}

	four := bySerial[4]
	if four.Status != StatusNoSource || four.SourceType != "" {
		t.Errorf("Unexpected record for empty entry: %+v", four)
	}
	content, err = os.ReadFile(four.TextPath)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if len(content) != 0 {
		t.Errorf("Expected empty artifact, got %q", content)
	}

	// Each entry gains a local-text document recording the outcome.
	for i, entry := range state.Entries {
		var textDoc *policy.Document
		for _, doc := range entry.Documents {
			if doc.Type == "text" && strings.HasPrefix(doc.URL, "local-text://") {
				textDoc = doc
				break
			}
		}
		if textDoc == nil {
			t.Fatalf("Entry %d has no text document", i+1)
		}
		if !textDoc.Downloaded {
			t.Errorf("Entry %d text document not marked downloaded", i+1)
		}
	}

	entryThreeDoc := state.Entries[2].Documents[2]
	if !entryThreeDoc.NeedsOCR {
		t.Error("Expected needs_ocr on entry three's text document")
	}
	if len(entryThreeDoc.Attempts) != 2 {
		t.Fatalf("Expected 2 recorded attempts, got %d", len(entryThreeDoc.Attempts))
	}
	if entryThreeDoc.Attempts[0].Type != "pdf" || entryThreeDoc.Attempts[0].Used || !entryThreeDoc.Attempts[0].NeedsOCR {
		t.Errorf("Unexpected first attempt: %+v", entryThreeDoc.Attempts[0])
	}
	if entryThreeDoc.Attempts[1].Type != "html" || !entryThreeDoc.Attempts[1].Used {
		t.Errorf("Unexpected second attempt: %+v", entryThreeDoc.Attempts[1])
	}
	if needsOCR := report.PdfNeedsOCR(); len(needsOCR) != 1 || needsOCR[0].Serial != 3 {
		t.Errorf("Unexpected needs-OCR report: %+v", needsOCR)
	}
}

func TestProcessReusesExistingTextDocument(t *testing.T) {
	root := t.TempDir()
	htmlPath := filepath.Join(root, "policy.html")
	if err := os.WriteFile(htmlPath, []byte("<html><body><p>正文</p></body></html>"), 0644); err != nil {
		t.Fatalf("write html: %v", err)
	}
	state := &policy.State{Entries: []*policy.Entry{
		{ID: 1, Title: "制度一", Documents: []*policy.Document{
			{URL: "http://example.com/policy.html", Type: "html", LocalPath: htmlPath},
		}},
	}}
	outputDir := filepath.Join(root, "texts")

	p := New(nil)
	if _, err := p.Process(state, outputDir, ""); err != nil {
		t.Fatalf("first Process: %v", err)
	}
	if len(state.Entries[0].Documents) != 2 {
		t.Fatalf("Expected 2 documents after first run, got %d", len(state.Entries[0].Documents))
	}
	if _, err := p.Process(state, outputDir, ""); err != nil {
		t.Fatalf("second Process: %v", err)
	}
	if len(state.Entries[0].Documents) != 2 {
		t.Errorf("Expected second run to update in place, got %d documents", len(state.Entries[0].Documents))
	}
}

func TestBuildFilenameCollisions(t *testing.T) {
	used := make(map[string]int)
	entry := &policy.Entry{ID: 1, Title: "同名制度"}
	first := buildFilename(entry, nil, 0, used)
	second := buildFilename(entry, nil, 1, used)
	if first == second {
		t.Errorf("Expected distinct filenames, got %q twice", first)
	}
	if !strings.HasSuffix(first, ".txt") || !strings.HasSuffix(second, ".txt") {
		t.Errorf("Expected .txt artifacts, got %q and %q", first, second)
	}
}

func TestResolveCandidatePathSearchesDownloads(t *testing.T) {
	root := t.TempDir()
	stateDir := filepath.Join(root, "artifacts")
	downloads := filepath.Join(stateDir, "downloads")
	if err := os.MkdirAll(downloads, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	target := filepath.Join(downloads, "notice.pdf")
	if err := os.WriteFile(target, []byte("%PDF-1.4"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	tests := []struct {
		name  string
		value string
		want  bool
	}{
		{"absolute", target, true},
		{"bare name under downloads", "notice.pdf", true},
		{"stale relative prefix", filepath.Join("old_dir", "notice.pdf"), true},
		{"missing", "other.pdf", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolved, ok := resolveCandidatePath(tt.value, stateDir)
			if ok != tt.want {
				t.Fatalf("Expected ok=%v, got %v", tt.want, ok)
			}
			if ok && resolved != target {
				t.Errorf("Expected %q, got %q", target, resolved)
			}
		})
	}
}
