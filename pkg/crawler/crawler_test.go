package crawler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/coolbeans/policyfinder/pkg/policy"
)

func TestClassifyDocumentType(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"http://example.com/files/rule.pdf", "pdf"},
		{"http://example.com/files/rule.DOCX", "word"},
		{"http://example.com/files/rule.doc", "word"},
		{"http://example.com/files/data.xlsx", "excel"},
		{"http://example.com/files/bundle.zip", "archive"},
		{"http://example.com/detail/index.html", "html"},
		{"http://example.com/detail/", "html"},
		{"http://example.com/files/rule.wps", "other"},
	}
	for _, tt := range tests {
		if got := ClassifyDocumentType(tt.url); got != tt.want {
			t.Errorf("ClassifyDocumentType(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}

func TestStructuredFilename(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		docType string
		want    string
	}{
		{
			name: "path segments joined",
			url:  "http://example.com/zhengwu/2023/banfa.pdf",
			want: "zhengwu_2023_banfa.pdf",
		},
		{
			name:    "no extension falls back to type",
			url:     "http://example.com/download/4511",
			docType: "pdf",
			want:    "download_4511.pdf",
		},
		{
			name:    "query string appended",
			url:     "http://example.com/get?id=77&type=f",
			docType: "word",
			want:    "get__id_77_type_f.doc",
		},
		{
			name: "unknown type gets bin",
			url:  "http://example.com/blob/42",
			want: "blob_42.bin",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StructuredFilename(tt.url, tt.docType); got != tt.want {
				t.Errorf("StructuredFilename(%q, %q) = %q, want %q", tt.url, tt.docType, got, tt.want)
			}
		})
	}
}

const listingHTML = `<html><body>
<table>
<tr><th>序号</th><th>名称</th><th>附件</th></tr>
<tr>
  <td>1</td>
  <td><a href="detail1/index.html" title="支付机构监督管理办法">支付机构监督管理办法</a>
      <span class="gz_tit2">中国人民银行令〔2023〕第4号</span></td>
  <td><a href="files/zhifu.pdf">下载pdf版</a></td>
</tr>
<tr>
  <td>2</td>
  <td><a href="detail2/index.html">征信业务管理办法</a></td>
</tr>
</table>
<div class="list_page">
  <a href="index_2.html">下一页</a>
  <a href="index.html">首页</a>
</div>
</body></html>`

func parseListing(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		t.Fatalf("failed to parse HTML: %v", err)
	}
	return doc
}

func TestTableParserEntries(t *testing.T) {
	pageURL := "http://example.com/zhengwu/index.html"
	entries := NewTableParser().Entries(pageURL, parseListing(t, listingHTML))
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}

	first := entries[0]
	if first.Serial == nil || *first.Serial != 1 {
		t.Errorf("Expected serial 1, got %v", first.Serial)
	}
	if first.Title != "支付机构监督管理办法" {
		t.Errorf("Unexpected title %q", first.Title)
	}
	if first.Remark != "中国人民银行令〔2023〕第4号" {
		t.Errorf("Unexpected remark %q", first.Remark)
	}
	if len(first.Documents) != 2 {
		t.Fatalf("Expected 2 documents, got %d", len(first.Documents))
	}
	detail := first.Documents[0]
	if detail.Type != "html" || detail.URL != "http://example.com/zhengwu/detail1/index.html" {
		t.Errorf("Unexpected detail document %+v", detail)
	}
	attachment := first.Documents[1]
	if attachment.Type != "pdf" || attachment.URL != "http://example.com/zhengwu/files/zhifu.pdf" {
		t.Errorf("Unexpected attachment document %+v", attachment)
	}
	if attachment.Title != "支付机构监督管理办法" {
		t.Errorf("Expected attachment to inherit the row title, got %q", attachment.Title)
	}

	second := entries[1]
	if second.Serial == nil || *second.Serial != 2 {
		t.Errorf("Expected serial 2, got %v", second.Serial)
	}
	if len(second.Documents) != 1 || second.Documents[0].Type != "html" {
		t.Errorf("Unexpected documents for second entry: %+v", second.Documents)
	}
}

func TestTableParserFallbackLinks(t *testing.T) {
	html := `<html><body>
<p><a href="files/a.pdf" title="某项規定全文">附件下载</a></p>
<p><a href="files/a.pdf">重复链接</a></p>
<p><a href="files/b.doc">b.doc</a></p>
</body></html>`
	entries := NewTableParser().Entries("http://example.com/list/index.html", parseListing(t, html))
	if len(entries) != 2 {
		t.Fatalf("Expected 2 fallback entries, got %d", len(entries))
	}
	if entries[0].Serial == nil || *entries[0].Serial != 1 {
		t.Errorf("Expected fallback serial 1, got %v", entries[0].Serial)
	}
	if entries[0].Title != "某项規定全文" {
		t.Errorf("Expected title from link title attribute, got %q", entries[0].Title)
	}
	if entries[1].Documents[0].Type != "word" {
		t.Errorf("Expected word type, got %q", entries[1].Documents[0].Type)
	}
}

func TestTableParserPagination(t *testing.T) {
	pageURL := "http://example.com/zhengwu/index.html"
	meta := NewTableParser().Pagination(pageURL, parseListing(t, listingHTML), pageURL)
	if meta.Next != "http://example.com/zhengwu/index_2.html" {
		t.Errorf("Unexpected next link %q", meta.Next)
	}
	if meta.First != "http://example.com/zhengwu/index.html" {
		t.Errorf("Unexpected first link %q", meta.First)
	}
	if len(meta.Links) != 2 {
		t.Errorf("Expected 2 pagination links, got %d", len(meta.Links))
	}
}

func TestTableParserPaginationOnclick(t *testing.T) {
	html := `<html><body><div class="list_page">
<a href="#" onclick="gotoPage('index_3.html')">下一页</a>
<a href="javascript:void(0)">尾页</a>
</div></body></html>`
	pageURL := "http://example.com/zhengwu/index_2.html"
	meta := NewTableParser().Pagination(pageURL, parseListing(t, html), "http://example.com/zhengwu/index.html")
	if meta.Next != "http://example.com/zhengwu/index_3.html" {
		t.Errorf("Unexpected next link %q", meta.Next)
	}
	if meta.Last != "" {
		t.Errorf("Expected no last link for dead anchor, got %q", meta.Last)
	}
}

func TestParseSerial(t *testing.T) {
	tests := []struct {
		text string
		want int
		ok   bool
	}{
		{"12", 12, true},
		{" 12． ", 12, true},
		{"(3)", 3, true},
		{"序号", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseSerial(tt.text)
		if got != tt.want || ok != tt.ok {
			t.Errorf("parseSerial(%q) = (%d, %v), want (%d, %v)", tt.text, got, ok, tt.want, tt.ok)
		}
	}
}

func intRef(n int) *int { return &n }

func TestCrawlStateEntryIdentity(t *testing.T) {
	state := NewCrawlState()
	id := state.EnsureEntry(ListingEntry{
		Serial: intRef(1),
		Title:  "办法A",
		Documents: []ListingDocument{
			{Type: "pdf", URL: "http://example.com/a.pdf"},
			{Type: "html", URL: "http://example.com/a.html"},
		},
	})
	if id != "http://example.com/a.html" {
		t.Errorf("Expected HTML URL identity, got %q", id)
	}

	// A later sighting sharing a document URL resolves to the same entry.
	state.MergeDocuments(id, []ListingDocument{{Type: "pdf", URL: "http://example.com/a.pdf"}})
	again := state.EnsureEntry(ListingEntry{
		Title:     "办法A（修订）",
		Documents: []ListingDocument{{Type: "pdf", URL: "http://example.com/a.pdf"}},
	})
	if again != id {
		t.Errorf("Expected entry reuse by document URL, got %q", again)
	}
	if state.Len() != 1 {
		t.Errorf("Expected 1 entry, got %d", state.Len())
	}

	titleOnly := state.EnsureEntry(ListingEntry{Title: "办法B", Remark: "备注"})
	if titleOnly != "title::办法B::备注" {
		t.Errorf("Unexpected title identity %q", titleOnly)
	}
	serialOnly := state.EnsureEntry(ListingEntry{Serial: intRef(9)})
	if serialOnly != "serial::9" {
		t.Errorf("Unexpected serial identity %q", serialOnly)
	}
}

func TestCrawlStateMergeAndDownload(t *testing.T) {
	state := NewCrawlState()
	id := state.EnsureEntry(ListingEntry{
		Serial:    intRef(1),
		Title:     "办法A",
		Documents: []ListingDocument{{Type: "html", URL: "http://example.com/a.html"}},
	})
	state.MergeDocuments(id, []ListingDocument{
		{Type: "html", URL: "http://example.com/a.html", Title: "办法A"},
		{URL: "http://example.com/a.pdf", Title: "办法A全文"},
	})

	if state.IsDownloaded("http://example.com/a.pdf") {
		t.Error("Expected file not downloaded yet")
	}
	state.MarkDownloaded(id, "http://example.com/a.pdf", "办法A全文", "pdf", "/tmp/a.pdf")
	if !state.IsDownloaded("http://example.com/a.pdf") {
		t.Error("Expected file marked downloaded")
	}

	// Re-merging the bare listing document keeps the download state.
	state.MergeDocuments(id, []ListingDocument{{URL: "http://example.com/a.pdf"}})
	persisted := state.ToState()
	if len(persisted.Entries) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(persisted.Entries))
	}
	var pdfDoc *policy.Document
	for _, doc := range persisted.Entries[0].Documents {
		if doc.Type == "pdf" {
			pdfDoc = doc
		}
	}
	if pdfDoc == nil {
		t.Fatal("Expected a pdf document in the persisted state")
	}
	if !pdfDoc.Downloaded || pdfDoc.LocalPath != "/tmp/a.pdf" {
		t.Errorf("Expected download state to survive merging, got %+v", pdfDoc)
	}

	state.ClearDownloaded("http://example.com/a.pdf")
	if state.IsDownloaded("http://example.com/a.pdf") {
		t.Error("Expected downloaded flag cleared")
	}
	if pdfDoc.LocalPath != "" {
		t.Errorf("Expected local path cleared, got %q", pdfDoc.LocalPath)
	}
}

func TestCrawlStateSortOrder(t *testing.T) {
	state := NewCrawlState()
	state.EnsureEntry(ListingEntry{Serial: intRef(2), Title: "乙"})
	state.EnsureEntry(ListingEntry{Title: "无序号"})
	state.EnsureEntry(ListingEntry{Serial: intRef(1), Title: "甲"})
	persisted := state.ToState()
	var titles []string
	for _, entry := range persisted.Entries {
		titles = append(titles, entry.Title)
	}
	want := []string{"甲", "乙", "无序号"}
	for i := range want {
		if titles[i] != want[i] {
			t.Fatalf("Expected order %v, got %v", want, titles)
		}
	}
}

func TestCrawlStateRoundTrip(t *testing.T) {
	dir := t.TempDir()
	statePath := filepath.Join(dir, "state.json")

	state := NewCrawlState()
	id := state.EnsureEntry(ListingEntry{
		Serial:    intRef(1),
		Title:     "办法A",
		Documents: []ListingDocument{{Type: "html", URL: "http://example.com/a.html"}},
	})
	state.MergeDocuments(id, []ListingDocument{{Type: "html", URL: "http://example.com/a.html"}})
	state.MarkDownloaded(id, "http://example.com/a.pdf", "办法A全文", "pdf", "/tmp/a.pdf")
	if err := state.Save(statePath); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := LoadCrawlState(statePath)
	if err != nil {
		t.Fatalf("LoadCrawlState failed: %v", err)
	}
	if loaded.Len() != 1 {
		t.Fatalf("Expected 1 entry after reload, got %d", loaded.Len())
	}
	if !loaded.IsDownloaded("http://example.com/a.pdf") {
		t.Error("Expected downloaded flag to survive a round trip")
	}
	record := loaded.File("http://example.com/a.pdf")
	if record == nil || record.LocalPath != "/tmp/a.pdf" {
		t.Errorf("Unexpected file record %+v", record)
	}
}

func TestLoadCrawlStateMissingFile(t *testing.T) {
	state, err := LoadCrawlState(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("Expected empty state for missing file, got error %v", err)
	}
	if state.Len() != 0 {
		t.Errorf("Expected empty state, got %d entries", state.Len())
	}
}

func monitorTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	page1 := `<html><body><table>
<tr><td>1</td><td><a href="d1.html" title="办法甲">办法甲</a></td>
<td><a href="/files/a.pdf">下载pdf版</a></td></tr>
</table>
<div class="list_page"><a href="index_2.html">下一页</a></div>
</body></html>`
	page2 := `<html><body><table>
<tr><td>2</td><td><a href="d2.html" title="办法乙">办法乙</a></td></tr>
</table>
<div class="list_page"><a href="index.html">首页</a></div>
</body></html>`
	mux.HandleFunc("/list/index.html", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(page1))
	})
	mux.HandleFunc("/list/index_2.html", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(page2))
	})
	mux.HandleFunc("/list/d1.html", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body>办法甲正文</body></html>"))
	})
	mux.HandleFunc("/list/d2.html", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body>办法乙正文</body></html>"))
	})
	mux.HandleFunc("/files/a.pdf", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("%PDF-1.4 test"))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestMonitorRun(t *testing.T) {
	server := monitorTestServer(t)
	dir := t.TempDir()
	task := Task{
		Name:      "test",
		StartURL:  server.URL + "/list/index.html",
		OutputDir: filepath.Join(dir, "downloads"),
		StatePath: filepath.Join(dir, "state.json"),
	}
	monitor := NewMonitor(NewFetcher(0, 0, 5*time.Second), nil, nil)

	report, err := monitor.Run(context.Background(), task)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.Pages != 2 {
		t.Errorf("Expected 2 pages, got %d", report.Pages)
	}
	if report.Entries != 2 {
		t.Errorf("Expected 2 entries, got %d", report.Entries)
	}
	if len(report.Downloaded) != 3 {
		t.Fatalf("Expected 3 downloads (2 detail pages, 1 pdf), got %d: %v",
			len(report.Downloaded), report.Downloaded)
	}
	pdfPath := filepath.Join(task.OutputDir, "files_a.pdf")
	data, err := os.ReadFile(pdfPath)
	if err != nil {
		t.Fatalf("Expected pdf at %s: %v", pdfPath, err)
	}
	if string(data) != "%PDF-1.4 test" {
		t.Errorf("Unexpected pdf content %q", data)
	}

	entries, err := policy.LoadEntries(task.StatePath)
	if err != nil {
		t.Fatalf("Failed to load state: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Expected 2 state entries, got %d", len(entries))
	}
	if entries[0].Title != "办法甲" || entries[0].ID != 1 {
		t.Errorf("Unexpected first entry %q (serial %d)", entries[0].Title, entries[0].ID)
	}

	// A second run sees everything as already downloaded.
	second, err := monitor.Run(context.Background(), task)
	if err != nil {
		t.Fatalf("Second run failed: %v", err)
	}
	if len(second.Downloaded) != 0 {
		t.Errorf("Expected no downloads on second run, got %v", second.Downloaded)
	}
	if second.Skipped != 3 {
		t.Errorf("Expected 3 skips on second run, got %d", second.Skipped)
	}
}

func TestMonitorAllowedTypes(t *testing.T) {
	server := monitorTestServer(t)
	dir := t.TempDir()
	task := Task{
		Name:         "pdf-only",
		StartURL:     server.URL + "/list/index.html",
		OutputDir:    filepath.Join(dir, "downloads"),
		StatePath:    filepath.Join(dir, "state.json"),
		AllowedTypes: []string{"pdf"},
	}
	monitor := NewMonitor(NewFetcher(0, 0, 5*time.Second), nil, nil)
	report, err := monitor.Run(context.Background(), task)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(report.Downloaded) != 1 {
		t.Fatalf("Expected only the pdf download, got %v", report.Downloaded)
	}
	if !strings.HasSuffix(report.Downloaded[0], "files_a.pdf") {
		t.Errorf("Unexpected download %q", report.Downloaded[0])
	}
}

func TestMonitorPageCache(t *testing.T) {
	server := monitorTestServer(t)
	dir := t.TempDir()
	task := Task{
		Name:         "cached",
		StartURL:     server.URL + "/list/index.html",
		OutputDir:    filepath.Join(dir, "downloads"),
		StatePath:    filepath.Join(dir, "state.json"),
		PageCacheDir: filepath.Join(dir, "pages"),
	}
	monitor := NewMonitor(NewFetcher(0, 0, 5*time.Second), nil, nil)
	if _, err := monitor.Run(context.Background(), task); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	cached, err := os.ReadDir(task.PageCacheDir)
	if err != nil {
		t.Fatalf("Expected page cache dir: %v", err)
	}
	if len(cached) != 2 {
		t.Errorf("Expected 2 cached pages, got %d", len(cached))
	}

	// With the server gone, cached pages still satisfy a run.
	server.Close()
	task.UseCachedPages = true
	task.AllowedTypes = []string{"none"}
	if _, err := monitor.Run(context.Background(), task); err != nil {
		t.Fatalf("Cached run failed: %v", err)
	}
}

func TestArchive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.db")
	archive, err := OpenArchive(path)
	if err != nil {
		t.Fatalf("OpenArchive failed: %v", err)
	}

	if err := archive.RecordPage("http://example.com/list", "<html></html>"); err != nil {
		t.Fatalf("RecordPage failed: %v", err)
	}
	if err := archive.RecordPage("http://example.com/list", "<html>v2</html>"); err != nil {
		t.Fatalf("RecordPage failed: %v", err)
	}
	count, err := archive.PageCount("http://example.com/list")
	if err != nil {
		t.Fatalf("PageCount failed: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected 2 page snapshots, got %d", count)
	}

	if archive.DocumentSeen("http://example.com/a.pdf") {
		t.Error("Expected document unseen")
	}
	if err := archive.RecordDocument("http://example.com/a.pdf", "entry-1", "/tmp/a.pdf"); err != nil {
		t.Fatalf("RecordDocument failed: %v", err)
	}
	if !archive.DocumentSeen("http://example.com/a.pdf") {
		t.Error("Expected document seen after recording")
	}
	if err := archive.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Reopening applies no further migrations and keeps the data.
	reopened, err := OpenArchive(path)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer reopened.Close()
	if !reopened.DocumentSeen("http://example.com/a.pdf") {
		t.Error("Expected document still seen after reopen")
	}
}
