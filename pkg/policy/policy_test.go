package policy

import (
	"os"
	"path/filepath"
	"testing"
)

func TestExtractDocNo(t *testing.T) {
	cases := []struct {
		name     string
		input    string
		expected string
	}{
		{"full form", "中国人民银行公告〔2023〕第3号", "公告[2023]第3号"},
		{"yinfa", "银发〔2021〕17号", "银发[2021]17号"},
		{"two digit year", "银发〔23〕17号", "银发[2023]17号"},
		{"parens", "证监(2020)第12号", "证监[2020]第12号"},
		{"spaces in tail", "银保监〔2019〕 第 5 号", "银保监[2019]第5号"},
		{"no match", "关于加强管理的通知", ""},
		{"empty", "", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ExtractDocNo(tc.input); got != tc.expected {
				t.Errorf("ExtractDocNo(%q) = %q, want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestGuessDoctypePriority(t *testing.T) {
	cases := []struct {
		input    string
		expected string
	}{
		{"外包风险管理办法", "管理办法"},
		{"反洗钱实施细则", "实施细则"},
		{"某某暂行规定", "暂行规定"},
		{"某某规定", "规定"},
		{"印发办法的通知", "办法"},
		{"年度工作通知", "通知"},
		{"完全无关", ""},
	}
	for _, tc := range cases {
		t.Run(tc.input, func(t *testing.T) {
			if got := GuessDoctype(tc.input); got != tc.expected {
				t.Errorf("GuessDoctype(%q) = %q, want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestGuessAgency(t *testing.T) {
	got := GuessAgency("中国人民银行 国家外汇管理局联合发布")
	expected := "中国人民银行、国家外汇管理局"
	if got != expected {
		t.Errorf("GuessAgency = %q, want %q", got, expected)
	}
	if got := GuessAgency("某些无关文字"); got != "" {
		t.Errorf("GuessAgency on unrelated text = %q, want empty", got)
	}
}

func TestPickBestPath(t *testing.T) {
	docs := []*Document{
		{Type: "html", LocalPath: "page.html"},
		{Type: "pdf"}, // highest type but no path
		{Type: "word", PathAlt: "doc.docx"},
		{Type: "text", LocalPath: "plain.txt"},
	}
	if got := PickBestPath(docs); got != "doc.docx" {
		t.Errorf("PickBestPath = %q, want doc.docx", got)
	}
	if got := PickBestPath(nil); got != "" {
		t.Errorf("PickBestPath(nil) = %q, want empty", got)
	}
}

func TestEntryBuild(t *testing.T) {
	entry := &Entry{
		ID:     1,
		Title:  "中国人民银行公告〔2023〕第3号 关于支付外包管理办法",
		Remark: "2023-05-01",
		Documents: []*Document{
			{Type: "pdf", LocalPath: "downloads/notice.pdf"},
			{Type: "html", LocalPath: "pages/notice.html"},
		},
	}
	entry.Build()

	if entry.DocNo != "公告[2023]第3号" {
		t.Errorf("DocNo = %q", entry.DocNo)
	}
	if entry.Year != "2023" {
		t.Errorf("Year = %q, want 2023", entry.Year)
	}
	if entry.Doctype != "管理办法" {
		t.Errorf("Doctype = %q, want 管理办法", entry.Doctype)
	}
	if entry.Agency != "中国人民银行" {
		t.Errorf("Agency = %q", entry.Agency)
	}
	if entry.BestPath != "downloads/notice.pdf" {
		t.Errorf("BestPath = %q", entry.BestPath)
	}
	if len(entry.Tokens) == 0 {
		t.Error("Tokens should not be empty")
	}
}

func TestEntryBuildDocNoFromRemark(t *testing.T) {
	entry := &Entry{Title: "关于某事项", Remark: "银发〔2020〕8号"}
	entry.Build()
	if entry.DocNo != "银发[2020]8号" {
		t.Errorf("DocNo = %q, want 银发[2020]8号", entry.DocNo)
	}
}

func TestLoadEntries(t *testing.T) {
	stateJSON := `{"entries": [
		{"serial": 7, "title": "第一个文件", "remark": "", "documents": []},
		"not an object",
		{"title": "第二个文件", "documents": [{"type": "pdf", "local_path": "a.pdf"}]}
	]}`
	path := filepath.Join(t.TempDir(), "task_state.json")
	if err := os.WriteFile(path, []byte(stateJSON), 0644); err != nil {
		t.Fatal(err)
	}

	entries, err := LoadEntries(path)
	if err != nil {
		t.Fatalf("LoadEntries failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries (malformed skipped), got %d", len(entries))
	}
	if entries[0].ID != 7 {
		t.Errorf("First entry id = %d, want serial 7", entries[0].ID)
	}
	// Fallback id is the 1-based position within the file.
	if entries[1].ID != 3 {
		t.Errorf("Second entry id = %d, want positional 3", entries[1].ID)
	}
	if entries[1].BestPath != "a.pdf" {
		t.Errorf("Second entry best path = %q", entries[1].BestPath)
	}
}

func TestLoadEntriesMissingFile(t *testing.T) {
	if _, err := LoadEntries(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestDocumentPathAliases(t *testing.T) {
	cases := []struct {
		name     string
		doc      Document
		expected string
	}{
		{"local_path wins", Document{LocalPath: "a", LocalPathAlt: "b", PathAlt: "c"}, "a"},
		{"localPath next", Document{LocalPathAlt: "b", PathAlt: "c"}, "b"},
		{"path last", Document{PathAlt: "c"}, "c"},
		{"none", Document{}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.doc.Path(); got != tc.expected {
				t.Errorf("Path() = %q, want %q", got, tc.expected)
			}
		})
	}
}
