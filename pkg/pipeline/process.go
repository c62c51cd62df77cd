package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/coolbeans/policyfinder/pkg/doctext"
	"github.com/coolbeans/policyfinder/pkg/policy"
	"github.com/coolbeans/policyfinder/pkg/zhtext"
)

// Pipeline extracts text artifacts for crawl state entries. The PDF
// backend is injected; a nil backend downgrades PDF sources to
// pdf_support_unavailable instead of failing the run.
type Pipeline struct {
	pdf doctext.TextExtractor
	log zerolog.Logger
}

func New(pdf doctext.TextExtractor) *Pipeline {
	return &Pipeline{pdf: pdf, log: zerolog.Nop()}
}

// SetLogger directs per-entry diagnostics to log.
func (p *Pipeline) SetLogger(log zerolog.Logger) {
	p.log = log
}

// Record summarizes the pipeline outcome for one entry.
type Record struct {
	EntryIndex  int
	Serial      int
	Title       string
	TextPath    string
	Status      string
	SourceType  string
	SourcePath  string
	PdfNeedsOCR bool
	Attempts    []*Attempt
}

// Report collects the records of one pipeline run.
type Report struct {
	Records []Record
}

// PdfNeedsOCR returns the records whose PDF source produced no text
// and therefore needs OCR before it can be indexed.
func (r *Report) PdfNeedsOCR() []Record {
	var out []Record
	for _, record := range r.Records {
		if record.PdfNeedsOCR {
			out = append(out, record)
		}
	}
	return out
}

// buildFilename derives the text artifact name for an entry:
// NNNN_<title-slug>_<source-type>.txt, with a counter suffix when the
// same base recurs within a run.
func buildFilename(entry *policy.Entry, selected *Attempt, index int, used map[string]int) string {
	var parts []string
	if entry.ID > 0 {
		parts = append(parts, fmt.Sprintf("%04d", entry.ID))
	}
	if strings.TrimSpace(entry.Title) != "" {
		parts = append(parts, zhtext.Slug(entry.Title))
	} else if strings.TrimSpace(entry.Remark) != "" {
		parts = append(parts, zhtext.Slug(entry.Remark))
	}
	if len(parts) == 0 {
		parts = append(parts, fmt.Sprintf("entry_%04d", index+1))
	}
	if selected != nil && selected.Candidate.NormalizedType != "" {
		parts = append(parts, selected.Candidate.NormalizedType)
	}
	base := strings.Join(parts, "_")
	counter := used[base]
	used[base] = counter + 1
	if counter > 0 {
		base = fmt.Sprintf("%s_%d", base, counter)
	}
	return base + ".txt"
}

func summarizeAttempt(attempt *Attempt) policy.ExtractionAttempt {
	summary := policy.ExtractionAttempt{
		Type:     attempt.Candidate.NormalizedType,
		Path:     attempt.Candidate.Path,
		Used:     attempt.Used,
		NeedsOCR: attempt.NeedsOCR,
		Error:    attempt.Error,
	}
	if summary.Type == "" {
		summary.Type = attempt.Candidate.DeclaredType
	}
	if attempt.HasText {
		summary.CharCount = utf8.RuneCountInString(attempt.Text)
	}
	return summary
}

// Process extracts text for every entry of the state, writes the text
// artifacts under outputDir, and records a local-text:// document on
// each entry pointing at its artifact. statePath tells the pipeline
// where relative document paths are anchored; empty means outputDir.
func (p *Pipeline) Process(state *policy.State, outputDir, statePath string) (*Report, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output dir %s: %w", outputDir, err)
	}
	stateDir := outputDir
	if statePath != "" {
		stateDir = filepath.Dir(statePath)
	}

	usedNames := make(map[string]int)
	report := &Report{}

	for index, entry := range state.Entries {
		if entry == nil {
			continue
		}
		extraction := p.ExtractEntry(entry, stateDir)
		filename := buildFilename(entry, extraction.Selected, index, usedNames)
		textPath := filepath.Join(outputDir, filename)
		if err := os.WriteFile(textPath, []byte(extraction.Text), 0644); err != nil {
			return nil, fmt.Errorf("failed to write text artifact %s: %w", textPath, err)
		}

		documentURL := "local-text://" + filename
		title := strings.TrimSpace(entry.Title + "（文本）")
		if strings.TrimSpace(entry.Title) == "" {
			title = "文本提取"
		}
		textDocument := &policy.Document{
			URL:              documentURL,
			Type:             "text",
			Title:            title,
			Downloaded:       true,
			LocalPath:        textPath,
			ExtractionStatus: extraction.Status,
			NeedsOCR:         extraction.PdfNeedsOCR,
		}
		if extraction.Selected != nil {
			cand := extraction.Selected.Candidate
			textDocument.SourceType = cand.NormalizedType
			if textDocument.SourceType == "" {
				textDocument.SourceType = cand.DeclaredType
			}
			textDocument.SourceLocalPath = cand.Path
			if cand.Document.URL != "" {
				textDocument.SourceURL = cand.Document.URL
			}
		}
		for _, attempt := range extraction.Attempts {
			textDocument.Attempts = append(textDocument.Attempts, summarizeAttempt(attempt))
		}

		replaced := false
		for i, doc := range entry.Documents {
			if doc != nil && doc.URL == documentURL {
				entry.Documents[i] = textDocument
				replaced = true
				break
			}
		}
		if !replaced {
			entry.Documents = append(entry.Documents, textDocument)
		}

		p.log.Debug().
			Int("serial", entry.ID).
			Str("status", extraction.Status).
			Str("artifact", filename).
			Msg("entry processed")

		record := Record{
			EntryIndex:  index,
			Serial:      entry.ID,
			Title:       entry.Title,
			TextPath:    textPath,
			Status:      extraction.Status,
			PdfNeedsOCR: extraction.PdfNeedsOCR,
			Attempts:    extraction.Attempts,
		}
		if extraction.Selected != nil {
			cand := extraction.Selected.Candidate
			record.SourceType = cand.NormalizedType
			if record.SourceType == "" {
				record.SourceType = cand.DeclaredType
			}
			record.SourcePath = cand.Path
		}
		report.Records = append(report.Records, record)
	}

	return report, nil
}

// ProcessFile loads a state file, processes it, and writes the
// updated state back in place.
func (p *Pipeline) ProcessFile(statePath, outputDir string) (*Report, error) {
	state, err := policy.LoadState(statePath)
	if err != nil {
		return nil, err
	}
	report, err := p.Process(state, outputDir, statePath)
	if err != nil {
		return nil, err
	}
	if err := state.Save(statePath); err != nil {
		return nil, err
	}
	return report, nil
}
