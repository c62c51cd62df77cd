package crawler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"
)

// Task configures one monitored listing.
type Task struct {
	Name      string
	StartURL  string
	OutputDir string
	StatePath string

	// PageCacheDir caches fetched listing HTML; empty disables caching.
	PageCacheDir string
	// UseCachedPages reuses cached listing pages instead of fetching.
	UseCachedPages bool
	// AllowedTypes restricts downloads to these document types; empty
	// means everything.
	AllowedTypes []string
	// VerifyLocal re-downloads attachments whose recorded local file
	// is missing.
	VerifyLocal bool
}

// Monitor walks a listing's pagination, merges discovered entries into
// the crawl state, and downloads attachments not seen before.
type Monitor struct {
	fetcher *Fetcher
	parser  ListingParser
	archive *Archive
	log     zerolog.Logger
}

// NewMonitor builds a Monitor. parser may be nil, selecting the
// default TableParser; archive may be nil, disabling the page archive.
func NewMonitor(fetcher *Fetcher, parser ListingParser, archive *Archive) *Monitor {
	if parser == nil {
		parser = NewTableParser()
	}
	return &Monitor{
		fetcher: fetcher,
		parser:  parser,
		archive: archive,
		log:     zerolog.Nop(),
	}
}

// SetLogger installs a logger.
func (m *Monitor) SetLogger(log zerolog.Logger) {
	m.log = log
}

// Report summarizes one monitoring run.
type Report struct {
	Pages      int
	Entries    int
	Downloaded []string
	Skipped    int
	Failed     int
}

// page is one visited listing page.
type page struct {
	URL string
	Doc *goquery.Document
}

// Run performs a single monitoring pass for the task: walk every
// listing page, register entries, download new attachments, and
// persist the state after every download so an interrupted run loses
// nothing.
func (m *Monitor) Run(ctx context.Context, task Task) (*Report, error) {
	if task.StartURL == "" {
		return nil, fmt.Errorf("task %s has no start URL", task.Name)
	}
	state, err := LoadCrawlState(task.StatePath)
	if err != nil {
		return nil, fmt.Errorf("failed to load state for task %s: %w", task.Name, err)
	}
	report := &Report{}
	allowed := make(map[string]bool, len(task.AllowedTypes))
	for _, t := range task.AllowedTypes {
		allowed[strings.ToLower(t)] = true
	}

	err = m.walkPages(ctx, task, func(p page) error {
		report.Pages++
		entries := m.parser.Entries(p.URL, p.Doc)
		report.Entries += len(entries)
		m.log.Info().Str("url", p.URL).Int("entries", len(entries)).Msg("processed listing page")
		for _, entry := range entries {
			if err := m.handleEntry(ctx, task, state, entry, allowed, report); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return report, err
	}
	if err := state.Save(task.StatePath); err != nil {
		return report, err
	}
	return report, nil
}

// walkPages visits the start page and every pagination link reachable
// from it, breadth first, at most once each.
func (m *Monitor) walkPages(ctx context.Context, task Task, visit func(page) error) error {
	queue := []string{task.StartURL}
	visited := map[string]bool{}
	for len(queue) > 0 {
		pageURL := queue[0]
		queue = queue[1:]
		if visited[pageURL] {
			continue
		}
		html, err := m.loadPage(ctx, task, pageURL)
		if err != nil {
			return err
		}
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
		if err != nil {
			return fmt.Errorf("failed to parse listing page %s: %w", pageURL, err)
		}
		if err := visit(page{URL: pageURL, Doc: doc}); err != nil {
			return err
		}
		visited[pageURL] = true
		queued := make(map[string]bool, len(queue))
		for _, u := range queue {
			queued[u] = true
		}
		for _, link := range m.parser.Pagination(pageURL, doc, task.StartURL).Links {
			if !visited[link.URL] && !queued[link.URL] {
				queue = append(queue, link.URL)
				queued[link.URL] = true
			}
		}
	}
	return nil
}

// loadPage returns the page HTML, serving from the page cache when
// allowed, fetching and caching otherwise. Fetched pages are also
// recorded in the archive.
func (m *Monitor) loadPage(ctx context.Context, task Task, pageURL string) (string, error) {
	var cachePath string
	if task.PageCacheDir != "" {
		if err := os.MkdirAll(task.PageCacheDir, 0755); err != nil {
			return "", fmt.Errorf("failed to create page cache dir: %w", err)
		}
		cachePath = filepath.Join(task.PageCacheDir, cachePathForURL(pageURL))
		if task.UseCachedPages {
			if data, err := os.ReadFile(cachePath); err == nil {
				m.log.Debug().Str("path", cachePath).Msg("loaded cached listing page")
				return string(data), nil
			}
		}
	}
	html, err := m.fetcher.FetchPage(ctx, pageURL)
	if err != nil {
		return "", err
	}
	m.log.Info().Str("url", pageURL).Int("bytes", len(html)).Msg("fetched listing page")
	if cachePath != "" {
		if err := os.WriteFile(cachePath, []byte(html), 0644); err != nil {
			return "", fmt.Errorf("failed to cache page %s: %w", pageURL, err)
		}
	}
	if m.archive != nil {
		if err := m.archive.RecordPage(pageURL, html); err != nil {
			m.log.Warn().Err(err).Str("url", pageURL).Msg("failed to archive page")
		}
	}
	return html, nil
}

func (m *Monitor) handleEntry(ctx context.Context, task Task, state *CrawlState, entry ListingEntry, allowed map[string]bool, report *Report) error {
	entryID := state.EnsureEntry(entry)
	for _, doc := range entry.Documents {
		if doc.Type == "html" {
			state.MergeDocuments(entryID, []ListingDocument{doc})
		}
	}
	for _, doc := range entry.Documents {
		if doc.URL == "" {
			continue
		}
		docType := strings.ToLower(doc.Type)
		if docType == "" {
			docType = ClassifyDocumentType(doc.URL)
		}
		if len(allowed) > 0 && !allowed[docType] {
			continue
		}
		downloaded := state.IsDownloaded(doc.URL)
		if downloaded && task.VerifyLocal {
			record := state.File(doc.URL)
			if record == nil || !fileExists(record.LocalPath) {
				state.ClearDownloaded(doc.URL)
				downloaded = false
			}
		}
		state.MergeDocuments(entryID, []ListingDocument{doc})
		if downloaded {
			report.Skipped++
			m.log.Debug().Str("url", doc.URL).Msg("skipping existing file")
			continue
		}
		if m.archive != nil && m.archive.DocumentSeen(doc.URL) && !task.VerifyLocal {
			report.Skipped++
			continue
		}
		path, err := m.downloadDocument(ctx, task, doc.URL, docType)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			report.Failed++
			m.log.Warn().Err(err).Str("url", doc.URL).Msg("download failed")
			continue
		}
		title := doc.Title
		if title == "" {
			title = entry.Title
		}
		state.MarkDownloaded(entryID, doc.URL, title, docType, path)
		if m.archive != nil {
			if err := m.archive.RecordDocument(doc.URL, entryID, path); err != nil {
				m.log.Warn().Err(err).Str("url", doc.URL).Msg("failed to archive document")
			}
		}
		if err := state.Save(task.StatePath); err != nil {
			return err
		}
		report.Downloaded = append(report.Downloaded, path)
		m.log.Info().Str("url", doc.URL).Str("path", path).Msg("downloaded")
	}
	return nil
}

// downloadDocument fetches one attachment under its structured
// filename. Detail pages are stored as decoded UTF-8 HTML.
func (m *Monitor) downloadDocument(ctx context.Context, task Task, fileURL, docType string) (string, error) {
	filename := StructuredFilename(fileURL, docType)
	if docType == "html" {
		html, err := m.fetcher.FetchPage(ctx, fileURL)
		if err != nil {
			return "", err
		}
		if err := os.MkdirAll(task.OutputDir, 0755); err != nil {
			return "", fmt.Errorf("failed to create %s: %w", task.OutputDir, err)
		}
		target := filepath.Join(task.OutputDir, filename)
		if err := os.WriteFile(target, []byte(html), 0644); err != nil {
			return "", fmt.Errorf("failed to write %s: %w", target, err)
		}
		return target, nil
	}
	return m.fetcher.Download(ctx, fileURL, task.OutputDir, filename)
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
