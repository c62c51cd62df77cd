package crawler

import (
	"fmt"
	"os"
	"sort"

	"github.com/coolbeans/policyfinder/pkg/policy"
)

// FileRecord tracks one attachment URL across crawl runs, so a file
// downloaded in an earlier run is not fetched again.
type FileRecord struct {
	EntryID    string
	Title      string
	Type       string
	Downloaded bool
	LocalPath  string
}

// stateEntry is the mutable in-memory form of one listing entry while
// a crawl is merging pages.
type stateEntry struct {
	Serial    *int
	Title     string
	Remark    string
	Documents []*policy.Document
}

// CrawlState is the crawler's working view of a task: entries keyed by
// a stable identity and a file index keyed by URL. It persists through
// policy.State, from which the file index is rebuilt on load.
type CrawlState struct {
	entries map[string]*stateEntry
	files   map[string]*FileRecord
	order   []string
}

// NewCrawlState returns an empty state.
func NewCrawlState() *CrawlState {
	return &CrawlState{
		entries: make(map[string]*stateEntry),
		files:   make(map[string]*FileRecord),
	}
}

// Len reports the number of known entries.
func (s *CrawlState) Len() int {
	return len(s.entries)
}

// File returns the record for an attachment URL, or nil.
func (s *CrawlState) File(url string) *FileRecord {
	return s.files[url]
}

// identityFor derives the stable id of a listing entry: the detail
// page URL, else the first document URL, else a title-based key, else
// the serial.
func (s *CrawlState) identityFor(entry ListingEntry) string {
	for _, doc := range entry.Documents {
		if doc.Type == "html" && doc.URL != "" {
			return doc.URL
		}
	}
	for _, doc := range entry.Documents {
		if doc.URL != "" {
			return doc.URL
		}
	}
	if entry.Title != "" {
		if entry.Remark != "" {
			return "title::" + entry.Title + "::" + entry.Remark
		}
		return "title::" + entry.Title
	}
	if entry.Serial != nil {
		return fmt.Sprintf("serial::%d", *entry.Serial)
	}
	return SafeFilename(fmt.Sprintf("%+v", entry))
}

// EnsureEntry registers a listing entry, reusing the stored entry when
// any of its document URLs is already known, and refreshes the stored
// serial, title and remark. Returns the entry's id.
func (s *CrawlState) EnsureEntry(entry ListingEntry) string {
	var entryID string
	for _, doc := range entry.Documents {
		if doc.URL == "" {
			continue
		}
		if record := s.files[doc.URL]; record != nil {
			if _, ok := s.entries[record.EntryID]; ok {
				entryID = record.EntryID
				break
			}
		}
		if id := s.entryContaining(doc.URL); id != "" {
			entryID = id
			break
		}
	}
	if entryID == "" {
		entryID = s.identityFor(entry)
	}
	if existing, ok := s.entries[entryID]; ok {
		if entry.Serial != nil {
			existing.Serial = entry.Serial
		}
		if entry.Title != "" {
			existing.Title = entry.Title
		}
		if entry.Remark != "" {
			existing.Remark = entry.Remark
		}
	} else {
		s.entries[entryID] = &stateEntry{
			Serial: entry.Serial,
			Title:  entry.Title,
			Remark: entry.Remark,
		}
		s.order = append(s.order, entryID)
	}
	return entryID
}

func (s *CrawlState) entryContaining(url string) string {
	for _, id := range s.order {
		for _, doc := range s.entries[id].Documents {
			if doc != nil && doc.URL == url {
				return id
			}
		}
	}
	return ""
}

// MergeDocuments folds discovered documents into the stored entry,
// updating existing documents by URL and appending new ones. Download
// flags and local paths survive re-merging, and the file index is kept
// in sync.
func (s *CrawlState) MergeDocuments(entryID string, documents []ListingDocument) {
	entry, ok := s.entries[entryID]
	if !ok {
		entry = &stateEntry{}
		s.entries[entryID] = entry
		s.order = append(s.order, entryID)
	}
	byURL := make(map[string]*policy.Document, len(entry.Documents))
	for _, doc := range entry.Documents {
		if doc != nil && doc.URL != "" {
			byURL[doc.URL] = doc
		}
	}
	for _, incoming := range documents {
		if incoming.URL == "" {
			continue
		}
		docType := incoming.Type
		if docType == "" {
			docType = ClassifyDocumentType(incoming.URL)
		}
		record := s.files[incoming.URL]
		downloaded := false
		localPath := ""
		if record != nil {
			downloaded = record.Downloaded
			localPath = record.LocalPath
		}
		if existing, ok := byURL[incoming.URL]; ok {
			existing.Type = docType
			if incoming.Title != "" {
				existing.Title = incoming.Title
			}
			if downloaded {
				existing.Downloaded = true
			}
			if localPath != "" {
				existing.LocalPath = localPath
			}
		} else {
			doc := &policy.Document{
				URL:        incoming.URL,
				Type:       docType,
				Title:      incoming.Title,
				Downloaded: downloaded,
				LocalPath:  localPath,
			}
			entry.Documents = append(entry.Documents, doc)
			byURL[incoming.URL] = doc
		}
		if record != nil {
			if incoming.Title != "" {
				record.Title = incoming.Title
			}
			record.Type = docType
			record.EntryID = entryID
		}
	}
}

// IsDownloaded reports whether the attachment URL has already been
// fetched in this or a previous run.
func (s *CrawlState) IsDownloaded(url string) bool {
	record := s.files[url]
	return record != nil && record.Downloaded
}

// MarkDownloaded records a completed download, updating both the file
// index and the matching document of the entry.
func (s *CrawlState) MarkDownloaded(entryID, url, title, docType, localPath string) {
	record := s.files[url]
	if record == nil {
		record = &FileRecord{}
		s.files[url] = record
	}
	record.EntryID = entryID
	record.Title = title
	record.Type = docType
	record.Downloaded = true
	if localPath != "" {
		record.LocalPath = localPath
	}
	entry, ok := s.entries[entryID]
	if !ok {
		return
	}
	for _, doc := range entry.Documents {
		if doc != nil && doc.URL == url {
			doc.Type = docType
			if title != "" {
				doc.Title = title
			}
			doc.Downloaded = true
			if localPath != "" {
				doc.LocalPath = localPath
			}
			return
		}
	}
	entry.Documents = append(entry.Documents, &policy.Document{
		URL:        url,
		Type:       docType,
		Title:      title,
		Downloaded: true,
		LocalPath:  localPath,
	})
}

// ClearDownloaded drops the downloaded flag and local path for a URL,
// forcing a re-download when the local file went missing.
func (s *CrawlState) ClearDownloaded(url string) {
	if record := s.files[url]; record != nil {
		record.Downloaded = false
		record.LocalPath = ""
	}
	for _, id := range s.order {
		for _, doc := range s.entries[id].Documents {
			if doc != nil && doc.URL == url {
				doc.Downloaded = false
				doc.LocalPath = ""
			}
		}
	}
}

// ToState renders the crawl state in the persisted shape, entries
// sorted by serial (entries without one last) then title.
func (s *CrawlState) ToState() *policy.State {
	state := &policy.State{Entries: make([]*policy.Entry, 0, len(s.entries))}
	for _, id := range s.order {
		entry := s.entries[id]
		out := &policy.Entry{
			Title:     entry.Title,
			Remark:    entry.Remark,
			Documents: entry.Documents,
		}
		if entry.Serial != nil {
			out.ID = *entry.Serial
		}
		state.Entries = append(state.Entries, out)
	}
	serials := make(map[*policy.Entry]*int, len(s.entries))
	for i, id := range s.order {
		serials[state.Entries[i]] = s.entries[id].Serial
	}
	sort.SliceStable(state.Entries, func(i, j int) bool {
		a, b := serials[state.Entries[i]], serials[state.Entries[j]]
		if (a == nil) != (b == nil) {
			return b == nil
		}
		if a != nil && *a != *b {
			return *a < *b
		}
		return state.Entries[i].Title < state.Entries[j].Title
	})
	return state
}

// LoadCrawlState reads a persisted state file and rebuilds the working
// state, including the file index from downloaded documents. A missing
// file yields an empty state.
func LoadCrawlState(path string) (*CrawlState, error) {
	state := NewCrawlState()
	if path == "" {
		return state, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return state, nil
	}
	persisted, err := policy.LoadState(path)
	if err != nil {
		return nil, err
	}
	for _, entry := range persisted.Entries {
		if entry == nil {
			continue
		}
		listing := ListingEntry{Title: entry.Title, Remark: entry.Remark}
		if entry.ID != 0 {
			serial := entry.ID
			listing.Serial = &serial
		}
		entryID := state.EnsureEntry(listing)
		for _, doc := range entry.Documents {
			if doc == nil || doc.URL == "" {
				continue
			}
			if doc.Downloaded {
				state.files[doc.URL] = &FileRecord{
					EntryID:    entryID,
					Title:      doc.Title,
					Type:       doc.Type,
					Downloaded: true,
					LocalPath:  doc.Path(),
				}
			}
			state.MergeDocuments(entryID, []ListingDocument{
				{URL: doc.URL, Type: doc.Type, Title: doc.Title},
			})
		}
	}
	return state, nil
}

// Save persists the state file.
func (s *CrawlState) Save(path string) error {
	if path == "" {
		return nil
	}
	return s.ToState().Save(path)
}
