package search

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"gopkg.in/fsnotify.v1"

	"github.com/coolbeans/policyfinder/pkg/policy"
)

// Hit is one scored search result.
type Hit struct {
	Entry *policy.Entry
	Score float64
}

// Finder holds the in-memory policy index built from one or more
// state JSON files. Safe for concurrent use; Reload and the file
// watcher swap the entry list under a write lock.
type Finder struct {
	mu      sync.RWMutex
	entries []*policy.Entry
	paths   []string

	watcher  *fsnotify.Watcher
	stopChan chan struct{}
	log      zerolog.Logger
}

// NewFinder loads the given state files into a fresh index. Files
// that are missing or malformed are skipped; an index built from zero
// files is valid and simply empty.
func NewFinder(paths ...string) (*Finder, error) {
	f := &Finder{paths: paths, log: zerolog.Nop()}
	if err := f.Reload(); err != nil {
		return nil, err
	}
	return f, nil
}

// SetLogger directs watcher and reload diagnostics to log.
func (f *Finder) SetLogger(log zerolog.Logger) {
	f.log = log
}

// Reload re-reads every configured state file and atomically replaces
// the index. Unreadable files are logged and skipped so one corrupt
// state file cannot blank the whole index.
func (f *Finder) Reload() error {
	var entries []*policy.Entry
	loaded := 0
	for _, path := range f.paths {
		es, err := policy.LoadEntries(path)
		if err != nil {
			f.log.Warn().Err(err).Str("path", path).Msg("skipping state file")
			continue
		}
		entries = append(entries, es...)
		loaded++
	}
	if len(f.paths) > 0 && loaded == 0 {
		return fmt.Errorf("no readable state files among %d configured", len(f.paths))
	}

	f.mu.Lock()
	f.entries = entries
	f.mu.Unlock()
	f.log.Debug().Int("entries", len(entries)).Msg("index reloaded")
	return nil
}

// Count returns the number of indexed entries.
func (f *Finder) Count() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.entries)
}

// Search scores every entry against the query and returns the top k
// hits in descending score order. Ties keep state-file order, so
// results are deterministic across runs.
func (f *Finder) Search(query string, topk int) []Hit {
	f.mu.RLock()
	entries := f.entries
	f.mu.RUnlock()

	hits := make([]Hit, 0, len(entries))
	for _, e := range entries {
		hits = append(hits, Hit{Entry: e, Score: Score(query, e)})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if topk < 0 {
		topk = 0
	}
	if topk < len(hits) {
		hits = hits[:topk]
	}
	return hits
}

// Best returns the single highest-scoring entry, or ok=false when the
// index is empty or nothing scores above zero.
func (f *Finder) Best(query string) (*policy.Entry, float64, bool) {
	hits := f.Search(query, 1)
	if len(hits) == 0 || hits[0].Score <= 0 {
		return nil, 0, false
	}
	return hits[0].Entry, hits[0].Score, true
}

// Watch starts watching the state files' directories and reloads the
// index when any of them is rewritten. Crawler runs replace state
// files wholesale, so create and rename count as changes too.
func (f *Finder) Watch() error {
	if len(f.paths) == 0 {
		return fmt.Errorf("no state files configured for watching")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	f.watcher = watcher
	f.stopChan = make(chan struct{})

	go f.watchLoop()

	dirs := make(map[string]bool)
	for _, path := range f.paths {
		dirs[filepath.Dir(path)] = true
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return fmt.Errorf("watching directory %s: %w", dir, err)
		}
	}
	return nil
}

func (f *Finder) watchLoop() {
	watched := make(map[string]bool, len(f.paths))
	for _, path := range f.paths {
		watched[filepath.Clean(path)] = true
	}
	for {
		select {
		case <-f.stopChan:
			return

		case event, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if !watched[filepath.Clean(event.Name)] {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			f.log.Info().Str("path", event.Name).Str("op", opString(event.Op)).Msg("state file changed")
			if err := f.Reload(); err != nil {
				f.log.Error().Err(err).Msg("reload after state change failed")
			}

		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			f.log.Error().Err(err).Msg("state watcher error")
		}
	}
}

func opString(op fsnotify.Op) string {
	switch {
	case op&fsnotify.Create != 0:
		return "create"
	case op&fsnotify.Write != 0:
		return "write"
	case op&fsnotify.Rename != 0:
		return "rename"
	default:
		return strings.ToLower(op.String())
	}
}

// StopWatch stops the state file watcher.
func (f *Finder) StopWatch() {
	if f.stopChan != nil {
		close(f.stopChan)
	}
	if f.watcher != nil {
		f.watcher.Close()
	}
}
