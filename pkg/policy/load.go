package policy

import (
	"encoding/json"
	"fmt"
	"os"
)

// State is the persisted shape of one crawl task: a flat list of
// entries discovered on the regulator's listing pages.
type State struct {
	Entries []*Entry `json:"entries"`
}

// rawEntry mirrors the on-disk entry shape, where the stable id is
// carried in a "serial" field.
type rawEntry struct {
	Serial    *int        `json:"serial"`
	Title     string      `json:"title"`
	Remark    string      `json:"remark"`
	Documents []*Document `json:"documents"`
}

// LoadEntries reads a state JSON file and returns built entries.
// Entries that are not JSON objects are skipped silently. The id is
// taken from the serial field when present, otherwise it is the
// 1-based position within this file; ids are not unique across files.
func LoadEntries(path string) ([]*Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read state file %s: %w", path, err)
	}
	return ParseEntries(data)
}

// ParseEntries decodes state JSON bytes into built entries.
func ParseEntries(data []byte) ([]*Entry, error) {
	var envelope struct {
		Entries []json.RawMessage `json:"entries"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("failed to parse state JSON: %w", err)
	}

	entries := make([]*Entry, 0, len(envelope.Entries))
	for i, rawData := range envelope.Entries {
		var raw rawEntry
		if err := json.Unmarshal(rawData, &raw); err != nil {
			continue
		}
		entry := &Entry{
			ID:        i + 1,
			Title:     raw.Title,
			Remark:    raw.Remark,
			Documents: raw.Documents,
		}
		if raw.Serial != nil {
			entry.ID = *raw.Serial
		}
		entry.Build()
		entries = append(entries, entry)
	}
	return entries, nil
}

// LoadState reads a state file preserving the full entry records, for
// callers that rewrite the state (crawler, text pipeline).
func LoadState(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read state file %s: %w", path, err)
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to parse state file %s: %w", path, err)
	}
	return &state, nil
}

// Save writes the state to disk as indented JSON.
func (s *State) Save(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write state to %s: %w", path, err)
	}
	return nil
}
