// Package directory resolves spoken or transcribed staff references to
// directory entries.
//
// Voice transcription mangles names ("Jon Smyth" for "John Smith"), so lookup
// is fuzzy: an exact ID match wins outright, otherwise entries are ranked by
// Jaro-Winkler similarity against the display name with a Levenshtein bound
// as a sanity check, and finally a Double Metaphone stage catches spellings
// that only sound alike. Queries that match nothing convincingly return
// ErrNotFound rather than the least-bad candidate.
package directory

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/antzucaro/matchr"
)

// ErrNotFound is returned when no entry matches the query convincingly.
var ErrNotFound = errors.New("directory: no matching entry")

// minSimilarity is the Jaro-Winkler score below which a candidate is rejected.
const minSimilarity = 0.82

// Entry is one staff directory record.
type Entry struct {
	ID          string `yaml:"id"`
	DisplayName string `yaml:"display_name"`
	Department  string `yaml:"department,omitempty"`
	Extension   string `yaml:"extension,omitempty"`
}

// Directory is an in-memory staff directory. It is safe for concurrent use.
type Directory struct {
	mu      sync.RWMutex
	entries []Entry
	byID    map[string]int
}

// New creates a Directory from the given entries. Duplicate IDs are rejected.
func New(entries []Entry) (*Directory, error) {
	d := &Directory{
		entries: append([]Entry(nil), entries...),
		byID:    make(map[string]int, len(entries)),
	}
	for i, e := range d.entries {
		if e.ID == "" || e.DisplayName == "" {
			return nil, fmt.Errorf("directory: entry %d missing id or display_name", i)
		}
		key := strings.ToLower(e.ID)
		if _, dup := d.byID[key]; dup {
			return nil, fmt.Errorf("directory: duplicate id %q", e.ID)
		}
		d.byID[key] = i
	}
	return d, nil
}

// Resolve finds the entry best matching query, which may be an ID or a
// (possibly misheard) display name.
func (d *Directory) Resolve(query string) (Entry, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return Entry{}, ErrNotFound
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if idx, ok := d.byID[q]; ok {
		return d.entries[idx], nil
	}

	best := -1
	bestScore := 0.0
	for i, e := range d.entries {
		name := strings.ToLower(e.DisplayName)
		score := matchr.JaroWinkler(q, name, true)
		if score > bestScore {
			bestScore = score
			best = i
		}
	}

	if best >= 0 && bestScore >= minSimilarity {
		// Similarity alone can be fooled by short names; cap the absolute
		// edit distance relative to the name length.
		name := strings.ToLower(d.entries[best].DisplayName)
		if matchr.Levenshtein(q, name) <= len(name)/2 {
			return d.entries[best], nil
		}
	}

	if e, ok := d.resolvePhonetic(q); ok {
		return e, nil
	}
	return Entry{}, ErrNotFound
}

// Entries returns a snapshot of all records.
func (d *Directory) Entries() []Entry {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]Entry(nil), d.entries...)
}

// Len returns the number of records.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.entries)
}
