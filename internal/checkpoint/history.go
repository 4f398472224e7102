package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"gender-classifier/internal/ml"
)

// maxHistory bounds the number of entries kept in the history file.
const maxHistory = 500

// Entry is one recorded checkpoint.
type Entry struct {
	At                  time.Time `json:"at"`
	Primary             string    `json:"primary"`
	Backup              string    `json:"backup,omitempty"`
	Reason              Reason    `json:"reason"`
	OnlineTrainingCount int       `json:"online_training_count"`
}

// History is the JSON log of checkpoints, newest first.
type History struct {
	mu      sync.RWMutex
	path    string
	entries []Entry
}

// LoadHistory reads the history file; a missing file yields an empty history.
func LoadHistory(path string) (*History, error) {
	h := &History{path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return h, nil
		}
		return nil, fmt.Errorf("%w: read checkpoint history: %v", ml.ErrPersistence, err)
	}

	if err := json.Unmarshal(data, &h.entries); err != nil {
		return nil, fmt.Errorf("%w: parse checkpoint history: %v", ml.ErrPersistence, err)
	}
	h.sort()
	return h, nil
}

// Add records an entry and rewrites the file.
func (h *History) Add(e Entry) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.entries = append(h.entries, e)
	h.sort()
	if len(h.entries) > maxHistory {
		h.entries = h.entries[:maxHistory]
	}
	return h.save()
}

// List returns a copy of the entries, newest first.
func (h *History) List() []Entry {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]Entry, len(h.entries))
	copy(out, h.entries)
	return out
}

// Latest returns the newest entry, if any.
func (h *History) Latest() (Entry, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.entries) == 0 {
		return Entry{}, false
	}
	return h.entries[0], true
}

func (h *History) sort() {
	sort.SliceStable(h.entries, func(i, j int) bool {
		return h.entries[i].At.After(h.entries[j].At)
	})
}

func (h *History) save() error {
	data, err := json.MarshalIndent(h.entries, "", "  ")
	if err != nil {
		return err
	}
	return ml.WriteFileAtomic(h.path, data, 0o600)
}
