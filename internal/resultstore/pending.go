package resultstore

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// PendingStore is the persistent trigger → source → sorted list of
// architectures awaiting a test result.
type PendingStore struct {
	mu   sync.RWMutex
	data map[string]map[string][]string
}

// NewPendingStore creates an empty Pending Store.
func NewPendingStore() *PendingStore {
	return &PendingStore{data: make(map[string]map[string][]string)}
}

// Add records that (trigger, src, arch) is awaiting a result. Adding an
// already-pending arch is a no-op.
func (p *PendingStore) Add(trigger, src, arch string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	bySource, ok := p.data[trigger]
	if !ok {
		bySource = make(map[string][]string)
		p.data[trigger] = bySource
	}

	arches := bySource[src]

	idx := sort.SearchStrings(arches, arch)
	if idx < len(arches) && arches[idx] == arch {
		return
	}

	arches = append(arches, "")
	copy(arches[idx+1:], arches[idx:])
	arches[idx] = arch

	bySource[src] = arches
}

// Remove clears (trigger, src, arch) from the Pending Store, pruning empty
// inner (source) and outer (trigger) entries.
func (p *PendingStore) Remove(trigger, src, arch string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	bySource, ok := p.data[trigger]
	if !ok {
		return
	}

	arches, ok := bySource[src]
	if !ok {
		return
	}

	idx := sort.SearchStrings(arches, arch)
	if idx >= len(arches) || arches[idx] != arch {
		return
	}

	arches = append(arches[:idx], arches[idx+1:]...)

	if len(arches) == 0 {
		delete(bySource, src)
	} else {
		bySource[src] = arches
	}

	if len(bySource) == 0 {
		delete(p.data, trigger)
	}
}

// Contains reports whether (trigger, src, arch) is currently pending.
func (p *PendingStore) Contains(trigger, src, arch string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	bySource, ok := p.data[trigger]
	if !ok {
		return false
	}

	arches, ok := bySource[src]
	if !ok {
		return false
	}

	idx := sort.SearchStrings(arches, arch)

	return idx < len(arches) && arches[idx] == arch
}

// Reset discards all pending entries, used by the file ingest back-end which
// fully reconstructs the Pending Store from each JSON drop rather than
// persisting it across runs.
func (p *PendingStore) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.data = make(map[string]map[string][]string)
}

// Load reads the Pending Store from a JSON document shaped
// {trigger: {source: [arch, ...]}}. A missing file leaves the store empty.
func (p *PendingStore) Load(path string) error {
	raw, err := readOptionalFile(path)
	if err != nil {
		return err
	}

	if raw == nil {
		return nil
	}

	var doc map[string]map[string][]string
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parse pending store %s: %w", path, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for trigger, bySource := range doc {
		cleaned := make(map[string][]string, len(bySource))

		for src, arches := range bySource {
			if len(arches) == 0 {
				continue
			}

			sorted := append([]string(nil), arches...)
			sort.Strings(sorted)
			cleaned[src] = sorted
		}

		if len(cleaned) > 0 {
			p.data[trigger] = cleaned
		}
	}

	return nil
}

// Save atomically rewrites the Pending Store to path.
func (p *PendingStore) Save(path string) error {
	p.mu.RLock()
	doc := make(map[string]map[string][]string, len(p.data))

	for trigger, bySource := range p.data {
		copied := make(map[string][]string, len(bySource))
		for src, arches := range bySource {
			copied[src] = append([]string(nil), arches...)
		}

		doc[trigger] = copied
	}
	p.mu.RUnlock()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal pending store: %w", err)
	}

	return writeFileAtomic(path, data)
}
