package keymgmt

import "sync"

// tracker is a thread-safe registry of a manager's live records, used for
// the leak report at provider teardown.
type tracker struct {
	mu      sync.Mutex
	records map[string]*Record
}

func newTracker() *tracker {
	return &tracker{records: make(map[string]*Record)}
}

func (t *tracker) add(r *Record) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records[r.id] = r
}

func (t *tracker) remove(r *Record) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.records, r.id)
}

func (t *tracker) live() []*Record {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []*Record
	for _, r := range t.records {
		out = append(out, r)
	}
	return out
}
