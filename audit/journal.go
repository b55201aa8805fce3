// Package audit provides an asynchronous journal of provider operations.
// It is a diagnostic side channel: failures are always reported through
// the dispatch return path, never through the journal alone.
package audit

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Entry is one journaled provider operation.
type Entry struct {
	ID        string            `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	Operation string            `json:"operation"`
	Family    string            `json:"family,omitempty"`
	RecordID  string            `json:"record_id,omitempty"`
	Status    string            `json:"status"`
	Detail    map[string]string `json:"detail,omitempty"`
}

// Operation outcomes.
const (
	StatusOK      = "OK"
	StatusError   = "ERROR"
	StatusPartial = "PARTIAL"
)

// Subscriber receives journal entries via a channel.
type Subscriber struct {
	C  chan Entry
	id string
}

// Journal decouples the dispatch path from journal writes with a buffered
// channel and a single writer goroutine.
type Journal struct {
	entries chan Entry
	out     io.Writer

	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	store       []Entry

	done chan struct{}
}

// NewJournal creates a journal with the given buffer size. out may be nil,
// in which case entries are retained for Query but not written anywhere.
func NewJournal(bufferSize int, out io.Writer) *Journal {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	j := &Journal{
		entries:     make(chan Entry, bufferSize),
		out:         out,
		subscribers: make(map[string]*Subscriber),
		done:        make(chan struct{}),
	}
	go j.processLoop()
	return j
}

// Record enqueues an entry. Non-blocking: if the buffer is full the entry
// is dropped with a warning rather than stalling the dispatch path.
func (j *Journal) Record(operation, family, recordID, status string, detail map[string]string) {
	entry := Entry{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Operation: operation,
		Family:    family,
		RecordID:  recordID,
		Status:    status,
		Detail:    detail,
	}

	select {
	case j.entries <- entry:
	default:
		slog.Warn("audit journal buffer full, dropping entry", "operation", operation)
	}
}

// Subscribe creates a subscriber receiving entries on a buffered channel.
func (j *Journal) Subscribe() *Subscriber {
	j.mu.Lock()
	defer j.mu.Unlock()

	sub := &Subscriber{
		C:  make(chan Entry, 64),
		id: uuid.NewString(),
	}
	j.subscribers[sub.id] = sub
	return sub
}

// Unsubscribe removes a subscriber and closes its channel.
func (j *Journal) Unsubscribe(sub *Subscriber) {
	j.mu.Lock()
	defer j.mu.Unlock()

	delete(j.subscribers, sub.id)
	close(sub.C)
}

// Query returns retained entries matching the filters, newest first.
// Empty filter values match everything.
func (j *Journal) Query(recordID, operation string, limit int) []Entry {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var results []Entry
	for i := len(j.store) - 1; i >= 0; i-- {
		e := j.store[i]
		if recordID != "" && e.RecordID != recordID {
			continue
		}
		if operation != "" && e.Operation != operation {
			continue
		}
		results = append(results, e)
		if limit > 0 && len(results) >= limit {
			break
		}
	}
	return results
}

// Close stops the writer goroutine after draining pending entries. Must be
// called exactly once.
func (j *Journal) Close() {
	close(j.entries)
	<-j.done
}

func (j *Journal) processLoop() {
	defer close(j.done)

	for entry := range j.entries {
		j.mu.Lock()
		j.store = append(j.store, entry)
		j.mu.Unlock()

		if j.out != nil {
			data, err := json.Marshal(entry)
			if err != nil {
				slog.Error("audit marshal", "error", err)
				continue
			}
			fmt.Fprintf(j.out, "%s\n", data)
		}

		j.mu.RLock()
		for _, sub := range j.subscribers {
			select {
			case sub.C <- entry:
			default:
				// subscriber too slow, drop
			}
		}
		j.mu.RUnlock()
	}
}
