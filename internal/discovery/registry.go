package discovery

import (
	"sort"
	"sync"
	"time"
)

// Registry holds the discovered peers, one entry per identity key.
type Registry struct {
	mu      sync.RWMutex
	records map[string]DeviceRecord
	now     func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		records: make(map[string]DeviceRecord),
		now:     time.Now,
	}
}

// Upsert stores rec, replacing any record with the same key, and reports
// whether the key is new.
func (r *Registry) Upsert(rec DeviceRecord) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec.LastSeen.IsZero() {
		rec.LastSeen = r.now()
	}
	_, exists := r.records[rec.Key()]
	r.records[rec.Key()] = rec
	return !exists
}

// Remove drops the record with key and reports whether it was present.
func (r *Registry) Remove(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.records[key]
	delete(r.records, key)
	return ok
}

// Apply folds a browse event into the registry and reports whether the set
// of known keys changed.
func (r *Registry) Apply(ev Event) bool {
	switch ev.Type {
	case EventFound:
		return r.Upsert(ev.Record)
	case EventLost:
		return r.Remove(ev.Record.Key())
	}
	return false
}

func (r *Registry) Get(key string) (DeviceRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[key]
	return rec, ok
}

// List returns the records ordered by name.
func (r *Registry) List() []DeviceRecord {
	r.mu.RLock()
	out := make([]DeviceRecord, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// Clear forgets every record.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = make(map[string]DeviceRecord)
}
