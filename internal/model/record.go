package model

import (
	"strconv"
	"time"
)

// Well-known record keys.
const (
	KeyID             = "id"
	KeyRequestDate    = "request_date"
	KeyCompletionDate = "completion_date"
	KeyEntryDate      = "entry_date"
	KeyIsAmended      = "is_amended"
	KeyAmended        = "amended"
)

// DateKeys lists the fields normalized to YYYY-MM-DD.
var DateKeys = []string{KeyRequestDate, KeyCompletionDate, KeyEntryDate}

// Field is a single normalized key/value pair scraped from an entry page.
type Field struct {
	Key   string `json:"key" yaml:"key"`
	Value string `json:"value" yaml:"value"`
}

// Record is one remote FOIA entry after parsing. The field set varies per
// entry; Fields keeps the order in which the page exposed them.
type Record struct {
	ID        int       `json:"id"`
	IsAmended bool      `json:"is_amended"`
	SyncedAt  time.Time `json:"synced_at,omitzero"`

	fields []Field
	index  map[string]int
	// primary is the number of leading fields taken from the page's main
	// label column; -1 when unknown.
	primary int
}

// NewRecord returns an empty record for the given remote id.
func NewRecord(id int) *Record {
	return &Record{ID: id, index: make(map[string]int), primary: -1}
}

// MarkPrimary records that every field set so far came from the main label
// column. Flatten places id right after those fields.
func (r *Record) MarkPrimary() {
	r.primary = len(r.fields)
}

// Set adds or overwrites a field. Overwrites keep the original position.
func (r *Record) Set(key, value string) {
	if r.index == nil {
		r.index = make(map[string]int)
	}
	if i, ok := r.index[key]; ok {
		r.fields[i].Value = value
		return
	}
	r.index[key] = len(r.fields)
	r.fields = append(r.fields, Field{Key: key, Value: value})
}

// Get returns the value for key and whether it was present.
func (r *Record) Get(key string) (string, bool) {
	i, ok := r.index[key]
	if !ok {
		return "", false
	}
	return r.fields[i].Value, true
}

// Has reports whether key is present.
func (r *Record) Has(key string) bool {
	_, ok := r.index[key]
	return ok
}

// Delete removes key if present.
func (r *Record) Delete(key string) {
	i, ok := r.index[key]
	if !ok {
		return
	}
	r.fields = append(r.fields[:i], r.fields[i+1:]...)
	delete(r.index, key)
	if i < r.primary {
		r.primary--
	}
	for j := i; j < len(r.fields); j++ {
		r.index[r.fields[j].Key] = j
	}
}

// Fields returns a copy of the scraped fields in page order.
func (r *Record) Fields() []Field {
	out := make([]Field, len(r.fields))
	copy(out, r.fields)
	return out
}

// Len returns the number of scraped fields.
func (r *Record) Len() int { return len(r.fields) }

// AmendedFlag returns is_amended as the 0/1 integer persisted by the store.
func (r *Record) AmendedFlag() int {
	if r.IsAmended {
		return 1
	}
	return 0
}

// Flatten returns every field including id and is_amended, in display order:
// main column fields, then id, then detail fields, then is_amended. Without
// a marked main column, id follows all scraped fields.
func (r *Record) Flatten() []Field {
	split := len(r.fields)
	if r.primary >= 0 && r.primary < split {
		split = r.primary
	}
	out := make([]Field, 0, len(r.fields)+2)
	out = append(out, r.fields[:split]...)
	out = append(out, Field{Key: KeyID, Value: strconv.Itoa(r.ID)})
	out = append(out, r.fields[split:]...)
	out = append(out, Field{Key: KeyIsAmended, Value: strconv.Itoa(r.AmendedFlag())})
	return out
}

// Map returns the flattened record as a map.
func (r *Record) Map() map[string]string {
	flat := r.Flatten()
	m := make(map[string]string, len(flat))
	for _, f := range flat {
		m[f.Key] = f.Value
	}
	return m
}

// Lines renders the record as "key = value" lines.
func (r *Record) Lines() []string {
	flat := r.Flatten()
	lines := make([]string, 0, len(flat))
	for _, f := range flat {
		lines = append(lines, f.Key+" = "+f.Value)
	}
	return lines
}
