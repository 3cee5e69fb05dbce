// Package catalogtest provides an in-memory catalog for tests.
package catalogtest

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"

	"nbsync/internal/domain"
)

// Op names a catalog operation for failure injection
type Op string

const (
	OpList   Op = "list"
	OpGet    Op = "get"
	OpCreate Op = "create"
	OpUpdate Op = "update"
)

type failure struct {
	kind domain.Kind
	op   Op
}

// Fake is an in-memory catalog that mimics NetBox filter semantics for the
// filters nbsync uses. It is safe for concurrent use.
type Fake struct {
	mu       sync.Mutex
	nextID   int64
	records  map[domain.Kind]map[int64]map[string]any
	failures map[failure]error
	// conflicts holds kinds whose next create is preceded by a concurrent insert
	conflicts map[domain.Kind]bool
	creates   map[domain.Kind]int
	updates   map[domain.Kind]int
}

// New creates an empty catalog
func New() *Fake {
	return &Fake{
		records:   make(map[domain.Kind]map[int64]map[string]any),
		failures:  make(map[failure]error),
		conflicts: make(map[domain.Kind]bool),
		creates:   make(map[domain.Kind]int),
		updates:   make(map[domain.Kind]int),
	}
}

// Seed inserts a record without counting it as a mutation
func (f *Fake) Seed(kind domain.Kind, fields map[string]any) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.insert(kind, fields)
}

// Fail makes every op on kind return err until cleared with a nil err
func (f *Fake) Fail(kind domain.Kind, op Op, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.failures, failure{kind, op})
		return
	}
	f.failures[failure{kind, op}] = err
}

// ConflictOnNextCreate simulates another writer creating the same entity
// between our lookup and our create: the record is stored, then a
// uniqueness error is returned.
func (f *Fake) ConflictOnNextCreate(kind domain.Kind) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conflicts[kind] = true
}

// Mutations is the total number of creates and updates
func (f *Fake) Mutations() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.creates {
		n += c
	}
	for _, u := range f.updates {
		n += u
	}
	return n
}

// Creates is the number of successful creates of kind
func (f *Fake) Creates(kind domain.Kind) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creates[kind]
}

// Updates is the number of successful updates of kind
func (f *Fake) Updates(kind domain.Kind) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.updates[kind]
}

// Count is the number of stored records of kind
func (f *Fake) Count(kind domain.Kind) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records[kind])
}

// Record returns a copy of a stored record
func (f *Fake) Record(kind domain.Kind, id int64) (map[string]any, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[kind][id]
	if !ok {
		return nil, false
	}
	return copyFields(rec), true
}

// All returns copies of every record of kind ordered by id
func (f *Fake) All(kind domain.Kind) []domain.CatalogRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sorted(kind, nil)
}

// List implements the catalog read path
func (f *Fake) List(_ context.Context, kind domain.Kind, filter url.Values) ([]domain.CatalogRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failures[failure{kind, OpList}]; err != nil {
		return nil, err
	}
	return f.sorted(kind, filter), nil
}

// Get implements the catalog read path
func (f *Fake) Get(_ context.Context, kind domain.Kind, id int64) (domain.CatalogRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failures[failure{kind, OpGet}]; err != nil {
		return domain.CatalogRecord{}, err
	}
	rec, ok := f.records[kind][id]
	if !ok {
		return domain.CatalogRecord{}, fmt.Errorf("%s %d: %w", kind, id, domain.ErrNotFound)
	}
	return domain.CatalogRecord{Kind: kind, ID: id, Fields: copyFields(rec)}, nil
}

// Create implements the catalog write path
func (f *Fake) Create(_ context.Context, kind domain.Kind, attrs map[string]any) (domain.CatalogRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failures[failure{kind, OpCreate}]; err != nil {
		return domain.CatalogRecord{}, err
	}
	if f.conflicts[kind] {
		delete(f.conflicts, kind)
		f.insert(kind, attrs)
		return domain.CatalogRecord{}, &domain.ApplicationError{
			Method:     "POST",
			URL:        string(kind),
			StatusCode: 400,
			Body:       `{"name": ["` + string(kind) + ` with this name already exists."]}`,
		}
	}

	id := f.insert(kind, attrs)
	f.creates[kind]++
	return domain.CatalogRecord{Kind: kind, ID: id, Fields: copyFields(f.records[kind][id])}, nil
}

// Update implements the catalog write path
func (f *Fake) Update(_ context.Context, kind domain.Kind, id int64, attrs map[string]any) (domain.CatalogRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failures[failure{kind, OpUpdate}]; err != nil {
		return domain.CatalogRecord{}, err
	}
	rec, ok := f.records[kind][id]
	if !ok {
		return domain.CatalogRecord{}, &domain.ApplicationError{Method: "PATCH", URL: string(kind), StatusCode: 404, Body: "Not found."}
	}
	for k, v := range attrs {
		rec[k] = normalize(v)
	}
	f.updates[kind]++
	return domain.CatalogRecord{Kind: kind, ID: id, Fields: copyFields(rec)}, nil
}

func (f *Fake) insert(kind domain.Kind, fields map[string]any) int64 {
	f.nextID++
	id := f.nextID
	rec := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		rec[k] = normalize(v)
	}
	rec["id"] = float64(id)
	if f.records[kind] == nil {
		f.records[kind] = make(map[int64]map[string]any)
	}
	f.records[kind][id] = rec
	return id
}

func (f *Fake) sorted(kind domain.Kind, filter url.Values) []domain.CatalogRecord {
	var out []domain.CatalogRecord
	for id, rec := range f.records[kind] {
		if matches(rec, filter) {
			out = append(out, domain.CatalogRecord{Kind: kind, ID: id, Fields: copyFields(rec)})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// matches applies NetBox-style filters: "<field>_id" matches a reference,
// "address" ignores the prefix length, "mac_address" is case-insensitive
// and "port" matches membership in "ports".
func matches(rec map[string]any, filter url.Values) bool {
	for key, values := range filter {
		if key == "limit" || key == "offset" || len(values) == 0 {
			continue
		}
		want := values[0]

		switch {
		case key == "address":
			if hostPart(domain.StringOf(rec["address"])) != hostPart(want) {
				return false
			}
		case key == "mac_address":
			if !strings.EqualFold(domain.StringOf(rec["mac_address"]), want) {
				return false
			}
		case key == "port":
			if !containsPort(rec["ports"], want) {
				return false
			}
		case hasField(rec, key):
			if domain.StringOf(rec[key]) != want {
				return false
			}
		case strings.HasSuffix(key, "_id"):
			field := strings.TrimSuffix(key, "_id")
			if fmt.Sprint(domain.IDOf(rec[field])) != want {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func hasField(rec map[string]any, key string) bool {
	_, ok := rec[key]
	return ok
}

func hostPart(addr string) string {
	if i := strings.IndexByte(addr, '/'); i >= 0 {
		return addr[:i]
	}
	return addr
}

func containsPort(v any, want string) bool {
	ports, ok := v.([]any)
	if !ok {
		return false
	}
	for _, p := range ports {
		if domain.StringOf(p) == want {
			return true
		}
	}
	return false
}

// normalize stores values the way a JSON round trip would
func normalize(v any) any {
	switch t := v.(type) {
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case []int:
		out := make([]any, len(t))
		for i, p := range t {
			out[i] = float64(p)
		}
		return out
	default:
		return v
	}
}

func copyFields(rec map[string]any) map[string]any {
	out := make(map[string]any, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	return out
}
