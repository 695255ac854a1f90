// Package coverage tracks how much of the recovered ABI surface a run
// actually touched.
//
// The surface is five orthogonal dimensions: entry points, format codes,
// status codes, conversion cases, and named edge cases. A ledger is built
// from explicit key sets and marked as probes observe things. Marking is
// strictly observation-driven and idempotent; keys outside a dimension are
// ignored because probes routinely see values the recovery never
// documented, and those must not corrupt the percentages.
package coverage

import (
	"sort"
	"sync"
)

// Dimension names used by the standard wiring. A ledger accepts any
// dimension set; these are the five the verifier reports on.
const (
	DimFunctions   = "functions"
	DimFormats     = "formats"
	DimStatuses    = "statuses"
	DimConversions = "conversions"
	DimEdges       = "edges"
)

// Dimension is one axis of the surface: a name and its full key set.
type Dimension struct {
	Name string
	Keys []string
}

// Dim builds a Dimension.
func Dim(name string, keys ...string) Dimension {
	return Dimension{Name: name, Keys: keys}
}

// Ledger is a concurrency-safe coverage ledger over a fixed key universe.
type Ledger struct {
	mu    sync.Mutex
	order []string
	dims  map[string]*dimState
}

type dimState struct {
	keys []string // construction order
	seen map[string]bool
}

// New builds a ledger. Duplicate keys within a dimension collapse;
// a duplicate dimension name replaces the earlier one.
func New(dims ...Dimension) *Ledger {
	l := &Ledger{dims: make(map[string]*dimState)}
	for _, d := range dims {
		st := &dimState{seen: make(map[string]bool)}
		for _, k := range d.Keys {
			if _, dup := st.seen[k]; !dup {
				st.seen[k] = false
				st.keys = append(st.keys, k)
			}
		}
		if _, exists := l.dims[d.Name]; !exists {
			l.order = append(l.order, d.Name)
		}
		l.dims[d.Name] = st
	}
	return l
}

// Mark records an observation. Unknown dimensions and keys are a silent
// no-op; marking twice changes nothing.
func (l *Ledger) Mark(dim, key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.dims[dim]
	if !ok {
		return
	}
	if _, known := st.seen[key]; known {
		st.seen[key] = true
	}
}

// Seen reports whether a key has been marked.
func (l *Ledger) Seen(dim, key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.dims[dim]
	if !ok {
		return false
	}
	return st.seen[key]
}

// Percent is the marked share of one dimension, in [0, 100]. Unknown and
// empty dimensions report 0.
func (l *Ledger) Percent(dim string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.dims[dim]
	if !ok {
		return 0
	}
	return st.percent()
}

// Aggregate is the unweighted mean of all dimension percentages.
func (l *Ledger) Aggregate() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.order) == 0 {
		return 0
	}
	var sum float64
	for _, name := range l.order {
		sum += l.dims[name].percent()
	}
	return sum / float64(len(l.order))
}

// Missing lists the unmarked keys of a dimension, sorted.
func (l *Ledger) Missing(dim string) []string {
	return l.filter(dim, false)
}

// Marked lists the marked keys of a dimension, sorted.
func (l *Ledger) Marked(dim string) []string {
	return l.filter(dim, true)
}

// Dimensions returns the dimension names in construction order.
func (l *Ledger) Dimensions() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.order))
	copy(out, l.order)
	return out
}

func (l *Ledger) filter(dim string, marked bool) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.dims[dim]
	if !ok {
		return nil
	}
	var out []string
	for _, k := range st.keys {
		if st.seen[k] == marked {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func (st *dimState) percent() float64 {
	if len(st.keys) == 0 {
		return 0
	}
	n := 0
	for _, k := range st.keys {
		if st.seen[k] {
			n++
		}
	}
	return 100 * float64(n) / float64(len(st.keys))
}
