package coverage

import (
	"encoding/json"

	"github.com/cyberphone/json-canonicalization/go/src/webpki.org/jsoncanonicalizer"

	"github.com/wavecheck/audparity/errors"
)

// Snapshot is a point-in-time export of the ledger. Key lists are sorted
// so two runs covering the same surface produce identical snapshots.
type Snapshot struct {
	Dimensions []DimensionSnapshot `json:"dimensions"`
	Aggregate  float64             `json:"aggregate_percent"`
}

// DimensionSnapshot is one dimension's state in a Snapshot.
type DimensionSnapshot struct {
	Name    string   `json:"name"`
	Total   int      `json:"total"`
	Marked  []string `json:"marked"`
	Missing []string `json:"missing"`
	Percent float64  `json:"percent"`
}

// Snapshot exports the current state.
func (l *Ledger) Snapshot() Snapshot {
	names := l.Dimensions()
	snap := Snapshot{Aggregate: l.Aggregate()}
	for _, name := range names {
		marked := l.Marked(name)
		missing := l.Missing(name)
		snap.Dimensions = append(snap.Dimensions, DimensionSnapshot{
			Name:    name,
			Total:   len(marked) + len(missing),
			Marked:  marked,
			Missing: missing,
			Percent: l.Percent(name),
		})
	}
	return snap
}

// ExportJSON renders the snapshot as RFC 8785 canonical JSON. Canonical
// form makes coverage files byte-comparable across runs: identical
// observations yield identical bytes regardless of map iteration or
// encoder version.
func (l *Ledger) ExportJSON() ([]byte, error) {
	raw, err := json.Marshal(l.Snapshot())
	if err != nil {
		return nil, errors.Wrap(errors.PhaseReport, errors.KindInternal, err, "marshal coverage snapshot")
	}
	canon, err := jsoncanonicalizer.Transform(raw)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseReport, errors.KindInternal, err, "canonicalize coverage snapshot")
	}
	return canon, nil
}
