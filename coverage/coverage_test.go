package coverage

import (
	"bytes"
	"strings"
	"sync"
	"testing"
)

func testLedger() *Ledger {
	return New(
		Dim(DimFunctions, "Aud_InitDll", "Aud_OpenGetFile", "Aud_CloseGetFile", "Aud_GetString"),
		Dim(DimFormats, "1", "9", "24"),
		Dim(DimStatuses, "ok", "context_required"),
	)
}

func TestMarkAndSeen(t *testing.T) {
	l := testLedger()

	if l.Seen(DimFunctions, "Aud_InitDll") {
		t.Error("fresh ledger reports a mark")
	}

	l.Mark(DimFunctions, "Aud_InitDll")
	if !l.Seen(DimFunctions, "Aud_InitDll") {
		t.Error("mark not recorded")
	}
	if l.Seen(DimFunctions, "Aud_OpenGetFile") {
		t.Error("mark leaked to a sibling key")
	}

	// Idempotent: marking again must not change percentages.
	before := l.Percent(DimFunctions)
	l.Mark(DimFunctions, "Aud_InitDll")
	if after := l.Percent(DimFunctions); after != before {
		t.Errorf("re-mark changed percent: %v -> %v", before, after)
	}
}

func TestMarkUnknownIsNoOp(t *testing.T) {
	l := testLedger()

	l.Mark(DimFunctions, "Aud_Undocumented")
	l.Mark("bogus_dimension", "Aud_InitDll")

	if l.Percent(DimFunctions) != 0 {
		t.Error("unknown key affected percent")
	}
	if l.Seen(DimFunctions, "Aud_Undocumented") {
		t.Error("unknown key reported as seen")
	}
	if l.Aggregate() != 0 {
		t.Error("unknown dimension affected aggregate")
	}
}

func TestPercent(t *testing.T) {
	l := testLedger()

	l.Mark(DimFunctions, "Aud_InitDll")
	l.Mark(DimFunctions, "Aud_GetString")
	if got := l.Percent(DimFunctions); got != 50 {
		t.Errorf("Percent(functions) = %v, want 50", got)
	}

	l.Mark(DimStatuses, "ok")
	l.Mark(DimStatuses, "context_required")
	if got := l.Percent(DimStatuses); got != 100 {
		t.Errorf("Percent(statuses) = %v, want 100", got)
	}

	if got := l.Percent("bogus"); got != 0 {
		t.Errorf("Percent(bogus) = %v, want 0", got)
	}

	empty := New(Dim("hollow"))
	if got := empty.Percent("hollow"); got != 0 {
		t.Errorf("Percent of empty dimension = %v, want 0", got)
	}
}

func TestAggregate(t *testing.T) {
	l := testLedger()
	if l.Aggregate() != 0 {
		t.Errorf("fresh aggregate = %v, want 0", l.Aggregate())
	}

	// functions 50%, formats 0%, statuses 100% -> mean 50%.
	l.Mark(DimFunctions, "Aud_InitDll")
	l.Mark(DimFunctions, "Aud_OpenGetFile")
	l.Mark(DimStatuses, "ok")
	l.Mark(DimStatuses, "context_required")
	if got := l.Aggregate(); got != 50 {
		t.Errorf("Aggregate = %v, want 50", got)
	}

	if got := New().Aggregate(); got != 0 {
		t.Errorf("Aggregate of dimensionless ledger = %v, want 0", got)
	}
}

func TestMissingAndMarked(t *testing.T) {
	l := testLedger()
	l.Mark(DimFunctions, "Aud_OpenGetFile")
	l.Mark(DimFunctions, "Aud_CloseGetFile")

	marked := l.Marked(DimFunctions)
	want := []string{"Aud_CloseGetFile", "Aud_OpenGetFile"}
	if len(marked) != len(want) {
		t.Fatalf("Marked = %v, want %v", marked, want)
	}
	for i := range want {
		if marked[i] != want[i] {
			t.Errorf("Marked[%d] = %q, want %q (sorted)", i, marked[i], want[i])
		}
	}

	missing := l.Missing(DimFunctions)
	want = []string{"Aud_GetString", "Aud_InitDll"}
	if len(missing) != len(want) {
		t.Fatalf("Missing = %v, want %v", missing, want)
	}
	for i := range want {
		if missing[i] != want[i] {
			t.Errorf("Missing[%d] = %q, want %q (sorted)", i, missing[i], want[i])
		}
	}

	if l.Missing("bogus") != nil {
		t.Error("Missing(bogus) != nil")
	}
}

func TestDuplicateKeysCollapse(t *testing.T) {
	l := New(Dim(DimFormats, "9", "9", "24"))
	l.Mark(DimFormats, "9")
	if got := l.Percent(DimFormats); got != 50 {
		t.Errorf("Percent with duplicate construction keys = %v, want 50", got)
	}
}

func TestConcurrentMark(t *testing.T) {
	keys := make([]string, 64)
	for i := range keys {
		keys[i] = string(rune('a' + i%26)) + string(rune('0'+i/26))
	}
	l := New(Dim("load", keys...))

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, k := range keys {
				l.Mark("load", k)
				l.Seen("load", k)
			}
		}()
	}
	wg.Wait()

	if got := l.Percent("load"); got != 100 {
		t.Errorf("Percent after concurrent marking = %v, want 100", got)
	}
}

func TestSnapshot(t *testing.T) {
	l := testLedger()
	l.Mark(DimFormats, "9")
	snap := l.Snapshot()

	if len(snap.Dimensions) != 3 {
		t.Fatalf("snapshot has %d dimensions, want 3", len(snap.Dimensions))
	}
	if snap.Dimensions[0].Name != DimFunctions {
		t.Errorf("dimension order not preserved: first is %q", snap.Dimensions[0].Name)
	}
	var formats DimensionSnapshot
	for _, d := range snap.Dimensions {
		if d.Name == DimFormats {
			formats = d
		}
	}
	if formats.Total != 3 || len(formats.Marked) != 1 || formats.Marked[0] != "9" {
		t.Errorf("formats snapshot = %+v, want total 3, marked [9]", formats)
	}
}

func TestExportJSONDeterministic(t *testing.T) {
	build := func(order []string) []byte {
		l := testLedger()
		for _, k := range order {
			l.Mark(DimFunctions, k)
		}
		out, err := l.ExportJSON()
		if err != nil {
			t.Fatalf("ExportJSON: %v", err)
		}
		return out
	}

	a := build([]string{"Aud_InitDll", "Aud_GetString", "Aud_OpenGetFile"})
	b := build([]string{"Aud_OpenGetFile", "Aud_InitDll", "Aud_GetString"})
	if !bytes.Equal(a, b) {
		t.Errorf("mark order changed the export:\n%s\n%s", a, b)
	}

	// Canonical form: no insignificant whitespace.
	if bytes.ContainsRune(a, '\n') || strings.Contains(string(a), ": ") {
		t.Errorf("export is not canonical: %s", a)
	}
}
