package modtest

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/wavecheck/audparity/abi"
	"github.com/wavecheck/audparity/binding"
	"github.com/wavecheck/audparity/errors"
	"github.com/wavecheck/audparity/handshake"
)

func TestScriptEntryTable(t *testing.T) {
	s := NewScript("original")
	s.OnStatus(abi.CloseGetFile, abi.StatusOK)
	s.OnStatus(abi.ClosePutFile, abi.StatusNotInitialized)

	if !s.Has(string(abi.CloseGetFile)) || s.Has(string(abi.OpenGetFile)) {
		t.Error("Has does not reflect the handler table")
	}
	names := s.EntryNames()
	if len(names) != 2 || names[0] != string(abi.CloseGetFile) || names[1] != string(abi.ClosePutFile) {
		t.Errorf("EntryNames = %v", names)
	}

	s.Drop(abi.CloseGetFile)
	if s.Has(string(abi.CloseGetFile)) {
		t.Error("Drop left the entry visible")
	}
	if names := s.EntryNames(); len(names) != 1 || names[0] != string(abi.ClosePutFile) {
		t.Errorf("EntryNames after Drop = %v", names)
	}
}

func TestScriptUnknownEntry(t *testing.T) {
	s := NewScript("x")
	err := s.Call(context.Background(), string(abi.InitDll), make([]uint64, 1))
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseCall, Kind: errors.KindAbsentEntry}) {
		t.Errorf("err = %v, want absent-entry", err)
	}
}

func TestScriptArenaGrowth(t *testing.T) {
	s := NewScript("x")
	ptr, err := s.Alloc(context.Background(), 1<<20)
	if err != nil {
		t.Fatalf("Alloc failed: %v", err)
	}
	data := make([]byte, 1<<20)
	data[len(data)-1] = 0xFF
	if err := s.Memory().Write(ptr, data); err != nil {
		t.Fatalf("Write after growth failed: %v", err)
	}
	back, err := s.Memory().Read(ptr+uint32(len(data))-1, 1)
	if err != nil || back[0] != 0xFF {
		t.Fatalf("readback = %v, %v", back, err)
	}
}

func TestScriptClosedBackend(t *testing.T) {
	s := NewScript("x").OnStatus(abi.CloseGetFile, abi.StatusOK)
	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := s.Call(context.Background(), string(abi.CloseGetFile), make([]uint64, 1)); err == nil {
		t.Error("Call on a closed backend should fail")
	}
	if _, err := s.Alloc(context.Background(), 8); err == nil {
		t.Error("Alloc on a closed backend should fail")
	}
}

func TestWithThreePhaseVerifies(t *testing.T) {
	s := NewScript("original").WithThreePhase(0xC0FFEE)
	m := binding.NewModule(s)

	out, err := handshake.Run(context.Background(), m, handshake.ThreePhase)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !out.Verified() || out.Challenge != 0xC0FFEE || out.Session != abi.VerifyExpected {
		t.Errorf("outcome = %v", out)
	}
}

func TestWithSimpleMagicProbesViaFallback(t *testing.T) {
	s := NewScript("rebuilt").WithSimpleMagic(0x77)
	m := binding.NewModule(s)

	out, err := handshake.Probe(context.Background(), m)
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	if !out.Verified() || out.Mode != handshake.SimpleMagic || out.Session != 0x77 {
		t.Errorf("outcome = %v", out)
	}
}

func TestWithContextRequired(t *testing.T) {
	s := NewScript("original").WithContextRequired()
	m := binding.NewModule(s)

	out, err := handshake.Run(context.Background(), m, handshake.ThreePhase)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if out.State != handshake.StateContextRequired || out.Phase != 1 {
		t.Errorf("outcome = %v", out)
	}
}

func TestFlakyHide(t *testing.T) {
	inner := NewScript("x").
		OnStatus(abi.CloseGetFile, abi.StatusOK).
		OnStatus(abi.ClosePutFile, abi.StatusOK)
	f := NewFlaky(inner).Hide(abi.CloseGetFile)

	if f.Has(string(abi.CloseGetFile)) {
		t.Error("hidden entry still visible")
	}
	if names := f.EntryNames(); len(names) != 1 || names[0] != string(abi.ClosePutFile) {
		t.Errorf("EntryNames = %v", names)
	}
	err := f.Call(context.Background(), string(abi.CloseGetFile), make([]uint64, 1))
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseCall, Kind: errors.KindAbsentEntry}) {
		t.Errorf("err = %v, want absent-entry", err)
	}
}

func TestFlakyTrapAndOverride(t *testing.T) {
	boom := stderrors.New("guest fault")
	inner := NewScript("x").
		OnStatus(abi.CloseGetFile, abi.StatusOK).
		OnStatus(abi.ClosePutFile, abi.StatusOK)
	f := NewFlaky(inner).
		Trap(abi.CloseGetFile, boom).
		Override(abi.ClosePutFile, abi.StatusOutOfMemory)

	err := f.Call(context.Background(), string(abi.CloseGetFile), make([]uint64, 1))
	if !stderrors.Is(err, boom) {
		t.Errorf("trap err = %v", err)
	}

	stack := make([]uint64, 1)
	if err := f.Call(context.Background(), string(abi.ClosePutFile), stack); err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if got := abi.Status(int32(uint32(stack[0]))); got != abi.StatusOutOfMemory {
		t.Errorf("override status = %d", got)
	}
}

func TestFlakyPanic(t *testing.T) {
	inner := NewScript("x").OnStatus(abi.CloseGetFile, abi.StatusOK)
	f := NewFlaky(inner).Panic(abi.CloseGetFile)

	defer func() {
		if recover() == nil {
			t.Error("expected the injected panic")
		}
	}()
	_ = f.Call(context.Background(), string(abi.CloseGetFile), make([]uint64, 1))
}
