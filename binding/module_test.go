package binding

import (
	"context"
	"encoding/binary"
	stderrors "errors"
	"math"
	"testing"
	"unicode/utf16"

	audparity "github.com/wavecheck/audparity"
	"github.com/wavecheck/audparity/abi"
	"github.com/wavecheck/audparity/errors"
)

// mockBackend implements audparity.Backend with scripted entry handlers
// over a flat byte memory and a bump allocator.
type mockBackend struct {
	mem     []byte
	next    uint32
	order   []string
	handler map[string]func(stack []uint64)
	allocs  int
	freed   []uint32
}

func newMockBackend() *mockBackend {
	return &mockBackend{
		mem:     make([]byte, 64*1024),
		next:    1024, // non-zero offsets catch pointer mixups
		handler: make(map[string]func(stack []uint64)),
	}
}

func (b *mockBackend) on(entry abi.Entry, h func(stack []uint64)) {
	name := string(entry)
	if _, ok := b.handler[name]; !ok {
		b.order = append(b.order, name)
	}
	b.handler[name] = h
}

func (b *mockBackend) Label() string { return "mock" }

func (b *mockBackend) Has(name string) bool {
	_, ok := b.handler[name]
	return ok
}

func (b *mockBackend) EntryNames() []string {
	out := make([]string, len(b.order))
	copy(out, b.order)
	return out
}

func (b *mockBackend) Call(_ context.Context, name string, stack []uint64) error {
	h, ok := b.handler[name]
	if !ok {
		return errors.EntryAbsent(name)
	}
	h(stack)
	return nil
}

func (b *mockBackend) Memory() audparity.Memory { return (*mockMemory)(b) }

func (b *mockBackend) Alloc(_ context.Context, size uint32) (uint32, error) {
	ptr := (b.next + 7) &^ 7
	b.next = ptr + size
	if int(b.next) > len(b.mem) {
		return 0, errors.AllocationFailed(size, nil)
	}
	b.allocs++
	return ptr, nil
}

func (b *mockBackend) Free(_ context.Context, ptr uint32) error {
	b.freed = append(b.freed, ptr)
	return nil
}

func (b *mockBackend) Close(context.Context) error { return nil }

type mockMemory mockBackend

func (m *mockMemory) check(offset, length uint32) error {
	if int(offset)+int(length) > len(m.mem) {
		return errors.New(errors.PhaseCall, errors.KindOutOfBounds).Build()
	}
	return nil
}

func (m *mockMemory) Read(offset uint32, length uint32) ([]byte, error) {
	if err := m.check(offset, length); err != nil {
		return nil, err
	}
	out := make([]byte, length)
	copy(out, m.mem[offset:])
	return out, nil
}

func (m *mockMemory) Write(offset uint32, data []byte) error {
	if err := m.check(offset, uint32(len(data))); err != nil {
		return err
	}
	copy(m.mem[offset:], data)
	return nil
}

func (m *mockMemory) ReadU16(offset uint32) (uint16, error) {
	if err := m.check(offset, 2); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(m.mem[offset:]), nil
}

func (m *mockMemory) ReadU32(offset uint32) (uint32, error) {
	if err := m.check(offset, 4); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(m.mem[offset:]), nil
}

func (m *mockMemory) ReadU64(offset uint32) (uint64, error) {
	if err := m.check(offset, 8); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(m.mem[offset:]), nil
}

func (m *mockMemory) WriteU16(offset uint32, value uint16) error {
	if err := m.check(offset, 2); err != nil {
		return err
	}
	binary.LittleEndian.PutUint16(m.mem[offset:], value)
	return nil
}

func (m *mockMemory) WriteU32(offset uint32, value uint32) error {
	if err := m.check(offset, 4); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(m.mem[offset:], value)
	return nil
}

func (m *mockMemory) WriteU64(offset uint32, value uint64) error {
	if err := m.check(offset, 8); err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(m.mem[offset:], value)
	return nil
}

// wideAt decodes the UTF-16LE string the binding wrote at ptr. Kept
// independent of the production encoder on purpose.
func wideAt(t *testing.T, b *mockBackend, ptr uint32) string {
	t.Helper()
	var units []uint16
	for off := ptr; ; off += 2 {
		if int(off)+2 > len(b.mem) {
			t.Fatalf("unterminated wide string at 0x%x", ptr)
		}
		u := binary.LittleEndian.Uint16(b.mem[off:])
		if u == 0 {
			break
		}
		units = append(units, u)
	}
	return string(utf16.Decode(units))
}

func narrowAt(t *testing.T, b *mockBackend, ptr uint32) string {
	t.Helper()
	for off := ptr; int(off) < len(b.mem); off++ {
		if b.mem[off] == 0 {
			return string(b.mem[ptr:off])
		}
	}
	t.Fatalf("unterminated narrow string at 0x%x", ptr)
	return ""
}

func TestInitDllReturnsRawWord(t *testing.T) {
	be := newMockBackend()
	be.on(abi.InitDll, func(stack []uint64) {
		code := uint32(stack[0])
		stack[0] = uint64(code ^ abi.InitChallengeXor)
	})

	m := NewModule(be)
	got, err := m.InitDll(context.Background(), abi.VerifyMagic)
	if err != nil {
		t.Fatalf("InitDll failed: %v", err)
	}
	want := abi.VerifyMagic ^ abi.InitChallengeXor
	if got != want {
		t.Errorf("InitDll = %d, want %d", got, want)
	}
}

func TestVersionGettersDecodeFloat(t *testing.T) {
	be := newMockBackend()
	be.on(abi.GetInterfaceVersion, func(stack []uint64) {
		stack[0] = math.Float64bits(7.2)
	})
	be.on(abi.GetDllVersion, func(stack []uint64) {
		stack[0] = math.Float64bits(7.21)
	})

	m := NewModule(be)
	iv, err := m.InterfaceVersion(context.Background())
	if err != nil {
		t.Fatalf("InterfaceVersion failed: %v", err)
	}
	if iv != 7.2 {
		t.Errorf("InterfaceVersion = %v, want 7.2", iv)
	}
	dv, err := m.DllVersion(context.Background())
	if err != nil {
		t.Fatalf("DllVersion failed: %v", err)
	}
	if dv != 7.21 {
		t.Errorf("DllVersion = %v, want 7.21", dv)
	}
}

func TestOpenGetFileMarshalsWidePath(t *testing.T) {
	be := newMockBackend()
	var gotPath string
	var gotFormat, gotExtra int32
	be.on(abi.OpenGetFile, func(stack []uint64) {
		gotPath = wideAt(t, be, uint32(stack[0]))
		gotFormat = int32(uint32(stack[1]))
		gotExtra = int32(uint32(stack[2]))
		stack[0] = uint64(uint32(0))
	})

	m := NewModule(be)
	status, err := m.OpenGetFile(context.Background(), "/work/mätning-√2.wav", 9, -1)
	if err != nil {
		t.Fatalf("OpenGetFile failed: %v", err)
	}
	if status != abi.StatusOK {
		t.Errorf("status = %d, want 0", status)
	}
	if gotPath != "/work/mätning-√2.wav" {
		t.Errorf("module saw path %q", gotPath)
	}
	if gotFormat != 9 || gotExtra != -1 {
		t.Errorf("module saw format=%d extra=%d, want 9, -1", gotFormat, gotExtra)
	}
	if len(be.freed) == 0 {
		t.Error("path scratch was never freed")
	}
}

func TestAbsentEntryFailsBeforeMarshalling(t *testing.T) {
	be := newMockBackend()

	m := NewModule(be)
	_, err := m.OpenGetFile(context.Background(), "/work/x.wav", 0, 0)
	if err == nil {
		t.Fatal("expected absent-entry error")
	}
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseCall, Kind: errors.KindAbsentEntry}) {
		t.Errorf("wrong error: %v", err)
	}
	if be.allocs != 0 {
		t.Errorf("made %d allocations against an absent entry", be.allocs)
	}
}

func TestNegativeStatusIsDataNotError(t *testing.T) {
	be := newMockBackend()
	be.on(abi.CloseGetFile, func(stack []uint64) {
		stack[0] = i32(abi.StatusNotInitialized)
	})

	m := NewModule(be)
	status, err := m.CloseGetFile(context.Background())
	if err != nil {
		t.Fatalf("CloseGetFile failed: %v", err)
	}
	if status != abi.StatusNotInitialized {
		t.Errorf("status = %d, want %d", status, abi.StatusNotInitialized)
	}
}

func TestCountQueries(t *testing.T) {
	be := newMockBackend()
	be.on(abi.GetNumberOfFiles, func(stack []uint64) {
		binary.LittleEndian.PutUint32(be.mem[uint32(stack[0]):], 1)
		stack[0] = 0
	})
	be.on(abi.GetNumberOfChannels, func(stack []uint64) {
		if uint32(stack[0]) != 0 {
			stack[0] = i32(abi.StatusInvalidParam)
			return
		}
		binary.LittleEndian.PutUint32(be.mem[uint32(stack[1]):], 2)
		stack[0] = 0
	})

	m := NewModule(be)
	status, files, err := m.NumberOfFiles(context.Background())
	if err != nil {
		t.Fatalf("NumberOfFiles failed: %v", err)
	}
	if status != abi.StatusOK || files != 1 {
		t.Errorf("NumberOfFiles = (%d, %d), want (0, 1)", status, files)
	}

	status, channels, err := m.NumberOfChannels(context.Background(), 0)
	if err != nil {
		t.Fatalf("NumberOfChannels failed: %v", err)
	}
	if status != abi.StatusOK || channels != 2 {
		t.Errorf("NumberOfChannels = (%d, %d), want (0, 2)", status, channels)
	}

	status, _, err = m.NumberOfChannels(context.Background(), 7)
	if err != nil {
		t.Fatalf("NumberOfChannels failed: %v", err)
	}
	if status != abi.StatusInvalidParam {
		t.Errorf("out-of-range file gave status %d, want %d", status, abi.StatusInvalidParam)
	}
}

func TestChannelDoubles(t *testing.T) {
	const stored = 5
	be := newMockBackend()
	be.on(abi.GetChannelDataDoubles, func(stack []uint64) {
		bufPtr := uint32(stack[2])
		countPtr := uint32(stack[3])
		if bufPtr == 0 {
			// NULL-buffer count query
			binary.LittleEndian.PutUint32(be.mem[countPtr:], stored)
			stack[0] = 0
			return
		}
		capacity := binary.LittleEndian.Uint32(be.mem[countPtr:])
		n := uint32(stored)
		if capacity < n {
			n = capacity
		}
		for i := uint32(0); i < n; i++ {
			v := float64(i) * 0.5
			binary.LittleEndian.PutUint64(be.mem[bufPtr+i*8:], math.Float64bits(v))
		}
		binary.LittleEndian.PutUint32(be.mem[countPtr:], n)
		stack[0] = 0
	})

	m := NewModule(be)

	status, count, samples, err := m.ChannelDoubles(context.Background(), 0, 0, 0)
	if err != nil {
		t.Fatalf("count query failed: %v", err)
	}
	if status != abi.StatusOK || count != stored || samples != nil {
		t.Fatalf("count query = (%d, %d, %v), want (0, %d, nil)", status, count, samples, stored)
	}

	status, count, samples, err = m.ChannelDoubles(context.Background(), 0, 0, stored)
	if err != nil {
		t.Fatalf("full read failed: %v", err)
	}
	if status != abi.StatusOK || count != stored || len(samples) != stored {
		t.Fatalf("full read = (%d, %d, %d samples)", status, count, len(samples))
	}
	for i, v := range samples {
		if v != float64(i)*0.5 {
			t.Errorf("sample[%d] = %v, want %v", i, v, float64(i)*0.5)
		}
	}

	status, count, samples, err = m.ChannelDoubles(context.Background(), 0, 0, 3)
	if err != nil {
		t.Fatalf("partial read failed: %v", err)
	}
	if status != abi.StatusOK || count != 3 || len(samples) != 3 {
		t.Fatalf("partial read = (%d, %d, %d samples), want (0, 3, 3)", status, count, len(samples))
	}
}

func TestChannelDoublesErrorStatusSkipsReadback(t *testing.T) {
	be := newMockBackend()
	be.on(abi.GetChannelDataDoubles, func(stack []uint64) {
		stack[0] = i32(abi.StatusNotInitialized)
	})

	m := NewModule(be)
	status, _, samples, err := m.ChannelDoubles(context.Background(), 0, 0, 16)
	if err != nil {
		t.Fatalf("ChannelDoubles failed: %v", err)
	}
	if status != abi.StatusNotInitialized {
		t.Errorf("status = %d, want %d", status, abi.StatusNotInitialized)
	}
	if samples != nil {
		t.Errorf("got %d samples despite error status", len(samples))
	}
}

func TestChannelOriginalWidth(t *testing.T) {
	be := newMockBackend()
	be.on(abi.GetChannelDataOriginal, func(stack []uint64) {
		bufPtr := uint32(stack[2])
		countPtr := uint32(stack[3])
		if bufPtr == 0 {
			binary.LittleEndian.PutUint32(be.mem[countPtr:], 4)
			stack[0] = 0
			return
		}
		// 4 samples, 2 bytes each
		for i := uint32(0); i < 8; i++ {
			be.mem[bufPtr+i] = byte(i + 1)
		}
		binary.LittleEndian.PutUint32(be.mem[countPtr:], 4)
		stack[0] = 0
	})

	m := NewModule(be)
	status, count, raw, err := m.ChannelOriginal(context.Background(), 0, 0, 4, 2)
	if err != nil {
		t.Fatalf("ChannelOriginal failed: %v", err)
	}
	if status != abi.StatusOK || count != 4 || len(raw) != 8 {
		t.Fatalf("ChannelOriginal = (%d, %d, %d bytes), want (0, 4, 8)", status, count, len(raw))
	}
	for i, b := range raw {
		if b != byte(i+1) {
			t.Errorf("raw[%d] = %d, want %d", i, b, i+1)
		}
	}

	if _, _, _, err := m.ChannelOriginal(context.Background(), 0, 0, 4, 0); err == nil {
		t.Error("sized read with zero width should fail")
	}
}

func TestPutChannelDoublesDeliversBuffer(t *testing.T) {
	be := newMockBackend()
	var got []float64
	var gotCount uint64
	be.on(abi.PutChannelDataDoubles, func(stack []uint64) {
		bufPtr := uint32(stack[2])
		gotCount = stack[3]
		got = make([]float64, gotCount)
		for i := range got {
			bits := binary.LittleEndian.Uint64(be.mem[bufPtr+uint32(i)*8:])
			got[i] = math.Float64frombits(bits)
		}
		stack[0] = 0
	})

	m := NewModule(be)
	in := []float64{0, 0.25, -0.25, 1}
	status, err := m.PutChannelDoubles(context.Background(), 0, 0, in)
	if err != nil {
		t.Fatalf("PutChannelDoubles failed: %v", err)
	}
	if status != abi.StatusOK || gotCount != uint64(len(in)) {
		t.Fatalf("status=%d count=%d", status, gotCount)
	}
	for i, v := range got {
		if v != in[i] {
			t.Errorf("delivered[%d] = %v, want %v", i, v, in[i])
		}
	}
}

func TestFilePropertiesZeroSeeded(t *testing.T) {
	be := newMockBackend()
	be.on(abi.GetFileProperties, func(stack []uint64) {
		recPtr := uint32(stack[1])
		// Module fills only the first field; the rest must come back
		// as zeros, not stale heap bytes.
		binary.LittleEndian.PutUint64(be.mem[recPtr:], math.Float64bits(48000))
		stack[0] = 0
	})
	// Dirty the arena first so stale bytes would be visible.
	for i := range be.mem {
		be.mem[i] = 0xCC
	}

	m := NewModule(be)
	status, raw, err := m.FileProperties(context.Background(), 0)
	if err != nil {
		t.Fatalf("FileProperties failed: %v", err)
	}
	if status != abi.StatusOK || len(raw) != abi.PropertyRecordSize {
		t.Fatalf("FileProperties = (%d, %d bytes)", status, len(raw))
	}
	if rate := math.Float64frombits(binary.LittleEndian.Uint64(raw)); rate != 48000 {
		t.Errorf("sample rate field = %v, want 48000", rate)
	}
	for i := 8; i < len(raw); i++ {
		if raw[i] != 0 {
			t.Fatalf("raw[%d] = 0x%x, want zero seed", i, raw[i])
		}
	}
}

func TestPutFilePropertiesRejectsShortRecord(t *testing.T) {
	be := newMockBackend()
	be.on(abi.PutFileProperties, func(stack []uint64) {
		stack[0] = 0
	})

	m := NewModule(be)
	_, err := m.PutFileProperties(context.Background(), 0, make([]byte, 10))
	if err == nil {
		t.Fatal("expected invalid-input error")
	}
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseCall, Kind: errors.KindInvalidInput}) {
		t.Errorf("wrong error: %v", err)
	}
}

func TestFileHeaderSizeQuery(t *testing.T) {
	header := []byte("RIFF\x24\x00\x00\x00WAVE")
	be := newMockBackend()
	be.on(abi.GetFileHeaderOriginal, func(stack []uint64) {
		bufPtr := uint32(stack[1])
		sizePtr := uint32(stack[2])
		if bufPtr != 0 {
			copy(be.mem[bufPtr:], header)
		}
		binary.LittleEndian.PutUint32(be.mem[sizePtr:], uint32(len(header)))
		stack[0] = 0
	})

	m := NewModule(be)
	status, size, raw, err := m.FileHeader(context.Background(), 0, 0)
	if err != nil {
		t.Fatalf("size query failed: %v", err)
	}
	if status != abi.StatusOK || size != uint32(len(header)) || raw != nil {
		t.Fatalf("size query = (%d, %d, %v)", status, size, raw)
	}

	status, size, raw, err = m.FileHeader(context.Background(), 0, size)
	if err != nil {
		t.Fatalf("header read failed: %v", err)
	}
	if status != abi.StatusOK || size != uint32(len(header)) || string(raw) != string(header) {
		t.Fatalf("header read = (%d, %d, %q)", status, size, raw)
	}
}

func TestStringOutTrimsAtNul(t *testing.T) {
	be := newMockBackend()
	be.on(abi.GetErrDescription, func(stack []uint64) {
		code := int32(uint32(stack[0]))
		bufPtr := uint32(stack[1])
		if code != -12 {
			stack[0] = i32(abi.StatusInvalidParam)
			return
		}
		copy(be.mem[bufPtr:], "format parse error\x00leftover")
		stack[0] = 0
	})

	m := NewModule(be)
	status, text, err := m.ErrDescription(context.Background(), -12, 64)
	if err != nil {
		t.Fatalf("ErrDescription failed: %v", err)
	}
	if status != abi.StatusOK || text != "format parse error" {
		t.Errorf("ErrDescription = (%d, %q)", status, text)
	}
}

func TestPutStringNulTerminated(t *testing.T) {
	be := newMockBackend()
	var gotID uint32
	var gotValue string
	be.on(abi.PutString, func(stack []uint64) {
		gotID = uint32(stack[0])
		gotValue = narrowAt(t, be, uint32(stack[1]))
		stack[0] = 0
	})

	m := NewModule(be)
	status, err := m.PutString(context.Background(), 3, "operator note")
	if err != nil {
		t.Fatalf("PutString failed: %v", err)
	}
	if status != abi.StatusOK || gotID != 3 || gotValue != "operator note" {
		t.Errorf("PutString delivered id=%d value=%q", gotID, gotValue)
	}
}

func TestTextFileSession(t *testing.T) {
	be := newMockBackend()
	lines := []string{"# calibration", "48000"}
	cursor := 0
	be.on(abi.TextFileAOpenW, func(stack []uint64) {
		stack[0] = uint64(uint32(7)) // handle
	})
	be.on(abi.ReadLineAInFile, func(stack []uint64) {
		if int32(uint32(stack[0])) != 7 || cursor >= len(lines) {
			stack[0] = i32(abi.StatusInvalidParam)
			return
		}
		copy(be.mem[uint32(stack[1]):], lines[cursor]+"\x00")
		cursor++
		stack[0] = 0
	})
	be.on(abi.TextFileAClose, func(stack []uint64) {
		stack[0] = 0
	})

	m := NewModule(be)
	ctx := context.Background()

	handle, err := m.TextFileOpen(ctx, "/work/cal.etx", 0)
	if err != nil {
		t.Fatalf("TextFileOpen failed: %v", err)
	}
	if handle != 7 {
		t.Fatalf("handle = %d, want 7", handle)
	}
	for _, want := range lines {
		status, line, err := m.ReadLine(ctx, int32(handle), 128)
		if err != nil {
			t.Fatalf("ReadLine failed: %v", err)
		}
		if status != abi.StatusOK || line != want {
			t.Errorf("ReadLine = (%d, %q), want (0, %q)", status, line, want)
		}
	}
	status, _, err := m.ReadLine(ctx, int32(handle), 128)
	if err != nil {
		t.Fatalf("ReadLine failed: %v", err)
	}
	if status != abi.StatusInvalidParam {
		t.Errorf("past-end ReadLine status = %d", status)
	}
	if status, err := m.TextFileClose(ctx, int32(handle)); err != nil || status != abi.StatusOK {
		t.Errorf("TextFileClose = (%d, %v)", status, err)
	}
}

func TestEntriesFollowBackendOrder(t *testing.T) {
	be := newMockBackend()
	be.on(abi.InitDll, func(stack []uint64) { stack[0] = 0 })
	be.on(abi.OpenGetFile, func(stack []uint64) { stack[0] = 0 })

	m := NewModule(be)
	entries := m.Entries()
	if len(entries) != 2 || entries[0] != abi.InitDll || entries[1] != abi.OpenGetFile {
		t.Errorf("Entries = %v", entries)
	}
	if !m.Supports(abi.InitDll) || m.Supports(abi.CloseGetFile) {
		t.Error("Supports does not reflect the backend")
	}
}

func TestScratchReleasedAfterCalls(t *testing.T) {
	be := newMockBackend()
	be.on(abi.GetNumberOfFiles, func(stack []uint64) {
		binary.LittleEndian.PutUint32(be.mem[uint32(stack[0]):], 1)
		stack[0] = 0
	})

	m := NewModule(be)
	if _, _, err := m.NumberOfFiles(context.Background()); err != nil {
		t.Fatalf("NumberOfFiles failed: %v", err)
	}
	if be.allocs != len(be.freed) {
		t.Errorf("allocs=%d freed=%d", be.allocs, len(be.freed))
	}
}
