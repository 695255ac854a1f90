package binding

import (
	"context"
	"encoding/binary"
	"math"

	audparity "github.com/wavecheck/audparity"
	"github.com/wavecheck/audparity/abi"
	"github.com/wavecheck/audparity/errors"
)

// Module wraps a Backend with typed accessors for the recovered entry
// points. Marshalling conventions follow the recovered prototypes:
// paths cross as UTF-16LE, counts as in/out uint32 pointers, samples
// as little-endian doubles, property records as raw 560-byte blocks.
//
// Negative return values are module status codes and come back as
// data; the error result is reserved for transport faults (absent
// entries, traps, marshalling failures).
//
// Module is not safe for concurrent use.
type Module struct {
	be    audparity.Backend
	stack [8]uint64
}

// NewModule wraps a loaded backend.
func NewModule(be audparity.Backend) *Module {
	return &Module{be: be}
}

// Label reports the wrapped build's label.
func (m *Module) Label() string { return m.be.Label() }

// Backend exposes the underlying transport.
func (m *Module) Backend() audparity.Backend { return m.be }

// Supports reports whether the build exports the given entry point.
func (m *Module) Supports(entry abi.Entry) bool { return m.be.Has(string(entry)) }

// Entries lists the recovered-surface entries the build exports, in
// canonical order.
func (m *Module) Entries() []abi.Entry {
	names := m.be.EntryNames()
	out := make([]abi.Entry, 0, len(names))
	for _, n := range names {
		out = append(out, abi.Entry(n))
	}
	return out
}

// Close releases the backend.
func (m *Module) Close(ctx context.Context) error { return m.be.Close(ctx) }

func (m *Module) ensure(entry abi.Entry) error {
	if !m.be.Has(string(entry)) {
		return errors.EntryAbsent(string(entry))
	}
	return nil
}

// invoke runs one entry with the raw stack convention and returns the
// first result slot.
func (m *Module) invoke(ctx context.Context, entry abi.Entry, args ...uint64) (uint64, error) {
	if err := m.ensure(entry); err != nil {
		return 0, err
	}
	n := len(args)
	if n == 0 {
		n = 1
	}
	stack := m.stack[:n]
	copy(stack, args)
	for i := len(args); i < n; i++ {
		stack[i] = 0
	}
	if err := m.be.Call(ctx, string(entry), stack); err != nil {
		return 0, err
	}
	return stack[0], nil
}

func (m *Module) callStatus(ctx context.Context, entry abi.Entry, args ...uint64) (abi.Status, error) {
	v, err := m.invoke(ctx, entry, args...)
	if err != nil {
		return 0, err
	}
	return abi.Status(int32(uint32(v))), nil
}

func (m *Module) callF64(ctx context.Context, entry abi.Entry) (float64, error) {
	v, err := m.invoke(ctx, entry)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(v), nil
}

// Initialization and metadata.

// InitDll drives one step of the authentication handshake and returns
// the module's raw response word.
func (m *Module) InitDll(ctx context.Context, code uint32) (uint32, error) {
	v, err := m.invoke(ctx, abi.InitDll, uint64(code))
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}

// InterfaceVersion returns the ABI revision the build implements.
func (m *Module) InterfaceVersion(ctx context.Context) (float64, error) {
	return m.callF64(ctx, abi.GetInterfaceVersion)
}

// DllVersion returns the build's release version.
func (m *Module) DllVersion(ctx context.Context) (float64, error) {
	return m.callF64(ctx, abi.GetDllVersion)
}

// Read-session lifecycle.

// OpenGetFile opens path for reading under the given format code.
// Format zero asks the module to detect by extension. The caller passes
// a guest-visible path (see GuestCorpusDir).
func (m *Module) OpenGetFile(ctx context.Context, path string, format int32, extra int32) (abi.Status, error) {
	if err := m.ensure(abi.OpenGetFile); err != nil {
		return 0, err
	}
	p, err := allocScratch(ctx, m.be, 0, encodeWidePath(path))
	if err != nil {
		return 0, err
	}
	defer p.release(ctx)
	return m.callStatus(ctx, abi.OpenGetFile, uint64(p.ptr), i32(format), i32(extra))
}

// CloseGetFile closes the current read session.
func (m *Module) CloseGetFile(ctx context.Context) (abi.Status, error) {
	return m.callStatus(ctx, abi.CloseGetFile)
}

// NumberOfFiles reports how many logical files the open session holds.
func (m *Module) NumberOfFiles(ctx context.Context) (abi.Status, uint32, error) {
	return m.statusWithCount(ctx, abi.GetNumberOfFiles)
}

// NumberOfChannels reports the channel count of one logical file.
func (m *Module) NumberOfChannels(ctx context.Context, file uint32) (abi.Status, uint32, error) {
	return m.statusWithCount(ctx, abi.GetNumberOfChannels, uint64(file))
}

// statusWithCount calls an entry whose last parameter is an out uint32.
func (m *Module) statusWithCount(ctx context.Context, entry abi.Entry, args ...uint64) (abi.Status, uint32, error) {
	if err := m.ensure(entry); err != nil {
		return 0, 0, err
	}
	out, err := allocScratch(ctx, m.be, 4, nil)
	if err != nil {
		return 0, 0, err
	}
	defer out.release(ctx)
	status, err := m.callStatus(ctx, entry, append(args, uint64(out.ptr))...)
	if err != nil {
		return 0, 0, err
	}
	count, err := m.be.Memory().ReadU32(out.ptr)
	if err != nil {
		return 0, 0, err
	}
	return status, count, nil
}

// Filesystem helpers.

// FileExists asks the module whether path is visible to it.
func (m *Module) FileExists(ctx context.Context, path string) (abi.Status, error) {
	return m.statusWithPath(ctx, abi.FileExistsW, path)
}

// MakeDir asks the module to create a directory.
func (m *Module) MakeDir(ctx context.Context, path string) (abi.Status, error) {
	return m.statusWithPath(ctx, abi.MakeDirW, path)
}

func (m *Module) statusWithPath(ctx context.Context, entry abi.Entry, path string, extra ...uint64) (abi.Status, error) {
	if err := m.ensure(entry); err != nil {
		return 0, err
	}
	p, err := allocScratch(ctx, m.be, 0, encodeWidePath(path))
	if err != nil {
		return 0, err
	}
	defer p.release(ctx)
	return m.callStatus(ctx, entry, append([]uint64{uint64(p.ptr)}, extra...)...)
}

// Write-session lifecycle.

// OpenPutFile opens path for writing under the given format code.
func (m *Module) OpenPutFile(ctx context.Context, path string, format int32) (abi.Status, error) {
	return m.statusWithPath(ctx, abi.OpenPutFile, path, i32(format))
}

// ClosePutFile finalizes and closes the current write session.
func (m *Module) ClosePutFile(ctx context.Context) (abi.Status, error) {
	return m.callStatus(ctx, abi.ClosePutFile)
}

// PutNumberOfChannels declares the channel count of the file being
// written. Must precede sample delivery.
func (m *Module) PutNumberOfChannels(ctx context.Context, count uint32) (abi.Status, error) {
	return m.callStatus(ctx, abi.PutNumberOfChannels, uint64(count))
}

// Sample transfer.

// ChannelDoubles reads up to capacity samples of one channel as
// doubles. Capacity zero performs the NULL-buffer count query: the
// module reports how many samples the channel holds without copying
// any. The returned count is the module's answer in either mode.
func (m *Module) ChannelDoubles(ctx context.Context, file, channel uint32, capacity uint32) (abi.Status, uint32, []float64, error) {
	if err := m.ensure(abi.GetChannelDataDoubles); err != nil {
		return 0, 0, nil, err
	}

	countInit := make([]byte, 4)
	binary.LittleEndian.PutUint32(countInit, capacity)
	countOut, err := allocScratch(ctx, m.be, 4, countInit)
	if err != nil {
		return 0, 0, nil, err
	}
	defer countOut.release(ctx)

	var bufPtr uint32
	var buf *scratch
	if capacity > 0 {
		buf, err = allocScratch(ctx, m.be, capacity*8, nil)
		if err != nil {
			return 0, 0, nil, err
		}
		defer buf.release(ctx)
		bufPtr = buf.ptr
	}

	status, err := m.callStatus(ctx, abi.GetChannelDataDoubles,
		uint64(file), uint64(channel), uint64(bufPtr), uint64(countOut.ptr))
	if err != nil {
		return 0, 0, nil, err
	}
	count, err := m.be.Memory().ReadU32(countOut.ptr)
	if err != nil {
		return 0, 0, nil, err
	}
	if capacity == 0 || status != abi.StatusOK {
		return status, count, nil, nil
	}

	got := count
	if got > capacity {
		got = capacity
	}
	raw, err := m.be.Memory().Read(bufPtr, got*8)
	if err != nil {
		return 0, 0, nil, err
	}
	return status, count, decodeF64Slice(raw, got), nil
}

// ChannelOriginal reads up to capacity samples of one channel in the
// file's native encoding. Width is the per-sample byte width from the
// channel's property record; capacity zero performs the count query.
func (m *Module) ChannelOriginal(ctx context.Context, file, channel uint32, capacity, width uint32) (abi.Status, uint32, []byte, error) {
	if err := m.ensure(abi.GetChannelDataOriginal); err != nil {
		return 0, 0, nil, err
	}
	if capacity > 0 && width == 0 {
		return 0, 0, nil, errors.InvalidInput(errors.PhaseCall, "native read needs a sample width")
	}

	countInit := make([]byte, 4)
	binary.LittleEndian.PutUint32(countInit, capacity)
	countOut, err := allocScratch(ctx, m.be, 4, countInit)
	if err != nil {
		return 0, 0, nil, err
	}
	defer countOut.release(ctx)

	var bufPtr uint32
	var buf *scratch
	if capacity > 0 {
		buf, err = allocScratch(ctx, m.be, capacity*width, nil)
		if err != nil {
			return 0, 0, nil, err
		}
		defer buf.release(ctx)
		bufPtr = buf.ptr
	}

	status, err := m.callStatus(ctx, abi.GetChannelDataOriginal,
		uint64(file), uint64(channel), uint64(bufPtr), uint64(countOut.ptr))
	if err != nil {
		return 0, 0, nil, err
	}
	count, err := m.be.Memory().ReadU32(countOut.ptr)
	if err != nil {
		return 0, 0, nil, err
	}
	if capacity == 0 || status != abi.StatusOK {
		return status, count, nil, nil
	}

	got := count
	if got > capacity {
		got = capacity
	}
	raw, err := m.be.Memory().Read(bufPtr, got*width)
	if err != nil {
		return 0, 0, nil, err
	}
	return status, count, raw, nil
}

// PutChannelDoubles delivers samples for one channel of the file being
// written.
func (m *Module) PutChannelDoubles(ctx context.Context, file, channel uint32, samples []float64) (abi.Status, error) {
	if err := m.ensure(abi.PutChannelDataDoubles); err != nil {
		return 0, err
	}
	buf, err := allocScratch(ctx, m.be, 0, encodeF64Slice(samples))
	if err != nil {
		return 0, err
	}
	defer buf.release(ctx)
	return m.callStatus(ctx, abi.PutChannelDataDoubles,
		uint64(file), uint64(channel), uint64(buf.ptr), uint64(len(samples)))
}

// PutChannelOriginal delivers count native-encoded samples for one
// channel; raw carries count*width bytes.
func (m *Module) PutChannelOriginal(ctx context.Context, file, channel uint32, raw []byte, count uint32) (abi.Status, error) {
	if err := m.ensure(abi.PutChannelDataOriginal); err != nil {
		return 0, err
	}
	buf, err := allocScratch(ctx, m.be, 0, raw)
	if err != nil {
		return 0, err
	}
	defer buf.release(ctx)
	return m.callStatus(ctx, abi.PutChannelDataOriginal,
		uint64(file), uint64(channel), uint64(buf.ptr), uint64(count))
}

// Property records.

// FileProperties reads the raw 560-byte property record of one file.
func (m *Module) FileProperties(ctx context.Context, file uint32) (abi.Status, []byte, error) {
	return m.propsOut(ctx, abi.GetFileProperties, uint64(file))
}

// ChannelProperties reads the raw property record of one channel.
func (m *Module) ChannelProperties(ctx context.Context, file, channel uint32) (abi.Status, []byte, error) {
	return m.propsOut(ctx, abi.GetChannelProperties, uint64(file), uint64(channel))
}

func (m *Module) propsOut(ctx context.Context, entry abi.Entry, args ...uint64) (abi.Status, []byte, error) {
	if err := m.ensure(entry); err != nil {
		return 0, nil, err
	}
	rec, err := allocScratch(ctx, m.be, abi.PropertyRecordSize, nil)
	if err != nil {
		return 0, nil, err
	}
	defer rec.release(ctx)
	status, err := m.callStatus(ctx, entry, append(args, uint64(rec.ptr))...)
	if err != nil {
		return 0, nil, err
	}
	raw, err := m.be.Memory().Read(rec.ptr, abi.PropertyRecordSize)
	if err != nil {
		return 0, nil, err
	}
	return status, raw, nil
}

// PutFileProperties writes the raw property record of one file.
func (m *Module) PutFileProperties(ctx context.Context, file uint32, record []byte) (abi.Status, error) {
	return m.propsIn(ctx, abi.PutFileProperties, record, uint64(file))
}

// PutChannelProperties writes the raw property record of one channel.
func (m *Module) PutChannelProperties(ctx context.Context, file, channel uint32, record []byte) (abi.Status, error) {
	return m.propsIn(ctx, abi.PutChannelProperties, record, uint64(file), uint64(channel))
}

func (m *Module) propsIn(ctx context.Context, entry abi.Entry, record []byte, args ...uint64) (abi.Status, error) {
	if err := m.ensure(entry); err != nil {
		return 0, err
	}
	if len(record) != abi.PropertyRecordSize {
		return 0, errors.New(errors.PhaseCall, errors.KindInvalidInput).
			Entry(string(entry)).
			Detail("property record must be %d bytes, got %d", abi.PropertyRecordSize, len(record)).
			Build()
	}
	rec, err := allocScratch(ctx, m.be, 0, record)
	if err != nil {
		return 0, err
	}
	defer rec.release(ctx)
	return m.callStatus(ctx, entry, append(args, uint64(rec.ptr))...)
}

// Raw headers.

// FileHeader reads up to capacity bytes of the file's native header.
// Capacity zero queries the header size without copying.
func (m *Module) FileHeader(ctx context.Context, file uint32, capacity uint32) (abi.Status, uint32, []byte, error) {
	if err := m.ensure(abi.GetFileHeaderOriginal); err != nil {
		return 0, 0, nil, err
	}

	sizeInit := make([]byte, 4)
	binary.LittleEndian.PutUint32(sizeInit, capacity)
	sizeOut, err := allocScratch(ctx, m.be, 4, sizeInit)
	if err != nil {
		return 0, 0, nil, err
	}
	defer sizeOut.release(ctx)

	var bufPtr uint32
	var buf *scratch
	if capacity > 0 {
		buf, err = allocScratch(ctx, m.be, capacity, nil)
		if err != nil {
			return 0, 0, nil, err
		}
		defer buf.release(ctx)
		bufPtr = buf.ptr
	}

	status, err := m.callStatus(ctx, abi.GetFileHeaderOriginal,
		uint64(file), uint64(bufPtr), uint64(sizeOut.ptr))
	if err != nil {
		return 0, 0, nil, err
	}
	size, err := m.be.Memory().ReadU32(sizeOut.ptr)
	if err != nil {
		return 0, 0, nil, err
	}
	if capacity == 0 || status != abi.StatusOK {
		return status, size, nil, nil
	}

	got := size
	if got > capacity {
		got = capacity
	}
	raw, err := m.be.Memory().Read(bufPtr, got)
	if err != nil {
		return 0, 0, nil, err
	}
	return status, size, raw, nil
}

// PutFileHeader hands the module a native header to emit verbatim.
func (m *Module) PutFileHeader(ctx context.Context, file uint32, header []byte) (abi.Status, error) {
	if err := m.ensure(abi.PutFileHeaderOriginal); err != nil {
		return 0, err
	}
	buf, err := allocScratch(ctx, m.be, 0, header)
	if err != nil {
		return 0, err
	}
	defer buf.release(ctx)
	return m.callStatus(ctx, abi.PutFileHeaderOriginal,
		uint64(file), uint64(buf.ptr), uint64(len(header)))
}

// Keyed strings and diagnostics.

// GetString reads the keyed string value id into a buffer of the given
// capacity and returns it NUL-trimmed.
func (m *Module) GetString(ctx context.Context, id uint32, capacity uint32) (abi.Status, string, error) {
	return m.stringOut(ctx, abi.GetString, capacity, uint64(id))
}

// PutString stores a keyed string value.
func (m *Module) PutString(ctx context.Context, id uint32, value string) (abi.Status, error) {
	if err := m.ensure(abi.PutString); err != nil {
		return 0, err
	}
	buf, err := allocScratch(ctx, m.be, 0, encodeNarrow(value))
	if err != nil {
		return 0, err
	}
	defer buf.release(ctx)
	return m.callStatus(ctx, abi.PutString, uint64(id), uint64(buf.ptr))
}

// LastWarnings drains the module's warning text.
func (m *Module) LastWarnings(ctx context.Context, capacity uint32) (abi.Status, string, error) {
	return m.stringOut(ctx, abi.GetLastWarnings, capacity)
}

// ErrDescription renders the module's own description of a status code.
func (m *Module) ErrDescription(ctx context.Context, code int32, capacity uint32) (abi.Status, string, error) {
	return m.stringOut(ctx, abi.GetErrDescription, capacity, i32(code))
}

// stringOut calls an entry of shape (args..., char* buf, uint size)
// and reads back a NUL-terminated narrow string.
func (m *Module) stringOut(ctx context.Context, entry abi.Entry, capacity uint32, args ...uint64) (abi.Status, string, error) {
	if err := m.ensure(entry); err != nil {
		return 0, "", err
	}
	if capacity == 0 {
		capacity = 256
	}
	buf, err := allocScratch(ctx, m.be, capacity, nil)
	if err != nil {
		return 0, "", err
	}
	defer buf.release(ctx)
	status, err := m.callStatus(ctx, entry, append(args, uint64(buf.ptr), uint64(capacity))...)
	if err != nil {
		return 0, "", err
	}
	raw, err := m.be.Memory().Read(buf.ptr, capacity)
	if err != nil {
		return 0, "", err
	}
	return status, decodeNarrow(raw), nil
}

// Text-file sessions.

// TextFileOpen opens a text file in the module and returns its handle.
// Non-negative statuses are handles; negative values are status codes.
func (m *Module) TextFileOpen(ctx context.Context, path string, mode int32) (abi.Status, error) {
	return m.statusWithPath(ctx, abi.TextFileAOpenW, path, i32(mode))
}

// TextFileClose closes a text-file handle.
func (m *Module) TextFileClose(ctx context.Context, handle int32) (abi.Status, error) {
	return m.callStatus(ctx, abi.TextFileAClose, i32(handle))
}

// ReadLine reads the next line from an open text-file handle.
func (m *Module) ReadLine(ctx context.Context, handle int32, capacity uint32) (abi.Status, string, error) {
	return m.stringOut(ctx, abi.ReadLineAInFile, capacity, i32(handle))
}
