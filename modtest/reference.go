package modtest

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/wavecheck/audparity/abi"
	"github.com/wavecheck/audparity/codec"
	"github.com/wavecheck/audparity/format"
)

// DefaultSession is the init answer of the reference build.
const DefaultSession uint32 = 0x0000A10D

// wavHeaderSize is the canonical RIFF/fmt/data header the reference
// build reports for Aud_GetFileHeaderOriginal on WAV input.
const wavHeaderSize = 44

// Reference is a Script wired up to behave like a correct rebuilt
// build over real files on the host filesystem: simple-magic init,
// WAV decoding through go-audio, text formats as one float per line,
// and a working put path that writes WAV back out.
//
// Probe, parity and testbed tests use it as the known-good module.
type Reference struct {
	*Script

	// InterfaceVersion and DllVersion are what the version getters
	// report. Mutable before first use.
	InterfaceVersion float64
	DllVersion       float64

	inited   bool
	open     *refFile
	put      *putFile
	strings  map[uint32]string
	texts    map[int32]*textFile
	nextText int32
	warnings string
}

type refFile struct {
	rate     float64
	bits     int32
	dataType int32
	channels [][]float64
	raw      [][]byte
	header   []byte
}

type putFile struct {
	path     string
	format   format.Code
	declared uint32
	channels map[uint32][]float64
	rec      *codec.Record
}

type textFile struct {
	lines []string
	pos   int
}

// NewReference returns a reference build exporting the full recovered
// surface.
func NewReference(label string) *Reference {
	r := &Reference{
		Script:           NewScript(label),
		InterfaceVersion: 7.2,
		DllVersion:       7.21,
		strings:          make(map[uint32]string),
		texts:            make(map[int32]*textFile),
		nextText:         1,
	}
	r.install()
	return r
}

// SetWarnings seeds the warning text Aud_GetLastWarnings drains.
func (r *Reference) SetWarnings(text string) { r.warnings = text }

// ok writes a zero status.
func ok(stack []uint64) { stack[0] = 0 }

func fail(stack []uint64, status abi.Status) { stack[0] = uint64(uint32(status)) }

// gate enforces the init requirement shared by every session entry.
func (r *Reference) gate(stack []uint64) bool {
	if !r.inited {
		fail(stack, abi.StatusNotInitialized)
		return false
	}
	return true
}

func (r *Reference) install() {
	s := r.Script

	// Versions and init work before authentication, like the real
	// builds.
	s.On(abi.GetInterfaceVersion, func(stack []uint64) {
		stack[0] = math.Float64bits(r.InterfaceVersion)
	})
	s.On(abi.GetDllVersion, func(stack []uint64) {
		stack[0] = math.Float64bits(r.DllVersion)
	})
	s.On(abi.InitDll, func(stack []uint64) {
		if uint32(stack[0]) == abi.SimpleInitMagic {
			r.inited = true
			stack[0] = uint64(DefaultSession)
			return
		}
		stack[0] = 0
	})

	s.On(abi.OpenGetFile, r.openGetFile)
	s.On(abi.CloseGetFile, func(stack []uint64) {
		if !r.gate(stack) {
			return
		}
		if r.open == nil {
			fail(stack, abi.StatusNotInitialized)
			return
		}
		r.open = nil
		ok(stack)
	})
	s.On(abi.GetNumberOfFiles, func(stack []uint64) {
		if !r.requireOpen(stack) {
			return
		}
		s.PutU32(uint32(stack[0]), 1)
		ok(stack)
	})
	s.On(abi.GetNumberOfChannels, func(stack []uint64) {
		if !r.requireOpen(stack) {
			return
		}
		if uint32(stack[0]) != 0 {
			fail(stack, abi.StatusInvalidParam)
			return
		}
		s.PutU32(uint32(stack[1]), uint32(len(r.open.channels)))
		ok(stack)
	})

	s.On(abi.FileExistsW, func(stack []uint64) {
		if !r.gate(stack) {
			return
		}
		if _, err := os.Stat(s.WidePath(uint32(stack[0]))); err != nil {
			fail(stack, abi.StatusInvalidParam)
			return
		}
		ok(stack)
	})
	s.On(abi.MakeDirW, func(stack []uint64) {
		if !r.gate(stack) {
			return
		}
		if err := os.MkdirAll(s.WidePath(uint32(stack[0])), 0o755); err != nil {
			fail(stack, abi.StatusInvalidParam)
			return
		}
		ok(stack)
	})

	s.On(abi.GetChannelDataDoubles, r.channelDoubles)
	s.On(abi.GetChannelDataOriginal, r.channelOriginal)
	s.On(abi.GetFileProperties, func(stack []uint64) {
		if !r.requireOpen(stack) {
			return
		}
		if uint32(stack[0]) != 0 {
			fail(stack, abi.StatusInvalidParam)
			return
		}
		r.writeRecord(uint32(stack[1]), stack)
	})
	s.On(abi.GetChannelProperties, func(stack []uint64) {
		if !r.requireOpen(stack) {
			return
		}
		if uint32(stack[0]) != 0 || int(uint32(stack[1])) >= len(r.open.channels) {
			fail(stack, abi.StatusInvalidParam)
			return
		}
		r.writeRecord(uint32(stack[2]), stack)
	})
	s.On(abi.GetFileHeaderOriginal, r.fileHeader)

	s.On(abi.OpenPutFile, r.openPutFile)
	s.On(abi.ClosePutFile, r.closePutFile)
	s.On(abi.PutNumberOfChannels, func(stack []uint64) {
		if !r.requirePut(stack) {
			return
		}
		r.put.declared = uint32(stack[0])
		ok(stack)
	})
	s.On(abi.PutChannelDataDoubles, func(stack []uint64) {
		if !r.requirePut(stack) {
			return
		}
		if uint32(stack[0]) != 0 {
			fail(stack, abi.StatusInvalidParam)
			return
		}
		ch := uint32(stack[1])
		if r.put.declared != 0 && ch >= r.put.declared {
			fail(stack, abi.StatusInvalidParam)
			return
		}
		n := uint32(stack[3])
		samples := make([]float64, n)
		for i := uint32(0); i < n; i++ {
			samples[i] = s.F64(uint32(stack[2]) + i*8)
		}
		r.put.channels[ch] = samples
		ok(stack)
	})
	s.On(abi.PutChannelDataOriginal, func(stack []uint64) {
		if !r.requirePut(stack) {
			return
		}
		fail(stack, abi.StatusInvalidArgument)
	})
	s.On(abi.PutFileProperties, func(stack []uint64) {
		if !r.requirePut(stack) {
			return
		}
		raw := s.Bytes(uint32(stack[1]), codec.Size)
		rec, err := codec.Decode(raw)
		if err != nil {
			fail(stack, abi.StatusInvalidArgument)
			return
		}
		r.put.rec = &rec
		ok(stack)
	})
	s.On(abi.PutChannelProperties, func(stack []uint64) {
		if !r.requirePut(stack) {
			return
		}
		ok(stack)
	})
	s.On(abi.PutFileHeaderOriginal, func(stack []uint64) {
		if !r.requirePut(stack) {
			return
		}
		ok(stack)
	})

	s.On(abi.GetString, func(stack []uint64) {
		if !r.gate(stack) {
			return
		}
		v, found := r.strings[uint32(stack[0])]
		if !found {
			fail(stack, abi.StatusInvalidParam)
			return
		}
		s.PutNarrow(uint32(stack[1]), v, uint32(stack[2]))
		ok(stack)
	})
	s.On(abi.PutString, func(stack []uint64) {
		if !r.gate(stack) {
			return
		}
		r.strings[uint32(stack[0])] = s.Narrow(uint32(stack[1]))
		ok(stack)
	})

	s.On(abi.TextFileAOpenW, r.textOpen)
	s.On(abi.TextFileAClose, func(stack []uint64) {
		if !r.gate(stack) {
			return
		}
		handle := int32(uint32(stack[0]))
		if _, found := r.texts[handle]; !found {
			fail(stack, abi.StatusInvalidParam)
			return
		}
		delete(r.texts, handle)
		ok(stack)
	})
	s.On(abi.ReadLineAInFile, func(stack []uint64) {
		if !r.gate(stack) {
			return
		}
		tf, found := r.texts[int32(uint32(stack[0]))]
		if !found || tf.pos >= len(tf.lines) {
			fail(stack, abi.StatusInvalidParam)
			return
		}
		s.PutNarrow(uint32(stack[1]), tf.lines[tf.pos], uint32(stack[2]))
		tf.pos++
		ok(stack)
	})

	s.On(abi.GetLastWarnings, func(stack []uint64) {
		if !r.gate(stack) {
			return
		}
		s.PutNarrow(uint32(stack[0]), r.warnings, uint32(stack[1]))
		r.warnings = ""
		ok(stack)
	})
	s.On(abi.GetErrDescription, func(stack []uint64) {
		code := int32(uint32(stack[0]))
		s.PutNarrow(uint32(stack[1]), abi.StatusName(abi.Status(code)), uint32(stack[2]))
		ok(stack)
	})
}

func (r *Reference) requireOpen(stack []uint64) bool {
	if !r.gate(stack) {
		return false
	}
	if r.open == nil {
		fail(stack, abi.StatusNotInitialized)
		return false
	}
	return true
}

func (r *Reference) requirePut(stack []uint64) bool {
	if !r.gate(stack) {
		return false
	}
	if r.put == nil {
		fail(stack, abi.StatusNotInitialized)
		return false
	}
	return true
}

func (r *Reference) openGetFile(stack []uint64) {
	if !r.gate(stack) {
		return
	}
	path := r.Script.WidePath(uint32(stack[0]))
	code := format.Code(int32(uint32(stack[1])))
	if code == format.Auto {
		code = format.Resolve(path)
	} else if _, known := format.Lookup(code); !known {
		fail(stack, abi.StatusInvalidArgument)
		return
	}

	var loaded *refFile
	var err error
	if code == format.MsWave {
		loaded, err = loadWAV(path)
	} else {
		loaded, err = loadText(path)
	}
	if err != nil {
		if os.IsNotExist(err) {
			fail(stack, abi.StatusInvalidParam)
			return
		}
		fail(stack, abi.StatusFormatParse)
		return
	}
	r.open = loaded
	ok(stack)
}

func (r *Reference) channelDoubles(stack []uint64) {
	if !r.requireOpen(stack) {
		return
	}
	file, ch := uint32(stack[0]), uint32(stack[1])
	if file != 0 || int(ch) >= len(r.open.channels) {
		fail(stack, abi.StatusInvalidParam)
		return
	}
	data := r.open.channels[ch]
	bufPtr, countPtr := uint32(stack[2]), uint32(stack[3])
	if bufPtr == 0 {
		r.Script.PutU32(countPtr, uint32(len(data)))
		ok(stack)
		return
	}
	n := r.Script.U32(countPtr)
	if int(n) > len(data) {
		n = uint32(len(data))
	}
	for i := uint32(0); i < n; i++ {
		r.Script.PutF64(bufPtr+i*8, data[i])
	}
	r.Script.PutU32(countPtr, n)
	ok(stack)
}

func (r *Reference) channelOriginal(stack []uint64) {
	if !r.requireOpen(stack) {
		return
	}
	file, ch := uint32(stack[0]), uint32(stack[1])
	if file != 0 || int(ch) >= len(r.open.raw) {
		fail(stack, abi.StatusInvalidParam)
		return
	}
	raw := r.open.raw[ch]
	width := uint32(r.open.bits) / 8
	if width == 0 {
		width = 8
	}
	total := uint32(len(raw)) / width
	bufPtr, countPtr := uint32(stack[2]), uint32(stack[3])
	if bufPtr == 0 {
		r.Script.PutU32(countPtr, total)
		ok(stack)
		return
	}
	n := r.Script.U32(countPtr)
	if n > total {
		n = total
	}
	r.Script.PutBytes(bufPtr, raw[:n*width])
	r.Script.PutU32(countPtr, n)
	ok(stack)
}

func (r *Reference) writeRecord(recPtr uint32, stack []uint64) {
	rec := codec.Record{
		SampleRate:    r.open.rate,
		SampleCount:   uint32(len(r.open.channels[0])),
		BitsPerSample: r.open.bits,
		Calibration:   1,
		DataType:      r.open.dataType,
		Sensitivity:   1,
	}
	r.Script.PutBytes(recPtr, codec.Encode(rec))
	ok(stack)
}

func (r *Reference) fileHeader(stack []uint64) {
	if !r.requireOpen(stack) {
		return
	}
	if uint32(stack[0]) != 0 {
		fail(stack, abi.StatusInvalidParam)
		return
	}
	header := r.open.header
	bufPtr, sizePtr := uint32(stack[1]), uint32(stack[2])
	if bufPtr == 0 {
		r.Script.PutU32(sizePtr, uint32(len(header)))
		ok(stack)
		return
	}
	n := r.Script.U32(sizePtr)
	if int(n) > len(header) {
		n = uint32(len(header))
	}
	r.Script.PutBytes(bufPtr, header[:n])
	r.Script.PutU32(sizePtr, uint32(len(header)))
	ok(stack)
}

func (r *Reference) openPutFile(stack []uint64) {
	if !r.gate(stack) {
		return
	}
	path := r.Script.WidePath(uint32(stack[0]))
	code := format.Code(int32(uint32(stack[1])))
	if code == format.Auto {
		code = format.Resolve(path)
	}
	r.put = &putFile{
		path:     path,
		format:   code,
		channels: make(map[uint32][]float64),
	}
	ok(stack)
}

func (r *Reference) closePutFile(stack []uint64) {
	if !r.requirePut(stack) {
		return
	}
	put := r.put
	r.put = nil

	var err error
	if put.format == format.MsWave {
		err = writeWAV(put)
	} else {
		err = writeText(put)
	}
	if err != nil {
		fail(stack, abi.StatusInvalidParam)
		return
	}
	ok(stack)
}

func (r *Reference) textOpen(stack []uint64) {
	if !r.gate(stack) {
		return
	}
	path := r.Script.WidePath(uint32(stack[0]))
	f, err := os.Open(path)
	if err != nil {
		fail(stack, abi.StatusInvalidParam)
		return
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		fail(stack, abi.StatusInvalidParam)
		return
	}
	handle := r.nextText
	r.nextText++
	r.texts[handle] = &textFile{lines: lines}
	stack[0] = uint64(uint32(handle))
}

// loadWAV decodes a PCM WAV file into normalized doubles plus the
// channel's native bytes.
func loadWAV(path string) (*refFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, err
	}

	bits := int32(dec.BitDepth)
	numCh := buf.Format.NumChannels
	frames := len(buf.Data) / numCh

	channels := make([][]float64, numCh)
	raw := make([][]byte, numCh)
	width := int(bits) / 8
	for ch := 0; ch < numCh; ch++ {
		channels[ch] = make([]float64, frames)
		raw[ch] = make([]byte, frames*width)
	}
	for i := 0; i < frames; i++ {
		for ch := 0; ch < numCh; ch++ {
			v := buf.Data[i*numCh+ch]
			channels[ch][i] = normalizePCM(v, bits)
			putPCM(raw[ch][i*width:], v, width)
		}
	}

	header := make([]byte, wavHeaderSize)
	if _, err := f.Seek(0, 0); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(f, header); err != nil {
		return nil, err
	}

	return &refFile{
		rate:     float64(buf.Format.SampleRate),
		bits:     bits,
		dataType: abi.DataTypeIntPCM,
		channels: channels,
		raw:      raw,
		header:   header,
	}, nil
}

// loadText parses the measurement text layout: optional comment
// header, then one sample per line, either a bare value or a
// tab-separated time/value pair. Unparsable lines are header lines
// when they come first and parse errors after that.
func loadText(path string) (*refFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var samples []float64
	var header []byte
	inBody := false
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		v, perr := strconv.ParseFloat(fields[len(fields)-1], 64)
		if perr != nil || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			if inBody {
				return nil, errInvalidText
			}
			header = append(header, sc.Text()...)
			header = append(header, '\n')
			continue
		}
		inBody = true
		samples = append(samples, v)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, errInvalidText
	}

	raw := make([]byte, len(samples)*8)
	for i, v := range samples {
		binary.LittleEndian.PutUint64(raw[i*8:], math.Float64bits(v))
	}

	return &refFile{
		rate:     48000,
		bits:     64,
		dataType: abi.DataTypeFloat,
		channels: [][]float64{samples},
		raw:      [][]byte{raw},
		header:   header,
	}, nil
}

var errInvalidText = &textParseError{}

type textParseError struct{}

func (*textParseError) Error() string { return "text body does not parse as samples" }

func writeWAV(put *putFile) error {
	rate := 48000
	bits := 16
	if put.rec != nil {
		if put.rec.SampleRate > 0 {
			rate = int(put.rec.SampleRate)
		}
		if put.rec.BitsPerSample == 8 || put.rec.BitsPerSample == 16 ||
			put.rec.BitsPerSample == 24 || put.rec.BitsPerSample == 32 {
			bits = int(put.rec.BitsPerSample)
		}
	}
	numCh := int(put.declared)
	if numCh == 0 {
		numCh = len(put.channels)
	}
	if numCh == 0 {
		return errInvalidText
	}

	frames := 0
	for _, data := range put.channels {
		if len(data) > frames {
			frames = len(data)
		}
	}

	data := make([]int, frames*numCh)
	for ch := 0; ch < numCh; ch++ {
		src := put.channels[uint32(ch)]
		for i := 0; i < len(src); i++ {
			data[i*numCh+ch] = denormalizePCM(src[i], int32(bits))
		}
	}

	f, err := os.Create(put.path)
	if err != nil {
		return err
	}
	enc := wav.NewEncoder(f, rate, bits, numCh, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: numCh, SampleRate: rate},
		Data:           data,
		SourceBitDepth: bits,
	}
	if err := enc.Write(buf); err != nil {
		f.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func writeText(put *putFile) error {
	f, err := os.Create(put.path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	for _, v := range put.channels[0] {
		if _, err := w.WriteString(strconv.FormatFloat(v, 'g', 17, 64) + "\n"); err != nil {
			f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// normalizePCM maps a raw PCM sample into [-1, 1). 8-bit WAV is
// unsigned with a 128 midpoint.
func normalizePCM(v int, bits int32) float64 {
	if bits == 8 {
		return float64(v-128) / 128
	}
	return float64(v) / float64(int64(1)<<(bits-1))
}

// denormalizePCM is the inverse, with clamping.
func denormalizePCM(v float64, bits int32) int {
	if bits == 8 {
		n := int(math.Round(v*128)) + 128
		if n < 0 {
			n = 0
		}
		if n > 255 {
			n = 255
		}
		return n
	}
	limit := int64(1) << (bits - 1)
	n := int64(math.Round(v * float64(limit)))
	if n > limit-1 {
		n = limit - 1
	}
	if n < -limit {
		n = -limit
	}
	return int(n)
}

// putPCM writes one sample little-endian at the given byte width.
func putPCM(dst []byte, v int, width int) {
	u := uint32(int32(v))
	for i := 0; i < width; i++ {
		dst[i] = byte(u >> (8 * i))
	}
}
