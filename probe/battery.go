package probe

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/wavecheck/audparity/abi"
	"github.com/wavecheck/audparity/codec"
	"github.com/wavecheck/audparity/corpus"
	"github.com/wavecheck/audparity/format"
	"github.com/wavecheck/audparity/handshake"
)

// hostContext recognizes the container status in a raw init response.
func hostContext(word uint32) bool {
	return int32(word) == abi.StatusContextRequired
}

// openSession observes the pre-init surface, replays the corrupted
// handshake phases, authenticates, and reads the version words.
func (d *driver) openSession(ctx context.Context, sess *Result) {
	// An IO call before any init. The documented answer is -5.
	if d.mod.Supports(abi.GetNumberOfFiles) {
		d.step(ctx, sess, "io_before_handshake", func(ctx context.Context) error {
			st, _, err := d.mod.NumberOfFiles(ctx)
			if err != nil {
				return err
			}
			d.markEntry(abi.GetNumberOfFiles)
			d.markStatus(st)
			d.markEdge(EdgeIOBeforeHandshake)
			return nil
		})
	}

	if d.mod.Supports(abi.InitDll) {
		d.wrongPhaseProbes(ctx, sess)
	}

	d.step(ctx, sess, "handshake", func(ctx context.Context) error {
		out, err := handshake.Probe(ctx, d.mod)
		if err != nil {
			return err
		}
		sess.Handshake = out
		d.markEntry(abi.InitDll)
		if out.Mode == handshake.SimpleMagic {
			d.markEdge(EdgeSimpleMagicInit)
		}
		if out.State == handshake.StateContextRequired {
			d.markStatus(abi.StatusContextRequired)
		}
		return nil
	})

	d.step(ctx, sess, "interface_version", func(ctx context.Context) error {
		v, err := d.mod.InterfaceVersion(ctx)
		if err != nil {
			return err
		}
		sess.InterfaceVersion = v
		d.markEntry(abi.GetInterfaceVersion)
		return nil
	})
	d.step(ctx, sess, "dll_version", func(ctx context.Context) error {
		v, err := d.mod.DllVersion(ctx)
		if err != nil {
			return err
		}
		sess.DllVersion = v
		d.markEntry(abi.GetDllVersion)
		return nil
	})

	// Diagnostic entries, once per session.
	d.step(ctx, sess, "err_description", func(ctx context.Context) error {
		st, _, err := d.mod.ErrDescription(ctx, abi.StatusFormatParse, 128)
		if err != nil {
			return err
		}
		d.markEntry(abi.GetErrDescription)
		d.markStatus(st)
		return nil
	})
	d.step(ctx, sess, "get_string", func(ctx context.Context) error {
		st, _, err := d.mod.GetString(ctx, 1, 64)
		if err != nil {
			return err
		}
		d.markEntry(abi.GetString)
		d.markStatus(st)
		return nil
	})
}

// wrongPhaseProbes replays the three-phase exchange with a corrupted
// phase-2 response, then with a corrupted phase-3 magic. They run
// before the real handshake; the recovered sequence restarts from
// scratch on every out-of-order word.
func (d *driver) wrongPhaseProbes(ctx context.Context, sess *Result) {
	d.step(ctx, sess, "phase2_wrong_response", func(ctx context.Context) error {
		challenge, err := d.mod.InitDll(ctx, 0)
		if err != nil {
			return err
		}
		if hostContext(challenge) {
			return nil
		}
		if _, err := d.mod.InitDll(ctx, (challenge^abi.InitChallengeXor)+1); err != nil {
			return err
		}
		d.markEdge(EdgePhase2WrongResponse)
		return nil
	})

	d.step(ctx, sess, "phase3_wrong_magic", func(ctx context.Context) error {
		challenge, err := d.mod.InitDll(ctx, 0)
		if err != nil {
			return err
		}
		if hostContext(challenge) {
			return nil
		}
		if _, err := d.mod.InitDll(ctx, challenge^abi.InitChallengeXor); err != nil {
			return err
		}
		if _, err := d.mod.InitDll(ctx, abi.VerifyMagic+1); err != nil {
			return err
		}
		d.markEdge(EdgePhase3WrongMagic)
		return nil
	})
}

// probeFile runs the full read-path sequence over one corpus entry.
func (d *driver) probeFile(ctx context.Context, sess *Result, f corpus.File) *Result {
	res := d.newResult(sess, f.Name)
	res.Format = format.Resolve(f.Name)
	start := time.Now()
	defer func() { res.Elapsed = time.Since(start) }()

	guest := d.guestPath(f.Name)

	d.step(ctx, res, "file_exists", func(ctx context.Context) error {
		st, err := d.mod.FileExists(ctx, guest)
		if err != nil {
			return err
		}
		d.markEntry(abi.FileExistsW)
		d.markStatus(st)
		return nil
	})

	opened := d.step(ctx, res, "open", func(ctx context.Context) error {
		st, err := d.mod.OpenGetFile(ctx, guest, int32(res.Format), 0)
		if err != nil {
			return err
		}
		res.OpenRet = st
		d.markEntry(abi.OpenGetFile)
		d.markStatus(st)
		d.markFormat(res.Format)
		return nil
	})
	d.fixtureEdges(f, opened)

	if !opened || res.OpenRet != abi.StatusOK {
		d.readWarnings(ctx, res)
		return res
	}

	d.step(ctx, res, "file_count", func(ctx context.Context) error {
		st, n, err := d.mod.NumberOfFiles(ctx)
		if err != nil {
			return err
		}
		d.markEntry(abi.GetNumberOfFiles)
		d.markStatus(st)
		if st == abi.StatusOK {
			res.FileCount = n
		}
		return nil
	})
	d.step(ctx, res, "channel_count", func(ctx context.Context) error {
		st, n, err := d.mod.NumberOfChannels(ctx, 0)
		if err != nil {
			return err
		}
		d.markEntry(abi.GetNumberOfChannels)
		d.markStatus(st)
		if st == abi.StatusOK {
			res.ChannelCount = n
		}
		return nil
	})

	d.readProps(ctx, res)

	count, counted := d.countQuery(ctx, res)
	if counted {
		if codec.DegenerateCount(count) {
			d.markEdge(EdgeFallbackDegenerateCnt)
		}
		if count > codec.MaxSampleCount {
			d.markEdge(EdgeClampedGiantCount)
		}
		d.sizedRead(ctx, res, codec.EffectiveCount(count))
	}

	if f.Kind == corpus.KindTone {
		d.indexProbes(ctx, res)
		d.bufferProbes(ctx, res)
		d.originalAndHeader(ctx, res)
	}
	if f.Kind == corpus.KindText {
		d.textProbes(ctx, res, guest)
	}

	d.readWarnings(ctx, res)

	d.step(ctx, res, "close", func(ctx context.Context) error {
		st, err := d.mod.CloseGetFile(ctx)
		if err != nil {
			return err
		}
		d.markEntry(abi.CloseGetFile)
		d.markStatus(st)
		return nil
	})
	return res
}

// readProps decodes the file record into the row. The channel record
// is probed as well and serves as fallback when the file record is
// refused.
func (d *driver) readProps(ctx context.Context, res *Result) {
	d.step(ctx, res, "file_properties", func(ctx context.Context) error {
		st, raw, err := d.mod.FileProperties(ctx, 0)
		if err != nil {
			return err
		}
		d.markEntry(abi.GetFileProperties)
		d.markStatus(st)
		if st != abi.StatusOK {
			return nil
		}
		return d.decodeProps(res, raw)
	})
	d.step(ctx, res, "channel_properties", func(ctx context.Context) error {
		st, raw, err := d.mod.ChannelProperties(ctx, 0, 0)
		if err != nil {
			return err
		}
		d.markEntry(abi.GetChannelProperties)
		d.markStatus(st)
		if st != abi.StatusOK || res.Props != nil {
			return nil
		}
		return d.decodeProps(res, raw)
	})
}

func (d *driver) decodeProps(res *Result, raw []byte) error {
	rec, err := codec.Decode(raw)
	if err != nil {
		return err
	}
	res.Props = &Props{Record: rec, Assessment: codec.Plausibility(rec)}
	if conv, ok := rec.Conversion(); ok {
		res.Conversion = conv
		d.markConversion(conv)
	}
	return nil
}

// countQuery runs the NULL-buffer sample-count query. The returned
// count is zero when the build refused it; the fallback policy turns
// that into a sized read attempt anyway.
func (d *driver) countQuery(ctx context.Context, res *Result) (uint32, bool) {
	var count uint32
	ok := d.step(ctx, res, "count_query", func(ctx context.Context) error {
		st, n, _, err := d.mod.ChannelDoubles(ctx, 0, 0, 0)
		if err != nil {
			return err
		}
		d.markEntry(abi.GetChannelDataDoubles)
		d.markStatus(st)
		d.markEdge(EdgeNullBufferQuery)
		if st == abi.StatusOK {
			count = n
		}
		return nil
	})
	return count, ok
}

func (d *driver) sizedRead(ctx context.Context, res *Result, capacity uint32) {
	d.step(ctx, res, "read_samples", func(ctx context.Context) error {
		st, got, samples, err := d.mod.ChannelDoubles(ctx, 0, 0, capacity)
		if err != nil {
			return err
		}
		d.markStatus(st)
		if st != abi.StatusOK {
			return nil
		}
		res.SampleCount = got
		if len(samples) > 0 {
			res.FirstSample = samples[0]
			res.LastSample = samples[len(samples)-1]
		}
		return nil
	})
}

func (d *driver) indexProbes(ctx context.Context, res *Result) {
	d.step(ctx, res, "channel_out_of_range", func(ctx context.Context) error {
		st, _, _, err := d.mod.ChannelDoubles(ctx, 0, res.ChannelCount, 8)
		if err != nil {
			return err
		}
		d.markStatus(st)
		d.markEdge(EdgeChannelIndexOutOfRange)
		return nil
	})
	d.step(ctx, res, "channel_max_uint", func(ctx context.Context) error {
		st, _, _, err := d.mod.ChannelDoubles(ctx, 0, ^uint32(0), 8)
		if err != nil {
			return err
		}
		d.markStatus(st)
		d.markEdge(EdgeChannelIndexMaxUint)
		return nil
	})
	d.step(ctx, res, "file_out_of_range", func(ctx context.Context) error {
		st, _, err := d.mod.NumberOfChannels(ctx, res.FileCount+7)
		if err != nil {
			return err
		}
		d.markStatus(st)
		d.markEdge(EdgeFileIndexOutOfRange)
		return nil
	})
	d.step(ctx, res, "second_file", func(ctx context.Context) error {
		st, _, err := d.mod.NumberOfChannels(ctx, 1)
		if err != nil {
			return err
		}
		d.markStatus(st)
		d.markEdge(EdgeSecondFileIndex)
		return nil
	})
}

func (d *driver) bufferProbes(ctx context.Context, res *Result) {
	n := res.SampleCount
	if n < 2 {
		return
	}
	d.step(ctx, res, "undersized_read", func(ctx context.Context) error {
		st, _, _, err := d.mod.ChannelDoubles(ctx, 0, 0, n/2)
		if err != nil {
			return err
		}
		d.markStatus(st)
		d.markEdge(EdgeUndersizedBuffer)
		return nil
	})
	d.step(ctx, res, "oversized_read", func(ctx context.Context) error {
		st, _, _, err := d.mod.ChannelDoubles(ctx, 0, 0, n+16)
		if err != nil {
			return err
		}
		d.markStatus(st)
		d.markEdge(EdgeOversizedBuffer)
		return nil
	})
}

// originalAndHeader reads the native byte stream and the raw file
// header. The native width comes from the decoded record when there is
// one.
func (d *driver) originalAndHeader(ctx context.Context, res *Result) {
	width := uint32(2)
	if res.Props != nil && res.Props.Record.BitsPerSample >= 8 {
		width = uint32(res.Props.Record.BitsPerSample) / 8
	}
	d.step(ctx, res, "read_original", func(ctx context.Context) error {
		st, _, _, err := d.mod.ChannelOriginal(ctx, 0, 0, codec.EffectiveCount(res.SampleCount), width)
		if err != nil {
			return err
		}
		d.markEntry(abi.GetChannelDataOriginal)
		d.markStatus(st)
		return nil
	})
	d.step(ctx, res, "file_header", func(ctx context.Context) error {
		st, size, _, err := d.mod.FileHeader(ctx, 0, 0)
		if err != nil {
			return err
		}
		d.markEntry(abi.GetFileHeaderOriginal)
		d.markStatus(st)
		if st != abi.StatusOK || size == 0 {
			return nil
		}
		if size > 1<<20 {
			size = 1 << 20
		}
		st, _, _, err = d.mod.FileHeader(ctx, 0, size)
		if err != nil {
			return err
		}
		d.markStatus(st)
		return nil
	})
}

// textProbes drives the line-reader session over a text fixture.
func (d *driver) textProbes(ctx context.Context, res *Result, guest string) {
	if !d.mod.Supports(abi.TextFileAOpenW) {
		res.noteAbsent(string(abi.TextFileAOpenW))
		return
	}
	var handle int32
	ok := d.step(ctx, res, "text_open", func(ctx context.Context) error {
		st, err := d.mod.TextFileOpen(ctx, guest, 0)
		if err != nil {
			return err
		}
		d.markEntry(abi.TextFileAOpenW)
		if st < 0 {
			d.markStatus(st)
			return nil
		}
		handle = st
		return nil
	})
	if !ok || handle <= 0 {
		return
	}
	for i := 0; i < 2; i++ {
		if !d.step(ctx, res, "read_line", func(ctx context.Context) error {
			st, _, err := d.mod.ReadLine(ctx, handle, 256)
			if err != nil {
				return err
			}
			d.markEntry(abi.ReadLineAInFile)
			if st < 0 {
				d.markStatus(st)
			}
			return nil
		}) {
			break
		}
	}
	d.step(ctx, res, "text_close", func(ctx context.Context) error {
		st, err := d.mod.TextFileClose(ctx, handle)
		if err != nil {
			return err
		}
		d.markEntry(abi.TextFileAClose)
		d.markStatus(st)
		return nil
	})
}

func (d *driver) readWarnings(ctx context.Context, res *Result) {
	d.step(ctx, res, "warnings", func(ctx context.Context) error {
		st, text, err := d.mod.LastWarnings(ctx, 512)
		if err != nil {
			return err
		}
		d.markEntry(abi.GetLastWarnings)
		d.markStatus(st)
		res.Warnings = text
		return nil
	})
}

// fixtureEdgeByName maps the corpus names that embody a catalog key.
var fixtureEdgeByName = map[string]string{
	"mätning_µ.wav":          EdgeUnicodePath,
	"TONE_UPPER.WAV":         EdgeUppercaseExtension,
	"mystery.xyz":            EdgeAutoDetectUnknownExt,
	"noext":                  EdgeNoExtension,
	"silence.wav":            EdgeSilence,
	"dc_offset.wav":          EdgeDCOffset,
	"clipping.wav":           EdgeClipping,
	"short.wav":              EdgeShortFile,
	"rate_zero.wav":          EdgeRateZero,
	"empty.wav":              EdgeEmptyFile,
	"truncated_header.wav":   EdgeTruncatedHeader,
	"bad_magic.wav":          EdgeBadMagic,
	"oversized_chunk.wav":    EdgeOversizedChunk,
	"missing_data_chunk.wav": EdgeMissingDataChunk,
	"overload.tim":           EdgeOverloadedTim,
	"overload.frd":           EdgeOverloadedFrdZma,
}

// fixtureEdges marks the catalog keys a fixture embodies once its open
// probe completed. Marking does not depend on the status that came
// back: the edge was exercised and the build's answer is in the row.
func (d *driver) fixtureEdges(f corpus.File, probed bool) {
	if !probed {
		return
	}
	if key, hit := fixtureEdgeByName[f.Name]; hit {
		d.markEdge(key)
	}
	if f.Kind == corpus.KindDirectory {
		d.markEdge(EdgeDirectoryAsFile)
	}
	if f.Kind != corpus.KindTone {
		return
	}
	switch f.Rate {
	case 44100:
		d.markEdge(EdgeRate44100)
	case 48000:
		d.markEdge(EdgeRate48000)
	case 96000:
		d.markEdge(EdgeRate96000)
	}
	switch {
	case f.Bits == 8:
		d.markEdge(EdgeDepth8)
	case f.Bits == 16:
		d.markEdge(EdgeDepth16)
	case f.Bits == 24:
		d.markEdge(EdgeDepth24)
	case f.Bits == 32 && !f.Float:
		d.markEdge(EdgeDepth32Int)
	case f.Bits == 32 && f.Float:
		d.markEdge(EdgeDepth32Float)
	case f.Bits == 64 && f.Float:
		d.markEdge(EdgeDepth64Float)
	}
}

// missingFileProbe opens a path no generator ever wrote.
func (d *driver) missingFileProbe(ctx context.Context, sess *Result) *Result {
	const name = "no_such_file.wav"
	res := d.newResult(sess, name)
	res.Format = format.Resolve(name)
	start := time.Now()
	defer func() { res.Elapsed = time.Since(start) }()

	guest := d.guestPath(name)
	d.step(ctx, res, "file_exists", func(ctx context.Context) error {
		st, err := d.mod.FileExists(ctx, guest)
		if err != nil {
			return err
		}
		d.markEntry(abi.FileExistsW)
		d.markStatus(st)
		return nil
	})
	d.step(ctx, res, "open", func(ctx context.Context) error {
		st, err := d.mod.OpenGetFile(ctx, guest, int32(res.Format), 0)
		if err != nil {
			return err
		}
		res.OpenRet = st
		d.markStatus(st)
		d.markEdge(EdgeMissingFile)
		return nil
	})
	if res.OpenRet == abi.StatusOK {
		d.step(ctx, res, "close", func(ctx context.Context) error {
			_, err := d.mod.CloseGetFile(ctx)
			return err
		})
	}
	return res
}

// mismatchProbe opens a known-good WAV under an explicit text format
// code. The row key carries the forced code so both builds' rows
// align.
func (d *driver) mismatchProbe(ctx context.Context, sess *Result) *Result {
	var target string
	for _, f := range d.Files {
		if f.Kind == corpus.KindTone && !f.Float && f.Bits == 16 && strings.HasSuffix(f.Name, ".wav") {
			target = f.Name
			break
		}
	}
	if target == "" {
		return nil
	}
	res := d.newResult(sess, target+"#text")
	res.Format = format.AudioMeasureText
	start := time.Now()
	defer func() { res.Elapsed = time.Since(start) }()

	guest := d.guestPath(target)
	d.step(ctx, res, "open", func(ctx context.Context) error {
		st, err := d.mod.OpenGetFile(ctx, guest, int32(res.Format), 0)
		if err != nil {
			return err
		}
		res.OpenRet = st
		d.markStatus(st)
		d.markFormat(res.Format)
		d.markEdge(EdgeExplicitCodeMismatch)
		return nil
	})
	if res.OpenRet == abi.StatusOK {
		d.step(ctx, res, "close", func(ctx context.Context) error {
			_, err := d.mod.CloseGetFile(ctx)
			return err
		})
	}
	return res
}

// Round-trip probe parameters. The sine is full scale so the
// quarter-period check lands on 1.0.
const (
	roundTripDir  = "out"
	roundTripName = "roundtrip.wav"
	roundTripRate = 48000
	roundTripLen  = 4800
)

func roundTripSine() []float64 {
	out := make([]float64, roundTripLen)
	for i := range out {
		out[i] = math.Sin(2 * math.Pi * corpus.ToneHz * float64(i) / roundTripRate)
	}
	return out
}

// writeRoundTrip drives the put path end to end and reads the written
// file back through the read path.
func (d *driver) writeRoundTrip(ctx context.Context, sess *Result) *Result {
	rel := roundTripDir + "/" + roundTripName
	res := d.newResult(sess, rel)
	res.Format = format.MsWave
	start := time.Now()
	defer func() { res.Elapsed = time.Since(start) }()

	guestDir := d.guestPath(roundTripDir)
	guest := d.guestPath(roundTripDir, roundTripName)

	d.step(ctx, res, "make_dir", func(ctx context.Context) error {
		st, err := d.mod.MakeDir(ctx, guestDir)
		if err != nil {
			return err
		}
		d.markEntry(abi.MakeDirW)
		d.markStatus(st)
		return nil
	})

	var putOpen bool
	d.step(ctx, res, "open_put", func(ctx context.Context) error {
		st, err := d.mod.OpenPutFile(ctx, guest, int32(format.MsWave))
		if err != nil {
			return err
		}
		d.markEntry(abi.OpenPutFile)
		d.markStatus(st)
		putOpen = st == abi.StatusOK
		return nil
	})

	if putOpen {
		rec := codec.Record{
			SampleRate:    roundTripRate,
			SampleCount:   roundTripLen,
			BitsPerSample: 16,
			Calibration:   1,
			DataType:      abi.DataTypeIntPCM,
			Sensitivity:   1,
		}
		sine := roundTripSine()

		d.step(ctx, res, "put_channels", func(ctx context.Context) error {
			st, err := d.mod.PutNumberOfChannels(ctx, 1)
			if err != nil {
				return err
			}
			d.markEntry(abi.PutNumberOfChannels)
			d.markStatus(st)
			return nil
		})
		d.step(ctx, res, "put_file_props", func(ctx context.Context) error {
			st, err := d.mod.PutFileProperties(ctx, 0, codec.Encode(rec))
			if err != nil {
				return err
			}
			d.markEntry(abi.PutFileProperties)
			d.markStatus(st)
			return nil
		})
		d.step(ctx, res, "put_channel_props", func(ctx context.Context) error {
			st, err := d.mod.PutChannelProperties(ctx, 0, 0, codec.Encode(rec))
			if err != nil {
				return err
			}
			d.markEntry(abi.PutChannelProperties)
			d.markStatus(st)
			return nil
		})
		d.step(ctx, res, "put_doubles", func(ctx context.Context) error {
			st, err := d.mod.PutChannelDoubles(ctx, 0, 0, sine)
			if err != nil {
				return err
			}
			d.markEntry(abi.PutChannelDataDoubles)
			d.markStatus(st)
			return nil
		})
		d.step(ctx, res, "put_original", func(ctx context.Context) error {
			st, err := d.mod.PutChannelOriginal(ctx, 0, 0, corpus.PCM16Bytes(sine[:16]), 16)
			if err != nil {
				return err
			}
			d.markEntry(abi.PutChannelDataOriginal)
			d.markStatus(st)
			return nil
		})
		d.step(ctx, res, "put_header", func(ctx context.Context) error {
			header := corpus.PCM16Image(roundTripRate, 1, nil)
			st, err := d.mod.PutFileHeader(ctx, 0, header)
			if err != nil {
				return err
			}
			d.markEntry(abi.PutFileHeaderOriginal)
			d.markStatus(st)
			return nil
		})
		d.step(ctx, res, "put_string", func(ctx context.Context) error {
			st, err := d.mod.PutString(ctx, 1, "roundtrip")
			if err != nil {
				return err
			}
			d.markEntry(abi.PutString)
			d.markStatus(st)
			return nil
		})
		d.step(ctx, res, "close_put", func(ctx context.Context) error {
			st, err := d.mod.ClosePutFile(ctx)
			if err != nil {
				return err
			}
			d.markEntry(abi.ClosePutFile)
			d.markStatus(st)
			return nil
		})
	}

	reopened := d.step(ctx, res, "reopen", func(ctx context.Context) error {
		st, err := d.mod.OpenGetFile(ctx, guest, int32(format.MsWave), 0)
		if err != nil {
			return err
		}
		res.OpenRet = st
		d.markStatus(st)
		return nil
	})
	if !reopened || res.OpenRet != abi.StatusOK {
		return res
	}

	d.step(ctx, res, "file_count", func(ctx context.Context) error {
		st, n, err := d.mod.NumberOfFiles(ctx)
		if err != nil {
			return err
		}
		d.markStatus(st)
		if st == abi.StatusOK {
			res.FileCount = n
		}
		return nil
	})
	d.step(ctx, res, "channel_count", func(ctx context.Context) error {
		st, n, err := d.mod.NumberOfChannels(ctx, 0)
		if err != nil {
			return err
		}
		d.markStatus(st)
		if st == abi.StatusOK {
			res.ChannelCount = n
		}
		return nil
	})
	d.readProps(ctx, res)

	d.step(ctx, res, "read_back", func(ctx context.Context) error {
		st, got, samples, err := d.mod.ChannelDoubles(ctx, 0, 0, roundTripLen)
		if err != nil {
			return err
		}
		d.markStatus(st)
		if st != abi.StatusOK || len(samples) == 0 {
			return nil
		}
		res.SampleCount = got
		res.FirstSample = samples[0]
		res.LastSample = samples[len(samples)-1]

		quarter := samples[0]
		if len(samples) > 12 {
			quarter = samples[12]
		}
		if math.Abs(res.FirstSample) < 0.1 && math.Abs(quarter-1) < 0.1 {
			d.markEdge(EdgeRoundtripSine)
		}
		if hz := corpus.DominantFrequency(samples, roundTripRate); math.Abs(hz-corpus.ToneHz) < 25 {
			d.markEdge(EdgeRoundtripSpectrum)
		}
		return nil
	})

	d.step(ctx, res, "close", func(ctx context.Context) error {
		st, err := d.mod.CloseGetFile(ctx)
		if err != nil {
			return err
		}
		d.markStatus(st)
		return nil
	})
	return res
}

// reauthProbe sends a fresh challenge request after everything else.
// A build may treat it as a session reset, so nothing runs after it.
func (d *driver) reauthProbe(ctx context.Context, sess *Result) {
	if !sess.Handshake.Verified() || !d.mod.Supports(abi.InitDll) {
		return
	}
	d.step(ctx, sess, "reauth", func(ctx context.Context) error {
		if _, err := d.mod.InitDll(ctx, 0); err != nil {
			return err
		}
		d.markEdge(EdgeReauthAfterVerified)
		return nil
	})
}
