package probe

import (
	"github.com/wavecheck/audparity/abi"
	"github.com/wavecheck/audparity/coverage"
	"github.com/wavecheck/audparity/format"
)

// Edge-case catalog. Eight categories, one key per concrete probe the
// battery can run. The keys feed the edges coverage dimension; a key is
// marked when its probe observed the build's behavior, whatever that
// behavior was.
const (
	// initialization
	EdgeReauthAfterVerified = "reauth_after_verified"
	EdgeIOBeforeHandshake   = "io_before_handshake"
	EdgePhase2WrongResponse = "phase2_wrong_response"
	EdgePhase3WrongMagic    = "phase3_wrong_magic"
	EdgeSimpleMagicInit     = "simple_magic_init"

	// format detection
	EdgeAutoDetectUnknownExt = "auto_detect_unknown_ext"
	EdgeExplicitCodeMismatch = "explicit_code_mismatch"
	EdgeUppercaseExtension   = "uppercase_extension"
	EdgeNoExtension          = "no_extension"
	EdgeOverloadedTim        = "overloaded_tim"
	EdgeOverloadedFrdZma     = "overloaded_frd_zma"

	// indexing
	EdgeChannelIndexOutOfRange = "channel_index_out_of_range"
	EdgeChannelIndexMaxUint    = "channel_index_max_uint"
	EdgeFileIndexOutOfRange    = "file_index_out_of_range"
	EdgeSecondFileIndex        = "second_file_index"

	// sample rates
	EdgeRate44100 = "rate_44100"
	EdgeRate48000 = "rate_48000"
	EdgeRate96000 = "rate_96000"
	EdgeRateZero  = "rate_zero"

	// bit depths
	EdgeDepth8       = "depth_8"
	EdgeDepth16      = "depth_16"
	EdgeDepth24      = "depth_24"
	EdgeDepth32Int   = "depth_32_int"
	EdgeDepth32Float = "depth_32_float"
	EdgeDepth64Float = "depth_64_float"

	// sample values
	EdgeSilence           = "silence"
	EdgeDCOffset          = "dc_offset"
	EdgeClipping          = "clipping"
	EdgeShortFile         = "short_file"
	EdgeRoundtripSine     = "roundtrip_sine"
	EdgeRoundtripSpectrum = "roundtrip_spectrum"

	// buffer sizing
	EdgeNullBufferQuery       = "null_buffer_query"
	EdgeUndersizedBuffer      = "undersized_buffer"
	EdgeOversizedBuffer       = "oversized_buffer"
	EdgeFallbackDegenerateCnt = "fallback_degenerate_count"
	EdgeClampedGiantCount     = "clamped_giant_count"

	// filesystem
	EdgeMissingFile      = "missing_file"
	EdgeEmptyFile        = "empty_file"
	EdgeTruncatedHeader  = "truncated_header"
	EdgeBadMagic         = "bad_magic"
	EdgeOversizedChunk   = "oversized_chunk"
	EdgeMissingDataChunk = "missing_data_chunk"
	EdgeUnicodePath      = "unicode_path"
	EdgeDirectoryAsFile  = "directory_as_file"
)

// edgeCatalog lists every key in category order.
var edgeCatalog = []string{
	EdgeReauthAfterVerified,
	EdgeIOBeforeHandshake,
	EdgePhase2WrongResponse,
	EdgePhase3WrongMagic,
	EdgeSimpleMagicInit,

	EdgeAutoDetectUnknownExt,
	EdgeExplicitCodeMismatch,
	EdgeUppercaseExtension,
	EdgeNoExtension,
	EdgeOverloadedTim,
	EdgeOverloadedFrdZma,

	EdgeChannelIndexOutOfRange,
	EdgeChannelIndexMaxUint,
	EdgeFileIndexOutOfRange,
	EdgeSecondFileIndex,

	EdgeRate44100,
	EdgeRate48000,
	EdgeRate96000,
	EdgeRateZero,

	EdgeDepth8,
	EdgeDepth16,
	EdgeDepth24,
	EdgeDepth32Int,
	EdgeDepth32Float,
	EdgeDepth64Float,

	EdgeSilence,
	EdgeDCOffset,
	EdgeClipping,
	EdgeShortFile,
	EdgeRoundtripSine,
	EdgeRoundtripSpectrum,

	EdgeNullBufferQuery,
	EdgeUndersizedBuffer,
	EdgeOversizedBuffer,
	EdgeFallbackDegenerateCnt,
	EdgeClampedGiantCount,

	EdgeMissingFile,
	EdgeEmptyFile,
	EdgeTruncatedHeader,
	EdgeBadMagic,
	EdgeOversizedChunk,
	EdgeMissingDataChunk,
	EdgeUnicodePath,
	EdgeDirectoryAsFile,
}

// EdgeKeys returns the catalog in category order. The slice is a copy.
func EdgeKeys() []string {
	out := make([]string, len(edgeCatalog))
	copy(out, edgeCatalog)
	return out
}

// Dimensions assembles the five standard coverage dimensions from the
// recovered tables and this catalog.
func Dimensions() []coverage.Dimension {
	var formats []string
	for _, s := range format.All() {
		formats = append(formats, s.Name)
	}
	var statuses []string
	for _, s := range abi.Statuses() {
		statuses = append(statuses, abi.StatusName(s))
	}
	var conversions []string
	for _, c := range abi.Conversions() {
		conversions = append(conversions, string(c))
	}
	return []coverage.Dimension{
		coverage.Dim(coverage.DimFunctions, abi.EntryNames()...),
		coverage.Dim(coverage.DimFormats, formats...),
		coverage.Dim(coverage.DimStatuses, statuses...),
		coverage.Dim(coverage.DimConversions, conversions...),
		coverage.Dim(coverage.DimEdges, EdgeKeys()...),
	}
}

// NewLedger builds a ledger over the full documented surface.
func NewLedger() *coverage.Ledger {
	return coverage.New(Dimensions()...)
}
