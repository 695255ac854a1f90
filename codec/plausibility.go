package codec

// Plausibility bounds. Real measurement files never carry audio below
// telephone rate, sub-byte sample widths, or a single sample, so a record
// outside these bounds most likely decoded through the wrong layout.
const (
	MinPlausibleRate = 8000.0
	MinPlausibleBits = 8
)

// Driver buffer policy for sample counts taken from records or count
// queries. A degenerate count is replaced by the fallback before sizing a
// read buffer; every count is clamped so a garbage record cannot demand a
// multi-gigabyte allocation.
const (
	FallbackSampleCount uint32 = 65536
	MaxSampleCount      uint32 = 1 << 22
)

// Assessment is the outcome of a plausibility check. Suspect lists the
// failing fields; an implausible record is indeterminate evidence, never a
// hard failure.
type Assessment struct {
	Plausible bool
	Suspect   []string
}

// Plausibility checks the decoded fields against the bounds above.
func Plausibility(r Record) Assessment {
	var suspect []string
	if !(r.SampleRate > MinPlausibleRate) {
		suspect = append(suspect, "sample_rate")
	}
	if r.BitsPerSample < MinPlausibleBits {
		suspect = append(suspect, "bits_per_sample")
	}
	if r.SampleCount <= 1 {
		suspect = append(suspect, "sample_count")
	}
	return Assessment{Plausible: len(suspect) == 0, Suspect: suspect}
}

// DegenerateCount reports whether a sample count carries no sizing
// information.
func DegenerateCount(c uint32) bool {
	return c <= 1
}

// EffectiveCount applies the buffer policy: fallback for degenerate
// counts, clamp for oversized ones.
func EffectiveCount(c uint32) uint32 {
	if DegenerateCount(c) {
		return FallbackSampleCount
	}
	if c > MaxSampleCount {
		return MaxSampleCount
	}
	return c
}
