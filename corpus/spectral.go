package corpus

import (
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
)

// DominantFrequency returns the frequency in Hz of the strongest
// spectral bin, DC excluded. Silence and near-silence return 0 so
// callers can tell "no tone" from "tone at the first bin".
func DominantFrequency(samples []float64, rate int) float64 {
	if len(samples) < 2 || rate <= 0 {
		return 0
	}
	spectrum := fft.FFTReal(samples)
	best, bestMag := 0, 0.0
	for i := 1; i <= len(samples)/2; i++ {
		mag := cmplx.Abs(spectrum[i])
		if mag > bestMag {
			best, bestMag = i, mag
		}
	}
	if bestMag < 1e-9 {
		return 0
	}
	return float64(best) * float64(rate) / float64(len(samples))
}
