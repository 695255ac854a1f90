package modtest

import (
	"math"

	"github.com/wavecheck/audparity/abi"
)

// WithThreePhase wires Aud_InitDll as the original host exchange: a
// fixed challenge, the zero echo answer, and the folded verification
// word. Any out-of-sequence code resets the exchange and answers the
// challenge again.
func (s *Script) WithThreePhase(challenge uint32) *Script {
	phase := 0
	return s.On(abi.InitDll, func(stack []uint64) {
		code := uint32(stack[0])
		switch {
		case phase == 1 && code == challenge^abi.InitChallengeXor:
			phase = 2
			stack[0] = 0
		case phase == 2 && code == abi.VerifyMagic:
			phase = 0
			stack[0] = uint64(abi.VerifyExpected)
		default:
			phase = 1
			stack[0] = uint64(challenge)
		}
	})
}

// WithSimpleMagic wires Aud_InitDll as the rebuilt build's single-word
// init: the magic answers with session, anything else with zero.
func (s *Script) WithSimpleMagic(session uint32) *Script {
	return s.On(abi.InitDll, func(stack []uint64) {
		if uint32(stack[0]) == abi.SimpleInitMagic {
			stack[0] = uint64(session)
			return
		}
		stack[0] = 0
	})
}

// WithContextRequired wires Aud_InitDll to demand its host container.
func (s *Script) WithContextRequired() *Script {
	return s.OnStatus(abi.InitDll, abi.StatusContextRequired)
}

// WithVersions wires the two version getters.
func (s *Script) WithVersions(iface, dll float64) *Script {
	s.On(abi.GetInterfaceVersion, func(stack []uint64) {
		stack[0] = math.Float64bits(iface)
	})
	return s.On(abi.GetDllVersion, func(stack []uint64) {
		stack[0] = math.Float64bits(dll)
	})
}
