// Package handshake drives the recovered authentication sequence of
// the measurement module. The original host unlocks the library with a
// three-phase XOR exchange over Aud_InitDll; the rebuilt binary also
// accepts a direct magic word. Both flows end in a comparable Outcome
// rather than an error: refusal to authenticate is a result the parity
// verdicts care about, not a fault.
package handshake

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/wavecheck/audparity/abi"
)

// State is the terminal condition of a handshake attempt.
type State int

const (
	StateUninitialized State = iota
	StateChallengeIssued
	StateVerified
	StateRejected
	StateContextRequired
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateChallengeIssued:
		return "challenge-issued"
	case StateVerified:
		return "verified"
	case StateRejected:
		return "rejected"
	case StateContextRequired:
		return "context-required"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Mode selects which recovered init flow to drive.
type Mode string

const (
	// ThreePhase is the original host's challenge/response exchange.
	ThreePhase Mode = "three-phase"
	// SimpleMagic is the single-word init the rebuilt binary accepts.
	SimpleMagic Mode = "simple-magic"
)

// MarshalJSON renders the state by name so run reports stay readable.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Outcome is the comparable result of one handshake attempt. Phase is
// the init call that produced the terminal state, counted from 1.
type Outcome struct {
	State     State  `json:"state"`
	Mode      Mode   `json:"mode"`
	Phase     int    `json:"phase,omitempty"`
	Challenge uint32 `json:"challenge,omitempty"`
	Session   uint32 `json:"session,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

// Verified reports whether the module accepted the sequence.
func (o Outcome) Verified() bool { return o.State == StateVerified }

func (o Outcome) String() string {
	switch o.State {
	case StateVerified:
		return fmt.Sprintf("%s verified, session %d", o.Mode, o.Session)
	case StateRejected:
		return fmt.Sprintf("%s rejected at phase %d: %s", o.Mode, o.Phase, o.Detail)
	case StateContextRequired:
		return fmt.Sprintf("%s needs host context at phase %d", o.Mode, o.Phase)
	default:
		return fmt.Sprintf("%s %s", o.Mode, o.State)
	}
}

// Initializer is the slice of the bound module the handshake needs.
type Initializer interface {
	InitDll(ctx context.Context, code uint32) (uint32, error)
}

// contextRequired recognizes the host-container status in a raw init
// response word.
func contextRequired(response uint32) bool {
	return int32(response) == int32(abi.StatusContextRequired)
}

// Run drives one handshake flow to its terminal outcome. A rejected
// phase is final; the emulator never re-sends a phase. Transport
// faults (absent entry, trap) come back as the error.
func Run(ctx context.Context, m Initializer, mode Mode) (Outcome, error) {
	switch mode {
	case ThreePhase:
		return runThreePhase(ctx, m)
	case SimpleMagic:
		return runSimpleMagic(ctx, m)
	default:
		return Outcome{}, fmt.Errorf("unknown handshake mode %q", mode)
	}
}

func runThreePhase(ctx context.Context, m Initializer) (Outcome, error) {
	out := Outcome{Mode: ThreePhase}

	// Phase 1: request a challenge. Every response word is a valid
	// challenge, including zero.
	challenge, err := m.InitDll(ctx, 0)
	if err != nil {
		return Outcome{}, err
	}
	if contextRequired(challenge) {
		out.State = StateContextRequired
		out.Phase = 1
		return out, nil
	}
	out.State = StateChallengeIssued
	out.Challenge = challenge

	// Phase 2: echo the challenge folded with the exchange constant.
	// Only a zero response passes.
	resp, err := m.InitDll(ctx, challenge^abi.InitChallengeXor)
	if err != nil {
		return Outcome{}, err
	}
	if contextRequired(resp) {
		out.State = StateContextRequired
		out.Phase = 2
		return out, nil
	}
	if resp != 0 {
		out.State = StateRejected
		out.Phase = 2
		out.Detail = fmt.Sprintf("challenge echo answered %d, want 0", resp)
		return out, nil
	}

	// Phase 3: the verification word must come back folded with the
	// session key.
	resp, err = m.InitDll(ctx, abi.VerifyMagic)
	if err != nil {
		return Outcome{}, err
	}
	if contextRequired(resp) {
		out.State = StateContextRequired
		out.Phase = 3
		return out, nil
	}
	if resp != abi.VerifyExpected {
		out.State = StateRejected
		out.Phase = 3
		out.Detail = fmt.Sprintf("verification answered %d, want %d", resp, abi.VerifyExpected)
		return out, nil
	}
	out.State = StateVerified
	out.Phase = 3
	out.Session = resp
	return out, nil
}

func runSimpleMagic(ctx context.Context, m Initializer) (Outcome, error) {
	out := Outcome{Mode: SimpleMagic, Phase: 1}

	resp, err := m.InitDll(ctx, abi.SimpleInitMagic)
	if err != nil {
		return Outcome{}, err
	}
	switch {
	case contextRequired(resp):
		out.State = StateContextRequired
	case resp == 0:
		out.State = StateRejected
		out.Detail = "magic init answered 0"
	default:
		out.State = StateVerified
		out.Session = resp
	}
	return out, nil
}

// Probe finds a flow the build accepts: the three-phase exchange
// first, then the magic word when the exchange does not verify. When
// neither does, the three-phase outcome is returned since it carries
// the phase the build gave up at.
func Probe(ctx context.Context, m Initializer) (Outcome, error) {
	first, err := Run(ctx, m, ThreePhase)
	if err != nil {
		return Outcome{}, err
	}
	if first.Verified() {
		return first, nil
	}
	second, err := Run(ctx, m, SimpleMagic)
	if err != nil {
		return Outcome{}, err
	}
	if second.Verified() {
		return second, nil
	}
	return first, nil
}
