package format

import "testing"

func TestResolve(t *testing.T) {
	tests := []struct {
		name string
		path string
		want Code
	}{
		{"etm", "sweep.etm", 1},
		{"efr", "response.efr", 2},
		{"emd", "session.emd", 3},
		{"etx", "export.etx", 5},
		{"wav", "silence_16bit.wav", 9},
		{"tim contested resolves to mlssa", "impulse.tim", 10},
		{"frq", "impulse.frq", 11},
		{"dat", "sweep.dat", 12},
		{"spk", "driver.spk", 13},
		{"mls contested resolves to signal", "burst.mls", 17},
		{"frd contested resolves to clio", "curve.frd", 24},
		{"zma contested resolves to clio", "impedance.zma", 24},
		{"uppercase extension", "SILENCE.WAV", 9},
		{"mixed case", "Sweep.Etm", 1},
		{"multi dot uses last", "backup.wav.etm", 1},
		{"with directories", "corpus/gen/silence.wav", 9},
		{"unknown extension", "notes.pdf", Auto},
		{"no extension", "Makefile", Auto},
		{"dotfile only", ".wav", 9},
		{"empty path", "", Auto},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Resolve(tt.path); got != tt.want {
				t.Errorf("Resolve(%q) = %d, want %d", tt.path, got, tt.want)
			}
		})
	}
}

func TestAll(t *testing.T) {
	all := All()
	if len(all) != 19 {
		t.Fatalf("All() returned %d specs, want 19", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i-1].Code >= all[i].Code {
			t.Fatalf("All() not sorted: code %d before %d", all[i-1].Code, all[i].Code)
		}
	}
	// The recovered numbering has gaps; make sure nothing filled them in.
	for _, gap := range []Code{4, 7, 8, 18, 19, 21, 22, 23, 26} {
		if _, ok := Lookup(gap); ok {
			t.Errorf("Lookup(%d) found a spec inside a numbering gap", gap)
		}
	}
}

func TestAllCopies(t *testing.T) {
	a := All()
	a[0].Extensions[0] = ".mutated"
	if b := All(); b[0].Extensions[0] != ".etm" {
		t.Error("All() exposed internal extension slices")
	}
}

func TestConflicts(t *testing.T) {
	tests := []struct {
		ext       string
		wantCodes []Code
	}{
		{".tim", []Code{10, 16}},
		{".mls", []Code{17, 20}},
		{".frd", []Code{24, 27}},
		{".zma", []Code{24, 28}},
		{".wav", []Code{9}},
		{".TIM", []Code{10, 16}},
		{".xyz", nil},
		{"", nil},
	}

	for _, tt := range tests {
		t.Run(tt.ext, func(t *testing.T) {
			got := Conflicts(tt.ext)
			if len(got) != len(tt.wantCodes) {
				t.Fatalf("Conflicts(%q) returned %d specs, want %d", tt.ext, len(got), len(tt.wantCodes))
			}
			for i, s := range got {
				if s.Code != tt.wantCodes[i] {
					t.Errorf("Conflicts(%q)[%d].Code = %d, want %d", tt.ext, i, s.Code, tt.wantCodes[i])
				}
			}
		})
	}
}

func TestDoubtfulFlags(t *testing.T) {
	contested := map[Code]bool{10: true, 16: true, 17: true, 20: true, 24: true, 27: true, 28: true}
	for _, s := range All() {
		if s.Doubtful != contested[s.Code] {
			t.Errorf("code %d Doubtful = %v, want %v", s.Code, s.Doubtful, contested[s.Code])
		}
	}
}

func TestName(t *testing.T) {
	tests := []struct {
		code Code
		want string
	}{
		{Auto, "auto"},
		{9, "MsWave"},
		{24, "ClioFreqText"},
		{99, "unknown"},
	}
	for _, tt := range tests {
		if got := Name(tt.code); got != tt.want {
			t.Errorf("Name(%d) = %q, want %q", tt.code, got, tt.want)
		}
	}
}

func TestCodes(t *testing.T) {
	codes := Codes()
	if len(codes) != 19 {
		t.Fatalf("Codes() returned %d codes, want 19", len(codes))
	}
	if codes[0] != 1 || codes[len(codes)-1] != 28 {
		t.Errorf("Codes() range [%d, %d], want [1, 28]", codes[0], codes[len(codes)-1])
	}
}
