package main

import "testing"

func TestDecodeTransition_Table(t *testing.T) {
	plus := map[int]bool{0x1: true, 0x7: true, 0xE: true, 0x8: true}
	minus := map[int]bool{0x2: true, 0xB: true, 0xD: true, 0x4: true}

	for code := 0; code < 16; code++ {
		prev := PinSample(code >> 2)
		cur := PinSample(code & 0b11)

		want := 0
		switch {
		case plus[code]:
			want = +1
		case minus[code]:
			want = -1
		}

		if got := decodeTransition(prev, cur); got != want {
			t.Errorf("decodeTransition(%02b, %02b) [code 0x%X] = %d, want %d", prev, cur, code, got, want)
		}
	}
}

func TestNewPinSample(t *testing.T) {
	tests := []struct {
		a, b bool
		want PinSample
	}{
		{false, false, 0b00},
		{false, true, 0b01},
		{true, false, 0b10},
		{true, true, 0b11},
	}
	for _, tt := range tests {
		if got := NewPinSample(tt.a, tt.b); got != tt.want {
			t.Errorf("NewPinSample(%v, %v) = %02b, want %02b", tt.a, tt.b, got, tt.want)
		}
	}
}

// feed pushes samples through the decoder and collects emitted detents.
func feed(d *QuadratureDecoder, samples ...PinSample) []int {
	var out []int
	for _, s := range samples {
		if dir, ok := d.Update(s); ok {
			out = append(out, dir)
		}
	}
	return out
}

func TestQuadratureDecoder_FullDetentClockwise(t *testing.T) {
	d := NewQuadratureDecoder(0b00, 4, false)

	got := feed(d, 0b01, 0b11, 0b10, 0b00)
	if len(got) != 1 || got[0] != +1 {
		t.Fatalf("expected one +1 detent, got %v", got)
	}
	if d.Residual() != 0 {
		t.Errorf("accumulator should reset after detent, got %d", d.Residual())
	}
}

func TestQuadratureDecoder_FullDetentCounterClockwise(t *testing.T) {
	d := NewQuadratureDecoder(0b00, 4, false)

	got := feed(d, 0b10, 0b11, 0b01, 0b00)
	if len(got) != 1 || got[0] != -1 {
		t.Fatalf("expected one -1 detent, got %v", got)
	}
}

func TestQuadratureDecoder_PartialDetentKeepsResidual(t *testing.T) {
	d := NewQuadratureDecoder(0b00, 4, false)

	got := feed(d, 0b01, 0b11, 0b10)
	if len(got) != 0 {
		t.Fatalf("three transitions must not emit, got %v", got)
	}
	if d.Residual() != 3 {
		t.Fatalf("expected residual 3, got %d", d.Residual())
	}

	// The residual survives a pause; the fourth transition completes the detent.
	got = feed(d, 0b00)
	if len(got) != 1 || got[0] != +1 {
		t.Fatalf("expected residual to complete a detent, got %v", got)
	}
}

func TestQuadratureDecoder_BounceIsAbsorbed(t *testing.T) {
	d := NewQuadratureDecoder(0b00, 4, false)

	// Forward with a bounce on the first step: 00->01->00->01 nets +1.
	got := feed(d, 0b01, 0b00, 0b01, 0b11, 0b10, 0b00)
	if len(got) != 1 || got[0] != +1 {
		t.Fatalf("expected bounce to net one +1 detent, got %v", got)
	}
}

func TestQuadratureDecoder_RepeatedSampleBetweenSteps(t *testing.T) {
	// Clockwise from 00 is 01 11 10 00. A repeated sample scores zero and must
	// not shift where the detent lands.
	tests := []struct {
		name    string
		samples []PinSample
	}{
		{"after first step", []PinSample{0b01, 0b01, 0b11, 0b10, 0b00}},
		{"after second step", []PinSample{0b01, 0b11, 0b11, 0b10, 0b00}},
		{"after third step", []PinSample{0b01, 0b11, 0b10, 0b10, 0b00}},
		{"after every step", []PinSample{0b01, 0b01, 0b11, 0b11, 0b10, 0b10, 0b00}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewQuadratureDecoder(0b00, 4, false)
			last := len(tt.samples) - 1

			if got := feed(d, tt.samples[:last]...); len(got) != 0 {
				t.Fatalf("three valid steps emitted %v", got)
			}
			if d.Residual() != 3 {
				t.Fatalf("residual = %d, want 3", d.Residual())
			}
			if got := feed(d, tt.samples[last]); len(got) != 1 || got[0] != +1 {
				t.Fatalf("fourth step emitted %v, want [+1]", got)
			}
		})
	}
}

func TestQuadratureDecoder_SkippedStateScoresZero(t *testing.T) {
	d := NewQuadratureDecoder(0b00, 4, false)

	// 00 -> 11 is a double transition.
	if got := feed(d, 0b11); len(got) != 0 {
		t.Fatalf("unexpected detent %v", got)
	}
	if d.Residual() != 0 {
		t.Fatalf("double transition must score 0, residual=%d", d.Residual())
	}
	if d.Last() != 0b11 {
		t.Fatalf("last sample must be stored even on a zero score, got %02b", d.Last())
	}
}

func TestQuadratureDecoder_RepeatedSampleIgnored(t *testing.T) {
	d := NewQuadratureDecoder(0b01, 4, false)
	for i := 0; i < 10; i++ {
		if _, ok := d.Update(0b01); ok {
			t.Fatalf("repeated sample emitted a detent")
		}
	}
	if d.Residual() != 0 {
		t.Fatalf("expected residual 0, got %d", d.Residual())
	}
}

func TestQuadratureDecoder_MultipleDetents(t *testing.T) {
	d := NewQuadratureDecoder(0b00, 4, false)

	cw := []PinSample{0b01, 0b11, 0b10, 0b00}
	var samples []PinSample
	for i := 0; i < 3; i++ {
		samples = append(samples, cw...)
	}

	got := feed(d, samples...)
	if len(got) != 3 {
		t.Fatalf("expected 3 detents, got %v", got)
	}
	for i, dir := range got {
		if dir != +1 {
			t.Errorf("detent %d: got %d, want +1", i, dir)
		}
	}
}

func TestQuadratureDecoder_Reverse(t *testing.T) {
	d := NewQuadratureDecoder(0b00, 4, true)

	got := feed(d, 0b01, 0b11, 0b10, 0b00)
	if len(got) != 1 || got[0] != -1 {
		t.Fatalf("reversed decoder: expected -1, got %v", got)
	}
}

func TestQuadratureDecoder_DefaultThreshold(t *testing.T) {
	d := NewQuadratureDecoder(0b00, 0, false)
	if d.threshold != defaultDetentThreshold {
		t.Fatalf("threshold = %d, want %d", d.threshold, defaultDetentThreshold)
	}
}
