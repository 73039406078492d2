package main

// ============================================================================
// Quadrature decoding
// ============================================================================
// The rotary encoder drives two pins (A, B) through a 2-bit gray code. Every
// edge on either pin produces a new PinSample; consecutive samples are looked
// up in a 16-entry transition table. Valid single-step transitions score +1 or
// -1, everything else (no change, skipped state caused by contact bounce)
// scores 0. A mechanical detent is four valid transitions, so the decoder
// accumulates scores and emits one detent when the accumulator reaches the
// threshold.
// ============================================================================

// PinSample packs the two rotation pin levels as A<<1 | B.
type PinSample uint8

// NewPinSample builds a sample from the raw levels (true = high).
func NewPinSample(a, b bool) PinSample {
	var s PinSample
	if a {
		s |= 0b10
	}
	if b {
		s |= 0b01
	}
	return s
}

// transitionTable is indexed by prev<<2 | cur.
var transitionTable = [16]int8{
	0x0: 0, 0x1: +1, 0x2: -1, 0x3: 0,
	0x4: -1, 0x5: 0, 0x6: 0, 0x7: +1,
	0x8: +1, 0x9: 0, 0xA: 0, 0xB: -1,
	0xC: 0, 0xD: -1, 0xE: +1, 0xF: 0,
}

// decodeTransition scores a single sample-to-sample transition.
func decodeTransition(prev, cur PinSample) int {
	return int(transitionTable[(prev&0b11)<<2|(cur&0b11)])
}

// QuadratureDecoder accumulates transition scores into detents.
//
// It is not safe for concurrent use; the rotary input serializes calls.
// Residual counts are kept indefinitely when rotation stops.
type QuadratureDecoder struct {
	last      PinSample
	acc       int
	threshold int
	reverse   bool
}

// NewQuadratureDecoder seeds the decoder with the pin levels read at startup.
func NewQuadratureDecoder(initial PinSample, threshold int, reverse bool) *QuadratureDecoder {
	if threshold <= 0 {
		threshold = defaultDetentThreshold
	}
	return &QuadratureDecoder{
		last:      initial & 0b11,
		threshold: threshold,
		reverse:   reverse,
	}
}

// Update feeds the sample observed after an edge. It returns the detent
// direction (+1 or -1) and true when a full detent has been completed.
func (d *QuadratureDecoder) Update(cur PinSample) (int, bool) {
	cur &= 0b11
	d.acc += decodeTransition(d.last, cur)
	d.last = cur

	dir := 0
	switch {
	case d.acc >= d.threshold:
		dir = +1
	case d.acc <= -d.threshold:
		dir = -1
	default:
		return 0, false
	}
	d.acc = 0

	if d.reverse {
		dir = -dir
	}
	return dir, true
}

// Last returns the most recently stored sample.
func (d *QuadratureDecoder) Last() PinSample { return d.last }

// Residual returns the accumulated score not yet turned into a detent.
func (d *QuadratureDecoder) Residual() int { return d.acc }
