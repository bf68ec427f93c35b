package simulator

import (
	"math"
	"math/rand/v2"

	"gosuda.org/vitalink/internal/protocol"
)

// Physiological bounds of the random walk.
const (
	MinHeartRate = 50
	MaxHeartRate = 160
	MinSpO2      = 85
	MaxSpO2      = 100
	MinRespRate  = 8
	MaxRespRate  = 30
)

func newRand(seed uint64) *rand.Rand {
	if seed == 0 {
		return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return rand.New(rand.NewPCG(seed, seed^0x9E3779B97F4A7C15))
}

// VitalsWalk is a bounded random walk over heart rate, SpO2 and respiratory rate.
// State is kept in float64 so sub-unit steps accumulate.
type VitalsWalk struct {
	rng          *rand.Rand
	hr, spo2, rr float64

	steered bool
	target  protocol.Vitals
}

// pull is the share of the distance to a steering target covered per step.
const pull = 0.02

// Steer makes the walk drift toward target while keeping its noise.
func (w *VitalsWalk) Steer(target protocol.Vitals) {
	w.steered, w.target = true, target
}

// Release returns the walk to an unsteered random walk.
func (w *VitalsWalk) Release() {
	w.steered = false
}

// NewVitalsWalk starts a walk at 72/98/16. A zero seed draws a random one.
func NewVitalsWalk(seed uint64) *VitalsWalk {
	return &VitalsWalk{rng: newRand(seed), hr: 72, spo2: 98, rr: 16}
}

func (w *VitalsWalk) step(v, lo, hi, width float64) float64 {
	v += (w.rng.Float64() - 0.5) * width
	return min(max(v, lo), hi)
}

// Next advances the walk one step.
func (w *VitalsWalk) Next() protocol.Vitals {
	if w.steered {
		w.hr += (float64(w.target.HeartRate) - w.hr) * pull
		w.spo2 += (float64(w.target.SpO2) - w.spo2) * pull
		w.rr += (float64(w.target.RespRate) - w.rr) * pull
	}
	w.hr = w.step(w.hr, MinHeartRate, MaxHeartRate, 2)
	w.spo2 = w.step(w.spo2, MinSpO2, MaxSpO2, 0.5)
	w.rr = w.step(w.rr, MinRespRate, MaxRespRate, 0.5)
	return protocol.Vitals{
		HeartRate:     int(math.Round(w.hr)),
		SpO2:          int(math.Round(w.spo2)),
		RespRate:      int(math.Round(w.rr)),
		SignalQuality: 90 + w.rng.IntN(11),
	}
}

// ECG synthesizes a lead as a sum of gaussians per beat: P, Q, R, S and T waves.
// Output is in millivolts with an R peak near 1 mV.
type ECG struct {
	rng        *rand.Rand
	sampleRate int
	phase      float64
	noise      float64
}

// NewECG returns a generator at sampleRate Hz.
func NewECG(seed uint64, sampleRate int) *ECG {
	return &ECG{rng: newRand(seed), sampleRate: sampleRate, noise: 0.05}
}

type wave struct {
	amp, center, width float64
}

var pqrst = [...]wave{
	{0.10, 0.20, 20},  // P
	{-0.10, 0.45, 50}, // Q
	{1.00, 0.50, 100}, // R
	{-0.15, 0.55, 50}, // S
	{0.15, 0.80, 15},  // T
}

// Next returns n consecutive samples for a beat rate of heartRate bpm.
func (e *ECG) Next(n, heartRate int) []float32 {
	heartRate = max(heartRate, 1)
	samplesPerBeat := float64(e.sampleRate) * 60 / float64(heartRate)

	out := make([]float32, n)
	for i := range out {
		t := e.phase / samplesPerBeat
		y := (e.rng.Float64() - 0.5) * e.noise
		for _, w := range pqrst {
			d := (t - w.center) * w.width
			y += w.amp * math.Exp(-d*d)
		}
		out[i] = float32(y)

		e.phase++
		if e.phase >= samplesPerBeat {
			e.phase = 0
		}
	}
	return out
}

// Pleth synthesizes a photoplethysmogram: a systolic upstroke followed by a smaller
// dicrotic wave. Values stay within 0..1.
type Pleth struct {
	sampleRate int
	phase      float64
}

// NewPleth returns a generator at sampleRate Hz.
func NewPleth(sampleRate int) *Pleth {
	return &Pleth{sampleRate: sampleRate}
}

// Next returns n consecutive samples for a pulse rate of heartRate bpm.
func (p *Pleth) Next(n, heartRate int) []float32 {
	heartRate = max(heartRate, 1)
	samplesPerBeat := float64(p.sampleRate) * 60 / float64(heartRate)

	out := make([]float32, n)
	for i := range out {
		t := p.phase / samplesPerBeat
		sys := (t - 0.25) * 6
		dic := (t - 0.6) * 8
		out[i] = float32(0.8*math.Exp(-sys*sys) + 0.25*math.Exp(-dic*dic))

		p.phase++
		if p.phase >= samplesPerBeat {
			p.phase = 0
		}
	}
	return out
}
