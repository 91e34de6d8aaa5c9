package simulator

import (
	"math"
	"math/rand/v2"
)

const (
	baseline  = 512
	amplitude = 480
	// slow respiration-like drift of the baseline
	wanderHz    = 0.2
	wanderLevel = 0.02
)

// wave is one deflection of a beat. Center and width are fractions of the
// cardiac cycle, height is a fraction of the ADC swing.
type wave struct {
	height float64
	center float64
	width  float64
}

// beat is not clinical. The R wave peaks near 1000 and the T wave stays
// near 630 on the 10-bit scale.
var beat = []wave{
	{height: 0.08, center: 0.18, width: 0.03},   // P
	{height: -0.12, center: 0.30, width: 0.01},  // Q
	{height: 1.05, center: 0.32, width: 0.008},  // R
	{height: -0.25, center: 0.35, width: 0.012}, // S
	{height: 0.25, center: 0.60, width: 0.06},   // T
}

// Waveform produces a synthetic trace one sample at a time.
type Waveform struct {
	step  float64
	dt    float64
	noise float64
	rng   *rand.Rand

	phase   float64
	elapsed float64
}

// NewWaveform seeds its noise source with a constant so runs repeat.
func NewWaveform(fs, hrBPM, noise float64) *Waveform {
	return &Waveform{
		step:  hrBPM / 60 / fs,
		dt:    1 / fs,
		noise: noise,
		rng:   rand.New(rand.NewPCG(0xec6, uint64(hrBPM))),
	}
}

// Next returns the next sample and advances one sampling period.
func (w *Waveform) Next() int {
	w.phase = math.Mod(w.phase+w.step, 1)
	w.elapsed += w.dt

	level := wanderLevel * math.Sin(2*math.Pi*wanderHz*w.elapsed)
	for _, d := range beat {
		z := (w.phase - d.center) / d.width
		level += d.height * math.Exp(-z*z/2)
	}
	if w.noise > 0 {
		level += w.noise * (2*w.rng.Float64() - 1)
	}

	return baseline + int(math.Round(amplitude*level))
}
