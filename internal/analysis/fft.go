package analysis

import (
	"errors"
	"fmt"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"

	"github.com/san-kum/dipsim/internal/result"
)

var ErrTooShort = errors.New("analysis: trajectory too short")

// Component extracts state component idx over the whole trajectory.
func Component(tr *result.Trajectory, idx int) ([]float64, error) {
	states := tr.States()
	if len(states) == 0 || idx < 0 || idx >= len(states[0]) {
		return nil, fmt.Errorf("analysis: component %d out of range", idx)
	}
	out := make([]float64, len(states))
	for i, x := range states {
		out[i] = x[idx]
	}
	return out, nil
}

// PowerSpectrum returns the one-sided amplitude spectrum of component idx
// with its mean removed, and the frequency in Hz of each bin.
func PowerSpectrum(tr *result.Trajectory, idx int) (freqs, amps []float64, err error) {
	data, err := Component(tr, idx)
	if err != nil {
		return nil, nil, err
	}
	n := len(data)
	if n < 4 {
		return nil, nil, ErrTooShort
	}

	mean := 0.0
	for _, v := range data {
		mean += v
	}
	mean /= float64(n)
	for i := range data {
		data[i] -= mean
	}

	spectrum := fft.FFTReal(data)
	half := n / 2
	freqs = make([]float64, half)
	amps = make([]float64, half)
	for k := 0; k < half; k++ {
		freqs[k] = float64(k) / (float64(n) * tr.Dt)
		amps[k] = cmplx.Abs(spectrum[k]) / float64(n)
	}
	return freqs, amps, nil
}

// DominantFrequency is the frequency of the largest non-DC bin.
func DominantFrequency(tr *result.Trajectory, idx int) (float64, error) {
	freqs, amps, err := PowerSpectrum(tr, idx)
	if err != nil {
		return 0, err
	}
	best := 1
	for k := 2; k < len(amps); k++ {
		if amps[k] > amps[best] {
			best = k
		}
	}
	return freqs[best], nil
}
