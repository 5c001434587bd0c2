package analysis

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/san-kum/dipsim/internal/result"
)

// Divergence estimates the exponential rate at which two trajectories with
// nearby initial states separate: the least-squares slope of ln|a(t)-b(t)|
// against t. A positive value means the motion is locally unstable.
// Samples with zero separation are skipped.
func Divergence(a, b *result.Trajectory) (float64, error) {
	sa, sb := a.States(), b.States()
	n := min(len(sa), len(sb))

	ts := make([]float64, 0, n)
	logs := make([]float64, 0, n)
	times := a.Times()
	for i := 0; i < n; i++ {
		sep := 0.0
		for j := range sa[i] {
			d := sa[i][j] - sb[i][j]
			sep += d * d
		}
		if sep == 0 || math.IsNaN(sep) || math.IsInf(sep, 0) {
			continue
		}
		ts = append(ts, times[i])
		logs = append(logs, 0.5*math.Log(sep))
	}
	if len(ts) < 2 {
		return 0, ErrTooShort
	}

	_, slope := stat.LinearRegression(ts, logs, nil, false)
	return slope, nil
}

// DivergenceSpread applies Divergence between a reference trajectory and
// each of the others.
func DivergenceSpread(ref *result.Trajectory, others []*result.Trajectory) []float64 {
	out := make([]float64, len(others))
	for i, o := range others {
		rate, err := Divergence(ref, o)
		if err != nil {
			rate = math.NaN()
		}
		out[i] = rate
	}
	return out
}
