package nn

import (
	"math"
	"math/rand"

	"github.com/vitport/vitport/ml"
)

// TruncNormal fills t with samples from a normal distribution with the given
// mean and standard deviation, truncated to [a, b]. Values are drawn by
// inverse-CDF transform of a uniform sample over the truncated range.
func TruncNormal(t *ml.Tensor, rng *rand.Rand, mean, std, a, b float64) {
	normCDF := func(x float64) float64 {
		return (1 + math.Erf(x/math.Sqrt2)) / 2
	}

	lo := normCDF((a - mean) / std)
	hi := normCDF((b - mean) / std)

	data := t.Data()
	for i := range data {
		u := 2*(lo+rng.Float64()*(hi-lo)) - 1
		v := mean + std*math.Sqrt2*math.Erfinv(u)
		data[i] = float32(math.Min(math.Max(v, a), b))
	}
}

// Zero clears t in place.
func Zero(t *ml.Tensor) {
	clear(t.Data())
}

// Ones fills t with 1 in place.
func Ones(t *ml.Tensor) {
	data := t.Data()
	for i := range data {
		data[i] = 1
	}
}

// InitVisitor returns an Apply visitor implementing the standard transformer
// initialization: truncated-normal weights and zero biases for linear-like
// modules, unit weights and zero biases for normalization layers.
func InitVisitor(rng *rand.Rand, std float64) func(ml.Module) {
	return func(m ml.Module) {
		switch m := m.(type) {
		case ml.NormLike:
			Ones(m.ScaleParam())
			Zero(m.ShiftParam())
		case ml.LinearLike:
			TruncNormal(m.WeightParam(), rng, 0, std, -2, 2)
			if b := m.BiasParam(); b != nil {
				Zero(b)
			}
		}
	}
}
