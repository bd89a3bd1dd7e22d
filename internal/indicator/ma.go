// Package indicator implements pure numeric transforms over price and volume
// series. Every function returns a slice aligned to its input with NaN for
// entries that cannot be resolved yet (warmup).
package indicator

import "math"

// SMA over the last `p` points; NaNs for warmup.
func SMA(x []float64, p int) []float64 {
	if p <= 0 {
		return nil
	}
	out := make([]float64, len(x))
	var sum float64
	for i := range x {
		sum += x[i]
		if i >= p {
			sum -= x[i-p]
		}
		if i < p-1 {
			out[i] = math.NaN()
			continue
		}
		out[i] = sum / float64(p)
	}
	return out
}

// EMA (standard smoothing 2/(p+1)); NaNs for warmup until i==p-1, then seed with SMA.
func EMA(x []float64, p int) []float64 {
	if p <= 0 {
		return nil
	}
	out := nanSlice(len(x))
	if len(x) < p {
		return out
	}
	k := 2.0 / float64(p+1)

	var seed float64
	for i := 0; i < p; i++ {
		seed += x[i]
	}
	out[p-1] = seed / float64(p)
	for i := p; i < len(x); i++ {
		out[i] = (x[i]-out[i-1])*k + out[i-1]
	}
	return out
}

// MeanStd returns the rolling mean and population standard deviation over
// window p.
func MeanStd(x []float64, p int) (mean, std []float64) {
	if p <= 0 {
		return nil, nil
	}
	n := len(x)
	mean = make([]float64, n)
	std = make([]float64, n)

	var sum, sum2 float64
	for i := 0; i < n; i++ {
		sum += x[i]
		sum2 += x[i] * x[i]
		if i >= p {
			sum -= x[i-p]
			sum2 -= x[i-p] * x[i-p]
		}
		if i < p-1 {
			mean[i] = math.NaN()
			std[i] = math.NaN()
			continue
		}
		m := sum / float64(p)
		v := sum2/float64(p) - m*m
		if v < 0 {
			v = 0
		}
		mean[i] = m
		std[i] = math.Sqrt(v)
	}
	return mean, std
}

// Bands holds an upper/middle/lower channel aligned to the input.
type Bands struct {
	Upper  []float64
	Middle []float64
	Lower  []float64
}

// Bollinger returns the middle SMA(p) and bands k population standard
// deviations away.
func Bollinger(x []float64, p int, k float64) Bands {
	mean, std := MeanStd(x, p)
	b := Bands{
		Upper:  make([]float64, len(mean)),
		Middle: mean,
		Lower:  make([]float64, len(mean)),
	}
	for i := range mean {
		b.Upper[i] = mean[i] + k*std[i]
		b.Lower[i] = mean[i] - k*std[i]
	}
	return b
}

// Donchian returns the highest high and lowest low over the trailing p bars.
func Donchian(high, low []float64, p int) Bands {
	n := min(len(high), len(low))
	b := Bands{
		Upper:  nanSlice(n),
		Middle: nanSlice(n),
		Lower:  nanSlice(n),
	}
	if p <= 0 {
		return b
	}
	for i := p - 1; i < n; i++ {
		hi, lo := math.Inf(-1), math.Inf(1)
		for j := i - p + 1; j <= i; j++ {
			hi = math.Max(hi, high[j])
			lo = math.Min(lo, low[j])
		}
		b.Upper[i] = hi
		b.Lower[i] = lo
		b.Middle[i] = (hi + lo) / 2
	}
	return b
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
