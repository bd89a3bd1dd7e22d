package indicator

import (
	"math"

	"tradelab/internal/domain"
)

// RSI is Wilder's relative strength index over p periods. The first value
// resolves at index p.
func RSI(x []float64, p int) []float64 {
	out := nanSlice(len(x))
	if p <= 0 || len(x) <= p {
		return out
	}

	var gain, loss float64
	for i := 1; i <= p; i++ {
		if ch := x[i] - x[i-1]; ch > 0 {
			gain += ch
		} else {
			loss -= ch
		}
	}
	avgGain := gain / float64(p)
	avgLoss := loss / float64(p)
	out[p] = rsiValue(avgGain, avgLoss)

	for i := p + 1; i < len(x); i++ {
		g, l := 0.0, 0.0
		if ch := x[i] - x[i-1]; ch > 0 {
			g = ch
		} else {
			l = -ch
		}
		avgGain = (avgGain*float64(p-1) + g) / float64(p)
		avgLoss = (avgLoss*float64(p-1) + l) / float64(p)
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	return 100 - 100/(1+avgGain/avgLoss)
}

// PctReturns returns simple returns r[i] = x[i+1]/x[i] - 1. The result is
// one shorter than x; steps with a zero base are skipped.
func PctReturns(x []float64) []float64 {
	if len(x) < 2 {
		return nil
	}
	out := make([]float64, 0, len(x)-1)
	for i := 1; i < len(x); i++ {
		if x[i-1] == 0 {
			continue
		}
		out = append(out, (x[i]-x[i-1])/x[i-1])
	}
	return out
}

// Pearson returns the correlation coefficient of the trailing overlap of a
// and b. It returns NaN when fewer than two points overlap or either side
// has zero variance.
func Pearson(a, b []float64) float64 {
	n := min(len(a), len(b))
	if n < 2 {
		return math.NaN()
	}
	a = a[len(a)-n:]
	b = b[len(b)-n:]

	var ma, mb float64
	for i := 0; i < n; i++ {
		ma += a[i]
		mb += b[i]
	}
	ma /= float64(n)
	mb /= float64(n)

	var cov, va, vb float64
	for i := 0; i < n; i++ {
		da, db := a[i]-ma, b[i]-mb
		cov += da * db
		va += da * da
		vb += db * db
	}
	if va == 0 || vb == 0 {
		return math.NaN()
	}
	return cov / math.Sqrt(va*vb)
}

// Last returns the final element of x, or NaN for an empty slice.
func Last(x []float64) float64 {
	if len(x) == 0 {
		return math.NaN()
	}
	return x[len(x)-1]
}

// Closes extracts close prices.
func Closes(candles []domain.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// HLC extracts high, low and close series in one pass.
func HLC(candles []domain.Candle) (high, low, close []float64) {
	high = make([]float64, len(candles))
	low = make([]float64, len(candles))
	close = make([]float64, len(candles))
	for i, c := range candles {
		high[i], low[i], close[i] = c.High, c.Low, c.Close
	}
	return high, low, close
}
