package indicator

import "math"

// TrueRange returns max(high-low, |high-prevClose|, |low-prevClose|). The
// first bar has no previous close and uses high-low.
func TrueRange(high, low, close []float64) []float64 {
	n := min(len(high), len(low), len(close))
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		hl := high[i] - low[i]
		if i == 0 {
			out[i] = hl
			continue
		}
		hc := math.Abs(high[i] - close[i-1])
		lc := math.Abs(low[i] - close[i-1])
		out[i] = math.Max(hl, math.Max(hc, lc))
	}
	return out
}

// Wilder smooths x with Wilder's method: the first resolved value is the
// simple average of the first p observations, each later value is
// prev*(p-1)/p + cur/p. Leading NaNs in x are skipped before seeding.
func Wilder(x []float64, p int) []float64 {
	out := nanSlice(len(x))
	if p <= 0 {
		return out
	}
	start := 0
	for start < len(x) && math.IsNaN(x[start]) {
		start++
	}
	if len(x)-start < p {
		return out
	}

	var seed float64
	for i := start; i < start+p; i++ {
		seed += x[i]
	}
	prev := seed / float64(p)
	out[start+p-1] = prev
	for i := start + p; i < len(x); i++ {
		prev = prev*float64(p-1)/float64(p) + x[i]/float64(p)
		out[i] = prev
	}
	return out
}

// ATR is Wilder-smoothed true range over p periods.
func ATR(high, low, close []float64, p int) []float64 {
	return Wilder(TrueRange(high, low, close), p)
}

// ADX returns the Average Directional Index over p periods. Directional
// movement starts at the second bar, so the first value resolves at index
// 2p-1.
func ADX(high, low, close []float64, p int) []float64 {
	n := min(len(high), len(low), len(close))
	if p <= 0 || n == 0 {
		return nanSlice(n)
	}

	tr := nanSlice(n)
	plusDM := nanSlice(n)
	minusDM := nanSlice(n)
	trAll := TrueRange(high[:n], low[:n], close[:n])
	for i := 1; i < n; i++ {
		up := high[i] - high[i-1]
		down := low[i-1] - low[i]
		plusDM[i], minusDM[i] = 0, 0
		if up > down && up > 0 {
			plusDM[i] = up
		}
		if down > up && down > 0 {
			minusDM[i] = down
		}
		tr[i] = trAll[i]
	}

	smTR := Wilder(tr, p)
	smPlus := Wilder(plusDM, p)
	smMinus := Wilder(minusDM, p)

	dx := nanSlice(n)
	for i := 0; i < n; i++ {
		if math.IsNaN(smTR[i]) {
			continue
		}
		if smTR[i] == 0 {
			dx[i] = 0
			continue
		}
		plusDI := 100 * smPlus[i] / smTR[i]
		minusDI := 100 * smMinus[i] / smTR[i]
		sum := plusDI + minusDI
		if sum == 0 {
			dx[i] = 0
			continue
		}
		dx[i] = 100 * math.Abs(plusDI-minusDI) / sum
	}
	return Wilder(dx, p)
}
