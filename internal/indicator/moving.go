package indicator

import "math"

// sma is a rolling mean; O(n).
func sma(values []float64, period int) []float64 {
	out := undefined(len(values))
	if len(values) < period {
		return out
	}
	sum := 0.0
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// bollinger returns upper, middle and lower bands using the sample standard
// deviation (n-1) of closes over the window.
func bollinger(values []float64, period int, k float64) (upper, middle, lower []float64) {
	n := len(values)
	upper, middle, lower = undefined(n), undefined(n), undefined(n)
	if n < period {
		return
	}
	// Accumulate around the first close to keep sum-of-squares well conditioned.
	shift := values[0]
	var sum, sumSq float64
	for i, v := range values {
		d := v - shift
		sum += d
		sumSq += d * d
		if i >= period {
			old := values[i-period] - shift
			sum -= old
			sumSq -= old * old
		}
		if i < period-1 {
			continue
		}
		p := float64(period)
		variance := (sumSq - sum*sum/p) / (p - 1)
		if variance < 0 {
			variance = 0
		}
		sd := math.Sqrt(variance)
		mean := shift + sum/p
		middle[i] = mean
		upper[i] = mean + k*sd
		lower[i] = mean - k*sd
	}
	return
}
