package validate

import "math"

// PRMSE is the percent root mean square error of synth against control,
// normalized by the control total and scaled by the number of non-empty
// synthesized units. It is 0 when fewer than two controls are positive or
// the controls sum to zero.
func PRMSE(control, synth []float64) float64 {
	var sq, total float64
	n, filled := 0, 0
	for i := range control {
		d := control[i] - synth[i]
		sq += d * d
		total += control[i]
		if control[i] > 0 {
			n++
		}
		if synth[i] > 0 {
			filled++
		}
	}
	if n <= 1 || total == 0 {
		return 0
	}
	return math.Sqrt(sq/float64(n-1)) / total * float64(filled) * 100
}

// RMSE is the root mean square error over pairs where neither value is NaN.
func RMSE(actual, expected []float64) float64 {
	var sq float64
	n := 0
	for i := range actual {
		if math.IsNaN(actual[i]) || math.IsNaN(expected[i]) {
			continue
		}
		d := actual[i] - expected[i]
		sq += d * d
		n++
	}
	if n == 0 {
		return math.NaN()
	}
	return math.Sqrt(sq / float64(n))
}

// NRMSE is RMSE divided by the mean of expected.
func NRMSE(actual, expected []float64) float64 {
	return RMSE(actual, expected) / mean(expected)
}

// mean skips NaN values; it is NaN when nothing is left.
func mean(vals []float64) float64 {
	var s float64
	n := 0
	for _, v := range vals {
		if math.IsNaN(v) {
			continue
		}
		s += v
		n++
	}
	if n == 0 {
		return math.NaN()
	}
	return s / float64(n)
}

// sampleStdDev is the NaN-skipping standard deviation with one degree of
// freedom removed; NaN for fewer than two values.
func sampleStdDev(vals []float64) float64 {
	m := mean(vals)
	var sq float64
	n := 0
	for _, v := range vals {
		if math.IsNaN(v) {
			continue
		}
		sq += (v - m) * (v - m)
		n++
	}
	if n < 2 {
		return math.NaN()
	}
	return math.Sqrt(sq / float64(n-1))
}
