// Package mathx holds small numeric helpers shared by the instrument packages
package mathx

import "math"

// Round rounds a float to the nearest "unit" (0.1 for tenth, 0.01 for hundredth, and so on).
// Halves round away from zero.
func Round(x, unit float64) float64 {
	return math.Round(x/unit) * unit
}

// IsPowerOfTwo reports whether n is a positive power of two
func IsPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// Overrange is the value a DS1000Z reports for a measurement it cannot make
const Overrange = 9.9e37

// Valid reports whether a measured value is a real reading and not the
// scope's overrange marker
func Valid(x float64) bool {
	return !math.IsNaN(x) && math.Abs(x) < Overrange/10*9
}
