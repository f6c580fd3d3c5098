package engine

// Bounds is the inclusive search box shared by every coordinate.
type Bounds struct {
	Lower float64
	Upper float64
}

// Clamp moves every coordinate of x into [Lower, Upper] in place. Values
// already in range are left untouched.
func (b Bounds) Clamp(x []float64) {
	for i, v := range x {
		x[i] = clamp(v, b.Lower, b.Upper)
	}
}

// Contains reports whether every coordinate of x lies within the bounds.
func (b Bounds) Contains(x []float64) bool {
	for _, v := range x {
		if v < b.Lower || v > b.Upper {
			return false
		}
	}
	return true
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
