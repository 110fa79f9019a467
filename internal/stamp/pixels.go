package stamp

import (
	"math"
	"strconv"
)

// Pixels is an image in row-major order. Shape follows numpy conventions:
// Shape[0] is NAXISn (slowest), Shape[len-1] is NAXIS1 (fastest).
type Pixels struct {
	Shape []int
	Data  []float64
}

func (p Pixels) Rows() int {
	if len(p.Shape) < 2 {
		return 1
	}
	return p.Shape[len(p.Shape)-2]
}

func (p Pixels) Cols() int {
	if len(p.Shape) == 0 {
		return 0
	}
	return p.Shape[len(p.Shape)-1]
}

// Equal treats NaN as equal to NaN so that blank pixels round-trip.
func (p Pixels) Equal(o Pixels) bool {
	if len(p.Shape) != len(o.Shape) || len(p.Data) != len(o.Data) {
		return false
	}
	for i := range p.Shape {
		if p.Shape[i] != o.Shape[i] {
			return false
		}
	}
	for i, v := range p.Data {
		w := o.Data[i]
		if v != w && !(math.IsNaN(v) && math.IsNaN(w)) {
			return false
		}
	}
	return true
}

// MarshalJSON writes nested arrays matching Shape. NaN and Inf become null.
func (p Pixels) MarshalJSON() ([]byte, error) {
	if len(p.Shape) == 0 {
		return []byte("[]"), nil
	}
	buf := make([]byte, 0, len(p.Data)*8+16)
	buf, _ = appendNested(buf, p.Shape, p.Data)
	return buf, nil
}

func appendNested(b []byte, shape []int, data []float64) ([]byte, []float64) {
	b = append(b, '[')
	if len(shape) == 1 {
		for i := 0; i < shape[0]; i++ {
			if i > 0 {
				b = append(b, ',')
			}
			b = appendFloat(b, data[i])
		}
		return append(b, ']'), data[shape[0]:]
	}
	for i := 0; i < shape[0]; i++ {
		if i > 0 {
			b = append(b, ',')
		}
		b, data = appendNested(b, shape[1:], data)
	}
	return append(b, ']'), data
}

// same number formatting as encoding/json for float64
func appendFloat(b []byte, f float64) []byte {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return append(b, "null"...)
	}
	abs := math.Abs(f)
	format := byte('f')
	if abs != 0 && (abs < 1e-6 || abs >= 1e21) {
		format = 'e'
	}
	b = strconv.AppendFloat(b, f, format, -1, 64)
	if format == 'e' {
		// e-09 => e-9
		n := len(b)
		if n >= 4 && b[n-4] == 'e' && b[n-3] == '-' && b[n-2] == '0' {
			b[n-2] = b[n-1]
			b = b[:n-1]
		}
	}
	return b
}
