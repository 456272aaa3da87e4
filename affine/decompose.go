package affine

import (
	"errors"
	"math"
)

// ErrDegenerate is returned when a matrix's linear part has
// a vanishing first column and cannot be decomposed.
var ErrDegenerate = errors.New("degenerate affine matrix")

const degenerateEpsilon = 1e-12

// Params describes an affine matrix whose linear part is
//
//	R(Theta) * [[ScaleX, Shear], [0, ScaleY]]
//
// with R(Theta) a rotation, followed by a translation of
// (TX, TY).
//
// ScaleY is negative for reflections.
type Params struct {
	ScaleX float64
	ScaleY float64
	Shear  float64
	Theta  float64
	TX     float64
	TY     float64
}

// ParamNames lists the short names of the Params fields
// in the order returned by Params.Slice.
var ParamNames = [6]string{"sx", "sy", "m", "theta", "tx", "ty"}

// Slice returns the parameters in ParamNames order.
func (p Params) Slice() [6]float64 {
	return [6]float64{p.ScaleX, p.ScaleY, p.Shear, p.Theta, p.TX, p.TY}
}

// Decompose factors a matrix into Params.
//
// Compose(Decompose(m)) reproduces m for every matrix for
// which Decompose succeeds.
func Decompose(m Matrix) (Params, error) {
	a, b, c, d := m[0], m[1], m[3], m[4]
	sx := math.Hypot(a, c)
	if sx < degenerateEpsilon || math.IsNaN(sx) || math.IsInf(sx, 0) {
		return Params{}, ErrDegenerate
	}
	return Params{
		ScaleX: sx,
		ScaleY: (a*d - b*c) / sx,
		Shear:  (a*b + c*d) / sx,
		Theta:  math.Atan2(c, a),
		TX:     m[2],
		TY:     m[5],
	}, nil
}

// Compose builds the matrix described by p.
func Compose(p Params) Matrix {
	sin, cos := math.Sincos(p.Theta)
	return Matrix{
		cos * p.ScaleX, cos*p.Shear - sin*p.ScaleY, p.TX,
		sin * p.ScaleX, sin*p.Shear + cos*p.ScaleY, p.TY,
	}
}

// DecomposeBatch decomposes every matrix and returns one
// column of values per parameter, in ParamNames order.
//
// Degenerate matrices are skipped.
func DecomposeBatch(ms []Matrix) [6][]float64 {
	var res [6][]float64
	for _, m := range ms {
		p, err := Decompose(m)
		if err != nil {
			continue
		}
		for i, x := range p.Slice() {
			res[i] = append(res[i], x)
		}
	}
	return res
}
