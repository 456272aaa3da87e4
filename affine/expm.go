// Package affine implements the algebra of 2D affine
// transforms used by the spatial transformer: the matrix
// exponential of an affine generator, its gradient, and a
// decomposition into interpretable parameters.
//
// A transform is stored as six numbers [a, b, tx, c, d, ty]
// describing the 2x3 matrix
//
//	[a b tx]
//	[c d ty]
//
// which acts on homogeneous coordinates (x, y, 1).
package affine

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// MaxGeneratorNorm bounds the infinity norm of generators
// accepted by Expm.
//
// Larger generators produce matrices whose entries can
// exceed e^64, which is meaningless for image warping.
const MaxGeneratorNorm = 64

// ErrGeneratorRange is returned for generators that are
// non-finite or exceed MaxGeneratorNorm.
var ErrGeneratorRange = errors.New("affine generator out of range")

// Matrix is a 2x3 affine matrix in row-major order.
type Matrix [6]float64

// Identity is the identity transform.
var Identity = Matrix{1, 0, 0, 0, 1, 0}

// Apply maps the point (x, y) through the transform.
func (m Matrix) Apply(x, y float64) (float64, float64) {
	return m[0]*x + m[1]*y + m[2], m[3]*x + m[4]*y + m[5]
}

// Expm computes the matrix exponential of a generator.
//
// The generator is extended to a 3x3 matrix with a zero
// bottom row, so the result is again affine.
// A zero generator yields the identity.
func Expm(g Matrix) (Matrix, error) {
	if err := checkGenerator(g); err != nil {
		return Matrix{}, err
	}
	var res mat.Dense
	res.Exp(homogeneous(g))
	return topRows(&res, 0, 0), nil
}

// ExpmBatch applies Expm to every generator in a packed
// slice of 6-number generators.
func ExpmBatch(gens []float64) ([]float64, error) {
	if len(gens)%6 != 0 {
		return nil, fmt.Errorf("expm batch: length %d not divisible by 6", len(gens))
	}
	res := make([]float64, len(gens))
	for i := 0; i < len(gens); i += 6 {
		var g Matrix
		copy(g[:], gens[i:i+6])
		m, err := Expm(g)
		if err != nil {
			return nil, fmt.Errorf("expm batch: generator %d: %w", i/6, err)
		}
		copy(res[i:], m[:])
	}
	return res, nil
}

// ExpmGrad computes the gradient of a scalar loss with
// respect to the generator g, given the gradient upstream
// with respect to Expm(g).
//
// This is the adjoint of the Fréchet derivative of the
// exponential at g, evaluated at upstream. It is computed
// as the upper-right block of exp([[gᵀ, E], [0, gᵀ]]),
// where E is upstream extended with a zero bottom row.
func ExpmGrad(g, upstream Matrix) (Matrix, error) {
	if err := checkGenerator(g); err != nil {
		return Matrix{}, err
	}
	gT := homogeneous(g).T()
	block := mat.NewDense(6, 6, nil)
	block.Slice(0, 3, 0, 3).(*mat.Dense).Copy(gT)
	block.Slice(3, 6, 3, 6).(*mat.Dense).Copy(gT)
	block.Slice(0, 3, 3, 6).(*mat.Dense).Copy(homogeneous(upstream))

	var res mat.Dense
	res.Exp(block)
	return topRows(&res, 0, 3), nil
}

func checkGenerator(g Matrix) error {
	var rowSums [2]float64
	for i, x := range g {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return ErrGeneratorRange
		}
		rowSums[i/3] += math.Abs(x)
	}
	if rowSums[0] > MaxGeneratorNorm || rowSums[1] > MaxGeneratorNorm {
		return ErrGeneratorRange
	}
	return nil
}

// homogeneous extends a 2x3 matrix with a zero bottom row.
func homogeneous(m Matrix) *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		m[0], m[1], m[2],
		m[3], m[4], m[5],
		0, 0, 0,
	})
}

// topRows reads the top two rows of the 3x3 block of m
// starting at (row, col).
func topRows(m *mat.Dense, row, col int) Matrix {
	var res Matrix
	for i := 0; i < 2; i++ {
		for j := 0; j < 3; j++ {
			res[i*3+j] = m.At(row+i, col+j)
		}
	}
	return res
}
