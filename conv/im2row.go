package conv

import (
	"fmt"

	"github.com/unixpickle/anyvec"
)

// Im2Row maps (possibly overlapping) regions in an input
// tensor to rows in a matrix.
// The regions are defined by sliding a window of size
// WindowWidth by WindowHeight along the image with a
// stride of StrideX and StrideY.
//
// The i-th row corresponds to the i-th (x,y) coordinate
// in the output tensor of a Conv.
//
// You should not modify an Im2Row after using it for any
// mapping operation, since the mapper is cached.
type Im2Row struct {
	WindowWidth  int
	WindowHeight int

	StrideX int
	StrideY int

	InputWidth  int
	InputHeight int
	InputDepth  int

	mapper anyvec.Mapper
}

// InputSize returns the total number of components in the
// input tensors.
func (m *Im2Row) InputSize() int {
	return m.InputWidth * m.InputHeight * m.InputDepth
}

// NumX returns the number of horizontal window positions.
func (m *Im2Row) NumX() int {
	return windowCount(m.InputWidth, m.WindowWidth, m.StrideX)
}

// NumY returns the number of vertical window positions.
func (m *Im2Row) NumY() int {
	return windowCount(m.InputHeight, m.WindowHeight, m.StrideY)
}

// MakeOut allocates a row matrix for the output of Map.
func (m *Im2Row) MakeOut(c anyvec.Creator) *anyvec.Matrix {
	rows := m.NumX() * m.NumY()
	cols := m.WindowWidth * m.WindowHeight * m.InputDepth
	return &anyvec.Matrix{Data: c.MakeVector(rows * cols), Rows: rows, Cols: cols}
}

// MapAll maps every input tensor in a batch to a row
// matrix and calls f with each matrix in order.
//
// The matrix passed to f is reused between calls, so f
// must not keep a reference to it.
func (m *Im2Row) MapAll(in anyvec.Vector, f func(idx int, m *anyvec.Matrix)) {
	inSize := m.InputSize()
	if in.Len()%inSize != 0 {
		panic(fmt.Sprintf("input length %d not divisible by %d", in.Len(), inSize))
	}
	mapper := m.Mapper(in.Creator())
	m.CallAll(in.Creator(), in.Len()/inSize, func(i int, mat *anyvec.Matrix) {
		mapper.Map(in.Slice(inSize*i, inSize*(i+1)), mat.Data)
		f(i, mat)
	})
}

// CallAll is like MapAll, except it doesn't perform the
// mapping itself.
// The matrix may contain arbitrary junk when it is passed
// to f.
func (m *Im2Row) CallAll(c anyvec.Creator, n int, f func(int, *anyvec.Matrix)) {
	imageMat := m.MakeOut(c)
	for i := 0; i < n; i++ {
		f(i, imageMat)
	}
}

// Mapper returns a mapper for the mapping.
func (m *Im2Row) Mapper(c anyvec.Creator) anyvec.Mapper {
	if m.mapper != nil && m.mapper.Creator() == c {
		return m.mapper
	}
	var mapping []int
	for y := 0; y+m.WindowHeight <= m.InputHeight; y += m.StrideY {
		for x := 0; x+m.WindowWidth <= m.InputWidth; x += m.StrideX {
			for subY := 0; subY < m.WindowHeight; subY++ {
				rowIdx := (y + subY) * m.InputWidth * m.InputDepth
				for subX := 0; subX < m.WindowWidth; subX++ {
					colIdx := rowIdx + (subX+x)*m.InputDepth
					for z := 0; z < m.InputDepth; z++ {
						mapping = append(mapping, colIdx+z)
					}
				}
			}
		}
	}
	m.mapper = c.MakeMapper(m.InputSize(), mapping)
	return m.mapper
}

func windowCount(input, window, stride int) int {
	if input < window {
		return 0
	}
	return 1 + (input-window)/stride
}
