package nn

import (
	"fmt"

	"github.com/unixpickle/anyvec"
)

// Float64s copies a vector's contents into a new slice of
// float64 values.
func Float64s(v anyvec.Vector) []float64 {
	switch data := v.Data().(type) {
	case []float64:
		return append([]float64{}, data...)
	case []float32:
		res := make([]float64, len(data))
		for i, x := range data {
			res[i] = float64(x)
		}
		return res
	default:
		panic(fmt.Sprintf("unsupported numeric type: %T", data))
	}
}

// MakeVector creates a vector from float64 values.
func MakeVector(c anyvec.Creator, data []float64) anyvec.Vector {
	return c.MakeVectorData(c.MakeNumericList(data))
}
