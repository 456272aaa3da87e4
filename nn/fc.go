package nn

import (
	"fmt"
	"math"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvecsave"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

func init() {
	var f FC
	serializer.RegisterTypedDeserializer(f.SerializerType(), DeserializeFC)
}

// FC is a fully-connected layer.
//
// Weights is an OutCount x InCount matrix stored row-major,
// so a batch of row vectors x maps to x*W^T + b.
type FC struct {
	InCount  int
	OutCount int
	Weights  *anydiff.Var
	Biases   *anydiff.Var
}

// DeserializeFC deserializes an FC.
func DeserializeFC(d []byte) (f *FC, err error) {
	defer essentials.AddCtxTo("deserialize FC", &err)
	var in, out serializer.Int
	var weights, biases *anyvecsave.S
	if err := serializer.DeserializeAny(d, &in, &out, &weights, &biases); err != nil {
		return nil, err
	}
	if weights.Vector.Len() != int(in*out) || biases.Vector.Len() != int(out) {
		return nil, fmt.Errorf("parameters do not match %dx%d layer", out, in)
	}
	return &FC{
		InCount:  int(in),
		OutCount: int(out),
		Weights:  anydiff.NewVar(weights.Vector),
		Biases:   anydiff.NewVar(biases.Vector),
	}, nil
}

// NewFC creates an FC for inputs of unit variance.
// Weights have variance 1/in so that outputs have unit
// variance too.
func NewFC(c anyvec.Creator, in, out int) *FC {
	return NewFCStddev(c, in, out, 1/math.Sqrt(float64(in)))
}

// NewFCStddev creates an FC with zero biases and normal
// weights of the given standard deviation.
//
// With a tiny stddev the layer starts out close to the
// zero map.
func NewFCStddev(c anyvec.Creator, in, out int, stddev float64) *FC {
	weights := c.MakeVector(in * out)
	if stddev != 0 {
		anyvec.Rand(weights, anyvec.Normal, nil)
		weights.Scale(c.MakeNumeric(stddev))
	}
	return &FC{
		InCount:  in,
		OutCount: out,
		Weights:  anydiff.NewVar(weights),
		Biases:   anydiff.NewVar(c.MakeVector(out)),
	}
}

// Apply maps n rows of InCount values to n rows of
// OutCount values.
func (f *FC) Apply(in anydiff.Res, n int, mode Mode) anydiff.Res {
	if got := in.Output().Len(); got != n*f.InCount {
		panic(fmt.Sprintf("%v: input length should be %d, but got %d", f, n*f.InCount, got))
	}
	if n == 0 {
		return anydiff.NewConst(in.Output().Creator().MakeVector(0))
	}
	rows := &anydiff.Matrix{Data: in, Rows: n, Cols: f.InCount}
	weights := &anydiff.Matrix{Data: f.Weights, Rows: f.OutCount, Cols: f.InCount}
	return anydiff.AddRepeated(anydiff.MatMul(false, true, rows, weights).Data, f.Biases)
}

// Parameters returns the weights followed by the biases.
func (f *FC) Parameters() []*anydiff.Var {
	return []*anydiff.Var{f.Weights, f.Biases}
}

func (f *FC) String() string {
	return fmt.Sprintf("FC(%d -> %d)", f.InCount, f.OutCount)
}

// SerializerType returns the unique ID used to serialize
// an FC with the serializer package.
func (f *FC) SerializerType() string {
	return "github.com/unixpickle/vitae/nn.FC"
}

// Serialize serializes the FC.
func (f *FC) Serialize() ([]byte, error) {
	return serializer.SerializeAny(
		serializer.Int(f.InCount),
		serializer.Int(f.OutCount),
		&anyvecsave.S{Vector: f.Weights.Vector},
		&anyvecsave.S{Vector: f.Biases.Vector},
	)
}
