// Package nn provides the layer primitives used to build
// the encoders and decoders of a VITAE model.
//
// Every layer is batched: the input to Apply packs a
// number of equally-long vectors back to back.
package nn

import (
	"fmt"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

func init() {
	var n Net
	serializer.RegisterTypedDeserializer(n.SerializerType(), DeserializeNet)
}

// Mode selects how stochastic or batch-dependent layers
// behave.
// It is passed explicitly to every Apply call instead of
// living as mutable state on the layers.
type Mode int

const (
	// Training uses batch statistics in normalization
	// layers and draws reparameterization noise.
	Training Mode = iota

	// Evaluation uses frozen population statistics (when
	// available) and draws no noise.
	Evaluation
)

// String returns a human-readable name for the mode.
func (m Mode) String() string {
	switch m {
	case Training:
		return "training"
	case Evaluation:
		return "evaluation"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// A Parameterizer is anything with learnable variables.
//
// The parameters of a Parameterizer must be in the same
// order every time Parameters() is called.
type Parameterizer interface {
	Parameters() []*anydiff.Var
}

// A Layer is a composable computation unit for use in a
// neural network.
//
// The input's length must be divisible by the batch size,
// since the batch size indicates how many equally-long
// vectors are packed into the input vector.
type Layer interface {
	Apply(in anydiff.Res, batchSize int, mode Mode) anydiff.Res
}

// A Net evaluates a list of layers, one after another.
type Net []Layer

// DeserializeNet attempts to deserialize the network.
func DeserializeNet(d []byte) (Net, error) {
	slice, err := serializer.DeserializeSlice(d)
	if err != nil {
		return nil, essentials.AddCtx("deserialize Net", err)
	}
	res := make(Net, len(slice))
	for i, x := range slice {
		if layer, ok := x.(Layer); ok {
			res[i] = layer
		} else {
			return nil, fmt.Errorf("deserialize Net: not a Layer: %T", x)
		}
	}
	return res, nil
}

// Apply applies the network to a batch.
// If the network contains no layers, the input is
// returned as output.
func (n Net) Apply(in anydiff.Res, batchSize int, mode Mode) anydiff.Res {
	for _, l := range n {
		in = l.Apply(in, batchSize, mode)
	}
	return in
}

// Parameters returns the parameters of the network,
// ordered from the first layer onwards.
func (n Net) Parameters() []*anydiff.Var {
	var res []*anydiff.Var
	for _, x := range n {
		if p, ok := x.(Parameterizer); ok {
			res = append(res, p.Parameters()...)
		}
	}
	return res
}

// BatchNorms returns every BatchNorm layer in the network.
func (n Net) BatchNorms() []*BatchNorm {
	var res []*BatchNorm
	for _, x := range n {
		if b, ok := x.(*BatchNorm); ok {
			res = append(res, b)
		}
	}
	return res
}

// SerializerType returns the unique ID used to serialize
// a Net with the serializer package.
func (n Net) SerializerType() string {
	return "github.com/unixpickle/vitae/nn.Net"
}

// Serialize attempts to serialize the network.
// If any Layer is not a serializer.Serializer,
// this fails.
func (n Net) Serialize() ([]byte, error) {
	var slice []serializer.Serializer
	for _, x := range n {
		if s, ok := x.(serializer.Serializer); ok {
			slice = append(slice, s)
		} else {
			return nil, fmt.Errorf("not a Serializer: %T", x)
		}
	}
	return serializer.SerializeSlice(slice)
}
