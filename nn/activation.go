package nn

import (
	"fmt"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/serializer"
)

func init() {
	var a Activation
	serializer.RegisterTypedDeserializer(a.SerializerType(), DeserializeActivation)
}

// LeakySlope is the negative-side slope of LeakyReLU.
const LeakySlope = 0.01

// An Activation is a standard activation function.
type Activation int

// These are the supported activation functions.
const (
	Tanh Activation = iota
	Sigmoid
	LeakyReLU
)

// DeserializeActivation deserializes an Activation.
func DeserializeActivation(d []byte) (Activation, error) {
	if len(d) != 1 {
		return 0, fmt.Errorf("deserialize Activation: data length (%d) should be 1", len(d))
	}
	a := Activation(d[0])
	if a > LeakyReLU {
		return 0, fmt.Errorf("deserialize Activation: unknown activation ID: %d", a)
	}
	return a, nil
}

// Apply applies the activation function.
func (a Activation) Apply(in anydiff.Res, n int, mode Mode) anydiff.Res {
	switch a {
	case Tanh:
		return anydiff.Tanh(in)
	case Sigmoid:
		return anydiff.Sigmoid(in)
	case LeakyReLU:
		// max(x, s*x) = (1-s)*max(x, 0) + s*x for 0 < s < 1.
		return anydiff.Pool(in, func(in anydiff.Res) anydiff.Res {
			c := in.Output().Creator()
			return anydiff.Add(
				anydiff.Scale(anydiff.ClipPos(in), c.MakeNumeric(1-LeakySlope)),
				anydiff.Scale(in, c.MakeNumeric(LeakySlope)),
			)
		})
	default:
		panic(fmt.Sprintf("unknown activation: %d", a))
	}
}

// String returns the activation's name.
func (a Activation) String() string {
	switch a {
	case Tanh:
		return "Tanh"
	case Sigmoid:
		return "Sigmoid"
	case LeakyReLU:
		return "LeakyReLU"
	default:
		return fmt.Sprintf("Activation(%d)", int(a))
	}
}

// SerializerType returns the unique ID used to serialize
// an Activation.
func (a Activation) SerializerType() string {
	return "github.com/unixpickle/vitae/nn.Activation"
}

// Serialize serializes the activation.
func (a Activation) Serialize() ([]byte, error) {
	return []byte{byte(a)}, nil
}
