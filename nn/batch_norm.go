package nn

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvecsave"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

const defaultBNStabilizer = 1e-3

func init() {
	var b BatchNorm
	serializer.RegisterTypedDeserializer(b.SerializerType(), DeserializeBatchNorm)
}

// BatchNorm is a batch normalization layer.
//
// In Training mode, inputs are normalized with the
// statistics of the current batch.
// In Evaluation mode, the population statistics in Mean
// and Variance are used if they have been set (see
// BeginCalibration); otherwise batch statistics are used
// there as well.
type BatchNorm struct {
	// InputCount indicates how many components to normalize.
	//
	// For use after a fully-connected layer, this should be
	// the total number of output neurons.
	// For use after a convolutional layer, this should be
	// the number of filters.
	InputCount int

	// Post-normalization affine transform.
	Scalers *anydiff.Var
	Biases  *anydiff.Var

	// Stabilizer prevents numerical instability by adding a
	// small constant to variances to keep them from being 0.
	//
	// If it is 0, a default is used.
	Stabilizer float64

	// Population statistics, or nil if the layer has not
	// been calibrated.
	Mean     anyvec.Vector
	Variance anyvec.Vector

	collector *moments
}

// DeserializeBatchNorm deserializes a BatchNorm.
func DeserializeBatchNorm(d []byte) (*BatchNorm, error) {
	var s, b, mean, variance *anyvecsave.S
	var stab serializer.Float64
	if err := serializer.DeserializeAny(d, &s, &b, &stab, &mean, &variance); err != nil {
		return nil, essentials.AddCtx("deserialize BatchNorm", err)
	}
	res := &BatchNorm{
		InputCount: s.Vector.Len(),
		Scalers:    anydiff.NewVar(s.Vector),
		Biases:     anydiff.NewVar(b.Vector),
		Stabilizer: float64(stab),
	}
	if mean.Vector.Len() == res.InputCount && variance.Vector.Len() == res.InputCount {
		res.Mean = mean.Vector
		res.Variance = variance.Vector
	}
	return res, nil
}

// NewBatchNorm creates a BatchNorm with an input size.
func NewBatchNorm(c anyvec.Creator, inCount int) *BatchNorm {
	oneScaler := c.MakeVector(inCount)
	oneScaler.AddScalar(c.MakeNumeric(1))
	return &BatchNorm{
		InputCount: inCount,
		Scalers:    anydiff.NewVar(oneScaler),
		Biases:     anydiff.NewVar(c.MakeVector(inCount)),
	}
}

// Apply applies the layer to some inputs.
func (b *BatchNorm) Apply(in anydiff.Res, batch int, mode Mode) anydiff.Res {
	if in.Output().Len()%b.InputCount != 0 {
		panic("invalid input size")
	}
	if in.Output().Len() == 0 {
		return in
	}
	if b.collector != nil {
		b.collector.Add(in.Output())
	}
	if mode == Evaluation && b.Mean != nil {
		return b.applyFrozen(in)
	}
	return anydiff.Pool(in, func(in anydiff.Res) anydiff.Res {
		c := in.Output().Creator()

		negMean := negMeanRows(in, b.InputCount)
		secondMoment := meanSquare(in, b.InputCount)
		variance := anydiff.Sub(secondMoment, anydiff.Square(negMean))

		variance = anydiff.AddScalar(variance, c.MakeNumeric(b.stabilizer()))
		normalizer := anydiff.Pow(variance, c.MakeNumeric(-0.5))

		totalScaler := anydiff.Mul(b.Scalers, normalizer)
		return anydiff.Pool(totalScaler, func(totalScaler anydiff.Res) anydiff.Res {
			return anydiff.ScaleAddRepeated(
				in,
				totalScaler,
				anydiff.Add(b.Biases, anydiff.Mul(negMean, totalScaler)),
			)
		})
	})
}

func (b *BatchNorm) applyFrozen(in anydiff.Res) anydiff.Res {
	c := in.Output().Creator()
	normalizer := b.Variance.Copy()
	normalizer.AddScalar(c.MakeNumeric(b.stabilizer()))
	anyvec.Pow(normalizer, c.MakeNumeric(-0.5))
	negMean := b.Mean.Copy()
	negMean.Scale(c.MakeNumeric(-1))

	totalScaler := anydiff.Mul(b.Scalers, anydiff.NewConst(normalizer))
	return anydiff.Pool(totalScaler, func(totalScaler anydiff.Res) anydiff.Res {
		return anydiff.ScaleAddRepeated(
			in,
			totalScaler,
			anydiff.Add(b.Biases, anydiff.Mul(anydiff.NewConst(negMean), totalScaler)),
		)
	})
}

// Parameters returns a slice containing the scales and
// biases, in that order.
func (b *BatchNorm) Parameters() []*anydiff.Var {
	return []*anydiff.Var{b.Scalers, b.Biases}
}

// SerializerType returns the unique ID used to serialize
// a BatchNorm with the serializer package.
func (b *BatchNorm) SerializerType() string {
	return "github.com/unixpickle/vitae/nn.BatchNorm"
}

// Serialize serializes the layer.
func (b *BatchNorm) Serialize() ([]byte, error) {
	mean, variance := b.Mean, b.Variance
	if mean == nil || variance == nil {
		c := b.Scalers.Vector.Creator()
		mean, variance = c.MakeVector(0), c.MakeVector(0)
	}
	return serializer.SerializeAny(
		&anyvecsave.S{Vector: b.Scalers.Vector},
		&anyvecsave.S{Vector: b.Biases.Vector},
		serializer.Float64(b.Stabilizer),
		&anyvecsave.S{Vector: mean},
		&anyvecsave.S{Vector: variance},
	)
}

func (b *BatchNorm) stabilizer() float64 {
	if b.Stabilizer == 0 {
		return defaultBNStabilizer
	} else {
		return b.Stabilizer
	}
}
