package nn

import (
	"math"
	"reflect"
	"testing"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anydiff/anydifftest"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvec32"
	"github.com/unixpickle/serializer"
)

func TestBatchNormSerialize(t *testing.T) {
	layer := randomizedBatchNorm(4)
	data, err := serializer.SerializeAny(layer)
	if err != nil {
		t.Fatal(err)
	}
	var newLayer *BatchNorm
	if err := serializer.DeserializeAny(data, &newLayer); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(layer, newLayer) {
		t.Error("layers differ")
	}

	layer.Mean = anyvec32.MakeVectorData([]float32{1, 2, 3, 4})
	layer.Variance = anyvec32.MakeVectorData([]float32{0.5, 1, 2, 3})
	data, err = serializer.SerializeAny(layer)
	if err != nil {
		t.Fatal(err)
	}
	if err := serializer.DeserializeAny(data, &newLayer); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(layer, newLayer) {
		t.Error("calibrated layers differ")
	}
}

func TestBatchNormOutput(t *testing.T) {
	layer := &BatchNorm{
		InputCount: 2,
		Scalers:    anydiff.NewVar(anyvec32.MakeVectorData([]float32{2, -3})),
		Biases:     anydiff.NewVar(anyvec32.MakeVectorData([]float32{-1.5, 2})),
	}
	vec := anyvec32.MakeVectorData([]float32{
		-0.636299517987754, 1.381820934572628, 1.117062796520384,
		-1.032042307499387, -0.603144099627179, 0.937477768422949,
	})
	expected := []float32{
		-2.953427612694010, -0.723517206628873, 1.325934113323319,
		6.176822169129221, -2.872506500629310, 0.546695037499651,
	}
	for _, mode := range []Mode{Training, Evaluation} {
		actual := layer.Apply(anydiff.NewConst(vec), 1, mode).Output().Data().([]float32)
		for i, x := range expected {
			a := actual[i]
			if math.IsNaN(float64(a)) || math.Abs(float64(a-x)) > 1e-3 {
				t.Fatalf("%s: expected %v but got %v", mode, expected, actual)
			}
		}
	}
}

func TestBatchNormProp(t *testing.T) {
	layer := NewBatchNorm(anyvec32.CurrentCreator(), 2)
	input := anyvec32.MakeVector(24)
	anyvec.Rand(input, anyvec.Normal, nil)
	inVar := anydiff.NewVar(input)

	checker := anydifftest.ResChecker{
		F: func() anydiff.Res {
			return layer.Apply(inVar, 12, Training)
		},
		V: []*anydiff.Var{inVar, layer.Scalers, layer.Biases},
	}
	checker.FullCheck(t)
}

func TestBatchNormFrozenProp(t *testing.T) {
	layer := randomizedBatchNorm(3)
	layer.Mean = anyvec32.MakeVectorData([]float32{0.5, -1, 2})
	layer.Variance = anyvec32.MakeVectorData([]float32{1.5, 0.25, 3})
	input := anyvec32.MakeVector(12)
	anyvec.Rand(input, anyvec.Normal, nil)
	inVar := anydiff.NewVar(input)

	checker := anydifftest.ResChecker{
		F: func() anydiff.Res {
			return layer.Apply(inVar, 4, Evaluation)
		},
		V: []*anydiff.Var{inVar, layer.Scalers, layer.Biases},
	}
	checker.FullCheck(t)
}

func TestCalibration(t *testing.T) {
	layer := randomizedBatchNorm(3)
	input := anyvec32.MakeVector(30)
	anyvec.Rand(input, anyvec.Normal, nil)
	in := anydiff.NewConst(input)

	BeginCalibration([]*BatchNorm{layer})
	expected := Float64s(layer.Apply(in, 10, Evaluation).Output())
	if err := EndCalibration([]*BatchNorm{layer}); err != nil {
		t.Fatal(err)
	}
	if layer.Mean == nil || layer.Variance == nil {
		t.Fatal("missing population statistics")
	}

	// The population of a single batch is the batch itself.
	actual := Float64s(layer.Apply(in, 10, Evaluation).Output())
	for i, x := range expected {
		if math.Abs(actual[i]-x) > 1e-3 {
			t.Fatalf("expected %v but got %v", expected, actual)
		}
	}

	// Evaluation now ignores the batch.
	other := anyvec32.MakeVector(3)
	other.AddScalar(float32(5))
	out1 := Float64s(layer.Apply(anydiff.NewConst(other), 1, Evaluation).Output())
	out2 := Float64s(layer.Apply(anydiff.NewConst(other), 1, Training).Output())
	if reflect.DeepEqual(out1, out2) {
		t.Error("evaluation output should use population statistics")
	}
}

func TestCalibrationNoInputs(t *testing.T) {
	layer := randomizedBatchNorm(3)
	BeginCalibration([]*BatchNorm{layer})
	if err := EndCalibration([]*BatchNorm{layer}); err == nil {
		t.Error("expected an error")
	}
	if layer.Mean != nil {
		t.Error("unexpected statistics")
	}
}

func randomizedBatchNorm(n int) *BatchNorm {
	res := NewBatchNorm(anyvec32.CurrentCreator(), n)
	anyvec.Rand(res.Scalers.Vector, anyvec.Normal, nil)
	anyvec.Rand(res.Biases.Vector, anyvec.Normal, nil)
	return res
}
