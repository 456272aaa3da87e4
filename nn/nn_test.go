package nn

import (
	"math"
	"reflect"
	"testing"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anydiff/anydifftest"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvec32"
	"github.com/unixpickle/anyvec/anyvec64"
	"github.com/unixpickle/anyvec/anyvecsave"
	"github.com/unixpickle/serializer"
)

func TestActivationSerialize(t *testing.T) {
	acts := []Activation{Tanh, Sigmoid, LeakyReLU}
	data, err := serializer.SerializeAny(acts[0], acts[1], acts[2])
	if err != nil {
		t.Fatal(err)
	}
	var newActs [3]Activation
	err = serializer.DeserializeAny(data, &newActs[0], &newActs[1], &newActs[2])
	if err != nil {
		t.Fatal(err)
	}
	for i, a := range acts {
		if newActs[i] != a {
			t.Errorf("%s failed", a)
		}
	}
}

func TestLeakyReLU(t *testing.T) {
	in := anyvec64.MakeVectorData([]float64{-2, -0.5, 0, 0.5, 3})
	actual := Float64s(LeakyReLU.Apply(anydiff.NewConst(in), 1, Training).Output())
	expected := []float64{-0.02, -0.005, 0, 0.5, 3}
	for i, x := range expected {
		if math.Abs(actual[i]-x) > 1e-9 {
			t.Fatalf("expected %v but got %v", expected, actual)
		}
	}
}

func TestLeakyReLUProp(t *testing.T) {
	input := anyvec64.MakeVectorData([]float64{-2, -0.5, 0.25, 0.5, 3, -1.5})
	inVar := anydiff.NewVar(input)
	checker := anydifftest.ResChecker{
		F: func() anydiff.Res {
			return LeakyReLU.Apply(inVar, 2, Training)
		},
		V: []*anydiff.Var{inVar},
	}
	checker.FullCheck(t)
}

func TestFCSerialize(t *testing.T) {
	fc := NewFC(anyvec32.DefaultCreator{}, 7, 5)
	data, err := serializer.SerializeAny(fc)
	if err != nil {
		t.Fatal(err)
	}
	var newFC *FC
	if err := serializer.DeserializeAny(data, &newFC); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(fc, newFC) {
		t.Fatal("incorrect result")
	}
}

func TestFCDeserializeMismatch(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	data, err := serializer.SerializeAny(serializer.Int(3), serializer.Int(2),
		&anyvecsave.S{Vector: c.MakeVector(5)}, &anyvecsave.S{Vector: c.MakeVector(2)})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := DeserializeFC(data); err == nil {
		t.Error("expected error")
	}
	if s := NewFC(c, 3, 2).String(); s != "FC(3 -> 2)" {
		t.Errorf("unexpected name %q", s)
	}
}

func TestFCStddev(t *testing.T) {
	fc := NewFCStddev(anyvec64.DefaultCreator{}, 512, 6, 1e-2)
	for _, x := range Float64s(fc.Biases.Vector) {
		if x != 0 {
			t.Fatal("biases should be zero")
		}
	}
	var sq float64
	weights := Float64s(fc.Weights.Vector)
	for _, x := range weights {
		sq += x * x
	}
	stddev := math.Sqrt(sq / float64(len(weights)))
	if stddev < 0.5e-2 || stddev > 2e-2 {
		t.Errorf("unexpected weight stddev %f", stddev)
	}
}

func TestFCEmptyBatch(t *testing.T) {
	fc := NewFC(anyvec64.DefaultCreator{}, 3, 2)
	out := fc.Apply(anydiff.NewConst(anyvec64.MakeVector(0)), 0, Evaluation)
	if out.Output().Len() != 0 {
		t.Errorf("unexpected output length %d", out.Output().Len())
	}
}

func TestNetSerialize(t *testing.T) {
	c := anyvec32.DefaultCreator{}
	net := Net{
		NewBatchNorm(c, 3),
		NewFC(c, 3, 4),
		LeakyReLU,
		NewFC(c, 4, 2),
		Sigmoid,
	}
	data, err := serializer.SerializeAny(net)
	if err != nil {
		t.Fatal(err)
	}
	var newNet Net
	if err := serializer.DeserializeAny(data, &newNet); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(net, newNet) {
		t.Fatal("networks differ")
	}
	if len(newNet.Parameters()) != 6 {
		t.Errorf("expected 6 parameters but got %d", len(newNet.Parameters()))
	}
	if len(newNet.BatchNorms()) != 1 {
		t.Error("expected one BatchNorm")
	}

	in := anyvec32.MakeVector(6)
	anyvec.Rand(in, anyvec.Normal, nil)
	out1 := net.Apply(anydiff.NewConst(in), 2, Training).Output()
	out2 := newNet.Apply(anydiff.NewConst(in), 2, Training).Output()
	if !reflect.DeepEqual(out1.Data(), out2.Data()) {
		t.Error("outputs differ")
	}
}
