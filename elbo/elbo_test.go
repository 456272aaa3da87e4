package elbo

import (
	"math"
	"math/rand"
	"testing"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anydiff/anydifftest"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvec64"
	"github.com/unixpickle/vitae/nn"
)

func TestWarmup(t *testing.T) {
	cases := []struct {
		epoch, warmup int
		expected      float64
	}{
		{0, 500, 0},
		{250, 500, 0.5},
		{500, 500, 1},
		{1000, 500, 1},
		{-3, 10, 0},
		{0, 0, 1},
		{1, 0, 1},
		{7, -5, 1},
	}
	for _, c := range cases {
		if actual := Warmup(c.epoch, c.warmup); actual != c.expected {
			t.Errorf("Warmup(%d, %d) = %f, expected %f", c.epoch, c.warmup, actual,
				c.expected)
		}
	}
	for _, warmup := range []int{-1, 0, 1, 3, 100} {
		last := Warmup(0, warmup)
		for epoch := 1; epoch < 300; epoch++ {
			w := Warmup(epoch, warmup)
			if w < last || w < 0 || w > 1 {
				t.Fatalf("warmup %d: weight %f at epoch %d after %f", warmup, w, epoch, last)
			}
			last = w
		}
		if last != 1 {
			t.Errorf("warmup %d: final weight should be 1 but got %f", warmup, last)
		}
	}
}

func TestParseDensity(t *testing.T) {
	for _, d := range []Density{Bernoulli, Gaussian} {
		parsed, err := ParseDensity(d.String())
		if err != nil || parsed != d {
			t.Errorf("%s: got %v, %v", d, parsed, err)
		}
	}
	if _, err := ParseDensity("poisson"); err == nil {
		t.Error("expected error")
	}
}

func TestBernoulliNLL(t *testing.T) {
	data := anyvec64.MakeVectorData([]float64{1, 0, 1, 0.5})
	recon := anyvec64.MakeVectorData([]float64{0.9, 0.2, 0.5, 0.5, 0, 0.2, 1, 0.5})
	actual := nn.Float64s(NLL(Bernoulli, data, anydiff.NewConst(recon), 2, 2).Output())
	eps := ProbEpsilon
	expected := []float64{
		-math.Log(0.9) - math.Log(0.8),
		-math.Log(0.5) - math.Log(0.5),
		-math.Log(eps) - math.Log(0.8),
		-math.Log(1-eps) - math.Log(0.5),
	}
	for i, x := range expected {
		if math.Abs(actual[i]-x) > 1e-9 {
			t.Fatalf("expected %v but got %v", expected, actual)
		}
	}
}

func TestGaussianNLL(t *testing.T) {
	data := anyvec64.MakeVectorData([]float64{1, 2})
	recon := anyvec64.MakeVectorData([]float64{1, 2, 0, 4})
	actual := nn.Float64s(NLL(Gaussian, data, anydiff.NewConst(recon), 1, 2).Output())
	norm := math.Log(2 * math.Pi)
	expected := []float64{norm, 0.5*(1+4) + norm}
	for i, x := range expected {
		if math.Abs(actual[i]-x) > 1e-9 {
			t.Fatalf("expected %v but got %v", expected, actual)
		}
	}
}

func TestNLLProp(t *testing.T) {
	data := anyvec64.MakeVector(12)
	anyvec.Rand(data, anyvec.Uniform, nil)
	for _, d := range []Density{Bernoulli, Gaussian} {
		recon := anyvec64.MakeVector(24)
		anyvec.Rand(recon, anyvec.Uniform, nil)
		recon.Scale(0.8)
		recon.AddScalar(0.1)
		reconVar := anydiff.NewVar(recon)
		checker := anydifftest.ResChecker{
			F: func() anydiff.Res {
				return NLL(d, data, reconVar, 3, 2)
			},
			V: []*anydiff.Var{reconVar},
		}
		checker.FullCheck(t)
	}
}

func TestKL(t *testing.T) {
	mu := anyvec64.MakeVectorData([]float64{0, 0, 1, -2})
	logvar := anyvec64.MakeVectorData([]float64{0, 0, math.Log(2), 0})
	actual := nn.Float64s(KL(anydiff.NewConst(mu), anydiff.NewConst(logvar), 2).Output())
	expected := []float64{0, -0.5 * ((1 + math.Log(2) - 1 - 2) + (1 - 4 - 1))}
	for i, x := range expected {
		if math.Abs(actual[i]-x) > 1e-9 {
			t.Fatalf("expected %v but got %v", expected, actual)
		}
	}
}

func TestKLClamp(t *testing.T) {
	mu := anyvec64.MakeVector(2)
	logvar := anyvec64.MakeVectorData([]float64{1000, -1000})
	out := nn.Float64s(KL(anydiff.NewConst(mu), anydiff.NewConst(logvar), 1).Output())
	if math.IsNaN(out[0]) || math.IsInf(out[0], 0) {
		t.Fatalf("non-finite KL %f", out[0])
	}
	expected := -0.5 * ((1 + LogVarBound - math.Exp(LogVarBound)) +
		(1 - LogVarBound - math.Exp(-LogVarBound)))
	if math.Abs(out[0]-expected)/expected > 1e-12 {
		t.Errorf("expected %f but got %f", expected, out[0])
	}
}

func TestKLProp(t *testing.T) {
	mu := anydiff.NewVar(anyvec64.MakeVector(12))
	logvar := anydiff.NewVar(anyvec64.MakeVector(12))
	anyvec.Rand(mu.Vector, anyvec.Normal, nil)
	anyvec.Rand(logvar.Vector, anyvec.Normal, nil)
	checker := anydifftest.ResChecker{
		F: func() anydiff.Res {
			return KL(mu, logvar, 4)
		},
		V: []*anydiff.Var{mu, logvar},
	}
	checker.FullCheck(t)
}

func TestClampProp(t *testing.T) {
	in := anydiff.NewVar(anyvec64.MakeVectorData([]float64{-3, -0.5, 0.2, 2.5, 0.9}))
	checker := anydifftest.ResChecker{
		F: func() anydiff.Res {
			return Clamp(in, -1, 1)
		},
		V: []*anydiff.Var{in},
	}
	checker.FullCheck(t)
}

func TestLogMeanExp(t *testing.T) {
	in := anyvec64.MakeVectorData([]float64{1, -1000, 3, -1000, 5, 0})
	actual := nn.Float64s(LogMeanExp(anydiff.NewConst(in), 2, 3).Output())
	expected := []float64{
		math.Log((math.Exp(1) + math.Exp(3) + math.Exp(5)) / 3),
		math.Log(1.0 / 3),
	}
	for i, x := range expected {
		if math.Abs(actual[i]-x) > 1e-9 {
			t.Fatalf("expected %v but got %v", expected, actual)
		}
	}

	// Jensen: the log of the mean dominates the mean of
	// the logs.
	rng := rand.New(rand.NewSource(1))
	data := make([]float64, 40)
	for i := range data {
		data[i] = rng.NormFloat64() * 3
	}
	lme := nn.Float64s(LogMeanExp(anydiff.NewConst(anyvec64.MakeVectorData(data)), 5, 8).Output())
	for g := 0; g < 5; g++ {
		var mean float64
		for s := 0; s < 8; s++ {
			mean += data[s*5+g] / 8
		}
		if lme[g] < mean {
			t.Errorf("group %d: log-mean-exp %f below mean %f", g, lme[g], mean)
		}
	}
}

func TestLogMeanExpSingle(t *testing.T) {
	in := anydiff.NewConst(anyvec64.MakeVectorData([]float64{1, 2, 3}))
	if LogMeanExp(in, 3, 1) != in {
		t.Error("a single sample should pass through unchanged")
	}
}

func TestLogMeanExpProp(t *testing.T) {
	in := anydiff.NewVar(anyvec64.MakeVector(15))
	anyvec.Rand(in.Vector, anyvec.Normal, nil)
	checker := anydifftest.ResChecker{
		F: func() anydiff.Res {
			return LogMeanExp(in, 3, 5)
		},
		V: []*anydiff.Var{in},
	}
	checker.FullCheck(t)
}

func TestELBOSingleSample(t *testing.T) {
	in := randomInput(3, 4, 2, 1, 1)
	in.Weight = 0.3
	loss, err := ELBO(in)
	if err != nil {
		t.Fatal(err)
	}
	nll := nn.Float64s(NLL(in.Density, in.Data, in.Recon, 3, 1).Output())
	kl1 := nn.Float64s(KL(in.ContentMean, in.ContentLogVar, 3).Output())
	kl2 := nn.Float64s(KL(in.TransformMean, in.TransformLogVar, 3).Output())
	var expected float64
	for i := range nll {
		expected += nll[i] + 0.3*(kl1[i]+kl2[i])
	}
	actual := nn.Float64s(loss.Total.Output())[0]
	if math.Abs(actual-expected) > 1e-9 {
		t.Errorf("expected %f but got %f", expected, actual)
	}
	if math.Abs(loss.Recon+0.3*(loss.KL1+loss.KL2)-expected) > 1e-9 {
		t.Error("loss components do not add up")
	}
}

func TestELBOImportanceWeighted(t *testing.T) {
	in := randomInput(2, 4, 2, 2, 3)
	in.Weight = 1
	loss, err := ELBO(in)
	if err != nil {
		t.Fatal(err)
	}
	// The importance-weighted bound is at least as tight
	// as the average single-sample bound.
	singleBound := loss.Recon + loss.KL1 + loss.KL2
	if actual := nn.Float64s(loss.Total.Output())[0]; actual > singleBound+1e-9 {
		t.Errorf("importance-weighted loss %f exceeds single-sample loss %f", actual,
			singleBound)
	}
}

func TestELBOProp(t *testing.T) {
	in := randomInput(2, 4, 3, 2, 2)
	in.Weight = 0.7
	vars := []*anydiff.Var{
		in.Recon.(*anydiff.Var),
		in.ContentMean.(*anydiff.Var), in.ContentLogVar.(*anydiff.Var),
		in.TransformMean.(*anydiff.Var), in.TransformLogVar.(*anydiff.Var),
	}
	checker := anydifftest.ResChecker{
		F: func() anydiff.Res {
			loss, err := ELBO(in)
			if err != nil {
				t.Fatal(err)
			}
			return loss.Total
		},
		V: vars,
	}
	checker.FullCheck(t)
}

func TestELBOErrors(t *testing.T) {
	in := randomInput(2, 4, 3, 1, 1)
	in.EqSamples = 2
	if _, err := ELBO(in); err == nil {
		t.Error("expected error for mismatched sample count")
	}
	in = randomInput(2, 4, 3, 1, 1)
	in.IWSamples = 0
	if _, err := ELBO(in); err == nil {
		t.Error("expected error for zero samples")
	}
}

func randomInput(n, cols, latent, eq, iw int) *Input {
	samples := eq * iw
	data := anyvec64.MakeVector(n * cols)
	anyvec.Rand(data, anyvec.Uniform, nil)
	recon := anyvec64.MakeVector(samples * n * cols)
	anyvec.Rand(recon, anyvec.Uniform, nil)
	recon.Scale(0.8)
	recon.AddScalar(0.1)
	randVar := func(size int) *anydiff.Var {
		v := anyvec64.MakeVector(size)
		anyvec.Rand(v, anyvec.Normal, nil)
		return anydiff.NewVar(v)
	}
	return &Input{
		Density:         Bernoulli,
		Data:            data,
		Recon:           anydiff.NewVar(recon),
		ContentMean:     randVar(samples * n * latent),
		ContentLogVar:   randVar(samples * n * latent),
		TransformMean:   randVar(n * latent),
		TransformLogVar: randVar(n * latent),
		N:               n,
		EqSamples:       eq,
		IWSamples:       iw,
	}
}
