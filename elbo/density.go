package elbo

import (
	"fmt"
	"math"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/vitae/nn"
)

// ProbEpsilon bounds Bernoulli probabilities away from 0
// and 1 before taking logarithms.
const ProbEpsilon = 1e-6

// Density is the observation model of the decoder.
type Density int

const (
	// Bernoulli treats every pixel as an independent
	// binary variable with the reconstruction as its mean.
	Bernoulli Density = iota

	// Gaussian treats every pixel as a unit-variance
	// normal variable centered on the reconstruction.
	Gaussian
)

// ParseDensity parses "bernoulli" or "gaussian".
func ParseDensity(s string) (Density, error) {
	switch s {
	case "bernoulli":
		return Bernoulli, nil
	case "gaussian":
		return Gaussian, nil
	default:
		return 0, fmt.Errorf("unknown density: %q", s)
	}
}

func (d Density) String() string {
	switch d {
	case Bernoulli:
		return "bernoulli"
	case Gaussian:
		return "gaussian"
	default:
		return fmt.Sprintf("Density(%d)", int(d))
	}
}

// NLL computes the negative log-likelihood of the data
// under every reconstruction.
//
// The data holds n rows and recon holds samples*n rows;
// reconstruction row s*n+i is scored against data row i.
// The result has one entry per reconstruction row.
func NLL(d Density, data anyvec.Vector, recon anydiff.Res, n, samples int) anydiff.Res {
	if n == 0 || samples == 0 {
		return anydiff.NewConst(recon.Output().Creator().MakeVector(0))
	}
	if data.Len()*samples != recon.Output().Len() || data.Len()%n != 0 {
		panic(fmt.Sprintf("data length %d incompatible with reconstruction length %d",
			data.Len(), recon.Output().Len()))
	}
	cols := data.Len() / n
	switch d {
	case Bernoulli:
		return newBernoulliNLL(nn.Float64s(data), recon, cols)
	case Gaussian:
		return gaussianNLL(tile(data, samples), recon, n*samples, cols)
	default:
		panic(fmt.Sprintf("unknown density: %d", d))
	}
}

func gaussianNLL(data anyvec.Vector, recon anydiff.Res, rows, cols int) anydiff.Res {
	c := data.Creator()
	diff := anydiff.Sub(recon, anydiff.NewConst(data))
	sq := anydiff.SumCols(&anydiff.Matrix{
		Data: anydiff.Square(diff),
		Rows: rows,
		Cols: cols,
	})
	return anydiff.AddScalar(
		anydiff.Scale(sq, c.MakeNumeric(0.5)),
		c.MakeNumeric(0.5*float64(cols)*math.Log(2*math.Pi)),
	)
}

func tile(v anyvec.Vector, times int) anyvec.Vector {
	if times == 1 {
		return v
	}
	vs := make([]anyvec.Vector, times)
	for i := range vs {
		vs[i] = v
	}
	return v.Creator().Concat(vs...)
}

type bernoulliNLLRes struct {
	Data  []float64
	Recon anydiff.Res
	Probs []float64
	Cols  int
	Out   anyvec.Vector
}

func newBernoulliNLL(data []float64, recon anydiff.Res, cols int) *bernoulliNLLRes {
	probs := nn.Float64s(recon.Output())
	out := make([]float64, len(probs)/cols)
	for i, p := range probs {
		x := data[i%len(data)]
		p = math.Min(math.Max(p, ProbEpsilon), 1-ProbEpsilon)
		out[i/cols] -= x*math.Log(p) + (1-x)*math.Log(1-p)
	}
	return &bernoulliNLLRes{
		Data:  data,
		Recon: recon,
		Probs: probs,
		Cols:  cols,
		Out:   nn.MakeVector(recon.Output().Creator(), out),
	}
}

func (b *bernoulliNLLRes) Output() anyvec.Vector {
	return b.Out
}

func (b *bernoulliNLLRes) Vars() anydiff.VarSet {
	return b.Recon.Vars()
}

func (b *bernoulliNLLRes) Propagate(u anyvec.Vector, g anydiff.Grad) {
	if !g.Intersects(b.Recon.Vars()) {
		return
	}
	upstream := nn.Float64s(u)
	down := make([]float64, len(b.Probs))
	for i, p := range b.Probs {
		if p <= ProbEpsilon || p >= 1-ProbEpsilon {
			continue
		}
		x := b.Data[i%len(b.Data)]
		down[i] = upstream[i/b.Cols] * ((1-x)/(1-p) - x/p)
	}
	b.Recon.Propagate(nn.MakeVector(u.Creator(), down), g)
}
