package elbo

import (
	"fmt"
	"math"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/vitae/nn"
)

// LogVarBound is the magnitude to which log-variances are
// clamped before being exponentiated.
const LogVarBound = 20

// KL computes, for each of n rows, the KL divergence
// between the diagonal Gaussian posterior (mu, logvar)
// and a standard normal prior.
func KL(mu, logvar anydiff.Res, n int) anydiff.Res {
	if mu.Output().Len() != logvar.Output().Len() {
		panic("mean and log-variance lengths differ")
	}
	if n == 0 {
		return anydiff.NewConst(mu.Output().Creator().MakeVector(0))
	}
	if mu.Output().Len()%n != 0 {
		panic(fmt.Sprintf("batch size %d does not divide %d", n, mu.Output().Len()))
	}
	c := mu.Output().Creator()
	return anydiff.Pool(ClampLogVar(logvar), func(lv anydiff.Res) anydiff.Res {
		// 1 + lv - mu^2 - e^lv
		inner := anydiff.Sub(
			anydiff.Sub(anydiff.AddScalar(lv, c.MakeNumeric(1)), anydiff.Square(mu)),
			anydiff.Exp(lv),
		)
		sums := anydiff.SumCols(&anydiff.Matrix{
			Data: inner,
			Rows: n,
			Cols: mu.Output().Len() / n,
		})
		return anydiff.Scale(sums, c.MakeNumeric(-0.5))
	})
}

// ClampLogVar clamps log-variances to
// [-LogVarBound, LogVarBound].
func ClampLogVar(logvar anydiff.Res) anydiff.Res {
	return Clamp(logvar, -LogVarBound, LogVarBound)
}

// Clamp limits every component of a vector to [lo, hi].
// Gradients do not flow through clamped components.
func Clamp(in anydiff.Res, lo, hi float64) anydiff.Res {
	data := nn.Float64s(in.Output())
	var clamped bool
	for i, x := range data {
		if x < lo || x > hi {
			data[i] = math.Min(math.Max(x, lo), hi)
			clamped = true
		}
	}
	if !clamped {
		return in
	}
	return &clampRes{
		In:  in,
		Lo:  lo,
		Hi:  hi,
		Out: nn.MakeVector(in.Output().Creator(), data),
	}
}

type clampRes struct {
	In  anydiff.Res
	Lo  float64
	Hi  float64
	Out anyvec.Vector
}

func (c *clampRes) Output() anyvec.Vector {
	return c.Out
}

func (c *clampRes) Vars() anydiff.VarSet {
	return c.In.Vars()
}

func (c *clampRes) Propagate(u anyvec.Vector, g anydiff.Grad) {
	if !g.Intersects(c.In.Vars()) {
		return
	}
	mask := nn.Float64s(c.In.Output())
	for i, x := range mask {
		if x < c.Lo || x > c.Hi {
			mask[i] = 0
		} else {
			mask[i] = 1
		}
	}
	u.Mul(nn.MakeVector(u.Creator(), mask))
	c.In.Propagate(u, g)
}
