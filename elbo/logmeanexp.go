package elbo

import (
	"fmt"
	"math"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/vitae/nn"
)

// LogMeanExp computes log(mean(exp(x))) over k samples for
// each of a number of groups.
//
// The input holds k*groups values, where the value for
// sample s of group i is at index s*groups+i.
// When k is 1 the input itself is returned.
func LogMeanExp(in anydiff.Res, groups, k int) anydiff.Res {
	if in.Output().Len() != groups*k {
		panic(fmt.Sprintf("input length %d should be %d", in.Output().Len(), groups*k))
	}
	if k == 1 {
		return in
	}
	data := nn.Float64s(in.Output())
	out := make([]float64, groups)
	weights := make([]float64, len(data))
	for i := range out {
		peak := math.Inf(-1)
		for s := 0; s < k; s++ {
			peak = math.Max(peak, data[s*groups+i])
		}
		var sum float64
		for s := 0; s < k; s++ {
			weights[s*groups+i] = math.Exp(data[s*groups+i] - peak)
			sum += weights[s*groups+i]
		}
		for s := 0; s < k; s++ {
			weights[s*groups+i] /= sum
		}
		out[i] = peak + math.Log(sum/float64(k))
	}
	return &logMeanExpRes{
		In:      in,
		Groups:  groups,
		Weights: weights,
		Out:     nn.MakeVector(in.Output().Creator(), out),
	}
}

type logMeanExpRes struct {
	In      anydiff.Res
	Groups  int
	Weights []float64
	Out     anyvec.Vector
}

func (l *logMeanExpRes) Output() anyvec.Vector {
	return l.Out
}

func (l *logMeanExpRes) Vars() anydiff.VarSet {
	return l.In.Vars()
}

func (l *logMeanExpRes) Propagate(u anyvec.Vector, g anydiff.Grad) {
	if !g.Intersects(l.In.Vars()) {
		return
	}
	upstream := nn.Float64s(u)
	down := make([]float64, len(l.Weights))
	for i, w := range l.Weights {
		down[i] = w * upstream[i%l.Groups]
	}
	l.In.Propagate(nn.MakeVector(u.Creator(), down), g)
}
