package nn

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

// rowMomentRes averages the rows of a row-major matrix,
// optionally squaring every entry first.
type rowMomentRes struct {
	In     anydiff.Res
	Square bool
	Scaler anyvec.Numeric
	Out    anyvec.Vector
}

// negMeanRows computes the negative of the mean of the
// rows in a row-major matrix.
func negMeanRows(in anydiff.Res, cols int) anydiff.Res {
	return newRowMoment(in, cols, false, -1)
}

// meanSquare is like negMeanRows, but it squares the
// entries and does not negate the result.
func meanSquare(in anydiff.Res, cols int) anydiff.Res {
	return newRowMoment(in, cols, true, 1)
}

func newRowMoment(in anydiff.Res, cols int, square bool, sign float64) *rowMomentRes {
	if in.Output().Len()%cols != 0 {
		panic("column count must divide input size")
	}
	rows := in.Output().Len() / cols
	c := in.Output().Creator()
	scaler := c.MakeNumeric(sign / float64(rows))
	entries := in.Output().Copy()
	if square {
		entries.Mul(in.Output())
	}
	out := anyvec.SumRows(entries, cols)
	out.Scale(scaler)
	return &rowMomentRes{In: in, Square: square, Scaler: scaler, Out: out}
}

func (r *rowMomentRes) Output() anyvec.Vector {
	return r.Out
}

func (r *rowMomentRes) Vars() anydiff.VarSet {
	return r.In.Vars()
}

func (r *rowMomentRes) Propagate(u anyvec.Vector, g anydiff.Grad) {
	u.Scale(r.Scaler)
	if r.Square {
		u.Scale(u.Creator().MakeNumeric(2))
	} else if v, ok := r.In.(*anydiff.Var); ok {
		if downstream, ok := g[v]; ok {
			anyvec.AddRepeated(downstream, u)
		}
		return
	}
	downstream := u.Creator().MakeVector(r.In.Output().Len())
	anyvec.AddRepeated(downstream, u)
	if r.Square {
		downstream.Mul(r.In.Output())
	}
	r.In.Propagate(downstream, g)
}
