package nn

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

// Shared lets a computation consume intermediate results
// many times while propagating through each of them once.
//
// It generalizes anydiff.Pool to computations with more
// than one output: Use replaces a result with a
// placeholder, and Wrap turns any result computed from the
// placeholders into one whose gradients reach the
// original sources.
//
// A nil *Shared performs no pooling.
type Shared struct {
	sources []anydiff.Res
	holders []*anydiff.Var
}

// Use returns a placeholder for r.
func (s *Shared) Use(r anydiff.Res) anydiff.Res {
	if s == nil {
		return r
	}
	holder := anydiff.NewVar(r.Output())
	s.sources = append(s.sources, r)
	s.holders = append(s.holders, holder)
	return holder
}

// Wrap makes r differentiable with respect to the sources
// of every placeholder created so far.
func (s *Shared) Wrap(r anydiff.Res) anydiff.Res {
	if s == nil || len(s.sources) == 0 {
		return r
	}
	sets := []anydiff.VarSet{r.Vars()}
	for _, src := range s.sources {
		sets = append(sets, src.Vars())
	}
	return &sharedRes{
		Res:     r,
		Sources: append([]anydiff.Res{}, s.sources...),
		Holders: append([]*anydiff.Var{}, s.holders...),
		V:       anydiff.MergeVarSets(sets...),
	}
}

type sharedRes struct {
	Res     anydiff.Res
	Sources []anydiff.Res
	Holders []*anydiff.Var
	V       anydiff.VarSet
}

func (s *sharedRes) Output() anyvec.Vector {
	return s.Res.Output()
}

func (s *sharedRes) Vars() anydiff.VarSet {
	return s.V
}

func (s *sharedRes) Propagate(u anyvec.Vector, g anydiff.Grad) {
	// Sources may consume earlier placeholders, so
	// placeholders are enabled in creation order and
	// flushed in reverse.
	needed := make([]bool, len(s.Holders))
	for i, h := range s.Holders {
		if g.Intersects(s.Sources[i].Vars()) {
			needed[i] = true
			g[h] = h.Vector.Creator().MakeVector(h.Vector.Len())
		}
	}
	s.Res.Propagate(u, g)
	for i := len(s.Holders) - 1; i >= 0; i-- {
		if !needed[i] {
			continue
		}
		h := s.Holders[i]
		down := g[h]
		delete(g, h)
		s.Sources[i].Propagate(down, g)
	}
}
