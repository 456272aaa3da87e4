package train

import (
	"fmt"
	"math"
	"strings"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

const (
	adamDefaultDecayRate1 = 0.9
	adamDefaultDecayRate2 = 0.999
	adamDefaultDamping    = 1e-8

	rmspropDefaultDecayRate = 0.9
	rmspropDefaultDamping   = 1e-8

	defaultMomentum = 0.9
)

// A Transformer transforms gradients before a step.
//
// After its first call, a Transformer expects to see
// gradients containing the same variables.
// It may modify its input and return it.
type Transformer interface {
	Transform(g anydiff.Grad) anydiff.Grad
}

// OptimizerKind selects a gradient Transformer.
type OptimizerKind int

const (
	Adam OptimizerKind = iota
	RMSProp
	Momentum
)

// ParseOptimizer parses an optimizer name.
func ParseOptimizer(s string) (OptimizerKind, error) {
	switch strings.ToLower(s) {
	case "adam":
		return Adam, nil
	case "rmsprop":
		return RMSProp, nil
	case "momentum", "sgd":
		return Momentum, nil
	}
	return 0, fmt.Errorf("unknown optimizer: %s", s)
}

func (o OptimizerKind) String() string {
	switch o {
	case Adam:
		return "adam"
	case RMSProp:
		return "rmsprop"
	case Momentum:
		return "momentum"
	default:
		return fmt.Sprintf("OptimizerKind(%d)", int(o))
	}
}

// NewTransformer creates a Transformer with default
// hyper-parameters.
func (o OptimizerKind) NewTransformer() Transformer {
	switch o {
	case RMSProp:
		return &RMSPropTransformer{}
	case Momentum:
		return &MomentumTransformer{Momentum: defaultMomentum}
	default:
		return &AdamTransformer{}
	}
}

// AdamTransformer implements the adaptive moments
// technique described in https://arxiv.org/pdf/1412.6980.pdf.
type AdamTransformer struct {
	// Decay rates for the first and second moments of the
	// gradient. If these are 0, defaults from the paper are
	// used.
	DecayRate1, DecayRate2 float64

	// Damping prevents divisions by zero.
	// If it is 0, a default is used.
	Damping float64

	firstMoment  anydiff.Grad
	secondMoment anydiff.Grad
	iteration    float64
}

// Transform transforms the gradient.
//
// This is not thread-safe.
func (a *AdamTransformer) Transform(realGrad anydiff.Grad) anydiff.Grad {
	a.updateMoments(realGrad)

	a.iteration++
	scalingFactor := math.Sqrt(1-math.Pow(a.decayRate(2), a.iteration)) /
		(1 - math.Pow(a.decayRate(1), a.iteration))
	damping := valueOrDefault(a.Damping, adamDefaultDamping)
	for variable, vec := range realGrad {
		vec.Set(a.firstMoment[variable])
		vec.Scale(vec.Creator().MakeNumeric(scalingFactor))

		divisor := a.secondMoment[variable].Copy()
		anyvec.Pow(divisor, divisor.Creator().MakeNumeric(0.5))
		divisor.AddScalar(divisor.Creator().MakeNumeric(damping))
		vec.Div(divisor)
	}
	return realGrad
}

func (a *AdamTransformer) updateMoments(grad anydiff.Grad) {
	if a.firstMoment == nil {
		a.firstMoment = zeroGrad(grad)
		a.secondMoment = zeroGrad(grad)
	}
	rate1, rate2 := a.decayRate(1), a.decayRate(2)
	for variable, vec := range grad {
		first := a.firstMoment[variable]
		first.Scale(first.Creator().MakeNumeric(rate1))
		v := vec.Copy()
		v.Scale(v.Creator().MakeNumeric(1 - rate1))
		first.Add(v)

		second := a.secondMoment[variable]
		second.Scale(second.Creator().MakeNumeric(rate2))
		v = vec.Copy()
		anyvec.Pow(v, v.Creator().MakeNumeric(2))
		v.Scale(v.Creator().MakeNumeric(1 - rate2))
		second.Add(v)
	}
}

func (a *AdamTransformer) decayRate(moment int) float64 {
	if moment == 1 {
		return valueOrDefault(a.DecayRate1, adamDefaultDecayRate1)
	}
	return valueOrDefault(a.DecayRate2, adamDefaultDecayRate2)
}

// RMSPropTransformer implements RMSProp; see
// http://www.cs.toronto.edu/~tijmen/csc321/slides/lecture_slides_lec6.pdf.
type RMSPropTransformer struct {
	// The decay rate for the running average.
	// If it is 0, a default of 0.9 is used.
	DecayRate float64

	// Damping prevents divisions by zero.
	// If it is 0, a default is used.
	Damping float64

	moment anydiff.Grad
}

// Transform transforms the gradient.
//
// This is not thread-safe.
func (r *RMSPropTransformer) Transform(realGrad anydiff.Grad) anydiff.Grad {
	if r.moment == nil {
		r.moment = anydiff.Grad{}
		for v, grad := range realGrad {
			sq := grad.Copy()
			anyvec.Pow(sq, sq.Creator().MakeNumeric(2))
			r.moment[v] = sq
		}
	} else {
		keep := 1 - valueOrDefault(r.DecayRate, rmspropDefaultDecayRate)
		for v, grad := range realGrad {
			sq := grad.Copy()
			anyvec.Pow(sq, sq.Creator().MakeNumeric(2))
			sq.Sub(r.moment[v])
			sq.Scale(sq.Creator().MakeNumeric(keep))
			r.moment[v].Add(sq)
		}
	}
	damping := valueOrDefault(r.Damping, rmspropDefaultDamping)
	for v, grad := range realGrad {
		div := r.moment[v].Copy()
		div.AddScalar(div.Creator().MakeNumeric(damping))
		anyvec.Pow(div, div.Creator().MakeNumeric(-0.5))
		grad.Mul(div)
	}
	return realGrad
}

// MomentumTransformer implements SGD with momentum.
//
// The transformed gradient v is computed as
//
//	v := momentum * v + grad
type MomentumTransformer struct {
	Momentum float64
	rolling  anydiff.Grad
}

// Transform transforms the gradient.
//
// This is not thread-safe.
func (m *MomentumTransformer) Transform(g anydiff.Grad) anydiff.Grad {
	if m.rolling == nil {
		m.rolling = copyGrad(g)
		return g
	}
	for v, x := range m.rolling {
		x.Scale(x.Creator().MakeNumeric(m.Momentum))
		x.Add(g[v])
		g[v].Set(x)
	}
	return g
}

func copyGrad(g anydiff.Grad) anydiff.Grad {
	res := anydiff.Grad{}
	for k, v := range g {
		res[k] = v.Copy()
	}
	return res
}

func zeroGrad(g anydiff.Grad) anydiff.Grad {
	res := anydiff.Grad{}
	for k, v := range g {
		res[k] = v.Creator().MakeVector(v.Len())
	}
	return res
}

func valueOrDefault(value, def float64) float64 {
	if value == 0 {
		return def
	}
	return value
}
