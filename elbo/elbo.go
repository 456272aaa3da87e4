// Package elbo implements the training objective of a
// VITAE model: an importance-weighted evidence lower bound
// with a KL warmup schedule.
package elbo

import (
	"errors"
	"fmt"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/vitae/nn"
)

// Input gathers everything the loss depends on.
type Input struct {
	Density Density

	// Data holds N images.
	Data anyvec.Vector

	// Recon holds EqSamples*IWSamples*N reconstructions,
	// sample-major.
	Recon anydiff.Res

	// Content posterior, one row per reconstruction.
	ContentMean   anydiff.Res
	ContentLogVar anydiff.Res

	// Transformation posterior, one row per image.
	// Both are nil when there is no transformation latent,
	// in which case KL2 is zero.
	TransformMean   anydiff.Res
	TransformLogVar anydiff.Res

	N         int
	EqSamples int
	IWSamples int

	// Weight scales both KL terms; see Warmup.
	Weight float64
}

// Loss is the negative ELBO along with its components.
type Loss struct {
	// Total is the quantity to minimize.
	Total anydiff.Res

	// Reconstruction NLL and KL terms, summed over the
	// batch and averaged over samples. They are not
	// weighted.
	Recon float64
	KL1   float64
	KL2   float64

	Weight float64
}

// ELBO computes the negative importance-weighted ELBO.
//
// For replicated row s*N+n, the log weight is
//
//	-(nll[s,n] + Weight*(kl1[s,n] + kl2[n]))
//
// Samples are grouped into EqSamples groups of IWSamples
// each; the log-mean-exp is taken within a group, groups
// are averaged, and the batch is summed.
// With one sample of each kind this is the standard ELBO.
func ELBO(in *Input) (*Loss, error) {
	if err := in.check(); err != nil {
		return nil, err
	}
	samples := in.EqSamples * in.IWSamples
	c := in.Data.Creator()

	nll := NLL(in.Density, in.Data, in.Recon, in.N, samples)
	kl1 := KL(in.ContentMean, in.ContentLogVar, samples*in.N)

	res := &Loss{
		Recon:  sum(nll.Output()) / float64(samples),
		KL1:    sum(kl1.Output()) / float64(samples),
		Weight: in.Weight,
	}

	kl := kl1
	if in.TransformMean != nil {
		kl2 := KL(in.TransformMean, in.TransformLogVar, in.N)
		res.KL2 = sum(kl2.Output())
		kl = anydiff.Add(kl1, nn.Repeat(kl2, samples))
	}
	logWeights := anydiff.Scale(
		anydiff.Add(nll, anydiff.Scale(kl, c.MakeNumeric(in.Weight))),
		c.MakeNumeric(-1),
	)
	res.Total = anydiff.Pool(logWeights, func(logWeights anydiff.Res) anydiff.Res {
		groupSize := in.IWSamples * in.N
		bounds := make([]anydiff.Res, in.EqSamples)
		for e := range bounds {
			group := anydiff.Slice(logWeights, e*groupSize, (e+1)*groupSize)
			bounds[e] = LogMeanExp(group, in.N, in.IWSamples)
		}
		total := anydiff.Sum(anydiff.Concat(bounds...))
		return anydiff.Scale(total, c.MakeNumeric(-1/float64(in.EqSamples)))
	})
	return res, nil
}

func (in *Input) check() error {
	if in.N <= 0 {
		return errors.New("elbo: empty batch")
	}
	if in.EqSamples <= 0 || in.IWSamples <= 0 {
		return fmt.Errorf("elbo: invalid sample counts %d, %d", in.EqSamples, in.IWSamples)
	}
	samples := in.EqSamples * in.IWSamples
	if in.Recon.Output().Len() != samples*in.Data.Len() {
		return fmt.Errorf("elbo: reconstruction length %d should be %d",
			in.Recon.Output().Len(), samples*in.Data.Len())
	}
	if in.ContentMean.Output().Len()%(samples*in.N) != 0 {
		return errors.New("elbo: content posterior does not match sample count")
	}
	if (in.TransformMean == nil) != (in.TransformLogVar == nil) {
		return errors.New("elbo: incomplete transformation posterior")
	}
	if in.TransformMean != nil && in.TransformMean.Output().Len()%in.N != 0 {
		return errors.New("elbo: transformation posterior does not match batch size")
	}
	return nil
}

func sum(v anyvec.Vector) float64 {
	var res float64
	for _, x := range nn.Float64s(v) {
		res += x
	}
	return res
}
