// Package vitae implements a variational autoencoder
// whose latent space is split into an appearance part and
// a transformation part.
//
// The transformation branch predicts an affine transform
// for every image. The image is warped into a canonical
// pose before the appearance branch encodes it, and the
// decoded canonical image is warped back by the same
// transform to produce a reconstruction.
package vitae

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/vitae/elbo"
	"github.com/unixpickle/vitae/nn"
	"github.com/unixpickle/vitae/stn"
)

// ErrUnconstructed is returned when a Model is used before
// its networks have been created.
var ErrUnconstructed = errors.New("model has not been constructed")

// ErrNoTransform is returned when a transformation is
// requested from a model without a transformation branch.
var ErrNoTransform = errors.New("model has no transformation branch")

// Model is a VITAE model.
type Model struct {
	Config Config

	ContentEncoder *Encoder
	ContentDecoder nn.Net

	// The transformation networks are nil for the VAE kind.
	TransformEncoder *Encoder
	TransformDecoder nn.Net

	Transformer *stn.Transformer

	// Rand is the source of reparameterization and
	// sampling noise.
	// If it is nil, the global source is used.
	Rand *rand.Rand
}

// New creates a randomly initialized Model.
func New(c anyvec.Creator, cfg Config) (m *Model, err error) {
	defer essentials.AddCtxTo("create model", &err)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m = &Model{
		Config:      cfg,
		Transformer: stn.New(cfg.InputShape, stn.Diff),
	}
	m.ContentEncoder, err = NewEncoder(c, cfg.Kind, cfg.InputShape, cfg.ContentLatent)
	if err != nil {
		return nil, err
	}
	m.ContentDecoder, err = NewDecoder(c, cfg.Kind, cfg.InputShape, cfg.ContentLatent,
		cfg.Density)
	if err != nil {
		return nil, err
	}
	if !cfg.Kind.Transforms() {
		return m, nil
	}
	m.TransformEncoder, err = NewEncoder(c, cfg.Kind, cfg.InputShape, cfg.TransformLatent)
	if err != nil {
		return nil, err
	}
	m.TransformDecoder, err = NewTransformDecoder(c, cfg.Kind, cfg.InputShape,
		cfg.TransformLatent)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Parameters returns the learnable parameters of every
// network, in a fixed order.
func (m *Model) Parameters() []*anydiff.Var {
	if m.ContentEncoder == nil {
		return nil
	}
	var res []*anydiff.Var
	res = append(res, m.ContentEncoder.Parameters()...)
	if m.TransformEncoder != nil {
		res = append(res, m.TransformEncoder.Parameters()...)
	}
	res = append(res, m.ContentDecoder.Parameters()...)
	return append(res, m.TransformDecoder.Parameters()...)
}

// BatchNorms returns every BatchNorm layer in the model.
func (m *Model) BatchNorms() []*nn.BatchNorm {
	if m.ContentEncoder == nil {
		return nil
	}
	var res []*nn.BatchNorm
	res = append(res, m.ContentEncoder.Body.BatchNorms()...)
	if m.TransformEncoder != nil {
		res = append(res, m.TransformEncoder.Body.BatchNorms()...)
	}
	res = append(res, m.ContentDecoder.BatchNorms()...)
	return append(res, m.TransformDecoder.BatchNorms()...)
}

// Creator returns the creator of the model's parameters.
func (m *Model) Creator() anyvec.Creator {
	params := m.Parameters()
	if len(params) == 0 {
		return nil
	}
	return params[0].Vector.Creator()
}

func (m *Model) check() error {
	if m == nil || m.Transformer == nil || m.ContentDecoder == nil ||
		len(m.Parameters()) == 0 {
		return ErrUnconstructed
	}
	if m.Config.Kind.Transforms() && (m.TransformEncoder == nil || m.TransformDecoder == nil) {
		return ErrUnconstructed
	}
	return nil
}

// Output is the result of a forward pass.
type Output struct {
	// Recon holds EqSamples*IWSamples*N reconstructions.
	// Reconstruction s*N+n belongs to image n.
	Recon anydiff.Res

	// Posterior parameters for the content branch (index 0,
	// one row per reconstruction) and the transformation
	// branch (index 1, one row per image).
	// Index 1 is nil for models without a transformation
	// branch.
	Means   [2]anydiff.Res
	LogVars [2]anydiff.Res

	N         int
	EqSamples int
	IWSamples int

	shared *nn.Shared
}

// Wrap turns a result computed from the output's fields
// into one that propagates gradients to the model.
//
// Results built from the fields must be wrapped before
// propagating, since the fields share intermediate
// results that are only flushed by the wrapper.
func (o *Output) Wrap(r anydiff.Res) anydiff.Res {
	return o.shared.Wrap(r)
}

// Forward runs the model on a batch of n images.
//
// In Training mode, EqSamples*IWSamples transformations
// are sampled per image; in Evaluation mode the posterior
// means are used and a single sample is produced.
func (m *Model) Forward(x anydiff.Res, n int, mode nn.Mode) (*Output, error) {
	if err := m.check(); err != nil {
		return nil, err
	}
	vol := m.Config.InputShape.Volume()
	if x.Output().Len() != n*vol {
		return nil, fmt.Errorf("forward: input length %d should be %d (%d images of shape %v)",
			x.Output().Len(), n*vol, n, m.Config.InputShape)
	}
	samples := 1
	if mode == nn.Training {
		samples = m.Config.Samples()
	}
	if !m.Config.Kind.Transforms() {
		return m.forwardPlain(x, n, samples, mode), nil
	}
	c := x.Output().Creator()
	shared := &nn.Shared{}

	mean2, logvar2 := m.TransformEncoder.Apply(shared, x, n, mode)
	mean2, logvar2 = shared.Use(mean2), shared.Use(logvar2)
	z2 := Reparameterize(mean2, logvar2, samples, mode, m.Rand)
	theta := shared.Use(m.TransformDecoder.Apply(z2, samples*n, mode))

	normalized, err := m.Transformer.Apply(x, n, anydiff.Scale(theta, c.MakeNumeric(-1)),
		samples*n)
	if err != nil {
		return nil, essentials.AddCtx("forward", err)
	}

	mean1, logvar1 := m.ContentEncoder.Apply(shared, normalized, samples*n, mode)
	mean1, logvar1 = shared.Use(mean1), shared.Use(logvar1)
	z1 := Reparameterize(m.contentRows(mean1, n), m.contentRows(logvar1, n), 1, mode,
		m.Rand)
	canonical := m.ContentDecoder.Apply(z1, n, mode)

	recon, err := m.Transformer.Apply(canonical, n, theta, samples*n)
	if err != nil {
		return nil, essentials.AddCtx("forward", err)
	}

	res := &Output{
		Recon:     recon,
		Means:     [2]anydiff.Res{mean1, mean2},
		LogVars:   [2]anydiff.Res{logvar1, logvar2},
		N:         n,
		EqSamples: m.Config.EqSamples,
		IWSamples: m.Config.IWSamples,
		shared:    shared,
	}
	if mode == nn.Evaluation {
		res.EqSamples, res.IWSamples = 1, 1
	}
	return res, nil
}

func (m *Model) forwardPlain(x anydiff.Res, n, samples int, mode nn.Mode) *Output {
	shared := &nn.Shared{}
	mean, logvar := m.ContentEncoder.Apply(shared, x, n, mode)
	mean, logvar = shared.Use(mean), shared.Use(logvar)
	z := Reparameterize(mean, logvar, samples, mode, m.Rand)
	res := &Output{
		Recon:     m.ContentDecoder.Apply(z, samples*n, mode),
		Means:     [2]anydiff.Res{nn.Repeat(mean, samples)},
		LogVars:   [2]anydiff.Res{nn.Repeat(logvar, samples)},
		N:         n,
		EqSamples: m.Config.EqSamples,
		IWSamples: m.Config.IWSamples,
		shared:    shared,
	}
	if mode == nn.Evaluation {
		res.EqSamples, res.IWSamples = 1, 1
	}
	return res
}

// contentRows selects the content posterior of the first
// transformation sample of each of the n images.
//
// Every reconstruction of an image reuses this one content
// code; the other rows only enter the loss through their
// KL terms.
func (m *Model) contentRows(r anydiff.Res, n int) anydiff.Res {
	return anydiff.Slice(r, 0, n*m.Config.ContentLatent)
}

// LossF computes the negative ELBO of an output for the
// batch x it was computed from.
//
// The KL terms are weighted by elbo.Warmup(epoch, warmup).
func (m *Model) LossF(x anydiff.Res, out *Output, epoch, warmup int) (*elbo.Loss, error) {
	loss, err := elbo.ELBO(&elbo.Input{
		Density:         m.Config.Density,
		Data:            x.Output(),
		Recon:           out.Recon,
		ContentMean:     out.Means[0],
		ContentLogVar:   out.LogVars[0],
		TransformMean:   out.Means[1],
		TransformLogVar: out.LogVars[1],
		N:               out.N,
		EqSamples:       out.EqSamples,
		IWSamples:       out.IWSamples,
		Weight:          elbo.Warmup(epoch, warmup),
	})
	if err != nil {
		return nil, essentials.AddCtx("loss", err)
	}
	loss.Total = out.Wrap(loss.Total)
	return loss, nil
}

// Reparameterize draws samples latent codes for every row
// of a diagonal Gaussian posterior.
//
// The result is sample-major: sample s of row i is at row
// s*rows+i.
// In Evaluation mode no noise is drawn and every sample
// equals the mean.
func Reparameterize(mean, logvar anydiff.Res, samples int, mode nn.Mode,
	rng *rand.Rand) anydiff.Res {
	if mode == nn.Evaluation {
		return nn.Repeat(mean, samples)
	}
	c := mean.Output().Creator()
	noise := c.MakeVector(samples * mean.Output().Len())
	anyvec.Rand(noise, anyvec.Normal, rng)
	stddev := anydiff.Exp(anydiff.Scale(elbo.ClampLogVar(logvar), c.MakeNumeric(0.5)))
	return anydiff.Add(
		nn.Repeat(mean, samples),
		anydiff.Mul(nn.Repeat(stddev, samples), anydiff.NewConst(noise)),
	)
}

// Calibrate sets the population statistics of every
// BatchNorm layer from the activations produced by a
// sequence of batches.
//
// After calibration, Evaluation mode no longer depends on
// the composition of the batch being evaluated.
func (m *Model) Calibrate(batches []anyvec.Vector) (err error) {
	defer essentials.AddCtxTo("calibrate", &err)
	if err := m.check(); err != nil {
		return err
	}
	layers := m.BatchNorms()
	nn.BeginCalibration(layers)
	vol := m.Config.InputShape.Volume()
	for _, batch := range batches {
		if batch.Len()%vol != 0 {
			nn.CancelCalibration(layers)
			return fmt.Errorf("batch length %d is not a multiple of %d", batch.Len(), vol)
		}
		if _, err := m.Forward(anydiff.NewConst(batch), batch.Len()/vol, nn.Training); err != nil {
			nn.CancelCalibration(layers)
			return err
		}
	}
	return nn.EndCalibration(layers)
}
