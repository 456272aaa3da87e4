package vitae

import (
	"fmt"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/vitae/affine"
	"github.com/unixpickle/vitae/nn"
)

// Sample generates n images from the prior.
//
// The result holds n images packed one after another.
func (m *Model) Sample(n int) (anyvec.Vector, error) {
	if err := m.check(); err != nil {
		return nil, err
	}
	c := m.Creator()
	if n == 0 {
		return c.MakeVector(0), nil
	}
	canonical := m.decodeContent(n)
	if !m.Config.Kind.Transforms() {
		return canonical.Output(), nil
	}
	theta := m.decodeTransform(n)
	out, err := m.Transformer.Apply(canonical, n, theta, n)
	if err != nil {
		return nil, essentials.AddCtx("sample", err)
	}
	return out.Output(), nil
}

// SampleFixedTransform generates n images with random
// content, all warped by the same generator.
//
// A zero generator leaves the decoded images unchanged.
func (m *Model) SampleFixedTransform(n int, generator affine.Matrix) (anyvec.Vector, error) {
	if err := m.check(); err != nil {
		return nil, err
	}
	c := m.Creator()
	if n == 0 {
		return c.MakeVector(0), nil
	}
	theta := anydiff.NewConst(nn.MakeVector(c, generator[:]))
	out, err := m.Transformer.Apply(m.decodeContent(n), n, theta, 1)
	if err != nil {
		return nil, essentials.AddCtx("sample fixed transform", err)
	}
	return out.Output(), nil
}

// SampleFixedContent warps one image by n transformations
// drawn from the prior.
func (m *Model) SampleFixedContent(n int, image anyvec.Vector) (anyvec.Vector, error) {
	if err := m.checkTransforms(); err != nil {
		return nil, err
	}
	if image.Len() != m.Config.InputShape.Volume() {
		return nil, fmt.Errorf("sample fixed content: image length %d should be %d",
			image.Len(), m.Config.InputShape.Volume())
	}
	if n == 0 {
		return image.Creator().MakeVector(0), nil
	}
	out, err := m.Transformer.Apply(anydiff.NewConst(image), 1, m.decodeTransform(n), n)
	if err != nil {
		return nil, essentials.AddCtx("sample fixed content", err)
	}
	return out.Output(), nil
}

// SampleTransformation draws n affine matrices from the
// prior, i.e. the exponentials of decoded generators.
func (m *Model) SampleTransformation(n int) ([]affine.Matrix, error) {
	if err := m.checkTransforms(); err != nil {
		return nil, err
	}
	if n == 0 {
		return []affine.Matrix{}, nil
	}
	gens := nn.Float64s(m.decodeTransform(n).Output())
	flat, err := affine.ExpmBatch(gens)
	if err != nil {
		return nil, essentials.AddCtx("sample transformation", err)
	}
	res := make([]affine.Matrix, n)
	for i := range res {
		copy(res[i][:], flat[i*6:])
	}
	return res, nil
}

// LatentRepresentation encodes n images and returns the
// posterior means of the content and transformation
// codes, one row per image.
//
// For models without a transformation branch, transform
// is nil.
func (m *Model) LatentRepresentation(x anyvec.Vector, n int) (content,
	transform anyvec.Vector, err error) {
	if err := m.check(); err != nil {
		return nil, nil, err
	}
	vol := m.Config.InputShape.Volume()
	if x.Len() != n*vol {
		return nil, nil, fmt.Errorf("latent representation: input length %d should be %d",
			x.Len(), n*vol)
	}
	c := x.Creator()
	if n == 0 {
		content = c.MakeVector(0)
		if m.Config.Kind.Transforms() {
			transform = c.MakeVector(0)
		}
		return content, transform, nil
	}
	in := anydiff.NewConst(x)
	mean1, _ := m.ContentEncoder.Apply(nil, in, n, nn.Evaluation)
	if !m.Config.Kind.Transforms() {
		return mean1.Output(), nil, nil
	}
	mean2, _ := m.TransformEncoder.Apply(nil, in, n, nn.Evaluation)
	return mean1.Output(), mean2.Output(), nil
}

func (m *Model) checkTransforms() error {
	if err := m.check(); err != nil {
		return err
	}
	if !m.Config.Kind.Transforms() {
		return ErrNoTransform
	}
	return nil
}

func (m *Model) decodeContent(n int) anydiff.Res {
	z := m.prior(n, m.Config.ContentLatent)
	return m.ContentDecoder.Apply(z, n, nn.Evaluation)
}

func (m *Model) decodeTransform(n int) anydiff.Res {
	z := m.prior(n, m.Config.TransformLatent)
	return m.TransformDecoder.Apply(z, n, nn.Evaluation)
}

func (m *Model) prior(n, latent int) anydiff.Res {
	v := m.Creator().MakeVector(n * latent)
	anyvec.Rand(v, anyvec.Normal, m.Rand)
	return anydiff.NewConst(v)
}
