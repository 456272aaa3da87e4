package vitae

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
	"github.com/unixpickle/vitae/conv"
	"github.com/unixpickle/vitae/elbo"
	"github.com/unixpickle/vitae/nn"
)

const (
	mlpHidden1 = 512
	mlpHidden2 = 256

	convFilters1 = 32
	convFilters2 = 64

	// transformInitStddev is the weight scale of the last
	// layer of a transformation decoder.
	transformInitStddev = 1e-2
)

func init() {
	var e Encoder
	serializer.RegisterTypedDeserializer(e.SerializerType(), DeserializeEncoder)
}

// An Encoder maps images to the parameters of a diagonal
// Gaussian posterior.
type Encoder struct {
	Body   nn.Net
	Mean   *nn.FC
	LogVar *nn.FC
}

// DeserializeEncoder deserializes an Encoder.
func DeserializeEncoder(d []byte) (*Encoder, error) {
	var res Encoder
	if err := serializer.DeserializeAny(d, &res.Body, &res.Mean, &res.LogVar); err != nil {
		return nil, essentials.AddCtx("deserialize Encoder", err)
	}
	return &res, nil
}

// NewEncoder creates an encoder for images of a shape.
func NewEncoder(c anyvec.Creator, kind Kind, shape nn.Shape, latent int) (*Encoder, error) {
	if err := checkBuildArgs(kind, shape, latent); err != nil {
		return nil, essentials.AddCtx("build encoder", err)
	}
	var body nn.Net
	var features int
	switch kind {
	case MLP, VAE:
		body = nn.Net{
			nn.NewBatchNorm(c, shape.Volume()),
			nn.NewFC(c, shape.Volume(), mlpHidden1),
			nn.LeakyReLU,
			nn.NewFC(c, mlpHidden1, mlpHidden2),
			nn.LeakyReLU,
		}
		features = mlpHidden2
	case Conv:
		stack := &convStack{creator: c, shape: shape}
		stack.add(nn.NewBatchNorm(c, shape.Channels))
		stack.conv(convFilters1, 2, true)
		stack.conv(convFilters2, 2, true)
		stack.conv(convFilters2, 1, true)
		stack.conv(convFilters2, 1, true)
		body = stack.net
		features = stack.shape.Volume()
	}
	return &Encoder{
		Body:   body,
		Mean:   nn.NewFC(c, features, latent),
		LogVar: nn.NewFC(c, features, latent),
	}, nil
}

// Apply computes the posterior means and log-variances
// for a batch of n images.
//
// If s is non-nil, the shared features are pooled in it.
func (e *Encoder) Apply(s *nn.Shared, in anydiff.Res, n int,
	mode nn.Mode) (mean, logvar anydiff.Res) {
	features := s.Use(e.Body.Apply(in, n, mode))
	return e.Mean.Apply(features, n, mode), e.LogVar.Apply(features, n, mode)
}

// Parameters returns the parameters of the body followed
// by those of the mean and log-variance heads.
func (e *Encoder) Parameters() []*anydiff.Var {
	res := e.Body.Parameters()
	res = append(res, e.Mean.Parameters()...)
	return append(res, e.LogVar.Parameters()...)
}

// SerializerType returns the unique ID used to serialize
// an Encoder with the serializer package.
func (e *Encoder) SerializerType() string {
	return "github.com/unixpickle/vitae.Encoder"
}

// Serialize serializes the Encoder.
func (e *Encoder) Serialize() ([]byte, error) {
	return serializer.SerializeAny(e.Body, e.Mean, e.LogVar)
}

// NewDecoder creates a decoder from content latents to
// images of a shape.
//
// For the Bernoulli density the output passes through a
// sigmoid so that it can be used as pixel probabilities.
func NewDecoder(c anyvec.Creator, kind Kind, shape nn.Shape, latent int,
	density elbo.Density) (nn.Net, error) {
	if err := checkBuildArgs(kind, shape, latent); err != nil {
		return nil, essentials.AddCtx("build decoder", err)
	}
	var res nn.Net
	switch kind {
	case MLP, VAE:
		res = nn.Net{
			nn.NewFC(c, latent, mlpHidden2),
			nn.LeakyReLU,
			nn.NewFC(c, mlpHidden2, mlpHidden1),
			nn.LeakyReLU,
			nn.NewFC(c, mlpHidden1, shape.Volume()),
		}
	case Conv:
		small := convCodeShape(shape)
		stack := &convStack{creator: c, shape: small}
		stack.add(nn.NewFC(c, latent, small.Volume()), nn.LeakyReLU)
		stack.conv(convFilters2, 1, true)
		stack.conv(convFilters2, 1, true)
		stack.resize((shape.Height+1)/2, (shape.Width+1)/2)
		stack.conv(convFilters1, 1, true)
		stack.resize(shape.Height, shape.Width)
		stack.conv(shape.Channels, 1, false)
		res = stack.net
	}
	if density == elbo.Bernoulli {
		res = append(res, nn.Sigmoid)
	}
	return res, nil
}

// NewTransformDecoder creates a decoder from
// transformation latents to 6-dimensional affine
// generators.
//
// The last layer starts with tiny weights and zero biases,
// so that initial transformations are close to the
// identity.
func NewTransformDecoder(c anyvec.Creator, kind Kind, shape nn.Shape,
	latent int) (nn.Net, error) {
	if err := checkBuildArgs(kind, shape, latent); err != nil {
		return nil, essentials.AddCtx("build transformation decoder", err)
	}
	last := nn.NewFCStddev(c, mlpHidden1, 6, transformInitStddev)
	switch kind {
	case Conv:
		features := convCodeShape(shape).Volume()
		return nn.Net{
			nn.NewFC(c, latent, features),
			nn.LeakyReLU,
			nn.NewFC(c, features, mlpHidden1),
			nn.LeakyReLU,
			last,
		}, nil
	default:
		return nn.Net{
			nn.NewFC(c, latent, mlpHidden2),
			nn.Tanh,
			nn.NewFC(c, mlpHidden2, mlpHidden1),
			nn.Tanh,
			last,
		}, nil
	}
}

func checkBuildArgs(kind Kind, shape nn.Shape, latent int) error {
	cfg := DefaultConfig()
	cfg.Kind = kind
	cfg.InputShape = shape
	cfg.ContentLatent = latent
	cfg.TransformLatent = latent
	return cfg.Validate()
}

// convCodeShape is the shape of the smallest feature map
// in the convolutional architecture.
func convCodeShape(shape nn.Shape) nn.Shape {
	return nn.Shape{
		Channels: convFilters2,
		Height:   (shape.Height + 3) / 4,
		Width:    (shape.Width + 3) / 4,
	}
}

// convStack builds a convolutional network while keeping
// track of the tensor shape.
type convStack struct {
	creator anyvec.Creator
	shape   nn.Shape
	net     nn.Net
}

func (c *convStack) add(layers ...nn.Layer) {
	c.net = append(c.net, layers...)
}

// conv adds a zero-padded 3x3 convolution, optionally
// followed by batch normalization and a LeakyReLU.
func (c *convStack) conv(filters, stride int, normalize bool) {
	pad := conv.NewPadding(c.shape, 1)
	layer := conv.NewConv(c.creator, pad.OutputShape(), filters, 3, stride)
	c.add(pad, layer)
	if normalize {
		c.add(nn.NewBatchNorm(c.creator, filters), nn.LeakyReLU)
	}
	c.shape = layer.OutputShape()
}

func (c *convStack) resize(height, width int) {
	layer := conv.NewResize(c.shape, height, width)
	c.add(layer)
	c.shape = layer.OutputShape()
}
