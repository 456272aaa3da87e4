package vitae

import (
	"errors"
	"fmt"
	"strings"

	"github.com/unixpickle/vitae/elbo"
	"github.com/unixpickle/vitae/nn"
)

// Kind selects the encoder/decoder family.
type Kind int

const (
	MLP Kind = iota
	Conv

	// VAE is a baseline with the MLP content networks and
	// no transformation branch.
	VAE
)

// ParseKind parses a model kind.
// Both the short names ("mlp", "conv") and the prefixed
// names ("vitae_mlp", "vitae_conv") are accepted.
func ParseKind(s string) (Kind, error) {
	switch strings.TrimPrefix(s, "vitae_") {
	case "mlp":
		return MLP, nil
	case "conv":
		return Conv, nil
	case "vae":
		return VAE, nil
	default:
		return 0, fmt.Errorf("unknown model kind: %q", s)
	}
}

func (k Kind) String() string {
	switch k {
	case MLP:
		return "vitae_mlp"
	case Conv:
		return "vitae_conv"
	case VAE:
		return "vae"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Transforms reports whether models of this kind have a
// transformation branch.
func (k Kind) Transforms() bool {
	return k != VAE
}

// minConvSize is the smallest spatial size the
// convolutional architecture supports.
const minConvSize = 4

// Config describes the architecture of a Model.
type Config struct {
	Kind       Kind
	InputShape nn.Shape

	ContentLatent   int
	TransformLatent int

	// EqSamples and IWSamples set how many transformation
	// samples are drawn per image during training: the
	// product of the two, averaged in EqSamples groups with
	// importance weighting inside each group.
	EqSamples int
	IWSamples int

	Density elbo.Density
}

// DefaultConfig returns the configuration used for MNIST.
func DefaultConfig() Config {
	return Config{
		Kind:            MLP,
		InputShape:      nn.Shape{Channels: 1, Height: 28, Width: 28},
		ContentLatent:   32,
		TransformLatent: 32,
		EqSamples:       1,
		IWSamples:       1,
		Density:         elbo.Bernoulli,
	}
}

// Validate checks the configuration for errors.
func (c Config) Validate() error {
	if err := c.InputShape.Valid(); err != nil {
		return err
	}
	if c.ContentLatent <= 0 || c.TransformLatent <= 0 {
		return fmt.Errorf("latent dimensions must be positive (got %d and %d)",
			c.ContentLatent, c.TransformLatent)
	}
	if c.EqSamples <= 0 || c.IWSamples <= 0 {
		return fmt.Errorf("sample counts must be positive (got %d and %d)",
			c.EqSamples, c.IWSamples)
	}
	if c.Kind != MLP && c.Kind != Conv && c.Kind != VAE {
		return fmt.Errorf("unknown model kind: %d", c.Kind)
	}
	if c.Density != elbo.Bernoulli && c.Density != elbo.Gaussian {
		return errors.New("unknown density")
	}
	if c.Kind == Conv && (c.InputShape.Height < minConvSize || c.InputShape.Width < minConvSize) {
		return fmt.Errorf("convolutional model needs images of at least %dx%d",
			minConvSize, minConvSize)
	}
	return nil
}

// Samples returns the number of transformation samples
// drawn per image in training mode.
func (c Config) Samples() int {
	return c.EqSamples * c.IWSamples
}
