package vitae

import (
	"errors"
	"os"

	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
	"github.com/unixpickle/vitae/elbo"
	"github.com/unixpickle/vitae/nn"
	"github.com/unixpickle/vitae/stn"
)

func init() {
	var m Model
	serializer.RegisterTypedDeserializer(m.SerializerType(), DeserializeModel)
}

// DeserializeModel deserializes a Model.
//
// The spatial transformer is rebuilt from the stored
// configuration and the random source is left nil.
func DeserializeModel(d []byte) (*Model, error) {
	var kind, channels, height, width, latent1, latent2, eq, iw, density serializer.Int
	var nets []serializer.Serializer
	var res Model
	err := serializer.DeserializeAny(d, &kind, &channels, &height, &width, &latent1,
		&latent2, &eq, &iw, &density, &nets)
	if err != nil {
		return nil, essentials.AddCtx("deserialize Model", err)
	}
	res.Config = Config{
		Kind: Kind(kind),
		InputShape: nn.Shape{
			Channels: int(channels),
			Height:   int(height),
			Width:    int(width),
		},
		ContentLatent:   int(latent1),
		TransformLatent: int(latent2),
		EqSamples:       int(eq),
		IWSamples:       int(iw),
		Density:         elbo.Density(density),
	}
	if err := res.Config.Validate(); err != nil {
		return nil, essentials.AddCtx("deserialize Model", err)
	}
	if err := res.setNetworks(nets); err != nil {
		return nil, essentials.AddCtx("deserialize Model", err)
	}
	res.Transformer = stn.New(res.Config.InputShape, stn.Diff)
	return &res, nil
}

// networks lists the sub-networks in serialization order.
func (m *Model) networks() []serializer.Serializer {
	res := []serializer.Serializer{m.ContentEncoder, m.ContentDecoder}
	if m.Config.Kind.Transforms() {
		res = append(res, m.TransformEncoder, m.TransformDecoder)
	}
	return res
}

func (m *Model) setNetworks(nets []serializer.Serializer) error {
	want := 2
	if m.Config.Kind.Transforms() {
		want = 4
	}
	if len(nets) != want {
		return errors.New("unexpected number of networks")
	}
	var ok [4]bool
	m.ContentEncoder, ok[0] = nets[0].(*Encoder)
	m.ContentDecoder, ok[1] = nets[1].(nn.Net)
	ok[2], ok[3] = true, true
	if want == 4 {
		m.TransformEncoder, ok[2] = nets[2].(*Encoder)
		m.TransformDecoder, ok[3] = nets[3].(nn.Net)
	}
	if !ok[0] || !ok[1] || !ok[2] || !ok[3] {
		return errors.New("unexpected network type")
	}
	return nil
}

// SerializerType returns the unique ID used to serialize
// a Model with the serializer package.
func (m *Model) SerializerType() string {
	return "github.com/unixpickle/vitae.Model"
}

// Serialize serializes the Model.
func (m *Model) Serialize() ([]byte, error) {
	cfg := m.Config
	return serializer.SerializeAny(
		serializer.Int(cfg.Kind),
		serializer.Int(cfg.InputShape.Channels),
		serializer.Int(cfg.InputShape.Height),
		serializer.Int(cfg.InputShape.Width),
		serializer.Int(cfg.ContentLatent),
		serializer.Int(cfg.TransformLatent),
		serializer.Int(cfg.EqSamples),
		serializer.Int(cfg.IWSamples),
		serializer.Int(cfg.Density),
		m.networks(),
	)
}

// Save writes the model to a file.
func (m *Model) Save(path string) (err error) {
	defer essentials.AddCtxTo("save model", &err)
	data, err := serializer.SerializeAny(m)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Load reads a model written by Save.
func Load(path string) (m *Model, err error) {
	defer essentials.AddCtxTo("load model", &err)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := serializer.DeserializeAny(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}
