package conv

import (
	"sync"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
	"github.com/unixpickle/vitae/nn"
)

func init() {
	var p Padding
	serializer.RegisterTypedDeserializer(p.SerializerType(), DeserializePadding)
}

// A Padding layer surrounds input tensors with a border
// of zeros.
type Padding struct {
	InputWidth  int
	InputHeight int
	InputDepth  int

	// Border is the number of zero rows and columns added
	// to each side.
	Border int

	mapperLock sync.Mutex
	mapper     anyvec.Mapper
}

// DeserializePadding deserializes a Padding.
func DeserializePadding(d []byte) (*Padding, error) {
	var inW, inH, inD, border serializer.Int
	err := serializer.DeserializeAny(d, &inW, &inH, &inD, &border)
	if err != nil {
		return nil, essentials.AddCtx("deserialize Padding", err)
	}
	return &Padding{
		InputWidth:  int(inW),
		InputHeight: int(inH),
		InputDepth:  int(inD),
		Border:      int(border),
	}, nil
}

// NewPadding creates a Padding for inputs of a shape.
func NewPadding(in nn.Shape, border int) *Padding {
	return &Padding{
		InputWidth:  in.Width,
		InputHeight: in.Height,
		InputDepth:  in.Channels,
		Border:      border,
	}
}

// OutputShape returns the shape of the padded tensors.
func (p *Padding) OutputShape() nn.Shape {
	return nn.Shape{
		Channels: p.InputDepth,
		Height:   p.InputHeight + 2*p.Border,
		Width:    p.InputWidth + 2*p.Border,
	}
}

// Apply applies the layer.
func (p *Padding) Apply(in anydiff.Res, batch int, mode nn.Mode) anydiff.Res {
	mapper := p.getMapper(in.Output().Creator())
	if in.Output().Len() != batch*mapper.OutSize() {
		panic("incorrect input size")
	}
	return &paddingRes{
		In:     in,
		Mapper: mapper,
		OutVec: batchMapTranspose(mapper, in.Output()),
	}
}

// SerializerType returns the unique ID used to serialize
// a Padding with the serializer package.
func (p *Padding) SerializerType() string {
	return "github.com/unixpickle/vitae/conv.Padding"
}

// Serialize serializes a Padding.
func (p *Padding) Serialize() ([]byte, error) {
	return serializer.SerializeAny(
		serializer.Int(p.InputWidth),
		serializer.Int(p.InputHeight),
		serializer.Int(p.InputDepth),
		serializer.Int(p.Border),
	)
}

// getMapper returns a mapper from padded tensors to the
// unpadded tensors inside them.
func (p *Padding) getMapper(c anyvec.Creator) anyvec.Mapper {
	p.mapperLock.Lock()
	defer p.mapperLock.Unlock()
	if p.mapper != nil && p.mapper.Creator() == c {
		return p.mapper
	}
	outShape := p.OutputShape()
	table := make([]int, 0, p.InputWidth*p.InputHeight*p.InputDepth)
	for y := 0; y < p.InputHeight; y++ {
		yOffset := (y + p.Border) * outShape.Width * p.InputDepth
		for x := 0; x < p.InputWidth; x++ {
			xOffset := yOffset + (x+p.Border)*p.InputDepth
			for z := 0; z < p.InputDepth; z++ {
				table = append(table, xOffset+z)
			}
		}
	}
	p.mapper = c.MakeMapper(outShape.Volume(), table)
	return p.mapper
}

type paddingRes struct {
	In     anydiff.Res
	Mapper anyvec.Mapper
	OutVec anyvec.Vector
}

func (p *paddingRes) Output() anyvec.Vector {
	return p.OutVec
}

func (p *paddingRes) Vars() anydiff.VarSet {
	return p.In.Vars()
}

func (p *paddingRes) Propagate(u anyvec.Vector, g anydiff.Grad) {
	p.In.Propagate(batchMap(p.Mapper, u), g)
}
