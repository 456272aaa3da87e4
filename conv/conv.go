// Package conv provides the convolutional layers used by
// the convolutional VITAE variant.
//
// All tensors are row-major depth-minor.
package conv

import (
	"errors"
	"math"
	"sync"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvecsave"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
	"github.com/unixpickle/vitae/nn"
)

func init() {
	var c Conv
	serializer.RegisterTypedDeserializer(c.SerializerType(), DeserializeConv)
}

// Conv is a convolutional layer.
type Conv struct {
	FilterCount  int
	FilterWidth  int
	FilterHeight int

	StrideX int
	StrideY int

	InputWidth  int
	InputHeight int
	InputDepth  int

	Filters *anydiff.Var
	Biases  *anydiff.Var

	im2rowLock sync.Mutex
	im2row     *Im2Row
}

// DeserializeConv deserializes a Conv.
func DeserializeConv(d []byte) (*Conv, error) {
	var inW, inH, inD, fW, fH, sX, sY serializer.Int
	var f, b *anyvecsave.S
	err := serializer.DeserializeAny(d, &inW, &inH, &inD, &fW, &fH, &sX, &sY, &f, &b)
	if err != nil {
		return nil, essentials.AddCtx("deserialize Conv", err)
	}
	return &Conv{
		FilterCount:  f.Vector.Len() / int(fW*fH*inD),
		FilterWidth:  int(fW),
		FilterHeight: int(fH),
		StrideX:      int(sX),
		StrideY:      int(sY),

		InputWidth:  int(inW),
		InputHeight: int(inH),
		InputDepth:  int(inD),

		Filters: anydiff.NewVar(f.Vector),
		Biases:  anydiff.NewVar(b.Vector),
	}, nil
}

// NewConv creates a randomly initialized square-filter
// convolution for inputs of the given shape.
func NewConv(c anyvec.Creator, in nn.Shape, filters, size, stride int) *Conv {
	res := &Conv{
		FilterCount:  filters,
		FilterWidth:  size,
		FilterHeight: size,
		StrideX:      stride,
		StrideY:      stride,
		InputWidth:   in.Width,
		InputHeight:  in.Height,
		InputDepth:   in.Channels,
	}
	res.InitRand(c)
	return res
}

// InitRand initializes the biases to zero and the filters
// in a randomized fashion.
func (c *Conv) InitRand(cr anyvec.Creator) {
	c.InitZero(cr)
	normalizer := 1 / math.Sqrt(float64(c.FilterWidth*c.FilterHeight*c.InputDepth))
	anyvec.Rand(c.Filters.Vector, anyvec.Normal, nil)
	c.Filters.Vector.Scale(cr.MakeNumeric(normalizer))
}

// InitZero initializes the layer to zero.
func (c *Conv) InitZero(cr anyvec.Creator) {
	filterSize := c.FilterWidth * c.FilterHeight * c.InputDepth
	c.Filters = anydiff.NewVar(cr.MakeVector(filterSize * c.FilterCount))
	c.Biases = anydiff.NewVar(cr.MakeVector(c.FilterCount))
}

// OutputShape returns the shape of each output tensor.
func (c *Conv) OutputShape() nn.Shape {
	return nn.Shape{
		Channels: c.FilterCount,
		Height:   windowCount(c.InputHeight, c.FilterHeight, c.StrideY),
		Width:    windowCount(c.InputWidth, c.FilterWidth, c.StrideX),
	}
}

// Apply applies the layer to a batch of input tensors.
//
// The layer must have been initialized.
// After you apply a Conv, you should not modify its
// fields again.
func (c *Conv) Apply(in anydiff.Res, batchSize int, mode nn.Mode) anydiff.Res {
	outShape := c.OutputShape()
	if outShape.Volume() == 0 || batchSize == 0 {
		return anydiff.NewConst(in.Output().Creator().MakeVector(0))
	}
	if in.Output().Len() != batchSize*c.InputWidth*c.InputHeight*c.InputDepth {
		panic("incorrect input size")
	}

	cr := in.Output().Creator()
	filterMatrix := c.filterMatrix()
	im2row := c.getIm2Row()

	products := make([]anyvec.Vector, batchSize)
	im2row.MapAll(in.Output(), func(i int, imgMatrix *anyvec.Matrix) {
		prodMat := &anyvec.Matrix{
			Data: cr.MakeVector(outShape.Volume()),
			Rows: outShape.Width * outShape.Height,
			Cols: outShape.Channels,
		}
		prodMat.Product(false, true, cr.MakeNumeric(1), imgMatrix, filterMatrix,
			cr.MakeNumeric(0))
		products[i] = prodMat.Data
	})

	outData := cr.Concat(products...)
	anyvec.AddRepeated(outData, c.Biases.Vector)

	ourVars := anydiff.VarSet{}
	ourVars.Add(c.Filters)
	ourVars.Add(c.Biases)

	return &convRes{
		Layer:  c,
		Im2Row: im2row,
		N:      batchSize,
		In:     in,
		OutVec: outData,
		V:      anydiff.MergeVarSets(in.Vars(), ourVars),
	}
}

// Parameters returns the filters and the biases, in that
// order.
//
// If the layer is uninitialized, the result is nil.
func (c *Conv) Parameters() []*anydiff.Var {
	if c.Filters == nil || c.Biases == nil {
		return nil
	}
	return []*anydiff.Var{c.Filters, c.Biases}
}

// SerializerType returns the unique ID used to serialize
// a Conv with the serializer package.
func (c *Conv) SerializerType() string {
	return "github.com/unixpickle/vitae/conv.Conv"
}

// Serialize serializes the layer.
//
// If the layer was not yet initialized, this fails.
func (c *Conv) Serialize() ([]byte, error) {
	if c.Filters == nil || c.Biases == nil {
		return nil, errors.New("cannot serialize uninitialized Conv")
	}
	return serializer.SerializeAny(
		serializer.Int(c.InputWidth),
		serializer.Int(c.InputHeight),
		serializer.Int(c.InputDepth),
		serializer.Int(c.FilterWidth),
		serializer.Int(c.FilterHeight),
		serializer.Int(c.StrideX),
		serializer.Int(c.StrideY),
		&anyvecsave.S{Vector: c.Filters.Vector},
		&anyvecsave.S{Vector: c.Biases.Vector},
	)
}

func (c *Conv) getIm2Row() *Im2Row {
	c.im2rowLock.Lock()
	defer c.im2rowLock.Unlock()
	if c.im2row == nil {
		c.im2row = &Im2Row{
			WindowWidth:  c.FilterWidth,
			WindowHeight: c.FilterHeight,
			StrideX:      c.StrideX,
			StrideY:      c.StrideY,
			InputWidth:   c.InputWidth,
			InputHeight:  c.InputHeight,
			InputDepth:   c.InputDepth,
		}
	}
	return c.im2row
}

func (c *Conv) filterMatrix() *anyvec.Matrix {
	return &anyvec.Matrix{
		Data: c.Filters.Vector,
		Rows: c.FilterCount,
		Cols: c.FilterWidth * c.FilterHeight * c.InputDepth,
	}
}

type convRes struct {
	Layer  *Conv
	Im2Row *Im2Row
	N      int
	In     anydiff.Res
	OutVec anyvec.Vector
	V      anydiff.VarSet
}

func (c *convRes) Output() anyvec.Vector {
	return c.OutVec
}

func (c *convRes) Vars() anydiff.VarSet {
	return c.V
}

func (c *convRes) Propagate(u anyvec.Vector, g anydiff.Grad) {
	doIn := g.Intersects(c.In.Vars())
	outShape := c.Layer.OutputShape()
	outSize := u.Len() / c.N
	inSize := c.In.Output().Len() / c.N

	cr := u.Creator()
	one := cr.MakeNumeric(1)
	zero := cr.MakeNumeric(0)
	filterMat := c.Layer.filterMatrix()

	if biasGrad, ok := g[c.Layer.Biases]; ok {
		biasGrad.Add(anyvec.SumRows(u.Copy(), c.Layer.FilterCount))
	}

	filterGrad, doFilters := g[c.Layer.Filters]
	if !doFilters && !doIn {
		return
	}

	inputUpstreams := make([]anyvec.Vector, c.N)
	loop := func(i int, imgMat *anyvec.Matrix) {
		uMat := &anyvec.Matrix{
			Data: u.Slice(outSize*i, outSize*(i+1)),
			Rows: outShape.Width * outShape.Height,
			Cols: outShape.Channels,
		}
		if doFilters {
			fgMat := *filterMat
			fgMat.Data = cr.MakeVector(filterGrad.Len())
			fgMat.Product(true, false, one, uMat, imgMat, zero)
			filterGrad.Add(fgMat.Data)
		}
		if doIn {
			imgMat.Product(false, false, one, uMat, filterMat, zero)
			inUp := cr.MakeVector(inSize)
			c.Im2Row.Mapper(cr).MapTranspose(imgMat.Data, inUp)
			inputUpstreams[i] = inUp
		}
	}
	if doFilters {
		c.Im2Row.MapAll(c.In.Output(), loop)
	} else {
		c.Im2Row.CallAll(cr, c.N, loop)
	}

	if doIn {
		c.In.Propagate(cr.Concat(inputUpstreams...), g)
	}
}
