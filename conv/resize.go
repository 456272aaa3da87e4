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
	var r Resize
	serializer.RegisterTypedDeserializer(r.SerializerType(), DeserializeResize)
}

// A Resize layer resizes tensors using bilinear
// interpolation with aligned corners.
//
// The decoder uses it to upsample feature maps where a
// transposed convolution would otherwise be used.
// The output dimensions must be greater than 1.
type Resize struct {
	Depth int

	InputWidth   int
	InputHeight  int
	OutputWidth  int
	OutputHeight int

	mappingLock     sync.Mutex
	neighborMap     anyvec.Mapper
	neighborWeights anyvec.Vector
}

// DeserializeResize deserializes a Resize.
func DeserializeResize(d []byte) (*Resize, error) {
	var depth, inW, inH, outW, outH serializer.Int
	err := serializer.DeserializeAny(d, &depth, &inW, &inH, &outW, &outH)
	if err != nil {
		return nil, essentials.AddCtx("deserialize Resize", err)
	}
	return &Resize{
		Depth:        int(depth),
		InputWidth:   int(inW),
		InputHeight:  int(inH),
		OutputWidth:  int(outW),
		OutputHeight: int(outH),
	}, nil
}

// NewResize creates a Resize from in to a new spatial
// size.
func NewResize(in nn.Shape, height, width int) *Resize {
	return &Resize{
		Depth:        in.Channels,
		InputWidth:   in.Width,
		InputHeight:  in.Height,
		OutputWidth:  width,
		OutputHeight: height,
	}
}

// OutputShape returns the shape of the resized tensors.
func (r *Resize) OutputShape() nn.Shape {
	return nn.Shape{Channels: r.Depth, Height: r.OutputHeight, Width: r.OutputWidth}
}

// Apply applies the layer to an input tensor.
func (r *Resize) Apply(in anydiff.Res, batchSize int, mode nn.Mode) anydiff.Res {
	if batchSize == 0 {
		return anydiff.NewConst(in.Output().Creator().MakeVector(0))
	}
	if r.InputWidth == 0 || r.InputHeight == 0 || r.OutputWidth <= 1 ||
		r.OutputHeight <= 1 || r.Depth == 0 {
		panic("tensor dimension out of range")
	}
	if r.InputWidth*r.InputHeight*r.Depth*batchSize != in.Output().Len() {
		panic("incorrect input size")
	}

	neighborMap, neighborWeights := r.mapping(in.Output().Creator())
	mapped := batchMap(neighborMap, in.Output())
	anyvec.ScaleRepeated(mapped, neighborWeights)
	out := anyvec.SumCols(mapped, mapped.Len()/4)

	return &resizeRes{
		In:      in,
		Map:     neighborMap,
		Weights: neighborWeights,
		Out:     out,
		Batch:   batchSize,
	}
}

// SerializerType returns the unique ID used to serialize
// a Resize with the serializer package.
func (r *Resize) SerializerType() string {
	return "github.com/unixpickle/vitae/conv.Resize"
}

// Serialize serializes the Resize.
func (r *Resize) Serialize() ([]byte, error) {
	return serializer.SerializeAny(
		serializer.Int(r.Depth),
		serializer.Int(r.InputWidth),
		serializer.Int(r.InputHeight),
		serializer.Int(r.OutputWidth),
		serializer.Int(r.OutputHeight),
	)
}

// mapping returns a mapper which gathers the four
// neighbors of every output component, along with the
// interpolation weight of each neighbor.
func (r *Resize) mapping(c anyvec.Creator) (anyvec.Mapper, anyvec.Vector) {
	r.mappingLock.Lock()
	defer r.mappingLock.Unlock()
	if r.neighborMap != nil && r.neighborMap.Creator() == c {
		return r.neighborMap, r.neighborWeights
	}

	var sources []int
	var amounts []float64
	xScale := float64(r.InputWidth-1) / float64(r.OutputWidth-1)
	yScale := float64(r.InputHeight-1) / float64(r.OutputHeight-1)
	for y := 0; y < r.OutputHeight; y++ {
		y1, y2, yFrac := neighborCoords(yScale*float64(y), r.InputHeight)
		for x := 0; x < r.OutputWidth; x++ {
			x1, x2, xFrac := neighborCoords(xScale*float64(x), r.InputWidth)
			corners := [4]int{
				r.sourceIndex(x1, y1),
				r.sourceIndex(x2, y1),
				r.sourceIndex(x1, y2),
				r.sourceIndex(x2, y2),
			}
			weights := [4]float64{
				(1 - xFrac) * (1 - yFrac),
				xFrac * (1 - yFrac),
				(1 - xFrac) * yFrac,
				xFrac * yFrac,
			}
			for z := 0; z < r.Depth; z++ {
				for _, idx := range corners {
					sources = append(sources, idx+z)
				}
				amounts = append(amounts, weights[:]...)
			}
		}
	}
	r.neighborMap = c.MakeMapper(r.InputWidth*r.InputHeight*r.Depth, sources)
	r.neighborWeights = nn.MakeVector(c, amounts)
	return r.neighborMap, r.neighborWeights
}

func (r *Resize) sourceIndex(x, y int) int {
	return r.Depth * (x + r.InputWidth*y)
}

// neighborCoords finds the two grid points around a
// source coordinate and the weight of the second one.
func neighborCoords(s float64, size int) (lo, hi int, frac float64) {
	if s > float64(size-1) {
		s = float64(size - 1)
	} else if s < 0 {
		s = 0
	}
	lo = int(s)
	hi = lo + 1
	if hi >= size {
		hi = size - 1
	}
	return lo, hi, s - float64(lo)
}

type resizeRes struct {
	In      anydiff.Res
	Map     anyvec.Mapper
	Weights anyvec.Vector
	Out     anyvec.Vector
	Batch   int
}

func (r *resizeRes) Output() anyvec.Vector {
	return r.Out
}

func (r *resizeRes) Vars() anydiff.VarSet {
	return r.In.Vars()
}

func (r *resizeRes) Propagate(u anyvec.Vector, g anydiff.Grad) {
	mappedDown := r.Weights.Creator().MakeVector(r.Weights.Len() * r.Batch)
	anyvec.AddRepeated(mappedDown, r.Weights)
	anyvec.ScaleChunks(mappedDown, u)
	r.In.Propagate(batchMapTranspose(r.Map, mappedDown), g)
}
