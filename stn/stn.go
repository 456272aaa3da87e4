// Package stn implements a differentiable spatial
// transformer: it warps image batches by per-sample 2D
// affine transforms using bilinear sampling.
package stn

import (
	"fmt"
	"math"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/vitae/affine"
	"github.com/unixpickle/vitae/nn"
)

// Mode determines how a theta vector becomes an affine
// matrix.
type Mode int

const (
	// Direct uses theta as the 2x3 matrix itself.
	Direct Mode = iota

	// Diff treats theta as a generator and uses its matrix
	// exponential, so that a zero theta is the identity and
	// negating theta inverts the transform.
	Diff
)

func (m Mode) String() string {
	switch m {
	case Direct:
		return "direct"
	case Diff:
		return "diff"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// snapEpsilon is how close a sampling coordinate must be
// to a pixel center to be treated as exactly on it.
const snapEpsilon = 1e-9

// A Transformer warps images by affine transforms.
//
// Output pixel (y, x) is mapped to normalized coordinates
// in [-1, 1] with the corners of the image at -1 and 1.
// These coordinates are transformed by the affine matrix
// and the input is sampled there bilinearly, reading zeros
// outside of the input.
type Transformer struct {
	InShape  nn.Shape
	OutShape nn.Shape
	Mode     Mode
}

// New creates a Transformer whose output has the same
// shape as its input.
func New(shape nn.Shape, mode Mode) *Transformer {
	return &Transformer{InShape: shape, OutShape: shape, Mode: mode}
}

// Apply warps a batch of images by a batch of thetas.
//
// The output contains max(numImages, numThetas) images.
// The larger count must be a multiple of the smaller one;
// output i pairs image i%numImages with theta i%numThetas.
//
// An error is returned if Diff mode rejects a generator.
// Inconsistent sizes cause a panic.
func (t *Transformer) Apply(images anydiff.Res, numImages int, thetas anydiff.Res,
	numThetas int) (anydiff.Res, error) {
	if t.InShape.Channels != t.OutShape.Channels {
		panic("input and output channel counts differ")
	}
	if images.Output().Len() != numImages*t.InShape.Volume() {
		panic(fmt.Sprintf("image length should be %d but got %d",
			numImages*t.InShape.Volume(), images.Output().Len()))
	}
	if thetas.Output().Len() != numThetas*6 {
		panic(fmt.Sprintf("theta length should be %d but got %d", numThetas*6,
			thetas.Output().Len()))
	}
	n := broadcastCount(numImages, numThetas)
	c := images.Output().Creator()
	if n == 0 {
		return anydiff.NewConst(c.MakeVector(0)), nil
	}

	thetaData := nn.Float64s(thetas.Output())
	matrices := thetaData
	if t.Mode == Diff {
		var err error
		matrices, err = affine.ExpmBatch(thetaData)
		if err != nil {
			return nil, essentials.AddCtx("spatial transformer", err)
		}
	}

	res := &gridRes{
		Transformer: t,
		Images:      images,
		Thetas:      thetas,
		NumImages:   numImages,
		NumThetas:   numThetas,
		Count:       n,
		ImageData:   nn.Float64s(images.Output()),
		ThetaData:   thetaData,
		Matrices:    matrices,
		V:           anydiff.MergeVarSets(images.Vars(), thetas.Vars()),
	}
	res.Out = nn.MakeVector(c, res.forward())
	return res, nil
}

func broadcastCount(a, b int) int {
	if a == 0 || b == 0 {
		return 0
	}
	big, small := a, b
	if small > big {
		big, small = small, big
	}
	if big%small != 0 {
		panic(fmt.Sprintf("cannot broadcast %d images against %d thetas", a, b))
	}
	return big
}

// normalizedCoord maps pixel i of n to [-1, 1].
func normalizedCoord(i, n int) float64 {
	if n <= 1 {
		return 0
	}
	return -1 + 2*float64(i)/float64(n-1)
}

// pixelScale is the derivative of a pixel coordinate with
// respect to a normalized coordinate.
func pixelScale(n int) float64 {
	return float64(n-1) / 2
}

// corners identifies the input pixels around a sampling
// point and their bilinear weights.
type corners struct {
	X  [2]int
	Y  [2]int
	WX [2]float64
	WY [2]float64
}

func newCorners(px, py float64) corners {
	px, py = snap(px), snap(py)
	x0, y0 := math.Floor(px), math.Floor(py)
	fx, fy := px-x0, py-y0
	return corners{
		X:  [2]int{int(x0), int(x0) + 1},
		Y:  [2]int{int(y0), int(y0) + 1},
		WX: [2]float64{1 - fx, fx},
		WY: [2]float64{1 - fy, fy},
	}
}

func snap(x float64) float64 {
	if r := math.Round(x); math.Abs(x-r) < snapEpsilon {
		return r
	}
	return x
}

// cornerSign is the derivative of a corner's weight with
// respect to the sampling coordinate.
var cornerSign = [2]float64{-1, 1}

// sourcePoint computes the pixel coordinates sampled for
// output pixel (x, y) under a matrix.
func (t *Transformer) sourcePoint(m affine.Matrix, x, y int) (float64, float64) {
	xt := normalizedCoord(x, t.OutShape.Width)
	yt := normalizedCoord(y, t.OutShape.Height)
	xs, ys := m.Apply(xt, yt)
	return (xs + 1) * pixelScale(t.InShape.Width), (ys + 1) * pixelScale(t.InShape.Height)
}

type gridRes struct {
	Transformer *Transformer
	Images      anydiff.Res
	Thetas      anydiff.Res
	NumImages   int
	NumThetas   int
	Count       int

	ImageData []float64
	ThetaData []float64
	Matrices  []float64

	Out anyvec.Vector
	V   anydiff.VarSet
}

// matrix returns the affine matrix for output i.
func (g *gridRes) matrix(i int) affine.Matrix {
	var res affine.Matrix
	copy(res[:], g.Matrices[(i%g.NumThetas)*6:])
	return res
}

func (g *gridRes) forward() []float64 {
	t := g.Transformer
	inVol, outVol := t.InShape.Volume(), t.OutShape.Volume()
	depth := t.InShape.Channels
	out := make([]float64, g.Count*outVol)
	for i := 0; i < g.Count; i++ {
		img := g.ImageData[(i%g.NumImages)*inVol:][:inVol]
		m := g.matrix(i)
		outImg := out[i*outVol : (i+1)*outVol]
		for y := 0; y < t.OutShape.Height; y++ {
			for x := 0; x < t.OutShape.Width; x++ {
				cs := newCorners(t.sourcePoint(m, x, y))
				dst := outImg[(y*t.OutShape.Width+x)*depth:][:depth]
				g.eachCorner(cs, func(idx int, w, dwx, dwy float64) {
					for z := range dst {
						dst[z] += w * img[idx+z]
					}
				})
			}
		}
	}
	return out
}

// eachCorner calls f for every in-bounds corner with the
// corner's image offset, its weight, and the derivatives
// of its weight with respect to the pixel coordinates.
func (g *gridRes) eachCorner(cs corners, f func(idx int, w, dwx, dwy float64)) {
	shape := g.Transformer.InShape
	for i, y := range cs.Y {
		if y < 0 || y >= shape.Height {
			continue
		}
		for j, x := range cs.X {
			if x < 0 || x >= shape.Width {
				continue
			}
			f((y*shape.Width+x)*shape.Channels, cs.WY[i]*cs.WX[j],
				cs.WY[i]*cornerSign[j], cornerSign[i]*cs.WX[j])
		}
	}
}

func (g *gridRes) Output() anyvec.Vector {
	return g.Out
}

func (g *gridRes) Vars() anydiff.VarSet {
	return g.V
}

func (g *gridRes) Propagate(u anyvec.Vector, grad anydiff.Grad) {
	doImages := grad.Intersects(g.Images.Vars())
	doThetas := grad.Intersects(g.Thetas.Vars())
	if !doImages && !doThetas {
		return
	}

	t := g.Transformer
	inVol, outVol := t.InShape.Volume(), t.OutShape.Volume()
	depth := t.InShape.Channels
	upstream := nn.Float64s(u)

	imageGrad := make([]float64, len(g.ImageData))
	matrixGrad := make([]float64, len(g.Matrices))
	scaleX, scaleY := pixelScale(t.InShape.Width), pixelScale(t.InShape.Height)

	for i := 0; i < g.Count; i++ {
		imgOffset := (i % g.NumImages) * inVol
		img := g.ImageData[imgOffset:][:inVol]
		imgGrad := imageGrad[imgOffset:][:inVol]
		m := g.matrix(i)
		mGrad := matrixGrad[(i%g.NumThetas)*6:][:6]
		outGrad := upstream[i*outVol : (i+1)*outVol]
		for y := 0; y < t.OutShape.Height; y++ {
			for x := 0; x < t.OutShape.Width; x++ {
				cs := newCorners(t.sourcePoint(m, x, y))
				up := outGrad[(y*t.OutShape.Width+x)*depth:][:depth]
				var gradPX, gradPY float64
				g.eachCorner(cs, func(idx int, w, dwx, dwy float64) {
					for z, uz := range up {
						imgGrad[idx+z] += uz * w
						gradPX += uz * dwx * img[idx+z]
						gradPY += uz * dwy * img[idx+z]
					}
				})
				if doThetas {
					gradXS, gradYS := gradPX*scaleX, gradPY*scaleY
					xt := normalizedCoord(x, t.OutShape.Width)
					yt := normalizedCoord(y, t.OutShape.Height)
					mGrad[0] += gradXS * xt
					mGrad[1] += gradXS * yt
					mGrad[2] += gradXS
					mGrad[3] += gradYS * xt
					mGrad[4] += gradYS * yt
					mGrad[5] += gradYS
				}
			}
		}
	}

	c := u.Creator()
	if doImages {
		g.Images.Propagate(nn.MakeVector(c, imageGrad), grad)
	}
	if doThetas {
		g.Thetas.Propagate(nn.MakeVector(c, g.thetaGrad(matrixGrad)), grad)
	}
}

// thetaGrad maps gradients with respect to the realized
// matrices back to gradients with respect to theta.
func (g *gridRes) thetaGrad(matrixGrad []float64) []float64 {
	if g.Transformer.Mode == Direct {
		return matrixGrad
	}
	res := make([]float64, len(matrixGrad))
	for i := 0; i < len(res); i += 6 {
		var gen, up affine.Matrix
		copy(gen[:], g.ThetaData[i:i+6])
		copy(up[:], matrixGrad[i:i+6])
		genGrad, err := affine.ExpmGrad(gen, up)
		if err != nil {
			// The generator was accepted in the forward pass.
			panic(err)
		}
		copy(res[i:], genGrad[:])
	}
	return res
}
