package vitae

import (
	"fmt"
	"image"

	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/vitae/affine"
	"github.com/unixpickle/vitae/nn"
	"github.com/unixpickle/vitae/vis"
	"gonum.org/v1/gonum/stat"
)

const (
	callbackGridSize   = 10
	callbackTransforms = 1000
)

// A Logger records training events.
type Logger interface {
	AddScalar(tag string, value float64, step int) error
	AddHistogram(tag string, values []float64, step int) error
	AddImage(tag string, img image.Image, step int) error
}

// Callback logs samples and transformation statistics for
// the end of an epoch.
//
// It logs a grid of samples drawn with the identity
// transform, a grid of the first image of the batch
// warped by sampled transforms, and histograms of the
// entries and decomposition of sampled transforms, each
// with its mean as a scalar.
//
// Models without a transformation branch only log the
// first grid.
func (m *Model) Callback(l Logger, images anyvec.Vector, epoch int) (err error) {
	defer essentials.AddCtxTo("callback", &err)
	shape := m.Config.InputShape
	count := callbackGridSize * callbackGridSize

	samples, err := m.SampleFixedTransform(count, affine.Matrix{})
	if err != nil {
		return err
	}
	err = l.AddImage("samples/fixed_trans",
		vis.Grid(shape, nn.Float64s(samples), callbackGridSize, vis.DefaultPadding), epoch)
	if err != nil {
		return err
	}

	if !m.Config.Kind.Transforms() {
		return nil
	}

	if images != nil && images.Len() >= shape.Volume() {
		samples, err = m.SampleFixedContent(count, images.Slice(0, shape.Volume()))
		if err != nil {
			return err
		}
		err = l.AddImage("samples/fixed_img",
			vis.Grid(shape, nn.Float64s(samples), callbackGridSize, vis.DefaultPadding), epoch)
		if err != nil {
			return err
		}
	}

	transforms, err := m.SampleTransformation(callbackTransforms)
	if err != nil {
		return err
	}
	for i := 0; i < 6; i++ {
		column := make([]float64, len(transforms))
		var mean float64
		for j, t := range transforms {
			column[j] = t[i]
			mean += t[i]
		}
		mean /= float64(len(transforms))
		if err := l.AddHistogram(fmt.Sprintf("transformation/a%d", i), column, epoch); err != nil {
			return err
		}
		if err := l.AddScalar(fmt.Sprintf("transformation/mean_a%d", i), mean, epoch); err != nil {
			return err
		}
	}
	for i, values := range affine.DecomposeBatch(transforms) {
		if len(values) == 0 {
			continue
		}
		tag := affine.ParamNames[i]
		if err := l.AddHistogram("transformation/"+tag, values, epoch); err != nil {
			return err
		}
		err := l.AddScalar("transformation/mean_"+tag, stat.Mean(values, nil), epoch)
		if err != nil {
			return err
		}
	}
	return nil
}
