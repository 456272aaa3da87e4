// Package data loads image datasets and packs them into
// mini-batches.
package data

import (
	"fmt"
	"math/rand"

	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/vitae/nn"
)

// A Sample is one image and its class label.
//
// The image is stored row-major with channels innermost,
// with values in [0, 1].
type Sample struct {
	Image []float64
	Label int
}

// A Dataset is a list of images of one shape.
type Dataset struct {
	Shape   nn.Shape
	Samples []Sample
}

// Len returns the number of samples.
func (d *Dataset) Len() int {
	return len(d.Samples)
}

// Filter returns the samples whose label is one of the
// given classes.
//
// If classes is empty, d itself is returned.
func (d *Dataset) Filter(classes []int) *Dataset {
	if len(classes) == 0 {
		return d
	}
	keep := map[int]bool{}
	for _, c := range classes {
		keep[c] = true
	}
	res := &Dataset{Shape: d.Shape}
	for _, s := range d.Samples {
		if keep[s.Label] {
			res.Samples = append(res.Samples, s)
		}
	}
	return res
}

// Batch packs the images at the given indices into one
// vector.
func (d *Dataset) Batch(c anyvec.Creator, indices []int) anyvec.Vector {
	vol := d.Shape.Volume()
	data := make([]float64, 0, len(indices)*vol)
	for _, i := range indices {
		data = append(data, d.Samples[i].Image...)
	}
	return nn.MakeVector(c, data)
}

// Labels returns the labels of the samples at the given
// indices.
func (d *Dataset) Labels(indices []int) []int {
	res := make([]int, len(indices))
	for i, idx := range indices {
		res[i] = d.Samples[idx].Label
	}
	return res
}

// Check verifies that every image matches the shape.
func (d *Dataset) Check() error {
	if err := d.Shape.Valid(); err != nil {
		return err
	}
	for i, s := range d.Samples {
		if len(s.Image) != d.Shape.Volume() {
			return fmt.Errorf("sample %d: image length %d does not match shape %v", i,
				len(s.Image), d.Shape)
		}
	}
	return nil
}

// Batches splits the indices [0, n) into batches of at
// most size elements.
//
// If rng is non-nil, the indices are shuffled first.
// Only the last batch may be smaller than size.
func Batches(n, size int, rng *rand.Rand) [][]int {
	if size <= 0 {
		size = n
	}
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	if rng != nil {
		rng.Shuffle(n, func(i, j int) {
			perm[i], perm[j] = perm[j], perm[i]
		})
	}
	var res [][]int
	for i := 0; i < n; i += size {
		end := i + size
		if end > n {
			end = n
		}
		res = append(res, perm[i:end])
	}
	return res
}

// Binary creates n random binary images with one of two
// labels, which is useful for smoke tests.
func Binary(n int, shape nn.Shape, rng *rand.Rand) *Dataset {
	res := &Dataset{Shape: shape, Samples: make([]Sample, n)}
	for i := range res.Samples {
		img := make([]float64, shape.Volume())
		for j := range img {
			if rng.Intn(2) == 0 {
				img[j] = 1
			}
		}
		res.Samples[i] = Sample{Image: img, Label: i % 2}
	}
	return res
}
