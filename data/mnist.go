package data

import (
	"github.com/unixpickle/mnist"
	"github.com/unixpickle/vitae/nn"
)

// MNISTShape is the shape of an MNIST digit.
var MNISTShape = nn.Shape{Channels: 1, Height: 28, Width: 28}

// MNIST loads the MNIST training and testing sets,
// keeping only the given classes (or every class if
// classes is empty).
func MNIST(classes []int) (train, test *Dataset) {
	train = convertMNIST(mnist.LoadTrainingDataSet()).Filter(classes)
	test = convertMNIST(mnist.LoadTestingDataSet()).Filter(classes)
	return
}

func convertMNIST(d mnist.DataSet) *Dataset {
	res := &Dataset{
		Shape:   nn.Shape{Channels: 1, Height: d.Height, Width: d.Width},
		Samples: make([]Sample, len(d.Samples)),
	}
	for i, s := range d.Samples {
		res.Samples[i] = Sample{Image: s.Intensities, Label: s.Label}
	}
	return res
}
