package nn

import (
	"errors"
	"fmt"

	"github.com/unixpickle/anyvec"
)

// BeginCalibration clears the population statistics of
// the layers and makes them record the moments of every
// input they see until EndCalibration is called.
//
// While calibrating, run the network on representative
// data; Evaluation mode will use batch statistics since
// the population statistics have been cleared.
func BeginCalibration(layers []*BatchNorm) {
	for _, l := range layers {
		l.Mean = nil
		l.Variance = nil
		l.collector = &moments{
			Sum:   make([]float64, l.InputCount),
			SqSum: make([]float64, l.InputCount),
		}
	}
}

// EndCalibration stores the recorded moments as each
// layer's population statistics.
//
// It fails if any layer saw no inputs, in which case no
// layer is modified beyond stopping the recording.
func EndCalibration(layers []*BatchNorm) error {
	for i, l := range layers {
		if l.collector == nil {
			return fmt.Errorf("end calibration: layer %d is not calibrating", i)
		} else if l.collector.Rows == 0 {
			for _, l := range layers {
				l.collector = nil
			}
			return errors.New("end calibration: no inputs were observed")
		}
	}
	for _, l := range layers {
		mean, variance := l.collector.Stats()
		c := l.Scalers.Vector.Creator()
		l.Mean = MakeVector(c, mean)
		l.Variance = MakeVector(c, variance)
		l.collector = nil
	}
	return nil
}

type moments struct {
	Sum   []float64
	SqSum []float64
	Rows  int
}

func (m *moments) Add(v anyvec.Vector) {
	data := Float64s(v)
	cols := len(m.Sum)
	for i, x := range data {
		m.Sum[i%cols] += x
		m.SqSum[i%cols] += x * x
	}
	m.Rows += len(data) / cols
}

func (m *moments) Stats() (mean, variance []float64) {
	mean = make([]float64, len(m.Sum))
	variance = make([]float64, len(m.Sum))
	for i, s := range m.Sum {
		mean[i] = s / float64(m.Rows)
		variance[i] = m.SqSum[i]/float64(m.Rows) - mean[i]*mean[i]
		if variance[i] < 0 {
			variance[i] = 0
		}
	}
	return
}

// CancelCalibration stops recording without setting any
// population statistics.
func CancelCalibration(layers []*BatchNorm) {
	for _, l := range layers {
		l.collector = nil
	}
}
