// Package train fits VITAE models with mini-batch
// gradient descent.
package train

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"math/rand"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/vitae"
	"github.com/unixpickle/vitae/data"
	"github.com/unixpickle/vitae/nn"
	"github.com/unixpickle/vitae/vis"
)

const (
	DefaultLearningRate = 1e-4
	DefaultBatchSize    = 256

	reconGridImages = 8
)

// ErrNonFinite is returned when the loss becomes NaN or
// infinite.
var ErrNonFinite = errors.New("loss is not finite")

// Stats summarizes the loss over some images.
// Every value is an average per image.
type Stats struct {
	Total  float64
	Recon  float64
	KL1    float64
	KL2    float64
	Weight float64
	Images int
}

func (s *Stats) add(loss float64, l *lossValues, n int) {
	s.Total += loss
	s.Recon += l.Recon
	s.KL1 += l.KL1
	s.KL2 += l.KL2
	s.Weight = l.Weight
	s.Images += n
}

func (s *Stats) normalize() {
	if s.Images == 0 {
		return
	}
	scale := 1 / float64(s.Images)
	s.Total *= scale
	s.Recon *= scale
	s.KL1 *= scale
	s.KL2 *= scale
}

type lossValues struct {
	Recon, KL1, KL2, Weight float64
}

// A Trainer fits a model to a dataset.
type Trainer struct {
	Model *vitae.Model

	// Optimizer transforms gradients before each step.
	// If nil, Adam is used.
	Optimizer Transformer

	// LearningRate is the step size.
	// If 0, DefaultLearningRate is used.
	LearningRate float64

	// BatchSize is the mini-batch size.
	// If 0, DefaultBatchSize is used.
	BatchSize int

	// Warmup is the number of epochs over which the KL
	// weight grows to 1.
	Warmup int

	// Logger, if non-nil, receives scalars, images and
	// the model's end-of-epoch callback.
	Logger vitae.Logger

	// CallbackEvery runs the model's callback every this
	// many epochs. If 0, the callback runs every epoch.
	CallbackEvery int

	// CalibrationBatches is the number of training batches
	// used to set BatchNorm statistics after every epoch.
	// If 0, no calibration is done.
	CalibrationBatches int

	// LogInterval is the number of batches between
	// progress lines. If 0, progress is not printed.
	LogInterval int

	// Rand shuffles the training set.
	// If nil, a source seeded with 0 is created.
	Rand *rand.Rand

	// Iteration counts the steps taken so far.
	Iteration int

	// Epoch counts the epochs completed so far.
	// Fit continues numbering from Epoch+1, so a resumed
	// run keeps its place in the KL warmup.
	Epoch int
}

// Fit trains for the given number of epochs.
//
// Epochs are numbered from t.Epoch+1 for the KL warmup,
// and t.Epoch is advanced as each epoch finishes.
// The test set may be nil, in which case evaluation and
// the test reconstruction grid are skipped.
// Fit returns ctx.Err() if the context is cancelled
// between batches.
func (t *Trainer) Fit(ctx context.Context, trainSet, testSet *data.Dataset,
	epochs int) error {
	if t.Model == nil {
		return vitae.ErrUnconstructed
	}
	if trainSet.Len() == 0 {
		return errors.New("fit: empty training set")
	}
	if trainSet.Shape != t.Model.Config.InputShape {
		return fmt.Errorf("fit: dataset shape %v does not match model shape %v",
			trainSet.Shape, t.Model.Config.InputShape)
	}
	if t.Optimizer == nil {
		t.Optimizer = Adam.NewTransformer()
	}
	if t.Rand == nil {
		t.Rand = rand.New(rand.NewSource(0))
	}
	c := t.Model.Creator()
	for e := 0; e < epochs; e++ {
		epoch := t.Epoch + 1
		batches := data.Batches(trainSet.Len(), t.batchSize(), t.Rand)
		for i, idx := range batches {
			if err := ctx.Err(); err != nil {
				return err
			}
			stats, err := t.Step(trainSet.Batch(c, idx), len(idx), epoch)
			if err != nil {
				return essentials.AddCtx(fmt.Sprintf("epoch %d batch %d", epoch, i), err)
			}
			if err := t.logStats("train", stats, t.Iteration); err != nil {
				return err
			}
			if t.LogInterval > 0 && i%t.LogInterval == 0 {
				log.Printf("epoch %d batch %d/%d: loss=%f recon=%f kl1=%f kl2=%f",
					epoch, i, len(batches), stats.Total, stats.Recon, stats.KL1, stats.KL2)
			}
		}
		if err := t.endEpoch(trainSet, testSet, batches, epoch); err != nil {
			return essentials.AddCtx(fmt.Sprintf("end of epoch %d", epoch), err)
		}
		t.Epoch = epoch
	}
	return nil
}

// Step takes one gradient step on a batch of n images.
func (t *Trainer) Step(batch anyvec.Vector, n, epoch int) (*Stats, error) {
	in := anydiff.NewConst(batch)
	out, err := t.Model.Forward(in, n, nn.Training)
	if err != nil {
		return nil, err
	}
	loss, err := t.Model.LossF(in, out, epoch, t.Warmup)
	if err != nil {
		return nil, err
	}
	total := nn.Float64s(loss.Total.Output())[0]
	if math.IsNaN(total) || math.IsInf(total, 0) {
		return nil, ErrNonFinite
	}

	params := t.Model.Parameters()
	grad := anydiff.NewGrad(params...)
	c := batch.Creator()
	loss.Total.Propagate(nn.MakeVector(c, []float64{1}), grad)
	grad = t.Optimizer.Transform(grad)
	grad.Scale(c.MakeNumeric(-t.learningRate()))
	grad.AddToVars()
	t.Iteration++

	stats := &Stats{}
	stats.add(total, &lossValues{loss.Recon, loss.KL1, loss.KL2, loss.Weight}, n)
	stats.normalize()
	return stats, nil
}

// Evaluate computes the loss of the model on a dataset in
// Evaluation mode with a KL weight of 1.
func (t *Trainer) Evaluate(d *data.Dataset) (*Stats, error) {
	c := t.Model.Creator()
	stats := &Stats{}
	for _, idx := range data.Batches(d.Len(), t.batchSize(), nil) {
		in := anydiff.NewConst(d.Batch(c, idx))
		out, err := t.Model.Forward(in, len(idx), nn.Evaluation)
		if err != nil {
			return nil, err
		}
		loss, err := t.Model.LossF(in, out, 0, 0)
		if err != nil {
			return nil, err
		}
		total := nn.Float64s(loss.Total.Output())[0]
		stats.add(total, &lossValues{loss.Recon, loss.KL1, loss.KL2, loss.Weight}, len(idx))
	}
	stats.normalize()
	return stats, nil
}

func (t *Trainer) endEpoch(trainSet, testSet *data.Dataset, batches [][]int,
	epoch int) error {
	c := t.Model.Creator()
	if t.CalibrationBatches > 0 {
		var calib []anyvec.Vector
		for i := 0; i < t.CalibrationBatches && i < len(batches); i++ {
			calib = append(calib, trainSet.Batch(c, batches[i]))
		}
		if err := t.Model.Calibrate(calib); err != nil {
			return err
		}
	}
	if testSet != nil && testSet.Len() > 0 {
		stats, err := t.Evaluate(testSet)
		if err != nil {
			return essentials.AddCtx("evaluate", err)
		}
		log.Printf("epoch %d: test loss=%f recon=%f kl1=%f kl2=%f", epoch, stats.Total,
			stats.Recon, stats.KL1, stats.KL2)
		if err := t.logStats("test", stats, epoch); err != nil {
			return err
		}
	}
	if t.Logger == nil {
		return nil
	}
	if err := t.logRecon("train/recon", trainSet, epoch); err != nil {
		return err
	}
	var first anyvec.Vector
	if testSet != nil && testSet.Len() > 0 {
		if err := t.logRecon("test/recon", testSet, epoch); err != nil {
			return err
		}
		first = testSet.Batch(c, []int{0})
	} else {
		first = trainSet.Batch(c, []int{0})
	}
	if t.CallbackEvery == 0 || epoch%t.CallbackEvery == 0 {
		return t.Model.Callback(t.Logger, first, epoch)
	}
	return nil
}

func (t *Trainer) logStats(prefix string, s *Stats, step int) error {
	if t.Logger == nil {
		return nil
	}
	for _, scalar := range []struct {
		name  string
		value float64
	}{
		{"total_loss", s.Total},
		{"recon_loss", s.Recon},
		{"KL_loss1", s.KL1},
		{"KL_loss2", s.KL2},
		{"kl_weight", s.Weight},
	} {
		if err := t.Logger.AddScalar(prefix+"/"+scalar.name, scalar.value, step); err != nil {
			return err
		}
	}
	return nil
}

// logRecon logs a grid with images from a dataset in the
// top row and their reconstructions below.
func (t *Trainer) logRecon(tag string, d *data.Dataset, epoch int) error {
	n := reconGridImages
	if d.Len() < n {
		n = d.Len()
	}
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	batch := d.Batch(t.Model.Creator(), idx)
	out, err := t.Model.Forward(anydiff.NewConst(batch), n, nn.Evaluation)
	if err != nil {
		return err
	}
	images := append(nn.Float64s(batch), nn.Float64s(out.Recon.Output())...)
	grid := vis.Grid(d.Shape, images, n, vis.DefaultPadding)
	return t.Logger.AddImage(tag, grid, epoch)
}

func (t *Trainer) batchSize() int {
	if t.BatchSize == 0 {
		return DefaultBatchSize
	}
	return t.BatchSize
}

func (t *Trainer) learningRate() float64 {
	return valueOrDefault(t.LearningRate, DefaultLearningRate)
}
