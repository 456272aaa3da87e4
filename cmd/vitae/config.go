package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/vitae"
	"github.com/unixpickle/vitae/elbo"
	"github.com/unixpickle/vitae/nn"
	"github.com/unixpickle/vitae/train"
	"gopkg.in/yaml.v3"
)

// RunConfig holds every setting of a training run.
type RunConfig struct {
	Model              string  `yaml:"model"`
	Epochs             int     `yaml:"n_epochs"`
	BatchSize          int     `yaml:"batch_size"`
	LearningRate       float64 `yaml:"lr"`
	LatentDim          int     `yaml:"latent_dim"`
	TransformLatentDim int     `yaml:"transform_latent_dim"`
	ImageSize          int     `yaml:"img_size"`
	Channels           int     `yaml:"channels"`
	Warmup             int     `yaml:"warmup"`
	EqSamples          int     `yaml:"eq_samples"`
	IWSamples          int     `yaml:"iw_samples"`
	Density            string  `yaml:"density"`
	Optimizer          string  `yaml:"optimizer"`
	Classes            string  `yaml:"classes"`
	Dataset            string  `yaml:"dataset"`
	DataDir            string  `yaml:"data_dir"`
	TrainRatio         float64 `yaml:"train_ratio"`
	CallbackEvery      int     `yaml:"callback_every"`
	CalibrationBatches int     `yaml:"calibration_batches"`
	Seed               int64   `yaml:"seed"`
	LogDir             string  `yaml:"logdir"`
	Resume             string  `yaml:"resume"`
}

// DefaultRunConfig returns the settings used for MNIST.
func DefaultRunConfig() *RunConfig {
	return &RunConfig{
		Model:              "vitae_mlp",
		Epochs:             10,
		BatchSize:          train.DefaultBatchSize,
		LearningRate:       train.DefaultLearningRate,
		LatentDim:          32,
		ImageSize:          28,
		Channels:           1,
		Warmup:             1,
		EqSamples:          1,
		IWSamples:          1,
		Density:            "bernoulli",
		Optimizer:          "adam",
		Dataset:            "mnist",
		TrainRatio:         0.8,
		CallbackEvery:      1,
		CalibrationBatches: 10,
		LogDir:             "logs",
	}
}

// AddFlags registers a flag for every setting.
func (r *RunConfig) AddFlags(f *pflag.FlagSet) {
	f.StringVar(&r.Model, "model", r.Model, "model to train (vitae_mlp, vitae_conv or vae)")
	f.IntVar(&r.Epochs, "n-epochs", r.Epochs, "number of epochs")
	f.IntVar(&r.BatchSize, "batch-size", r.BatchSize, "mini-batch size")
	f.Float64Var(&r.LearningRate, "lr", r.LearningRate, "learning rate")
	f.IntVar(&r.LatentDim, "latent-dim", r.LatentDim, "latent dimension of each branch")
	f.IntVar(&r.TransformLatentDim, "transform-latent-dim", r.TransformLatentDim,
		"transformation latent dimension (0 to use --latent-dim)")
	f.IntVar(&r.ImageSize, "img-size", r.ImageSize, "image width and height")
	f.IntVar(&r.Channels, "channels", r.Channels, "image channels (1 or 3)")
	f.IntVar(&r.Warmup, "warmup", r.Warmup, "epochs of KL warmup")
	f.IntVar(&r.EqSamples, "eq-samples", r.EqSamples, "equally weighted samples per image")
	f.IntVar(&r.IWSamples, "iw-samples", r.IWSamples, "importance weighted samples per image")
	f.StringVar(&r.Density, "density", r.Density, "output density (bernoulli or gaussian)")
	f.StringVar(&r.Optimizer, "optimizer", r.Optimizer, "optimizer (adam, rmsprop, momentum)")
	f.StringVar(&r.Classes, "classes", r.Classes, "comma-separated classes to train on")
	f.StringVar(&r.Dataset, "dataset", r.Dataset, "dataset (mnist or dir)")
	f.StringVar(&r.DataDir, "data-dir", r.DataDir, "image directory for the dir dataset")
	f.Float64Var(&r.TrainRatio, "train-ratio", r.TrainRatio,
		"fraction of the image directory used for training")
	f.IntVar(&r.CallbackEvery, "callback-every", r.CallbackEvery,
		"epochs between sample logs")
	f.IntVar(&r.CalibrationBatches, "calibration-batches", r.CalibrationBatches,
		"batches used to calibrate normalization statistics")
	f.Int64Var(&r.Seed, "seed", r.Seed, "random seed")
	f.StringVar(&r.LogDir, "logdir", r.LogDir, "directory for logs and checkpoints")
	f.StringVar(&r.Resume, "resume", r.Resume, "checkpoint to continue training from")
}

// Resolve applies a YAML config file, if one was given,
// underneath the flags the user set explicitly.
func (r *RunConfig) Resolve(f *pflag.FlagSet, path string) error {
	if path == "" {
		return nil
	}
	explicit := map[string]string{}
	f.Visit(func(fl *pflag.Flag) {
		explicit[fl.Name] = fl.Value.String()
	})
	data, err := os.ReadFile(path)
	if err != nil {
		return essentials.AddCtx("read config", err)
	}
	if err := yaml.Unmarshal(data, r); err != nil {
		return essentials.AddCtx("parse config "+path, err)
	}
	for name, value := range explicit {
		if name == "config" {
			continue
		}
		if err := f.Set(name, value); err != nil {
			return err
		}
	}
	return nil
}

// Save writes the settings as YAML.
func (r *RunConfig) Save(path string) error {
	data, err := yaml.Marshal(r)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ClassList parses the class filter.
func (r *RunConfig) ClassList() ([]int, error) {
	if strings.TrimSpace(r.Classes) == "" {
		return nil, nil
	}
	var res []int
	for _, s := range strings.Split(r.Classes, ",") {
		c, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("invalid class %q", s)
		}
		res = append(res, c)
	}
	return res, nil
}

// ModelConfig builds the architecture settings.
func (r *RunConfig) ModelConfig() (vitae.Config, error) {
	kind, err := vitae.ParseKind(r.Model)
	if err != nil {
		return vitae.Config{}, err
	}
	density, err := elbo.ParseDensity(r.Density)
	if err != nil {
		return vitae.Config{}, err
	}
	transformLatent := r.TransformLatentDim
	if transformLatent == 0 {
		transformLatent = r.LatentDim
	}
	cfg := vitae.Config{
		Kind: kind,
		InputShape: nn.Shape{
			Channels: r.Channels,
			Height:   r.ImageSize,
			Width:    r.ImageSize,
		},
		ContentLatent:   r.LatentDim,
		TransformLatent: transformLatent,
		EqSamples:       r.EqSamples,
		IWSamples:       r.IWSamples,
		Density:         density,
	}
	return cfg, cfg.Validate()
}

const stateName = "state.yaml"

// TrainState records how far a checkpoint has been
// trained. It is stored next to the checkpoint.
type TrainState struct {
	Epoch     int `yaml:"epoch"`
	Iteration int `yaml:"iteration"`
}

// LoadTrainState reads the state stored next to a
// checkpoint.
// A checkpoint without a state starts from zero.
func LoadTrainState(checkpoint string) (*TrainState, error) {
	data, err := os.ReadFile(filepath.Join(filepath.Dir(checkpoint), stateName))
	if errors.Is(err, fs.ErrNotExist) {
		return &TrainState{}, nil
	} else if err != nil {
		return nil, essentials.AddCtx("load train state", err)
	}
	var res TrainState
	if err := yaml.Unmarshal(data, &res); err != nil {
		return nil, essentials.AddCtx("load train state", err)
	}
	return &res, nil
}

// Save writes the state into a run directory.
func (s *TrainState) Save(dir string) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, stateName), data, 0644)
}
