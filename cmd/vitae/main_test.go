package main

import (
	"bytes"
	"image/png"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
	"github.com/unixpickle/vitae"
	"github.com/unixpickle/vitae/data"
	"github.com/unixpickle/vitae/elbo"
	"github.com/unixpickle/vitae/nn"
)

func TestResolveConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	contents := "model: vitae_conv\nn_epochs: 7\nlr: 0.01\nclasses: \"1, 7\"\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))

	cfg := DefaultRunConfig()
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	cfg.AddFlags(flags)
	require.NoError(t, flags.Parse([]string{"--n-epochs", "3", "--density", "gaussian"}))
	require.NoError(t, cfg.Resolve(flags, path))

	require.Equal(t, "vitae_conv", cfg.Model)
	require.Equal(t, 3, cfg.Epochs)
	require.Equal(t, 0.01, cfg.LearningRate)
	require.Equal(t, "gaussian", cfg.Density)
	require.Equal(t, 28, cfg.ImageSize)

	classes, err := cfg.ClassList()
	require.NoError(t, err)
	require.Equal(t, []int{1, 7}, classes)

	modelCfg, err := cfg.ModelConfig()
	require.NoError(t, err)
	require.Equal(t, vitae.Conv, modelCfg.Kind)
	require.Equal(t, elbo.Gaussian, modelCfg.Density)
	require.Equal(t, 32, modelCfg.TransformLatent)
}

func TestDefaultRunConfig(t *testing.T) {
	cfg := DefaultRunConfig()
	require.Equal(t, 256, cfg.BatchSize)
	require.Equal(t, 1e-4, cfg.LearningRate)
	modelCfg, err := cfg.ModelConfig()
	require.NoError(t, err)
	require.Equal(t, vitae.MLP, modelCfg.Kind)
}

func TestConfigErrors(t *testing.T) {
	cfg := DefaultRunConfig()
	cfg.Classes = "1,x"
	_, err := cfg.ClassList()
	require.Error(t, err)

	cfg = DefaultRunConfig()
	cfg.Model = "vae"
	_, err = cfg.ModelConfig()
	require.Error(t, err)

	cfg = DefaultRunConfig()
	cfg.Model = "conv"
	cfg.ImageSize = 3
	_, err = cfg.ModelConfig()
	require.Error(t, err)

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	cfg.AddFlags(flags)
	require.Error(t, cfg.Resolve(flags, filepath.Join(t.TempDir(), "missing.yaml")))
}

func TestSaveConfig(t *testing.T) {
	cfg := DefaultRunConfig()
	cfg.Seed = 42
	path := filepath.Join(t.TempDir(), "hparams.yaml")
	require.NoError(t, cfg.Save(path))

	loaded := DefaultRunConfig()
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	loaded.AddFlags(flags)
	require.NoError(t, loaded.Resolve(flags, path))
	require.Equal(t, cfg, loaded)
}

func smallModel(t *testing.T) *vitae.Model {
	cfg := DefaultRunConfig()
	cfg.ImageSize = 8
	cfg.LatentDim = 2
	m, err := newModel(cfg)
	require.NoError(t, err)
	m.Rand = rand.New(rand.NewSource(1))
	return m
}

func TestSummary(t *testing.T) {
	m := smallModel(t)
	var total int
	for _, row := range Summarize(m) {
		total += row.Params
	}
	var expected int
	for _, p := range m.Parameters() {
		expected += p.Vector.Len()
	}
	require.Equal(t, expected, total)

	var buf bytes.Buffer
	WriteSummary(&buf, m)
	require.Contains(t, buf.String(), "vitae_mlp")
	require.Contains(t, buf.String(), "content decoder")
	require.Contains(t, buf.String(), "FC(")
}

func TestExportEmbeddings(t *testing.T) {
	m := smallModel(t)
	d := data.Binary(7, m.Config.InputShape, rand.New(rand.NewSource(2)))
	dir := t.TempDir()
	require.NoError(t, ExportEmbeddings(dir, m, d, 3))

	for name, cols := range map[string]int{
		"latent_content.tsv":   2,
		"latent_transform.tsv": 2,
		"labels.tsv":           1,
	} {
		contents, err := os.ReadFile(filepath.Join(dir, name))
		require.NoError(t, err)
		lines := strings.Split(strings.TrimSpace(string(contents)), "\n")
		require.Len(t, lines, 7, name)
		require.Len(t, strings.Split(lines[0], "\t"), cols, name)
	}
}

func TestSampleCommand(t *testing.T) {
	m := smallModel(t)
	dir := t.TempDir()
	modelPath := filepath.Join(dir, "model.bin")
	require.NoError(t, m.Save(modelPath))

	outPath := filepath.Join(dir, "samples.png")
	cli := NewCLI()
	cli.SetArgs([]string{"sample", "--model-path", modelPath, "--out", outPath, "--n", "3",
		"--scale", "1"})
	require.NoError(t, cli.Execute())

	f, err := os.Open(outPath)
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	require.Equal(t, 3*(8+2)+2, img.Bounds().Dx())
}

func TestTrainCommand(t *testing.T) {
	imageDir := t.TempDir()
	shape := nn.Shape{Channels: 1, Height: 8, Width: 8}
	writeImageDir(t, imageDir, data.Binary(12, shape, rand.New(rand.NewSource(3))))

	logDir := t.TempDir()
	cli := NewCLI()
	cli.SetArgs([]string{"train", "--dataset", "dir", "--data-dir", imageDir,
		"--img-size", "8", "--latent-dim", "2", "--n-epochs", "1", "--batch-size", "4",
		"--calibration-batches", "1", "--logdir", logDir})
	require.NoError(t, cli.Execute())

	matches, err := filepath.Glob(filepath.Join(logDir, "*", "model.bin"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	runDir := filepath.Dir(matches[0])
	require.FileExists(t, filepath.Join(runDir, "hparams.yaml"))
	require.FileExists(t, filepath.Join(runDir, "latent_content.tsv"))
	require.FileExists(t, filepath.Join(logDir, "events.db"))

	loaded, err := vitae.Load(matches[0])
	require.NoError(t, err)
	require.Equal(t, shape, loaded.Config.InputShape)

	state, err := LoadTrainState(matches[0])
	require.NoError(t, err)
	require.Equal(t, 1, state.Epoch)
	require.Positive(t, state.Iteration)
	perEpoch := state.Iteration

	resumeDir := t.TempDir()
	cli = NewCLI()
	cli.SetArgs([]string{"train", "--dataset", "dir", "--data-dir", imageDir,
		"--img-size", "8", "--latent-dim", "2", "--n-epochs", "2", "--batch-size", "4",
		"--calibration-batches", "1", "--logdir", resumeDir, "--resume", matches[0]})
	require.NoError(t, cli.Execute())

	resumed, err := filepath.Glob(filepath.Join(resumeDir, "*", "model.bin"))
	require.NoError(t, err)
	require.Len(t, resumed, 1)
	state, err = LoadTrainState(resumed[0])
	require.NoError(t, err)
	require.Equal(t, 3, state.Epoch)
	require.Equal(t, 3*perEpoch, state.Iteration)
}

func TestLoadTrainStateMissing(t *testing.T) {
	state, err := LoadTrainState(filepath.Join(t.TempDir(), "model.bin"))
	require.NoError(t, err)
	require.Equal(t, &TrainState{}, state)
}

func TestTrainVAE(t *testing.T) {
	imageDir := t.TempDir()
	shape := nn.Shape{Channels: 1, Height: 8, Width: 8}
	writeImageDir(t, imageDir, data.Binary(12, shape, rand.New(rand.NewSource(4))))

	logDir := t.TempDir()
	cli := NewCLI()
	cli.SetArgs([]string{"train", "--model", "vae", "--dataset", "dir", "--data-dir",
		imageDir, "--img-size", "8", "--latent-dim", "2", "--n-epochs", "1",
		"--batch-size", "4", "--calibration-batches", "1", "--logdir", logDir})
	require.NoError(t, cli.Execute())

	matches, err := filepath.Glob(filepath.Join(logDir, "*", "model.bin"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	runDir := filepath.Dir(matches[0])
	require.FileExists(t, filepath.Join(runDir, "latent_content.tsv"))
	require.NoFileExists(t, filepath.Join(runDir, "latent_transform.tsv"))
}
