package tblog

import (
	"image"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/unixpickle/vitae"
)

var _ vitae.Logger = (*Writer)(nil)

func TestScalars(t *testing.T) {
	w, err := Open(t.TempDir())
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.AddScalar("train/loss", 3, 2))
	require.NoError(t, w.AddScalar("train/loss", 5, 1))
	require.NoError(t, w.AddScalar("test/loss", 7, 1))

	events, err := w.Scalars("train/loss")
	require.NoError(t, err)
	require.Equal(t, []ScalarEvent{{Step: 1, Value: 5}, {Step: 2, Value: 3}}, events)

	events, err = w.Scalars("missing")
	require.NoError(t, err)
	require.Empty(t, events)
}

func TestRunsShareDirectory(t *testing.T) {
	dir := t.TempDir()
	w1, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, w1.AddScalar("x", 1, 0))
	require.NoError(t, w1.Close())

	w2, err := Open(dir)
	require.NoError(t, err)
	defer w2.Close()
	require.NotEqual(t, w1.RunID, w2.RunID)
	events, err := w2.Scalars("x")
	require.NoError(t, err)
	require.Empty(t, events)
}

func TestHistograms(t *testing.T) {
	w, err := Open(t.TempDir())
	require.NoError(t, err)
	defer w.Close()

	rng := rand.New(rand.NewSource(1))
	values := make([]float64, 1000)
	for i := range values {
		values[i] = rng.NormFloat64()
	}
	require.NoError(t, w.AddHistogram("transformation/a0", values, 4))

	hists, err := w.Histograms("transformation/a0")
	require.NoError(t, err)
	require.Len(t, hists, 1)
	h := hists[0]
	require.Equal(t, 4, h.Step)
	require.Equal(t, 1000, h.Count)
	require.Len(t, h.Edges, len(h.Counts)+1)

	var total float64
	for _, c := range h.Counts {
		total += c
	}
	require.Equal(t, 1000.0, total)
}

func TestNewHistogram(t *testing.T) {
	h := NewHistogram([]float64{2, 2, 2})
	require.Equal(t, 3, h.Count)
	require.Equal(t, 6.0, h.Sum)
	require.Equal(t, 12.0, h.SumSquares)
	var total float64
	for _, c := range h.Counts {
		total += c
	}
	require.Equal(t, 3.0, total)

	// Sturges gives ceil(log2(8))+1 = 4 bins for uniform
	// data, while Freedman-Diaconis gives ceil(7/(2*4/2)) = 2.
	h = NewHistogram([]float64{0, 1, 2, 3, 4, 5, 6, 7})
	require.Len(t, h.Counts, 4)
	require.Equal(t, []float64{2, 2, 2, 2}, h.Counts)

	empty := NewHistogram(nil)
	require.Equal(t, 0, empty.Count)
	require.Empty(t, empty.Counts)
}

func TestImages(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir)
	require.NoError(t, err)
	defer w.Close()

	img := image.NewGray(image.Rect(0, 0, 5, 3))
	require.NoError(t, w.AddImage("samples/fixed_trans", img, 2))
	paths, err := w.ImagePaths("samples/fixed_trans")
	require.NoError(t, err)
	require.Len(t, paths, 1)
	require.Equal(t, filepath.Join(dir, "images"), filepath.Dir(paths[0]))

	f, err := os.Open(paths[0])
	require.NoError(t, err)
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	require.NoError(t, err)
	require.Equal(t, 5, cfg.Width)
	require.Equal(t, 3, cfg.Height)
}
