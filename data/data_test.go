package data

import (
	"fmt"
	"image"
	"image/color"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/unixpickle/anyvec/anyvec64"
	"github.com/unixpickle/vitae/nn"
	"github.com/unixpickle/vitae/vis"
)

func TestBatches(t *testing.T) {
	batches := Batches(10, 3, rand.New(rand.NewSource(1)))
	require.Len(t, batches, 4)
	require.Len(t, batches[3], 1)

	seen := map[int]bool{}
	for _, b := range batches {
		for _, i := range b {
			require.False(t, seen[i], "duplicate index %d", i)
			seen[i] = true
		}
	}
	require.Len(t, seen, 10)

	ordered := Batches(5, 0, nil)
	require.Equal(t, [][]int{{0, 1, 2, 3, 4}}, ordered)
	require.Empty(t, Batches(0, 4, nil))
}

func TestDatasetBatch(t *testing.T) {
	shape := nn.Shape{Channels: 1, Height: 2, Width: 2}
	d := &Dataset{
		Shape: shape,
		Samples: []Sample{
			{Image: []float64{0, 0.1, 0.2, 0.3}, Label: 3},
			{Image: []float64{1, 0.9, 0.8, 0.7}, Label: 5},
		},
	}
	require.NoError(t, d.Check())

	batch := d.Batch(anyvec64.CurrentCreator(), []int{1, 0})
	require.Equal(t, []float64{1, 0.9, 0.8, 0.7, 0, 0.1, 0.2, 0.3}, nn.Float64s(batch))
	require.Equal(t, []int{5, 3}, d.Labels([]int{1, 0}))

	filtered := d.Filter([]int{5})
	require.Equal(t, 1, filtered.Len())
	require.Equal(t, 5, filtered.Samples[0].Label)
	require.Equal(t, d, d.Filter(nil))

	d.Samples[0].Image = d.Samples[0].Image[:3]
	require.Error(t, d.Check())
}

func TestBinary(t *testing.T) {
	shape := nn.Shape{Channels: 1, Height: 28, Width: 28}
	d := Binary(4, shape, rand.New(rand.NewSource(2)))
	require.NoError(t, d.Check())
	require.Equal(t, 4, d.Len())
	for _, s := range d.Samples {
		for _, x := range s.Image {
			require.True(t, x == 0 || x == 1)
		}
	}
}

func TestHashSplit(t *testing.T) {
	var samples []Sample
	var keys []string
	for i := 0; i < 1000; i++ {
		samples = append(samples, Sample{Label: i})
		keys = append(keys, fmt.Sprintf("class/%d.png", i))
	}
	left, right := HashSplit(samples, keys, 0.8)
	require.Equal(t, 1000, len(left)+len(right))
	require.InDelta(t, 800, len(left), 60)

	// The partition of a sample does not depend on the
	// other samples.
	subLeft, _ := HashSplit(samples[:500], keys[:500], 0.8)
	var expected []Sample
	for _, s := range left {
		if s.Label < 500 {
			expected = append(expected, s)
		}
	}
	require.Equal(t, expected, subLeft)

	all, none := HashSplit(samples, keys, 1)
	require.Len(t, all, 1000)
	require.Empty(t, none)
}

func TestLoadImageDir(t *testing.T) {
	dir := t.TempDir()
	for class, value := range map[string]uint8{"a": 0, "b": 255} {
		require.NoError(t, os.Mkdir(filepath.Join(dir, class), 0755))
		for i := 0; i < 10; i++ {
			img := image.NewGray(image.Rect(0, 0, 8, 6))
			for j := range img.Pix {
				img.Pix[j] = value
			}
			img.Set(0, 0, color.Gray{Y: 128})
			path := filepath.Join(dir, class, fmt.Sprintf("%d.png", i))
			require.NoError(t, vis.WritePNG(path, img))
		}
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a", "notes.txt"), []byte("hi"), 0644))

	shape := nn.Shape{Channels: 1, Height: 4, Width: 4}
	train, test, err := LoadImageDir(dir, shape, 0.5)
	require.NoError(t, err)
	require.Equal(t, 20, train.Len()+test.Len())
	require.NoError(t, train.Check())
	require.NoError(t, test.Check())
	for _, d := range []*Dataset{train, test} {
		for _, s := range d.Samples {
			// Pixels far from the corner are unaffected by it.
			require.InDelta(t, float64(s.Label), s.Image[len(s.Image)-1], 1e-3)
		}
	}

	_, _, err = LoadImageDir(t.TempDir(), shape, 0.5)
	require.Error(t, err)
}
