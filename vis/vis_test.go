package vis

import (
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/unixpickle/vitae/nn"
)

func TestTensorImageRoundTrip(t *testing.T) {
	for _, channels := range []int{1, 3} {
		shape := nn.Shape{Channels: channels, Height: 3, Width: 4}
		data := make([]float64, shape.Volume())
		for i := range data {
			data[i] = float64(i) / float64(len(data))
		}
		img := TensorToImage(shape, data)
		require.Equal(t, image.Rect(0, 0, 4, 3), img.Bounds())

		back, err := ImageToTensor(img, shape)
		require.NoError(t, err)
		require.Len(t, back, len(data))
		for i, x := range data {
			require.InDelta(t, x, back[i], 1.0/255, "component %d", i)
		}
	}
}

func TestTensorToImageClips(t *testing.T) {
	img := TensorToImage(nn.Shape{Channels: 1, Height: 1, Width: 2}, []float64{-3, 7})
	require.Equal(t, color.Gray{Y: 0}, img.At(0, 0))
	require.Equal(t, color.Gray{Y: 0xff}, img.At(1, 0))
}

func TestImageToTensorResize(t *testing.T) {
	src := image.NewGray(image.Rect(5, 5, 15, 25))
	for i := range src.Pix {
		src.Pix[i] = 0x80
	}
	shape := nn.Shape{Channels: 1, Height: 4, Width: 2}
	data, err := ImageToTensor(src, shape)
	require.NoError(t, err)
	require.Len(t, data, 8)
	for _, x := range data {
		require.InDelta(t, float64(0x80)/0xff, x, 1e-2)
	}

	_, err = ImageToTensor(src, nn.Shape{Channels: 2, Height: 4, Width: 2})
	require.Error(t, err)
}

func TestGrid(t *testing.T) {
	shape := nn.Shape{Channels: 1, Height: 28, Width: 28}
	batch := make([]float64, 100*shape.Volume())
	for i := range batch {
		batch[i] = 1
	}
	grid := Grid(shape, batch, 10, DefaultPadding)
	require.Equal(t, 302, grid.Bounds().Dx())
	require.Equal(t, 302, grid.Bounds().Dy())

	r, _, _, _ := grid.At(0, 0).RGBA()
	require.Zero(t, r, "padding should be black")
	r, _, _, _ = grid.At(2, 2).RGBA()
	require.Equal(t, uint32(0xffff), r)

	partial := Grid(shape, batch[:3*shape.Volume()], 10, DefaultPadding)
	require.Equal(t, 3*30+2, partial.Bounds().Dx())
	require.Equal(t, 32, partial.Bounds().Dy())
}

func TestUpscaleAndWrite(t *testing.T) {
	img := TensorToImage(nn.Shape{Channels: 1, Height: 2, Width: 2}, []float64{0, 1, 1, 0})
	big := Upscale(img, 3)
	require.Equal(t, 6, big.Bounds().Dx())
	r, _, _, _ := big.At(5, 0).RGBA()
	require.Equal(t, uint32(0xffff), r)

	path := filepath.Join(t.TempDir(), "img.png")
	require.NoError(t, WritePNG(path, big))
}
