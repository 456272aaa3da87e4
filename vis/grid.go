package vis

import (
	"image"
	"image/draw"

	"github.com/unixpickle/vitae/nn"
)

// DefaultPadding is the number of pixels between images
// in a grid.
const DefaultPadding = 2

// Grid tiles a batch of image tensors into one image with
// nrow images per row, separated and surrounded by black
// padding.
func Grid(shape nn.Shape, batch []float64, nrow, padding int) image.Image {
	vol := shape.Volume()
	if len(batch)%vol != 0 {
		panic("batch size must be a multiple of the image volume")
	}
	n := len(batch) / vol
	if nrow <= 0 {
		nrow = 8
	}
	cols := nrow
	if n < cols {
		cols = n
	}
	rows := 1
	if n > 0 {
		rows = (n + cols - 1) / cols
	}
	cellW, cellH := shape.Width+padding, shape.Height+padding
	res := image.NewRGBA(image.Rect(0, 0, cols*cellW+padding, rows*cellH+padding))
	draw.Draw(res, res.Bounds(), image.Black, image.Point{}, draw.Src)
	for i := 0; i < n; i++ {
		img := TensorToImage(shape, batch[i*vol:(i+1)*vol])
		x := padding + (i%cols)*cellW
		y := padding + (i/cols)*cellH
		draw.Draw(res, image.Rect(x, y, x+shape.Width, y+shape.Height), img,
			image.Point{}, draw.Src)
	}
	return res
}
