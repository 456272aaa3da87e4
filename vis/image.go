// Package vis converts image tensors to and from images
// and lays batches out as grids for inspection.
package vis

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"

	"github.com/unixpickle/essentials"
	"github.com/unixpickle/vitae/nn"
	"golang.org/x/image/draw"
)

// ImageToTensor converts an image to a tensor of the
// given shape, resizing it bilinearly if necessary.
//
// One-channel tensors hold luminance; three-channel
// tensors hold RGB. Values range from 0 to 1.
func ImageToTensor(img image.Image, shape nn.Shape) ([]float64, error) {
	if shape.Channels != 1 && shape.Channels != 3 {
		return nil, fmt.Errorf("unsupported channel count: %d", shape.Channels)
	}
	bounds := img.Bounds()
	if bounds.Dx() != shape.Width || bounds.Dy() != shape.Height {
		dst := image.NewRGBA(image.Rect(0, 0, shape.Width, shape.Height))
		draw.BiLinear.Scale(dst, dst.Bounds(), img, bounds, draw.Src, nil)
		img = dst
		bounds = dst.Bounds()
	}

	res := make([]float64, 0, shape.Volume())
	for y := 0; y < shape.Height; y++ {
		for x := 0; x < shape.Width; x++ {
			px := img.At(bounds.Min.X+x, bounds.Min.Y+y)
			if shape.Channels == 1 {
				gray := color.Gray16Model.Convert(px).(color.Gray16)
				res = append(res, float64(gray.Y)/0xffff)
			} else {
				r, g, b, _ := px.RGBA()
				res = append(res, float64(r)/0xffff, float64(g)/0xffff, float64(b)/0xffff)
			}
		}
	}
	return res, nil
}

// TensorToImage converts a tensor into an image.
// Values are clipped between 0 and 1.
func TensorToImage(shape nn.Shape, data []float64) image.Image {
	if len(data) != shape.Volume() {
		panic("incorrect tensor size")
	}
	rect := image.Rect(0, 0, shape.Width, shape.Height)
	switch shape.Channels {
	case 1:
		res := image.NewGray(rect)
		for i, x := range data {
			res.Pix[i] = toByte(x)
		}
		return res
	case 3:
		res := image.NewRGBA(rect)
		for i := 0; i < len(data)/3; i++ {
			copy(res.Pix[i*4:], []uint8{toByte(data[i*3]), toByte(data[i*3+1]),
				toByte(data[i*3+2]), 0xff})
		}
		return res
	default:
		panic(fmt.Sprintf("unsupported channel count: %d", shape.Channels))
	}
}

// Upscale enlarges an image by an integer factor using
// nearest-neighbor sampling.
func Upscale(img image.Image, factor int) image.Image {
	if factor <= 1 {
		return img
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx()*factor, b.Dy()*factor))
	draw.NearestNeighbor.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// WritePNG saves an image as a PNG file.
func WritePNG(path string, img image.Image) (err error) {
	defer essentials.AddCtxTo("write PNG", &err)
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, img)
}

func toByte(x float64) uint8 {
	return uint8(math.Max(0, math.Min(1, x))*0xff + 0.5)
}
