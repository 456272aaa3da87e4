package nn

import "fmt"

// Shape describes a single image tensor.
//
// Image data is stored row-major and depth-minor, so the
// value for channel c at (y, x) lives at index
// (y*Width+x)*Channels+c.
type Shape struct {
	Channels int
	Height   int
	Width    int
}

// Volume returns the number of values in one image.
func (s Shape) Volume() int {
	return s.Channels * s.Height * s.Width
}

// Valid checks that every dimension is positive.
func (s Shape) Valid() error {
	if s.Channels <= 0 || s.Height <= 0 || s.Width <= 0 {
		return fmt.Errorf("invalid image shape %v", s)
	}
	return nil
}

func (s Shape) String() string {
	return fmt.Sprintf("%dx%dx%d", s.Channels, s.Height, s.Width)
}
