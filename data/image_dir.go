package data

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/unixpickle/essentials"
	"github.com/unixpickle/vitae/nn"
	"github.com/unixpickle/vitae/vis"
	"golang.org/x/sync/errgroup"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".bmp":  true,
	".tif":  true,
	".tiff": true,
	".webp": true,
}

// LoadImageDir loads a directory with one sub-directory
// of images per class.
//
// Classes are labeled by the sorted order of their
// directory names.
// Images are converted to the channel count of shape and
// resized to its dimensions.
// A fraction trainRatio of the images, chosen by hashing
// their paths, forms the training set.
func LoadImageDir(dir string, shape nn.Shape, trainRatio float64) (train, test *Dataset,
	err error) {
	defer essentials.AddCtxTo("load image directory", &err)
	if err := shape.Valid(); err != nil {
		return nil, nil, err
	}
	classes, err := listClasses(dir)
	if err != nil {
		return nil, nil, err
	}
	var paths []string
	var labels []int
	for label, class := range sortedKeys(classes) {
		for _, p := range classes[class] {
			paths = append(paths, p)
			labels = append(labels, label)
		}
	}
	if len(paths) == 0 {
		return nil, nil, fmt.Errorf("no images found in %s", dir)
	}

	samples := make([]Sample, len(paths))
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, p := range paths {
		i, p := i, p
		g.Go(func() error {
			tensor, err := loadImage(p, shape)
			if err != nil {
				return err
			}
			samples[i] = Sample{Image: tensor, Label: labels[i]}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	keys := make([]string, len(paths))
	for i, p := range paths {
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			rel = p
		}
		keys[i] = filepath.ToSlash(rel)
	}
	left, right := HashSplit(samples, keys, trainRatio)
	return &Dataset{Shape: shape, Samples: left}, &Dataset{Shape: shape, Samples: right}, nil
}

func listClasses(dir string) (map[string][]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	res := map[string][]string{}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		files, err := os.ReadDir(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		var paths []string
		for _, f := range files {
			ext := strings.ToLower(filepath.Ext(f.Name()))
			if !f.IsDir() && imageExtensions[ext] {
				paths = append(paths, filepath.Join(dir, e.Name(), f.Name()))
			}
		}
		if len(paths) > 0 {
			res[e.Name()] = paths
		}
	}
	return res, nil
}

func loadImage(path string, shape nn.Shape) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, essentials.AddCtx(path, err)
	}
	res, err := vis.ImageToTensor(img, shape)
	if err != nil {
		return nil, essentials.AddCtx(path, err)
	}
	return res, nil
}

// sortedKeys returns the keys of a map in order.
func sortedKeys(m map[string][]string) []string {
	var res []string
	for k := range m {
		res = append(res, k)
	}
	sort.Strings(res)
	return res
}
