package main

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/unixpickle/vitae/data"
	"github.com/unixpickle/vitae/vis"
)

func writeImageDir(t *testing.T, dir string, d *data.Dataset) {
	for i, s := range d.Samples {
		classDir := filepath.Join(dir, fmt.Sprintf("class%d", s.Label))
		require.NoError(t, os.MkdirAll(classDir, 0755))
		img := vis.TensorToImage(d.Shape, s.Image)
		require.NoError(t, vis.WritePNG(filepath.Join(classDir, fmt.Sprintf("%d.png", i)), img))
	}
}
