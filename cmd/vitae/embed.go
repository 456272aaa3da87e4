package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/unixpickle/vitae"
	"github.com/unixpickle/vitae/data"
	"github.com/unixpickle/vitae/nn"
)

// ExportEmbeddings writes the latent codes of a dataset
// to latent_content.tsv and latent_transform.tsv, along
// with the labels in labels.tsv.
// Models without a transformation branch get no
// latent_transform.tsv.
func ExportEmbeddings(dir string, m *vitae.Model, d *data.Dataset, batchSize int) error {
	files := []string{"latent_content.tsv", "labels.tsv", "latent_transform.tsv"}
	if !m.Config.Kind.Transforms() {
		files = files[:2]
	}
	writers := make([]*bufio.Writer, len(files))
	for i, name := range files {
		f, err := os.Create(filepath.Join(dir, name))
		if err != nil {
			return err
		}
		defer f.Close()
		writers[i] = bufio.NewWriter(f)
	}
	c := m.Creator()
	for _, idx := range data.Batches(d.Len(), batchSize, nil) {
		content, transform, err := m.LatentRepresentation(d.Batch(c, idx), len(idx))
		if err != nil {
			return err
		}
		writeRows(writers[0], nn.Float64s(content), m.Config.ContentLatent)
		for _, label := range d.Labels(idx) {
			fmt.Fprintln(writers[1], label)
		}
		if transform != nil {
			writeRows(writers[2], nn.Float64s(transform), m.Config.TransformLatent)
		}
	}
	for _, w := range writers {
		if err := w.Flush(); err != nil {
			return err
		}
	}
	return nil
}

func writeRows(w *bufio.Writer, values []float64, cols int) {
	fields := make([]string, cols)
	for i := 0; i < len(values); i += cols {
		for j := range fields {
			fields[j] = strconv.FormatFloat(values[i+j], 'g', 6, 64)
		}
		fmt.Fprintln(w, strings.Join(fields, "\t"))
	}
}
