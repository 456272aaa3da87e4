package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/unixpickle/vitae"
	"github.com/unixpickle/vitae/nn"
)

type summaryRow struct {
	Network string
	Layer   string
	Params  int
}

// Summarize lists the layers of every sub-network with
// their parameter counts.
func Summarize(m *vitae.Model) []summaryRow {
	var rows []summaryRow
	addNet := func(name string, net nn.Net) {
		for _, l := range net {
			rows = append(rows, summaryRow{Network: name, Layer: layerName(l),
				Params: paramCount(l)})
		}
	}
	addEncoder := func(name string, e *vitae.Encoder) {
		addNet(name, e.Body)
		rows = append(rows,
			summaryRow{Network: name, Layer: "mean " + layerName(e.Mean), Params: paramCount(e.Mean)},
			summaryRow{Network: name, Layer: "logvar " + layerName(e.LogVar),
				Params: paramCount(e.LogVar)},
		)
	}
	addEncoder("content encoder", m.ContentEncoder)
	if m.TransformEncoder != nil {
		addEncoder("transform encoder", m.TransformEncoder)
	}
	addNet("content decoder", m.ContentDecoder)
	addNet("transform decoder", m.TransformDecoder)
	return rows
}

// WriteSummary renders the summary of a model as a table.
func WriteSummary(w io.Writer, m *vitae.Model) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Network", "Layer", "Parameters"})
	table.SetAutoMergeCells(true)
	var total int
	for _, row := range Summarize(m) {
		table.Append([]string{row.Network, row.Layer, strconv.Itoa(row.Params)})
		total += row.Params
	}
	table.SetFooter([]string{"", m.Config.Kind.String(), strconv.Itoa(total)})
	table.Render()
}

func layerName(l nn.Layer) string {
	if s, ok := l.(fmt.Stringer); ok {
		return s.String()
	}
	name := fmt.Sprintf("%T", l)
	return name[strings.LastIndex(name, ".")+1:]
}

func paramCount(l nn.Layer) int {
	p, ok := l.(nn.Parameterizer)
	if !ok {
		return 0
	}
	var res int
	for _, v := range p.Parameters() {
		res += v.Vector.Len()
	}
	return res
}
