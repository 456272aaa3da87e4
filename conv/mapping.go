package conv

import "github.com/unixpickle/anyvec"

// batchMap applies a mapper to every tensor in a batch.
func batchMap(m anyvec.Mapper, in anyvec.Vector) anyvec.Vector {
	return mapEach(in, m.InSize(), m.OutSize(), m.Map)
}

// batchMapTranspose applies the transpose of a mapper to
// every tensor in a batch.
func batchMapTranspose(m anyvec.Mapper, in anyvec.Vector) anyvec.Vector {
	return mapEach(in, m.OutSize(), m.InSize(), m.MapTranspose)
}

func mapEach(in anyvec.Vector, inSize, outSize int, f func(in, out anyvec.Vector)) anyvec.Vector {
	if in.Len()%inSize != 0 {
		panic("mapper input size must divide batch size")
	}
	n := in.Len() / inSize
	if n == 0 {
		return in.Creator().MakeVector(0)
	}
	outs := make([]anyvec.Vector, n)
	for i := range outs {
		outs[i] = in.Creator().MakeVector(outSize)
		f(in.Slice(i*inSize, (i+1)*inSize), outs[i])
	}
	return in.Creator().Concat(outs...)
}
