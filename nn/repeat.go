package nn

import "github.com/unixpickle/anydiff"

// Repeat concatenates times copies of r.
func Repeat(r anydiff.Res, times int) anydiff.Res {
	if times == 1 {
		return r
	}
	return anydiff.Pool(r, func(r anydiff.Res) anydiff.Res {
		rs := make([]anydiff.Res, times)
		for i := range rs {
			rs[i] = r
		}
		return anydiff.Concat(rs...)
	})
}
