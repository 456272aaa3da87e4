package data

import "crypto/sha256"

// HashSplit deterministically partitions samples by the
// hashes of their keys, so that a sample always lands in
// the same partition regardless of what other samples are
// present.
//
// The leftRatio argument specifies the expected fraction
// of samples that should end up on the left partition.
// Both partitions keep the order of the input.
func HashSplit(samples []Sample, keys []string, leftRatio float64) (left, right []Sample) {
	if len(keys) != len(samples) {
		panic("key count must match sample count")
	}
	if leftRatio <= 0 {
		return nil, samples
	} else if leftRatio >= 1 {
		return samples, nil
	}
	cutoff := hashCutoff(leftRatio)
	for i, s := range samples {
		hash := sha256.Sum256([]byte(keys[i]))
		if compareHashes(hash[:], cutoff) < 0 {
			left = append(left, s)
		} else {
			right = append(right, s)
		}
	}
	return
}

func hashCutoff(ratio float64) []byte {
	res := make([]byte, 8)
	for i := range res {
		ratio *= 256
		value := int(ratio)
		ratio -= float64(value)
		if value == 256 {
			value = 255
		}
		res[i] = byte(value)
	}
	return res
}

func compareHashes(h1, h2 []byte) int {
	n := len(h1)
	if len(h2) > n {
		n = len(h2)
	}
	for i := 0; i < n; i++ {
		var v1, v2 byte
		if i < len(h1) {
			v1 = h1[i]
		}
		if i < len(h2) {
			v2 = h2[i]
		}
		if v1 < v2 {
			return -1
		} else if v1 > v2 {
			return 1
		}
	}
	return 0
}
