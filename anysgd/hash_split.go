package anysgd

import "bytes"

// A Hasher is a SampleList which can hash its samples, for
// example by utterance ID.
type Hasher interface {
	SampleList
	Hash(i int) []byte
}

// HashSplit deterministically partitions a Hasher, for
// example into development and training samples.
// A sample lands on the left when its hash, read as a
// fraction in [0, 1), is below leftRatio.
//
// The Hasher h is re-ordered in place.
func HashSplit(h Hasher, leftRatio float64) (left, right SampleList) {
	if leftRatio <= 0 {
		return h.Slice(0, 0), h
	} else if leftRatio >= 1 {
		return h, h.Slice(0, 0)
	}
	cutoff := ratioBytes(leftRatio)
	numLeft := 0
	for i := 0; i < h.Len(); i++ {
		if compareHashes(h.Hash(i), cutoff) < 0 {
			h.Swap(numLeft, i)
			numLeft++
		}
	}
	return h.Slice(0, numLeft), h.Slice(numLeft, h.Len())
}

// ratioBytes encodes a fraction as big-endian base-256
// digits.
func ratioBytes(ratio float64) []byte {
	res := make([]byte, 8)
	for i := range res {
		ratio *= 256
		digit := int(ratio)
		ratio -= float64(digit)
		if digit > 255 {
			digit = 255
		}
		res[i] = byte(digit)
	}
	return res
}

// compareHashes compares hashes as zero-padded byte
// strings.
func compareHashes(h1, h2 []byte) int {
	n := len(h1)
	if len(h2) > n {
		n = len(h2)
	}
	return bytes.Compare(padBytes(h1, n), padBytes(h2, n))
}

func padBytes(b []byte, n int) []byte {
	if len(b) >= n {
		return b
	}
	return append(append([]byte{}, b...), make([]byte, n-len(b))...)
}
