package service

import (
	"fmt"

	"github.com/corona10/goimagehash"
)

// perceptualHashBits is the length of a DCT perceptual hash.
const perceptualHashBits = 64

// PerceptualHashVector returns the 64-bit DCT perceptual hash of an image as
// a vector of 0/1 components, most significant bit first. It is the
// lightweight duplicate signal used when no learned extractor is loaded.
func PerceptualHashVector(data []byte) ([]float32, error) {
	img, _, err := decodeImage(data)
	if err != nil {
		return nil, err
	}
	h, err := goimagehash.PerceptionHash(img)
	if err != nil {
		return nil, fmt.Errorf("failed to compute perceptual hash: %w", err)
	}
	return hashBits(h.GetHash()), nil
}

func hashBits(bits uint64) []float32 {
	vec := make([]float32, perceptualHashBits)
	for i := 0; i < perceptualHashBits; i++ {
		if bits&(1<<uint(perceptualHashBits-1-i)) != 0 {
			vec[i] = 1
		}
	}
	return vec
}
