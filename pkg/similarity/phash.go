package similarity

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strconv"

	"github.com/corona10/goimagehash"
)

const phashBits = 64

// PHash computes the 64-bit perceptual hash of an encoded image, returned as
// a 16-hex string for storage in extra_json.
func PHash(data []byte) (string, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("decode image: %w", err)
	}
	hash, err := goimagehash.PerceptionHash(img)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%016x", hash.GetHash()), nil
}

// HammingDistance between two stored pHashes; -1 when either is malformed.
func HammingDistance(a, b string) int {
	ha, errA := strconv.ParseUint(a, 16, 64)
	hb, errB := strconv.ParseUint(b, 16, 64)
	if errA != nil || errB != nil {
		return -1
	}
	x := ha ^ hb
	d := 0
	for x != 0 {
		x &= x - 1
		d++
	}
	return d
}

// ImageScoreFromHashes maps Hamming distance onto [0,1]; identical hashes
// score 1, orthogonal hashes 0.
func ImageScoreFromHashes(a, b string) float64 {
	d := HammingDistance(a, b)
	if d < 0 {
		return 0
	}
	return 1 - float64(d)/phashBits
}
