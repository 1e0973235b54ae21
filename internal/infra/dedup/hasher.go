// Package dedup flags likely-duplicate source images across a re-scan
// using perceptual hashing, so the scan worker can annotate candidates
// without blocking ingestion on an exact byte-for-byte comparison.
package dedup

import (
	"bytes"
	"image"
	_ "image/jpeg"
	_ "image/png"

	"github.com/corona10/goimagehash"
	_ "golang.org/x/image/webp"

	"github.com/imageviewer/mediapipeline/internal/shared"
)

// Hasher computes and compares difference hashes (dHash), a 64-bit
// perceptual hash robust to scaling, aspect-ratio changes, and minor
// color adjustments.
type Hasher struct {
	// SimilarityThreshold is the maximum Hamming distance to consider two
	// hashes similar. Lower is stricter.
	SimilarityThreshold int
}

// NewHasher constructs a Hasher with the default threshold.
func NewHasher() *Hasher {
	return &Hasher{SimilarityThreshold: 10}
}

// NewHasherWithThreshold constructs a Hasher with a custom threshold.
func NewHasherWithThreshold(threshold int) *Hasher {
	return &Hasher{SimilarityThreshold: threshold}
}

// Hash computes a perceptual hash for image bytes decoded from memory, the
// shape the scan worker deals in (archive entries are never written to
// disk before being judged).
func (h *Hasher) Hash(sourceBytes []byte) (uint64, error) {
	img, _, err := image.Decode(bytes.NewReader(sourceBytes))
	if err != nil {
		return 0, shared.NewDomainError(shared.ErrDecodeFailed, err.Error())
	}
	return h.HashImage(img)
}

// HashImage computes a perceptual hash from an already-decoded image.
func (h *Hasher) HashImage(img image.Image) (uint64, error) {
	hash, err := goimagehash.DifferenceHash(img)
	if err != nil {
		return 0, shared.NewDomainError(shared.ErrDecodeFailed, err.Error())
	}
	return hash.GetHash(), nil
}

// Distance returns the Hamming distance between two hashes.
func (h *Hasher) Distance(a, b uint64) int {
	xor := a ^ b
	count := 0
	for xor != 0 {
		count++
		xor &= xor - 1
	}
	return count
}

// IsSimilar reports whether two hashes are within the configured threshold.
func (h *Hasher) IsSimilar(a, b uint64) bool {
	return h.Distance(a, b) <= h.SimilarityThreshold
}

// Candidate pairs an already-seen image id with its hash, for FindSimilar.
type Candidate struct {
	ImageID string
	Hash    uint64
}

// Match is a Candidate judged similar to a query hash.
type Match struct {
	ImageID  string
	Distance int
}

// FindSimilar returns every candidate within the similarity threshold of
// target, sorted by ascending distance (closest match first).
func (h *Hasher) FindSimilar(target uint64, candidates []Candidate) []Match {
	var matches []Match
	for _, c := range candidates {
		if d := h.Distance(target, c.Hash); d <= h.SimilarityThreshold {
			matches = append(matches, Match{ImageID: c.ImageID, Distance: d})
		}
	}
	for i := range matches {
		for j := i + 1; j < len(matches); j++ {
			if matches[j].Distance < matches[i].Distance {
				matches[i], matches[j] = matches[j], matches[i]
			}
		}
	}
	return matches
}
