// Package embedder produces dense vectors for skill content and search
// queries (spec §6). The default implementation is a deterministic,
// dependency-free fallback; a real deployment wires in a hosted or local
// model behind the same interface.
package embedder

import (
	"context"
	"crypto/sha256"
	"math"
	"strings"
)

// Embedder turns text into a fixed-dimension dense vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dims() int
}

// HashEmbedder is a deterministic bag-of-hashed-tokens embedder: each
// token is hashed into one of dims buckets and the resulting vector is
// L2-normalized. It has no semantic power but gives the rest of the
// system (storage, cosine scan, RRF fusion) a real vector to exercise
// without a network dependency or model weights.
type HashEmbedder struct {
	dims int
}

// NewHashEmbedder builds a HashEmbedder with the given vector dimension.
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = 128
	}
	return &HashEmbedder{dims: dims}
}

// Dims returns the embedder's fixed output dimension.
func (h *HashEmbedder) Dims() int {
	return h.dims
}

// Embed hashes each whitespace token of text into a bucket and
// accumulates a signed count, then L2-normalizes the result.
func (h *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, h.dims)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		sum := sha256.Sum256([]byte(tok))
		bucket := (int(sum[0])<<8 | int(sum[1])) % h.dims
		sign := float32(1)
		if sum[2]&1 == 1 {
			sign = -1
		}
		vec[bucket] += sign
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return vec, nil
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec, nil
}
