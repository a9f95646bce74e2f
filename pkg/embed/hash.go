package embed

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"strings"
	"unicode"
)

// HashEmbedder is a deterministic feature-hashing embedder. Each lowercased
// token is hashed to a signed bucket, so texts sharing words land close
// together. It needs no model server and is used for offline indexes and tests.
type HashEmbedder struct {
	dim int
}

// NewHashEmbedder creates a hash embedder with dim buckets
func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = 256
	}
	return &HashEmbedder{dim: dim}
}

// Model encodes the dimension so indexes built with another size are rejected
func (h *HashEmbedder) Model() string {
	return fmt.Sprintf("hash-%d", h.dim)
}

// Embed never fails; blank text yields a zero vector
func (h *HashEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = h.vector(t)
	}
	return out, nil
}

func (h *HashEmbedder) vector(text string) []float32 {
	vec := make([]float32, h.dim)
	for _, tok := range tokenize(text) {
		sum := sha256.Sum256([]byte(tok))
		bucket := binary.BigEndian.Uint32(sum[0:4]) % uint32(h.dim)
		if sum[4]&1 == 0 {
			vec[bucket]++
		} else {
			vec[bucket]--
		}
	}
	return vec
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
