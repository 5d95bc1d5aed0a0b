package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// HashEmbedder is an offline embedder: lowercase word tokens and character bigrams
// are hashed into a fixed number of buckets and the result is L2-normalised. Texts
// without spaces (Japanese, Chinese) still share bigrams with related text.
type HashEmbedder struct {
	dim int
}

func NewHashEmbedder(dimension int) *HashEmbedder {
	if dimension <= 0 {
		dimension = 256
	}
	return &HashEmbedder{dim: dimension}
}

func (e *HashEmbedder) Embed(text string) []float32 {
	vec := make([]float32, e.dim)
	for _, tok := range strings.FieldsFunc(strings.ToLower(text), isSeparator) {
		e.add(vec, "w:"+tok, 1)
		runes := []rune(tok)
		for i := 0; i+1 < len(runes); i++ {
			e.add(vec, "b:"+string(runes[i:i+2]), 0.5)
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec
}

func (e *HashEmbedder) add(vec []float32, feature string, weight float32) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()
	idx := int(sum % uint64(e.dim))
	// the top bit picks a sign so collisions cancel instead of piling up
	if sum>>63 == 1 {
		weight = -weight
	}
	vec[idx] += weight
}

func (e *HashEmbedder) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("embedding text %d: %w", i, err)
		}
		out[i] = e.Embed(t)
	}
	return out, nil
}

func (e *HashEmbedder) Dimension() int { return e.dim }

func (e *HashEmbedder) ModelInfo() string { return fmt.Sprintf("hash-v1-%d", e.dim) }

func isSeparator(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsNumber(r)
}
