package embedding

import (
	"context"
	"encoding/binary"
	"math"
	"strings"
	"unicode"

	"github.com/zeebo/blake3"
)

// DefaultDim matches the 384 dimensions of all-MiniLM-L6-v2 so persisted indexes stay
// compatible when switching between offline and model-backed embedders of that size.
const DefaultDim = 384

// HashingEmbedder is a deterministic offline embedder using signed feature hashing over
// lower-cased word unigrams and bigrams. Lines sharing tokens land close together in L2.
type HashingEmbedder struct {
	dim int
}

// NewHashingEmbedder returns an embedder of the given dimension; non-positive uses DefaultDim.
func NewHashingEmbedder(dim int) *HashingEmbedder {
	if dim <= 0 {
		dim = DefaultDim
	}
	return &HashingEmbedder{dim: dim}
}

// Embed implements Embedder. The result is L2-normalised; text without tokens embeds to zero.
func (h *HashingEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, h.dim)
	tokens := tokenize(text)
	for i, tok := range tokens {
		h.add(vec, tok)
		if i > 0 {
			h.add(vec, tokens[i-1]+" "+tok)
		}
	}
	normalise(vec)
	return vec, nil
}

// Dim implements Embedder.
func (h *HashingEmbedder) Dim() int { return h.dim }

// Name implements Embedder.
func (h *HashingEmbedder) Name() string { return ProviderHashing }

func (h *HashingEmbedder) add(vec []float32, feature string) {
	sum := blake3.Sum256([]byte(feature))
	bucket := binary.LittleEndian.Uint64(sum[:8]) % uint64(h.dim)
	if sum[8]&1 == 0 {
		vec[bucket]++
	} else {
		vec[bucket]--
	}
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '/' && r != '.' && r != '_'
	})
}

func normalise(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range vec {
		vec[i] *= inv
	}
}
