package embedding

import (
	"context"
	"hash/fnv"
	"math"

	"shelfcheck/internal/adapter/analyzer"
)

const DefaultNGramDimension = 384

// NGramEmbedder hashes word and character-trigram features into a fixed
// number of buckets and L2-normalizes the result. It needs no network and
// is deterministic, so equal texts always embed to equal vectors.
type NGramEmbedder struct {
	dimension int
	tokenizer *analyzer.Tokenizer
}

func NewNGramEmbedder(dimension int) *NGramEmbedder {
	if dimension <= 0 {
		dimension = DefaultNGramDimension
	}
	return &NGramEmbedder{
		dimension: dimension,
		tokenizer: analyzer.NewTokenizer(),
	}
}

func (e *NGramEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		embeddings[i] = e.embedOne(text)
	}
	return embeddings, nil
}

func (e *NGramEmbedder) embedOne(text string) []float32 {
	acc := make([]float64, e.dimension)
	for _, feature := range e.tokenizer.Features(text) {
		h := fnv.New32a()
		h.Write([]byte(feature))
		sum := h.Sum32()

		// The top bit picks the sign so colliding features tend to cancel.
		sign := 1.0
		if sum>>31 == 1 {
			sign = -1.0
		}
		acc[int(sum%uint32(e.dimension))] += sign
	}

	var norm float64
	for _, v := range acc {
		norm += v * v
	}
	norm = math.Sqrt(norm)

	vec := make([]float32, e.dimension)
	if norm == 0 {
		return vec
	}
	for i, v := range acc {
		vec[i] = float32(v / norm)
	}
	return vec
}

func (e *NGramEmbedder) Dimension() int {
	return e.dimension
}

func (e *NGramEmbedder) ModelName() string {
	return "ngram-hash"
}
