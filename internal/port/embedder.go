package port

import "context"

// Embedder generates vector embeddings for product names.
type Embedder interface {
	// Embed returns one vector per input text, in input order.
	// A failure applies to the whole batch.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the embedding vector dimension.
	Dimension() int

	// ModelName returns the name of the embedding model.
	ModelName() string
}

// VectorIndex stores one embedding per catalog entry, tagged with its store.
type VectorIndex interface {
	// Upsert adds or replaces vectors. Re-upserting an ID overwrites it.
	Upsert(ctx context.Context, items []VectorItem) error

	// Search returns up to topK hits ordered by similarity descending,
	// restricted to storeID when it is non-empty.
	Search(ctx context.Context, query []float32, storeID string, topK int) ([]VectorHit, error)

	// Delete removes vectors by entry ID. Unknown IDs are ignored.
	Delete(ctx context.Context, ids []string) error

	// Count returns the number of vectors in the index.
	Count(ctx context.Context) (int, error)
}

type VectorItem struct {
	ID      string    // Catalog entry ID
	Vector  []float32 // Embedding vector
	StoreID string
	FileID  string
}

type VectorHit struct {
	ID         string
	Similarity float64 // Cosine similarity clamped to [0,1]
}
