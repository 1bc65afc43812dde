// Package vectorstore provides the vector database abstraction used for
// retrievable chunks and memory items.
package vectorstore

import "context"

// Point is one vector with its payload.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// Result is a search or scroll hit.
type Result struct {
	ID      string
	Score   float64
	Payload map[string]any
}

// Filter is an equality match on payload fields. String and integer values
// are supported.
type Filter map[string]any

// Store is the narrow surface the memory and ingest services need.
// Deletions by payload filter are atomic per call.
type Store interface {
	EnsureCollection(ctx context.Context, name string, dim int) error
	Upsert(ctx context.Context, collection string, points []Point) error
	Search(ctx context.Context, collection string, vector []float32, k int, filter Filter) ([]Result, error)
	Scroll(ctx context.Context, collection string, filter Filter, limit int) ([]Result, error)
	Delete(ctx context.Context, collection string, filter Filter) error
	Close() error
}
