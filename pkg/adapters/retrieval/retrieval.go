package retrieval

import "context"

type Document struct {
	ID      string
	Title   string
	Content string
	Score   float64
	Meta    map[string]string
}

type Options struct {
	TopK     int
	MinScore float64
	Language string
	// Partial marks speculative queries issued before the turn is final.
	Partial bool
}

// Retriever returns ranked documents for a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, opts Options) ([]Document, error)
}
