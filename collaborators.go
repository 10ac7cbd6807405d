package chorus

import "context"

// Compactor compresses accumulated reasoning outputs into a shorter
// representation. It is optional: a pipeline constructed without one passes
// compaction input through unchanged rather than failing.
type Compactor interface {
	Compact(ctx context.Context, outputs []string) (string, error)
}

// RankedDocument is one candidate scored by a Reranker, best first.
type RankedDocument struct {
	Document string
	Score    float64
}

// Reranker scores candidate outputs against a query and returns them in
// descending quality order. It is optional; reranking can only be enabled
// when one is provided.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []string) ([]RankedDocument, error)
}
