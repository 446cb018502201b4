// Package retrieval implements hybrid search over stored chunks: dense
// cosine similarity narrows candidates, BM25 re-scores the same set, and
// RagEngine assembles a token-budgeted context for generation.
package retrieval
