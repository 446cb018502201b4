// Package chunking splits extracted study material into overlapping,
// token-bounded chunks ready for embedding.
//
// Paragraphs (blank-line separated) are accumulated until the running
// buffer reaches the target size; a paragraph larger than the hard maximum
// is split at sentence boundaries. Every chunk after the first starts with
// an overlap tail of its predecessor.
package chunking
