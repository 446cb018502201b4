package chunking

import "studycore/internal/engine"

// ChunkType is a best-effort classification of a chunk's content.
type ChunkType string

const (
	TypeParagraph  ChunkType = "paragraph"
	TypeList       ChunkType = "list"
	TypeHeading    ChunkType = "heading"
	TypeEquation   ChunkType = "equation"
	TypeDefinition ChunkType = "definition"
)

// TextChunk is one unit of material handed to the embedder. PageNumber is nil
// when the source text carried no page information.
type TextChunk struct {
	Content       string    `json:"content"`
	PageNumber    *int      `json:"page_number,omitempty"`
	Index         int       `json:"index"`
	Type          ChunkType `json:"type"`
	WordCount     int       `json:"word_count"`
	SentenceCount int       `json:"sentence_count"`
}

// ExtractedPage is produced by document extraction adapters.
type ExtractedPage struct {
	PageNumber       int    `json:"page_number"`
	Text             string `json:"text"`
	ExtractionMethod string `json:"extraction_method"`
}

// TokenCounter measures text in model tokens.
type TokenCounter interface {
	CountTokens(text string) int
}

// TokenCounterFunc adapts a function to TokenCounter.
type TokenCounterFunc func(text string) int

func (f TokenCounterFunc) CountTokens(text string) int { return f(text) }

// HeuristicCounter is used when no tokenizer is available.
var HeuristicCounter TokenCounter = TokenCounterFunc(engine.HeuristicTokenCount)
