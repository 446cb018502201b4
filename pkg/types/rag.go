package types

// RetrieveRequest asks for the chunks relevant to a query.
type RetrieveRequest struct {
	Query string `json:"query"`
	// Restrict retrieval to these document ids; empty means all documents.
	ScopeIDs []string `json:"scope_ids,omitempty"`
	TopK     int      `json:"top_k,omitempty"`
	// Minimum cosine similarity; defaults to the server setting.
	Threshold *float64 `json:"threshold,omitempty"`
}

// RetrievedChunk is one ranked chunk.
type RetrievedChunk struct {
	ID         string  `json:"id"`
	DocumentID string  `json:"document_id"`
	PageNumber *int    `json:"page_number,omitempty"`
	ChunkIndex int     `json:"chunk_index"`
	Score      float64 `json:"score"`
	Content    string  `json:"content"`
}

// RetrieveResponse carries the selected chunks and the context text built
// from them.
type RetrieveResponse struct {
	Results     []RetrievedChunk `json:"results"`
	ContextText string           `json:"context_text"`
}

// Turn is one prior message of a conversation.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerateRequest asks for a streamed answer grounded in stored material.
type GenerateRequest struct {
	Query     string   `json:"query"`
	ScopeIDs  []string `json:"scope_ids,omitempty"`
	History   []Turn   `json:"history,omitempty"`
	TopK      int      `json:"top_k,omitempty"`
	Threshold *float64 `json:"threshold,omitempty"`
	MaxTokens int      `json:"max_tokens,omitempty"`
	// Sampling temperature; defaults to 0.7.
	Temperature *float32 `json:"temperature,omitempty"`
	// Skip retrieval and answer from the model alone.
	NoRetrieval bool `json:"no_retrieval,omitempty"`
}

// StreamEvent is one NDJSON line of POST /generate. Token lines carry Token;
// the final line has Done set, or Error on failure.
type StreamEvent struct {
	Token   string           `json:"token,omitempty"`
	Done    bool             `json:"done,omitempty"`
	Content string           `json:"content,omitempty"`
	Sources []RetrievedChunk `json:"sources,omitempty"`
	Error   string           `json:"error,omitempty"`
}

// ExtractedPage is text extracted from one page of a source document.
type ExtractedPage struct {
	PageNumber       int    `json:"page_number"`
	Text             string `json:"text"`
	ExtractionMethod string `json:"extraction_method,omitempty"`
}

// ChunkRequest asks for text to be split without storing it. Either Text or
// Pages is used.
type ChunkRequest struct {
	Text  string          `json:"text,omitempty"`
	Pages []ExtractedPage `json:"pages,omitempty"`
}

// Chunk is a chunking result.
type Chunk struct {
	Content       string `json:"content"`
	PageNumber    *int   `json:"page_number,omitempty"`
	Index         int    `json:"index"`
	Type          string `json:"type"`
	WordCount     int    `json:"word_count"`
	SentenceCount int    `json:"sentence_count"`
	Tokens        int    `json:"tokens"`
}

// ChunkResponse is returned by POST /chunk.
type ChunkResponse struct {
	Chunks []Chunk `json:"chunks"`
}

// IngestRequest queues a document for chunking, embedding and storage.
type IngestRequest struct {
	DocumentID string          `json:"document_id"`
	Title      string          `json:"title,omitempty"`
	Pages      []ExtractedPage `json:"pages"`
}

// TaskAccepted is returned for work queued in the background.
type TaskAccepted struct {
	TaskID string `json:"task_id"`
}
