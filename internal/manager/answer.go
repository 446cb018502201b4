package manager

import (
	"context"

	"studycore/internal/engine"
	"studycore/internal/retrieval"
	"studycore/pkg/types"
)

const (
	defaultMaxTokens   = 512
	defaultTemperature = float32(0.7)
)

// Retrieve runs hybrid retrieval. It never fails: retrieval problems yield
// an empty result.
func (m *Manager) Retrieve(ctx context.Context, req types.RetrieveRequest) (types.RetrieveResponse, error) {
	rc := m.rag.Retrieve(ctx, req.Query, req.ScopeIDs, m.topKFor(req.TopK), m.thresholdFor(req.Threshold))
	return types.RetrieveResponse{Results: resultViews(rc.Results), ContextText: rc.ContextText}, nil
}

// Generate streams a grounded answer. The final event carries the full
// content and the sources used.
func (m *Manager) Generate(ctx context.Context, req types.GenerateRequest, emit func(types.StreamEvent) error) error {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	temp := defaultTemperature
	if req.Temperature != nil {
		temp = *req.Temperature
	}
	history := make([]retrieval.Turn, len(req.History))
	for i, t := range req.History {
		history[i] = retrieval.Turn{Role: t.Role, Content: t.Content}
	}
	onToken := func(tok string) error { return emit(types.StreamEvent{Token: tok}) }

	var (
		rc  retrieval.RagContext
		res engine.GenerateResult
		err error
	)
	if req.NoRetrieval {
		res, err = m.rag.GenerateStream(ctx, req.Query, rc, history, maxTokens, temp, onToken)
	} else {
		rc, res, err = m.rag.Answer(ctx, retrieval.AnswerRequest{
			Query:       req.Query,
			ScopeIDs:    req.ScopeIDs,
			History:     history,
			TopK:        m.topKFor(req.TopK),
			Threshold:   m.thresholdFor(req.Threshold),
			MaxTokens:   maxTokens,
			Temperature: temp,
		}, onToken)
	}
	if err != nil {
		return err
	}
	return emit(types.StreamEvent{Done: true, Content: res.Content, Sources: resultViews(rc.Results)})
}

func (m *Manager) topKFor(k int) int {
	if k > 0 {
		return k
	}
	return m.topK
}

func (m *Manager) thresholdFor(t *float64) float64 {
	if t != nil {
		return *t
	}
	return m.threshold
}
