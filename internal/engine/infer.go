package engine

import (
	"context"
	"errors"
	"math"
	"strings"
	"unicode/utf8"
)

const (
	noInferenceModel = "No inference model loaded"
	noEmbeddingModel = "No embedding model loaded"
)

func (o *Orchestrator) activeGenerator() (GenerationBackend, string) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.activeInferenceID == "" {
		return nil, ""
	}
	return o.generators[o.activeGen], o.activeInferenceID
}

func (o *Orchestrator) activeEmbedder() (EmbeddingBackend, string) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.activeEmbeddingID == "" {
		return nil, ""
	}
	return o.embedders[o.activeEmbed], o.activeEmbeddingID
}

// Generate streams tokens for prompt from the active inference model to
// onToken. Cancellation of ctx is returned as ctx.Err().
func (o *Orchestrator) Generate(ctx context.Context, prompt string, params GenerateParams, onToken func(string) error) (GenerateResult, error) {
	b, id := o.activeGenerator()
	if b == nil {
		callsTotal.WithLabelValues("generate", "no_model").Inc()
		return GenerateResult{}, ErrGenerationFailed(noInferenceModel)
	}
	res, err := b.Generate(ctx, prompt, params, onToken)
	callsTotal.WithLabelValues("generate", resultLabel(err)).Inc()
	if err != nil {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		if !IsGenerationFailed(err) {
			err = ErrGenerationFailed(err.Error())
		}
		o.log.Warn().Err(err).Str("model", id).Msg("generation failed")
		return res, err
	}
	return res, nil
}

// GenerateComplete runs Generate and returns the full text.
func (o *Orchestrator) GenerateComplete(ctx context.Context, prompt string, params GenerateParams) (string, error) {
	var b strings.Builder
	res, err := o.Generate(ctx, prompt, params, func(tok string) error {
		b.WriteString(tok)
		return nil
	})
	if err != nil {
		return "", err
	}
	if b.Len() == 0 {
		return res.Content, nil
	}
	return b.String(), nil
}

// Embed returns the embedding of text from the active embedding model.
func (o *Orchestrator) Embed(ctx context.Context, text string) ([]float32, error) {
	b, _ := o.activeEmbedder()
	if b == nil {
		callsTotal.WithLabelValues("embed", "no_model").Inc()
		return nil, ErrEmbeddingFailed(noEmbeddingModel)
	}
	v, err := b.Embed(ctx, text)
	callsTotal.WithLabelValues("embed", resultLabel(err)).Inc()
	return v, wrapEmbedErr(ctx, err)
}

// EmbedBatch embeds texts in order.
func (o *Orchestrator) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	b, _ := o.activeEmbedder()
	if b == nil {
		callsTotal.WithLabelValues("embed_batch", "no_model").Inc()
		return nil, ErrEmbeddingFailed(noEmbeddingModel)
	}
	v, err := b.EmbedBatch(ctx, texts)
	callsTotal.WithLabelValues("embed_batch", resultLabel(err)).Inc()
	return v, wrapEmbedErr(ctx, err)
}

func wrapEmbedErr(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return err
	}
	if IsEmbeddingFailed(err) {
		return err
	}
	return ErrEmbeddingFailed(err.Error())
}

// TokenCount counts tokens with the active inference model's tokenizer and
// falls back to HeuristicTokenCount when none is loaded or it fails.
func (o *Orchestrator) TokenCount(text string) int {
	if b, _ := o.activeGenerator(); b != nil {
		if n, err := b.CountTokens(text); err == nil {
			return n
		}
	}
	return HeuristicTokenCount(text)
}

// CountTokens satisfies chunking.TokenCounter.
func (o *Orchestrator) CountTokens(text string) int { return o.TokenCount(text) }

// HeuristicTokenCount estimates max(1, round(chars*0.3)). Chunk sizes depend
// on this exact formula.
func HeuristicTokenCount(text string) int {
	n := int(math.Round(float64(utf8.RuneCountInString(text)) * 0.3))
	if n < 1 {
		return 1
	}
	return n
}
