package manager

import (
	"time"

	"studycore/internal/chunking"
	"studycore/internal/engine"
	"studycore/internal/memory"
	"studycore/internal/retrieval"
	"studycore/internal/tasks"
	"studycore/pkg/types"
)

func modelView(c engine.ModelConfig, st engine.ModelState, active, canRun bool) types.Model {
	return types.Model{
		ID:              c.ID,
		DisplayName:     c.DisplayName,
		Purpose:         string(c.Purpose),
		Engine:          string(c.Engine),
		FileSizeMB:      c.FileSizeMB,
		MinRAMMB:        c.MinRAMMB,
		ContextLength:   c.ContextLength,
		Bundled:         c.Bundled,
		FallbackModelID: c.FallbackModelID,
		State:           string(st.Kind),
		Progress:        st.Progress,
		Reason:          st.Reason,
		Active:          active,
		CanRun:          canRun,
	}
}

func memoryStatus(s memory.Snapshot) types.MemoryStatus {
	return types.MemoryStatus{
		TotalMB:              s.TotalMB,
		AvailableMB:          s.AvailableMB,
		SwapTotalMB:          s.SwapTotalMB,
		SwapFreeMB:           s.SwapFreeMB,
		EffectiveAvailableMB: s.EffectiveAvailableMB(),
		UsedPercent:          s.UsedPercent,
		Pressure:             s.Pressure.String(),
		LowMemory:            s.LowMemory,
	}
}

func resultViews(rs []retrieval.SearchResult) []types.RetrievedChunk {
	out := make([]types.RetrievedChunk, len(rs))
	for i, r := range rs {
		out[i] = types.RetrievedChunk{
			ID:         r.Chunk.ID,
			DocumentID: r.Chunk.DocumentID,
			PageNumber: r.Chunk.PageNumber,
			ChunkIndex: r.Chunk.ChunkIndex,
			Score:      r.Score,
			Content:    r.Chunk.Content,
		}
	}
	return out
}

func toPages(ps []types.ExtractedPage) []chunking.ExtractedPage {
	out := make([]chunking.ExtractedPage, len(ps))
	for i, p := range ps {
		out[i] = chunking.ExtractedPage{PageNumber: p.PageNumber, Text: p.Text, ExtractionMethod: p.ExtractionMethod}
	}
	return out
}

func chunkView(c chunking.TextChunk, tokens int) types.Chunk {
	return types.Chunk{
		Content:       c.Content,
		PageNumber:    c.PageNumber,
		Index:         c.Index,
		Type:          string(c.Type),
		WordCount:     c.WordCount,
		SentenceCount: c.SentenceCount,
		Tokens:        tokens,
	}
}

func taskView(t tasks.Task) types.Task {
	return types.Task{
		ID:         t.ID,
		Type:       t.Type,
		Title:      t.Title,
		Priority:   t.Priority.String(),
		Status:     string(t.Status),
		Progress:   t.Progress,
		Error:      t.Error,
		CreatedAt:  t.CreatedAt,
		StartedAt:  timePtr(t.StartedAt),
		FinishedAt: timePtr(t.FinishedAt),
	}
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
