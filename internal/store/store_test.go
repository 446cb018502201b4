package store

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type writableStore interface {
	ChunkStore
	Put(ctx context.Context, recs ...ChunkRecord) error
	DeleteDocument(ctx context.Context, documentID string) error
}

func seed(t *testing.T, s writableStore) {
	t.Helper()
	page := 2
	require.NoError(t, s.Put(context.Background(),
		ChunkRecord{ID: "b-1", DocumentID: "bio", Content: "Mitosis", ChunkIndex: 1, Embedding: EncodeEmbedding([]float32{0, 1})},
		ChunkRecord{ID: "b-0", DocumentID: "bio", Content: "Cells", ChunkIndex: 0, PageNumber: &page, Embedding: EncodeEmbedding([]float32{1, 0})},
		ChunkRecord{ID: "c-0", DocumentID: "chem", Content: "Atoms", ChunkIndex: 0, Embedding: EncodeEmbedding([]float32{1, 1})},
		ChunkRecord{ID: "c-1", DocumentID: "chem", Content: "Not embedded yet", ChunkIndex: 1},
	))
}

func runStoreContract(t *testing.T, s writableStore) {
	ctx := context.Background()
	seed(t, s)

	all, err := s.EmbeddedChunks(ctx, nil)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"b-0", "b-1", "c-0"}, ids(all))
	require.NotNil(t, all[0].PageNumber)
	assert.Equal(t, 2, *all[0].PageNumber)
	assert.Nil(t, all[1].PageNumber)

	scoped, err := s.EmbeddedChunks(ctx, []string{"chem"})
	require.NoError(t, err)
	assert.Equal(t, []string{"c-0"}, ids(scoped))

	none, err := s.EmbeddedChunks(ctx, []string{"history"})
	require.NoError(t, err)
	assert.Empty(t, none)

	byID, err := s.ChunksByIDs(ctx, []string{"c-1", "missing", "b-0"})
	require.NoError(t, err)
	assert.Equal(t, []string{"c-1", "b-0"}, ids(byID))

	v, err := DecodeEmbedding(byID[1].Embedding)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0}, v)

	// upsert replaces content
	require.NoError(t, s.Put(ctx, ChunkRecord{ID: "c-0", DocumentID: "chem", Content: "Molecules", Embedding: EncodeEmbedding([]float32{1, 1})}))
	got, err := s.ChunksByIDs(ctx, []string{"c-0"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Molecules", got[0].Content)

	require.NoError(t, s.DeleteDocument(ctx, "bio"))
	rest, err := s.EmbeddedChunks(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"c-0"}, ids(rest))
}

func ids(recs []ChunkRecord) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, NewMemoryStore())
}

func TestSQLiteStore(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "nested", "chunks.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	runStoreContract(t, s)
}

func TestSQLiteSetEmbedding(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "chunks.db"), nil)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Put(ctx, ChunkRecord{ID: "x", DocumentID: "d", Content: "text"}))
	recs, err := s.EmbeddedChunks(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, recs)

	require.NoError(t, s.SetEmbedding(ctx, "x", []float32{0.5, -0.5}))
	recs, err = s.EmbeddedChunks(ctx, []string{"d"})
	require.NoError(t, err)
	require.Len(t, recs, 1)

	assert.Error(t, s.SetEmbedding(ctx, "nope", []float32{1}))
}

func TestOpenSQLiteRequiresPath(t *testing.T) {
	_, err := OpenSQLite("", nil)
	assert.Error(t, err)
}

func TestEmbeddingCodec(t *testing.T) {
	in := []float32{0, 1, -1, 3.25, float32(math.Inf(1)), math.SmallestNonzeroFloat32}
	b := EncodeEmbedding(in)
	assert.Len(t, b, 4*len(in))
	// little-endian 1.0 = 0x3f800000
	assert.Equal(t, []byte{0x00, 0x00, 0x80, 0x3f}, b[4:8])
	out, err := DecodeEmbedding(b)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	assert.Nil(t, EncodeEmbedding(nil))
	_, err = DecodeEmbedding([]byte{1, 2, 3})
	assert.Error(t, err)
}
