package embed

import (
	"context"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vectorMagnitude(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func TestStaticEmbedder_Embed_ReturnsCorrectDimensions(t *testing.T) {
	// Given: static embedder with default dimensions
	embedder := NewStaticEmbedder()
	defer func() { _ = embedder.Close() }()

	// When: I embed a sentence
	embedding, err := embedder.Embed(context.Background(), "retrieval augmented generation")

	// Then: a 256-dimension vector is returned
	require.NoError(t, err)
	assert.Len(t, embedding, StaticDimensions)
}

func TestStaticEmbedder_Embed_VectorIsNormalized(t *testing.T) {
	// Given: static embedder
	embedder := NewStaticEmbedder()
	defer func() { _ = embedder.Close() }()

	// When: I embed text
	embedding, err := embedder.Embed(context.Background(), "the quarterly revenue report")
	require.NoError(t, err)

	// Then: vector magnitude is ~1.0
	assert.InDelta(t, 1.0, vectorMagnitude(embedding), 0.001)
}

func TestStaticEmbedder_Embed_DeterministicAcrossInstances(t *testing.T) {
	// Given: two independent embedders
	a := NewStaticEmbedder()
	b := NewStaticEmbedder()
	text := "hybrid search combines keyword and vector scores"

	// When: both embed the same text
	ea, err := a.Embed(context.Background(), text)
	require.NoError(t, err)
	eb, err := b.Embed(context.Background(), text)
	require.NoError(t, err)

	// Then: vectors are identical
	assert.Equal(t, ea, eb)
}

func TestStaticEmbedder_Embed_EmptyInput_ReturnsZeroVector(t *testing.T) {
	embedder := NewStaticEmbedder()

	for _, text := range []string{"", "   \n\t"} {
		embedding, err := embedder.Embed(context.Background(), text)
		require.NoError(t, err)
		assert.Len(t, embedding, StaticDimensions)
		assert.Zero(t, vectorMagnitude(embedding))
	}
}

func TestStaticEmbedder_SimilarText_HasHigherSimilarity(t *testing.T) {
	// Given: a query, a paraphrase and an unrelated sentence
	embedder := NewStaticEmbedder()
	ctx := context.Background()

	query, _ := embedder.Embed(ctx, "cache invalidation for search results")
	near, _ := embedder.Embed(ctx, "invalidating cached search results")
	far, _ := embedder.Embed(ctx, "banana bread recipe with walnuts")

	// Then: the paraphrase is closer than the unrelated text
	assert.Greater(t, CosineSimilarity(query, near), CosineSimilarity(query, far))
}

func TestStaticEmbedder_StopWordsIgnored(t *testing.T) {
	// Given: texts that differ only in stop words and spacing
	embedder := NewStaticEmbedder()
	ctx := context.Background()

	a, _ := embedder.Embed(ctx, "report on revenue")
	b, _ := embedder.Embed(ctx, "report revenue")

	// Then: the word component dominates and vectors stay very close
	assert.Greater(t, CosineSimilarity(a, b), 0.75)
}

func TestStaticEmbedder_CustomDimensions(t *testing.T) {
	embedder := NewStaticEmbedderWithDimensions(64)

	embedding, err := embedder.Embed(context.Background(), "sixty four")

	require.NoError(t, err)
	assert.Len(t, embedding, 64)
	assert.Equal(t, 64, embedder.Dimensions())
	assert.Equal(t, "static-64", embedder.ModelName())
}

func TestStaticEmbedder_EmbedBatch_HandlesEmptyStrings(t *testing.T) {
	embedder := NewStaticEmbedder()

	results, err := embedder.EmbedBatch(context.Background(), []string{"alpha", "", "gamma"})

	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Zero(t, vectorMagnitude(results[1]))
	assert.InDelta(t, 1.0, vectorMagnitude(results[2]), 0.001)
}

func TestStaticEmbedder_Close_BlocksFurtherUse(t *testing.T) {
	// Given: a closed embedder
	embedder := NewStaticEmbedder()
	require.NoError(t, embedder.Close())
	require.NoError(t, embedder.Close())

	// When: I embed
	_, err := embedder.Embed(context.Background(), "text")

	// Then: ErrClosed is returned and the embedder reports unavailable
	assert.ErrorIs(t, err, ErrClosed)
	assert.False(t, embedder.Available(context.Background()))
}

func TestStaticEmbedder_Embed_UnicodeAndLongText(t *testing.T) {
	embedder := NewStaticEmbedder()

	_, err := embedder.Embed(context.Background(), "日本語のテキスト検索 café")
	require.NoError(t, err)

	long := strings.Repeat("lorem ipsum dolor sit amet ", 2000)
	embedding, err := embedder.Embed(context.Background(), long)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, vectorMagnitude(embedding), 0.001)
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"length mismatch", []float32{1, 0}, []float32{1}, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0},
		{"empty", nil, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, CosineSimilarity(tt.a, tt.b), 1e-9)
		})
	}
}
