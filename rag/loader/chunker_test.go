package loader

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/answerflow/rag"
	"github.com/BaSui01/answerflow/testutil/mocks"
)

// wordTokenizer 每个空白分隔的词计一个 token
type wordTokenizer struct{}

func (wordTokenizer) CountTokens(text string) (int, error) { return len(strings.Fields(text)), nil }
func (wordTokenizer) Name() string                          { return "words" }

func words(n int, prefix string) string {
	out := make([]string, n)
	for i := range out {
		out[i] = prefix
	}
	return strings.Join(out, " ")
}

func TestChunker_ShortDocumentUnchanged(t *testing.T) {
	c := NewChunker(ChunkerConfig{MaxTokens: 10, OverlapTokens: 2}, wordTokenizer{})
	doc := rag.Document{ID: "d1", Content: "short text"}
	assert.Equal(t, []rag.Document{doc}, c.Split(doc))

	disabled := NewChunker(ChunkerConfig{}, wordTokenizer{})
	long := rag.Document{ID: "d2", Content: words(100, "w")}
	assert.Len(t, disabled.Split(long), 1)
}

func TestChunker_SplitsOnParagraphs(t *testing.T) {
	c := NewChunker(ChunkerConfig{MaxTokens: 6}, wordTokenizer{})
	doc := rag.Document{
		ID:       "d1",
		Title:    "Slate",
		Content:  "one two three four\n\nfive six seven\n\neight nine",
		Metadata: map[string]any{"region": "uk"},
	}

	chunks := c.Split(doc)
	require.Len(t, chunks, 2)
	assert.Equal(t, "d1#chunk-0", chunks[0].ID)
	assert.Equal(t, "one two three four", chunks[0].Content)
	assert.Equal(t, "five six seven\n\neight nine", chunks[1].Content)
	for i, ch := range chunks {
		assert.Equal(t, "Slate", ch.Title)
		assert.Equal(t, "uk", ch.Metadata["region"])
		assert.Equal(t, "d1", ch.Metadata["parent_id"])
		assert.Equal(t, i, ch.Metadata["chunk"])
	}
	assert.NotContains(t, doc.Metadata, "parent_id")
}

func TestChunker_FallsBackToWordsWithOverlap(t *testing.T) {
	c := NewChunker(ChunkerConfig{MaxTokens: 4, OverlapTokens: 1}, wordTokenizer{})
	chunks := c.Split(rag.Document{ID: "d", Content: "a b c d e f g"})

	var got []string
	for _, ch := range chunks {
		got = append(got, ch.Content)
		n, _ := wordTokenizer{}.CountTokens(ch.Content)
		assert.LessOrEqual(t, n, 4)
	}
	assert.Equal(t, []string{"a b c d", "d e f g"}, got)
}

func TestChunker_InvalidOverlapIgnored(t *testing.T) {
	c := NewChunker(ChunkerConfig{MaxTokens: 2, OverlapTokens: 5}, wordTokenizer{})
	chunks := c.Split(rag.Document{ID: "d", Content: "a b c d"})
	require.Len(t, chunks, 2)
	assert.Equal(t, "a b", chunks[0].Content)
	assert.Equal(t, "c d", chunks[1].Content)
}

func TestChunker_SplitCorpusRemapsEntities(t *testing.T) {
	c := NewChunker(ChunkerConfig{MaxTokens: 3}, wordTokenizer{})
	corpus := &Corpus{
		Documents: []rag.Document{
			{ID: "long", Content: "a b c\n\nd e f"},
			{ID: "short", Content: "x"},
		},
		Entities: []rag.EntityRecord{
			{ID: "e1", DocumentIDs: []string{"long", "short"}},
		},
	}

	out := c.SplitCorpus(corpus)
	ids := make([]string, len(out.Documents))
	for i, d := range out.Documents {
		ids[i] = d.ID
	}
	assert.Equal(t, []string{"long#chunk-0", "long#chunk-1", "short"}, ids)
	assert.Equal(t, []string{"long#chunk-0", "long#chunk-1", "short"}, out.Entities[0].DocumentIDs)
	assert.Equal(t, []string{"long", "short"}, corpus.Entities[0].DocumentIDs)
}

func TestIndexer_ChunksLongDocuments(t *testing.T) {
	ctx := context.Background()
	store := rag.NewInMemoryVectorStore(nil)
	graph := rag.NewKnowledgeGraph(nil)

	cfg := IndexerConfig{BatchSize: 8, Concurrency: 2, Chunking: ChunkerConfig{MaxTokens: 3}}
	ix := NewIndexer(mocks.NewMockEmbedder(8), store, graph, cfg, nil)
	ix.chunker = NewChunker(cfg.Chunking, wordTokenizer{})

	stats, err := ix.Index(ctx, &Corpus{
		Documents: []rag.Document{{ID: "long", Content: "a b c\n\nd e f", Metadata: map[string]any{"region": "uk"}}},
		Entities:  []rag.EntityRecord{{ID: "e1", Name: "E", Properties: map[string]any{"region": "uk"}, DocumentIDs: []string{"long"}}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Documents)
	assert.Equal(t, 2, stats.Chunks)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	entities, err := graph.Query(ctx, rag.GraphQuery{Filters: rag.Filters{"region": "uk"}})
	require.NoError(t, err)
	require.Len(t, entities, 1)
	assert.Equal(t, []string{"long#chunk-0", "long#chunk-1"}, entities[0].DocumentIDs)
}
