package rag

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedGraph() *KnowledgeGraph {
	g := NewKnowledgeGraph(nil)
	g.AddNode(&Node{ID: "p-brandon", Type: "Person", Label: "Brandon", Properties: map[string]any{
		"region": "uk", "role": "commissioner", "summary": "Brandon commissions UK drama.",
	}})
	g.AddNode(&Node{ID: "p-kennedy", Type: "Person", Label: "Kennedy", Properties: map[string]any{
		"region": "us", "role": "commissioner",
	}})
	g.AddNode(&Node{ID: "o-bbc", Type: "Organization", Label: "BBC", Properties: map[string]any{"region": "uk"}})
	g.AddEdge(&Edge{Source: "p-brandon", Target: "o-bbc", Type: "WORKS_AT"})
	g.AddMention("p-brandon", "doc-1")
	g.AddMention("p-brandon", "doc-2")
	g.AddMention("p-kennedy", "doc-3")
	return g
}

func TestKnowledgeGraph_ImplementsGraphStore(t *testing.T) {
	var _ GraphStore = (*KnowledgeGraph)(nil)
}

func TestKnowledgeGraph_QueryByFilters(t *testing.T) {
	g := seedGraph()

	recs, err := g.Query(context.Background(), GraphQuery{Filters: Filters{"region": "uk"}})
	require.NoError(t, err)
	require.Len(t, recs, 2)

	assert.Equal(t, "o-bbc", recs[0].ID)
	assert.Empty(t, recs[0].DocumentIDs)

	brandon := recs[1]
	assert.Equal(t, "Brandon", brandon.Name)
	assert.Equal(t, "Person", brandon.Type)
	assert.Equal(t, []string{"doc-1", "doc-2"}, brandon.DocumentIDs)
	assert.Equal(t, "Brandon commissions UK drama.", brandon.Summary)
	assert.Equal(t, []string{"BBC"}, brandon.Properties["related"])
}

func TestKnowledgeGraph_QueryByDocuments(t *testing.T) {
	g := seedGraph()

	recs, err := g.Query(context.Background(), GraphQuery{DocumentIDs: []string{"doc-3", "doc-9"}})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "p-kennedy", recs[0].ID)

	recs, err = g.Query(context.Background(), GraphQuery{
		Filters:     Filters{"role": "commissioner"},
		DocumentIDs: []string{"doc-1"},
	})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "p-brandon", recs[0].ID)
}

func TestKnowledgeGraph_QueryLimitAndEmpty(t *testing.T) {
	g := seedGraph()

	recs, err := g.Query(context.Background(), GraphQuery{Filters: Filters{"role": "commissioner"}, Limit: 1})
	require.NoError(t, err)
	assert.Len(t, recs, 1)

	recs, err = g.Query(context.Background(), GraphQuery{})
	require.NoError(t, err)
	assert.Nil(t, recs)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = g.Query(ctx, GraphQuery{Filters: Filters{"region": "uk"}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestKnowledgeGraph_QueryDoesNotLeakProperties(t *testing.T) {
	g := seedGraph()
	recs, err := g.Query(context.Background(), GraphQuery{Filters: Filters{"region": "us"}})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	recs[0].Properties["region"] = "mutated"

	node, ok := g.GetNode("p-kennedy")
	require.True(t, ok)
	assert.Equal(t, "us", node.Properties["region"])
}

func TestKnowledgeGraph_NeighborsAndTypes(t *testing.T) {
	g := seedGraph()

	neighbors := g.GetNeighbors("p-brandon", 1)
	labels := make([]string, 0, len(neighbors))
	for _, n := range neighbors {
		labels = append(labels, n.Label)
	}
	assert.ElementsMatch(t, []string{"BBC", "doc-1", "doc-2"}, labels)

	// 两跳：经 BBC 无更多节点，经 doc 无其他实体
	assert.Len(t, g.GetNeighbors("p-brandon", 2), 3)
	assert.Empty(t, g.GetNeighbors("p-brandon", 0))

	people := g.QueryByType("Person")
	require.Len(t, people, 2)
	assert.Equal(t, "p-brandon", people[0].ID)
	assert.Len(t, g.QueryByType(NodeTypeDocument), 3)
}

func TestKnowledgeGraph_GeneratesIDs(t *testing.T) {
	g := NewKnowledgeGraph(nil)
	a := &Node{Type: "Person", Label: "A"}
	b := &Node{Type: "Person", Label: "B"}
	g.AddNode(a)
	g.AddNode(b)
	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.False(t, a.CreatedAt.IsZero())
}

func TestKnowledgeGraph_UpsertEntity(t *testing.T) {
	g := NewKnowledgeGraph(nil)
	ctx := context.Background()

	e := EntityRecord{
		ID: "p-ines", Name: "Ines", Type: "Person",
		Properties:  map[string]any{"region": "fr"},
		Summary:     "Ines runs French factual.",
		DocumentIDs: []string{"doc-9", "doc-9", "doc-10"},
	}
	require.NoError(t, g.UpsertEntity(ctx, e))
	require.NoError(t, g.UpsertEntity(ctx, e))

	recs, err := g.Query(ctx, GraphQuery{Filters: Filters{"region": "fr"}})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "Ines", recs[0].Name)
	assert.Equal(t, "Ines runs French factual.", recs[0].Summary)
	assert.Equal(t, []string{"doc-10", "doc-9"}, recs[0].DocumentIDs)

	assert.Error(t, g.UpsertEntity(ctx, EntityRecord{Name: "anonymous"}))
}
