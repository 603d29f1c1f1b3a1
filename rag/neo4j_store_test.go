package rag

import (
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNeo4jGraphStore_ImplementsGraphStore(t *testing.T) {
	var _ GraphStore = (*Neo4jGraphStore)(nil)
}

func TestBuildEntityQuery(t *testing.T) {
	cypher, params, err := buildEntityQuery("Entity", GraphQuery{
		Filters:     Filters{"role": "commissioner", "region": "uk"},
		DocumentIDs: []string{"doc-1"},
		Limit:       25,
	})
	require.NoError(t, err)

	assert.Equal(t, "MATCH (e:Entity)\n"+
		"WHERE (e.`region` = $f0 OR $f0 IN coalesce(e.`region`, [])) AND (e.`role` = $f1 OR $f1 IN coalesce(e.`role`, []))\n"+
		"OPTIONAL MATCH (e)-[:MENTIONED_IN]->(d:Document)\n"+
		"WITH e, collect(DISTINCT d.id) AS docs\n"+
		"WHERE size($docIDs) = 0 OR any(id IN docs WHERE id IN $docIDs)\n"+
		"RETURN e.id AS id, e.name AS name, e.type AS type, e.summary AS summary, properties(e) AS props, docs\n"+
		"ORDER BY id\n"+
		"LIMIT $limit", cypher)

	assert.Equal(t, "uk", params["f0"])
	assert.Equal(t, "commissioner", params["f1"])
	assert.Equal(t, []string{"doc-1"}, params["docIDs"])
	assert.Equal(t, 25, params["limit"])
}

func TestBuildEntityQuery_NoFiltersNoLimit(t *testing.T) {
	cypher, params, err := buildEntityQuery("Entity", GraphQuery{DocumentIDs: []string{"d"}})
	require.NoError(t, err)
	assert.NotContains(t, cypher, "WHERE (e.")
	assert.NotContains(t, cypher, "LIMIT")
	_, hasLimit := params["limit"]
	assert.False(t, hasLimit)
}

func TestBuildEntityQuery_RejectsInjection(t *testing.T) {
	_, _, err := buildEntityQuery("Entity", GraphQuery{Filters: Filters{"region` = 'x' OR 1=1 //": "uk"}})
	assert.Error(t, err)
}

func TestRecordToEntity(t *testing.T) {
	rec := &db.Record{
		Keys: []string{"id", "name", "type", "summary", "props", "docs"},
		Values: []any{
			"p-1", "Brandon", "Person", "Commissions drama.",
			map[string]any{"id": "p-1", "name": "Brandon", "type": "Person", "summary": "Commissions drama.", "region": "uk"},
			[]any{"doc-2", "doc-1"},
		},
	}

	e := recordToEntity(rec)
	assert.Equal(t, EntityRecord{
		ID:          "p-1",
		Name:        "Brandon",
		Type:        "Person",
		Summary:     "Commissions drama.",
		Properties:  map[string]any{"region": "uk"},
		DocumentIDs: []string{"doc-1", "doc-2"},
	}, e)
}

func TestNewNeo4jGraphStore(t *testing.T) {
	s, err := NewNeo4jGraphStore(Neo4jConfig{URI: "bolt://localhost:7687", Username: "neo4j"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "neo4j", s.cfg.Database)
	assert.Equal(t, "Entity", s.cfg.EntityLabel)

	_, err = NewNeo4jGraphStore(Neo4jConfig{URI: "ftp://localhost"}, nil)
	assert.Error(t, err)

	_, err = NewNeo4jGraphStore(Neo4jConfig{URI: "bolt://localhost:7687", EntityLabel: "Bad Label"}, nil)
	assert.Error(t, err)
}
