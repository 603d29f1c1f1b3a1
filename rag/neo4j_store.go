package rag

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/db"
	"go.uber.org/zap"
)

// Neo4jConfig Neo4j 图存储配置
type Neo4jConfig struct {
	URI      string        `json:"uri"`
	Username string        `json:"username"`
	Password string        `json:"password,omitempty"`
	Database string        `json:"database,omitempty"`
	Timeout  time.Duration `json:"timeout,omitempty"`
	// EntityLabel 实体节点标签
	EntityLabel string `json:"entity_label,omitempty"`
}

// Neo4jGraphStore 基于 Neo4j 的图存储。
// 实体节点以 MENTIONED_IN 关系指向 (:Document {id}) 节点。
type Neo4jGraphStore struct {
	client neo4j.DriverWithContext
	cfg    Neo4jConfig
	logger *zap.Logger
}

var cypherIdent = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// NewNeo4jGraphStore 创建 Neo4j 图存储；不会立即建立连接
func NewNeo4jGraphStore(cfg Neo4jConfig, logger *zap.Logger) (*Neo4jGraphStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Database == "" {
		cfg.Database = "neo4j"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.EntityLabel == "" {
		cfg.EntityLabel = "Entity"
	}
	if !cypherIdent.MatchString(cfg.EntityLabel) {
		return nil, fmt.Errorf("invalid entity label %q", cfg.EntityLabel)
	}

	client, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}

	return &Neo4jGraphStore{
		client: client,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "neo4j_graph_store")),
	}, nil
}

// Ping 校验连通性
func (s *Neo4jGraphStore) Ping(ctx context.Context) error {
	return s.client.VerifyConnectivity(ctx)
}

// Close 关闭驱动
func (s *Neo4jGraphStore) Close(ctx context.Context) error {
	return s.client.Close(ctx)
}

// Query 按属性与提及文档查询实体
func (s *Neo4jGraphStore) Query(ctx context.Context, q GraphQuery) ([]EntityRecord, error) {
	if q.Empty() {
		return nil, nil
	}
	cypher, params, err := buildEntityQuery(s.cfg.EntityLabel, q)
	if err != nil {
		return nil, err
	}

	session := s.client.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: s.cfg.Database,
		AccessMode:   neo4j.AccessModeRead,
	})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	}, neo4j.WithTxTimeout(s.cfg.Timeout))
	if err != nil {
		return nil, fmt.Errorf("neo4j entity query: %w", err)
	}

	records := result.([]*db.Record)
	out := make([]EntityRecord, 0, len(records))
	for _, rec := range records {
		out = append(out, recordToEntity(rec))
	}

	s.logger.Debug("graph query",
		zap.Int("filters", len(q.Filters)),
		zap.Int("document_ids", len(q.DocumentIDs)),
		zap.Int("entities", len(out)))
	return out, nil
}

// UpsertEntity 写入实体及其提及的文档
func (s *Neo4jGraphStore) UpsertEntity(ctx context.Context, e EntityRecord) error {
	if e.ID == "" {
		return fmt.Errorf("entity id is required")
	}
	props := copyProperties(e.Properties)
	if props == nil {
		props = map[string]any{}
	}
	props["id"] = e.ID
	props["name"] = e.Name
	props["type"] = e.Type
	if e.Summary != "" {
		props["summary"] = e.Summary
	}

	session := s.client.NewSession(ctx, neo4j.SessionConfig{DatabaseName: s.cfg.Database})
	defer session.Close(ctx)

	cypher := fmt.Sprintf(`
		MERGE (e:%s {id: $id})
		SET e += $props
		WITH e
		UNWIND $docs AS docID
		MERGE (d:Document {id: docID})
		MERGE (e)-[:%s]->(d)
	`, s.cfg.EntityLabel, RelMentionedIn)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, cypher, map[string]any{
			"id":    e.ID,
			"props": props,
			"docs":  append([]string{}, e.DocumentIDs...),
		})
		if err != nil {
			return nil, err
		}
		return res.Consume(ctx)
	}, neo4j.WithTxTimeout(s.cfg.Timeout))
	if err != nil {
		return fmt.Errorf("neo4j upsert entity %s: %w", e.ID, err)
	}
	return nil
}

// buildEntityQuery 生成参数化 Cypher；属性名必须是合法标识符
func buildEntityQuery(label string, q GraphQuery) (string, map[string]any, error) {
	keys := make([]string, 0, len(q.Filters))
	for k := range q.Filters {
		if !cypherIdent.MatchString(k) {
			return "", nil, fmt.Errorf("invalid filter property %q", k)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	params := map[string]any{
		"docIDs": append([]string{}, q.DocumentIDs...),
	}
	var where []string
	for i, k := range keys {
		p := fmt.Sprintf("f%d", i)
		params[p] = q.Filters[k]
		where = append(where, fmt.Sprintf("(e.`%s` = $%s OR $%s IN coalesce(e.`%s`, []))", k, p, p, k))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "MATCH (e:%s)\n", label)
	if len(where) > 0 {
		fmt.Fprintf(&b, "WHERE %s\n", strings.Join(where, " AND "))
	}
	fmt.Fprintf(&b, "OPTIONAL MATCH (e)-[:%s]->(d:Document)\n", RelMentionedIn)
	b.WriteString("WITH e, collect(DISTINCT d.id) AS docs\n")
	b.WriteString("WHERE size($docIDs) = 0 OR any(id IN docs WHERE id IN $docIDs)\n")
	b.WriteString("RETURN e.id AS id, e.name AS name, e.type AS type, e.summary AS summary, properties(e) AS props, docs\n")
	b.WriteString("ORDER BY id")
	if q.Limit > 0 {
		b.WriteString("\nLIMIT $limit")
		params["limit"] = q.Limit
	}
	return b.String(), params, nil
}

func recordToEntity(rec *db.Record) EntityRecord {
	var e EntityRecord
	if v, ok := rec.Get("id"); ok {
		e.ID, _ = v.(string)
	}
	if v, ok := rec.Get("name"); ok {
		e.Name, _ = v.(string)
	}
	if v, ok := rec.Get("type"); ok {
		e.Type, _ = v.(string)
	}
	if v, ok := rec.Get("summary"); ok {
		e.Summary, _ = v.(string)
	}
	if v, ok := rec.Get("props"); ok {
		if props, ok := v.(map[string]any); ok {
			e.Properties = copyProperties(props)
			for _, k := range []string{"id", "name", "type", "summary"} {
				delete(e.Properties, k)
			}
		}
	}
	if v, ok := rec.Get("docs"); ok {
		if docs, ok := v.([]any); ok {
			for _, d := range docs {
				if s, ok := d.(string); ok {
					e.DocumentIDs = append(e.DocumentIDs, s)
				}
			}
			sort.Strings(e.DocumentIDs)
		}
	}
	return e
}
