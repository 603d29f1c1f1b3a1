package rag

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// GraphQuery 图查询参数
type GraphQuery struct {
	// Filters 实体属性等值约束（如 region、role）
	Filters Filters `json:"filters,omitempty"`
	// DocumentIDs 非空时只返回被这些文档提及的实体
	DocumentIDs []string `json:"document_ids,omitempty"`
	Limit       int      `json:"limit,omitempty"`
}

// Empty 是否没有任何约束
func (q GraphQuery) Empty() bool {
	return len(q.Filters) == 0 && len(q.DocumentIDs) == 0
}

// GraphStore 图查询能力，用于按结构化属性补充或过滤候选
type GraphStore interface {
	Query(ctx context.Context, q GraphQuery) ([]EntityRecord, error)
}

// 节点与关系类型
const (
	NodeTypeDocument = "Document"
	RelMentionedIn   = "MENTIONED_IN"
)

// Node 知识图节点
type Node struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Label      string         `json:"label"`
	Properties map[string]any `json:"properties,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Edge 节点间的有向关系
type Edge struct {
	ID         string         `json:"id"`
	Source     string         `json:"source"`
	Target     string         `json:"target"`
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties,omitempty"`
	Weight     float64        `json:"weight"`
}

// KnowledgeGraph 内存知识图，实现 GraphStore
type KnowledgeGraph struct {
	mu       sync.RWMutex
	nodes    map[string]*Node
	edges    map[string]*Edge
	outEdges map[string][]string // nodeID -> edgeIDs
	inEdges  map[string][]string // nodeID -> edgeIDs
	seq      int
	logger   *zap.Logger
}

// NewKnowledgeGraph 创建知识图
func NewKnowledgeGraph(logger *zap.Logger) *KnowledgeGraph {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KnowledgeGraph{
		nodes:    make(map[string]*Node),
		edges:    make(map[string]*Edge),
		outEdges: make(map[string][]string),
		inEdges:  make(map[string][]string),
		logger:   logger.With(zap.String("component", "knowledge_graph")),
	}
}

// AddNode 添加或替换节点
func (g *KnowledgeGraph) AddNode(node *Node) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if node.ID == "" {
		g.seq++
		node.ID = fmt.Sprintf("node_%d", g.seq)
	}
	if node.CreatedAt.IsZero() {
		node.CreatedAt = time.Now()
	}
	g.nodes[node.ID] = node
}

// AddEdge 添加关系
func (g *KnowledgeGraph) AddEdge(edge *Edge) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if edge.ID == "" {
		g.seq++
		edge.ID = fmt.Sprintf("edge_%d", g.seq)
	}
	g.edges[edge.ID] = edge
	g.outEdges[edge.Source] = append(g.outEdges[edge.Source], edge.ID)
	g.inEdges[edge.Target] = append(g.inEdges[edge.Target], edge.ID)
}

// AddMention 记录实体被文档提及；文档节点不存在时自动创建
func (g *KnowledgeGraph) AddMention(entityID, documentID string) {
	if _, ok := g.GetNode(documentID); !ok {
		g.AddNode(&Node{ID: documentID, Type: NodeTypeDocument, Label: documentID})
	}
	g.AddEdge(&Edge{Source: entityID, Target: documentID, Type: RelMentionedIn, Weight: 1})
}

// UpsertEntity 写入实体节点及其提及的文档，与 Neo4jGraphStore.UpsertEntity 语义一致
func (g *KnowledgeGraph) UpsertEntity(ctx context.Context, e EntityRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.ID == "" {
		return fmt.Errorf("entity id is required")
	}
	props := copyProperties(e.Properties)
	if e.Summary != "" {
		if props == nil {
			props = map[string]any{}
		}
		props["summary"] = e.Summary
	}
	g.AddNode(&Node{ID: e.ID, Type: e.Type, Label: e.Name, Properties: props})

	existing := g.mentionsOf(e.ID)
	for _, docID := range e.DocumentIDs {
		if !existing[docID] {
			g.AddMention(e.ID, docID)
			existing[docID] = true
		}
	}
	return nil
}

func (g *KnowledgeGraph) mentionsOf(id string) map[string]bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make(map[string]bool)
	for _, edgeID := range g.outEdges[id] {
		if edge := g.edges[edgeID]; edge.Type == RelMentionedIn {
			out[edge.Target] = true
		}
	}
	return out
}

// GetNode 按 ID 获取节点
func (g *KnowledgeGraph) GetNode(id string) (*Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	return n, ok
}

// GetNeighbors 返回 depth 跳内的相邻节点（双向）
func (g *KnowledgeGraph) GetNeighbors(nodeID string, depth int) []*Node {
	g.mu.RLock()
	defer g.mu.RUnlock()

	visited := make(map[string]bool)
	var results []*Node
	g.traverseNeighbors(nodeID, depth, visited, &results)
	return results
}

func (g *KnowledgeGraph) traverseNeighbors(nodeID string, depth int, visited map[string]bool, results *[]*Node) {
	if depth <= 0 || visited[nodeID] {
		return
	}
	visited[nodeID] = true

	for _, edgeID := range g.outEdges[nodeID] {
		edge := g.edges[edgeID]
		if node, ok := g.nodes[edge.Target]; ok && !visited[edge.Target] {
			*results = append(*results, node)
			g.traverseNeighbors(edge.Target, depth-1, visited, results)
		}
	}
	for _, edgeID := range g.inEdges[nodeID] {
		edge := g.edges[edgeID]
		if node, ok := g.nodes[edge.Source]; ok && !visited[edge.Source] {
			*results = append(*results, node)
			g.traverseNeighbors(edge.Source, depth-1, visited, results)
		}
	}
}

// QueryByType 返回指定类型的节点，按 ID 排序
func (g *KnowledgeGraph) QueryByType(nodeType string) []*Node {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var results []*Node
	for _, n := range g.nodes {
		if n.Type == nodeType {
			results = append(results, n)
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].ID < results[j].ID })
	return results
}

// Query 返回属性满足过滤条件的实体及其提及文档。无约束时返回空。
func (g *KnowledgeGraph) Query(ctx context.Context, q GraphQuery) ([]EntityRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if q.Empty() {
		return nil, nil
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	wantDocs := make(map[string]bool, len(q.DocumentIDs))
	for _, id := range q.DocumentIDs {
		wantDocs[id] = true
	}

	ids := make([]string, 0, len(g.nodes))
	for id, n := range g.nodes {
		if n.Type != NodeTypeDocument {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	var out []EntityRecord
	for _, id := range ids {
		node := g.nodes[id]
		if !MatchFilters(node.Properties, q.Filters) {
			continue
		}

		docs, related := g.linksLocked(id)
		if len(wantDocs) > 0 && !anyIn(docs, wantDocs) {
			continue
		}

		rec := EntityRecord{
			ID:          node.ID,
			Name:        node.Label,
			Type:        node.Type,
			Properties:  copyProperties(node.Properties),
			DocumentIDs: docs,
		}
		if summary, ok := node.Properties["summary"].(string); ok {
			rec.Summary = summary
		}
		if len(related) > 0 {
			if rec.Properties == nil {
				rec.Properties = map[string]any{}
			}
			rec.Properties["related"] = related
		}
		out = append(out, rec)

		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}

	g.logger.Debug("graph query",
		zap.Int("filters", len(q.Filters)),
		zap.Int("document_ids", len(q.DocumentIDs)),
		zap.Int("entities", len(out)))
	return out, nil
}

// linksLocked 返回实体提及的文档与一跳内相关实体名称
func (g *KnowledgeGraph) linksLocked(id string) (docs []string, related []string) {
	seen := map[string]bool{}
	for _, edgeID := range g.outEdges[id] {
		edge := g.edges[edgeID]
		if edge.Type == RelMentionedIn {
			if !seen[edge.Target] {
				seen[edge.Target] = true
				docs = append(docs, edge.Target)
			}
		}
	}

	var neighbors []*Node
	g.traverseNeighbors(id, 1, map[string]bool{}, &neighbors)
	for _, n := range neighbors {
		if n.Type != NodeTypeDocument {
			related = append(related, n.Label)
		}
	}
	sort.Strings(docs)
	sort.Strings(related)
	return docs, related
}

func anyIn(list []string, set map[string]bool) bool {
	for _, s := range list {
		if set[s] {
			return true
		}
	}
	return false
}

func copyProperties(p map[string]any) map[string]any {
	if p == nil {
		return nil
	}
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
