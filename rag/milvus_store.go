package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/answerflow/internal/tlsutil"
)

// MilvusIndexType 向量索引类型
type MilvusIndexType string

const (
	MilvusIndexIVFFlat MilvusIndexType = "IVF_FLAT"
	MilvusIndexHNSW    MilvusIndexType = "HNSW"
	MilvusIndexFlat    MilvusIndexType = "FLAT"
)

// MilvusMetricType 距离度量
type MilvusMetricType string

const (
	MilvusMetricL2     MilvusMetricType = "L2"
	MilvusMetricIP     MilvusMetricType = "IP"
	MilvusMetricCosine MilvusMetricType = "COSINE"
)

// MilvusConfig Milvus REST v2 存储配置
type MilvusConfig struct {
	Host    string `json:"host"`
	Port    int    `json:"port"`
	BaseURL string `json:"base_url,omitempty"` // 设置后覆盖 host:port

	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Token    string `json:"token,omitempty"`

	Collection string `json:"collection"`
	Database   string `json:"database,omitempty"`

	VectorDimension int              `json:"vector_dimension,omitempty"`
	IndexType       MilvusIndexType  `json:"index_type,omitempty"`
	MetricType      MilvusMetricType `json:"metric_type,omitempty"`
	SearchParams    map[string]any   `json:"search_params,omitempty"`

	AutoCreateCollection bool          `json:"auto_create_collection,omitempty"`
	Timeout              time.Duration `json:"timeout,omitempty"`
	BatchSize            int           `json:"batch_size,omitempty"`
}

// 集合字段
const (
	milvusFieldID       = "id"
	milvusFieldVector   = "vector"
	milvusFieldDocID    = "doc_id"
	milvusFieldTitle    = "title"
	milvusFieldContent  = "content"
	milvusFieldMetadata = "metadata"

	milvusMaxContent = 65535
)

// MilvusStore 基于 Milvus REST API (v2) 的向量存储
type MilvusStore struct {
	cfg     MilvusConfig
	baseURL string
	client  *http.Client
	logger  *zap.Logger

	ensureMu sync.Mutex
	ensured  bool
}

// NewMilvusStore 创建 Milvus 向量存储
func NewMilvusStore(cfg MilvusConfig, logger *zap.Logger) *MilvusStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 19530
	}
	if cfg.Database == "" {
		cfg.Database = "default"
	}
	if cfg.IndexType == "" {
		cfg.IndexType = MilvusIndexHNSW
	}
	if cfg.MetricType == "" {
		cfg.MetricType = MilvusMetricCosine
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.SearchParams == nil {
		cfg.SearchParams = defaultSearchParams(cfg.IndexType)
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = fmt.Sprintf("http://%s:%d", cfg.Host, cfg.Port)
	}

	return &MilvusStore{
		cfg:     cfg,
		baseURL: baseURL,
		client:  tlsutil.SecureHTTPClient(cfg.Timeout),
		logger:  logger.With(zap.String("component", "milvus_store")),
	}
}

func defaultIndexParams(indexType MilvusIndexType) map[string]any {
	switch indexType {
	case MilvusIndexHNSW:
		return map[string]any{"M": 16, "efConstruction": 256}
	case MilvusIndexFlat:
		return map[string]any{}
	default:
		return map[string]any{"nlist": 1024}
	}
}

func defaultSearchParams(indexType MilvusIndexType) map[string]any {
	switch indexType {
	case MilvusIndexHNSW:
		return map[string]any{"ef": 64}
	case MilvusIndexFlat:
		return map[string]any{}
	default:
		return map[string]any{"nprobe": 16}
	}
}

// milvusNamespace 由文档 ID 生成稳定主键
var milvusNamespace = uuid.MustParse("6f1c2a4e-9b0d-4c3e-8a57-2d9e4b1f7c60")

func milvusPointID(docID string) string {
	return uuid.NewSHA1(milvusNamespace, []byte(docID)).String()
}

// Upsert 按批写入文档，主键由文档 ID 派生，重复写入覆盖
func (s *MilvusStore) Upsert(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	if strings.TrimSpace(s.cfg.Collection) == "" {
		return fmt.Errorf("milvus collection is required")
	}

	dim := s.cfg.VectorDimension
	for i, doc := range docs {
		if doc.ID == "" {
			return fmt.Errorf("document[%d] has empty id", i)
		}
		if len(doc.Embedding) == 0 {
			return fmt.Errorf("document[%d] has no embedding", i)
		}
		if dim == 0 {
			dim = len(doc.Embedding)
		}
		if len(doc.Embedding) != dim {
			return fmt.Errorf("document[%d] embedding dimension mismatch: got=%d want=%d", i, len(doc.Embedding), dim)
		}
	}

	if err := s.ensureCollection(ctx, dim); err != nil {
		return fmt.Errorf("ensure collection: %w", err)
	}

	for i := 0; i < len(docs); i += s.cfg.BatchSize {
		end := min(i+s.cfg.BatchSize, len(docs))
		if err := s.upsertBatch(ctx, docs[i:end]); err != nil {
			return fmt.Errorf("upsert batch %d-%d: %w", i, end, err)
		}
	}

	s.logger.Debug("milvus upsert completed", zap.Int("count", len(docs)))
	return nil
}

func (s *MilvusStore) upsertBatch(ctx context.Context, docs []Document) error {
	data := make([]map[string]any, 0, len(docs))
	for _, doc := range docs {
		metadata := doc.Metadata
		if metadata == nil {
			metadata = map[string]any{}
		}
		data = append(data, map[string]any{
			milvusFieldID:       milvusPointID(doc.ID),
			milvusFieldVector:   doc.Embedding,
			milvusFieldDocID:    doc.ID,
			milvusFieldTitle:    truncateRunes(doc.Title, 1024),
			milvusFieldContent:  truncateRunes(doc.Content, milvusMaxContent/4),
			milvusFieldMetadata: metadata,
		})
	}

	req := s.collectionRequest()
	req["data"] = data
	return s.doJSON(ctx, "/v2/vectordb/entities/upsert", req, nil)
}

// Search 向量检索；filters 渲染为 metadata 上的布尔表达式
func (s *MilvusStore) Search(ctx context.Context, queryEmbedding []float64, topK int, filters Filters) ([]VectorHit, error) {
	if strings.TrimSpace(s.cfg.Collection) == "" {
		return nil, fmt.Errorf("milvus collection is required")
	}
	if topK <= 0 {
		return []VectorHit{}, nil
	}
	if len(queryEmbedding) == 0 {
		return nil, fmt.Errorf("query embedding is required")
	}

	req := s.collectionRequest()
	req["data"] = [][]float64{queryEmbedding}
	req["annsField"] = milvusFieldVector
	req["limit"] = topK
	req["outputFields"] = []string{milvusFieldDocID, milvusFieldTitle, milvusFieldContent, milvusFieldMetadata}
	req["searchParams"] = map[string]any{
		"metricType": string(s.cfg.MetricType),
		"params":     s.cfg.SearchParams,
	}
	if expr := MilvusFilterExpr(filters); expr != "" {
		req["filter"] = expr
	}

	var resp struct {
		Data []map[string]any `json:"data"`
	}
	if err := s.doJSON(ctx, "/v2/vectordb/entities/search", req, &resp); err != nil {
		return nil, fmt.Errorf("search entities: %w", err)
	}

	hits := make([]VectorHit, 0, len(resp.Data))
	for _, row := range resp.Data {
		doc := Document{}
		doc.ID, _ = row[milvusFieldDocID].(string)
		if doc.ID == "" {
			doc.ID, _ = row[milvusFieldID].(string)
		}
		doc.Title, _ = row[milvusFieldTitle].(string)
		doc.Content, _ = row[milvusFieldContent].(string)
		doc.Metadata, _ = row[milvusFieldMetadata].(map[string]any)

		distance, _ := row["distance"].(float64)
		hits = append(hits, VectorHit{Document: doc, Score: s.distanceToScore(distance)})
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	return hits, nil
}

// distanceToScore 将 Milvus 距离换算为越大越相似的分数
func (s *MilvusStore) distanceToScore(distance float64) float64 {
	switch s.cfg.MetricType {
	case MilvusMetricIP, MilvusMetricCosine:
		return distance
	case MilvusMetricL2:
		return 1.0 / (1.0 + distance)
	default:
		return 1.0 - distance
	}
}

// Delete 按文档 ID 删除
func (s *MilvusStore) Delete(ctx context.Context, ids []string) error {
	pointIDs := make([]string, 0, len(ids))
	for _, id := range ids {
		if strings.TrimSpace(id) != "" {
			pointIDs = append(pointIDs, milvusPointID(id))
		}
	}
	if len(pointIDs) == 0 {
		return nil
	}

	req := s.collectionRequest()
	req["filter"] = fmt.Sprintf("%s in [%s]", milvusFieldID, quoteList(pointIDs))
	if err := s.doJSON(ctx, "/v2/vectordb/entities/delete", req, nil); err != nil {
		return fmt.Errorf("delete entities: %w", err)
	}
	return nil
}

// Count 返回集合行数
func (s *MilvusStore) Count(ctx context.Context) (int, error) {
	var resp struct {
		Data struct {
			RowCount int `json:"rowCount"`
		} `json:"data"`
	}
	if err := s.doJSON(ctx, "/v2/vectordb/collections/get_stats", s.collectionRequest(), &resp); err != nil {
		return 0, fmt.Errorf("get collection stats: %w", err)
	}
	return resp.Data.RowCount, nil
}

// ClearAll 删除集合，下次写入时按需重建
func (s *MilvusStore) ClearAll(ctx context.Context) error {
	if err := s.doJSON(ctx, "/v2/vectordb/collections/drop", s.collectionRequest(), nil); err != nil {
		return fmt.Errorf("drop collection %s: %w", s.cfg.Collection, err)
	}
	s.ensureMu.Lock()
	s.ensured = false
	s.ensureMu.Unlock()
	s.logger.Info("milvus collection dropped", zap.String("collection", s.cfg.Collection))
	return nil
}

// MilvusFilterExpr 将等值过滤渲染为 Milvus 布尔表达式，键按字典序。
// 标量与数组元数据均可匹配。
func MilvusFilterExpr(filters Filters) string {
	if len(filters) == 0 {
		return ""
	}
	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	clauses := make([]string, 0, len(keys))
	for _, k := range keys {
		field := fmt.Sprintf("%s[%s]", milvusFieldMetadata, strconv.Quote(k))
		value := strconv.Quote(filters[k])
		clauses = append(clauses, fmt.Sprintf("(%s == %s or json_contains(%s, %s))", field, value, field, value))
	}
	return strings.Join(clauses, " and ")
}

func (s *MilvusStore) ensureCollection(ctx context.Context, dim int) error {
	if !s.cfg.AutoCreateCollection {
		return nil
	}
	s.ensureMu.Lock()
	defer s.ensureMu.Unlock()
	if s.ensured {
		return nil
	}

	var has struct {
		Data struct {
			Has bool `json:"has"`
		} `json:"data"`
	}
	if err := s.doJSON(ctx, "/v2/vectordb/collections/has", s.collectionRequest(), &has); err != nil {
		s.logger.Warn("failed to check collection existence", zap.Error(err))
	}
	if !has.Data.Has {
		if err := s.createCollection(ctx, dim); err != nil {
			return err
		}
		s.logger.Info("collection created and loaded",
			zap.String("collection", s.cfg.Collection),
			zap.Int("dimension", dim),
			zap.String("index_type", string(s.cfg.IndexType)))
	}
	s.ensured = true
	return nil
}

func (s *MilvusStore) createCollection(ctx context.Context, dim int) error {
	create := s.collectionRequest()
	create["schema"] = map[string]any{
		"autoId": false,
		"fields": []map[string]any{
			{"fieldName": milvusFieldID, "dataType": "VarChar", "isPrimary": true, "elementTypeParams": map[string]any{"max_length": 64}},
			{"fieldName": milvusFieldVector, "dataType": "FloatVector", "elementTypeParams": map[string]any{"dim": dim}},
			{"fieldName": milvusFieldDocID, "dataType": "VarChar", "elementTypeParams": map[string]any{"max_length": 256}},
			{"fieldName": milvusFieldTitle, "dataType": "VarChar", "elementTypeParams": map[string]any{"max_length": 4096}},
			{"fieldName": milvusFieldContent, "dataType": "VarChar", "elementTypeParams": map[string]any{"max_length": milvusMaxContent}},
			{"fieldName": milvusFieldMetadata, "dataType": "JSON"},
		},
	}
	create["indexParams"] = []map[string]any{{
		"fieldName":  milvusFieldVector,
		"indexName":  milvusFieldVector + "_idx",
		"metricType": string(s.cfg.MetricType),
		"indexType":  string(s.cfg.IndexType),
		"params":     defaultIndexParams(s.cfg.IndexType),
	}}
	if err := s.doJSON(ctx, "/v2/vectordb/collections/create", create, nil); err != nil {
		return fmt.Errorf("create collection %s: %w", s.cfg.Collection, err)
	}
	if err := s.doJSON(ctx, "/v2/vectordb/collections/load", s.collectionRequest(), nil); err != nil {
		return fmt.Errorf("load collection %s: %w", s.cfg.Collection, err)
	}
	return nil
}

func (s *MilvusStore) collectionRequest() map[string]any {
	return map[string]any{
		"dbName":         s.cfg.Database,
		"collectionName": s.cfg.Collection,
	}
}

func (s *MilvusStore) applyHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if s.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.Token)
	} else if s.cfg.Username != "" && s.cfg.Password != "" {
		req.SetBasicAuth(s.cfg.Username, s.cfg.Password)
	}
}

// doJSON 发送 POST 请求并解码响应。Milvus 出错时仍可能返回 200，需检查 code。
func (s *MilvusStore) doJSON(ctx context.Context, path string, in any, out any) error {
	b, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	s.applyHeaders(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var base struct {
		Code    int    `json:"code"`
		Message string `json:"message,omitempty"`
	}
	if err := json.Unmarshal(respBody, &base); err == nil && base.Code != 0 {
		return fmt.Errorf("milvus error: code=%d message=%s", base.Code, base.Message)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("milvus request failed: path=%s status=%d body=%s", path, resp.StatusCode, truncateRunes(string(respBody), 512))
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func truncateRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}

func quoteList(items []string) string {
	quoted := make([]string, len(items))
	for i, item := range items {
		quoted[i] = strconv.Quote(item)
	}
	return strings.Join(quoted, ", ")
}
