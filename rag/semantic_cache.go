package rag

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/answerflow/llm/embedding"
	"github.com/BaSui01/answerflow/types"
)

// CacheStatus 缓存查询结果类型
type CacheStatus string

const (
	CacheHitExact    CacheStatus = "EXACT"
	CacheHitSemantic CacheStatus = "SEMANTIC"
	CacheMiss        CacheStatus = "MISS"
)

// SemanticCacheConfig 语义缓存配置
type SemanticCacheConfig struct {
	MaxSize             int           `json:"max_size"`
	SimilarityThreshold float64       `json:"similarity_threshold"` // 含等号
	TTL                 time.Duration `json:"ttl"`                  // 0 表示不过期
	Dimension           int           `json:"dimension"`            // 0 表示由首个存入的向量决定
	EmbedTimeout        time.Duration `json:"embed_timeout"`
}

// DefaultSemanticCacheConfig 返回默认语义缓存配置
func DefaultSemanticCacheConfig() SemanticCacheConfig {
	return SemanticCacheConfig{
		MaxSize:             1000,
		SimilarityThreshold: 0.92,
		TTL:                 time.Hour,
		EmbedTimeout:        2 * time.Second,
	}
}

// LookupResult 查询结果
type LookupResult struct {
	Status     CacheStatus `json:"status"`
	Similarity float64     `json:"similarity,omitempty"`
	Answer     *Answer     `json:"answer,omitempty"`
	// Embedding 本次计算的问题向量，未命中时供检索复用；向量化不可用时为 nil
	Embedding []float64 `json:"-"`
	// Flight 仅 LookupShared 设置。Leader 为 true 时调用方负责计算并调用 Complete；
	// 否则本次查询加入了相同或相似问题的在途计算，Answer 为 nil，需 Flight.Wait。
	Flight *Flight `json:"-"`
	Leader bool    `json:"-"`
}

// CacheStats 缓存统计
type CacheStats struct {
	Lookups               int64   `json:"lookups"`
	ExactHits             int64   `json:"exact_hits"`
	SemanticHits          int64   `json:"semantic_hits"`
	Misses                int64   `json:"misses"`
	Evictions             int64   `json:"evictions"`
	Coalesced             int64   `json:"coalesced"`
	AvgSemanticSimilarity float64 `json:"avg_semantic_similarity"`
	HitRate               float64 `json:"hit_rate"`
	Size                  int     `json:"size"`
}

// MirrorEntry 跨实例共享的缓存条目
type MirrorEntry struct {
	Key            string    `json:"key"`
	Question       string    `json:"question"`
	Embedding      []float64 `json:"embedding,omitempty"`
	Answer         *Answer   `json:"answer"`
	StoredAt       time.Time `json:"stored_at"`
	CreatedAt      time.Time `json:"created_at,omitempty"`
	LastAccessedAt time.Time `json:"last_accessed_at,omitempty"`
	HitCount       int64     `json:"hit_count,omitempty"`
}

// EntryInfo 缓存条目的访问记录
type EntryInfo struct {
	Key            string    `json:"key"`
	CreatedAt      time.Time `json:"created_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
	HitCount       int64     `json:"hit_count"`
}

// CacheMirror 缓存镜像：Store 时发布，启动时加载
type CacheMirror interface {
	Publish(ctx context.Context, entry MirrorEntry) error
	Load(ctx context.Context) ([]MirrorEntry, error)
}

// MirrorReader 支持按键回源的镜像
type MirrorReader interface {
	Fetch(ctx context.Context, key string) (MirrorEntry, bool, error)
}

type cacheNode struct {
	key            string
	question       string
	embedding      []float64
	answer         *Answer
	createdAt      time.Time
	lastAccessedAt time.Time
	hitCount       int64
	storedAt       time.Time
	expiresAt      time.Time
	prev           *cacheNode
	next           *cacheNode
}

// Flight 一次在途的未命中计算。同一范围内相同或相似度达到阈值的并发问题
// 加入同一个 Flight，只由发起者计算一次。
type Flight struct {
	id        string
	scope     string
	key       string
	embedding []float64
	done      chan struct{}
	once      sync.Once
	answer    *Answer
	err       error
}

// Key 发起者问题的规范化形式
func (f *Flight) Key() string {
	return f.key
}

// Wait 等待发起者完成，返回答案副本
func (f *Flight) Wait(ctx context.Context) (*Answer, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-f.done:
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.answer.Clone(), nil
}

// SemanticCache 两级答案缓存：规范化问题精确匹配，其次向量余弦相似度匹配。
// 容量满时淘汰最久未使用的条目。mu 保护索引、最近使用链表与维度，
// 向量化调用期间不持有锁。
type SemanticCache struct {
	embedder embedding.Embedder
	cfg      SemanticCacheConfig
	mirror   CacheMirror
	logger   *zap.Logger
	now      func() time.Time

	mu      sync.Mutex
	index   map[string]*cacheNode
	head    *cacheNode // 最近使用
	tail    *cacheNode // 最久未使用
	dim     int
	flights map[string]*Flight

	lookups      atomic.Int64
	exactHits    atomic.Int64
	semanticHits atomic.Int64
	misses       atomic.Int64
	evictions    atomic.Int64
	coalesced    atomic.Int64
	avgSimBits   atomic.Uint64
}

// NewSemanticCache 创建语义缓存；embedder 为 nil 时只做精确匹配
func NewSemanticCache(embedder embedding.Embedder, cfg SemanticCacheConfig, logger *zap.Logger) *SemanticCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultSemanticCacheConfig()
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = def.MaxSize
	}
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = def.SimilarityThreshold
	}
	if cfg.EmbedTimeout <= 0 {
		cfg.EmbedTimeout = def.EmbedTimeout
	}

	return &SemanticCache{
		embedder: embedder,
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "semantic_cache")),
		now:      time.Now,
		index:    make(map[string]*cacheNode, cfg.MaxSize),
		dim:      cfg.Dimension,
		flights:  make(map[string]*Flight),
	}
}

// WithMirror 设置跨实例镜像
func (c *SemanticCache) WithMirror(m CacheMirror) *SemanticCache {
	c.mirror = m
	return c
}

// Lookup 先精确匹配，未命中时计算问题向量并按余弦相似度扫描。
// 向量化失败按未命中处理；向量维度与缓存不一致返回 DIMENSION_MISMATCH。
func (c *SemanticCache) Lookup(ctx context.Context, question string) (LookupResult, error) {
	return c.lookup(ctx, question, "", false)
}

// LookupShared 与 Lookup 相同，但未命中时在同一临界区内登记在途计算：
// scope 内已有相同问题或相似度达到阈值的在途计算时加入它，否则成为发起者。
// 发起者必须在计算结束后调用 Complete。
func (c *SemanticCache) LookupShared(ctx context.Context, question, scope string) (LookupResult, error) {
	return c.lookup(ctx, question, scope, true)
}

func (c *SemanticCache) lookup(ctx context.Context, question, scope string, share bool) (LookupResult, error) {
	key := NormalizeQuestion(question)
	if key == "" {
		return LookupResult{Status: CacheMiss}, types.NewValidationError(types.ErrInvalidQuestion, "question is empty")
	}
	c.lookups.Add(1)
	fid := scope + "\x00" + key

	if res, ok := c.localExact(key, fid, share); ok {
		return res, nil
	}
	if res, ok := c.fetchMirrored(ctx, key); ok {
		c.exactHits.Add(1)
		return res, nil
	}

	if c.embedder == nil {
		c.mu.Lock()
		if res, ok := c.exactLocked(key); ok {
			c.mu.Unlock()
			c.exactHits.Add(1)
			return res, nil
		}
		if f, ok := c.flights[fid]; ok && share {
			c.mu.Unlock()
			return c.joined(f, CacheHitExact, 0, nil), nil
		}
		res := LookupResult{Status: CacheMiss}
		if share {
			res.Flight, res.Leader = c.beginLocked(fid, scope, key, nil), true
		}
		c.mu.Unlock()
		c.misses.Add(1)
		return res, nil
	}

	embedCtx, cancel := context.WithTimeout(ctx, c.cfg.EmbedTimeout)
	vec, err := c.embedder.EmbedQuery(embedCtx, question)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			c.misses.Add(1)
			return LookupResult{Status: CacheMiss}, ctx.Err()
		}
		c.logger.Warn("question embedding failed, treating as miss", zap.Error(err))
		vec = nil
	}

	c.mu.Lock()
	if vec != nil && c.dim > 0 && len(vec) != c.dim {
		want := c.dim
		c.mu.Unlock()
		c.misses.Add(1)
		return LookupResult{Status: CacheMiss}, types.NewDimensionMismatchError(want, len(vec))
	}

	// 向量化期间可能已有相同问题写入
	if res, ok := c.exactLocked(key); ok {
		c.mu.Unlock()
		c.exactHits.Add(1)
		return res, nil
	}

	var best *cacheNode
	bestSim := math.Inf(-1)
	if vec != nil {
		for node := c.head; node != nil; {
			next := node.next
			if c.expired(node) {
				c.removeLocked(node)
			} else if node.embedding != nil {
				if sim := cosineSimilarity(vec, node.embedding); sim > bestSim {
					best, bestSim = node, sim
				}
			}
			node = next
		}
	}

	if best != nil && bestSim >= c.cfg.SimilarityThreshold {
		c.touchLocked(best)
		answer := best.answer.Clone()
		c.mu.Unlock()
		c.recordSemanticHit(bestSim)
		return LookupResult{Status: CacheHitSemantic, Similarity: bestSim, Answer: answer, Embedding: vec}, nil
	}

	res := LookupResult{Status: CacheMiss, Embedding: vec}
	if best != nil {
		res.Similarity = bestSim
	}
	if share {
		if f, ok := c.flights[fid]; ok {
			c.mu.Unlock()
			return c.joined(f, CacheHitExact, 0, vec), nil
		}
		if f, sim := c.similarFlightLocked(scope, vec); f != nil {
			c.mu.Unlock()
			return c.joined(f, CacheHitSemantic, sim, vec), nil
		}
		res.Flight, res.Leader = c.beginLocked(fid, scope, key, vec), true
	}
	c.mu.Unlock()

	c.misses.Add(1)
	return res, nil
}

func (c *SemanticCache) localExact(key, fid string, share bool) (LookupResult, bool) {
	c.mu.Lock()
	if res, ok := c.exactLocked(key); ok {
		c.mu.Unlock()
		c.exactHits.Add(1)
		return res, true
	}
	if f, ok := c.flights[fid]; ok && share {
		c.mu.Unlock()
		return c.joined(f, CacheHitExact, 0, nil), true
	}
	c.mu.Unlock()
	return LookupResult{}, false
}

// fetchMirrored 本地精确未命中时按键回源镜像；读取失败按未命中处理
func (c *SemanticCache) fetchMirrored(ctx context.Context, key string) (LookupResult, bool) {
	reader, ok := c.mirror.(MirrorReader)
	if !ok {
		return LookupResult{}, false
	}
	entry, found, err := reader.Fetch(ctx, key)
	if err != nil {
		c.logger.Warn("cache mirror fetch failed", zap.String("key", key), zap.Error(err))
		return LookupResult{}, false
	}
	if !found || NormalizeQuestion(entry.Key) != key {
		return LookupResult{}, false
	}
	if ok, err := c.restore(entry); err != nil || !ok {
		if err != nil {
			c.logger.Warn("skipping mirrored entry", zap.String("key", key), zap.Error(err))
		}
		return LookupResult{}, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exactLocked(key)
}

// Complete 结束发起者的在途计算并唤醒加入者。成功时答案应已通过 Store 写入。
func (c *SemanticCache) Complete(f *Flight, answer *Answer, err error) {
	if f == nil {
		return
	}
	c.mu.Lock()
	if cur, ok := c.flights[f.id]; ok && cur == f {
		delete(c.flights, f.id)
	}
	c.mu.Unlock()

	f.once.Do(func() {
		if err == nil && answer == nil {
			err = errors.New("in-flight computation finished without an answer")
		}
		f.answer = answer.Clone()
		f.err = err
		close(f.done)
	})
}

// InFlight 返回在途计算数量
func (c *SemanticCache) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.flights)
}

func (c *SemanticCache) exactLocked(key string) (LookupResult, bool) {
	node, ok := c.index[key]
	if !ok {
		return LookupResult{}, false
	}
	if c.expired(node) {
		c.removeLocked(node)
		return LookupResult{}, false
	}
	c.touchLocked(node)
	return LookupResult{Status: CacheHitExact, Similarity: 1, Answer: node.answer.Clone()}, true
}

// touchLocked 命中时更新访问时间、命中次数与最近使用位置
func (c *SemanticCache) touchLocked(node *cacheNode) {
	node.lastAccessedAt = c.now()
	node.hitCount++
	c.moveToFrontLocked(node)
}

func (c *SemanticCache) beginLocked(fid, scope, key string, vec []float64) *Flight {
	f := &Flight{
		id:        fid,
		scope:     scope,
		key:       key,
		embedding: vec,
		done:      make(chan struct{}),
	}
	c.flights[fid] = f
	return f
}

func (c *SemanticCache) similarFlightLocked(scope string, vec []float64) (*Flight, float64) {
	if vec == nil {
		return nil, 0
	}
	var best *Flight
	bestSim := math.Inf(-1)
	for _, f := range c.flights {
		if f.scope != scope || f.embedding == nil || len(f.embedding) != len(vec) {
			continue
		}
		// 并列时取键较小者，保证结果与 map 遍历顺序无关
		if sim := cosineSimilarity(vec, f.embedding); sim > bestSim || (sim == bestSim && best != nil && f.id < best.id) {
			best, bestSim = f, sim
		}
	}
	if best == nil || bestSim < c.cfg.SimilarityThreshold {
		return nil, 0
	}
	return best, bestSim
}

func (c *SemanticCache) joined(f *Flight, status CacheStatus, sim float64, vec []float64) LookupResult {
	c.coalesced.Add(1)
	if status == CacheHitSemantic {
		c.recordSemanticHit(sim)
	} else {
		c.exactHits.Add(1)
	}
	c.logger.Debug("joined in-flight computation", zap.String("key", f.key), zap.String("status", string(status)))
	return LookupResult{Status: status, Similarity: sim, Embedding: vec, Flight: f}
}

// Store 写入答案。已存在的问题刷新内容并移到最近使用位置；
// 容量满时先淘汰最久未使用的条目。embedding 为 nil 时条目只参与精确匹配。
func (c *SemanticCache) Store(ctx context.Context, question string, vec []float64, answer *Answer) error {
	key := NormalizeQuestion(question)
	if key == "" {
		return types.NewValidationError(types.ErrInvalidQuestion, "question is empty")
	}
	if answer == nil {
		return errors.New("answer is required")
	}

	storedAt := c.now()
	info, err := c.storeLocal(key, question, vec, answer, storedAt, EntryInfo{})
	if err != nil {
		return err
	}

	if c.mirror != nil {
		entry := MirrorEntry{
			Key:            key,
			Question:       question,
			Embedding:      vec,
			Answer:         answer.Clone(),
			StoredAt:       storedAt,
			CreatedAt:      info.CreatedAt,
			LastAccessedAt: info.LastAccessedAt,
			HitCount:       info.HitCount,
		}
		if err := c.mirror.Publish(ctx, entry); err != nil {
			c.logger.Warn("cache mirror publish failed", zap.String("key", key), zap.Error(err))
		}
	}
	return nil
}

// storeLocal 写入本地索引。access 非零时沿用镜像中的访问记录。
func (c *SemanticCache) storeLocal(key, question string, vec []float64, answer *Answer, storedAt time.Time, access EntryInfo) (EntryInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if vec != nil {
		if len(vec) == 0 {
			vec = nil
		} else if c.dim == 0 {
			c.dim = len(vec)
		} else if len(vec) != c.dim {
			return EntryInfo{}, types.NewDimensionMismatchError(c.dim, len(vec))
		}
	}

	var expiresAt time.Time
	if c.cfg.TTL > 0 {
		expiresAt = storedAt.Add(c.cfg.TTL)
	}
	vec = append([]float64(nil), vec...)
	if len(vec) == 0 {
		vec = nil
	}

	if node, ok := c.index[key]; ok {
		node.question = question
		node.embedding = vec
		node.answer = answer.Clone()
		node.storedAt = storedAt
		node.expiresAt = expiresAt
		c.moveToFrontLocked(node)
		return node.info(), nil
	}

	if len(c.index) >= c.cfg.MaxSize && c.tail != nil {
		evicted := c.tail
		c.removeLocked(evicted)
		c.evictions.Add(1)
		c.logger.Debug("cache entry evicted", zap.String("key", evicted.key))
	}

	createdAt := access.CreatedAt
	if createdAt.IsZero() {
		createdAt = storedAt
	}
	lastAccessed := access.LastAccessedAt
	if lastAccessed.IsZero() {
		lastAccessed = createdAt
	}
	node := &cacheNode{
		key:            key,
		question:       question,
		embedding:      vec,
		answer:         answer.Clone(),
		createdAt:      createdAt,
		lastAccessedAt: lastAccessed,
		hitCount:       access.HitCount,
		storedAt:       storedAt,
		expiresAt:      expiresAt,
	}
	c.index[key] = node
	c.pushFrontLocked(node)
	return node.info(), nil
}

func (n *cacheNode) info() EntryInfo {
	return EntryInfo{
		Key:            n.key,
		CreatedAt:      n.createdAt,
		LastAccessedAt: n.lastAccessedAt,
		HitCount:       n.hitCount,
	}
}

// Entry 返回问题对应条目的访问记录，不计为命中
func (c *SemanticCache) Entry(question string) (EntryInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	node, ok := c.index[NormalizeQuestion(question)]
	if !ok || c.expired(node) {
		return EntryInfo{}, false
	}
	return node.info(), true
}

// Warm 从镜像加载条目，返回加载数量；跳过已过期与维度不符的条目
func (c *SemanticCache) Warm(ctx context.Context) (int, error) {
	if c.mirror == nil {
		return 0, nil
	}
	entries, err := c.mirror.Load(ctx)
	if err != nil {
		return 0, err
	}

	loaded := 0
	for _, e := range entries {
		ok, err := c.restore(e)
		if err != nil {
			c.logger.Warn("skipping mirrored entry", zap.String("key", e.Key), zap.Error(err))
			continue
		}
		if ok {
			loaded++
		}
	}

	c.logger.Info("semantic cache warmed", zap.Int("loaded", loaded), zap.Int("mirrored", len(entries)))
	return loaded, nil
}

// restore 将镜像条目写入本地；空键、无答案与已过期条目返回 false
func (c *SemanticCache) restore(e MirrorEntry) (bool, error) {
	key := NormalizeQuestion(e.Key)
	if key == "" || e.Answer == nil {
		return false, nil
	}
	if c.cfg.TTL > 0 && !e.StoredAt.IsZero() && c.now().After(e.StoredAt.Add(c.cfg.TTL)) {
		return false, nil
	}
	storedAt := e.StoredAt
	if storedAt.IsZero() {
		storedAt = c.now()
	}
	access := EntryInfo{CreatedAt: e.CreatedAt, LastAccessedAt: e.LastAccessedAt, HitCount: e.HitCount}
	if _, err := c.storeLocal(key, e.Question, e.Embedding, e.Answer, storedAt, access); err != nil {
		return false, err
	}
	return true, nil
}

// Len 返回当前条目数
func (c *SemanticCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.index)
}

// Purge 清空缓存；已配置的维度保留
func (c *SemanticCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.index = make(map[string]*cacheNode, c.cfg.MaxSize)
	c.head, c.tail = nil, nil
	c.dim = c.cfg.Dimension
}

// Stats 返回统计快照
func (c *SemanticCache) Stats() CacheStats {
	s := CacheStats{
		Lookups:               c.lookups.Load(),
		ExactHits:             c.exactHits.Load(),
		SemanticHits:          c.semanticHits.Load(),
		Misses:                c.misses.Load(),
		Evictions:             c.evictions.Load(),
		Coalesced:             c.coalesced.Load(),
		AvgSemanticSimilarity: math.Float64frombits(c.avgSimBits.Load()),
		Size:                  c.Len(),
	}
	if s.Lookups > 0 {
		s.HitRate = float64(s.ExactHits+s.SemanticHits) / float64(s.Lookups)
	}
	return s
}

func (c *SemanticCache) recordSemanticHit(sim float64) {
	n := c.semanticHits.Add(1)
	for {
		oldBits := c.avgSimBits.Load()
		old := math.Float64frombits(oldBits)
		next := old + (sim-old)/float64(n)
		if c.avgSimBits.CompareAndSwap(oldBits, math.Float64bits(next)) {
			return
		}
	}
}

func (c *SemanticCache) expired(node *cacheNode) bool {
	return !node.expiresAt.IsZero() && !c.now().Before(node.expiresAt)
}

// ====== 双向链表（调用方持有 mu）======

func (c *SemanticCache) pushFrontLocked(node *cacheNode) {
	node.prev = nil
	node.next = c.head
	if c.head != nil {
		c.head.prev = node
	}
	c.head = node
	if c.tail == nil {
		c.tail = node
	}
}

func (c *SemanticCache) unlinkLocked(node *cacheNode) {
	if node.prev != nil {
		node.prev.next = node.next
	} else {
		c.head = node.next
	}
	if node.next != nil {
		node.next.prev = node.prev
	} else {
		c.tail = node.prev
	}
	node.prev, node.next = nil, nil
}

func (c *SemanticCache) moveToFrontLocked(node *cacheNode) {
	if c.head == node {
		return
	}
	c.unlinkLocked(node)
	c.pushFrontLocked(node)
}

func (c *SemanticCache) removeLocked(node *cacheNode) {
	c.unlinkLocked(node)
	delete(c.index, node.key)
}
