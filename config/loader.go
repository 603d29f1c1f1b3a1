// =============================================================================
// 📦 AnswerFlow 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("ANSWERFLOW").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// 加载完成后配置视为只读，进程生命周期内不再变更。
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 AnswerFlow 的完整配置结构
type Config struct {
	// Server 服务器配置
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`

	// Cache 语义缓存配置
	Cache CacheConfig `yaml:"cache" env:"CACHE"`

	// TopK 自适应 top_k 配置
	TopK TopKConfig `yaml:"top_k" env:"TOP_K"`

	// Intents 意图词表（封闭集合）
	Intents []IntentConfig `yaml:"intents" env:"-"`

	// Router 分层模型路由配置
	Router RouterConfig `yaml:"router" env:"ROUTER"`

	// Augment 查询增强配置
	Augment AugmentConfig `yaml:"augment" env:"AUGMENT"`

	// Rerank 交叉编码重排配置
	Rerank RerankConfig `yaml:"rerank" env:"RERANK"`

	// Retrieval 检索编排配置
	Retrieval RetrievalConfig `yaml:"retrieval" env:"RETRIEVAL"`

	// Embedding 向量化服务配置
	Embedding EmbeddingConfig `yaml:"embedding" env:"EMBEDDING"`

	// LLM 生成服务配置
	LLM LLMConfig `yaml:"llm" env:"LLM"`

	// Breaker 外部调用熔断配置
	Breaker BreakerConfig `yaml:"breaker" env:"BREAKER"`

	// Milvus 向量存储配置
	Milvus MilvusConfig `yaml:"milvus" env:"MILVUS"`

	// Neo4j 图存储配置
	Neo4j Neo4jConfig `yaml:"neo4j" env:"NEO4J"`

	// Redis 跨实例缓存镜像配置
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Usage 用量账本配置
	Usage UsageConfig `yaml:"usage" env:"USAGE"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// HTTP 端口
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// 每秒请求数限制（0 表示不限流）
	RateLimitRPS float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// 突发请求上限
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// 问题最大长度（字符）
	MaxQuestionLength int `yaml:"max_question_length" env:"MAX_QUESTION_LENGTH"`
	// 最大并发连接数（0 表示不限制）
	MaxConnections int `yaml:"max_connections" env:"MAX_CONNECTIONS"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
	// Prometheus 指标命名空间
	MetricsNamespace string `yaml:"metrics_namespace" env:"METRICS_NAMESPACE"`
}

// CacheConfig 语义缓存配置
type CacheConfig struct {
	// 最大条目数
	MaxSize int `yaml:"max_size" env:"MAX_SIZE"`
	// 语义命中阈值（含等号）
	SimilarityThreshold float64 `yaml:"similarity_threshold" env:"SIMILARITY_THRESHOLD"`
	// 条目存活时间（0 表示不过期）
	TTL time.Duration `yaml:"ttl" env:"TTL"`
	// 向量维度（0 表示由首个条目确定）
	Dimension int `yaml:"dimension" env:"DIMENSION"`
	// 查询向量化超时
	EmbedTimeout time.Duration `yaml:"embed_timeout" env:"EMBED_TIMEOUT"`
	// 是否启用 Redis 跨实例镜像
	MirrorEnabled bool `yaml:"mirror_enabled" env:"MIRROR_ENABLED"`
}

// TopKConfig 自适应 top_k 配置
type TopKConfig struct {
	// 最小值
	Min int `yaml:"min" env:"MIN"`
	// 最大值
	Max int `yaml:"max" env:"MAX"`
	// 基准偏移
	Base float64 `yaml:"base" env:"BASE"`
	// 分数到 top_k 的缩放系数
	Scale float64 `yaml:"scale" env:"SCALE"`
	// 每个复杂度提示词的权重
	CueWeight float64 `yaml:"cue_weight" env:"CUE_WEIGHT"`
	// 单一命名实体的扣减
	EntityPenalty float64 `yaml:"entity_penalty" env:"ENTITY_PENALTY"`
	// 日期/时间引用的扣减
	DatePenalty float64 `yaml:"date_penalty" env:"DATE_PENALTY"`
	// 复杂度提示词
	CueWords []string `yaml:"cue_words" env:"CUE_WORDS"`
	// 已知实体词表（大小写不敏感）
	KnownEntities []string `yaml:"known_entities" env:"KNOWN_ENTITIES"`
}

// IntentConfig 单个意图的路由与复杂度配置
type IntentConfig struct {
	// 意图名称
	Name string `yaml:"name"`
	// 映射到的模型层级
	Tier string `yaml:"tier"`
	// 复杂度偏移
	ComplexityOffset *float64 `yaml:"complexity_offset"`
}

// RouterConfig 分层路由配置
type RouterConfig struct {
	// 模型层级定义
	Tiers []TierConfig `yaml:"tiers" env:"-"`
	// 层级降级链（tier -> 依次尝试的更便宜层级）
	Fallback map[string][]string `yaml:"fallback" env:"-"`
	// 同层重试前的退避时间
	RetryBackoff time.Duration `yaml:"retry_backoff" env:"RETRY_BACKOFF"`
	// 单次调用超时
	CallTimeout time.Duration `yaml:"call_timeout" env:"CALL_TIMEOUT"`
}

// TierConfig 单个模型层级配置
type TierConfig struct {
	// 层级名称: fast, balanced, premium
	Name string `yaml:"name"`
	// 模型名称
	Model string `yaml:"model"`
	// 每个输入 token 的成本
	CostPerInputToken float64 `yaml:"cost_per_input_token"`
	// 每个输出 token 的成本
	CostPerOutputToken float64 `yaml:"cost_per_output_token"`
	// 标称延迟
	NominalLatency time.Duration `yaml:"nominal_latency"`
	// 温度参数
	Temperature float64 `yaml:"temperature"`
	// 最大输出 token 数
	MaxTokens int `yaml:"max_tokens"`
}

// AugmentConfig 查询增强配置
type AugmentConfig struct {
	// 是否启用同义词扩展
	ExpansionEnabled bool `yaml:"expansion_enabled" env:"EXPANSION_ENABLED"`
	// 扩展策略: conservative, balanced, aggressive
	Strategy string `yaml:"strategy" env:"STRATEGY"`
	// 输出模式: variants, disjunctive
	Mode string `yaml:"mode" env:"MODE"`
	// 最大变体数
	MaxVariants int `yaml:"max_variants" env:"MAX_VARIANTS"`
	// 同义词表
	Synonyms map[string][]string `yaml:"synonyms" env:"-"`
	// 是否启用 HyDE
	HyDEEnabled bool `yaml:"hyde_enabled" env:"HYDE_ENABLED"`
	// HyDE 生成层级
	HyDETier string `yaml:"hyde_tier" env:"HYDE_TIER"`
	// HyDE 生成超时
	HyDETimeout time.Duration `yaml:"hyde_timeout" env:"HYDE_TIMEOUT"`
	// HyDE 最大 token 数
	HyDEMaxTokens int `yaml:"hyde_max_tokens" env:"HYDE_MAX_TOKENS"`
	// HyDE 缓存容量
	HyDECacheSize int `yaml:"hyde_cache_size" env:"HYDE_CACHE_SIZE"`
}

// RerankConfig 重排配置
type RerankConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 提供者: cohere, jina
	Provider string `yaml:"provider" env:"PROVIDER"`
	// API Key
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// 基础 URL
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// 模型名称
	Model string `yaml:"model" env:"MODEL"`
	// 批大小
	BatchSize int `yaml:"batch_size" env:"BATCH_SIZE"`
	// 超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// RetrievalConfig 检索编排配置
type RetrievalConfig struct {
	// 向量存储后端: memory, milvus
	VectorStore string `yaml:"vector_store" env:"VECTOR_STORE"`
	// 图存储后端: memory, neo4j, none
	GraphStore string `yaml:"graph_store" env:"GRAPH_STORE"`
	// 单次存储调用超时
	StoreTimeout time.Duration `yaml:"store_timeout" env:"STORE_TIMEOUT"`
	// 重试前退避
	RetryBackoff time.Duration `yaml:"retry_backoff" env:"RETRY_BACKOFF"`
	// 图查询返回上限
	GraphLimit int `yaml:"graph_limit" env:"GRAPH_LIMIT"`
	// 生成时使用的最大上下文文档数
	MaxContextDocs int `yaml:"max_context_docs" env:"MAX_CONTEXT_DOCS"`
}

// EmbeddingConfig 向量化服务配置
type EmbeddingConfig struct {
	// API Key
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// 基础 URL（OpenAI 兼容）
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// 模型名称
	Model string `yaml:"model" env:"MODEL"`
	// 向量维度
	Dimensions int `yaml:"dimensions" env:"DIMENSIONS"`
	// 请求超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 是否启用请求合并
	BatchingEnabled bool `yaml:"batching_enabled" env:"BATCHING_ENABLED"`
	// 合并窗口
	BatchWindow time.Duration `yaml:"batch_window" env:"BATCH_WINDOW"`
	// 单批最大请求数
	MaxBatchSize int `yaml:"max_batch_size" env:"MAX_BATCH_SIZE"`
}

// LLMConfig 生成服务配置
type LLMConfig struct {
	// API Key
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// 基础 URL（OpenAI 兼容）
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// 请求超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// BreakerConfig 熔断配置
type BreakerConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 连续失败多少次后熔断
	ConsecutiveFailures uint32 `yaml:"consecutive_failures" env:"CONSECUTIVE_FAILURES"`
	// 半开状态允许的请求数
	MaxRequests uint32 `yaml:"max_requests" env:"MAX_REQUESTS"`
	// 闭合状态统计周期
	Interval time.Duration `yaml:"interval" env:"INTERVAL"`
	// 熔断持续时间
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// MilvusConfig Milvus 向量存储配置
type MilvusConfig struct {
	// 主机
	Host string `yaml:"host" env:"HOST"`
	// 端口
	Port int `yaml:"port" env:"PORT"`
	// Token（可选）
	Token string `yaml:"token" env:"TOKEN"`
	// 数据库名
	Database string `yaml:"database" env:"DATABASE"`
	// 集合名
	Collection string `yaml:"collection" env:"COLLECTION"`
	// 度量类型
	MetricType string `yaml:"metric_type" env:"METRIC_TYPE"`
	// 请求超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// Neo4jConfig Neo4j 图存储配置
type Neo4jConfig struct {
	// 连接 URI
	URI string `yaml:"uri" env:"URI"`
	// 用户名
	Username string `yaml:"username" env:"USERNAME"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库名
	Database string `yaml:"database" env:"DATABASE"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// 最小空闲连接
	MinIdleConns int `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	// 键前缀
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
}

// UsageConfig 用量账本配置
type UsageConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 数据库配置
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动类型: postgres, mysql, sqlite
	Driver string `yaml:"driver" env:"DRIVER"`
	// 主机
	Host string `yaml:"host" env:"HOST"`
	// 端口
	Port int `yaml:"port" env:"PORT"`
	// 用户名
	User string `yaml:"user" env:"USER"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库名（sqlite 为文件路径）
	Name string `yaml:"name" env:"NAME"`
	// SSL 模式
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`
	// 最大连接数
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// 最大空闲连接
	MaxIdleConns int `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// 连接最大生命周期
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "ANSWERFLOW",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量，最后执行 Validate 与自定义验证器
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	// 列表类字段整体替换而不是与默认值合并
	var sections struct {
		Intents []IntentConfig `yaml:"intents"`
		Router  struct {
			Tiers []TierConfig `yaml:"tiers"`
		} `yaml:"router"`
	}
	if err := yaml.Unmarshal(data, &sections); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	if sections.Intents != nil {
		cfg.Intents = nil
	}
	if sections.Router.Tiers != nil {
		cfg.Router.Tiers = nil
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 特殊处理 time.Duration
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 支持逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// DSN 返回数据库连接字符串
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}
