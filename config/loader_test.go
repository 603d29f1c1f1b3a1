// 配置加载器与校验测试。
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/answerflow/types"
)

// --- Loader 测试 ---

func TestLoader_LoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 0.92, cfg.Cache.SimilarityThreshold)
	assert.Len(t, cfg.Intents, 6)
}

func TestLoader_YAMLFallbackMustNameTiers(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
server:
  http_port: 8888
  read_timeout: 60s

cache:
  max_size: 50
  similarity_threshold: 0.95

intents:
  - name: factual
    tier: fast
    complexity_offset: 0
  - name: comparative
    tier: premium
    complexity_offset: 5

router:
  tiers:
    - name: fast
      model: small
      cost_per_input_token: 0.000001
      cost_per_output_token: 0.000002
    - name: premium
      model: large
      cost_per_input_token: 0.00001
      cost_per_output_token: 0.00002
  fallback:
    premium: [fast]
    fast: []
    balanced: []
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0644))

	// fallback 表按键合并，balanced 键仍在但该层级已不存在
	_, err := NewLoader().WithConfigPath(configPath).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "balanced")
}

func TestLoader_YAMLReplacesLists(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
cache:
  max_size: 50
intents:
  - name: factual
    tier: balanced
    complexity_offset: 0
  - name: strategic
    tier: premium
    complexity_offset: 3.5
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0644))

	cfg, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)

	assert.Equal(t, 50, cfg.Cache.MaxSize)
	require.Len(t, cfg.Intents, 2)
	assert.Equal(t, 3.5, cfg.IntentOffsets()[types.IntentStrategic])
	assert.Equal(t, "balanced", cfg.IntentTiers()[types.IntentFactual])
	// 未在文件中出现的列表保持默认值
	assert.Len(t, cfg.Router.Tiers, 3)
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("server:\n  http_port: 7777\n"), 0644))

	t.Setenv("ANSWERFLOW_SERVER_HTTP_PORT", "9999")
	t.Setenv("ANSWERFLOW_CACHE_TTL", "10m")
	t.Setenv("ANSWERFLOW_TOP_K_CUE_WORDS", "and, versus")

	cfg, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.HTTPPort)
	assert.Equal(t, 10*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, []string{"and", "versus"}, cfg.TopK.CueWords)
}

func TestLoader_CustomEnvPrefix(t *testing.T) {
	t.Setenv("MYAPP_CACHE_SIMILARITY_THRESHOLD", "0.8")

	cfg, err := NewLoader().WithEnvPrefix("MYAPP").Load()
	require.NoError(t, err)
	assert.Equal(t, 0.8, cfg.Cache.SimilarityThreshold)
}

func TestLoader_WithValidator(t *testing.T) {
	_, err := NewLoader().
		WithValidator(func(c *Config) error {
			if c.Cache.MaxSize < 5000 {
				return assert.AnError
			}
			return nil
		}).
		Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config validation failed")
}

func TestLoader_NonExistentFile(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/non/existent/path.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
}

func TestLoader_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("server:\n  http_port: [oops\n"), 0644))

	_, err := NewLoader().WithConfigPath(configPath).Load()
	assert.Error(t, err)
}

// --- Validate 测试 ---

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "defaults are valid", mutate: func(c *Config) {}},
		{
			name:    "threshold above one",
			mutate:  func(c *Config) { c.Cache.SimilarityThreshold = 1.2 },
			wantErr: "similarity_threshold",
		},
		{
			name:    "zero max size",
			mutate:  func(c *Config) { c.Cache.MaxSize = 0 },
			wantErr: "max_size",
		},
		{
			name:    "inverted top_k bounds",
			mutate:  func(c *Config) { c.TopK.Min, c.TopK.Max = 10, 5 },
			wantErr: "top_k",
		},
		{
			name:    "intent without tier",
			mutate:  func(c *Config) { c.Intents[0].Tier = "ultra" },
			wantErr: `unknown tier "ultra"`,
		},
		{
			name:    "intent without offset",
			mutate:  func(c *Config) { c.Intents[1].ComplexityOffset = nil },
			wantErr: "complexity_offset",
		},
		{
			name:    "empty vocabulary",
			mutate:  func(c *Config) { c.Intents = nil },
			wantErr: "intent vocabulary is empty",
		},
		{
			name:    "self fallback",
			mutate:  func(c *Config) { c.Router.Fallback["fast"] = []string{"fast"} },
			wantErr: "repeats tier",
		},
		{
			name:    "unknown strategy",
			mutate:  func(c *Config) { c.Augment.Strategy = "wild" },
			wantErr: "augment.strategy",
		},
		{
			name: "usage driver",
			mutate: func(c *Config) {
				c.Usage.Enabled = true
				c.Usage.Database.Driver = "oracle"
			},
			wantErr: "usage.database.driver",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	pg := DatabaseConfig{Driver: "postgres", Host: "db", Port: 5432, User: "u", Password: "p", Name: "n", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=n sslmode=disable", pg.DSN())

	my := DatabaseConfig{Driver: "mysql", Host: "db", Port: 3306, User: "u", Password: "p", Name: "n"}
	assert.Equal(t, "u:p@tcp(db:3306)/n?parseTime=true", my.DSN())

	lite := DatabaseConfig{Driver: "sqlite", Name: "file.db"}
	assert.Equal(t, "file.db", lite.DSN())

	assert.Empty(t, (&DatabaseConfig{Driver: "oracle"}).DSN())
}

func TestMustLoad_Panics(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "bad.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("cache:\n  max_size: 0\n"), 0644))

	assert.Panics(t, func() { MustLoad(configPath) })
}
