package config

import (
	"fmt"
	"strings"

	"github.com/BaSui01/answerflow/types"
)

var (
	validStrategies = map[string]bool{"conservative": true, "balanced": true, "aggressive": true}
	validModes      = map[string]bool{"variants": true, "disjunctive": true}
	validDrivers    = map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
)

// Validate 验证配置
// 意图表必须完整：每个意图都要映射到已配置的层级并给出复杂度偏移。
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Server.MaxQuestionLength <= 0 {
		errs = append(errs, "server.max_question_length must be positive")
	}

	if c.Cache.MaxSize < 1 {
		errs = append(errs, "cache.max_size must be at least 1")
	}
	if c.Cache.SimilarityThreshold <= 0 || c.Cache.SimilarityThreshold > 1 {
		errs = append(errs, "cache.similarity_threshold must be in (0, 1]")
	}
	if c.Cache.TTL < 0 {
		errs = append(errs, "cache.ttl must not be negative")
	}

	if c.TopK.Min < 1 || c.TopK.Max < c.TopK.Min {
		errs = append(errs, "top_k requires 1 <= min <= max")
	}
	if c.TopK.Scale <= 0 {
		errs = append(errs, "top_k.scale must be positive")
	}

	tiers := make(map[string]bool, len(c.Router.Tiers))
	for _, t := range c.Router.Tiers {
		if t.Name == "" {
			errs = append(errs, "router tier without name")
			continue
		}
		if tiers[t.Name] {
			errs = append(errs, fmt.Sprintf("duplicate router tier %q", t.Name))
		}
		tiers[t.Name] = true
		if t.Model == "" {
			errs = append(errs, fmt.Sprintf("router tier %q has no model", t.Name))
		}
		if t.CostPerInputToken < 0 || t.CostPerOutputToken < 0 {
			errs = append(errs, fmt.Sprintf("router tier %q has negative cost", t.Name))
		}
	}
	if len(tiers) == 0 {
		errs = append(errs, "router requires at least one tier")
	}

	for from, chain := range c.Router.Fallback {
		if !tiers[from] {
			errs = append(errs, fmt.Sprintf("fallback declared for unknown tier %q", from))
			continue
		}
		seen := map[string]bool{from: true}
		for _, to := range chain {
			if !tiers[to] {
				errs = append(errs, fmt.Sprintf("fallback of %q names unknown tier %q", from, to))
			}
			if seen[to] {
				errs = append(errs, fmt.Sprintf("fallback of %q repeats tier %q", from, to))
			}
			seen[to] = true
		}
	}

	if len(c.Intents) == 0 {
		errs = append(errs, "intent vocabulary is empty")
	}
	intents := make(map[string]bool, len(c.Intents))
	for _, in := range c.Intents {
		name := string(types.ParseIntent(in.Name))
		if name == "" {
			errs = append(errs, "intent without name")
			continue
		}
		if intents[name] {
			errs = append(errs, fmt.Sprintf("duplicate intent %q", name))
		}
		intents[name] = true
		if !tiers[in.Tier] {
			errs = append(errs, fmt.Sprintf("intent %q maps to unknown tier %q", name, in.Tier))
		}
		if in.ComplexityOffset == nil {
			errs = append(errs, fmt.Sprintf("intent %q has no complexity_offset", name))
		}
	}

	if !validStrategies[c.Augment.Strategy] {
		errs = append(errs, fmt.Sprintf("unknown augment.strategy %q", c.Augment.Strategy))
	}
	if !validModes[c.Augment.Mode] {
		errs = append(errs, fmt.Sprintf("unknown augment.mode %q", c.Augment.Mode))
	}
	if c.Augment.HyDEEnabled && !tiers[c.Augment.HyDETier] {
		errs = append(errs, fmt.Sprintf("augment.hyde_tier %q is not a router tier", c.Augment.HyDETier))
	}

	if c.Rerank.BatchSize < 1 {
		errs = append(errs, "rerank.batch_size must be at least 1")
	}
	if c.Retrieval.MaxContextDocs < 1 {
		errs = append(errs, "retrieval.max_context_docs must be at least 1")
	}

	if c.Usage.Enabled && !validDrivers[c.Usage.Database.Driver] {
		errs = append(errs, fmt.Sprintf("unsupported usage.database.driver %q", c.Usage.Database.Driver))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// IntentOffsets 返回意图 → 复杂度偏移映射
func (c *Config) IntentOffsets() map[types.Intent]float64 {
	out := make(map[types.Intent]float64, len(c.Intents))
	for _, in := range c.Intents {
		if in.ComplexityOffset != nil {
			out[types.ParseIntent(in.Name)] = *in.ComplexityOffset
		}
	}
	return out
}

// IntentTiers 返回意图 → 模型层级映射
func (c *Config) IntentTiers() map[types.Intent]string {
	out := make(map[types.Intent]string, len(c.Intents))
	for _, in := range c.Intents {
		out[types.ParseIntent(in.Name)] = in.Tier
	}
	return out
}

// IntentVocabulary 返回意图词表
func (c *Config) IntentVocabulary() []types.Intent {
	out := make([]types.Intent, 0, len(c.Intents))
	for _, in := range c.Intents {
		out = append(out, types.ParseIntent(in.Name))
	}
	return out
}
