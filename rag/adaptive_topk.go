package rag

import (
	"errors"
	"math"
	"regexp"
	"strings"
	"unicode"

	"github.com/BaSui01/answerflow/types"
)

// TopKConfig 自适应 top_k 配置
type TopKConfig struct {
	Min           int      `json:"min"`
	Max           int      `json:"max"`
	Base          float64  `json:"base"`
	Scale         float64  `json:"scale"`
	CueWeight     float64  `json:"cue_weight"`
	EntityPenalty float64  `json:"entity_penalty"`
	DatePenalty   float64  `json:"date_penalty"`
	CueWords      []string `json:"cue_words"`
	KnownEntities []string `json:"known_entities,omitempty"`
}

// DefaultCueWords 返回默认复杂度提示词
func DefaultCueWords() []string {
	return []string{
		"and", "or", "but",
		"compare", "compared", "comparing", "comparison",
		"versus", "vs", "between", "across",
		"difference", "differences", "differ",
		"both", "whereas", "while", "contrast",
		"relationship", "multiple", "various", "respectively",
	}
}

// DefaultTopKConfig 返回默认配置
func DefaultTopKConfig() TopKConfig {
	return TopKConfig{
		Min:           3,
		Max:           20,
		Scale:         1.5,
		CueWeight:     1.5,
		EntityPenalty: 2,
		DatePenalty:   1,
		CueWords:      DefaultCueWords(),
	}
}

// ComplexityScore 单个问题的复杂度分解
type ComplexityScore struct {
	WordCount     int      `json:"word_count"`
	WordScore     float64  `json:"word_score"`
	CueCount      int      `json:"cue_count"`
	CueScore      float64  `json:"cue_score"`
	IntentOffset  float64  `json:"intent_offset"`
	Entities      []string `json:"entities,omitempty"`
	EntityPenalty float64  `json:"entity_penalty"`
	HasDate       bool     `json:"has_date"`
	DatePenalty   float64  `json:"date_penalty"`
	Total         float64  `json:"total"`
}

var (
	datePattern = regexp.MustCompile(`(?i)\b(\d{4}-\d{2}-\d{2}|(19|20)\d{2}s?|q[1-4]|today|tonight|yesterday|tomorrow|(last|next|this)\s+(week|month|year|quarter))\b`)

	dateWords = toSet([]string{
		"january", "february", "march", "april", "may", "june", "july",
		"august", "september", "october", "november", "december",
		"jan", "feb", "mar", "apr", "jun", "jul", "aug", "sep", "sept", "oct", "nov", "dec",
		"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday",
	})

	// 不视为实体的大写词
	entityStopWords = toSet([]string{
		"i", "i'm", "i've", "i'd", "a", "an", "the", "and", "or", "but",
		"who", "what", "when", "where", "why", "which", "how",
		"is", "are", "was", "were", "do", "does", "did", "can", "could", "should", "would",
		"tv", "uk", "us", "usa",
	})
)

// TopKSelector 按问题复杂度与意图计算检索广度。无可变状态，可并发使用。
type TopKSelector struct {
	cfg      TopKConfig
	cues     map[string]struct{}
	entities []string
	offsets  map[types.Intent]float64
}

// NewTopKSelector 创建选择器；offsets 为意图 → 复杂度偏移
func NewTopKSelector(cfg TopKConfig, offsets map[types.Intent]float64) (*TopKSelector, error) {
	if cfg.Min < 1 || cfg.Max < cfg.Min {
		return nil, errors.New("top_k requires 1 <= min <= max")
	}
	if cfg.Scale <= 0 {
		return nil, errors.New("top_k scale must be positive")
	}
	if len(cfg.CueWords) == 0 {
		cfg.CueWords = DefaultCueWords()
	}

	s := &TopKSelector{
		cfg:     cfg,
		cues:    toSet(cfg.CueWords),
		offsets: make(map[types.Intent]float64, len(offsets)),
	}
	for intent, off := range offsets {
		s.offsets[intent] = off
	}
	for _, e := range cfg.KnownEntities {
		if e = NormalizeQuestion(e); e != "" {
			s.entities = append(s.entities, e)
		}
	}
	return s, nil
}

// SelectTopK 返回 [Min, Max] 内的检索广度
func (s *TopKSelector) SelectTopK(question string, intent types.Intent) int {
	score := s.Score(question, intent)
	k := int(math.Round(s.cfg.Base + s.cfg.Scale*score.Total))
	if k < s.cfg.Min {
		return s.cfg.Min
	}
	if k > s.cfg.Max {
		return s.cfg.Max
	}
	return k
}

// Score 计算复杂度分解
func (s *TopKSelector) Score(question string, intent types.Intent) ComplexityScore {
	fields := strings.Fields(question)
	score := ComplexityScore{WordCount: len(fields)}

	switch n := len(fields); {
	case n <= 5:
		score.WordScore = 0
	case n <= 10:
		score.WordScore = 2
	case n <= 15:
		score.WordScore = 4
	default:
		score.WordScore = 6
	}

	for _, f := range fields {
		if _, ok := s.cues[cleanToken(f)]; ok {
			score.CueCount++
		}
	}
	score.CueScore = s.cfg.CueWeight * float64(score.CueCount)

	score.IntentOffset = s.offsets[intent]

	score.Entities = s.detectEntities(question, fields)
	if len(score.Entities) == 1 {
		score.EntityPenalty = s.cfg.EntityPenalty
	}

	score.HasDate = hasDateReference(question, fields)
	if score.HasDate {
		score.DatePenalty = s.cfg.DatePenalty
	}

	score.Total = score.WordScore + score.CueScore + score.IntentOffset - score.EntityPenalty - score.DatePenalty
	return score
}

// detectEntities 返回去重后的实体（小写）：词表命中，或非句首的大写词
func (s *TopKSelector) detectEntities(question string, fields []string) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(name string) {
		if _, ok := seen[name]; !ok {
			seen[name] = struct{}{}
			out = append(out, name)
		}
	}

	if len(s.entities) > 0 {
		padded := " " + strings.Join(tokenize(question), " ") + " "
		for _, e := range s.entities {
			if strings.Contains(padded, " "+strings.Join(tokenize(e), " ")+" ") {
				add(e)
			}
		}
	}

	for i, f := range fields {
		if i == 0 {
			continue
		}
		word := stripPossessive(strings.TrimFunc(f, isEdgePunct))
		if word == "" {
			continue
		}
		r := []rune(word)
		if !unicode.IsUpper(r[0]) {
			continue
		}
		lower := strings.ToLower(word)
		if _, stop := entityStopWords[lower]; stop {
			continue
		}
		if _, date := dateWords[lower]; date {
			continue
		}
		if datePattern.MatchString(word) {
			continue
		}
		if s.coveredByLexicon(lower, seen) {
			continue
		}
		add(lower)
	}
	return out
}

func (s *TopKSelector) coveredByLexicon(word string, seen map[string]struct{}) bool {
	for name := range seen {
		for _, part := range strings.Fields(name) {
			if part == word {
				return true
			}
		}
	}
	return false
}

func hasDateReference(question string, fields []string) bool {
	if datePattern.MatchString(question) {
		return true
	}
	for _, f := range fields {
		if _, ok := dateWords[cleanToken(f)]; ok {
			// "may" 仅在大写时视为月份
			if strings.EqualFold(cleanToken(f), "may") && !unicode.IsUpper([]rune(strings.TrimFunc(f, isEdgePunct))[0]) {
				continue
			}
			return true
		}
	}
	return false
}

// cleanToken 小写并去除首尾标点与所有格
func cleanToken(s string) string {
	return strings.ToLower(stripPossessive(strings.TrimFunc(s, isEdgePunct)))
}

func tokenize(s string) []string {
	fields := strings.Fields(s)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if t := cleanToken(f); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func stripPossessive(s string) string {
	for _, suffix := range []string{"'s", "’s", "'"} {
		if len(s) > len(suffix) && strings.HasSuffix(s, suffix) {
			return s[:len(s)-len(suffix)]
		}
	}
	return s
}

func isEdgePunct(r rune) bool {
	return unicode.IsPunct(r) || unicode.IsSymbol(r)
}

func toSet(words []string) map[string]struct{} {
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		out[strings.ToLower(strings.TrimSpace(w))] = struct{}{}
	}
	return out
}
