package observability

import (
	"sort"
	"sync"
)

// CostCalculator 成本计算器，按模型层级计价
type CostCalculator struct {
	mu     sync.RWMutex
	prices map[string]TierPrice // key: tier
}

// TierPrice 层级价格
type TierPrice struct {
	Tier               string
	Model              string
	CostPerInputToken  float64 // USD per token
	CostPerOutputToken float64 // USD per token
}

// NewCostCalculator 创建成本计算器
func NewCostCalculator(prices ...TierPrice) *CostCalculator {
	c := &CostCalculator{
		prices: make(map[string]TierPrice, len(prices)),
	}
	for _, p := range prices {
		c.SetPrice(p)
	}
	return c
}

// SetPrice 设置层级价格
func (c *CostCalculator) SetPrice(p TierPrice) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices[p.Tier] = p
}

// GetPrice 获取层级价格
func (c *CostCalculator) GetPrice(tier string) (TierPrice, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.prices[tier]
	return p, ok
}

// Calculate 计算成本：tokensIn × rateIn + tokensOut × rateOut
func (c *CostCalculator) Calculate(tier string, tokensInput, tokensOutput int) float64 {
	price, ok := c.GetPrice(tier)
	if !ok {
		return 0
	}
	return float64(tokensInput)*price.CostPerInputToken + float64(tokensOutput)*price.CostPerOutputToken
}

// TierSummary 单个层级的成本汇总
type TierSummary struct {
	Tier         string  `json:"tier"`
	RequestCount int     `json:"request_count"`
	TokensInput  int     `json:"tokens_input"`
	TokensOutput int     `json:"tokens_output"`
	TotalTokens  int     `json:"total_tokens"`
	TotalCost    float64 `json:"total_cost"`
}

// CostLedger 进程内按层级累计 token 与成本
type CostLedger struct {
	calculator *CostCalculator
	mu         sync.Mutex
	tiers      map[string]*TierSummary
}

// NewCostLedger 创建成本账本
func NewCostLedger(calculator *CostCalculator) *CostLedger {
	if calculator == nil {
		calculator = NewCostCalculator()
	}
	return &CostLedger{
		calculator: calculator,
		tiers:      make(map[string]*TierSummary),
	}
}

// Calculator 返回计价器
func (l *CostLedger) Calculator() *CostCalculator {
	return l.calculator
}

// Record 记录一次成功调用，返回本次成本
func (l *CostLedger) Record(tier string, tokensInput, tokensOutput int) float64 {
	cost := l.calculator.Calculate(tier, tokensInput, tokensOutput)

	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.tiers[tier]
	if !ok {
		s = &TierSummary{Tier: tier}
		l.tiers[tier] = s
	}
	s.RequestCount++
	s.TokensInput += tokensInput
	s.TokensOutput += tokensOutput
	s.TotalTokens += tokensInput + tokensOutput
	s.TotalCost += cost

	return cost
}

// Summary 返回按层级名排序的汇总快照
func (l *CostLedger) Summary() []TierSummary {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]TierSummary, 0, len(l.tiers))
	for _, s := range l.tiers {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tier < out[j].Tier })
	return out
}

// Tier 返回单个层级的汇总
func (l *CostLedger) Tier(tier string) TierSummary {
	l.mu.Lock()
	defer l.mu.Unlock()
	if s, ok := l.tiers[tier]; ok {
		return *s
	}
	return TierSummary{Tier: tier}
}

// Totals 返回所有层级的合计
func (l *CostLedger) Totals() TierSummary {
	total := TierSummary{Tier: "all"}
	for _, s := range l.Summary() {
		total.RequestCount += s.RequestCount
		total.TokensInput += s.TokensInput
		total.TokensOutput += s.TokensOutput
		total.TotalTokens += s.TotalTokens
		total.TotalCost += s.TotalCost
	}
	return total
}

// Reset 重置统计
func (l *CostLedger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tiers = make(map[string]*TierSummary)
}
