package risk

import (
	"math"
	"sync"

	"perp-mm-lab/market"
)

// ConfidenceSource 外部置信度模型（如 ML 服务），可选。
type ConfidenceSource interface {
	Confidence(features map[string]float64) (float64, error)
}

// AdaptiveConfig 自适应置信度配置
type AdaptiveConfig struct {
	BaseThreshold float64 `yaml:"base_threshold"` // 初始准入阈值
	MinThreshold  float64 `yaml:"min_threshold"`
	MaxThreshold  float64 `yaml:"max_threshold"`

	TargetWinRate float64 `yaml:"target_win_rate"` // 胜率低于该值收紧、高于 +0.1 放宽
	AdjustFactor  float64 `yaml:"adjust_factor"`   // 每次调整幅度
	WindowSize    int     `yaml:"window_size"`     // 滑动窗口大小
	MinSamples    int     `yaml:"min_samples"`     // 样本不足时不调整

	HighVolPenalty float64 `yaml:"high_vol_penalty"` // 高波动状态下阈值上调
	TrendBonus     float64 `yaml:"trend_bonus"`      // 趋势状态下阈值下调
	SourceWeight   float64 `yaml:"source_weight"`    // 外部模型与信号置信度的混合权重
}

// DefaultAdaptiveConfig 默认配置
func DefaultAdaptiveConfig() AdaptiveConfig {
	return AdaptiveConfig{
		BaseThreshold:  0.5,
		MinThreshold:   0.3,
		MaxThreshold:   0.9,
		TargetWinRate:  0.45,
		AdjustFactor:   0.1,
		WindowSize:     20,
		MinSamples:     5,
		HighVolPenalty: 0.1,
		TrendBonus:     0.05,
		SourceWeight:   0.5,
	}
}

// AdaptiveConfidence 根据近期交易结果与市场状态调整信号准入阈值。
type AdaptiveConfidence struct {
	mu sync.RWMutex

	config    AdaptiveConfig
	source    ConfidenceSource
	threshold float64
	regime    market.MarketRegime
	outcomes  []bool
}

// NewAdaptiveConfidence 创建自适应置信度过滤器
func NewAdaptiveConfidence(config AdaptiveConfig) *AdaptiveConfidence {
	if config.WindowSize <= 0 {
		config.WindowSize = 20
	}
	if config.MaxThreshold <= 0 {
		config.MaxThreshold = 1
	}
	return &AdaptiveConfidence{
		config:    config,
		threshold: config.BaseThreshold,
		outcomes:  make([]bool, 0, config.WindowSize),
	}
}

// SetSource 设置外部置信度模型。
func (a *AdaptiveConfidence) SetSource(src ConfidenceSource) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.source = src
}

// SetRegime 更新当前市场状态。
func (a *AdaptiveConfidence) SetRegime(r market.MarketRegime) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.regime = r
}

// RecordOutcome 记录一笔交易结果并调整阈值。
func (a *AdaptiveConfidence) RecordOutcome(pnl float64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.outcomes = append(a.outcomes, pnl > 0)
	if len(a.outcomes) > a.config.WindowSize {
		a.outcomes = a.outcomes[1:]
	}
	if len(a.outcomes) < a.config.MinSamples {
		return
	}

	winRate := a.winRateLocked()
	switch {
	case winRate < a.config.TargetWinRate:
		// 胜率偏低：收紧
		a.threshold *= 1 + a.config.AdjustFactor
	case winRate > a.config.TargetWinRate+0.1:
		// 胜率偏高：放宽
		a.threshold *= 1 - a.config.AdjustFactor
	}
	a.threshold = clampThreshold(a.threshold, a.config)
}

// Threshold 当前有效阈值（含市场状态调整）。
func (a *AdaptiveConfidence) Threshold() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.effectiveLocked()
}

func (a *AdaptiveConfidence) effectiveLocked() float64 {
	t := a.threshold
	switch a.regime {
	case market.RegimeHighVol:
		t += a.config.HighVolPenalty
	case market.RegimeTrendUp, market.RegimeTrendDown:
		t -= a.config.TrendBonus
	}
	return clampThreshold(t, a.config)
}

// Confidence 混合信号自身置信度与外部模型；外部模型出错时只用信号置信度。
func (a *AdaptiveConfidence) Confidence(signal float64, features map[string]float64) float64 {
	a.mu.RLock()
	src := a.source
	w := a.config.SourceWeight
	a.mu.RUnlock()

	if src == nil {
		return signal
	}
	ext, err := src.Confidence(features)
	if err != nil || math.IsNaN(ext) {
		return signal
	}
	return (1-w)*signal + w*ext
}

// Admit 判断置信度是否达到当前阈值。
func (a *AdaptiveConfidence) Admit(confidence float64) bool {
	return confidence >= a.Threshold()
}

// WinRate 窗口内胜率。
func (a *AdaptiveConfidence) WinRate() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.winRateLocked()
}

func (a *AdaptiveConfidence) winRateLocked() float64 {
	if len(a.outcomes) == 0 {
		return 0
	}
	wins := 0
	for _, w := range a.outcomes {
		if w {
			wins++
		}
	}
	return float64(wins) / float64(len(a.outcomes))
}

// Reset 重置为基准值
func (a *AdaptiveConfidence) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.threshold = a.config.BaseThreshold
	a.regime = market.RegimeCalm
	a.outcomes = make([]bool, 0, a.config.WindowSize)
}

func clampThreshold(t float64, cfg AdaptiveConfig) float64 {
	return math.Max(cfg.MinThreshold, math.Min(cfg.MaxThreshold, t))
}
