package optimizer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"

	"github.com/c-bata/goptuna"
	"github.com/c-bata/goptuna/tpe"
	"go.uber.org/zap"

	"perp-mm-lab/backtest"
	"perp-mm-lab/metrics"
	"perp-mm-lab/scenario"
	"perp-mm-lab/strategy"
)

// FailedScore 没有任何成功场景或参数非法时的得分，保持有限值以便序列化。
const FailedScore = -1e6

var (
	ErrNoScenarios = errors.New("optimizer: no scenarios to evaluate")
	ErrNoTrials    = errors.New("optimizer: no completed trials")
)

// Config 优化器配置。
type Config struct {
	SampleSize    int                   `yaml:"sample_size"` // 每次评估抽取的场景数
	Seed          int64                 `yaml:"seed"`        // 抽样与 TPE 的种子
	BaseSeed      int64                 `yaml:"base_seed"`   // 场景生成种子
	NumBars       int                   `yaml:"num_bars"`
	Workers       int                   `yaml:"workers"`
	Families      []scenario.Family     `yaml:"families"` // 为空表示全部
	Target        Target                `yaml:"target"`
	Overlays      strategy.Overlays     `yaml:"overlays"`
	Engine        backtest.EngineConfig `yaml:"engine"`
	StartupTrials int                   `yaml:"startup_trials"` // TPE 前随机采样的次数
}

func DefaultConfig() Config {
	return Config{
		SampleSize:    20,
		Seed:          42,
		BaseSeed:      scenario.DefaultBaseSeed,
		NumBars:       500,
		Workers:       1,
		Target:        DefaultTarget(),
		Overlays:      strategy.DefaultOverlays(),
		Engine:        backtest.DefaultEngineConfig(),
		StartupTrials: 10,
	}
}

// Evaluation 一组参数的评估结果。
type Evaluation struct {
	Trial    int              `json:"trial"`
	Params   StrategyParams   `json:"params"`
	Metrics  AggregateMetrics `json:"metrics"`
	Score    float64          `json:"score"`
	Meets    bool             `json:"meets_target"`
	Failures []string         `json:"failures,omitempty"`
}

// ProfitabilityOptimizer 场景列表生成后只读；每次评估都构造新的引擎，
// 因此 EvaluateParams 可以并发调用。
type ProfitabilityOptimizer struct {
	cfg       Config
	logger    *zap.Logger
	scenarios []scenario.Params

	mu      sync.Mutex
	history []Evaluation
	best    *Evaluation
}

func NewProfitabilityOptimizer(cfg Config, logger *zap.Logger) (*ProfitabilityOptimizer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SampleSize <= 0 {
		return nil, fmt.Errorf("optimizer: sample_size must be positive, got %d", cfg.SampleSize)
	}
	g := scenario.NewGenerator(cfg.BaseSeed)
	if cfg.NumBars > 0 {
		g.NumBars = cfg.NumBars
	}
	var all []scenario.Params
	if len(cfg.Families) == 0 {
		all = g.GenerateAll()
	} else {
		for _, f := range cfg.Families {
			all = append(all, g.Family(f)...)
		}
	}
	if len(all) == 0 {
		return nil, ErrNoScenarios
	}
	return &ProfitabilityOptimizer{
		cfg:       cfg,
		logger:    logger.Named("optimizer"),
		scenarios: all,
	}, nil
}

// Sample 种子固定，每次评估使用同一子集，不同参数之间可比。
func (o *ProfitabilityOptimizer) Sample() []scenario.Params {
	rng := rand.New(rand.NewSource(o.cfg.Seed))
	n := o.cfg.SampleSize
	if n > len(o.scenarios) {
		n = len(o.scenarios)
	}
	idx := rng.Perm(len(o.scenarios))[:n]
	out := make([]scenario.Params, n)
	for i, j := range idx {
		out[i] = o.scenarios[j]
	}
	return out
}

// EvaluateParams 在场景子集上回测并打分，不修改优化器状态。
func (o *ProfitabilityOptimizer) EvaluateParams(ctx context.Context, p StrategyParams) (Evaluation, error) {
	if err := p.Validate(); err != nil {
		return Evaluation{}, err
	}
	tester := scenario.NewStressTester(o.logger)
	tester.Mode = scenario.ModeDirectional
	tester.Engine = o.cfg.Engine
	tester.Workers = o.cfg.Workers
	tester.Strategy = strategy.NewBuilder(p, o.cfg.Overlays, o.logger)

	results, _, err := tester.Run(ctx, o.Sample())
	if err != nil {
		return Evaluation{}, err
	}
	agg := Aggregate(results)
	ev := Evaluation{Params: p, Metrics: agg, Score: o.cfg.Target.Score(agg)}
	ev.Meets, ev.Failures = o.cfg.Target.Meets(agg)
	if agg.Scenarios == 0 {
		ev.Score = FailedScore
		ev.Meets = false
	}
	return ev, nil
}

// Aggregate 对成功场景取平均，回撤取最差值。
func Aggregate(results []scenario.Result) AggregateMetrics {
	var m AggregateMetrics
	for _, r := range results {
		if !r.Success {
			m.Errors++
			continue
		}
		m.Scenarios++
		m.ProfitFactor += r.ProfitFactor
		m.Sharpe += r.Sharpe
		m.Sortino += r.Sortino
		m.WinRate += r.WinRate
		m.TotalReturn += r.TotalReturn
		m.TotalTrades += r.TotalTrades
		m.MaxDrawdownPct = math.Max(m.MaxDrawdownPct, r.MaxDrawdownPct)
	}
	if m.Scenarios > 0 {
		n := float64(m.Scenarios)
		m.ProfitFactor /= n
		m.Sharpe /= n
		m.Sortino /= n
		m.WinRate /= n
		m.TotalReturn /= n
	}
	return m
}

// OptimizeTPE 运行 nTrials 次 TPE 搜索，返回最佳评估。
func (o *ProfitabilityOptimizer) OptimizeTPE(ctx context.Context, nTrials int) (Evaluation, error) {
	sampler := tpe.NewSampler(
		tpe.SamplerOptionSeed(o.cfg.Seed),
		tpe.SamplerOptionNumberOfStartupTrials(o.cfg.StartupTrials),
	)
	study, err := goptuna.CreateStudy("perp-mm-lab",
		goptuna.StudyOptionSampler(sampler),
		goptuna.StudyOptionDirection(goptuna.StudyDirectionMaximize),
		goptuna.StudyOptionLogger(zapLogger{o.logger.Sugar()}),
	)
	if err != nil {
		return Evaluation{}, fmt.Errorf("optimizer: create study: %w", err)
	}

	trialNo := 0
	objective := func(trial goptuna.Trial) (float64, error) {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		p, err := suggest(trial)
		if err != nil {
			return 0, err
		}
		trialNo++
		ev, err := o.EvaluateParams(ctx, p)
		if err != nil {
			// 非法参数组合记为极低分，搜索继续
			if errors.Is(err, strategy.ErrInvalidParams) {
				return FailedScore, nil
			}
			return 0, err
		}
		ev.Trial = trialNo
		o.record(ev)
		return ev.Score, nil
	}

	if err := study.Optimize(objective, nTrials); err != nil {
		if best, ok := o.Best(); ok {
			return best, err
		}
		return Evaluation{}, err
	}
	best, ok := o.Best()
	if !ok {
		return Evaluation{}, ErrNoTrials
	}
	o.logger.Info("optimisation finished",
		zap.Int("trials", len(o.History())),
		zap.Float64("best_score", best.Score),
		zap.Bool("meets_target", best.Meets))
	return best, nil
}

func (o *ProfitabilityOptimizer) record(ev Evaluation) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.history = append(o.history, ev)
	metrics.OptimizerTrials.Inc()
	if o.best == nil || ev.Score > o.best.Score {
		b := ev
		o.best = &b
		metrics.OptimizerBestScore.Set(ev.Score)
		o.logger.Info("new best",
			zap.Int("trial", ev.Trial),
			zap.Float64("score", ev.Score),
			zap.Float64("sharpe", ev.Metrics.Sharpe),
			zap.Float64("max_drawdown_pct", ev.Metrics.MaxDrawdownPct))
	}
}

// History 按试验顺序返回全部评估。
func (o *ProfitabilityOptimizer) History() []Evaluation {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Evaluation(nil), o.history...)
}

func (o *ProfitabilityOptimizer) Best() (Evaluation, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.best == nil {
		return Evaluation{}, false
	}
	return *o.best, true
}

// zapLogger 适配 goptuna.Logger。
type zapLogger struct{ s *zap.SugaredLogger }

func (l zapLogger) Debug(msg string, fields ...interface{}) { l.s.Debugw(msg, fields...) }
func (l zapLogger) Info(msg string, fields ...interface{})  { l.s.Debugw(msg, fields...) }
func (l zapLogger) Warn(msg string, fields ...interface{})  { l.s.Warnw(msg, fields...) }
func (l zapLogger) Error(msg string, fields ...interface{}) { l.s.Errorw(msg, fields...) }
