package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"perp-mm-lab/config"
	"perp-mm-lab/exchange"
	"perp-mm-lab/internal/engine"
	"perp-mm-lab/market"
	"perp-mm-lab/risk"
	"perp-mm-lab/scenario"
	"perp-mm-lab/storage"
)

var errNoSource = errors.New("either -data or -scenario is required")

// 标记价格流断开后的重连间隔
const streamRetry = 5 * time.Second

type options struct {
	DataPath      string
	ScenarioID    string
	FundingStream bool
	StatsPath     string
}

type outcome struct {
	RunID  string
	Source string
	Bars   int
	Venues []string
	Stats  engine.Stats
}

func loadSeries(cfg config.AppConfig, opts options) (market.Series, string, error) {
	switch {
	case opts.DataPath != "":
		bars, err := market.LoadCSV(opts.DataPath)
		if err != nil {
			return nil, "", fmt.Errorf("load %s: %w", opts.DataPath, err)
		}
		return bars, strings.TrimSuffix(filepath.Base(opts.DataPath), filepath.Ext(opts.DataPath)), nil
	case opts.ScenarioID != "":
		g := scenario.NewGenerator(cfg.Scenario.BaseSeed)
		if cfg.Scenario.NumBars > 0 {
			g.NumBars = cfg.Scenario.NumBars
		}
		p, err := g.Find(opts.ScenarioID)
		if err != nil {
			return nil, "", err
		}
		bars, err := scenario.NewMarketDataSimulator().GenerateOHLCV(p)
		if err != nil {
			return nil, "", err
		}
		return bars, p.ID, nil
	}
	return nil, "", errNoSource
}

// buildVenues 每个配置的场所一个纸面连接器，共用同一条K线。
func buildVenues(pc config.PaperConfig, bars market.Series, logger *zap.Logger) ([]engine.Venue, error) {
	venues := make([]engine.Venue, 0, len(pc.Venues))
	for _, vc := range pc.Venues {
		var limiter *exchange.RateLimiter
		if pc.RateLimit.Rate > 0 {
			limiter = exchange.NewRateLimiter(pc.RateLimit.Rate, pc.RateLimit.Burst, pc.RateLimit.MaxWait)
		}
		conn, err := exchange.NewPaperConnector(vc.Paper,
			map[string]market.Series{pc.Engine.Symbol: bars},
			exchange.UUIDGenerator{Prefix: vc.Name + "-"},
			limiter, logger.With(zap.String("venue", vc.Name)))
		if err != nil {
			return nil, fmt.Errorf("venue %s: %w", vc.Name, err)
		}
		venues = append(venues, engine.Venue{Name: vc.Name, Conn: conn, TakerFee: vc.Paper.TakerFee})
	}
	return venues, nil
}

// streamFunding 保持标记价格流连接直到 ctx 取消。
func streamFunding(ctx context.Context, s *exchange.MarkPriceStream, logger *zap.Logger) {
	for {
		err := s.Run(ctx)
		if ctx.Err() != nil {
			return
		}
		logger.Warn("mark price stream disconnected", zap.Error(err), zap.Duration("retry_in", streamRetry))
		select {
		case <-ctx.Done():
			return
		case <-time.After(streamRetry):
		}
	}
}

func runPaper(ctx context.Context, cfg config.AppConfig, opts options, store storage.ResultStore, alerts risk.AlertClient, logger *zap.Logger) (outcome, error) {
	bars, source, err := loadSeries(cfg, opts)
	if err != nil {
		return outcome{}, err
	}
	pc := cfg.Paper
	venues, err := buildVenues(pc, bars, logger)
	if err != nil {
		return outcome{}, err
	}

	out := outcome{RunID: uuid.NewString(), Source: source, Bars: len(bars)}
	for _, v := range venues {
		out.Venues = append(out.Venues, v.Name)
	}
	logger = logger.With(zap.String("run_id", out.RunID), zap.String("source", source))

	engineOpts := []engine.Option{engine.WithLogger(logger)}
	if alerts != nil {
		engineOpts = append(engineOpts, engine.WithAlerts(alerts))
	}
	streamCtx, stopStream := context.WithCancel(ctx)
	defer stopStream()
	if opts.FundingStream {
		stream := exchange.NewMarkPriceStream(pc.MarkPriceURL, []string{pc.Engine.Symbol}, logger.Named("markprice"))
		go streamFunding(streamCtx, stream, logger)
		engineOpts = append(engineOpts, engine.WithFunding(stream))
	}

	e, err := engine.New(pc.Engine, venues, engineOpts...)
	if err != nil {
		return outcome{}, err
	}
	out.Stats, err = e.Run(ctx)
	stopStream()
	if err != nil && !errors.Is(err, context.Canceled) {
		return out, err
	}
	if err != nil {
		logger.Warn("paper run interrupted", zap.Int("ticks", out.Stats.Ticks))
	}

	if err := persist(context.WithoutCancel(ctx), out, opts, store); err != nil {
		return out, err
	}
	logger.Info("paper run finished", zap.Int("ticks", out.Stats.Ticks), zap.Float64("net_pnl", out.Stats.NetPnL))
	return out, nil
}

func persist(ctx context.Context, out outcome, opts options, store storage.ResultStore) error {
	if store != nil {
		run := storage.Run{
			ID:        out.RunID,
			Kind:      storage.RunPaper,
			CreatedAt: time.Now().UTC(),
			Note: fmt.Sprintf("source=%s bars=%d venues=%s net_pnl=%.2f",
				out.Source, out.Bars, strings.Join(out.Venues, ","), out.Stats.NetPnL),
		}
		if err := store.CreateRun(ctx, run); err != nil {
			return fmt.Errorf("create run: %w", err)
		}
	}
	if opts.StatsPath == "" {
		return nil
	}
	raw, err := json.MarshalIndent(out.Stats, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(opts.StatsPath, raw, 0o644)
}

func printOutcome(w io.Writer, out outcome) error {
	s := out.Stats
	_, err := fmt.Fprintf(w, `run %s source=%s bars=%d venues=%s
ticks        %d
quotes       %d  orders %d  rejected %d
fills        maker %d  taker %d  hedges %d
skips        toxic %d  breaker %d  errors %d
pnl          realized %.4f  unrealized %.4f  fees %.4f  net %.4f
markout      fills %d  adverse %.1f%%
`,
		out.RunID, out.Source, out.Bars, strings.Join(out.Venues, ","),
		s.Ticks,
		s.Quotes, s.Orders, s.Rejected,
		s.MakerFills, s.TakerFills, s.Hedges,
		s.ToxicSkips, s.BreakerSkips, s.Errors,
		s.Realized, s.Unrealized, s.Fees, s.NetPnL,
		s.Markout.TotalFills, s.Markout.AdverseSelectionRate*100)
	if err != nil {
		return err
	}
	if len(s.Inventory) == 0 {
		return nil
	}
	for _, name := range out.Venues {
		if _, err := fmt.Fprintf(w, "inventory    %-10s %.4f\n", name, s.Inventory[name]); err != nil {
			return err
		}
	}
	return nil
}
