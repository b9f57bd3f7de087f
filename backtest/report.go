package backtest

import (
	"fmt"
	"io"
)

// WriteReport 以纯文本输出回测摘要。
func WriteReport(w io.Writer, m Metrics) error {
	lines := []struct {
		label  string
		format string
		value  interface{}
	}{
		{"交易笔数", "%d", m.TotalTrades},
		{"盈利/亏损", "%s", fmt.Sprintf("%d / %d", m.WinningTrades, m.LosingTrades)},
		{"胜率", "%.2f%%", m.WinRate},
		{"Profit Factor", "%.3f", m.ProfitFactor},
		{"净盈亏", "%.4f", m.TotalPnL},
		{"毛盈亏", "%.4f", m.GrossPnL},
		{"收益率", "%.2f%%", m.TotalPnLPct},
		{"期末权益", "%.4f", m.FinalBalance},
		{"Sharpe", "%.3f", m.SharpeRatio},
		{"Sortino", "%.3f", m.SortinoRatio},
		{"最大回撤", "%.4f", m.MaxDrawdown},
		{"最大回撤%", "%.2f%%", m.MaxDrawdownPct},
		{"手续费", "%.4f", m.TotalTradingFees},
		{"资金费", "%.4f", m.TotalFundingFees},
		{"滑点成本", "%.4f", m.TotalSlippage},
		{"费用占毛利", "%.2f%%", m.FeeImpactPct},
	}
	for _, l := range lines {
		if _, err := fmt.Fprintf(w, "%-14s "+l.format+"\n", l.label, l.value); err != nil {
			return err
		}
	}
	return nil
}

// WriteMMReport 在通用摘要后追加做市指标。
func WriteMMReport(w io.Writer, r *MMResult) error {
	if err := WriteReport(w, r.Metrics); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w,
		"Maker 成交      %d\nTaker 成交      %d\n对冲次数       %d\n平均库存       %.4f\n库存区间       [%.4f, %.4f]\n资金费支付     %.4f\n逆向选择率     %.2f%%\n拒单/跳过/毒性  %d / %d / %d\n",
		r.MakerFills, r.TakerFills, r.HedgeTrades, r.AvgInventory, r.MinInventory, r.MaxInventory,
		r.TotalFundingPaid, r.AdverseSelectionRate*100, r.RejectedOrders, r.SkippedBars, r.ToxicBars)
	if err != nil {
		return err
	}
	if r.CapitalExhausted {
		_, err = fmt.Fprintln(w, "警告: 资金耗尽，回测提前结束")
	}
	return err
}

// WriteWalkForward 输出每个窗口与汇总。
func WriteWalkForward(w io.Writer, windows []WindowResult, s WalkForwardSummary) error {
	for _, win := range windows {
		if _, err := fmt.Fprintf(w, "窗口 %2d  %s → %s  收益 %7.2f%%  Sharpe %6.2f  回撤 %6.2f%%  交易 %d\n",
			win.Index, win.TestStart.Format("2006-01-02 15:04"), win.TestEnd.Format("2006-01-02 15:04"),
			win.Result.TotalPnLPct, win.Result.SharpeRatio, win.Result.MaxDrawdownPct, win.Result.TotalTrades); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "共 %d 个窗口，盈利 %d 个（%.1f%%），平均收益 %.2f%%，平均 Sharpe %.2f，最差回撤 %.2f%%\n",
		s.Windows, s.ProfitableWindows, s.Consistency, s.AvgReturnPct, s.AvgSharpe, s.WorstDrawdownPct)
	return err
}
