package scenario

import (
	"fmt"
	"io"
	"math"
	"sort"
	"time"
)

type FamilyStats struct {
	Total  int `json:"total"`
	Passed int `json:"passed"`
	Failed int `json:"failed"`
	Errors int `json:"errors"`
}

// Summary 压力测试汇总。即使大部分场景出错也会生成。
type Summary struct {
	Total            int                    `json:"total"`
	Succeeded        int                    `json:"succeeded"`
	Errors           int                    `json:"errors"`
	Passed           int                    `json:"passed"`
	Failed           int                    `json:"failed"`
	PassRate         float64                `json:"pass_rate"` // 百分比
	AvgReturn        float64                `json:"avg_return"`
	AvgSharpe        float64                `json:"avg_sharpe"`
	WorstDrawdownPct float64                `json:"worst_drawdown_pct"`
	FailureReasons   map[string]int         `json:"failure_reasons"`
	ByFamily         map[Family]FamilyStats `json:"by_family"`
	Duration         time.Duration          `json:"duration_ns"`
}

func Summarize(results []Result) Summary {
	s := Summary{
		Total:          len(results),
		FailureReasons: map[string]int{},
		ByFamily:       map[Family]FamilyStats{},
	}
	for _, r := range results {
		fs := s.ByFamily[r.Family]
		fs.Total++
		switch {
		case !r.Success:
			s.Errors++
			fs.Errors++
		case r.Passed:
			s.Succeeded++
			s.Passed++
			fs.Passed++
		default:
			s.Succeeded++
			s.Failed++
			fs.Failed++
		}
		s.ByFamily[r.Family] = fs

		seen := map[string]bool{}
		for _, reason := range r.FailureReasons {
			k := reasonKey(reason)
			if !seen[k] {
				s.FailureReasons[k]++
				seen[k] = true
			}
		}
		if r.Success {
			s.AvgReturn += r.TotalReturn
			s.AvgSharpe += r.Sharpe
			s.WorstDrawdownPct = math.Max(s.WorstDrawdownPct, r.MaxDrawdownPct)
		}
	}
	if s.Succeeded > 0 {
		s.AvgReturn /= float64(s.Succeeded)
		s.AvgSharpe /= float64(s.Succeeded)
	}
	if s.Total > 0 {
		s.PassRate = float64(s.Passed) / float64(s.Total) * 100
	}
	return s
}

// WriteReport 纯文本报告，写入 summary.txt。
func (s Summary) WriteReport(w io.Writer) error {
	p := &errWriter{w: w}
	p.printf("STRESS TEST SUMMARY\n")
	p.printf("===================\n")
	p.printf("Scenarios:       %d\n", s.Total)
	p.printf("Passed:          %d\n", s.Passed)
	p.printf("Failed:          %d\n", s.Failed)
	p.printf("Errors:          %d\n", s.Errors)
	p.printf("Pass rate:       %.2f%%\n", s.PassRate)
	p.printf("Avg return:      %.2f%%\n", s.AvgReturn)
	p.printf("Avg sharpe:      %.3f\n", s.AvgSharpe)
	p.printf("Worst drawdown:  %.2f%%\n", s.WorstDrawdownPct)
	if s.Duration > 0 {
		p.printf("Duration:        %s\n", s.Duration.Round(time.Millisecond))
	}

	p.printf("\nBy family:\n")
	for _, f := range Families {
		fs, ok := s.ByFamily[f]
		if !ok {
			continue
		}
		p.printf("  %-16s total=%-4d passed=%-4d failed=%-4d errors=%d\n", f, fs.Total, fs.Passed, fs.Failed, fs.Errors)
	}

	if len(s.FailureReasons) > 0 {
		p.printf("\nFailure reasons:\n")
		keys := make([]string, 0, len(s.FailureReasons))
		for k := range s.FailureReasons {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool {
			if s.FailureReasons[keys[i]] != s.FailureReasons[keys[j]] {
				return s.FailureReasons[keys[i]] > s.FailureReasons[keys[j]]
			}
			return keys[i] < keys[j]
		})
		for _, k := range keys {
			p.printf("  %-20s %d\n", k, s.FailureReasons[k])
		}
	}
	return p.err
}

type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) printf(format string, args ...interface{}) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format, args...)
}
