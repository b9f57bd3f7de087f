package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestStrategyMetrics(t *testing.T) {
	UpdateStrategyMetrics(100.5, 0.25, 3.0)

	if testutil.ToFloat64(ReservationPrice) != 100.5 {
		t.Errorf("Expected ReservationPrice to be 100.5, got %f", testutil.ToFloat64(ReservationPrice))
	}
	if testutil.ToFloat64(HalfSpread) != 0.25 {
		t.Errorf("Expected HalfSpread to be 0.25, got %f", testutil.ToFloat64(HalfSpread))
	}
	if testutil.ToFloat64(InventoryNet) != 3.0 {
		t.Errorf("Expected InventoryNet to be 3.0, got %f", testutil.ToFloat64(InventoryNet))
	}
}

func TestIncrementFunctions(t *testing.T) {
	StrategyQuotesGenerated.Reset()
	Fills.Reset()

	IncrementQuotesGenerated("bid")
	IncrementQuotesGenerated("ask")
	IncrementQuotesGenerated("ask")
	IncrementFills("buy", "maker")

	if got := testutil.ToFloat64(StrategyQuotesGenerated.WithLabelValues("bid")); got != 1 {
		t.Errorf("Expected quotes[bid] to be 1, got %f", got)
	}
	if got := testutil.ToFloat64(StrategyQuotesGenerated.WithLabelValues("ask")); got != 2 {
		t.Errorf("Expected quotes[ask] to be 2, got %f", got)
	}
	if got := testutil.ToFloat64(Fills.WithLabelValues("buy", "maker")); got != 1 {
		t.Errorf("Expected fills[buy,maker] to be 1, got %f", got)
	}
}

func TestRecordScenario(t *testing.T) {
	ScenarioResults.Reset()
	RecordScenario("latency", "passed", 0.01)
	RecordScenario("latency", "error", 0.02)

	if got := testutil.ToFloat64(ScenarioResults.WithLabelValues("latency", "passed")); got != 1 {
		t.Errorf("Expected passed=1, got %f", got)
	}
	if got := testutil.ToFloat64(ScenarioResults.WithLabelValues("latency", "error")); got != 1 {
		t.Errorf("Expected error=1, got %f", got)
	}
}
