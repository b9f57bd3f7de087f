package risk

import "errors"

var (
	ErrSingleExceed  = errors.New("single order exceed")
	ErrDailyExceed   = errors.New("daily volume exceed")
	ErrNetExceed     = errors.New("net exposure exceed")
	ErrSpreadTooWide = errors.New("spread too wide")
	ErrTooFrequent   = errors.New("order too frequent")
	ErrPnLTooLow     = errors.New("pnl too low")
	ErrPnLTooHigh    = errors.New("pnl too high")
	ErrCircuitOpen   = errors.New("circuit breaker open")
)
