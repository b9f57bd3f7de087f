package risk

import (
	"fmt"

	"go.uber.org/zap"
)

// AlertClient 抽象告警发送。
type AlertClient interface {
	Send(typ, msg string)
}

type Notifier struct {
	alert  AlertClient
	logger *zap.Logger
}

// NewNotifier logger 为 nil 时使用 Nop。
func NewNotifier(alert AlertClient, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{alert: alert, logger: logger}
}

func (n *Notifier) NotifyLimitExceeded(symbol string, err error) {
	msg := "RiskLimitExceeded symbol=" + symbol
	if err != nil {
		msg += " err=" + err.Error()
	}
	n.logger.Warn(msg)
	if n.alert != nil {
		n.alert.Send("RiskLimit", msg)
	}
}

func (n *Notifier) NotifyCircuitTrip(reason string, value float64) {
	msg := fmt.Sprintf("CircuitBreakerTriggered reason=%s value=%.4f", reason, value)
	n.logger.Warn(msg)
	if n.alert != nil {
		n.alert.Send("CircuitBreaker", msg)
	}
}
