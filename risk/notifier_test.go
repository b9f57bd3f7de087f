package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type memAlert struct{ typ, msg string }

func (m *memAlert) Send(typ, msg string) {
	m.typ = typ
	m.msg = msg
}

func TestNotifier(t *testing.T) {
	alert := &memAlert{}
	n := NewNotifier(alert, nil)
	n.NotifyLimitExceeded("ETHUSDT", ErrSingleExceed)
	assert.Equal(t, "RiskLimit", alert.typ)
	assert.Contains(t, alert.msg, "single order exceed")

	n.NotifyCircuitTrip("drawdown", 21.5)
	assert.Equal(t, "CircuitBreaker", alert.typ)
	assert.Contains(t, alert.msg, "reason=drawdown")
}
