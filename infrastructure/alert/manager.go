// Package alert 把运行期告警（压力测试通过率、熔断、风控限额）分发到多个通道，
// 同一级别+类型+消息在节流间隔内只发送一次。
package alert

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

type Level string

const (
	LevelInfo     Level = "INFO"
	LevelWarning  Level = "WARNING"
	LevelError    Level = "ERROR"
	LevelCritical Level = "CRITICAL"
)

// typeLevels 告警类型的默认级别，未列出的按 WARNING。
var typeLevels = map[string]Level{
	"StressTest":     LevelWarning,
	"RiskLimit":      LevelError,
	"CircuitBreaker": LevelCritical,
	"Optimizer":      LevelInfo,
}

// Alert 告警信息
type Alert struct {
	Level     Level
	Type      string
	Message   string
	Timestamp time.Time
	Fields    map[string]interface{}
}

// Channel 告警通道接口
type Channel interface {
	Send(alert Alert) error
	Name() string
}

// Throttler 按 key 限流。
type Throttler struct {
	mu       sync.Mutex
	lastSent map[string]time.Time
	interval time.Duration
	now      func() time.Time
}

func NewThrottler(interval time.Duration) *Throttler {
	return &Throttler{
		lastSent: make(map[string]time.Time),
		interval: interval,
		now:      time.Now,
	}
}

// Allow 首次或距上次发送超过 interval 返回 true 并记录。
func (t *Throttler) Allow(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	if last, ok := t.lastSent[key]; ok && now.Sub(last) < t.interval {
		return false
	}
	t.lastSent[key] = now
	return true
}

func (t *Throttler) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastSent = make(map[string]time.Time)
}

// Manager 告警管理器，实现 risk.AlertClient。
type Manager struct {
	mu       sync.RWMutex
	channels []Channel
	throttle *Throttler
	logger   *zap.Logger
}

func NewManager(channels []Channel, throttleInterval time.Duration, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		channels: channels,
		throttle: NewThrottler(throttleInterval),
		logger:   logger.Named("alert"),
	}
}

// SendAlert 发送到所有通道；被节流时静默返回 nil，全部通道失败才返回错误。
func (m *Manager) SendAlert(a Alert) error {
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now()
	}
	if a.Level == "" {
		a.Level = LevelWarning
	}
	if !m.throttle.Allow(fmt.Sprintf("%s:%s:%s", a.Level, a.Type, a.Message)) {
		return nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	var errs []error
	for _, ch := range m.channels {
		if err := ch.Send(a); err != nil {
			errs = append(errs, fmt.Errorf("channel %s failed: %w", ch.Name(), err))
		}
	}
	if len(errs) > 0 && len(errs) == len(m.channels) {
		return errors.Join(errs...)
	}
	for _, err := range errs {
		m.logger.Warn("alert channel failed", zap.Error(err))
	}
	return nil
}

// Send 按类型推断级别，发送失败只记日志。
func (m *Manager) Send(typ, msg string) {
	level, ok := typeLevels[typ]
	if !ok {
		level = LevelWarning
	}
	if err := m.SendAlert(Alert{Level: level, Type: typ, Message: msg}); err != nil {
		m.logger.Error("alert dropped", zap.String("type", typ), zap.Error(err))
	}
}

func (m *Manager) AddChannel(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels = append(m.channels, ch)
}

// RemoveChannel 按名称移除。
func (m *Manager) RemoveChannel(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.channels[:0]
	for _, ch := range m.channels {
		if ch.Name() != name {
			kept = append(kept, ch)
		}
	}
	m.channels = kept
}

func (m *Manager) Channels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, len(m.channels))
	for i, ch := range m.channels {
		names[i] = ch.Name()
	}
	return names
}

func (m *Manager) ResetThrottle() {
	m.throttle.Clear()
}
