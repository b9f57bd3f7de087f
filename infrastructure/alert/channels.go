package alert

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// ZapChannel 写入结构化日志。CRITICAL/ERROR 用 Error，其余用 Warn。
type ZapChannel struct {
	name   string
	logger *zap.Logger
}

func NewZapChannel(name string, logger *zap.Logger) *ZapChannel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapChannel{name: name, logger: logger}
}

func (c *ZapChannel) Send(a Alert) error {
	fields := []zap.Field{
		zap.String("level", string(a.Level)),
		zap.String("type", a.Type),
		zap.Time("ts", a.Timestamp),
	}
	for _, k := range sortedKeys(a.Fields) {
		fields = append(fields, zap.Any(k, a.Fields[k]))
	}
	switch a.Level {
	case LevelCritical, LevelError:
		c.logger.Error(a.Message, fields...)
	default:
		c.logger.Warn(a.Message, fields...)
	}
	return nil
}

func (c *ZapChannel) Name() string { return c.name }

// WriterChannel 单行纯文本，Color 为 true 时按级别着色（控制台）。
type WriterChannel struct {
	name  string
	mu    sync.Mutex
	w     io.Writer
	Color bool
}

func NewWriterChannel(name string, w io.Writer) *WriterChannel {
	return &WriterChannel{name: name, w: w}
}

var levelColors = map[Level]string{
	LevelInfo:     "\033[32m",
	LevelWarning:  "\033[33m",
	LevelError:    "\033[31m",
	LevelCritical: "\033[35m",
}

func (c *WriterChannel) Send(a Alert) error {
	var b strings.Builder
	if c.Color {
		fmt.Fprintf(&b, "%s[%s]\033[0m", levelColors[a.Level], a.Level)
	} else {
		fmt.Fprintf(&b, "[%s]", a.Level)
	}
	fmt.Fprintf(&b, " %s", a.Timestamp.Format("2006-01-02 15:04:05"))
	if a.Type != "" {
		fmt.Fprintf(&b, " %s:", a.Type)
	}
	b.WriteString(" " + a.Message)
	for _, k := range sortedKeys(a.Fields) {
		fmt.Fprintf(&b, " %s=%v", k, a.Fields[k])
	}
	b.WriteByte('\n')

	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := io.WriteString(c.w, b.String())
	return err
}

func (c *WriterChannel) Name() string { return c.name }

// RecordingChannel 记录收到的告警，用于测试。
type RecordingChannel struct {
	name string
	mu   sync.Mutex
	got  []Alert
	Err  error
}

func NewRecordingChannel(name string) *RecordingChannel {
	return &RecordingChannel{name: name}
}

func (c *RecordingChannel) Send(a Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return c.Err
	}
	c.got = append(c.got, a)
	return nil
}

func (c *RecordingChannel) Name() string { return c.name }

func (c *RecordingChannel) Alerts() []Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Alert(nil), c.got...)
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
