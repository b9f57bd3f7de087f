package exchange

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// IDGenerator 生成客户端订单号，注入到连接器中。
type IDGenerator interface {
	NewID() string
}

// UUIDGenerator 前缀 + 去掉连字符的 uuid，截断到交易所允许的 36 字符。
type UUIDGenerator struct {
	Prefix string
}

func (g UUIDGenerator) NewID() string {
	id := g.Prefix + strings.ReplaceAll(uuid.NewString(), "-", "")
	if len(id) > 36 {
		id = id[:36]
	}
	return id
}

// CollisionDetector 记录已使用的订单号，每个连接器一个实例。
type CollisionDetector struct {
	mu   sync.Mutex
	seen map[string]struct{}
	max  int
	fifo []string
}

// NewCollisionDetector max<=0 表示不淘汰旧记录。
func NewCollisionDetector(max int) *CollisionDetector {
	return &CollisionDetector{seen: make(map[string]struct{}), max: max}
}

// Register 首次出现返回 nil，重复返回 ErrIDCollision。
func (d *CollisionDetector) Register(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[id]; ok {
		return fmt.Errorf("%w: %s", ErrIDCollision, id)
	}
	d.seen[id] = struct{}{}
	if d.max > 0 {
		d.fifo = append(d.fifo, id)
		if len(d.fifo) > d.max {
			delete(d.seen, d.fifo[0])
			d.fifo = d.fifo[1:]
		}
	}
	return nil
}

func (d *CollisionDetector) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
