package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher 监听配置文件写入，冷却期内的重复事件合并；加载失败的配置不会回调。
type Watcher struct {
	Path     string
	Cooldown time.Duration
	Logger   *zap.Logger

	lastReload time.Time
}

// Start blocks until ctx is done; onUpdate receives every valid reload.
// 监听所在目录而不是文件本身，编辑器的"写临时文件再改名"也能被捕获。
func (w *Watcher) Start(ctx context.Context, onUpdate func(AppConfig)) error {
	logger := w.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fw.Close()

	target := filepath.Clean(w.Path)
	if err := fw.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("failed to watch config dir: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if w.Cooldown > 0 && time.Since(w.lastReload) < w.Cooldown {
				continue
			}
			cfg, err := LoadWithEnvOverrides(w.Path)
			if err != nil {
				logger.Warn("config reload failed", zap.String("path", w.Path), zap.Error(err))
				continue
			}
			w.lastReload = time.Now()
			logger.Info("config reloaded", zap.String("path", w.Path))
			if onUpdate != nil {
				onUpdate(cfg)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watcher error", zap.Error(err))
		}
	}
}
