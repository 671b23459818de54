package config

import (
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Watcher 监听配置文件变化并重新加载完整配置
type Watcher struct {
	mu       sync.RWMutex
	current  *Config
	path     string
	logger   *zap.Logger
	handlers []func(*Config)
}

// LoadAndWatch 加载配置; 存在配置文件时开启热更新
func LoadAndWatch(logger *zap.Logger) (*Watcher, error) {
	cfg, path, err := load()
	if err != nil {
		return nil, err
	}
	w := &Watcher{current: cfg, path: path, logger: logger.With(zap.String("component", "config"))}
	if path == "" {
		w.logger.Info("No config file found, running on defaults and environment")
		return w, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	v.OnConfigChange(w.onChange)
	v.WatchConfig()
	w.logger.Info("Watching config file", zap.String("path", path))
	return w, nil
}

// Config 当前配置快照
func (w *Watcher) Config() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Path 被监听的文件
func (w *Watcher) Path() string { return w.path }

// OnReload 注册重载回调
func (w *Watcher) OnReload(fn func(*Config)) {
	w.mu.Lock()
	w.handlers = append(w.handlers, fn)
	w.mu.Unlock()
}

func (w *Watcher) onChange(e fsnotify.Event) {
	if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
		return
	}
	cfg, _, err := load()
	if err != nil {
		// keep serving with the last good config
		w.logger.Warn("Config reload rejected", zap.String("file", e.Name), zap.Error(err))
		return
	}

	w.mu.Lock()
	w.current = cfg
	handlers := append([]func(*Config){}, w.handlers...)
	w.mu.Unlock()

	w.logger.Info("Config reloaded", zap.String("file", e.Name), zap.String("op", e.Op.String()))
	for _, h := range handlers {
		h(cfg)
	}
}
