package configwatcher

import (
	"context"
	"eduai_backend/internal/config"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

type Reloader func(cfg *config.Config)

type Options struct {
	// Debounce 连续写入合并为一次重载
	Debounce time.Duration
	Logger   *zap.Logger
}

// Watch 监听配置文件变化并重新加载，直到 ctx 结束。
// 监听的是所在目录，编辑器先写临时文件再 rename 的方式同样能触发。
func Watch(ctx context.Context, configFile string, opts Options, reload Reloader) error {
	if opts.Debounce <= 0 {
		opts.Debounce = time.Second
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	absPath, err := filepath.Abs(configFile)
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()

		timer := time.NewTimer(opts.Debounce)
		if !timer.Stop() {
			<-timer.C
		}

		for {
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != absPath {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					// 防抖处理
					timer.Reset(opts.Debounce)
				}
			case <-timer.C:
				newCfg, err := config.LoadConfig(filepath.Dir(absPath))
				if err != nil {
					log.Error("Failed to reload config", zap.Error(err))
					continue
				}
				log.Info("Config reloaded", zap.String("file", absPath))
				reload(newCfg)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Error("Config watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}
