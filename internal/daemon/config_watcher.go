package daemon

import (
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mergegate-dev/mergegate/internal/config"
)

// ConfigGetter provides access to the current config
type ConfigGetter interface {
	Config() *config.Config
}

// StaticConfig wraps a config for use without hot-reloading (e.g. in tests)
type StaticConfig struct {
	cfg *config.Config
}

// NewStaticConfig creates a ConfigGetter that always returns the same config
func NewStaticConfig(cfg *config.Config) *StaticConfig {
	return &StaticConfig{cfg: cfg}
}

func (sc *StaticConfig) Config() *config.Config {
	return sc.cfg
}

// ConfigWatcher watches the config file for changes and reloads it.
//
// Hot-reloadable settings take effect on the next task: max_retries,
// timeouts, label_prefix, annotation/comment limits, engine_url (new tasks
// snapshot these at enqueue). server_addr, max_workers, and store_backend
// are read at startup and require a restart.
type ConfigWatcher struct {
	configPath string
	cfg        *config.Config
	cfgMu      sync.RWMutex
	watcher    *fsnotify.Watcher
	stopCh     chan struct{}
	stopOnce   sync.Once
}

// NewConfigWatcher creates a watcher seeded with the given config
func NewConfigWatcher(configPath string, cfg *config.Config) *ConfigWatcher {
	return &ConfigWatcher{
		configPath: configPath,
		cfg:        cfg,
		stopCh:     make(chan struct{}),
	}
}

// Config returns the current configuration
func (cw *ConfigWatcher) Config() *config.Config {
	cw.cfgMu.RLock()
	defer cw.cfgMu.RUnlock()
	return cw.cfg
}

// Start begins watching the config file's directory. Watching the directory
// rather than the file survives editors that replace the file on save.
func (cw *ConfigWatcher) Start() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	cw.watcher = watcher

	dir := filepath.Dir(cw.configPath)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	go cw.loop()
	return nil
}

// Stop ends watching. Safe to call multiple times.
func (cw *ConfigWatcher) Stop() {
	cw.stopOnce.Do(func() {
		close(cw.stopCh)
		if cw.watcher != nil {
			cw.watcher.Close()
		}
	})
}

func (cw *ConfigWatcher) loop() {
	// Debounce: editors emit several events per save
	var timer *time.Timer
	for {
		select {
		case <-cw.stopCh:
			return
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(cw.configPath) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(250*time.Millisecond, cw.reload)
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("Config watcher error: %v", err)
		}
	}
}

func (cw *ConfigWatcher) reload() {
	cfg, err := config.LoadFrom(cw.configPath)
	if err != nil {
		log.Printf("Config reload failed, keeping previous config: %v", err)
		return
	}

	cw.cfgMu.Lock()
	cw.cfg = cfg
	cw.cfgMu.Unlock()
	log.Printf("Config reloaded from %s", cw.configPath)
}
