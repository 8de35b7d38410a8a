package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Loader handles loading and watching a configuration file.
type Loader struct {
	path     string
	logger   *slog.Logger
	watcher  *fsnotify.Watcher
	current  *Config
	mu       sync.RWMutex
	onChange func(*Config)
	close    chan struct{}
	once     sync.Once
}

// NewLoader creates a Loader for the file at path.
func NewLoader(path string, logger *slog.Logger) (*Loader, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Loader{
		path:   absPath,
		logger: logger,
		close:  make(chan struct{}),
	}, nil
}

// Path returns the absolute path of the watched file.
func (l *Loader) Path() string { return l.path }

// Load reads and validates the configuration file. The current configuration
// is only replaced when the new one is valid.
func (l *Loader) Load() (*Config, error) {
	cfg, err := Load(l.path)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.current = cfg
	l.mu.Unlock()

	return cfg, nil
}

// Current returns the last successfully loaded configuration.
func (l *Loader) Current() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// Watch starts monitoring the file and calls onChange after every successful
// reload. Invalid edits are logged and the previous configuration is kept.
// Watch may be called once; later calls, and calls after Close, fail.
func (l *Loader) Watch(onChange func(*Config)) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.watcher != nil {
		return errors.New("config loader is already watching")
	}
	select {
	case <-l.close:
		return errors.New("config loader is closed")
	default:
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	l.watcher = watcher
	l.onChange = onChange

	// Editors often save by rename, so watch the directory rather than the file.
	dir := filepath.Dir(l.path)
	if err := l.watcher.Add(dir); err != nil {
		_ = l.watcher.Close()
		l.watcher = nil
		return fmt.Errorf("failed to watch directory: %w", err)
	}

	go l.watchLoop()
	return nil
}

func (l *Loader) watchLoop() {
	for {
		select {
		case <-l.close:
			return
		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != l.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if _, err := os.Stat(l.path); err != nil {
				// Mid-rename; the Create event that follows triggers the reload.
				continue
			}

			cfg, err := l.Load()
			if err != nil {
				l.logger.Error("config reload failed; keeping previous configuration",
					"path", l.path,
					"error", err,
				)
				continue
			}
			l.logger.Info("config reloaded", "path", l.path, "stages", len(cfg.Stages))
			if l.onChange != nil {
				l.onChange(cfg)
			}
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.logger.Warn("config watcher error", "path", l.path, "error", err)
		}
	}
}

// Close stops the watcher. It is safe to call more than once.
func (l *Loader) Close() error {
	var err error
	l.once.Do(func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		close(l.close)
		if l.watcher != nil {
			err = l.watcher.Close()
		}
	})
	return err
}
