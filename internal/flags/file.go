package flags

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// File serves flags from a YAML document of the form:
//
//	isInMaintenanceMode: false
//	isSignupDisabled: true
//
// Watch reloads the document when it changes on disk.
type File struct {
	path   string
	mem    *Memory
	logger *slog.Logger

	watcher *fsnotify.Watcher
	stopCh  chan struct{}
}

// NewFile loads path once.
func NewFile(path string, logger *slog.Logger) (*File, error) {
	f := &File{
		path:   path,
		mem:    NewMemory(nil),
		logger: logger.With("component", "flags", "path", path),
		stopCh: make(chan struct{}),
	}
	if err := f.Reload(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *File) GetBool(ctx context.Context, key string) (bool, bool, error) {
	return f.mem.GetBool(ctx, key)
}

// Reload re-reads the document. On error the previous values are kept.
func (f *File) Reload() error {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return fmt.Errorf("flags: read %s: %w", f.path, err)
	}
	values := map[string]bool{}
	if err := yaml.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("flags: parse %s: %w", f.path, err)
	}
	f.mem.replace(values)
	return nil
}

// Watch starts reloading on writes. The parent directory is watched so that
// editors which replace the file by rename are picked up.
func (f *File) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("flags: create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(f.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("flags: watch %s: %w", f.path, err)
	}
	f.watcher = watcher
	go f.watchLoop()
	f.logger.Info("watching flag file")
	return nil
}

func (f *File) watchLoop() {
	target := filepath.Clean(f.path)
	for {
		select {
		case event, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if err := f.Reload(); err != nil {
				f.logger.Error("flag file reload failed", "error", err)
				continue
			}
			f.logger.Debug("flag file reloaded", "op", event.Op.String())

		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			f.logger.Error("flag file watcher error", "error", err)

		case <-f.stopCh:
			return
		}
	}
}

// Close stops the watcher.
func (f *File) Close() error {
	if f.watcher == nil {
		return nil
	}
	close(f.stopCh)
	return f.watcher.Close()
}
