// Package aliases maps client-facing model names to backend model names.
// Aliases come from inline configuration and an optional YAML file that is
// reloaded when it changes on disk.
package aliases

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

const defaultDebounce = 100 * time.Millisecond

// File is the on-disk alias document.
//
//	aliases:
//	  llama: llama3.1:8b
//	  qwen: qwen2.5:7b-instruct
type File struct {
	Aliases map[string]string `yaml:"aliases"`
}

// Table resolves model aliases. File entries win over inline entries.
// The zero value is not usable; call New.
type Table struct {
	inline  map[string]string
	path    string
	current atomic.Pointer[map[string]string]

	debounce time.Duration
	logger   *log.Logger
	reloads  atomic.Int64

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// New builds a table from inline aliases and, when path is non-empty, the YAML file at path.
func New(inline map[string]string, path string) (*Table, error) {
	t := &Table{
		inline:   copyMap(inline),
		path:     strings.TrimSpace(path),
		debounce: defaultDebounce,
	}
	if err := t.Reload(); err != nil {
		return nil, err
	}
	return t, nil
}

// SetLogger sets the logger used for reload diagnostics.
func (t *Table) SetLogger(logger *log.Logger) { t.logger = logger }

// Resolve returns the backend model for model, or model itself when no alias exists.
func (t *Table) Resolve(model string) string {
	m := t.current.Load()
	if m == nil {
		return model
	}
	if target, ok := (*m)[strings.TrimSpace(model)]; ok {
		return target
	}
	return model
}

// Snapshot returns a copy of the active alias map.
func (t *Table) Snapshot() map[string]string {
	m := t.current.Load()
	if m == nil {
		return map[string]string{}
	}
	return copyMap(*m)
}

// Reloads reports how many times the table was rebuilt.
func (t *Table) Reloads() int64 { return t.reloads.Load() }

// Reload rebuilds the table from the inline entries and the file. On error the
// previous table stays active.
func (t *Table) Reload() error {
	merged := copyMap(t.inline)
	if t.path != "" {
		fromFile, err := LoadFile(t.path)
		if err != nil {
			return err
		}
		for k, v := range fromFile {
			merged[k] = v
		}
	}
	t.current.Store(&merged)
	t.reloads.Add(1)
	return nil
}

// LoadFile parses an alias YAML file.
func LoadFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read alias file: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse alias file %s: %w", path, err)
	}
	out := make(map[string]string, len(f.Aliases))
	for k, v := range f.Aliases {
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if k == "" || v == "" {
			return nil, fmt.Errorf("alias file %s: empty alias entry %q: %q", path, k, v)
		}
		out[k] = v
	}
	return out, nil
}

// Watch reloads the table whenever the alias file changes, until ctx is done
// or Close is called. The parent directory is watched so editors that replace
// the file atomically are still picked up.
func (t *Table) Watch(ctx context.Context) error {
	if t.path == "" {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create alias watcher: %w", err)
	}
	dir := filepath.Dir(t.path)
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	t.mu.Lock()
	if t.watcher != nil {
		t.mu.Unlock()
		_ = w.Close()
		return fmt.Errorf("alias watcher already running")
	}
	t.watcher = w
	t.done = make(chan struct{})
	t.mu.Unlock()

	go t.loop(ctx, w, t.done)
	return nil
}

func (t *Table) loop(ctx context.Context, w *fsnotify.Watcher, done chan struct{}) {
	defer close(done)
	target := filepath.Clean(t.path)
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			_ = w.Close()
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(t.debounce, t.reloadLogged)
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			t.logf("alias watcher error: %v", err)
		}
	}
}

func (t *Table) reloadLogged() {
	if err := t.Reload(); err != nil {
		t.logf("alias reload failed, keeping previous table: %v", err)
		return
	}
	t.logf("alias table reloaded from %s (%d entries)", t.path, len(t.Snapshot()))
}

// Close stops the watcher if one is running.
func (t *Table) Close() error {
	t.mu.Lock()
	w, done := t.watcher, t.done
	t.watcher = nil
	t.mu.Unlock()
	if w == nil {
		return nil
	}
	err := w.Close()
	<-done
	return err
}

func (t *Table) logf(format string, args ...any) {
	if t.logger != nil {
		t.logger.Printf(format, args...)
	}
}

func copyMap(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
