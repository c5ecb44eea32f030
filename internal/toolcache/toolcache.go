// Package toolcache holds the tool names returned by the REST tool list when
// the child does not answer in time.
package toolcache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// DefaultTools is the Supabase MCP server's tool set.
var DefaultTools = []string{
	"search_docs", "list_tables", "list_extensions", "list_migrations",
	"apply_migration", "execute_sql", "get_logs", "get_advisors",
	"get_project_url", "get_anon_key", "generate_typescript_types",
	"list_edge_functions", "get_edge_function", "deploy_edge_function",
	"create_branch", "list_branches", "delete_branch", "merge_branch",
	"reset_branch", "rebase_branch",
}

// Cache is safe for concurrent use.
type Cache struct {
	log  *slog.Logger
	path string

	mu    sync.RWMutex
	tools []string
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.log = l
		}
	}
}

// WithFile seeds the cache from a YAML (or JSON) file, which is reloaded by
// Watch whenever it changes. The file holds either a list of names or a
// mapping with a "tools" list.
func WithFile(path string) Option {
	return func(c *Cache) { c.path = path }
}

// New constructs a Cache holding DefaultTools, or the contents of the file
// given via WithFile.
func New(opts ...Option) (*Cache, error) {
	c := &Cache{
		log:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		tools: append([]string(nil), DefaultTools...),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.path != "" {
		if err := c.reload(); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Tools returns a copy of the cached names.
func (c *Cache) Tools() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.tools...)
}

// Set replaces the cached names, typically after a successful live list.
// Empty lists are ignored.
func (c *Cache) Set(tools []string) {
	if len(tools) == 0 {
		return
	}
	c.mu.Lock()
	c.tools = append([]string(nil), tools...)
	c.mu.Unlock()
}

// Parse decodes a tool list document.
func Parse(data []byte) ([]string, error) {
	var list []string
	if err := yaml.Unmarshal(data, &list); err == nil {
		return list, nil
	}
	var doc struct {
		Tools []string `yaml:"tools"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse tool list: %w", err)
	}
	return doc.Tools, nil
}

func (c *Cache) reload() error {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return fmt.Errorf("read tool list: %w", err)
	}
	tools, err := Parse(data)
	if err != nil {
		return err
	}
	if len(tools) == 0 {
		return errors.New("tool list is empty")
	}
	c.mu.Lock()
	c.tools = tools
	c.mu.Unlock()
	c.log.Info("toolcache.reload", slog.String("path", c.path), slog.Int("count", len(tools)))
	return nil
}

// Watch reloads the file on change until ctx is done. It returns immediately
// when no file is configured. Reload failures keep the previous list.
func (c *Cache) Watch(ctx context.Context) error {
	if c.path == "" {
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() {
		_ = w.Close()
	}()

	// Watch the directory: editors commonly replace files by rename.
	if err := w.Add(filepath.Dir(c.path)); err != nil {
		return fmt.Errorf("watch %s: %w", c.path, err)
	}
	target := filepath.Clean(c.path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := c.reload(); err != nil {
				c.log.Warn("toolcache.reload.fail", slog.String("path", c.path), slog.String("err", err.Error()))
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			c.log.Debug("fsnotify error", slog.String("err", err.Error()))
		}
	}
}
