package stdio

import (
	"log/slog"
)

// Option customizes a Process.
type Option func(*config)

type config struct {
	env []string
	dir string
	log *slog.Logger
}

// WithEnv appends KEY=VALUE entries to the inherited environment. Later
// entries win over inherited ones.
func WithEnv(kv ...string) Option {
	return func(c *config) {
		c.env = append(c.env, kv...)
	}
}

// WithDir sets the child's working directory.
func WithDir(dir string) Option {
	return func(c *config) { c.dir = dir }
}

// WithLogger overrides the logger used for stderr diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.log = l
		}
	}
}
