// Package config loads bridge settings from the environment.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
)

// Config for the bridge. Defaults are provided via envdecode struct tags.
type Config struct {
	// Port to listen on. ENV: PORT
	Port int `env:"PORT,default=3000"`
	// ReadOnly passes --read-only to the Supabase preset. ENV: READ_ONLY
	ReadOnly bool `env:"READ_ONLY,default=true"`
	// Debug logs every MCP line in both directions. ENV: DEBUG_MCP
	Debug bool `env:"DEBUG_MCP,default=false"`

	SupabaseAccessToken string `env:"SUPABASE_ACCESS_TOKEN"`
	ProjectRef          string `env:"PROJECT_REF"`

	// BridgeToken enables static bearer authentication. ENV: BRIDGE_TOKEN
	BridgeToken string `env:"BRIDGE_TOKEN"`
	// BridgeJWTSecret enables HS256 bearer authentication. ENV: BRIDGE_JWT_SECRET
	BridgeJWTSecret string `env:"BRIDGE_JWT_SECRET"`

	// ChildCommand and ChildArgs replace the Supabase preset. ChildArgs is
	// split on whitespace. ENV: CHILD_COMMAND, CHILD_ARGS
	ChildCommand string `env:"CHILD_COMMAND"`
	ChildArgs    string `env:"CHILD_ARGS"`
	// ChildInitialize performs the MCP initialize exchange on start. ENV: CHILD_INITIALIZE
	ChildInitialize bool `env:"CHILD_INITIALIZE,default=false"`

	ToolsListTimeout time.Duration `env:"TOOLS_LIST_TIMEOUT,default=5s"`
	ToolCallTimeout  time.Duration `env:"TOOL_CALL_TIMEOUT,default=8s"`
	SSEKeepAlive     time.Duration `env:"SSE_KEEPALIVE,default=15s"`
	SSEBuffer        int           `env:"SSE_BUFFER,default=256"`

	// ToolsCacheFile is a YAML or JSON list of fallback tool names. ENV: TOOLS_CACHE_FILE
	ToolsCacheFile string `env:"TOOLS_CACHE_FILE"`

	// RedisAddr enables the pub/sub mirror. ENV: REDIS_ADDR
	RedisAddr    string `env:"REDIS_ADDR"`
	RedisChannel string `env:"REDIS_CHANNEL,default=mcp:bridge:records"`

	// APIRateLimit is requests per second per client on /api. 0 disables.
	APIRateLimit float64 `env:"API_RATE_LIMIT,default=10"`
	APIRateBurst int     `env:"API_RATE_BURST,default=20"`

	MetricsEnabled bool `env:"METRICS_ENABLED,default=true"`
}

// Supabase preset used when no child command is configured.
const (
	PresetCommand = "npx"
	PresetPackage = "@supabase/mcp-server-supabase"
)

var (
	ErrMissingAccessToken = errors.New("missing SUPABASE_ACCESS_TOKEN")
	ErrMissingProjectRef  = errors.New("missing PROJECT_REF")
)

// Load reads Config from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, fmt.Errorf("decode environment: %w", err)
	}
	return cfg, nil
}

// UsesPreset reports whether the child is the Supabase MCP server.
func (c Config) UsesPreset() bool {
	return c.ChildCommand == "" && strings.TrimSpace(c.ChildArgs) == ""
}

// Validate checks settings that cannot be defaulted.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.UsesPreset() {
		if c.SupabaseAccessToken == "" {
			return ErrMissingAccessToken
		}
		if c.ProjectRef == "" {
			return ErrMissingProjectRef
		}
	}
	if c.ToolsListTimeout <= 0 || c.ToolCallTimeout <= 0 {
		return errors.New("correlation timeouts must be positive")
	}
	return nil
}

// Addr returns the listen address.
func (c Config) Addr() string { return ":" + strconv.Itoa(c.Port) }

// Child returns the command line and extra environment of the child process.
func (c Config) Child() (command string, args []string, env []string) {
	if c.UsesPreset() {
		args = []string{"-y", PresetPackage}
		if c.ReadOnly {
			args = append(args, "--read-only")
		}
		args = append(args, "--project-ref="+c.ProjectRef)
		return PresetCommand, args, []string{"SUPABASE_ACCESS_TOKEN=" + c.SupabaseAccessToken}
	}

	command = c.ChildCommand
	args = strings.Fields(c.ChildArgs)
	if command == "" && len(args) > 0 {
		command, args = args[0], args[1:]
	}
	if c.SupabaseAccessToken != "" {
		env = append(env, "SUPABASE_ACCESS_TOKEN="+c.SupabaseAccessToken)
	}
	return command, args, env
}
