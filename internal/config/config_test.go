package config

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != 3000 || !cfg.ReadOnly || cfg.Debug {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.ToolsListTimeout != 5*time.Second || cfg.ToolCallTimeout != 8*time.Second {
		t.Fatalf("unexpected timeouts %v %v", cfg.ToolsListTimeout, cfg.ToolCallTimeout)
	}
	if cfg.SSEKeepAlive != 15*time.Second || cfg.SSEBuffer != 256 {
		t.Fatalf("unexpected sse settings %+v", cfg)
	}
	if cfg.RedisChannel != "mcp:bridge:records" || !cfg.MetricsEnabled {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("READ_ONLY", "false")
	t.Setenv("DEBUG_MCP", "1")
	t.Setenv("TOOL_CALL_TIMEOUT", "250ms")
	t.Setenv("CHILD_ARGS", "node server.js --stdio")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != 8080 || cfg.ReadOnly || !cfg.Debug || cfg.ToolCallTimeout != 250*time.Millisecond {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.Addr() != ":8080" {
		t.Fatalf("unexpected addr %s", cfg.Addr())
	}

	cmd, args, _ := cfg.Child()
	if cmd != "node" || !reflect.DeepEqual(args, []string{"server.js", "--stdio"}) {
		t.Fatalf("unexpected child %s %v", cmd, args)
	}
}

func TestValidate_PresetRequiresCredentials(t *testing.T) {
	t.Parallel()

	base := Config{Port: 3000, ToolsListTimeout: time.Second, ToolCallTimeout: time.Second}

	if err := base.Validate(); !errors.Is(err, ErrMissingAccessToken) {
		t.Fatalf("expected missing token, got %v", err)
	}
	base.SupabaseAccessToken = "sbp_x"
	if err := base.Validate(); !errors.Is(err, ErrMissingProjectRef) {
		t.Fatalf("expected missing project ref, got %v", err)
	}
	base.ProjectRef = "abc"
	if err := base.Validate(); err != nil {
		t.Fatalf("unexpected error %v", err)
	}

	custom := Config{Port: 3000, ToolsListTimeout: time.Second, ToolCallTimeout: time.Second, ChildCommand: "my-mcp"}
	if err := custom.Validate(); err != nil {
		t.Fatalf("custom child should not need Supabase credentials: %v", err)
	}
}

func TestChild_Preset(t *testing.T) {
	t.Parallel()

	cfg := Config{ReadOnly: true, ProjectRef: "abc", SupabaseAccessToken: "tok"}
	cmd, args, env := cfg.Child()
	if cmd != "npx" {
		t.Fatalf("unexpected command %s", cmd)
	}
	want := []string{"-y", "@supabase/mcp-server-supabase", "--read-only", "--project-ref=abc"}
	if !reflect.DeepEqual(args, want) {
		t.Fatalf("got %v want %v", args, want)
	}
	if !reflect.DeepEqual(env, []string{"SUPABASE_ACCESS_TOKEN=tok"}) {
		t.Fatalf("unexpected env %v", env)
	}

	cfg.ReadOnly = false
	_, args, _ = cfg.Child()
	if !reflect.DeepEqual(args, []string{"-y", "@supabase/mcp-server-supabase", "--project-ref=abc"}) {
		t.Fatalf("unexpected writable args %v", args)
	}
}
