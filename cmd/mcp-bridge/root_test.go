package main

import (
	"context"
	"errors"
	"net"
	"os"
	"testing"
	"time"

	"github.com/ggoodman/mcp-stdio-bridge/internal/config"
	"github.com/ggoodman/mcp-stdio-bridge/stdio"
)

const childModeEnv = "MCP_BRIDGE_TEST_CHILD"

func TestMain(m *testing.M) {
	if os.Getenv(childModeEnv) == "exit7" {
		os.Exit(7)
	}
	os.Exit(m.Run())
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func TestRoot_PresetRequiresCredentials(t *testing.T) {
	t.Setenv("SUPABASE_ACCESS_TOKEN", "")
	t.Setenv("PROJECT_REF", "")
	t.Setenv("CHILD_COMMAND", "")
	t.Setenv("CHILD_ARGS", "")

	cmd := newRootCmd("test")
	cmd.SetArgs([]string{"--port", "3999"})
	if err := cmd.Execute(); !errors.Is(err, config.ErrMissingAccessToken) {
		t.Fatalf("got %v want %v", err, config.ErrMissingAccessToken)
	}
}

func TestServe_ChildExitEndsBridge(t *testing.T) {
	t.Setenv(childModeEnv, "exit7")

	cfg := config.Config{
		Port:             freePort(t),
		ToolsListTimeout: time.Second,
		ToolCallTimeout:  time.Second,
		SSEKeepAlive:     time.Second,
		SSEBuffer:        8,
	}

	done := make(chan error, 1)
	go func() { done <- serve(context.Background(), cfg, []string{os.Args[0]}) }()

	select {
	case err := <-done:
		var exitErr *stdio.ExitError
		if !errors.As(err, &exitErr) {
			t.Fatalf("expected *stdio.ExitError, got %v", err)
		}
		if exitErr.ExitStatus() != 7 {
			t.Fatalf("exit status: got %d want 7", exitErr.ExitStatus())
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("bridge kept running after the child exited")
	}
}
