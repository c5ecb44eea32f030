// Package stdio spawns and supervises the child process that speaks
// line-delimited JSON-RPC on its stdin and stdout.
//
// Characteristics
//
//	Connection model : 1 bridge <-> 1 child process
//	Protocol         : newline-delimited JSON-RPC 2.0 on stdin/stdout
//	Diagnostics      : stderr lines are logged, never parsed
//	Lifecycle        : child exit is terminal; there is no restart
//
// Example:
//
//	p, err := stdio.Start(ctx, "npx", []string{"-y", "@supabase/mcp-server-supabase"},
//	    stdio.WithEnv("SUPABASE_ACCESS_TOKEN="+token),
//	    stdio.WithLogger(log),
//	)
//	if err != nil { log.Fatal(err) }
//	go pump(p.Stdout())
//	err = p.Wait() // *stdio.ExitError
package stdio
