// Package server implements the MCP (Model Context Protocol) server that exposes
// the image loader and its bitmap pool.
//
// This package provides a JSON-RPC 2.0 server that lets an MCP client drive image
// loads onto named view targets and observe how the memory cache reuses decoded
// bitmaps.
//
// # Protocol
//
// The server communicates over stdio using JSON-RPC 2.0:
//   - Input: JSON-RPC requests on stdin (one per line)
//   - Output: JSON-RPC responses on stdout
//
// Supported MCP methods:
//   - initialize: Protocol handshake
//   - tools/list: Enumerate available tools
//   - tools/call: Execute a tool with arguments
//   - ping: Health check
//
// # Available Tools
//
// Loading:
//   - image_load: Load a URL for a spec onto a view target
//   - image_prefetch: Warm the caches without a target
//   - image_detach: Release a target and abandon its pending loads
//   - image_target: Report target state
//
// Cache:
//   - cache_stats: Counters and per-spec buckets
//   - cache_report: Human-readable report
//   - cache_trim: Trim for a host trim level or pressure name
//   - cache_clear: Discard unused bitmaps, or forget one spec
//
// Specs:
//   - spec_list: Registered load specs
//   - spec_register: Add or replace a load spec
//
// # View Targets
//
// A view target stands in for a client-side view. It holds one use count on the
// bitmap it shows and gives it back when it moves to another URL, is detached, or
// the server stops. A bitmap nobody holds stays cached and may be recycled for
// the next decode of the same spec.
//
// # Error Handling
//
// Tool execution errors are returned as JSON-RPC error responses with:
//   - code: -32000 (tool execution failure) or standard JSON-RPC codes
//   - message: Human-readable error description
//   - data: Additional error details (typically the Go error string)
//
// # Usage
//
//	ld, err := loader.New(loader.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer ld.Close()
//	srv := server.New(ld, server.WithLogger(logger))
//	if err := srv.Run(); err != nil {
//	    log.Fatal(err)
//	}
package server
