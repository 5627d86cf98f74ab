// Package api exposes the loopback-only HTTP status/search surface:
// /health, /status, /search, /repo-candidates, /rescan, /errors,
// /workspaces, /metrics, and a stub POST /mcp that hands off to the
// (out of scope) MCP tool layer. Handler bodies stay thin, calling
// straight into pkg/daemon; this package owns none of the pipeline's
// state.
package api
