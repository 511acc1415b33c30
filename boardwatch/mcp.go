package boardwatch

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/boardwatch/kit"
)

// RegisterMCP registers boardwatch tools on an MCP server.
func (w *Watcher) RegisterMCP(srv *mcp.Server) {
	eps := w.endpoints()

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "boardwatch_position",
		Description: "Return the last confirmed board position (placement, side to move, raw string).",
		InputSchema: kit.InputSchema(map[string]any{}),
	}, eps.position, kit.DecodeJSON[struct{}]())

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "boardwatch_history",
		Description: "List the most recent confirmed positions, newest first.",
		InputSchema: kit.InputSchema(map[string]any{
			"limit": map[string]any{"type": "integer", "description": "Maximum number of positions (default 50, max 1000)"},
		}),
	}, eps.history, kit.DecodeJSON[historyReq]())

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "boardwatch_bestmove",
		Description: "Ask the engine for the best move of a position; the current board when fen is omitted.",
		InputSchema: kit.InputSchema(map[string]any{
			"fen": map[string]any{"type": "string", "description": "Position string; missing fields are completed"},
		}),
	}, eps.bestMove, kit.DecodeJSON[bestMoveReq]())

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "boardwatch_stats",
		Description: "Return pipeline counters: notifications, attempts, emissions, player and engine route state.",
		InputSchema: kit.InputSchema(map[string]any{}),
	}, eps.stats, kit.DecodeJSON[struct{}]())
}
