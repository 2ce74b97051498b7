package mcp

import (
	"context"
	"errors"
	"io"
	"sort"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/danielpatrickdp/edge-companion/internal/companion"
)

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

var toolRegistry = map[string]toolEntry{
	"companion_react": {
		def: mcp.NewTool("companion_react",
			mcp.WithDescription("Choose a reaction for the current moment. With learn=true the user's response is observed after delay_ms and learned from."),
			mcp.WithBoolean("learn", mcp.Description("Observe and learn from the user's response")),
			mcp.WithNumber("delay_ms", mcp.Description("Wait before observing, in milliseconds (default 1000)")),
		),
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleReact },
	},
	"companion_learn": {
		def: mcp.NewTool("companion_learn",
			mcp.WithDescription("Observe the user's response to the last reaction and learn from it."),
		),
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleLearn },
	},
	"companion_consolidate": {
		def: mcp.NewTool("companion_consolidate",
			mcp.WithDescription("Fold pending interaction logs into the long-term profile and write the diary."),
			mcp.WithBoolean("force", mcp.Description("Ignore device preconditions (charging, network, battery)")),
		),
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleConsolidate },
	},
	"companion_diary": {
		def: mcp.NewTool("companion_diary",
			mcp.WithDescription("Read diary entries, newest first, or the entry for one date."),
			mcp.WithString("date", mcp.Description("YYYY-MM-DD; omit for recent entries")),
			mcp.WithNumber("limit", mcp.Description("Maximum entries (default 7)")),
			mcp.WithString("format", mcp.Description("text, markdown or html"), mcp.Enum("text", "markdown", "html")),
		),
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleDiary },
	},
	"companion_profile": {
		def: mcp.NewTool("companion_profile",
			mcp.WithDescription("Show the long-term personality profile and its recent versions."),
			mcp.WithNumber("history", mcp.Description("Number of profile versions to include (default 0)")),
		),
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleProfile },
	},
}

// ToolNames returns every tool name in sorted order.
func ToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewServer creates an MCP server exposing svc.
func NewServer(svc *companion.Service, version string) *server.MCPServer {
	s := server.NewMCPServer("edge-companion", version, server.WithToolCapabilities(true))
	h := NewHandlers(svc)
	for _, name := range ToolNames() {
		entry := toolRegistry[name]
		s.AddTool(entry.def, entry.handler(h))
	}
	return s
}

// Serve answers JSON-RPC requests read from in until in closes or ctx ends.
func Serve(ctx context.Context, svc *companion.Service, version string, in io.Reader, out io.Writer) error {
	err := server.NewStdioServer(NewServer(svc, version)).Listen(ctx, in, out)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
