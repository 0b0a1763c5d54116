package mcpclickhouse

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// ToolCollector satisfies ToolAdder by collecting tools into a map
// instead of registering them with an MCPServer. CLI mode uses it to
// build a tool registry without starting a server.
type ToolCollector struct {
	tools map[string]Tool
}

// NewToolCollector creates an empty ToolCollector.
func NewToolCollector() *ToolCollector {
	return &ToolCollector{tools: make(map[string]Tool)}
}

// AddTool implements ToolAdder by storing the tool in the collector's map.
func (c *ToolCollector) AddTool(tool mcp.Tool, handler server.ToolHandlerFunc) {
	c.tools[tool.Name] = Tool{Tool: tool, Handler: handler}
}

// Tools returns the collected tools keyed by tool name.
func (c *ToolCollector) Tools() map[string]Tool {
	return c.tools
}
