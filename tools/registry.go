package tools

import (
	"log/slog"
	"slices"

	mcpclickhouse "github.com/clickhouse-contrib/mcp-clickhouse"
)

// DefaultEnabledCategories is the category list used when the operator
// does not narrow it.
const DefaultEnabledCategories = "query,schema"

// CollectAllTools registers all tool categories with the given ToolAdder,
// filtered by the enabledCategories list. This is the single entry point
// for tool registration, used by both MCP server mode and CLI mode.
func CollectAllTools(adder mcpclickhouse.ToolAdder, enabledCategories []string, resourceDesc string) {
	maybeAdd(adder, func(a mcpclickhouse.ToolAdder) { AddQueryTools(a, resourceDesc) }, enabledCategories, "query")
	maybeAdd(adder, AddSchemaTools, enabledCategories, "schema")
}

func maybeAdd(adder mcpclickhouse.ToolAdder, fn func(mcpclickhouse.ToolAdder), enabledCategories []string, category string) {
	if !slices.Contains(enabledCategories, category) {
		slog.Debug("Not enabling tools", "category", category)
		return
	}
	slog.Debug("Enabling tools", "category", category)
	fn(adder)
}
