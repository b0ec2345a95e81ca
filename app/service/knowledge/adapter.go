package knowledge

import (
	"context"
	"fmt"
	"strings"

	"github.com/elliotchance/pie/v2"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/tmc/langchaingo/tools"
)

var _ tools.Tool = (*mcpToolAdapter)(nil)

// mcpToolAdapter exposes one MCP tool as a langchaingo tool taking a plain query.
type mcpToolAdapter struct {
	client client.MCPClient
	tool   mcp.Tool
}

func (m *mcpToolAdapter) Name() string {
	return m.tool.Name
}

func (m *mcpToolAdapter) Description() string {
	return m.tool.Description
}

func (m *mcpToolAdapter) Call(ctx context.Context, input string) (string, error) {
	callRequest := mcp.CallToolRequest{
		Request: mcp.Request{
			Method: "tools/call",
		},
	}

	callRequest.Params.Name = m.tool.Name
	callRequest.Params.Arguments = map[string]any{
		queryArgument(m.tool): input,
	}

	response, err := m.client.CallTool(ctx, callRequest)
	if err != nil {
		return "", fmt.Errorf("MCP tool call failed: %w", err)
	}

	if response.IsError {
		return "", fmt.Errorf("MCP tool %s reported an error", m.tool.Name)
	}

	var result strings.Builder
	for _, content := range response.Content {
		if textContent, ok := content.(mcp.TextContent); ok {
			result.WriteString(textContent.Text)
			result.WriteString("\n")
		}
	}

	return strings.TrimSpace(result.String()), nil
}

// queryArgument picks the argument the query goes into: "query" when the
// schema has it, otherwise the first property by name, otherwise "input".
func queryArgument(tool mcp.Tool) string {
	properties := tool.InputSchema.Properties
	if len(properties) == 0 {
		return "input"
	}

	if _, ok := properties["query"]; ok {
		return "query"
	}

	return pie.Sort(pie.Keys(properties))[0]
}
