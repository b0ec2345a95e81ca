package knowledge

import (
	"context"
	"fmt"
	"time"

	"prefrontal/app/config"

	"github.com/elliotchance/pie/v2"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/tmc/langchaingo/tools"
)

const mcpInitTimeout = time.Minute

func createMCPClient(cfg config.MCP) (client.MCPClient, error) {
	return client.NewStdioMCPClient(
		cfg.Command,
		nil,
		cfg.Args...,
	)
}

// initializeMCPTool performs the MCP handshake and looks up the configured tool.
func initializeMCPTool(mcpClient client.MCPClient, toolName string) (tools.Tool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), mcpInitTimeout)
	defer cancel()

	initRequest := mcp.InitializeRequest{}
	initRequest.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initRequest.Params.ClientInfo = mcp.Implementation{
		Name:    "prefrontal-knowledge",
		Version: "1.0.0",
	}

	if _, err := mcpClient.Initialize(ctx, initRequest); err != nil {
		return nil, fmt.Errorf("failed to initialize MCP client: %w", err)
	}

	toolsResponse, err := mcpClient.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}

	index := pie.FindFirstUsing(toolsResponse.Tools, func(tool mcp.Tool) bool {
		return tool.Name == toolName
	})
	if index < 0 {
		return nil, fmt.Errorf("MCP server has no tool %q", toolName)
	}

	return &mcpToolAdapter{
		client: mcpClient,
		tool:   toolsResponse.Tools[index],
	}, nil
}
