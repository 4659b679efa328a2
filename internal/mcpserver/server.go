package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all Hundi tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("hundi", "1.0.0")
	client := NewHundiClient(cfg)
	h := NewHandlers(client)

	s.AddTool(ToolBrowseOrders, h.HandleBrowseOrders)
	s.AddTool(ToolPlaceOrder, h.HandlePlaceOrder)
	s.AddTool(ToolCancelOrder, h.HandleCancelOrder)
	s.AddTool(ToolListMyOrders, h.HandleListMyOrders)
	s.AddTool(ToolGetTrade, h.HandleGetTrade)
	s.AddTool(ToolListMyTrades, h.HandleListMyTrades)
	s.AddTool(ToolConfirmPayment, h.HandleConfirmPayment)
	s.AddTool(ToolCancelTrade, h.HandleCancelTrade)
	s.AddTool(ToolFileDispute, h.HandleFileDispute)
	s.AddTool(ToolSendMessage, h.HandleSendMessage)
	s.AddTool(ToolReadMessages, h.HandleReadMessages)
	s.AddTool(ToolGetTrust, h.HandleGetTrust)

	return s
}
