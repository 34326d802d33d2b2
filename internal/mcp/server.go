// Package mcp exposes TsRR scoring as Model Context Protocol tools.
package mcp

import (
	"github.com/mark3labs/mcp-go/server"
)

// Server serves the TsRR tools over MCP.
type Server struct {
	mcp     *server.MCPServer
	handler *Handler
}

// NewServer creates an MCP server exposing h's tools.
func NewServer(h *Handler, version string) *Server {
	if version == "" {
		version = "dev"
	}

	mcpServer := server.NewMCPServer(
		"tsrr",
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	mcpServer.AddTools(h.tools()...)

	return &Server{mcp: mcpServer, handler: h}
}

// ServeStdio serves MCP over stdin/stdout until the client disconnects.
func (s *Server) ServeStdio() error {
	s.handler.log.Info("MCP server listening on stdio")
	return server.ServeStdio(s.mcp)
}
