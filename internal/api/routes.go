package api

import (
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"agent-toolbridge/internal/config"
)

func (s *Server) setupRoutes() {
	// Documentation
	s.app.Get("/docs", handleDocsHTML)
	s.app.Get("/docs/json", handleDocsJSON)

	// Health check
	s.app.Get("/health", s.healthHandler)

	if s.metrics != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(s.metrics.Handler()))
	}

	// Aggregated registry
	s.app.Get("/tools", requireUser, s.toolsHandler)
	s.app.Post("/tools/:id/call", requireUser, s.callToolHandler)

	// MCP servers
	s.app.Get("/mcp-servers", requireUser, s.listServersHandler(config.KindMCP))
	s.app.Post("/mcp-servers/test", requireUser, s.testServerHandler(config.KindMCP))
	s.app.Post("/mcp-servers", requireUser, s.createServerHandler(config.KindMCP))
	s.app.Patch("/mcp-servers/:id", requireUser, s.updateServerHandler(config.KindMCP))
	s.app.Delete("/mcp-servers/:id", requireUser, s.deleteServerHandler(config.KindMCP))
	s.app.Get("/mcp-servers/:id/tools", requireUser, s.serverToolsHandler)
	s.app.Post("/mcp-servers/:id/tools/call", requireUser, s.callServerToolHandler)

	// A2A agents
	s.app.Get("/a2a-servers", requireUser, s.listServersHandler(config.KindA2A))
	s.app.Post("/a2a-servers/test", requireUser, s.testServerHandler(config.KindA2A))
	s.app.Post("/a2a-servers", requireUser, s.createServerHandler(config.KindA2A))
	s.app.Patch("/a2a-servers/:id", requireUser, s.updateServerHandler(config.KindA2A))
	s.app.Delete("/a2a-servers/:id", requireUser, s.deleteServerHandler(config.KindA2A))
	s.app.Get("/a2a-servers/:id/card", requireUser, s.agentCardHandler)
	s.app.Post("/a2a-servers/:id/messages", requireUser, s.sendMessageHandler)
	s.app.Get("/a2a-servers/:id/session", requireUser, s.sessionHandler)

	// Event log
	s.app.Get("/events", requireUser, s.eventsHandler)
	s.app.Post("/events/merge", requireUser, s.mergeEventsHandler)

	// Progress of in-flight tool calls
	s.app.Get("/progress", requireUser, s.progressHandler)
	s.app.Get("/progress/stream", requireUser, s.progressStreamHandler)
}
