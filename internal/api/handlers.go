package api

import (
	"encoding/json"
	"strings"

	"github.com/gofiber/fiber/v2"

	"agent-toolbridge/internal/apperr"
	"agent-toolbridge/internal/config"
	"agent-toolbridge/internal/eventlog"
)

// parseJSON attempts to parse JSON from body regardless of Content-Type.
func parseJSON(c *fiber.Ctx, out any) error {
	body := c.Body()
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return apperr.Wrap(apperr.KindBadRequest, "invalid request body", err)
	}
	return nil
}

// healthHandler returns the API health status.
func (s *Server) healthHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status": "ok",
	})
}

// toolsHandler returns the aggregated tool registry of the caller.
func (s *Server) toolsHandler(c *fiber.Ctx) error {
	res := s.hub.Tools(requestContext(c), userID(c))
	body := fiber.Map{
		"tools": res.IDs(),
	}
	if res.MCPRegistry != nil {
		body["mcpRegistry"] = res.MCPRegistry
	}
	if res.A2ARegistry != nil {
		body["a2aRegistry"] = res.A2ARegistry
	}
	if c.QueryBool("details") {
		body["entries"] = res.Tools
	}
	return c.JSON(body)
}

// CallToolRequest is the request body for calling a registry tool.
type CallToolRequest struct {
	ChatID string         `json:"chatId"`
	Args   map[string]any `json:"args"`
}

// callToolHandler calls any tool of the caller's registry by ID.
func (s *Server) callToolHandler(c *fiber.Ctx) error {
	var req CallToolRequest
	if err := parseJSON(c, &req); err != nil {
		return err
	}
	res, err := s.hub.CallTool(requestContext(c), userID(c), req.ChatID, c.Params("id"), req.Args)
	if err != nil {
		return err
	}
	return c.JSON(res)
}

func (s *Server) listServersHandler(kind config.Kind) fiber.Handler {
	return func(c *fiber.Ctx) error {
		servers, err := s.hub.ListServers(requestContext(c), userID(c), kind)
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{
			"servers": servers,
		})
	}
}

// ServerRequest is the request body for creating or testing a server.
type ServerRequest struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Endpoint    string            `json:"endpoint"`
	URL         string            `json:"url"`
	Description string            `json:"description"`
	Headers     map[string]string `json:"headers"`
}

func (r ServerRequest) config() config.ServerConfig {
	endpoint := r.Endpoint
	if endpoint == "" {
		endpoint = r.URL
	}
	return config.ServerConfig{
		ID:          strings.TrimSpace(r.ID),
		Name:        strings.TrimSpace(r.Name),
		Endpoint:    strings.TrimSpace(endpoint),
		Description: r.Description,
		Headers:     r.Headers,
	}
}

func (s *Server) createServerHandler(kind config.Kind) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req ServerRequest
		if err := parseJSON(c, &req); err != nil {
			return err
		}
		srv := req.config()
		srv.ID = ""
		created, err := s.hub.CreateServer(requestContext(c), userID(c), kind, srv)
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{
			"server": created,
		})
	}
}

// UpdateServerRequest is the request body for enabling or disabling a server.
type UpdateServerRequest struct {
	IsActive *bool `json:"isActive"`
}

func (s *Server) updateServerHandler(kind config.Kind) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req UpdateServerRequest
		if err := parseJSON(c, &req); err != nil {
			return err
		}
		if req.IsActive == nil {
			return apperr.New(apperr.KindBadRequest, "update server", "isActive is required")
		}
		if err := s.hub.SetActive(requestContext(c), userID(c), kind, c.Params("id"), *req.IsActive); err != nil {
			return err
		}
		return c.JSON(fiber.Map{
			"id":       c.Params("id"),
			"isActive": *req.IsActive,
		})
	}
}

func (s *Server) deleteServerHandler(kind config.Kind) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := s.hub.DeleteServer(requestContext(c), userID(c), kind, c.Params("id")); err != nil {
			return err
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

func (s *Server) testServerHandler(kind config.Kind) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req ServerRequest
		if err := parseJSON(c, &req); err != nil {
			return err
		}
		ctx := requestContext(c)
		var (
			res any
			err error
		)
		if kind == config.KindMCP {
			res, err = s.hub.TestMCPServer(ctx, userID(c), req.config())
		} else {
			res, err = s.hub.TestA2AServer(ctx, userID(c), req.config())
		}
		if err != nil {
			return err
		}
		return c.JSON(res)
	}
}

// serverToolsHandler lists the tools of one MCP server, falling back to the
// last snapshot when the server is offline.
func (s *Server) serverToolsHandler(c *fiber.Ctx) error {
	res, err := s.hub.ServerTools(requestContext(c), userID(c), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(res)
}

// CallServerToolRequest is the request body for calling a tool of one server.
type CallServerToolRequest struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args"`
}

func (s *Server) callServerToolHandler(c *fiber.Ctx) error {
	var req CallServerToolRequest
	if err := parseJSON(c, &req); err != nil {
		return err
	}
	if strings.TrimSpace(req.Tool) == "" {
		return apperr.New(apperr.KindBadRequest, "call tool", "tool is required")
	}
	res, err := s.hub.CallMCPTool(requestContext(c), userID(c), c.Params("id"), req.Tool, req.Args)
	if err != nil {
		return err
	}
	return c.JSON(res)
}

// agentCardHandler returns the raw card of an agent.
func (s *Server) agentCardHandler(c *fiber.Ctx) error {
	card, err := s.hub.AgentCard(requestContext(c), userID(c), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(card)
}

// SendMessageRequest is the request body for sending a message to an agent.
type SendMessageRequest struct {
	ChatID string `json:"chatId"`
	Text   string `json:"text"`
}

func (s *Server) sendMessageHandler(c *fiber.Ctx) error {
	var req SendMessageRequest
	if err := parseJSON(c, &req); err != nil {
		return err
	}
	entry, err := s.hub.InvokeAgent(requestContext(c), userID(c), req.ChatID, c.Params("id"), req.Text)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"entry": entry,
	})
}

func (s *Server) sessionHandler(c *fiber.Ctx) error {
	session := s.hub.Session(userID(c), c.Query("chatId"), c.Params("id"))
	if session == nil {
		return apperr.New(apperr.KindNotFound, "get session", "no session with agent "+c.Params("id"))
	}
	return c.JSON(session)
}

func (s *Server) eventsHandler(c *fiber.Ctx) error {
	entries, err := s.hub.EventLog(requestContext(c), userID(c), c.Query("chatId"), nil)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"events": entries,
	})
}

// MergeEventsRequest carries entries the caller holds that may not be
// stored yet.
type MergeEventsRequest struct {
	ChatID  string            `json:"chatId"`
	Entries []*eventlog.Entry `json:"entries"`
}

func (s *Server) mergeEventsHandler(c *fiber.Ctx) error {
	var req MergeEventsRequest
	if err := parseJSON(c, &req); err != nil {
		return err
	}
	entries, err := s.hub.EventLog(requestContext(c), userID(c), req.ChatID, req.Entries)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"events": entries,
	})
}
