package api

import (
	"html"
	"sort"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// APISpec represents the API specification.
type APISpec struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Version     string     `json:"version"`
	Headers     []Field    `json:"headers"`
	Endpoints   []Endpoint `json:"endpoints"`
}

// Endpoint represents an API endpoint specification.
type Endpoint struct {
	Method      string              `json:"method"`
	Path        string              `json:"path"`
	Summary     string              `json:"summary"`
	Description string              `json:"description"`
	UserScoped  bool                `json:"user_scoped"`
	Request     *RequestSpec        `json:"request,omitempty"`
	Responses   map[string]Response `json:"responses"`
}

// RequestSpec represents request body specification.
type RequestSpec struct {
	ContentType string           `json:"content_type"`
	Schema      map[string]Field `json:"schema"`
	Example     any              `json:"example,omitempty"`
}

// Response represents a response specification.
type Response struct {
	Description string `json:"description"`
	Example     any    `json:"example,omitempty"`
}

// Field represents a schema field.
type Field struct {
	Name        string `json:"name,omitempty"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
}

var errorExample = map[string]string{
	"code":    "not-found:api",
	"message": "list server tools: mcp server not found: 42",
}

func serverRequest() *RequestSpec {
	return &RequestSpec{
		ContentType: "application/json",
		Schema: map[string]Field{
			"name":        {Type: "string", Description: "Display name, used in tool IDs", Required: true},
			"endpoint":    {Type: "string", Description: "Absolute http(s) URL of the server", Required: true},
			"description": {Type: "string", Description: "Free text shown to users"},
			"headers":     {Type: "object", Description: "Headers sent on every request; never returned in clear"},
		},
		Example: map[string]any{"name": "files", "endpoint": "http://localhost:8090/mcp"},
	}
}

func crudEndpoints(path, label string) []Endpoint {
	return []Endpoint{
		{
			Method: "GET", Path: path, Summary: "List " + label, UserScoped: true,
			Description: "Returns the caller's " + label + " with their last connection status. Header values are masked.",
			Responses:   map[string]Response{"200": {Description: "Configured servers"}},
		},
		{
			Method: "POST", Path: path, Summary: "Add " + label, UserScoped: true,
			Description: "Stores a new server for the caller. It starts active.",
			Request:     serverRequest(),
			Responses: map[string]Response{
				"201": {Description: "Server created"},
				"400": {Description: "Invalid configuration", Example: map[string]string{"code": "configuration-invalid:api"}},
			},
		},
		{
			Method: "PATCH", Path: path + "/:id", Summary: "Enable or disable", UserScoped: true,
			Description: "Inactive servers are left out of the tool registry.",
			Request: &RequestSpec{
				ContentType: "application/json",
				Schema:      map[string]Field{"isActive": {Type: "boolean", Description: "New state", Required: true}},
			},
			Responses: map[string]Response{"200": {Description: "Updated"}, "404": {Description: "Unknown server", Example: errorExample}},
		},
		{
			Method: "DELETE", Path: path + "/:id", Summary: "Remove " + label, UserScoped: true,
			Description: "Deletes the server together with its snapshots.",
			Responses:   map[string]Response{"204": {Description: "Deleted"}, "404": {Description: "Unknown server", Example: errorExample}},
		},
		{
			Method: "POST", Path: path + "/test", Summary: "Test connection", UserScoped: true,
			Description: "Runs one connection cycle. Send an id to test a stored server and record the outcome on it, or a full configuration to test before saving.",
			Request:     serverRequest(),
			Responses:   map[string]Response{"200": {Description: "Outcome of the test, connected or not"}},
		},
	}
}

// getAPISpec returns the API specification.
func getAPISpec() APISpec {
	endpoints := []Endpoint{
		{
			Method: "GET", Path: "/health", Summary: "Health Check",
			Description: "Returns the health status of the API server.",
			Responses:   map[string]Response{"200": {Description: "Server is healthy", Example: map[string]string{"status": "ok"}}},
		},
		{
			Method: "GET", Path: "/metrics", Summary: "Prometheus metrics",
			Description: "Probe outcomes, registry build durations, tool calls and progress in the Prometheus text format.",
			Responses:   map[string]Response{"200": {Description: "Metrics"}},
		},
		{
			Method: "GET", Path: "/tools", Summary: "Aggregated tools", UserScoped: true,
			Description: "Builds the caller's registry from scratch: built-in tools, the tools of every active MCP server and one tool per ready A2A agent. Unreachable servers appear in the registries with their error.",
			Responses: map[string]Response{"200": {
				Description: "Tool IDs and per-protocol registries",
				Example:     map[string]any{"tools": []string{"codeCompare", "getWeather", "mcp_files_read", "a2a_travel"}},
			}},
		},
		{
			Method: "POST", Path: "/tools/:id/call", Summary: "Call a tool", UserScoped: true,
			Description: "Calls any registry tool. Agent tools take their message from args.text and continue the chat's session.",
			Request: &RequestSpec{
				ContentType: "application/json",
				Schema: map[string]Field{
					"args":   {Type: "object", Description: "Tool arguments"},
					"chatId": {Type: "string", Description: "Chat the call belongs to"},
				},
				Example: map[string]any{"args": map[string]any{"text": "Book a flight"}, "chatId": "c1"},
			},
			Responses: map[string]Response{"200": {Description: "Tool result"}, "404": {Description: "Unknown tool", Example: errorExample}},
		},
	}

	endpoints = append(endpoints, crudEndpoints("/mcp-servers", "MCP servers")...)
	endpoints = append(endpoints,
		Endpoint{
			Method: "GET", Path: "/mcp-servers/:id/tools", Summary: "Server tools", UserScoped: true,
			Description: "Lists the tools of one server. When the server is offline the last snapshot is returned with isCached set.",
			Responses: map[string]Response{
				"200": {Description: "Tools", Example: map[string]any{
					"serverId": "42", "serverName": "files", "isCached": false, "status": "connected",
					"tools": map[string]any{"read": map[string]any{"name": "read", "inputSchema": map[string]any{"type": "object"}}},
				}},
				"400": {Description: "Server is inactive"},
				"404": {Description: "Unknown server", Example: errorExample},
				"503": {Description: "Server offline and no snapshot"},
			},
		},
		Endpoint{
			Method: "POST", Path: "/mcp-servers/:id/tools/call", Summary: "Call a server tool", UserScoped: true,
			Description: "Calls a tool by its plain name. Progress is reported under the returned progress token while the call runs.",
			Request: &RequestSpec{
				ContentType: "application/json",
				Schema: map[string]Field{
					"tool": {Type: "string", Description: "Tool name on the server", Required: true},
					"args": {Type: "object", Description: "Tool arguments"},
				},
			},
			Responses: map[string]Response{"200": {Description: "Tool result"}},
		},
	)

	endpoints = append(endpoints, crudEndpoints("/a2a-servers", "A2A agents")...)
	endpoints = append(endpoints,
		Endpoint{
			Method: "GET", Path: "/a2a-servers/:id/card", Summary: "Agent card", UserScoped: true,
			Description: "Fetches the agent card from the agent's well-known location.",
			Responses: map[string]Response{
				"200": {Description: "Raw agent card"},
				"401": {Description: "Agent rejected the credentials"},
				"503": {Description: "Agent offline"},
			},
		},
		Endpoint{
			Method: "POST", Path: "/a2a-servers/:id/messages", Summary: "Message an agent", UserScoped: true,
			Description: "Streams a message to the agent, records the exchange in the event log and returns the entry.",
			Request: &RequestSpec{
				ContentType: "application/json",
				Schema: map[string]Field{
					"text":   {Type: "string", Description: "Message text", Required: true},
					"chatId": {Type: "string", Description: "Chat the message belongs to"},
				},
			},
			Responses: map[string]Response{"200": {Description: "Event log entry"}},
		},
		Endpoint{
			Method: "GET", Path: "/a2a-servers/:id/session", Summary: "Agent session", UserScoped: true,
			Description: "Context, tasks and messages held with the agent in a chat (chatId query parameter).",
			Responses:   map[string]Response{"200": {Description: "Session"}, "404": {Description: "No session yet"}},
		},
		Endpoint{
			Method: "GET", Path: "/events", Summary: "Event log", UserScoped: true,
			Description: "Stored agent exchanges of a chat (chatId query parameter), newest first.",
			Responses:   map[string]Response{"200": {Description: "Entries"}},
		},
		Endpoint{
			Method: "POST", Path: "/events/merge", Summary: "Merge event log", UserScoped: true,
			Description: "Merges the stored entries of a chat with the entries sent by the caller, dropping duplicates.",
			Request: &RequestSpec{
				ContentType: "application/json",
				Schema: map[string]Field{
					"chatId":  {Type: "string", Description: "Chat to read"},
					"entries": {Type: "array", Description: "Entries held by the caller"},
				},
			},
			Responses: map[string]Response{"200": {Description: "Merged entries"}},
		},
		Endpoint{
			Method: "GET", Path: "/progress", Summary: "Progress snapshot", UserScoped: true,
			Description: "The caller's tool calls currently in flight.",
			Responses:   map[string]Response{"200": {Description: "Progress states"}, "401": {Description: "Missing user header"}},
		},
		Endpoint{
			Method: "GET", Path: "/progress/stream", Summary: "Progress stream", UserScoped: true,
			Description: "Server-sent events for the caller's calls: progress for each notification, done when a call completes.",
			Responses:   map[string]Response{"200": {Description: "text/event-stream"}, "401": {Description: "Missing user header"}},
		},
	)

	return APISpec{
		Title:       "Agent Toolbridge API",
		Description: "Connects a chat assistant to remote MCP servers and A2A agents, merges their capabilities into one tool registry and records agent exchanges.",
		Version:     "1.0.0",
		Headers: []Field{
			{Name: HeaderUserID, Type: "string", Description: "Caller identity, required on user scoped endpoints", Required: true},
			{Name: HeaderSessionID, Type: "string", Description: "Forwarded to remote servers; generated when absent"},
			{Name: "Authorization", Type: "string", Description: "Bearer token forwarded to remote servers"},
		},
		Endpoints: endpoints,
	}
}

// handleDocsJSON returns the API specification as JSON.
func handleDocsJSON(c *fiber.Ctx) error {
	return c.JSON(getAPISpec())
}

// handleDocsHTML returns an HTML documentation page.
func handleDocsHTML(c *fiber.Ctx) error {
	spec := getAPISpec()
	esc := html.EscapeString

	var b strings.Builder
	b.WriteString(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>` + esc(spec.Title) + `</title>
    <style>
        body { font-family: -apple-system, 'Segoe UI', sans-serif; margin: 0 auto; max-width: 1000px; padding: 20px; background: #15202b; color: #e6e6e6; }
        header { border-bottom: 1px solid #38444d; margin-bottom: 20px; }
        .endpoint { border: 1px solid #38444d; border-radius: 6px; margin-bottom: 12px; padding: 10px 14px; }
        .method { display: inline-block; min-width: 64px; font-weight: bold; }
        .GET { color: #4fb3ff; } .POST { color: #3fcf8e; } .PATCH { color: #f5a623; } .DELETE { color: #ff5c5c; }
        .path { font-family: monospace; }
        .user { font-size: 0.8em; color: #f5a623; margin-left: 8px; }
        table { border-collapse: collapse; margin-top: 8px; }
        td, th { padding: 4px 10px; border-bottom: 1px solid #38444d; text-align: left; }
        .muted { color: #8899a6; }
    </style>
</head>
<body>
    <header>
        <h1>` + esc(spec.Title) + ` <small class="muted">v` + esc(spec.Version) + `</small></h1>
        <p>` + esc(spec.Description) + `</p>
    </header>
    <h2>Headers</h2>
    <table><tr><th>Name</th><th>Description</th></tr>
`)
	for _, h := range spec.Headers {
		b.WriteString(`<tr><td class="path">` + esc(h.Name) + `</td><td>` + esc(h.Description) + `</td></tr>`)
	}
	b.WriteString("</table>\n<h2>Endpoints</h2>\n")

	for _, ep := range spec.Endpoints {
		b.WriteString(`<div class="endpoint"><span class="method ` + ep.Method + `">` + ep.Method + `</span>`)
		b.WriteString(`<span class="path">` + esc(ep.Path) + `</span> <span class="muted">` + esc(ep.Summary) + `</span>`)
		if ep.UserScoped {
			b.WriteString(`<span class="user">` + HeaderUserID + `</span>`)
		}
		b.WriteString(`<p class="muted">` + esc(ep.Description) + `</p>`)

		if ep.Request != nil {
			b.WriteString(`<table><tr><th>Field</th><th>Type</th><th>Description</th></tr>`)
			for _, name := range sortedKeys(ep.Request.Schema) {
				field := ep.Request.Schema[name]
				req := ""
				if field.Required {
					req = " *"
				}
				b.WriteString(`<tr><td class="path">` + esc(name) + req + `</td><td>` + esc(field.Type) + `</td><td>` + esc(field.Description) + `</td></tr>`)
			}
			b.WriteString(`</table>`)
		}

		codes := sortedKeys(ep.Responses)
		b.WriteString(`<p>`)
		for _, code := range codes {
			b.WriteString(`<strong>` + code + `</strong> <span class="muted">` + esc(ep.Responses[code].Description) + `</span>&nbsp; `)
		}
		b.WriteString("</p></div>\n")
	}
	b.WriteString("</body>\n</html>")

	c.Set("Content-Type", "text/html")
	return c.SendString(b.String())
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
