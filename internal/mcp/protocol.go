package mcp

import (
	"fmt"
	"regexp"
	"strings"
)

// ToolPrefix starts every MCP tool ID in the aggregated registry.
const ToolPrefix = "mcp_"

// Tool represents an MCP tool definition as discovered on a server.
// InputSchema is kept opaque so it can be handed to a model unchanged.
type Tool struct {
	Name            string         `json:"name"`
	Description     string         `json:"description"`
	InputSchema     map[string]any `json:"inputSchema"`
	DestructiveHint bool           `json:"destructiveHint,omitempty"`
	ReadOnlyHint    bool           `json:"readOnlyHint,omitempty"`
	Server          string         `json:"server,omitempty"`
}

// CallToolResult is returned after calling a tool.
type CallToolResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// Text joins the text blocks of the result.
func (r *CallToolResult) Text() string {
	var parts []string
	for _, b := range r.Content {
		if b.Type == "text" && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// ContentBlock represents a piece of content in the result.
type ContentBlock struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	MIMEType string `json:"mimeType,omitempty"`
}

// AuthRequiredError is returned when a server rejects a call with HTTP 401.
type AuthRequiredError struct {
	Server string
	Tool   string
}

func (e *AuthRequiredError) Error() string {
	return fmt.Sprintf("MCP server %s requires authorization for tool %s", e.Server, e.Tool)
}

var unsafeIDChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// Sanitize replaces every character outside [A-Za-z0-9_-] with an underscore.
func Sanitize(s string) string {
	return unsafeIDChars.ReplaceAllString(s, "_")
}

// ToolID returns the registry ID of a tool: mcp_{server}_{tool}.
func ToolID(server, tool string) string {
	return ToolPrefix + Sanitize(server) + "_" + Sanitize(tool)
}
