package server

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/fyp-systems/fyp-core/pkg/types"
)

// newHookMCPServer exposes the hook-bridge's permission-request/
// permission-decision pair (handlers_hook.go) as MCP tools, for tool-native
// approval bridges that speak MCP instead of the plain REST pair. Both
// are transports over the same inbox/decision-store wiring.
func (s *Server) newHookMCPServer() *server.MCPServer {
	mcpSrv := server.NewMCPServer(
		"fyp-hook-bridge",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	requestTool := mcp.NewTool("request_permission",
		mcp.WithDescription("Raise an attention item for a tool-native permission prompt and return a pollable signature"),
		mcp.WithString("sessionId", mcp.Required(), mcp.Description("session the prompt originated from")),
		mcp.WithString("title", mcp.Description("short prompt title")),
		mcp.WithString("body", mcp.Description("prompt detail text")),
		mcp.WithString("kind", mcp.Description("approval kind, e.g. network/exec/edit")),
	)
	mcpSrv.AddTool(requestTool, s.mcpRequestPermission)

	decisionTool := mcp.NewTool("poll_decision",
		mcp.WithDescription("Poll for an operator's decision on a previously raised permission request"),
		mcp.WithString("sessionId", mcp.Required()),
		mcp.WithString("signature", mcp.Required()),
	)
	mcpSrv.AddTool(decisionTool, s.mcpPollDecision)

	return mcpSrv
}

func (s *Server) mcpRequestPermission(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	sessionID, _ := args["sessionId"].(string)
	if sessionID == "" {
		return mcp.NewToolResultError("sessionId is required"), nil
	}
	title, _ := args["title"].(string)
	if title == "" {
		title = "Approve action"
	}
	body, _ := args["body"].(string)
	kind, _ := args["kind"].(string)
	if kind == "" {
		kind = "hook.permission"
	}

	signature := fmt.Sprintf("%s|%s|%s", sessionID, kind, hashPayload(args))
	item := types.AttentionItem{
		SessionID: sessionID,
		Kind:      kind,
		Severity:  types.SeverityWarn,
		Title:     title,
		Body:      body,
		Signature: signature,
		Options: []types.AttentionOption{
			{ID: "allow", Label: "Allow", Decision: map[string]any{"signature": signature, "optionId": "allow", "approved": true}},
			{ID: "deny", Label: "Deny", Decision: map[string]any{"signature": signature, "optionId": "deny", "approved": false}},
		},
		Status: types.AttentionOpen,
		Meta:   map[string]any{"mcpArgs": args},
	}

	result, err := s.inbox.Create(ctx, item)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	out, _ := json.Marshal(map[string]any{"signature": signature, "attentionId": result.ID})
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) mcpPollDecision(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	sessionID, _ := args["sessionId"].(string)
	signature, _ := args["signature"].(string)
	if sessionID == "" || signature == "" {
		return mcp.NewToolResultError("sessionId and signature are required"), nil
	}
	key := sessionID + "|" + signature

	s.hookMu.Lock()
	s.gcHookDecisionsLocked()
	entry, ok := s.hookDecisions[key]
	var decision map[string]any
	if ok {
		decision = entry.decision
		if !entry.delivered {
			entry.delivered = true
			entry.deliveredAt = time.Now()
		}
	}
	s.hookMu.Unlock()

	out, _ := json.Marshal(map[string]any{"decision": decision})
	return mcp.NewToolResultText(string(out)), nil
}
