package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/jarvis/internal/conversation"
	"github.com/kalambet/jarvis/internal/interpret"
	"github.com/kalambet/jarvis/internal/orchestrator"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Processor    Processor
	History      conversation.Store
	Interactions InteractionReader
}

// NewMCPServer creates an MCP server exposing the assistant to agents.
func NewMCPServer(deps MCPDeps, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"jarvis",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("jarvis: home-automation assistant. Ask questions about the house or request actions on its equipment."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask",
			mcp.WithDescription("Ask the home assistant a question or request an action. The answer is also sent to the profile's notification channel."),
			mcp.WithString("question", mcp.Description("Question or command, in French"), mcp.Required()),
			mcp.WithString("profile", mcp.Description("Household member asking (default profile when empty)")),
			mcp.WithString("mode", mcp.Description("info or action; selects which device data is sent")),
			mcp.WithArray("rooms", mcp.Description("Rooms to include in the device snapshot")),
		),
		mcpAsk(deps),
	)

	s.AddTool(
		mcp.NewTool("reset_conversation",
			mcp.WithDescription("Forget the conversation history of a profile."),
			mcp.WithString("profile", mcp.Description("Profile to reset"), mcp.Required()),
		),
		mcpReset(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"jarvis://conversations",
			"Conversations",
			mcp.WithResourceDescription("Profiles with a stored conversation"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceConversations(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"jarvis://interactions",
			"Recent Interactions",
			mcp.WithResourceDescription("Last 10 processed requests"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceInteractions(deps),
	)

	return s
}

func mcpAsk(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil || strings.TrimSpace(question) == "" {
			return mcpError("question is required"), nil
		}
		mode := interpret.Mode(req.GetString("mode", ""))
		if mode != "" && mode != interpret.ModeInfo && mode != interpret.ModeAction {
			return mcpError(fmt.Sprintf("mode must be info or action, got %q", mode)), nil
		}

		res := deps.Processor.Process(ctx, orchestrator.Request{
			Profile:  req.GetString("profile", ""),
			Question: question,
			Rooms:    req.GetStringSlice("rooms", nil),
			Mode:     mode,
		})
		if !res.Success {
			return mcpError(fmt.Sprintf("ask failed: %s", res.Error)), nil
		}
		return mcpText(res.Message), nil
	}
}

func mcpReset(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		profile, err := req.RequireString("profile")
		if err != nil || profile == "" {
			return mcpError("profile is required"), nil
		}
		if err := deps.History.Reset(ctx, profile); err != nil {
			return mcpError(fmt.Sprintf("reset failed: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Conversation of %s reset", profile)), nil
	}
}

func mcpResourceConversations(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		records, err := deps.History.Profiles(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list conversations: %w", err)
		}
		b, err := json.Marshal(summarize(records))
		if err != nil {
			return nil, fmt.Errorf("failed to marshal conversations: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpResourceInteractions(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		items, err := deps.Interactions.GetRecentInteractions("", 10)
		if err != nil {
			return nil, fmt.Errorf("failed to get recent interactions: %w", err)
		}

		type interactionSummary struct {
			ID       string `json:"id"`
			At       string `json:"created_at"`
			Profile  string `json:"profile"`
			Question string `json:"question"`
			Message  string `json:"message"`
			Status   string `json:"status"`
		}
		summaries := make([]interactionSummary, len(items))
		for i, it := range items {
			summaries[i] = interactionSummary{
				ID:       it.ID,
				At:       it.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
				Profile:  it.Profile,
				Question: it.Question,
				Message:  it.Message,
				Status:   it.Status,
			}
		}
		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal interactions: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
