package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/mbetel/invochat/internal/query"
)

// MCPEngine abstracts the query engine for the MCP layer.
type MCPEngine interface {
	Ask(ctx context.Context, sessionID, requesterID, question string) (query.Answer, error)
	Retrieve(ctx context.Context, sessionID, requesterID, text string, k int) ([]query.RetrievedFact, error)
	SessionSummary(sessionID, requesterID string) (query.Summary, error)
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Engine MCPEngine
}

// NewMCPServer creates an MCP server with the invoice tools registered.
// Every tool is scoped to one session and requires the owner id that
// created it; the ownership check happens in the session layer.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"invochat",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("invochat — session-scoped semantic search and Q&A over extracted invoice batches."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("search_invoices",
			mcp.WithDescription("Semantically search one invoice session and return the matching facts with similarity scores."),
			mcp.WithString("session_id", mcp.Description("Session to search"), mcp.Required()),
			mcp.WithString("owner_id", mcp.Description("Owner that created the session"), mcp.Required()),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 10)")),
		),
		mcpSearchInvoices(deps),
	)

	s.AddTool(
		mcp.NewTool("ask_invoices",
			mcp.WithDescription("Ask a natural-language question about one invoice session. Totals, counts and averages are computed over every invoice in the session; lookups cite retrieved facts."),
			mcp.WithString("session_id", mcp.Description("Session to ask about"), mcp.Required()),
			mcp.WithString("owner_id", mcp.Description("Owner that created the session"), mcp.Required()),
			mcp.WithString("question", mcp.Description("The question"), mcp.Required()),
		),
		mcpAskInvoices(deps),
	)

	s.AddTool(
		mcp.NewTool("session_summary",
			mcp.WithDescription("Return an overview of one invoice session: counts, totals, vendors, date range and payment terms."),
			mcp.WithString("session_id", mcp.Description("Session to summarize"), mcp.Required()),
			mcp.WithString("owner_id", mcp.Description("Owner that created the session"), mcp.Required()),
		),
		mcpSessionSummary(deps),
	)

	return s
}

func mcpSearchInvoices(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, err := req.RequireString("session_id")
		if err != nil {
			return mcpError("session_id is required"), nil
		}
		ownerID, err := req.RequireString("owner_id")
		if err != nil {
			return mcpError("owner_id is required"), nil
		}
		text, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		limit := req.GetInt("limit", 10)
		if limit <= 0 {
			limit = 10
		}
		if limit > 50 {
			limit = 50
		}

		facts, err := deps.Engine.Retrieve(ctx, sessionID, ownerID, text, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}
		if len(facts) == 0 {
			return mcpText("[]"), nil
		}

		b, err := json.Marshal(facts)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpAskInvoices(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, err := req.RequireString("session_id")
		if err != nil {
			return mcpError("session_id is required"), nil
		}
		ownerID, err := req.RequireString("owner_id")
		if err != nil {
			return mcpError("owner_id is required"), nil
		}
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}

		answer, err := deps.Engine.Ask(ctx, sessionID, ownerID, question)
		if err != nil {
			return mcpError(fmt.Sprintf("chat failed: %v", err)), nil
		}

		b, err := json.Marshal(answer)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal answer: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpSessionSummary(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, err := req.RequireString("session_id")
		if err != nil {
			return mcpError("session_id is required"), nil
		}
		ownerID, err := req.RequireString("owner_id")
		if err != nil {
			return mcpError("owner_id is required"), nil
		}

		summary, err := deps.Engine.SessionSummary(sessionID, ownerID)
		if err != nil {
			return mcpError(fmt.Sprintf("summary failed: %v", err)), nil
		}

		b, err := json.Marshal(summary)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal summary: %v", err)), nil
		}
		return mcpText(string(b)), nil
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
