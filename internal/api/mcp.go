package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/meridian-labs/wikidex/internal/errkind"
)

// NewMCPServer creates an MCP server exposing the knowledge tools over
// stdio.
func NewMCPServer(deps Deps) *server.MCPServer {
	s := server.NewMCPServer(
		"wikidex",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("wikidex — search and synchronize an indexed knowledge base built from wiki spaces."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("search_knowledge",
			mcp.WithDescription("Search the indexed knowledge base and return the most relevant passages with source attribution."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithString("space_key", mcp.Description("Knowledge space to search"), mcp.Required()),
			mcp.WithNumber("top_k", mcp.Description("Maximum number of results (default 5)")),
		),
		mcpSearchKnowledge(deps),
	)

	s.AddTool(
		mcp.NewTool("sync_knowledge_source",
			mcp.WithDescription("Synchronize a knowledge space into the vector index. Incremental by default; full_sync re-verifies every page."),
			mcp.WithString("space_key", mcp.Description("Knowledge space to synchronize"), mcp.Required()),
			mcp.WithBoolean("full_sync", mcp.Description("Re-process every page regardless of version (default false)")),
		),
		mcpSyncKnowledgeSource(deps),
	)

	s.AddTool(
		mcp.NewTool("get_space_info",
			mcp.WithDescription("List available knowledge spaces with their synced page counts."),
		),
		mcpGetSpaceInfo(deps),
	)

	s.AddTool(
		mcp.NewTool("get_recent_updates",
			mcp.WithDescription("List recently updated pages across the wiki."),
			mcp.WithNumber("days", mcp.Description("Look-back window in days (default 7)")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of pages (default 20)")),
		),
		mcpGetRecentUpdates(deps),
	)

	return s
}

func mcpSearchKnowledge(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError(errkind.InvalidArgument, "query is required"), nil
		}
		spaceKey, err := req.RequireString("space_key")
		if err != nil {
			return mcpError(errkind.InvalidArgument, "space_key is required"), nil
		}

		topK := req.GetInt("top_k", 0)
		if topK > 50 {
			topK = 50
		}

		results, err := deps.Searcher.Search(ctx, spaceKey, query, topK)
		if err != nil {
			return mcpError(errkind.KindOf(err), "search failed: %v", err), nil
		}

		return mcpJSON(searchResponse{
			Query:    query,
			SpaceKey: spaceKey,
			Results:  toSearchResults(results),
		})
	}
}

func mcpSyncKnowledgeSource(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		spaceKey, err := req.RequireString("space_key")
		if err != nil {
			return mcpError(errkind.InvalidArgument, "space_key is required"), nil
		}
		full := req.GetBool("full_sync", false)

		sum, err := deps.Syncer.Run(ctx, spaceKey, full)
		if err != nil {
			return mcpError(errkind.KindOf(err), "sync failed: %v", err), nil
		}

		return mcpJSON(toSyncResponse(sum))
	}
}

func mcpGetSpaceInfo(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		infos, err := spaceInfos(ctx, deps)
		if err != nil {
			return mcpError(errkind.KindOf(err), "listing spaces failed: %v", err), nil
		}
		return mcpJSON(infos)
	}
}

func mcpGetRecentUpdates(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		days := req.GetInt("days", 7)
		if days <= 0 {
			return mcpError(errkind.InvalidArgument, "days must be positive"), nil
		}
		limit := req.GetInt("limit", 20)
		if limit <= 0 {
			return mcpError(errkind.InvalidArgument, "limit must be positive"), nil
		}
		if limit > 100 {
			limit = 100
		}

		updates, err := recentUpdates(ctx, deps, days, limit)
		if err != nil {
			return mcpError(errkind.KindOf(err), "listing recent updates failed: %v", err), nil
		}
		return mcpJSON(updates)
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(errkind.InvalidArgument, "failed to marshal result: %v", err), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
		IsError: false,
	}
}

// mcpError returns a structured error result so callers always receive a
// parseable payload.
func mcpError(kind errkind.Kind, format string, args ...any) *mcp.CallToolResult {
	body, err := json.Marshal(map[string]any{
		"error": map[string]any{
			"kind":    string(kind),
			"message": fmt.Sprintf(format, args...),
		},
	})
	if err != nil {
		body = []byte(fmt.Sprintf(`{"error":{"kind":%q,"message":"internal error"}}`, kind))
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: string(body)},
		},
		IsError: true,
	}
}

// spaceInfos merges the wiki's space listing with per-space page counts
// from the ledger.
func spaceInfos(ctx context.Context, deps Deps) ([]spaceInfo, error) {
	spaces, err := deps.Source.ListSpaces(ctx)
	if err != nil {
		return nil, err
	}
	infos := make([]spaceInfo, 0, len(spaces))
	for _, sp := range spaces {
		count, err := deps.Ledger.CountPages(sp.Key)
		if err != nil {
			return nil, err
		}
		infos = append(infos, spaceInfo{
			SpaceKey:  sp.Key,
			Name:      sp.Name,
			PageCount: count,
		})
	}
	return infos, nil
}

func recentUpdates(ctx context.Context, deps Deps, days, limit int) ([]recentUpdate, error) {
	since := time.Now().UTC().AddDate(0, 0, -days)
	headers, err := deps.Source.RecentlyUpdated(ctx, since, limit)
	if err != nil {
		return nil, err
	}
	updates := make([]recentUpdate, 0, len(headers))
	for _, h := range headers {
		updates = append(updates, recentUpdate{
			PageID:       h.ID,
			Title:        h.Title,
			URL:          h.URL,
			LastModified: h.LastModified.UTC().Format(time.RFC3339),
		})
	}
	return updates, nil
}
