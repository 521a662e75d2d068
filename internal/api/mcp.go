package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/pim/internal/inject"
	"github.com/kalambet/pim/internal/settings"
	"github.com/kalambet/pim/internal/storage"
)

// NewMCPServer creates an MCP server exposing the injection admin operations.
func NewMCPServer(deps Deps) *server.MCPServer {
	if deps.Runs == nil {
		deps.Runs = NewRunGroup(deps.Assigner)
	}

	s := server.NewMCPServer(
		"pim",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("pim: assigns each article a category-linked message once and splices it between paragraphs at render time."),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("run_batch",
			mcp.WithDescription("Assign fragments to the next batch of unprocessed items."),
			mcp.WithNumber("limit", mcp.Description("Maximum number of items to process (default from server config)")),
		),
		mcpRunBatch(deps),
	)

	s.AddTool(
		mcp.NewTool("reset_injections",
			mcp.WithDescription("Remove every stored fragment and empty the processed set."),
			mcp.WithString("confirm", mcp.Description("Must be the literal text "+inject.ResetConfirmation), mcp.Required()),
		),
		mcpResetInjections(deps),
	)

	s.AddTool(
		mcp.NewTool("injection_status",
			mcp.WithDescription("Report how many items are processed, remaining, injected, existing and skipped."),
		),
		mcpInjectionStatus(deps),
	)

	s.AddTool(
		mcp.NewTool("get_settings",
			mcp.WithDescription("Show the message template and paragraph interval."),
		),
		mcpGetSettings(deps),
	)

	s.AddTool(
		mcp.NewTool("set_settings",
			mcp.WithDescription("Update the message template and/or paragraph interval. The template may contain {category}."),
			mcp.WithString("template", mcp.Description("Message template")),
			mcp.WithNumber("interval", mcp.Description("Insert after every Nth paragraph (at least 1)")),
		),
		mcpSetSettings(deps),
	)

	s.AddTool(
		mcp.NewTool("render_item",
			mcp.WithDescription("Return an item's markup with its fragment spliced in."),
			mcp.WithString("item_id", mcp.Description("Item id"), mcp.Required()),
			mcp.WithString("markup", mcp.Description("Markup to splice into instead of the stored markup")),
		),
		mcpRenderItem(deps),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			"taxonomy://categories",
			"Categories",
			mcp.WithResourceDescription("Category tree, depth-first, with canonical links"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceCategories(deps),
	)

	return s
}

func mcpRunBatch(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", deps.BatchLimit)
		if limit <= 0 {
			limit = deps.BatchLimit
		}

		res, _, err := deps.Runs.Run(ctx, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("batch run failed: %v", err)), nil
		}
		if res.Processed == 0 {
			return mcpText("Nothing to do: every item has been processed."), nil
		}
		return mcpJSON(res)
	}
}

func mcpResetInjections(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		confirm, err := req.RequireString("confirm")
		if err != nil {
			return mcpError("confirm is required"), nil
		}

		res, err := deps.Assigner.Reset(ctx, confirm)
		if errors.Is(err, inject.ErrConfirmationRequired) {
			return mcpError(err.Error()), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("reset failed: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Cleared %d fragments and %d processed entries", res.Fragments, res.Processed)), nil
	}
}

func mcpInjectionStatus(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		st, err := deps.Assigner.Status()
		if err != nil {
			return mcpError(fmt.Sprintf("failed to get status: %v", err)), nil
		}
		return mcpJSON(st)
	}
}

func mcpGetSettings(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		s, err := deps.Settings.Get()
		if err != nil {
			return mcpError(fmt.Sprintf("failed to get settings: %v", err)), nil
		}
		return mcpJSON(s)
	}
}

func mcpSetSettings(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		cur, err := deps.Settings.Get()
		if err != nil {
			return mcpError(fmt.Sprintf("failed to get settings: %v", err)), nil
		}

		next := settings.Settings{
			Template: req.GetString("template", cur.Template),
			Interval: req.GetInt("interval", cur.Interval),
		}
		saved, err := deps.Settings.Set(next)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to save settings: %v", err)), nil
		}
		return mcpJSON(saved)
	}
}

func mcpRenderItem(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("item_id")
		if err != nil {
			return mcpError("item_id is required"), nil
		}

		markup := req.GetString("markup", "")
		if markup == "" {
			it, err := deps.Store.GetItem(id)
			if errors.Is(err, storage.ErrNotFound) {
				return mcpError(fmt.Sprintf("item %s not found", id)), nil
			}
			if err != nil {
				return mcpError(fmt.Sprintf("failed to get item: %v", err)), nil
			}
			markup = it.Markup
		}

		out, err := deps.Display.Splice(id, markup)
		if err != nil {
			return mcpError(fmt.Sprintf("splice failed: %v", err)), nil
		}
		return mcpText(out), nil
	}
}

func mcpResourceCategories(deps Deps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		nodes, err := listCategoryNodes(deps, "")
		if err != nil {
			return nil, fmt.Errorf("failed to list categories: %w", err)
		}

		b, err := json.Marshal(nodes)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal categories: %w", err)
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

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
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
