package api

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/pim/internal/inject"
	"github.com/kalambet/pim/internal/settings"
)

// --- helpers ---

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func callTool(t *testing.T, h func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	result, err := h(context.Background(), makeCallToolRequest(name, args))
	if err != nil {
		t.Fatalf("%s: unexpected error: %v", name, err)
	}
	return result
}

// --- tests ---

func TestNewMCPServer(t *testing.T) {
	deps, _ := newTestDeps(t)
	if NewMCPServer(deps) == nil {
		t.Fatal("NewMCPServer returned nil")
	}
}

func TestMCPTool_RunBatch(t *testing.T) {
	deps, store := newTestDeps(t)
	seedCategory(t, store, "news", "News", "")
	seedItem(t, store, "a", "<p>1</p>", "news")
	seedItem(t, store, "b", "<p>1</p>", "news")

	result := callTool(t, mcpRunBatch(deps), "run_batch", map[string]interface{}{"limit": 1})
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	var res inject.BatchResult
	if err := json.Unmarshal([]byte(toolText(t, result)), &res); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if res.Processed != 1 || res.Injected != 1 {
		t.Errorf("result = %+v, want 1 processed and injected", res)
	}

	callTool(t, mcpRunBatch(deps), "run_batch", nil)
	result = callTool(t, mcpRunBatch(deps), "run_batch", nil)
	if text := toolText(t, result); !strings.HasPrefix(text, "Nothing to do") {
		t.Errorf("drained run text = %q", text)
	}
}

func TestMCPTool_ResetInjections(t *testing.T) {
	deps, store := newTestDeps(t)
	seedCategory(t, store, "news", "News", "")
	seedItem(t, store, "a", "<p>1</p>", "news")
	callTool(t, mcpRunBatch(deps), "run_batch", nil)

	result := callTool(t, mcpResetInjections(deps), "reset_injections", map[string]interface{}{"confirm": "please"})
	if !result.IsError {
		t.Fatal("expected error for wrong confirmation")
	}
	result = callTool(t, mcpResetInjections(deps), "reset_injections", nil)
	if !result.IsError {
		t.Fatal("expected error for missing confirmation")
	}

	result = callTool(t, mcpResetInjections(deps), "reset_injections", map[string]interface{}{"confirm": "DELETE"})
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	if f, _ := store.GetItemFragment("a"); f != "" {
		t.Errorf("fragment = %q after reset, want empty", f)
	}
}

func TestMCPTool_InjectionStatus(t *testing.T) {
	deps, store := newTestDeps(t)
	seedItem(t, store, "a", "<p>1</p>")

	result := callTool(t, mcpInjectionStatus(deps), "injection_status", nil)
	var st inject.Status
	if err := json.Unmarshal([]byte(toolText(t, result)), &st); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if st.Total != 1 || st.Remaining != 1 {
		t.Errorf("status = %+v, want 1 total and remaining", st)
	}
}

func TestMCPTool_Settings(t *testing.T) {
	deps, _ := newTestDeps(t)

	result := callTool(t, mcpSetSettings(deps), "set_settings", map[string]interface{}{"interval": 4})
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}

	result = callTool(t, mcpGetSettings(deps), "get_settings", nil)
	var s settings.Settings
	if err := json.Unmarshal([]byte(toolText(t, result)), &s); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if s.Interval != 4 || s.Template != settings.DefaultTemplate {
		t.Errorf("settings = %+v, want interval 4 with default template kept", s)
	}

	result = callTool(t, mcpSetSettings(deps), "set_settings", map[string]interface{}{"interval": 0})
	if !result.IsError {
		t.Error("expected error for interval 0")
	}
}

func TestMCPTool_RenderItem(t *testing.T) {
	deps, store := newTestDeps(t)
	seedCategory(t, store, "news", "News", "")
	seedItem(t, store, "a", "<p>1</p><p>2</p>", "news")
	if _, err := deps.Settings.Set(settings.Settings{Template: "{category}", Interval: 1}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	callTool(t, mcpRunBatch(deps), "run_batch", nil)

	result := callTool(t, mcpRenderItem(deps), "render_item", map[string]interface{}{"item_id": "a"})
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	if n := strings.Count(toolText(t, result), `title="News"`); n != 2 {
		t.Errorf("rendered %d fragments, want 2", n)
	}

	result = callTool(t, mcpRenderItem(deps), "render_item", map[string]interface{}{"item_id": "a", "markup": "<p>x</p><p>y</p><p>z</p>"})
	if n := strings.Count(toolText(t, result), `title="News"`); n != 3 {
		t.Errorf("rendered %d fragments into supplied markup, want 3", n)
	}

	result = callTool(t, mcpRenderItem(deps), "render_item", map[string]interface{}{"item_id": "missing"})
	if !result.IsError {
		t.Error("expected error for unknown item")
	}
}

func TestMCPResource_Categories(t *testing.T) {
	deps, store := newTestDeps(t)
	seedCategory(t, store, "news", "News", "")
	seedCategory(t, store, "local", "Local", "news")

	req := mcp.ReadResourceRequest{Params: mcp.ReadResourceParams{URI: "taxonomy://categories"}}
	contents, err := mcpResourceCategories(deps)(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("got %d contents, want 1", len(contents))
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}

	var nodes []CategoryNode
	if err := json.Unmarshal([]byte(tc.Text), &nodes); err != nil {
		t.Fatalf("failed to parse resource: %v", err)
	}
	if len(nodes) != 2 || nodes[0].ID != "news" || nodes[1].Depth != 1 {
		t.Errorf("nodes = %+v", nodes)
	}
}
