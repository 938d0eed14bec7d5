package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

// ════════════════════════════════════════════════════════════════════
// Registry
// ════════════════════════════════════════════════════════════════════

func TestToolRegistryBasic(t *testing.T) {
	reg := NewToolRegistry()
	if reg.Count() != 0 {
		t.Fatal("new registry should be empty")
	}

	reg.Register(Tool{Name: "b_tool", Handler: func(context.Context, json.RawMessage) (string, error) { return "b", nil }})
	reg.Register(Tool{Name: "a_tool", Handler: func(context.Context, json.RawMessage) (string, error) { return "a", nil }})

	if reg.Count() != 2 {
		t.Fatalf("count: got %d", reg.Count())
	}
	if tool, ok := reg.Get("a_tool"); !ok || tool.Name != "a_tool" {
		t.Fatal("Get failed")
	}
	if _, ok := reg.Get("nonexistent"); ok {
		t.Fatal("should not find nonexistent")
	}
	names := reg.Names()
	if len(names) != 2 || names[0] != "a_tool" || names[1] != "b_tool" {
		t.Fatalf("Names should be sorted: got %v", names)
	}
}

func TestToolRegistryExecute(t *testing.T) {
	reg := NewToolRegistry()
	reg.Register(Tool{
		Name: "echo",
		Handler: func(_ context.Context, args json.RawMessage) (string, error) {
			return string(args), nil
		},
	})

	result, err := reg.Execute(context.Background(), ToolCall{ID: "1", Name: "echo", Arguments: json.RawMessage(`"hello"`)})
	if err != nil || result != `"hello"` {
		t.Fatalf("Execute: got %q, err=%v", result, err)
	}

	_, err = reg.Execute(context.Background(), ToolCall{ID: "2", Name: "missing"})
	if !errors.Is(err, ErrToolNotFound) {
		t.Fatalf("expected ErrToolNotFound, got: %v", err)
	}

	reg.Register(Tool{Name: "nohandler"})
	_, err = reg.Execute(context.Background(), ToolCall{ID: "3", Name: "nohandler"})
	if err == nil || !strings.Contains(err.Error(), "no handler") {
		t.Fatalf("expected no handler error, got: %v", err)
	}
}

func TestToolRegistryExecuteAll(t *testing.T) {
	reg := NewToolRegistry()
	reg.Register(Tool{
		Name: "slow",
		Handler: func(context.Context, json.RawMessage) (string, error) {
			time.Sleep(10 * time.Millisecond)
			return "done", nil
		},
	})
	reg.Register(Tool{
		Name: "broken",
		Handler: func(context.Context, json.RawMessage) (string, error) {
			return "", fmt.Errorf("boom")
		},
	})

	results := reg.ExecuteAll(context.Background(), []ToolCall{
		{ID: "1", Name: "slow"},
		{ID: "2", Name: "broken"},
		{ID: "3", Name: "missing"},
	})
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].Content != "done" || results[0].ToolCallID != "1" {
		t.Fatalf("unexpected first result: %+v", results[0])
	}
	if results[1].Err == nil || !strings.Contains(results[1].Text(), "boom") {
		t.Fatalf("error result should carry the failure: %+v", results[1])
	}
	if !errors.Is(results[2].Err, ErrToolNotFound) {
		t.Fatalf("missing tool should fail alone: %+v", results[2])
	}
}

func TestToolResultText(t *testing.T) {
	tr := ToolResult{ToolCallID: "c1", Name: "fn", Content: "result"}
	if tr.Text() != "result" {
		t.Fatalf("success Text: %q", tr.Text())
	}
	tr = ToolResult{ToolCallID: "c2", Name: "fn", Err: fmt.Errorf("boom")}
	if got := tr.Text(); !strings.Contains(got, "Error") || !strings.Contains(got, "boom") {
		t.Fatalf("error Text: %q", got)
	}
}

func TestToolRegistryConcurrency(t *testing.T) {
	reg := NewToolRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			name := fmt.Sprintf("tool_%d", n)
			reg.Register(Tool{Name: name})
			reg.Get(name)
			reg.Names()
			reg.List()
			reg.Count()
		}(i)
	}
	wg.Wait()
	if reg.Count() != 100 {
		t.Fatalf("expected 100 tools, got %d", reg.Count())
	}
}

func TestJSONSchemaHelpers(t *testing.T) {
	schema := ObjectSchema("Test params",
		map[string]*JSONSchema{
			"identifier": StringProp("Company"),
			"limit":      IntProp("Max"),
			"hint":       EnumProp("Kind", "cik", "lei"),
		},
		"identifier",
	)
	data, err := json.Marshal(schema)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["type"] != "object" {
		t.Fatalf("type: got %v", decoded["type"])
	}
	props := decoded["properties"].(map[string]any)
	hint := props["hint"].(map[string]any)
	if enum := hint["enum"].([]any); len(enum) != 2 || enum[0] != "cik" {
		t.Fatalf("enum: got %v", hint["enum"])
	}
	if req := decoded["required"].([]any); len(req) != 1 || req[0] != "identifier" {
		t.Fatalf("required: got %v", decoded["required"])
	}
}
