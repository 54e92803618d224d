package nl2sql

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/abhiyan52/ClarityQL/internal/ast"
	"github.com/abhiyan52/ClarityQL/internal/conversation"
	"github.com/abhiyan52/ClarityQL/internal/schema"
)

func TestStripMarkdownFence(t *testing.T) {
	got := stripMarkdownFence("```json\n{\"intent\":\"refine\"}\n```")
	if got != `{"intent":"refine"}` {
		t.Fatalf("stripMarkdownFence() = %q", got)
	}
	if got := stripMarkdownFence("  {}  "); got != "{}" {
		t.Fatalf("stripMarkdownFence() = %q", got)
	}
}

func TestParseSendsSchemaAndDecodesAnswer(t *testing.T) {
	reg := mustRegistry(t)
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Authorization = %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		writeCompletion(t, w, "```json\n{\"intent\":\"refine\",\"ast\":{\"dimensions\":[{\"field\":\"product_line\"}],\"limit\":5}}\n```")
	}))
	defer server.Close()

	parser, err := NewOpenAIParser(OpenAIConfig{BaseURL: server.URL + "/", APIKey: "secret", Model: "test-model"}, reg)
	if err != nil {
		t.Fatalf("NewOpenAIParser() error = %v", err)
	}
	previous := ast.Query{Metrics: []ast.Metric{{Function: ast.Sum, Field: "quantity"}}}
	result, err := parser.Parse(context.Background(), Request{Question: "break it down by product line", PreviousAST: &previous})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if result.Intent != conversation.IntentRefine {
		t.Fatalf("Intent = %q", result.Intent)
	}
	if len(result.AST.Dimensions) != 1 || result.AST.Dimensions[0].Field != "product_line" {
		t.Fatalf("AST.Dimensions = %#v", result.AST.Dimensions)
	}
	if !result.AST.Limit.Explicit() || result.AST.Limit.Value != 5 {
		t.Fatalf("AST.Limit = %#v", result.AST.Limit)
	}
	if result.Model != "test-model" || result.Provider != "openai-compatible" {
		t.Fatalf("result = %#v", result)
	}

	if captured["model"] != "test-model" {
		t.Fatalf("payload model = %#v", captured["model"])
	}
	messages, _ := captured["messages"].([]any)
	if len(messages) != 2 {
		t.Fatalf("messages = %#v", captured["messages"])
	}
	user, _ := messages[1].(map[string]any)
	content, _ := user["content"].(string)
	for _, want := range []string{"orders.quantity", "products.product_line", "Enterprise", `"function":"sum"`, `"default"`, "break it down by product line"} {
		if !strings.Contains(content, want) {
			t.Fatalf("user prompt missing %q:\n%s", want, content)
		}
	}
}

func TestParseRejectsInvalidAnswers(t *testing.T) {
	tests := map[string]string{
		"not json":       "SELECT * FROM orders",
		"unknown intent": `{"intent":"chart","ast":{}}`,
		"unknown key":    `{"intent":"refine","ast":{"charts":[]}}`,
		"bad function":   `{"intent":"refine","ast":{"metrics":[{"function":"median","field":"quantity"}]}}`,
		"empty":          "   ",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				writeCompletion(t, w, content)
			}))
			defer server.Close()

			parser, err := NewOpenAIParser(OpenAIConfig{BaseURL: server.URL, APIKey: "secret"}, mustRegistry(t))
			if err != nil {
				t.Fatalf("NewOpenAIParser() error = %v", err)
			}
			_, err = parser.Parse(context.Background(), Request{Question: "q"})
			if !errors.Is(err, ErrUnparseable) {
				t.Fatalf("Parse() error = %v, want ErrUnparseable", err)
			}
		})
	}
}

func TestParseResetWithoutAST(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeCompletion(t, w, `{"intent":"reset"}`)
	}))
	defer server.Close()

	parser, err := NewOpenAIParser(OpenAIConfig{BaseURL: server.URL, APIKey: "secret"}, mustRegistry(t))
	if err != nil {
		t.Fatalf("NewOpenAIParser() error = %v", err)
	}
	result, err := parser.Parse(context.Background(), Request{Question: "start over"})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if result.Intent != conversation.IntentReset || len(result.AST.Metrics) != 0 || len(result.AST.Dimensions) != 0 {
		t.Fatalf("result = %#v", result)
	}
}

func TestParseSurfacesUpstreamStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer server.Close()

	parser, err := NewOpenAIParser(OpenAIConfig{BaseURL: server.URL, APIKey: "secret"}, mustRegistry(t))
	if err != nil {
		t.Fatalf("NewOpenAIParser() error = %v", err)
	}
	_, err = parser.Parse(context.Background(), Request{Question: "q"})
	if err == nil || !strings.Contains(err.Error(), "status=429") {
		t.Fatalf("Parse() error = %v", err)
	}
	if errors.Is(err, ErrUnparseable) {
		t.Fatal("upstream failures are not parse failures")
	}
}

func TestNewOpenAIParserValidatesConfig(t *testing.T) {
	reg := mustRegistry(t)
	if _, err := NewOpenAIParser(OpenAIConfig{APIKey: "k"}, reg); err == nil {
		t.Fatal("expected error for missing base URL")
	}
	if _, err := NewOpenAIParser(OpenAIConfig{BaseURL: "http://x"}, reg); err == nil {
		t.Fatal("expected error for missing api key")
	}
	if _, err := NewOpenAIParser(OpenAIConfig{BaseURL: "http://x", APIKey: "k"}, nil); err == nil {
		t.Fatal("expected error for missing registry")
	}
}

func mustRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	reg, err := schema.Default()
	if err != nil {
		t.Fatalf("schema.Default() error = %v", err)
	}
	return reg
}

func writeCompletion(t *testing.T, w http.ResponseWriter, content string) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{
		"choices": []map[string]any{{"message": map[string]string{"content": content}}},
	}); err != nil {
		t.Errorf("encode completion: %v", err)
	}
}
