package nl2sql

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/abhiyan52/ClarityQL/internal/ast"
	"github.com/abhiyan52/ClarityQL/internal/conversation"
	"github.com/abhiyan52/ClarityQL/internal/observability"
	"github.com/abhiyan52/ClarityQL/internal/schema"
)

type OpenAIConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

type OpenAIParser struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	registry    *schema.Registry
	client      *http.Client
}

func NewOpenAIParser(cfg OpenAIConfig, reg *schema.Registry) (*OpenAIParser, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if reg == nil {
		return nil, fmt.Errorf("schema registry is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gpt-5"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &OpenAIParser{
		baseURL:     strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:      strings.TrimSpace(cfg.APIKey),
		model:       model,
		temperature: cfg.Temperature,
		registry:    reg,
		client:      &http.Client{Timeout: timeout},
	}, nil
}

func (p *OpenAIParser) Parse(ctx context.Context, req Request) (ParseResult, error) {
	if strings.TrimSpace(req.Question) == "" {
		return ParseResult{}, fmt.Errorf("question is required")
	}
	started := time.Now()
	defer func() { observability.ObserveParse(time.Since(started)) }()

	promptPayload, err := buildOpenAIPayload(p.model, p.temperature, p.registry, req)
	if err != nil {
		return ParseResult{}, err
	}
	body, err := json.Marshal(promptPayload)
	if err != nil {
		return ParseResult{}, fmt.Errorf("marshal chat payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return ParseResult{}, fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return ParseResult{}, fmt.Errorf("request chat completion: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	rawRespBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return ParseResult{}, fmt.Errorf("read chat response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return ParseResult{}, fmt.Errorf("chat completion failed status=%d body=%s", resp.StatusCode, string(rawRespBody))
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(rawRespBody, &parsed); err != nil {
		return ParseResult{}, fmt.Errorf("decode chat completion response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return ParseResult{}, fmt.Errorf("empty chat completion choices")
	}

	query, intent, err := decodeAnswer(parsed.Choices[0].Message.Content)
	if err != nil {
		return ParseResult{}, err
	}
	return ParseResult{
		AST:      query,
		Intent:   intent,
		Provider: "openai-compatible",
		Model:    p.model,
	}, nil
}

// decodeAnswer reads {"intent": ..., "ast": {...}} from the model output.
func decodeAnswer(content string) (ast.Query, conversation.Intent, error) {
	raw := stripMarkdownFence(content)
	if raw == "" {
		return ast.Query{}, "", fmt.Errorf("%w: empty answer", ErrUnparseable)
	}
	var answer struct {
		Intent string          `json:"intent"`
		AST    json.RawMessage `json:"ast"`
	}
	if err := json.Unmarshal([]byte(raw), &answer); err != nil {
		return ast.Query{}, "", fmt.Errorf("%w: %v", ErrUnparseable, err)
	}
	intent, err := conversation.ParseIntent(answer.Intent)
	if err != nil {
		return ast.Query{}, "", fmt.Errorf("%w: %v", ErrUnparseable, err)
	}
	if len(answer.AST) == 0 || string(answer.AST) == "null" {
		return ast.Empty(), intent, nil
	}
	query, err := ast.Decode(answer.AST)
	if err != nil {
		return ast.Query{}, "", fmt.Errorf("%w: %v", ErrUnparseable, err)
	}
	return query, intent, nil
}

type promptField struct {
	Ref           string   `json:"ref"`
	Type          string   `json:"type"`
	Aggregatable  bool     `json:"aggregatable,omitempty"`
	Description   string   `json:"description,omitempty"`
	AllowedValues []string `json:"allowed_values,omitempty"`
}

func buildOpenAIPayload(model string, temperature float64, reg *schema.Registry, req Request) (map[string]any, error) {
	fields := make([]promptField, 0)
	for _, field := range reg.Fields() {
		fields = append(fields, promptField{
			Ref:           field.Ref(),
			Type:          string(field.Type),
			Aggregatable:  field.Aggregatable,
			Description:   field.Description,
			AllowedValues: field.AllowedValues,
		})
	}
	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("marshal field context: %w", err)
	}
	previousJSON := []byte("null")
	if req.PreviousAST != nil {
		previousJSON, err = json.Marshal(req.PreviousAST)
		if err != nil {
			return nil, fmt.Errorf("marshal previous query: %w", err)
		}
	}

	systemPrompt := "You translate analytics questions into a JSON query description. " +
		"Never write SQL. " +
		"Return ONLY a JSON object of the form {\"intent\": \"refine\"|\"reset\", \"ast\": {...}}. No markdown, no explanation."
	userPrompt := fmt.Sprintf(
		"Available fields (JSON):\n%s\n\nPrevious query (JSON, null when none):\n%s\n\nQuestion:\n%s\n\n"+
			"AST contract:\n"+
			"- metrics: [{\"function\": sum|count|count_distinct|avg|min|max, \"field\": ref, \"alias\"?}]\n"+
			"- dimensions: [{\"field\": ref, \"alias\"?}]\n"+
			"- filters: [{\"field\": ref, \"operator\": eq|neq|gt|gte|lt|lte|between|in|not_in|like|is_null|not_null, \"value\"?}]\n"+
			"- order_by: [{\"field\": ref or output name, \"direction\": asc|desc}]\n"+
			"- limit: integer; \"default\" when the user asks to go back to the standard row count; omit it otherwise\n"+
			"Rules:\n"+
			"- Use only the listed field refs.\n"+
			"- For a follow-up, return only what changes (the delta) with intent refine.\n"+
			"- Use intent reset when the question starts an unrelated analysis.\n"+
			"- Use only allowed_values for fields that list them.",
		string(fieldsJSON),
		string(previousJSON),
		strings.TrimSpace(req.Question),
	)

	return map[string]any{
		"model": model,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": userPrompt},
		},
		"temperature":     temperature,
		"response_format": map[string]string{"type": "json_object"},
	}, nil
}

func stripMarkdownFence(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(trimmed, "```")
		return strings.TrimSpace(trimmed)
	}
	return trimmed
}
