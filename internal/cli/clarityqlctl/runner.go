// Package clarityqlctl implements the command line client for the ClarityQL
// API.
package clarityqlctl

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

const compileConcurrency = 4

type Options struct {
	BaseURL    string
	APIKey     string
	TenantID   string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdin      io.Reader
	Stdout     io.Writer
	Stderr     io.Writer
	// ReadFile loads AST documents for compile; defaults to os.ReadFile.
	ReadFile func(name string) ([]byte, error)
}

type client struct {
	http     *http.Client
	baseURL  string
	apiKey   string
	tenantID string
}

func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	fs := flag.NewFlagSet("clarityqlctl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	baseURL := fs.String("base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "ClarityQL API base URL")
	apiKey := fs.String("api-key", defaults.APIKey, "API key for authenticated requests")
	tenantID := fs.String("tenant-id", defaults.TenantID, "Tenant ID header (used when auth is disabled)")
	timeout := fs.Duration("timeout", durationOr(defaults.Timeout, 30*time.Second), "HTTP timeout (e.g. 10s)")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		writeUsage(stderr)
		return 2
	}

	httpClient := defaults.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: *timeout}
	}
	c := client{
		http:     httpClient,
		baseURL:  strings.TrimRight(*baseURL, "/"),
		apiKey:   strings.TrimSpace(*apiKey),
		tenantID: strings.TrimSpace(*tenantID),
	}

	command := strings.TrimSpace(fs.Arg(0))
	rest := fs.Args()[1:]
	switch command {
	case "health":
		return c.simple(ctx, http.MethodGet, "/v1/health", stdout, stderr)
	case "ready":
		return c.simple(ctx, http.MethodGet, "/v1/ready", stdout, stderr)
	case "schema":
		return c.simple(ctx, http.MethodGet, "/v1/schema", stdout, stderr)
	case "conversation", "reset":
		if len(rest) != 1 || strings.TrimSpace(rest[0]) == "" {
			_, _ = fmt.Fprintf(stderr, "%s requires exactly one conversation id\n", command)
			return 2
		}
		method := http.MethodGet
		if command == "reset" {
			method = http.MethodDelete
		}
		return c.simple(ctx, method, "/v1/nlq/conversations/"+url.PathEscape(strings.TrimSpace(rest[0])), stdout, stderr)
	case "ask":
		return c.ask(ctx, rest, stdout, stderr)
	case "compile":
		readFile := defaults.ReadFile
		if readFile == nil {
			readFile = os.ReadFile
		}
		stdin := defaults.Stdin
		if stdin == nil {
			stdin = os.Stdin
		}
		return c.compile(ctx, rest, readFile, stdin, stdout, stderr)
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n", command)
		writeUsage(stderr)
		return 2
	}
}

func (c client) simple(ctx context.Context, method, path string, stdout, stderr io.Writer) int {
	code, body, err := c.do(ctx, method, path, nil)
	return report(code, body, err, stdout, stderr)
}

func (c client) ask(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("ask", flag.ContinueOnError)
	fs.SetOutput(stderr)
	conversationID := fs.String("conversation", "", "conversation id to continue")
	intent := fs.String("intent", "", "refine or reset")
	execute := fs.Bool("execute", false, "run the compiled query against the dataset")
	rowLimit := fs.Int("row-limit", 0, "maximum rows to return when executing")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	question := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if question == "" {
		_, _ = fmt.Fprintln(stderr, "ask requires a question")
		return 2
	}

	payload, err := json.Marshal(map[string]any{
		"conversation_id": strings.TrimSpace(*conversationID),
		"question":        question,
		"intent":          strings.TrimSpace(*intent),
		"execute":         *execute,
		"row_limit":       *rowLimit,
	})
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "encode request: %v\n", err)
		return 1
	}
	code, body, err := c.do(ctx, http.MethodPost, "/v1/nlq/query", payload)
	return report(code, body, err, stdout, stderr)
}

// compile sends every AST document to the stateless compile endpoint in
// parallel and prints the results in argument order. "-" reads stdin.
func (c client) compile(ctx context.Context, args []string, readFile func(string) ([]byte, error), stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("compile", flag.ContinueOnError)
	fs.SetOutput(stderr)
	previousPath := fs.String("previous", "", "AST document to merge the inputs onto")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	inputs := fs.Args()
	if len(inputs) == 0 {
		_, _ = fmt.Fprintln(stderr, "compile requires at least one AST file")
		return 2
	}

	var previous json.RawMessage
	if *previousPath != "" {
		raw, err := readFile(*previousPath)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "read %s: %v\n", *previousPath, err)
			return 1
		}
		previous = raw
	}

	documents := make([][]byte, len(inputs))
	for i, name := range inputs {
		var (
			raw []byte
			err error
		)
		if name == "-" {
			raw, err = io.ReadAll(stdin)
		} else {
			raw, err = readFile(name)
		}
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "read %s: %v\n", name, err)
			return 1
		}
		documents[i] = raw
	}

	type outcome struct {
		code int
		body []byte
	}
	results := make([]outcome, len(documents))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(compileConcurrency)
	for i, document := range documents {
		group.Go(func() error {
			payload, err := json.Marshal(map[string]json.RawMessage{
				"previous_ast": previousOrNull(previous),
				"ast":          json.RawMessage(document),
			})
			if err != nil {
				return fmt.Errorf("%s: encode request: %w", inputs[i], err)
			}
			code, body, err := c.do(groupCtx, http.MethodPost, "/v1/nlq/compile", payload)
			if err != nil {
				return fmt.Errorf("%s: %w", inputs[i], err)
			}
			results[i] = outcome{code: code, body: body}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}

	exit := 0
	for i, result := range results {
		if len(results) > 1 {
			_, _ = fmt.Fprintf(stdout, "# %s\n", inputs[i])
		}
		if report(result.code, result.body, nil, stdout, stderr) != 0 {
			exit = 1
		}
	}
	return exit
}

func previousOrNull(previous json.RawMessage) json.RawMessage {
	if len(bytes.TrimSpace(previous)) == 0 {
		return json.RawMessage("null")
	}
	return previous
}

func (c client) do(ctx context.Context, method, path string, payload []byte) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	if c.tenantID != "" {
		req.Header.Set("X-Tenant-ID", c.tenantID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, responseBody, nil
}

func report(code int, body []byte, err error, stdout, stderr io.Writer) int {
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}
	if code >= 400 {
		_, _ = fmt.Fprintf(stderr, "http %d: %s\n", code, strings.TrimSpace(string(body)))
		return 1
	}
	if pretty, ok := prettyJSON(body); ok {
		_, _ = fmt.Fprintln(stdout, pretty)
		return 0
	}
	if len(body) > 0 {
		_, _ = fmt.Fprintln(stdout, string(body))
	}
	return 0
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func writeUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: clarityqlctl [flags] <command> [args]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  health                       GET /v1/health")
	_, _ = fmt.Fprintln(w, "  ready                        GET /v1/ready")
	_, _ = fmt.Fprintln(w, "  schema                       GET /v1/schema")
	_, _ = fmt.Fprintln(w, "  ask [-conversation id] [-execute] <question>")
	_, _ = fmt.Fprintln(w, "                               POST /v1/nlq/query")
	_, _ = fmt.Fprintln(w, "  compile [-previous f] <f>... POST /v1/nlq/compile per AST file")
	_, _ = fmt.Fprintln(w, "  conversation <id>            GET /v1/nlq/conversations/{id}")
	_, _ = fmt.Fprintln(w, "  reset <id>                   DELETE /v1/nlq/conversations/{id}")
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
