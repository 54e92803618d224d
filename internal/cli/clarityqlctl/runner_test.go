package clarityqlctl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestRunSchemaCommand(t *testing.T) {
	var gotMethod, gotPath, gotAPIKey, gotTenant string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotAPIKey = r.Header.Get("X-API-Key")
		gotTenant = r.Header.Get("X-Tenant-ID")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"tables":[],"max_limit":1000}`))
	}))
	defer srv.Close()

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	code := Run(context.Background(), []string{
		"-base-url", srv.URL,
		"-api-key", "k1",
		"-tenant-id", "tenant-a",
		"schema",
	}, Options{
		Stdout:  &stdout,
		Stderr:  &stderr,
		Timeout: 2 * time.Second,
	})
	if code != 0 {
		t.Fatalf("exit code = %d, stderr=%s", code, stderr.String())
	}
	if gotMethod != http.MethodGet || gotPath != "/v1/schema" {
		t.Fatalf("request = %s %s", gotMethod, gotPath)
	}
	if gotAPIKey != "k1" || gotTenant != "tenant-a" {
		t.Fatalf("headers api_key=%q tenant=%q", gotAPIKey, gotTenant)
	}
	if !strings.Contains(stdout.String(), `"max_limit": 1000`) {
		t.Fatalf("stdout = %s", stdout.String())
	}
}

func TestRunAskCommandPostsQuestion(t *testing.T) {
	var got map[string]any
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		_, _ = w.Write([]byte(`{"conversation_id":"c1","query_count":1}`))
	}))
	defer srv.Close()

	var stdout bytes.Buffer
	code := Run(context.Background(), []string{
		"-base-url", srv.URL,
		"ask", "-conversation", "c1", "-execute", "-row-limit", "20",
		"revenue", "by", "region",
	}, Options{Stdout: &stdout})
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if gotPath != "/v1/nlq/query" {
		t.Fatalf("path = %s", gotPath)
	}
	if got["question"] != "revenue by region" || got["conversation_id"] != "c1" || got["execute"] != true || got["row_limit"] != float64(20) {
		t.Fatalf("payload = %#v", got)
	}
}

func TestRunAskRequiresQuestion(t *testing.T) {
	var stderr bytes.Buffer
	code := Run(context.Background(), []string{"ask"}, Options{Stderr: &stderr})
	if code != 2 {
		t.Fatalf("exit code = %d", code)
	}
}

func TestRunCompileKeepsArgumentOrder(t *testing.T) {
	var mu sync.Mutex
	var previousSeen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode body: %v", err)
		}
		mu.Lock()
		previousSeen = append(previousSeen, string(payload["previous_ast"]))
		mu.Unlock()
		var doc struct {
			Name string `json:"name"`
		}
		_ = json.Unmarshal(payload["ast"], &doc)
		_, _ = w.Write([]byte(`{"sql":"` + doc.Name + `"}`))
	}))
	defer srv.Close()

	files := map[string]string{
		"base.json": `{"dimensions":[{"field":"region"}]}`,
		"a.json":    `{"name":"first"}`,
		"b.json":    `{"name":"second"}`,
	}
	readFile := func(name string) ([]byte, error) {
		content, ok := files[name]
		if !ok {
			return nil, errors.New("missing")
		}
		return []byte(content), nil
	}

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	code := Run(context.Background(), []string{
		"-base-url", srv.URL,
		"compile", "-previous", "base.json", "a.json", "b.json", "-",
	}, Options{
		Stdout:   &stdout,
		Stderr:   &stderr,
		Stdin:    strings.NewReader(`{"name":"third"}`),
		ReadFile: readFile,
	})
	if code != 0 {
		t.Fatalf("exit code = %d, stderr=%s", code, stderr.String())
	}
	out := stdout.String()
	first := strings.Index(out, `"first"`)
	second := strings.Index(out, `"second"`)
	third := strings.Index(out, `"third"`)
	if first < 0 || second < first || third < second {
		t.Fatalf("stdout out of order:\n%s", out)
	}
	if len(previousSeen) != 3 {
		t.Fatalf("requests = %d", len(previousSeen))
	}
	for _, previous := range previousSeen {
		if !strings.Contains(previous, "region") {
			t.Fatalf("previous_ast = %s", previous)
		}
	}
}

func TestRunCompileWithoutPreviousSendsNull(t *testing.T) {
	var previous string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var payload map[string]json.RawMessage
		_ = json.Unmarshal(body, &payload)
		previous = string(payload["previous_ast"])
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	code := Run(context.Background(), []string{"-base-url", srv.URL, "compile", "q.json"}, Options{
		ReadFile: func(string) ([]byte, error) { return []byte(`{}`), nil },
	})
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if previous != "null" {
		t.Fatalf("previous_ast = %q", previous)
	}
}

func TestRunCompileReportsRejections(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error_code":"UNKNOWN_FIELD"}`))
	}))
	defer srv.Close()

	var stderr bytes.Buffer
	code := Run(context.Background(), []string{"-base-url", srv.URL, "compile", "q.json"}, Options{
		Stderr:   &stderr,
		ReadFile: func(string) ([]byte, error) { return []byte(`{}`), nil },
	})
	if code != 1 {
		t.Fatalf("exit code = %d", code)
	}
	if !strings.Contains(stderr.String(), "UNKNOWN_FIELD") {
		t.Fatalf("stderr = %s", stderr.String())
	}
}

func TestRunResetCommand(t *testing.T) {
	var gotMethod, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.EscapedPath()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	code := Run(context.Background(), []string{"-base-url", srv.URL, "reset", "conv/1"}, Options{})
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if gotMethod != http.MethodDelete || gotPath != "/v1/nlq/conversations/conv%2F1" {
		t.Fatalf("request = %s %s", gotMethod, gotPath)
	}
}

func TestRunReturnsErrorOnHTTPFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error_code":"FORBIDDEN"}`))
	}))
	defer srv.Close()

	var stderr bytes.Buffer
	code := Run(context.Background(), []string{"-base-url", srv.URL, "ready"}, Options{Stderr: &stderr})
	if code != 1 {
		t.Fatalf("exit code = %d, stderr=%s", code, stderr.String())
	}
}

func TestRunUnknownCommand(t *testing.T) {
	var stderr bytes.Buffer
	code := Run(context.Background(), []string{"unknown"}, Options{Stderr: &stderr})
	if code != 2 {
		t.Fatalf("exit code = %d", code)
	}
	if stderr.Len() == 0 {
		t.Fatal("expected usage output")
	}
}
