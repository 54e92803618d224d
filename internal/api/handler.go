package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/abhiyan52/ClarityQL/internal/ast"
	"github.com/abhiyan52/ClarityQL/internal/auth"
	"github.com/abhiyan52/ClarityQL/internal/config"
	"github.com/abhiyan52/ClarityQL/internal/conversation"
	"github.com/abhiyan52/ClarityQL/internal/nl2sql"
	"github.com/abhiyan52/ClarityQL/internal/observability"
	"github.com/abhiyan52/ClarityQL/internal/pipeline"
	"github.com/abhiyan52/ClarityQL/internal/query"
	"github.com/abhiyan52/ClarityQL/internal/schema"
)

type ReadinessCheck func(ctx context.Context) error

// Compiler runs the stateless core pipeline.
type Compiler interface {
	Run(ctx context.Context, previous *ast.Query, delta ast.Query) (pipeline.Output, error)
}

type Conversations interface {
	Ask(ctx context.Context, turn conversation.Turn) (conversation.TurnResult, error)
	Reset(ctx context.Context, tenantID, conversationID string) error
	State(ctx context.Context, tenantID, conversationID string) (conversation.State, error)
}

// FileResolver maps the tables of a query plan to dataset files.
type FileResolver func(ctx context.Context, tables []string) ([]query.TableFile, error)

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	AuthMiddleware    func(http.Handler) http.Handler
	DependencyTimeout time.Duration
	Registry          *schema.Registry
	Compiler          Compiler
	Conversations     Conversations
	Parser            nl2sql.Parser
	QueryEngine       query.Engine
	Files             FileResolver
	UI                http.Handler
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	readers := auth.RequireRole(auth.RoleQueryReader)
	writers := auth.RequireRole(auth.RoleConversationWriter)

	protected := http.NewServeMux()
	protected.Handle("GET /v1/schema", readers(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleSchema(deps, w, r)
	})))
	protected.Handle("POST /v1/nlq/compile", readers(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleCompile(deps, w, r)
	})))
	protected.Handle("POST /v1/nlq/query", readers(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleNLQuery(cfg, deps, w, r)
	})))
	protected.Handle("GET /v1/nlq/conversations/{id}", readers(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleGetConversation(deps, w, r)
	})))
	protected.Handle("DELETE /v1/nlq/conversations/{id}", writers(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleResetConversation(deps, w, r)
	})))

	var protectedHandler http.Handler = protected
	if cfg.Auth.Required {
		if deps.AuthMiddleware == nil {
			if deps.Logger != nil {
				deps.Logger.Error("auth required but auth middleware missing")
			}
			protectedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeError(r.Context(), w, http.StatusInternalServerError, "AUTH_MIDDLEWARE_MISSING", "auth middleware is required by configuration", false, nil)
			})
		} else {
			protectedHandler = deps.AuthMiddleware(protectedHandler)
		}
	}
	mux.Handle("GET /v1/schema", protectedHandler)
	mux.Handle("POST /v1/nlq/compile", protectedHandler)
	mux.Handle("POST /v1/nlq/query", protectedHandler)
	mux.Handle("GET /v1/nlq/conversations/{id}", protectedHandler)
	mux.Handle("DELETE /v1/nlq/conversations/{id}", protectedHandler)
	if deps.UI != nil {
		mux.Handle("GET /{path...}", deps.UI)
	}

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	return chain(mux, middlewares...)
}

// CheckStore pings the conversation store when it supports health checks.
func CheckStore(store any) ReadinessCheck {
	checker, ok := store.(interface{ HealthCheck(context.Context) error })
	if !ok {
		return nil
	}
	return checker.HealthCheck
}

func CheckObjectStoreConfig(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if !cfg.Execution.Enabled || cfg.ObjectStore.Backend != config.ObjectStoreBackendS3 {
			return nil
		}
		if cfg.ObjectStore.Endpoint == "" {
			return errors.New("object store endpoint is not configured")
		}
		if cfg.ObjectStore.Bucket == "" {
			return errors.New("object store bucket is not configured")
		}
		return nil
	}
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}
