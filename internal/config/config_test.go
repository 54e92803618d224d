package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoadDefaultsForDevProfile(t *testing.T) {
	lookup := mapLookup(map[string]string{})
	cfg, err := Load("clarityql-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileDev {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileDev)
	}
	if cfg.HTTP.Address != ":8080" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.Observability.LogLevel != slog.LevelDebug {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if cfg.Auth.Required {
		t.Fatal("Auth.Required should default to false in dev")
	}
	if cfg.Store.Backend != StoreBackendMemory {
		t.Fatalf("Store.Backend = %q", cfg.Store.Backend)
	}
	if cfg.Store.MaxOpenConns != 20 {
		t.Fatalf("Store.MaxOpenConns = %d", cfg.Store.MaxOpenConns)
	}
	if cfg.ObjectStore.Backend != ObjectStoreBackendMemory || cfg.ObjectStore.Dataset != "demo" {
		t.Fatalf("ObjectStore = %#v", cfg.ObjectStore)
	}
	if cfg.ObjectStore.Endpoint != "localhost:9000" {
		t.Fatalf("ObjectStore.Endpoint = %q", cfg.ObjectStore.Endpoint)
	}
	if cfg.Schema.Path != "" {
		t.Fatalf("Schema.Path = %q, want embedded default", cfg.Schema.Path)
	}
	if cfg.Compiler.Placeholder != "dollar" {
		t.Fatalf("Compiler.Placeholder = %q", cfg.Compiler.Placeholder)
	}
	if cfg.Conversation.MaxAge != time.Hour {
		t.Fatalf("Conversation.MaxAge = %s", cfg.Conversation.MaxAge)
	}
	if cfg.Conversation.MaxConversations != 1000 {
		t.Fatalf("Conversation.MaxConversations = %d", cfg.Conversation.MaxConversations)
	}
	if !cfg.Execution.Enabled {
		t.Fatal("Execution.Enabled should default to true in dev")
	}
	if cfg.Dataset.Orders != 5000 {
		t.Fatalf("Dataset.Orders = %d", cfg.Dataset.Orders)
	}
	if cfg.AI.ParseEnabled {
		t.Fatal("AI.ParseEnabled should default to false")
	}
	if cfg.AI.Model != "gpt-5" {
		t.Fatalf("AI.Model = %q", cfg.AI.Model)
	}
}

func TestLoadProdProfileDefaults(t *testing.T) {
	lookup := mapLookup(map[string]string{"CLARITYQL_PROFILE": "prod"})
	cfg, err := Load("clarityql-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileProd {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileProd)
	}
	if !cfg.Auth.Required {
		t.Fatal("Auth.Required should default to true in prod")
	}
	if cfg.Store.Backend != StoreBackendPostgres {
		t.Fatalf("Store.Backend = %q", cfg.Store.Backend)
	}
	if cfg.Observability.LogLevel != slog.LevelInfo {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if cfg.ObjectStore.Backend != ObjectStoreBackendS3 {
		t.Fatalf("ObjectStore.Backend = %q", cfg.ObjectStore.Backend)
	}
	if !cfg.ObjectStore.UseSSL {
		t.Fatal("ObjectStore.UseSSL should default to true in prod")
	}
	if cfg.ObjectStore.AutoCreateBucket {
		t.Fatal("ObjectStore.AutoCreateBucket should default to false in prod")
	}
}

func TestLoadTestProfileDisablesExecution(t *testing.T) {
	cfg, err := Load("clarityql-api", mapLookup(map[string]string{"CLARITYQL_PROFILE": "test"}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Execution.Enabled {
		t.Fatal("Execution.Enabled should default to false in test")
	}
	if cfg.HTTP.Address != ":18080" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	lookup := mapLookup(map[string]string{
		"CLARITYQL_PROFILE":                        "test",
		"CLARITYQL_HTTP_ADDR":                      ":9999",
		"CLARITYQL_HTTP_READ_TIMEOUT":              "2s",
		"CLARITYQL_HTTP_WRITE_TIMEOUT":             "3s",
		"CLARITYQL_LOG_LEVEL":                      "error",
		"CLARITYQL_AUTH_REQUIRED":                  "true",
		"CLARITYQL_AUTH_STATIC_KEYS":               "k1:t1:query_reader",
		"CLARITYQL_SERVICE_NAME":                   "clarityql-custom",
		"CLARITYQL_STORE_BACKEND":                  "Postgres",
		"CLARITYQL_STORE_DSN":                      "postgres://example",
		"CLARITYQL_STORE_MAX_OPEN_CONNS":           "42",
		"CLARITYQL_STORE_MAX_IDLE_CONNS":           "17",
		"CLARITYQL_OBJECTSTORE_BACKEND":            "S3",
		"CLARITYQL_OBJECTSTORE_DATASET":            "sales",
		"CLARITYQL_OBJECTSTORE_ENDPOINT":           "s3.example.com",
		"CLARITYQL_OBJECTSTORE_BUCKET":             "clarityql-prod",
		"CLARITYQL_OBJECTSTORE_USE_SSL":            "true",
		"CLARITYQL_OBJECTSTORE_AUTO_CREATE_BUCKET": "false",
		"CLARITYQL_SCHEMA_PATH":                    "/etc/clarityql/schema.yaml",
		"CLARITYQL_COMPILER_PLACEHOLDER":           "question",
		"CLARITYQL_CONVERSATION_MAX_AGE":           "15m",
		"CLARITYQL_CONVERSATION_MAX_COUNT":         "25",
		"CLARITYQL_AUDIT_RETENTION":                "48h",
		"CLARITYQL_EXECUTION_ENABLED":              "true",
		"CLARITYQL_EXECUTION_ROW_LIMIT":            "200",
		"CLARITYQL_DATASET_SEED":                   "7",
		"CLARITYQL_AI_PARSE_ENABLED":               "true",
		"CLARITYQL_AI_BASE_URL":                    "https://api.example.com",
		"CLARITYQL_AI_API_KEY":                     "secret-key",
		"CLARITYQL_AI_MODEL":                       "gpt-5.2",
		"CLARITYQL_AI_TEMPERATURE":                 "0.3",
		"CLARITYQL_AI_TIMEOUT":                     "21s",
	})
	cfg, err := Load("clarityql-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Service.Name != "clarityql-custom" {
		t.Fatalf("Service.Name = %q", cfg.Service.Name)
	}
	if cfg.HTTP.Address != ":9999" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.HTTP.ReadTimeout != 2*time.Second || cfg.HTTP.WriteTimeout != 3*time.Second {
		t.Fatalf("HTTP timeouts = %s/%s", cfg.HTTP.ReadTimeout, cfg.HTTP.WriteTimeout)
	}
	if cfg.Observability.LogLevel != slog.LevelError {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if !cfg.Auth.Required || cfg.Auth.StaticKeys != "k1:t1:query_reader" {
		t.Fatalf("Auth = %#v", cfg.Auth)
	}
	if cfg.Store.Backend != StoreBackendPostgres {
		t.Fatalf("Store.Backend = %q", cfg.Store.Backend)
	}
	if cfg.Store.DSN != "postgres://example" {
		t.Fatalf("Store.DSN = %q", cfg.Store.DSN)
	}
	if cfg.Store.MaxOpenConns != 42 || cfg.Store.MaxIdleConns != 17 {
		t.Fatalf("Store pool = %d/%d", cfg.Store.MaxOpenConns, cfg.Store.MaxIdleConns)
	}
	if cfg.ObjectStore.Endpoint != "s3.example.com" || cfg.ObjectStore.Bucket != "clarityql-prod" {
		t.Fatalf("ObjectStore = %#v", cfg.ObjectStore)
	}
	if cfg.ObjectStore.Backend != ObjectStoreBackendS3 || cfg.ObjectStore.Dataset != "sales" {
		t.Fatalf("ObjectStore = %#v", cfg.ObjectStore)
	}
	if !cfg.ObjectStore.UseSSL || cfg.ObjectStore.AutoCreateBucket {
		t.Fatalf("ObjectStore flags = %#v", cfg.ObjectStore)
	}
	if cfg.Schema.Path != "/etc/clarityql/schema.yaml" {
		t.Fatalf("Schema.Path = %q", cfg.Schema.Path)
	}
	if cfg.Compiler.Placeholder != "question" {
		t.Fatalf("Compiler.Placeholder = %q", cfg.Compiler.Placeholder)
	}
	if cfg.Conversation.MaxAge != 15*time.Minute || cfg.Conversation.MaxConversations != 25 || cfg.Conversation.AuditRetention != 48*time.Hour {
		t.Fatalf("Conversation = %#v", cfg.Conversation)
	}
	if !cfg.Execution.Enabled || cfg.Execution.RowLimit != 200 {
		t.Fatalf("Execution = %#v", cfg.Execution)
	}
	if cfg.Dataset.Seed != 7 {
		t.Fatalf("Dataset.Seed = %d", cfg.Dataset.Seed)
	}
	if !cfg.AI.ParseEnabled {
		t.Fatal("AI.ParseEnabled = false, want true")
	}
	if cfg.AI.BaseURL != "https://api.example.com" || cfg.AI.APIKey != "secret-key" || cfg.AI.Model != "gpt-5.2" {
		t.Fatalf("AI = %#v", cfg.AI)
	}
	if cfg.AI.Temperature != 0.3 {
		t.Fatalf("AI.Temperature = %f", cfg.AI.Temperature)
	}
	if cfg.AI.Timeout != 21*time.Second {
		t.Fatalf("AI.Timeout = %s", cfg.AI.Timeout)
	}
}

func TestLoadErrorsOnInvalidValues(t *testing.T) {
	tests := []map[string]string{
		{"CLARITYQL_PROFILE": "oops"},
		{"CLARITYQL_HTTP_READ_TIMEOUT": "NaN"},
		{"CLARITYQL_STORE_MAX_OPEN_CONNS": "oops"},
		{"CLARITYQL_STORE_BACKEND": "redis"},
		{"CLARITYQL_COMPILER_PLACEHOLDER": "named"},
		{"CLARITYQL_OBJECTSTORE_BACKEND": "gcs"},
		{"CLARITYQL_OBJECTSTORE_DATASET": ""},
		{"CLARITYQL_CONVERSATION_MAX_COUNT": "0"},
		{"CLARITYQL_CONVERSATION_MAX_AGE": "-1m"},
		{"CLARITYQL_DATASET_ORDERS": "many"},
		{"CLARITYQL_AI_TEMPERATURE": "bad"},
		{"CLARITYQL_AUTH_REQUIRED": "not-bool"},
		{"CLARITYQL_LOG_LEVEL": "verbose"},
		{"CLARITYQL_HTTP_ADDR": " "},
	}
	for _, env := range tests {
		_, err := Load("clarityql-api", mapLookup(env))
		if err == nil {
			t.Fatalf("Load() expected error for env %#v", env)
		}
	}
}

func mapLookup(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}
