package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/testplanit/searchsync/internal/config"
)

func TestNewMiddleware_None(t *testing.T) {
	settings := config.AuthSettings{Type: config.AuthTypeNone}
	middleware, err := NewMiddleware(settings)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/test", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rec.Code)
	}
}

func TestNewMiddleware_EmptyType(t *testing.T) {
	settings := config.AuthSettings{Type: ""}
	middleware, err := NewMiddleware(settings)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/test", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rec.Code)
	}
}

func TestNewMiddleware_BasicAuth_Valid(t *testing.T) {
	settings := config.AuthSettings{
		Type: config.AuthTypeBasic,
		Basic: config.BasicAuthSettings{
			Username: "admin",
			Password: "secret",
		},
	}
	middleware, err := NewMiddleware(settings)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/test", nil)
	req.SetBasicAuth("admin", "secret")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rec.Code)
	}
}

func TestNewMiddleware_BasicAuth_Invalid(t *testing.T) {
	settings := config.AuthSettings{
		Type: config.AuthTypeBasic,
		Basic: config.BasicAuthSettings{
			Username: "admin",
			Password: "secret",
		},
	}
	middleware, err := NewMiddleware(settings)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/test", nil)
	req.SetBasicAuth("admin", "wrongpassword")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", rec.Code)
	}
}

func TestNewMiddleware_BasicAuth_NoCredentials(t *testing.T) {
	settings := config.AuthSettings{
		Type: config.AuthTypeBasic,
		Basic: config.BasicAuthSettings{
			Username: "admin",
			Password: "secret",
		},
	}
	middleware, err := NewMiddleware(settings)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/test", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", rec.Code)
	}
	if rec.Header().Get("WWW-Authenticate") == "" {
		t.Error("Expected WWW-Authenticate header")
	}
}

func TestNewMiddleware_BasicAuth_MissingCredentials(t *testing.T) {
	tests := []struct {
		name     string
		settings config.AuthSettings
	}{
		{
			name: "missing username",
			settings: config.AuthSettings{
				Type: config.AuthTypeBasic,
				Basic: config.BasicAuthSettings{
					Password: "secret",
				},
			},
		},
		{
			name: "missing password",
			settings: config.AuthSettings{
				Type: config.AuthTypeBasic,
				Basic: config.BasicAuthSettings{
					Username: "admin",
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewMiddleware(tt.settings)
			if err == nil {
				t.Error("Expected error for missing credentials")
			}
		})
	}
}

func TestNewMiddleware_APIKey_Valid(t *testing.T) {
	settings := config.AuthSettings{
		Type:    config.AuthTypeAPIKey,
		APIKeys: []string{"key1", "key2"},
	}
	middleware, err := NewMiddleware(settings)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("X-API-Key", "key2")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rec.Code)
	}
}

func TestNewMiddleware_APIKey_Invalid(t *testing.T) {
	settings := config.AuthSettings{
		Type:    config.AuthTypeAPIKey,
		APIKeys: []string{"key1", "key2"},
	}
	middleware, err := NewMiddleware(settings)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("X-API-Key", "wrongkey")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", rec.Code)
	}
}

func TestNewMiddleware_APIKey_Missing(t *testing.T) {
	settings := config.AuthSettings{
		Type:    config.AuthTypeAPIKey,
		APIKeys: []string{"key1"},
	}
	middleware, err := NewMiddleware(settings)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/test", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", rec.Code)
	}
}

func TestNewMiddleware_APIKey_NoKeys(t *testing.T) {
	settings := config.AuthSettings{
		Type:    config.AuthTypeAPIKey,
		APIKeys: []string{},
	}
	_, err := NewMiddleware(settings)
	if err == nil {
		t.Error("Expected error for no API keys")
	}
}

func TestNewMiddleware_UnknownType(t *testing.T) {
	settings := config.AuthSettings{Type: "oauth"}
	_, err := NewMiddleware(settings)
	if err == nil {
		t.Error("Expected error for unknown auth type")
	}
}

func TestExcludedPath_Health(t *testing.T) {
	settings := config.AuthSettings{
		Type: config.AuthTypeBasic,
		Basic: config.BasicAuthSettings{
			Username: "admin",
			Password: "secret",
		},
	}
	middleware, err := NewMiddleware(settings)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// /health should bypass auth
	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Expected status 200 for /health, got %d", rec.Code)
	}
}

func TestPublicPaths(t *testing.T) {
	tests := []struct {
		name     string
		paths    []string
		path     string
		expected bool
	}{
		{"default health", nil, "/health", true},
		{"default ready", nil, "/ready", true},
		{"default other", nil, "/test", false},
		{"default sse", nil, "/sse", false},
		{"default nested", nil, "/api/health", false},
		{"default root", nil, "/", false},
		{"custom listed", []string{"/status"}, "/status", true},
		{"custom replaces defaults", []string{"/status"}, "/health", false},
		{"empty list", []string{}, "/health", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := newPublicPaths(tt.paths)[tt.path]; got != tt.expected {
				t.Errorf("public path %q with %v = %v, want %v", tt.path, tt.paths, got, tt.expected)
			}
		})
	}
}

func TestNewMiddleware_CustomPublicPaths(t *testing.T) {
	middleware, err := NewMiddleware(config.AuthSettings{
		Type:        config.AuthTypeAPIKey,
		APIKeys:     []string{"key1"},
		PublicPaths: []string{"/health"},
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		path     string
		expected int
	}{
		{"/health", http.StatusOK},
		{"/ready", http.StatusUnauthorized},
		{"/sse", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		req := httptest.NewRequest("GET", tt.path, nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != tt.expected {
			t.Errorf("%s: expected status %d, got %d", tt.path, tt.expected, rec.Code)
		}
	}
}

func TestNewMiddleware_APIKey_Challenge(t *testing.T) {
	middleware, err := NewMiddleware(config.AuthSettings{
		Type:    config.AuthTypeAPIKey,
		APIKeys: []string{"key1"},
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	rec := httptest.NewRecorder()
	middleware(http.NotFoundHandler()).ServeHTTP(rec, httptest.NewRequest("GET", "/sse", nil))

	if got := rec.Header().Get("WWW-Authenticate"); !strings.HasPrefix(got, "Bearer") {
		t.Errorf("Expected Bearer challenge, got %q", got)
	}
}

func TestNewMiddleware_APIKey_Bearer(t *testing.T) {
	middleware, err := NewMiddleware(config.AuthSettings{
		Type:    config.AuthTypeAPIKey,
		APIKeys: []string{"key1"},
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name     string
		header   string
		expected int
	}{
		{"valid bearer", "Bearer key1", http.StatusOK},
		{"lowercase scheme", "bearer key1", http.StatusOK},
		{"wrong key", "Bearer nope", http.StatusUnauthorized},
		{"basic scheme", "Basic a2V5MQ==", http.StatusUnauthorized},
		{"empty token", "Bearer ", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/mcp", nil)
			req.Header.Set("Authorization", tt.header)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.expected {
				t.Errorf("Expected status %d, got %d", tt.expected, rec.Code)
			}
		})
	}
}

func TestExcludedPath_Ready(t *testing.T) {
	middleware, err := NewMiddleware(config.AuthSettings{
		Type:    config.AuthTypeAPIKey,
		APIKeys: []string{"key1"},
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/ready", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Expected status 200 for /ready, got %d", rec.Code)
	}
}
