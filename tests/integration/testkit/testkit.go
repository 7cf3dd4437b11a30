package testkit

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/pflag"

	"github.com/testplanit/searchsync/internal/app"
	"github.com/testplanit/searchsync/internal/config"
)

// Service represents a test service that can be started and stopped
type Service interface {
	Start() (map[string]any, error)
	Stop() error
	GetName() string
}

// TestEnvContext provides access to properties collected during environment startup
type TestEnvContext interface {
	GetProperties() map[string]any
	GetProperty(name string) (any, bool)
}

// TestEnv manages the lifecycle of test services
type TestEnv interface {
	Start() (map[string]any, error)
	Stop() error
	GetContext() TestEnvContext
}

type testEnvContextImpl struct {
	properties map[string]any
}

func (c *testEnvContextImpl) GetProperties() map[string]any {
	return c.properties
}

func (c *testEnvContextImpl) GetProperty(name string) (any, bool) {
	val, ok := c.properties[name]
	return val, ok
}

type testEnvImpl struct {
	services []Service
	context  *testEnvContextImpl
}

// NewTestEnv creates a new test environment with the given services
func NewTestEnv(services ...Service) TestEnv {
	return &testEnvImpl{
		services: services,
		context:  &testEnvContextImpl{properties: make(map[string]any)},
	}
}

func (e *testEnvImpl) Start() (map[string]any, error) {
	for _, s := range e.services {
		props, err := s.Start()
		if err != nil {
			return nil, err
		}
		for k, v := range props {
			e.context.properties[k] = v
		}
	}
	return e.context.properties, nil
}

func (e *testEnvImpl) Stop() error {
	var lastErr error
	// Stop in reverse order
	for i := len(e.services) - 1; i >= 0; i-- {
		if err := e.services[i].Stop(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

func (e *testEnvImpl) GetContext() TestEnvContext {
	return e.context
}

// GetFreePort returns a free port from the kernel
func GetFreePort() (int, error) {
	return getFreePortWithAddr("localhost:0")
}

// MustGetFreePort returns a free port or fails the test
func MustGetFreePort(t testing.TB) int {
	t.Helper()
	port, err := GetFreePort()
	if err != nil {
		t.Fatalf("Failed to get free port: %v", err)
	}
	return port
}

func getFreePortWithAddr(addrStr string) (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", addrStr)
	if err != nil {
		return 0, err
	}

	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}
	defer func() { _ = l.Close() }()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// FlagOptions configures NewTestFlags
type FlagOptions struct {
	Port      int      // Uses free port if 0
	Transport string   // Defaults to "sse"
	AuthType  string   // Defaults to "none"
	Host      string   // Defaults to "localhost"
	APIKeys   []string // Used with AuthType "apikey"
	DataDir   string   // Store and bleve indexes; a test temp dir if empty
}

// NewTestFlags creates a configured pflag.FlagSet for testing. The search
// backend is always the embedded bleve backend rooted in DataDir.
func NewTestFlags(t testing.TB, opts *FlagOptions) *pflag.FlagSet {
	t.Helper()

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	app.RegisterFlags(flags)

	port := 0
	transport := "sse"
	authType := "none"
	host := "localhost"
	var apiKeys []string
	dataDir := ""

	if opts != nil {
		if opts.Port != 0 {
			port = opts.Port
		}
		if opts.Transport != "" {
			transport = opts.Transport
		}
		if opts.AuthType != "" {
			authType = opts.AuthType
		}
		if opts.Host != "" {
			host = opts.Host
		}
		apiKeys = opts.APIKeys
		dataDir = opts.DataDir
	}

	if port == 0 {
		port = MustGetFreePort(t)
	}
	if dataDir == "" {
		dataDir = t.TempDir()
	}

	_ = flags.Set("port", fmt.Sprintf("%d", port))
	_ = flags.Set("transport", transport)
	_ = flags.Set("auth-type", authType)
	_ = flags.Set("host", host)
	if len(apiKeys) > 0 {
		_ = flags.Set("auth-api-keys", strings.Join(apiKeys, ","))
	}
	_ = flags.Set("search-backend", config.SearchBackendBleve)
	_ = flags.Set("search-bleve-dir", filepath.Join(dataDir, "indexes"))
	_ = flags.Set("store-path", filepath.Join(dataDir, "testplanit.db"))
	_ = flags.Set("worker-poll-interval", "50ms")
	_ = flags.Set("log-level", "warn")

	return flags
}

// SearchServer runs the full SSE server in-process.
type SearchServer struct {
	flags *pflag.FlagSet

	mu   sync.Mutex
	srv  *http.Server
	done chan error
}

// NewSearchServer creates a server configured by flags (see NewTestFlags).
func NewSearchServer(flags *pflag.FlagSet) *SearchServer {
	return &SearchServer{flags: flags}
}

// GetName returns the service name
func (s *SearchServer) GetName() string { return "search-server" }

// Start launches the server and waits for /health. The returned properties
// hold "base_url" and "sse_url".
func (s *SearchServer) Start() (map[string]any, error) {
	host, _ := s.flags.GetString("host")
	port, _ := s.flags.GetInt("port")
	baseURL := fmt.Sprintf("http://%s:%d", host, port)

	params := app.DefaultRunParams()
	params.StartSSEServer = func(inst *app.Instance, settings *config.Settings) error {
		srv, err := app.NewSSEServer(inst, settings)
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.srv = srv
		s.mu.Unlock()
		return srv.ListenAndServe()
	}

	s.done = make(chan error, 1)
	go func() {
		s.done <- app.RunWithDeps(context.Background(), params, s.flags, "test")
	}()

	if err := waitForHealth(baseURL, s.done, 10*time.Second); err != nil {
		return nil, err
	}
	return map[string]any{
		"base_url": baseURL,
		"sse_url":  baseURL + "/sse",
	}, nil
}

// Stop shuts the HTTP server down and waits for the services to close.
func (s *SearchServer) Stop() error {
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return err
	}
	select {
	case err := <-s.done:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func waitForHealth(baseURL string, done <-chan error, timeout time.Duration) error {
	client := &http.Client{Timeout: time.Second}
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		select {
		case err := <-done:
			return fmt.Errorf("server exited before becoming healthy: %w", err)
		default:
		}
		resp, err := client.Get(baseURL + "/health")
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("server at %s not healthy after %s", baseURL, timeout)
}
