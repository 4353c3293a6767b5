package tracing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/bronystylecrazy/suitekit/resource"
)

func TestDisabledReturnsNilProvider(t *testing.T) {
	tp, err := NewTracerProvider(context.Background(), Config{})
	if err != nil || tp != nil {
		t.Fatalf("NewTracerProvider(disabled)=%v,%v want nil,nil", tp, err)
	}
}

func TestEndpointParsing(t *testing.T) {
	grpcCases := map[string]string{
		"collector:4317":          "collector:4317",
		"http://collector:4317":   "collector:4317",
		"https://collector:4317/": "collector:4317",
	}
	for in, want := range grpcCases {
		if got := (Config{Endpoint: in}).EndpointForGRPC(); got != want {
			t.Fatalf("EndpointForGRPC(%q)=%q want %q", in, got, want)
		}
	}

	httpCases := map[string][2]string{
		"collector:4318":                   {"collector:4318", ""},
		"collector:4318/otlp/v1/traces":    {"collector:4318", "/otlp/v1/traces"},
		"https://collector:4318/v1/traces": {"collector:4318", "/v1/traces"},
	}
	for in, want := range httpCases {
		host, path := (Config{Endpoint: in}).EndpointForHTTP()
		if host != want[0] || path != want[1] {
			t.Fatalf("EndpointForHTTP(%q)=%q,%q want %q,%q", in, host, path, want[0], want[1])
		}
	}
}

func TestTLSRequiresCertAndKeyTogether(t *testing.T) {
	if cfg, err := (TLSConfig{}).Load(); cfg != nil || err != nil {
		t.Fatalf("zero TLS config: got=%v,%v", cfg, err)
	}
	if _, err := (TLSConfig{CertFile: "client.pem"}).Load(); err == nil {
		t.Fatal("expected error for cert without key")
	}
	cfg := Config{Enabled: true, TLS: TLSConfig{CAFile: "/does/not/exist.pem"}}
	if _, err := NewTracerProvider(context.Background(), cfg); err == nil {
		t.Fatal("expected error for missing ca file")
	}
}

func TestLifecycleSpansExportedOverHTTP(t *testing.T) {
	var mu sync.Mutex
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.Method+" "+r.URL.Path)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := Config{
		Enabled:  true,
		Protocol: "http",
		Endpoint: strings.TrimPrefix(srv.URL, "http://") + "/v1/traces",
		Insecure: true,
	}
	tp, err := NewTracerProvider(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewTracerProvider: %v", err)
	}

	reg, _ := resource.NewRegistry(resource.Of("db", resource.Func(nil, nil)))
	o, err := resource.NewOrchestrator(reg, resource.WithTracerProvider(tp))
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}
	if err := o.StartAll(context.Background()); err != nil {
		t.Fatalf("StartAll: %v", err)
	}
	if err := o.StopAll(context.Background()); err != nil {
		t.Fatalf("StopAll: %v", err)
	}
	if err := tp.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(paths) == 0 || paths[0] != "POST /v1/traces" {
		t.Fatalf("unexpected exports: %v", paths)
	}
}

func TestGRPCExporterIsLazy(t *testing.T) {
	cfg := Config{Enabled: true, Endpoint: "http://127.0.0.1:1", Insecure: true, Compression: "gzip"}
	exp, err := NewExporter(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewExporter: %v", err)
	}
	if err := exp.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}
