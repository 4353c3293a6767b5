package testkit

import (
	"context"
	"fmt"
	"math"
	"net"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/gofiber/fiber/v3"
)

// Route is a canned response served by HTTPMock.
type Route struct {
	Method      string            `mapstructure:"method"`
	Path        string            `mapstructure:"path" validate:"required"`
	Status      int               `mapstructure:"status"`
	Body        string            `mapstructure:"body"`
	ContentType string            `mapstructure:"content_type"`
	Headers     map[string]string `mapstructure:"headers"`
}

// HTTPMockOptions controls the mock HTTP server.
type HTTPMockOptions struct {
	// Address defaults to a free loopback port.
	Address   string  `mapstructure:"address"`
	BodyLimit string  `mapstructure:"body_limit"`
	Routes    []Route `mapstructure:"routes" validate:"dive"`
	Prefix    string  `mapstructure:"prefix"`
}

// RecordedRequest is one request seen by HTTPMock.
type RecordedRequest struct {
	Method string
	Path   string
	Query  string
	Body   []byte
}

// HTTPMock is an in-process fiber server answering canned routes and
// recording every request. Its handle is the *HTTPMock itself.
type HTTPMock struct {
	opts     HTTPMockOptions
	handlers []customRoute

	mu       sync.RWMutex
	app      *fiber.App
	ln       net.Listener
	addr     string
	hits     map[string]int
	requests []RecordedRequest
	served   chan error
}

type customRoute struct {
	method  string
	path    string
	handler fiber.Handler
}

func NewHTTPMock(opts HTTPMockOptions) *HTTPMock {
	return &HTTPMock{opts: opts, hits: map[string]int{}}
}

// On registers a custom handler. It must be called before Start.
func (h *HTTPMock) On(method, path string, handler fiber.Handler) *HTTPMock {
	h.handlers = append(h.handlers, customRoute{method: normalizeMethod(method), path: path, handler: handler})
	return h
}

func (h *HTTPMock) Start(context.Context) error {
	limit, err := parseBodyLimit(h.opts.BodyLimit)
	if err != nil {
		return fmt.Errorf("body limit %q: %w", h.opts.BodyLimit, err)
	}

	app := fiber.New(fiber.Config{BodyLimit: limit})
	app.Use(h.record)
	for _, r := range h.opts.Routes {
		app.Add([]string{normalizeMethod(r.Method)}, r.Path, h.count(normalizeMethod(r.Method), r.Path, cannedHandler(r)))
	}
	for _, r := range h.handlers {
		app.Add([]string{r.method}, r.path, h.count(r.method, r.path, r.handler))
	}

	addr := h.opts.Address
	if addr == "" {
		addr = "127.0.0.1:0"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("http mock listen %s: %w", addr, err)
	}

	served := make(chan error, 1)
	go func() {
		served <- app.Listener(ln, fiber.ListenConfig{DisableStartupMessage: true})
	}()

	h.mu.Lock()
	h.app = app
	h.ln = ln
	h.addr = ln.Addr().String()
	h.served = served
	h.mu.Unlock()
	return nil
}

func (h *HTTPMock) Stop(ctx context.Context) error {
	h.mu.Lock()
	app, ln, served := h.app, h.ln, h.served
	h.app, h.ln, h.served = nil, nil, nil
	h.addr = ""
	h.mu.Unlock()
	if app == nil {
		return nil
	}
	err := app.ShutdownWithContext(ctx)
	// Serve may not have picked up the listener yet.
	_ = ln.Close()
	if err != nil {
		return err
	}
	select {
	case <-served:
	case <-ctx.Done():
	}
	return nil
}

func (h *HTTPMock) Handle() any { return h }

// URL returns the base URL of the server.
func (h *HTTPMock) URL() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.addr == "" {
		return ""
	}
	return "http://" + h.addr
}

// Hits returns how many times a registered route was served.
func (h *HTTPMock) Hits(method, path string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.hits[routeKey(normalizeMethod(method), path)]
}

// Requests returns every request received so far, in arrival order.
func (h *HTTPMock) Requests() []RecordedRequest {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]RecordedRequest(nil), h.requests...)
}

// Reset clears hit counters and recorded requests.
func (h *HTTPMock) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hits = map[string]int{}
	h.requests = nil
}

func (h *HTTPMock) Properties() map[string]string {
	h.mu.RLock()
	addr := h.addr
	h.mu.RUnlock()
	if addr == "" {
		return nil
	}
	return map[string]string{
		prop(h.opts.Prefix, "url"):  "http://" + addr,
		prop(h.opts.Prefix, "addr"): addr,
	}
}

func (h *HTTPMock) record(c fiber.Ctx) error {
	req := RecordedRequest{
		Method: c.Method(),
		Path:   c.Path(),
		Query:  string(c.Request().URI().QueryString()),
		Body:   append([]byte(nil), c.Body()...),
	}
	h.mu.Lock()
	h.requests = append(h.requests, req)
	h.mu.Unlock()
	return c.Next()
}

func (h *HTTPMock) count(method, path string, next fiber.Handler) fiber.Handler {
	key := routeKey(method, path)
	return func(c fiber.Ctx) error {
		h.mu.Lock()
		h.hits[key]++
		h.mu.Unlock()
		return next(c)
	}
}

func cannedHandler(r Route) fiber.Handler {
	status := r.Status
	if status == 0 {
		status = fiber.StatusOK
	}
	return func(c fiber.Ctx) error {
		for k, v := range r.Headers {
			c.Set(k, v)
		}
		if r.ContentType != "" {
			c.Set(fiber.HeaderContentType, r.ContentType)
		}
		return c.Status(status).SendString(r.Body)
	}
}

func routeKey(method, path string) string {
	return method + " " + path
}

func normalizeMethod(m string) string {
	m = strings.ToUpper(strings.TrimSpace(m))
	if m == "" {
		return fiber.MethodGet
	}
	return m
}

func parseBodyLimit(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return fiber.DefaultBodyLimit, nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, err
	}
	if n > uint64(math.MaxInt) {
		return 0, fmt.Errorf("body limit overflows int")
	}
	return int(n), nil
}
