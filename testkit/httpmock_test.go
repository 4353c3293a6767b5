package testkit

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/require"
)

func TestHTTPMockServesCannedRoutes(t *testing.T) {
	ctx := context.Background()
	h := NewHTTPMock(HTTPMockOptions{
		Prefix: "payments",
		Routes: []Route{
			{Method: "get", Path: "/health", Body: "ok"},
			{Method: "POST", Path: "/charges", Status: http.StatusCreated, Body: `{"id":"ch_1"}`, ContentType: "application/json", Headers: map[string]string{"X-Mock": "1"}},
		},
	})
	h.On(http.MethodDelete, "/charges/:id", func(c fiber.Ctx) error {
		return c.SendString("deleted " + c.Params("id"))
	})
	require.NoError(t, h.Start(ctx))
	t.Cleanup(func() { _ = h.Stop(ctx) })

	base := h.URL()
	require.Equal(t, base, h.Properties()["payments.url"])

	res, err := http.Get(base + "/health")
	require.NoError(t, err)
	body, _ := io.ReadAll(res.Body)
	res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, "ok", string(body))

	res, err = http.Post(base+"/charges?idem=1", "application/json", strings.NewReader(`{"amount":5}`))
	require.NoError(t, err)
	body, _ = io.ReadAll(res.Body)
	res.Body.Close()
	require.Equal(t, http.StatusCreated, res.StatusCode)
	require.Equal(t, "application/json", res.Header.Get("Content-Type"))
	require.Equal(t, "1", res.Header.Get("X-Mock"))
	require.JSONEq(t, `{"id":"ch_1"}`, string(body))

	req, _ := http.NewRequest(http.MethodDelete, base+"/charges/ch_1", nil)
	res, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	body, _ = io.ReadAll(res.Body)
	res.Body.Close()
	require.Equal(t, "deleted ch_1", string(body))

	require.Equal(t, 1, h.Hits("GET", "/health"))
	require.Equal(t, 1, h.Hits("post", "/charges"))
	require.Equal(t, 1, h.Hits(http.MethodDelete, "/charges/:id"))

	reqs := h.Requests()
	require.Len(t, reqs, 3)
	require.Equal(t, "/charges", reqs[1].Path)
	require.Equal(t, "idem=1", reqs[1].Query)
	require.JSONEq(t, `{"amount":5}`, string(reqs[1].Body))

	h.Reset()
	require.Empty(t, h.Requests())
	require.Zero(t, h.Hits("GET", "/health"))
}

func TestHTTPMockStop(t *testing.T) {
	ctx := context.Background()
	h := NewHTTPMock(HTTPMockOptions{})
	require.NoError(t, h.Stop(ctx))
	require.NoError(t, h.Start(ctx))
	require.NoError(t, h.Stop(ctx))
	require.Empty(t, h.URL())
	require.Nil(t, h.Properties())
}

func TestParseBodyLimit(t *testing.T) {
	n, err := parseBodyLimit("")
	require.NoError(t, err)
	require.Equal(t, fiber.DefaultBodyLimit, n)

	n, err = parseBodyLimit("8MB")
	require.NoError(t, err)
	require.Equal(t, 8_000_000, n)

	_, err = parseBodyLimit("lots")
	require.Error(t, err)

	h := NewHTTPMock(HTTPMockOptions{BodyLimit: "lots"})
	require.Error(t, h.Start(context.Background()))
}
