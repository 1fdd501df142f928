package handler

import (
	"context"
	"io"
	"net"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"
)

const (
	requestContextKey = "proxypool.request_context"
	maxRequestBody    = 1 << 20
)

// ServeHTTP runs the fiber app behind net/http. The incoming request's
// context becomes the handlers' UserContext so a client that goes away
// cancels the registry read behind it.
func (h *PoolHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)

	req.Header.SetMethod(r.Method)
	req.SetRequestURI(r.URL.RequestURI())
	req.Header.SetHost(r.Host)
	for key, values := range r.Header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	req.SetBody(body)

	var remote net.Addr
	if addr, err := net.ResolveTCPAddr("tcp", r.RemoteAddr); err == nil {
		remote = addr
	}

	var fctx fasthttp.RequestCtx
	fctx.Init(req, remote, nil)
	fctx.SetUserValue(requestContextKey, r.Context())

	h.app.Handler()(&fctx)

	fctx.Response.Header.VisitAll(func(key, value []byte) {
		if string(key) == fiber.HeaderContentLength {
			return
		}
		w.Header().Add(string(key), string(value))
	})
	w.WriteHeader(fctx.Response.StatusCode())
	_, _ = w.Write(fctx.Response.Body())
}

// bindRequestContext hands the net/http request context to the handlers.
// Requests served by fiber itself keep the default background context.
func bindRequestContext(c *fiber.Ctx) error {
	if ctx, ok := c.Context().UserValue(requestContextKey).(context.Context); ok {
		c.SetUserContext(ctx)
	}
	return c.Next()
}
