// Package handler implements the public read API of the proxy pool.
// It serves the working set as plain text, registry statistics as JSON,
// and the engine's metrics, on top of a fiber app exposed as an http.Handler.
package handler
