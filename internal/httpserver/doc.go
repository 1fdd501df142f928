// Package httpserver runs the read API over net/http with validated
// listen addresses and a bounded graceful shutdown.
package httpserver
