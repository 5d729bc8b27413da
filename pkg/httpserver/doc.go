// Package httpserver provides the process's HTTP server with graceful
// shutdown on context cancellation or termination signals, plus the
// health probe handler.
package httpserver
