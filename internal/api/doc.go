// Package api exposes the session hub over HTTP for programmatic clients.
// The REPL does not go through this layer.
package api
