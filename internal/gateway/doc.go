// Package gateway supervises external tool-server subprocesses. Each tool has
// at most one binding shared through reference counting; connections are
// established with exponential backoff and verified by a ping health check
// before any action is dispatched over the line-delimited JSON protocol.
package gateway
