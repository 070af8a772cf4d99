// Package storage persists session transcripts. The in-memory repository
// backs the single-user REPL; the mysql subpackage provides a durable backend
// selected by configuration.
package storage
