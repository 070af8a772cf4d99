// Package session orchestrates the request lifecycle for a conversation:
// command interpretation, tool routing, execution with interrupt support,
// and the append-only turn history. A session processes one turn at a time;
// input arriving mid-turn is rejected rather than queued.
package session
