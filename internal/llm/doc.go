// Package llm contains adapters for invoking large language model backends.
// It abstracts away provider-specific APIs behind a single completion
// interface consumed by the router and the session manager.
package llm
