// Package router classifies user utterances into one of four tool channels
// using a single LLM call with a deterministic keyword fallback. Manual tool
// overrides bypass classification entirely.
package router
