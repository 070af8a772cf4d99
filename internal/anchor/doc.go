// Package anchor keeps long-running tool executions on task. It wraps the
// user's objective in a single-goal framing and assigns a static step budget
// keyed by model capability tier.
package anchor
