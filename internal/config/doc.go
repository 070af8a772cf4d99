// Package config loads and validates the YAML configuration consumed by the
// ToolPilot runtime: LLM provider selection, external tool-server launch
// parameters, transcript storage, event channels and step budgets.
package config
