// Package config loads and validates the agent's YAML configuration.
//
// Configuration follows a layered model: hardcoded defaults, then YAML file
// values, then MTCAGENT_* environment variable overrides. Validate collects
// every problem into a single error so an operator sees the full list at once.
package config
