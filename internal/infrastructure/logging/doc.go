// Package logging provides the structured logger used across the agent.
//
// It wraps log/slog with the agent's default fields and configuration-driven
// handler selection. Packages that only need to emit log records accept a
// narrow Logger interface locally instead of importing this package.
package logging
