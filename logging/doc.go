// Package logging provides a minimal logging interface and adapters for toolmesh.
//
// The Logger interface defines the standard logging methods (Debug, Info, Warn, Error)
// that the client, runtime and pipeline use for observability. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - RuntimeLogger with component/run/step context
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	client := llm.New(m, catalog, func(o *llm.Options) { o.Logger = logger })
//
// Event names are dotted (tool.call.start, llm.retry, pipeline.step.failed).
package logging
