// Package logx configures recsched's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable on a terminal (short timestamp + short caller)
//   - Console output JSON when piped (journald, containers)
//   - File output JSON-structured
package logx
