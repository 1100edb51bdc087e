// Package logx configures frametick's structured logging.
//
// A small wrapper (logx.Logger) on top of zerolog keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Runtime reconfiguration (Service.Apply) without rebuilding loggers
//
// The zero Logger is a safe no-op, so components can take a Logger by value
// and skip nil checks.
package logx
