// Package logx configures relaybot's structured logging.
//
// A small wrapper (logx.Logger) on top of zerolog keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - An optional chat sink that mirrors warnings into a Telegram chat
//     (min-level + rate limiting)
package logx
