// Package logx configures craftybot's structured logging.
//
// Logger is a small value type on top of zerolog:
//   - Console output stays readable (short timestamp + short caller)
//   - File output is JSON
//   - An optional chat sink forwards WARN+ lines to an operator chat,
//     rate limited so a failing cycle cannot flood the chat
package logx
