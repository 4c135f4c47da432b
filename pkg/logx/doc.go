// Package logx is dispatchbot's logging layer: a value Logger over zerolog
// plus a Service that swaps sinks at runtime.
//
// Sinks: colored console, a rotated JSON file (lumberjack) and an optional
// chat channel that receives WARN+ lines through a rate limiter.
package logx
