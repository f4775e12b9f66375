// Package logx provides structured logging for wasend.
//
// It wraps zerolog behind a small Logger value type so components can carry
// derived loggers (With fields) without caring about sink configuration.
// Sink configuration (console/file, level) is owned by Service and can be
// re-applied at runtime.
package logx
