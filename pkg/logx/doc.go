// Package logx is the project-wide structured logging facade.
//
// It wraps zerolog behind a small Logger value so call sites stay stable
// while sinks and levels can be swapped at runtime (config hot reload).
// The zero Logger is a safe no-op.
package logx
