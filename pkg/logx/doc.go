// Package logx is a small structured-logging facade over zerolog.
//
// Services receive a Logger value instead of touching zerolog directly, so
// sinks and levels can be swapped at runtime (config reload) without services
// holding stale handles. The zero Logger is a safe no-op.
package logx
