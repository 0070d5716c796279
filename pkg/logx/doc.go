// Package logx is pland's structured logging layer, a thin wrapper over
// zerolog.
//
// The wrapper keeps console output human-readable (short timestamp,
// file:line caller) while the file sink stays JSON, and lets sinks and
// level be swapped at runtime through Service.Apply without re-plumbing
// loggers that components already hold.
package logx
