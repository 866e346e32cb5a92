// Package relay owns the per-core message relay state machine.
//
// Ownership boundary:
// - lifecycle guard (one-time initialization)
// - outbound framing over borrowed, terminator-delimited buffers
// - inbound length acknowledgment
// - sent-message counter readable from any goroutine
//
// One Relay value exists per core. Every entry point takes it by reference;
// there is no package-level mutable state. Entry points never block.
package relay
