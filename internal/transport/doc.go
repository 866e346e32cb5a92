// Package transport owns the inter-core channel boundary.
//
// Ownership boundary:
// - Instance lifecycle (open, register endpoint, close)
// - Endpoint binding and bound/received callbacks
// - token routing shared by every backend
//
// Backends live in subpackages: loopback (in-process pair), stream (framed
// io.ReadWriteCloser) and redismbox (Redis Pub/Sub mailbox).
package transport
