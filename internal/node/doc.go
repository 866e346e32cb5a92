// Package node owns the host-runtime side of one core.
//
// Ownership boundary:
// - relay initialization and transport instance bring-up
// - endpoint registration and bound/received wiring
// - initiator send loop and responder echo
// - heartbeat logging
//
// Lifecycle order:
// - initialize relay -> open instance -> register endpoint -> role loop
//
// Every callback and loop runs inside the node's fault boundary.
package node
