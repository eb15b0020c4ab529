// Package app wires every gateway package together into one running
// process. It constructs the two broker clients, command buffers and
// inbound handlers first, then the durable queue and the two publishing
// services, then the device and file repositories, then the protocol
// resolver and per-device domain services, and finally registers every
// inbound topic with the two inbound handlers - an order chosen to break the
// services' natural cyclic references. Services that need a forward
// reference (download -> firmware, registration -> status) take it
// through a narrow interface or a captured-but-not-yet-assigned
// closure variable, never a direct import cycle.
//
// Shutdown runs in the reverse of construction order.
package app
