// Package wire defines the gateway's core data model: devices, templates,
// readings, and the message envelopes exchanged with the platform and
// device brokers.
//
// Types in this package are pure data - no I/O, no broker or storage
// dependencies - so every other package in the module can depend on it
// without creating import cycles.
package wire
