// Package registration implements the gateway's device registration
// rules: a device's request is buffered until the gateway's own
// registration succeeds, repeat requests for an already-registered
// template are dropped, and successful platform responses persist the
// device into the repository and fire the onDeviceRegistered callback.
// Platform-initiated reregisterAll and delete operations fan out to
// the child devices the repository currently knows about.
package registration
