// Package persistence durably stores the platform-side publisher's
// pending message queue so it survives a gateway restart. The device
// side uses NoopStore since the device broker is expected to be
// present and persistence there is not required.
package persistence
