// Package status tracks the gateway's own broker presence and each
// child device's online/offline state, forwarding device transitions
// to the platform and exposing a reconnect hook for other services.
package status
