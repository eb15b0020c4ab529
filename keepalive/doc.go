// Package keepalive publishes periodic keep-alive pings toward the
// platform and records the platform-reported timestamp used to stamp
// zero-timestamp ("server-stamped") readings.
package keepalive
