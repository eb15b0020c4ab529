// Package broker wraps an MQTT broker connection for one side of the
// gateway (platform or device).
//
// # Overview
//
// The gateway maintains two independent broker connections: one to the
// upstream, TLS-capable platform broker, and one to the local device
// broker. Each side gets its own Client, its own reconnect behavior, and
// its own inbound listener; the two never share state directly.
//
// # Reconnection
//
// Reconnection is delegated to the underlying paho.mqtt.golang client's
// connect-retry loop, configured with a fixed ReconnectDelay (2s). This
// keeps retry scheduling in a dedicated background goroutine rather than
// having a failed attempt re-enqueue itself onto the command buffer, so a
// stalled broker never starves other queued work on that side.
//
// # Inbound Dispatch
//
// A Client delivers every inbound message to a single Listener, installed
// via SetListener, on one goroutine and in the order the broker delivered
// them. Topic-based routing to individual service callbacks is the
// responsibility of the inbound package, not the broker client.
package broker
