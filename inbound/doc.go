// Package inbound routes broker messages to registered listeners.
//
// Each broker side (platform, device) owns one Handler. Services register
// subscription topics with wildcard placeholders; Handler.Dispatch, wired
// as the broker.Client's Listener, finds the first matching registration
// and submits the callback onto that side's command buffer so the
// listener runs serialized with every other mutation on that side.
package inbound
