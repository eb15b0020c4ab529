// Package protocol dispatches inbound messages to the sub-protocol
// their declaring device's template specifies. A concrete sub-protocol
// lives in a sibling package (jsonprotocol is the default) and
// implements DataService.
package protocol
