// Package inbound matches incoming broker messages against registered
// topic subscriptions using MQTT wildcard semantics and dispatches the
// first match onto a side's command buffer.
package inbound

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/edgelink/gateway/wire"
)

// MessageListener receives a matched message as {channel, payload}.
type MessageListener func(msg wire.Message)

// Submitter enqueues a closure for serialized execution, matching
// commandbuffer.Buffer's Submit signature.
type Submitter interface {
	Submit(fn func()) error
}

type registration struct {
	topic    string
	listener MessageListener
}

// Handler keeps an ordered list of (subscriptionTopic, listener) pairs and
// routes each inbound (topic, payload) pair to the first one whose
// subscription topic matches, via MQTT `+`/`#` wildcard rules.
type Handler struct {
	mu     sync.RWMutex
	regs   []registration
	buffer Submitter
	logger *slog.Logger
}

// NewHandler creates a Handler whose matched messages are submitted to buffer.
func NewHandler(buffer Submitter, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{buffer: buffer, logger: logger}
}

// Register adds a listener for topic. Listeners are tried in registration
// order; the first matching subscription wins.
func (h *Handler) Register(topic string, listener MessageListener) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.regs = append(h.regs, registration{topic: topic, listener: listener})
}

// Deregister removes every listener registered for topic.
func (h *Handler) Deregister(topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	filtered := h.regs[:0]
	for _, r := range h.regs {
		if r.topic != topic {
			filtered = append(filtered, r)
		}
	}
	h.regs = filtered
}

// Dispatch is installed as a broker.Listener. It finds the first matching
// registration for channel and submits the listener invocation onto the
// command buffer; unmatched messages are logged and dropped.
func (h *Handler) Dispatch(channel string, payload []byte) {
	h.mu.RLock()
	var matched *registration
	for i := range h.regs {
		if TopicMatches(h.regs[i].topic, channel) {
			matched = &h.regs[i]
			break
		}
	}
	h.mu.RUnlock()

	if matched == nil {
		h.logger.Info("no listener for inbound message", "channel", channel)
		return
	}

	msg := wire.Message{Channel: channel, Content: string(payload)}
	listener := matched.listener
	if err := h.buffer.Submit(func() { listener(msg) }); err != nil {
		h.logger.Warn("failed to enqueue inbound message", "channel", channel, "error", err)
	}
}

// TopicMatches reports whether channel satisfies the MQTT wildcard
// subscription topic: `+` matches exactly one level, `#` (only valid as
// the final level) matches zero or more trailing levels.
func TopicMatches(subscription, channel string) bool {
	subLevels := strings.Split(subscription, "/")
	chanLevels := strings.Split(channel, "/")

	for i, sub := range subLevels {
		if sub == "#" {
			return true
		}
		if i >= len(chanLevels) {
			return false
		}
		if sub == "+" {
			continue
		}
		if sub != chanLevels[i] {
			return false
		}
	}
	return len(subLevels) == len(chanLevels)
}
