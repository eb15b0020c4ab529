package app

import "context"

// publisher is the narrow publish.Service surface the adapter needs.
type publisher interface {
	AddMessage(ctx context.Context, channel, content string) error
}

// publishOutbound adapts a publish.Service (AddMessage(ctx, channel,
// content string) error) to protocol.Outbound (Publish(ctx, channel
// string, payload []byte) error), so the domain services can depend on
// the narrow protocol.Outbound contract without knowing which side's
// durable queue they are actually enqueuing onto.
type publishOutbound struct {
	pub publisher
}

func (o *publishOutbound) Publish(ctx context.Context, channel string, payload []byte) error {
	return o.pub.AddMessage(ctx, channel, string(payload))
}
