// Package messaging holds the two output sinks a fetch run writes to:
// content (FetchedDatum) and status (StatusDatum). Each is a thin
// channel-backed queue carrying a typed datum, with a disabled variant
// so either sink can be turned off independently of the other.
package messaging

import "github.com/codepr/fetchcore"

// ContentSink receives FetchedDatum tuples.
type ContentSink interface {
	EmitContent(fetchcore.FetchedDatum)
}

// StatusSink receives StatusDatum tuples.
type StatusSink interface {
	EmitStatus(fetchcore.StatusDatum)
}

// ChannelContentSink is a ContentSink backed by a buffered Go channel.
type ChannelContentSink struct {
	bus chan fetchcore.FetchedDatum
}

// NewChannelContentSink returns a ChannelContentSink with the given buffer
// size.
func NewChannelContentSink(buffer int) *ChannelContentSink {
	return &ChannelContentSink{bus: make(chan fetchcore.FetchedDatum, buffer)}
}

// EmitContent implements ContentSink.
func (c *ChannelContentSink) EmitContent(d fetchcore.FetchedDatum) {
	c.bus <- d
}

// Chan exposes the underlying channel for a consumer to range over.
func (c *ChannelContentSink) Chan() <-chan fetchcore.FetchedDatum {
	return c.bus
}

// Close closes the underlying channel; callers must stop calling
// EmitContent before closing.
func (c *ChannelContentSink) Close() {
	close(c.bus)
}

// ChannelStatusSink is a StatusSink backed by a Go channel.
type ChannelStatusSink struct {
	bus chan fetchcore.StatusDatum
}

// NewChannelStatusSink returns a ChannelStatusSink with the given buffer
// size.
func NewChannelStatusSink(buffer int) *ChannelStatusSink {
	return &ChannelStatusSink{bus: make(chan fetchcore.StatusDatum, buffer)}
}

// EmitStatus implements StatusSink.
func (c *ChannelStatusSink) EmitStatus(d fetchcore.StatusDatum) {
	c.bus <- d
}

// Chan exposes the underlying channel for a consumer to range over.
func (c *ChannelStatusSink) Chan() <-chan fetchcore.StatusDatum {
	return c.bus
}

// Close closes the underlying channel; callers must stop calling
// EmitStatus before closing.
func (c *ChannelStatusSink) Close() {
	close(c.bus)
}

// DisabledContentSink discards everything it receives, for when the
// content sink is turned off.
type DisabledContentSink struct{}

// EmitContent implements ContentSink by discarding d.
func (DisabledContentSink) EmitContent(fetchcore.FetchedDatum) {}

// DisabledStatusSink discards everything it receives.
type DisabledStatusSink struct{}

// EmitStatus implements StatusSink by discarding d.
func (DisabledStatusSink) EmitStatus(fetchcore.StatusDatum) {}
