package channel

import (
	"context"
	"sync/atomic"

	"mercator-hq/dispatch/pkg/scheduler"
)

// SendFunc delivers content to recipient.
type SendFunc func(ctx context.Context, recipient string, content scheduler.Content) (*scheduler.SendResult, error)

// Func adapts a SendFunc into a Channel with a settable status.
type Func struct {
	send   SendFunc
	status atomic.Value
}

// NewFunc creates a connected channel that sends through fn.
func NewFunc(fn SendFunc) *Func {
	f := &Func{send: fn}
	f.status.Store(scheduler.ChannelConnected)
	return f
}

// SetStatus changes the reported status.
func (f *Func) SetStatus(s scheduler.ChannelStatus) {
	f.status.Store(s)
}

// Status implements scheduler.Channel.
func (f *Func) Status() scheduler.ChannelStatus {
	return f.status.Load().(scheduler.ChannelStatus)
}

// Send implements scheduler.Channel.
func (f *Func) Send(ctx context.Context, recipient string, content scheduler.Content) (*scheduler.SendResult, error) {
	return f.send(ctx, recipient, content)
}
