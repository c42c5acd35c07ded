package channel

import (
	"context"
	"fmt"

	"github.com/scusemua/jupyter-kernel-client/common/jupyter"
	"github.com/scusemua/jupyter-kernel-client/common/jupyter/messaging"
	"github.com/scusemua/jupyter-kernel-client/common/jupyter/transport"
	"github.com/scusemua/jupyter-kernel-client/common/jupyter/types"
)

// ChannelFactory creates the channel of the given type.
type ChannelFactory func(ctx context.Context, channelType types.ChannelType) (Channel, error)

// ChannelFactories configures how a client creates each of its channels.
type ChannelFactories struct {
	Shell     ChannelFactory
	IOPub     ChannelFactory
	Stdin     ChannelFactory
	Control   ChannelFactory
	Heartbeat ChannelFactory
}

// NewTransportChannelFactory returns a factory that opens channels on the transport and encodes them with the codec.
func NewTransportChannelFactory(tr transport.MessageTransport, codec messaging.MessageCodec) ChannelFactory {
	return func(ctx context.Context, channelType types.ChannelType) (Channel, error) {
		return Open(ctx, tr, channelType, codec)
	}
}

// NewChannelFactories returns factories for every channel of a kernel reachable through the transport.
// The heartbeat channel uses the heartbeat codec; every other channel uses codec.
func NewChannelFactories(tr transport.MessageTransport, codec messaging.MessageCodec) ChannelFactories {
	factory := NewTransportChannelFactory(tr, codec)
	return ChannelFactories{
		Shell:     factory,
		IOPub:     factory,
		Stdin:     factory,
		Control:   factory,
		Heartbeat: NewTransportChannelFactory(tr, messaging.HeartbeatCodec{}),
	}
}

// For returns the factory of the given channel type.
func (f ChannelFactories) For(channelType types.ChannelType) (ChannelFactory, error) {
	var factory ChannelFactory
	switch channelType {
	case types.ShellChannel:
		factory = f.Shell
	case types.IOPubChannel:
		factory = f.IOPub
	case types.StdinChannel:
		factory = f.Stdin
	case types.ControlChannel:
		factory = f.Control
	case types.HBChannel:
		factory = f.Heartbeat
	}

	if factory == nil {
		return nil, fmt.Errorf("%w: no factory configured for %v channel", jupyter.ErrNoSuchChannel, channelType)
	}
	return factory, nil
}
