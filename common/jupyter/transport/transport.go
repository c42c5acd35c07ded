package transport

import (
	"context"
	"errors"

	"github.com/scusemua/jupyter-kernel-client/common/jupyter/types"
)

var (
	ErrUnknownHandle      = errors.New("handle does not belong to this transport")
	ErrUnsupportedChannel = errors.New("unsupported channel")
	ErrSendNotSupported   = errors.New("sending is not supported on this channel")
)

// Handle identifies an open endpoint of a MessageTransport.
type Handle interface {
	Channel() types.ChannelType
	String() string
}

// MessageTransport moves multipart frames between the client and one endpoint per kernel channel.
//
// Recv honours the deadline of its context, which is how callers bound a receive. Both Send and Recv
// fail with jupyter.ErrChannelClosed once the handle has been closed.
type MessageTransport interface {
	Open(ctx context.Context, channel types.ChannelType) (Handle, error)
	Send(ctx context.Context, handle Handle, frames [][]byte) error
	Recv(ctx context.Context, handle Handle) ([][]byte, error)
	Close(handle Handle) error
}
