package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"
	"github.com/scusemua/jupyter-kernel-client/common/jupyter"
	"github.com/scusemua/jupyter-kernel-client/common/jupyter/messaging"
	"github.com/scusemua/jupyter-kernel-client/common/jupyter/transport"
	"github.com/scusemua/jupyter-kernel-client/common/jupyter/types"
	"github.com/scusemua/jupyter-kernel-client/common/queue"
	"github.com/scusemua/jupyter-kernel-client/common/utils"
)

const (
	recvRetryInterval = 10 * time.Millisecond
)

// Channel is a single logical duplex message stream to the kernel.
type Channel interface {
	Type() types.ChannelType

	// Send enqueues the message for transmission and returns without waiting for the transport.
	// Encoding errors are returned immediately. Send fails with jupyter.ErrChannelClosed once the channel is closed.
	Send(msg *messaging.Message) error

	// Receive waits for the next inbound message until the context is done.
	// It fails with jupyter.ErrTimeout if the context's deadline passes, with the context's error if it is
	// cancelled, and with jupyter.ErrChannelClosed once the channel is closed and no buffered message remains.
	Receive(ctx context.Context) (*messaging.Message, error)

	// Flush discards every buffered inbound message and returns how many were discarded.
	Flush() int

	Close() error
	IsClosed() bool

	// Done is closed when the channel is closed, either locally or by the transport.
	Done() <-chan struct{}
}

// transportChannel is a Channel on top of a transport.MessageTransport.
// A writer goroutine drains the outbox and a reader goroutine decodes inbound frames into the inbox.
type transportChannel struct {
	log logger.Logger

	channelType types.ChannelType
	transport   transport.MessageTransport
	handle      transport.Handle
	codec       messaging.MessageCodec

	ctx    context.Context
	cancel context.CancelFunc

	outboxMu    sync.Mutex
	outbox      *queue.Fifo[[][]byte]
	outboxReady chan struct{}

	inbox chan *messaging.Message

	closed    chan struct{}
	closeOnce sync.Once
}

// Open opens the transport endpoint of the channel and starts serving it.
func Open(ctx context.Context, tr transport.MessageTransport, channelType types.ChannelType, codec messaging.MessageCodec) (Channel, error) {
	handle, err := tr.Open(ctx, channelType)
	if err != nil {
		return nil, fmt.Errorf("could not open %v channel: %w", channelType, err)
	}

	c := &transportChannel{
		channelType: channelType,
		transport:   tr,
		handle:      handle,
		codec:       codec,
		outbox:      queue.NewFifo[[][]byte](jupyter.DefaultSendQueueSize),
		outboxReady: make(chan struct{}, 1),
		inbox:       make(chan *messaging.Message, jupyter.DefaultRecvQueueSize),
		closed:      make(chan struct{}),
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	config.InitLogger(&c.log, fmt.Sprintf("Channel[%s] ", channelType.String()))

	go c.write()
	go c.read()

	return c, nil
}

func (c *transportChannel) Type() types.ChannelType {
	return c.channelType
}

func (c *transportChannel) Send(msg *messaging.Message) error {
	if c.IsClosed() {
		return jupyter.ErrChannelClosed
	}

	frames, err := c.codec.Encode(msg)
	if err != nil {
		return fmt.Errorf("could not encode \"%s\" message %s for %v channel: %w", msg.Type(), msg.MsgID(), c.channelType, err)
	}

	c.outboxMu.Lock()
	c.outbox.Enqueue(frames)
	c.outboxMu.Unlock()

	select {
	case c.outboxReady <- struct{}{}:
	default:
		// The writer has already been notified.
	}

	return nil
}

func (c *transportChannel) Receive(ctx context.Context) (*messaging.Message, error) {
	select {
	case msg := <-c.inbox:
		return msg, nil
	default:
	}

	select {
	case msg := <-c.inbox:
		return msg, nil
	case <-c.closed:
		select {
		case msg := <-c.inbox:
			return msg, nil
		default:
			return nil, jupyter.ErrChannelClosed
		}
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: no message received on %v channel", jupyter.ErrTimeout, c.channelType)
		}
		return nil, ctx.Err()
	}
}

func (c *transportChannel) Flush() int {
	flushed := 0
	for {
		select {
		case <-c.inbox:
			flushed++
		default:
			if flushed > 0 {
				c.log.Debug("Flushed %d buffered message(s).", flushed)
			}
			return flushed
		}
	}
}

func (c *transportChannel) Close() error {
	return c.shutdown()
}

func (c *transportChannel) IsClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *transportChannel) Done() <-chan struct{} {
	return c.closed
}

func (c *transportChannel) shutdown() (err error) {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.cancel()
		err = c.transport.Close(c.handle)
		c.log.Debug("Closed channel %s.", c.handle.String())
	})
	return err
}

func (c *transportChannel) write() {
	for {
		select {
		case <-c.closed:
			return
		case <-c.outboxReady:
		}

		c.outboxMu.Lock()
		batch := c.outbox.DequeueAll()
		c.outboxMu.Unlock()

		for _, frames := range batch {
			err := c.transport.Send(c.ctx, c.handle, frames)
			if err == nil {
				continue
			}

			if errors.Is(err, jupyter.ErrChannelClosed) {
				c.log.Warn(utils.OrangeStyle.Render("Transport closed %s while sending; closing channel."), c.handle.String())
				_ = c.shutdown()
				return
			}

			if c.ctx.Err() != nil {
				return
			}

			c.log.Error(utils.RedStyle.Render("Failed to send message on %s: %v"), c.handle.String(), err)
		}
	}
}

func (c *transportChannel) read() {
	for {
		frames, err := c.transport.Recv(c.ctx, c.handle)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}

			if errors.Is(err, jupyter.ErrChannelClosed) {
				c.log.Warn(utils.OrangeStyle.Render("Transport closed %s; closing channel."), c.handle.String())
				_ = c.shutdown()
				return
			}

			c.log.Warn("Error while receiving on %s: %v", c.handle.String(), err)
			time.Sleep(recvRetryInterval)
			continue
		}

		msg, err := c.codec.Decode(frames)
		if err != nil {
			c.log.Warn(utils.OrangeStyle.Render("Discarding undecodable message on %s: %v"), c.handle.String(), err)
			continue
		}

		select {
		case c.inbox <- msg:
		case <-c.closed:
			return
		}
	}
}
