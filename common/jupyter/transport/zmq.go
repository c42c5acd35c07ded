package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"
	"github.com/go-zeromq/zmq4"
	"github.com/scusemua/jupyter-kernel-client/common/jupyter"
	"github.com/scusemua/jupyter-kernel-client/common/jupyter/types"
	"github.com/scusemua/jupyter-kernel-client/common/utils"
)

const (
	zmqRecvRetryInterval = 10 * time.Millisecond

	// Each Open retries refused connections at this interval until its context is done
	// or zmqDialMaxRetries retries have failed.
	zmqDialRetryInterval = 250 * time.Millisecond
	zmqDialMaxRetries    = 10
	zmqDialTimeout       = 5 * time.Second
)

// ZMQTransport connects to the ZeroMQ sockets of a kernel described by a jupyter.ConnectionInfo.
//
// Shell, control, stdin and heartbeat use DEALER sockets. IOPub uses a SUB socket subscribed to every topic.
type ZMQTransport struct {
	log logger.Logger

	ctx      context.Context
	cancel   context.CancelFunc
	connInfo *jupyter.ConnectionInfo

	// identity is shared by the shell and stdin sockets so that the kernel can route input requests.
	identity string

	mu      sync.Mutex
	handles map[*zmqHandle]struct{}
}

type zmqHandle struct {
	zmq4.Socket

	channel types.ChannelType
	address string
	name    string

	inbox     chan zmq4.Msg
	closed    chan struct{}
	closeOnce sync.Once
	sendMu    sync.Mutex
}

func (h *zmqHandle) Channel() types.ChannelType {
	return h.channel
}

func (h *zmqHandle) String() string {
	return h.name
}

// NewZMQTransport creates a transport for the kernel described by connInfo.
// The identity is used as the ZeroMQ routing identity of the shell and stdin sockets.
func NewZMQTransport(ctx context.Context, connInfo *jupyter.ConnectionInfo, identity string) *ZMQTransport {
	ctx, cancel := context.WithCancel(ctx)
	t := &ZMQTransport{
		ctx:      ctx,
		cancel:   cancel,
		connInfo: connInfo,
		identity: identity,
		handles:  make(map[*zmqHandle]struct{}),
	}
	config.InitLogger(&t.log, t)
	return t
}

// Open dials the kernel socket of the given channel. Dialing stops when ctx is done, in which case the
// returned error wraps both the last dial error and the context error.
func (t *ZMQTransport) Open(ctx context.Context, channel types.ChannelType) (Handle, error) {
	var (
		socket zmq4.Socket
		port   int
	)

	// Retries are driven by dial so that they can be bounded by ctx.
	opts := []zmq4.Option{zmq4.WithDialerMaxRetries(0), zmq4.WithDialerTimeout(zmqDialTimeout)}

	switch channel {
	case types.ShellChannel:
		socket = zmq4.NewDealer(t.ctx, append(opts, zmq4.WithID(zmq4.SocketIdentity(t.identity)))...)
		port = t.connInfo.ShellPort
	case types.StdinChannel:
		socket = zmq4.NewDealer(t.ctx, append(opts, zmq4.WithID(zmq4.SocketIdentity(t.identity)))...)
		port = t.connInfo.StdinPort
	case types.ControlChannel:
		socket = zmq4.NewDealer(t.ctx, opts...)
		port = t.connInfo.ControlPort
	case types.HBChannel:
		socket = zmq4.NewDealer(t.ctx, opts...)
		port = t.connInfo.HBPort
	case types.IOPubChannel:
		socket = zmq4.NewSub(t.ctx, opts...)
		port = t.connInfo.IOPubPort
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedChannel, channel)
	}

	address := t.connInfo.Address(port)
	t.log.Debug("Dialing %s socket at %s now...", channel.String(), address)

	// Closing the socket aborts a connection attempt that is in progress.
	stop := context.AfterFunc(ctx, func() { _ = socket.Close() })
	err := t.dial(ctx, socket, address)
	if !stop() {
		if err == nil {
			err = ctx.Err()
		}
		return nil, fmt.Errorf("could not connect to kernel %v socket at address %s: %w", channel.String(), address, err)
	}

	if err != nil {
		_ = socket.Close()
		return nil, fmt.Errorf("could not connect to kernel %v socket at address %s: %w", channel.String(), address, err)
	}

	if channel == types.IOPubChannel {
		if err := socket.SetOption(zmq4.OptionSubscribe, ""); err != nil {
			_ = socket.Close()
			return nil, fmt.Errorf("could not subscribe to kernel iopub socket at address %s: %w", address, err)
		}
	}

	h := &zmqHandle{
		Socket:  socket,
		channel: channel,
		address: address,
		name:    fmt.Sprintf("K-%s[%s]", channel.String(), address),
		inbox:   make(chan zmq4.Msg, jupyter.DefaultRecvQueueSize),
		closed:  make(chan struct{}),
	}

	t.mu.Lock()
	t.handles[h] = struct{}{}
	t.mu.Unlock()

	go t.serve(h)

	t.log.Debug("Successfully dialed %s socket at %s.", channel.String(), address)
	return h, nil
}

// dial connects socket to address, retrying failed attempts until ctx is done or the retries run out.
func (t *ZMQTransport) dial(ctx context.Context, socket zmq4.Socket, address string) error {
	var lastErr error

	for attempt := 0; ; attempt++ {
		err := socket.Dial(address)
		if err == nil {
			return nil
		}

		// An attempt aborted by ctx says nothing about the kernel. Report the one before it, if any.
		if ctx.Err() != nil {
			if lastErr == nil {
				lastErr = err
			}
			return errors.Join(lastErr, ctx.Err())
		}

		lastErr = err
		if attempt >= zmqDialMaxRetries {
			return lastErr
		}

		t.log.Debug("Dial attempt %d of %s failed: %v", attempt+1, address, err)

		select {
		case <-ctx.Done():
			return errors.Join(lastErr, ctx.Err())
		case <-time.After(zmqDialRetryInterval):
		}
	}
}

func (t *ZMQTransport) Send(ctx context.Context, handle Handle, frames [][]byte) error {
	h, err := t.handle(handle)
	if err != nil {
		return err
	}

	if h.channel == types.IOPubChannel {
		return fmt.Errorf("%w: %v", ErrSendNotSupported, h.channel)
	}

	select {
	case <-h.closed:
		return jupyter.ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	// The heartbeat echo expects the empty delimiter a REQ socket would add.
	if h.channel == types.HBChannel {
		frames = append([][]byte{{}}, frames...)
	}

	h.sendMu.Lock()
	defer h.sendMu.Unlock()

	if err = h.Socket.Send(zmq4.NewMsgFrom(frames...)); err != nil {
		return fmt.Errorf("failed to send message on %s: %w", h.name, err)
	}

	return nil
}

func (t *ZMQTransport) Recv(ctx context.Context, handle Handle) ([][]byte, error) {
	h, err := t.handle(handle)
	if err != nil {
		return nil, err
	}

	select {
	case msg, ok := <-h.inbox:
		if !ok {
			return nil, jupyter.ErrChannelClosed
		}
		return msg.Frames, nil
	case <-h.closed:
		return nil, jupyter.ErrChannelClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *ZMQTransport) Close(handle Handle) error {
	h, err := t.handle(handle)
	if err != nil {
		return err
	}

	t.mu.Lock()
	delete(t.handles, h)
	t.mu.Unlock()

	return t.close(h)
}

// Shutdown closes every open socket of the transport.
func (t *ZMQTransport) Shutdown() {
	t.mu.Lock()
	handles := t.handles
	t.handles = make(map[*zmqHandle]struct{})
	t.mu.Unlock()

	for h := range handles {
		_ = t.close(h)
	}
	t.cancel()
}

func (t *ZMQTransport) close(h *zmqHandle) (err error) {
	h.closeOnce.Do(func() {
		close(h.closed)
		err = h.Socket.Close()
		t.log.Debug("Closed %s socket at %s.", h.channel.String(), h.address)
	})
	return err
}

func (t *ZMQTransport) handle(handle Handle) (*zmqHandle, error) {
	h, ok := handle.(*zmqHandle)
	if !ok || h == nil {
		return nil, ErrUnknownHandle
	}
	return h, nil
}

// serve pulls messages off the socket so that Recv can honour a context.
func (t *ZMQTransport) serve(h *zmqHandle) {
	defer close(h.inbox)

	for {
		msg, err := h.Socket.Recv()

		select {
		case <-h.closed:
			return
		default:
		}

		if err != nil {
			if errors.Is(err, context.Canceled) || t.ctx.Err() != nil {
				return
			}

			t.log.Warn(utils.OrangeStyle.Render("Error while receiving on %s: %v"), h.name, err)
			time.Sleep(zmqRecvRetryInterval)
			continue
		}

		select {
		case h.inbox <- msg:
		case <-h.closed:
			return
		}
	}
}
