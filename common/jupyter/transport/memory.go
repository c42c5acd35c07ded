package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"
	"github.com/google/uuid"
	"github.com/scusemua/jupyter-kernel-client/common/jupyter"
	"github.com/scusemua/jupyter-kernel-client/common/jupyter/types"
	"github.com/scusemua/jupyter-kernel-client/common/utils/hashmap"
)

const (
	DefaultMemoryPipeCapacity = 1024
)

var (
	ErrPipeFull = errors.New("in-memory pipe is full")
)

// MemoryTransport is an in-process MessageTransport. Every channel is a persistent pair of queues:
// one from the client to the kernel and one from the kernel to the client. The kernel side is
// reached through KernelEnd.
//
// Pipes outlive client handles, so a channel that is closed and re-opened keeps whatever the kernel
// side has already queued.
type MemoryTransport struct {
	log logger.Logger

	pipes    *hashmap.ConcurrentMap[types.ChannelType, *pipe]
	capacity int
}

type pipe struct {
	channel  types.ChannelType
	toKernel chan [][]byte
	toClient chan [][]byte

	mu      sync.Mutex
	handles map[*memoryHandle]struct{}
}

type memoryHandle struct {
	pipe *pipe
	id   string

	closed    chan struct{}
	closeOnce sync.Once
}

func (h *memoryHandle) Channel() types.ChannelType {
	return h.pipe.channel
}

func (h *memoryHandle) String() string {
	return fmt.Sprintf("Mem-%s[%s]", h.pipe.channel.String(), h.id)
}

func (h *memoryHandle) close() {
	h.closeOnce.Do(func() {
		close(h.closed)
	})
}

// NewMemoryTransport creates an in-memory transport whose pipes buffer up to capacity messages in each direction.
func NewMemoryTransport(capacity int) *MemoryTransport {
	if capacity <= 0 {
		capacity = DefaultMemoryPipeCapacity
	}

	t := &MemoryTransport{
		pipes:    hashmap.NewConcurrentMapStringer[types.ChannelType, *pipe](),
		capacity: capacity,
	}
	config.InitLogger(&t.log, t)
	return t
}

func (t *MemoryTransport) pipeFor(channel types.ChannelType) *pipe {
	if p, loaded := t.pipes.Load(channel); loaded {
		return p
	}

	p, _ := t.pipes.LoadOrStore(channel, &pipe{
		channel:  channel,
		toKernel: make(chan [][]byte, t.capacity),
		toClient: make(chan [][]byte, t.capacity),
		handles:  make(map[*memoryHandle]struct{}),
	})
	return p
}

func (t *MemoryTransport) Open(ctx context.Context, channel types.ChannelType) (Handle, error) {
	if channel < types.HBChannel || channel > types.IOPubChannel {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedChannel, channel)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p := t.pipeFor(channel)
	h := &memoryHandle{
		pipe:   p,
		id:     uuid.NewString()[:8],
		closed: make(chan struct{}),
	}

	p.mu.Lock()
	p.handles[h] = struct{}{}
	p.mu.Unlock()

	t.log.Debug("Opened in-memory %s channel %s.", channel.String(), h.String())
	return h, nil
}

func (t *MemoryTransport) Send(ctx context.Context, handle Handle, frames [][]byte) error {
	h, err := t.handle(handle)
	if err != nil {
		return err
	}

	select {
	case <-h.closed:
		return jupyter.ErrChannelClosed
	default:
	}

	if h.pipe.channel == types.IOPubChannel {
		return fmt.Errorf("%w: %v", ErrSendNotSupported, h.pipe.channel)
	}

	select {
	case h.pipe.toKernel <- frames:
		return nil
	case <-h.closed:
		return jupyter.ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *MemoryTransport) Recv(ctx context.Context, handle Handle) ([][]byte, error) {
	h, err := t.handle(handle)
	if err != nil {
		return nil, err
	}

	select {
	case <-h.closed:
		return nil, jupyter.ErrChannelClosed
	default:
	}

	select {
	case frames := <-h.pipe.toClient:
		return frames, nil
	case <-h.closed:
		return nil, jupyter.ErrChannelClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *MemoryTransport) Close(handle Handle) error {
	h, err := t.handle(handle)
	if err != nil {
		return err
	}

	h.pipe.mu.Lock()
	delete(h.pipe.handles, h)
	h.pipe.mu.Unlock()

	h.close()
	return nil
}

// Sever closes every client handle of the channel, as if the kernel had torn the connection down.
func (t *MemoryTransport) Sever(channel types.ChannelType) {
	p := t.pipeFor(channel)

	p.mu.Lock()
	handles := p.handles
	p.handles = make(map[*memoryHandle]struct{})
	p.mu.Unlock()

	for h := range handles {
		h.close()
	}

	t.log.Debug("Severed %d in-memory %s handle(s).", len(handles), channel.String())
}

// KernelEnd returns the kernel side of the channel.
func (t *MemoryTransport) KernelEnd(channel types.ChannelType) *KernelEnd {
	return &KernelEnd{pipe: t.pipeFor(channel)}
}

func (t *MemoryTransport) handle(handle Handle) (*memoryHandle, error) {
	h, ok := handle.(*memoryHandle)
	if !ok || h == nil {
		return nil, ErrUnknownHandle
	}
	return h, nil
}

// KernelEnd is the kernel side of one in-memory channel.
type KernelEnd struct {
	pipe *pipe
}

func (e *KernelEnd) Channel() types.ChannelType {
	return e.pipe.channel
}

// Send queues frames for the client without blocking.
func (e *KernelEnd) Send(frames [][]byte) error {
	select {
	case e.pipe.toClient <- frames:
		return nil
	default:
		return fmt.Errorf("%w: %v", ErrPipeFull, e.pipe.channel)
	}
}

// Recv waits for the next frames sent by the client.
func (e *KernelEnd) Recv(ctx context.Context) ([][]byte, error) {
	select {
	case frames := <-e.pipe.toKernel:
		return frames, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Pending returns the number of messages queued for the kernel.
func (e *KernelEnd) Pending() int {
	return len(e.pipe.toKernel)
}
