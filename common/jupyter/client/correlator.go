package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"
	"github.com/Scusemua/go-utils/promise"
	"github.com/elliotchance/orderedmap/v2"
	"github.com/petermattis/goid"
	"github.com/scusemua/jupyter-kernel-client/common/jupyter"
	"github.com/scusemua/jupyter-kernel-client/common/jupyter/channel"
	"github.com/scusemua/jupyter-kernel-client/common/jupyter/messaging"
	"github.com/scusemua/jupyter-kernel-client/common/metrics"
	"github.com/scusemua/jupyter-kernel-client/common/utils"
)

var (
	ErrRequestAbandoned = errors.New("request abandoned before its reply arrived")
)

// PendingRequest is a request that is waiting for the reply whose parent is MsgID.
type PendingRequest struct {
	MsgID   string
	MsgType messaging.JupyterMessageType
	Channel channel.Channel
	SentAt  time.Time

	deadline    time.Time
	hasDeadline bool

	// promise is nil for requests that were sent without expecting a reply.
	promise *promise.ChannelPromise
}

// Deadline returns the time at which the request times out, if it has one.
func (r *PendingRequest) Deadline() (time.Time, bool) {
	return r.deadline, r.hasDeadline
}

func (r *PendingRequest) String() string {
	return fmt.Sprintf("%s(%s on %v)", r.MsgType, r.MsgID, r.Channel.Type())
}

// dispatchState tracks the receive loop of one channel. The loop runs while the channel has pending requests
// or open subscriptions.
type dispatchState struct {
	pending int
	waiters int
	cancel  context.CancelFunc
}

// ReplyCorrelator matches replies to the requests that caused them.
//
// Every channel with at least one pending request or open subscription has exactly one receive loop that routes
// inbound messages by their parent message ID. Messages whose parent matches no pending request on that channel
// are queued for the subscriptions of the channel if any are open, and discarded otherwise.
// The pending table is guarded by a single mutex that is never held while sending or receiving.
type ReplyCorrelator struct {
	log     logger.Logger
	metrics *metrics.KernelClientMetrics

	mu        sync.Mutex
	pending   *orderedmap.OrderedMap[string, *PendingRequest]
	dispatch  map[channel.Channel]*dispatchState
	unmatched map[channel.Channel]chan *messaging.Message
	closed    bool
	done      chan struct{}
}

func NewReplyCorrelator(m *metrics.KernelClientMetrics) *ReplyCorrelator {
	c := &ReplyCorrelator{
		metrics:   m,
		pending:   orderedmap.NewOrderedMap[string, *PendingRequest](),
		dispatch:  make(map[channel.Channel]*dispatchState),
		unmatched: make(map[channel.Channel]chan *messaging.Message),
		done:      make(chan struct{}),
	}
	config.InitLogger(&c.log, c)
	return c
}

// SendRequest sends msg on ch. If expectReply is true, a PendingRequest is registered before the message is
// sent, so that an immediate reply cannot be missed. A non-nil timeout sets the deadline of the request,
// measured from now.
func (c *ReplyCorrelator) SendRequest(ch channel.Channel, msg *messaging.Message, expectReply bool, timeout *time.Duration) (*PendingRequest, error) {
	req := &PendingRequest{
		MsgID:   msg.MsgID(),
		MsgType: msg.Type(),
		Channel: ch,
		SentAt:  time.Now(),
	}

	if !expectReply {
		if err := ch.Send(msg); err != nil {
			return nil, err
		}

		c.metrics.RequestSent(ch.Type().String(), msg.Type().String())
		return req, nil
	}

	req.promise = promise.NewChannelPromise()
	if timeout != nil {
		req.promise.SetTimeout(*timeout)
		req.deadline, req.hasDeadline = req.promise.Deadline()
	}

	if err := c.register(req); err != nil {
		return nil, err
	}

	if err := ch.Send(msg); err != nil {
		c.release(req)
		return nil, err
	}

	c.metrics.RequestSent(ch.Type().String(), msg.Type().String())
	c.log.Debug("[gid=%d] Sent %v, awaiting reply.", goid.Get(), req)
	return req, nil
}

// AwaitReply blocks until the reply to req arrives, the deadline of req passes, or ctx is done.
//
// On timeout the PendingRequest is released before returning jupyter.ErrTimeout, so a late reply is discarded.
// If the reply wins the race against the deadline, the reply is returned.
func (c *ReplyCorrelator) AwaitReply(ctx context.Context, req *PendingRequest) (*messaging.Message, error) {
	if req == nil || req.promise == nil {
		return nil, fmt.Errorf("%w: request was not sent with a reply expected", jupyter.ErrUnknownRequest)
	}

	stop := context.AfterFunc(ctx, func() {
		if !c.release(req) {
			return
		}

		err := ctx.Err()
		if errors.Is(err, context.DeadlineExceeded) {
			c.metrics.RequestTimedOut(req.Channel.Type().String())
			err = fmt.Errorf("%w: no reply to %v: %w", jupyter.ErrTimeout, req, err)
		}
		_, _ = req.promise.Resolve(nil, err)
	})
	defer stop()

	if req.hasDeadline {
		if err := req.promise.Timeout(); errors.Is(err, promise.ErrTimeout) && c.release(req) {
			c.metrics.RequestTimedOut(req.Channel.Type().String())
			c.log.Debug("[gid=%d] %v timed out after %v.", goid.Get(), req, time.Since(req.SentAt))
			_, _ = req.promise.Resolve(nil, fmt.Errorf("%w: no reply to %v within %v", jupyter.ErrTimeout, req, req.deadline.Sub(req.SentAt)))
		}
	}

	// If the entry could not be released, whoever removed it is about to resolve the promise.
	ret, err := req.promise.Result()
	if err != nil {
		return nil, err
	}

	return ret.(*messaging.Message), nil
}

// Abandon releases a pending request without waiting for its reply. A reply that arrives later is discarded.
func (c *ReplyCorrelator) Abandon(req *PendingRequest) {
	if req == nil || req.promise == nil {
		return
	}

	if c.release(req) {
		_, _ = req.promise.Resolve(nil, ErrRequestAbandoned)
	}
}

// Pending returns the number of requests waiting for a reply.
func (c *ReplyCorrelator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.pending.Len()
}

// IsServing returns true if a receive loop is running for the channel.
func (c *ReplyCorrelator) IsServing(ch channel.Channel) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.dispatch[ch]
	return ok
}

// Subscription receives the messages of a channel that are not replies to pending requests.
// The receive loop of the channel runs and queues such messages until the subscription is closed.
// Subscriptions of one channel share its queue, so each message is returned to only one of them.
type Subscription struct {
	correlator *ReplyCorrelator
	ch         channel.Channel
	unmatched  chan *messaging.Message
	closeOnce  sync.Once
}

// Subscribe starts receiving the messages of ch that are not replies to pending requests.
//
// While a receive loop serves ch, it is the only reader of the channel, so callers that want raw messages
// must receive them through a Subscription rather than from ch directly.
func (c *ReplyCorrelator) Subscribe(ch channel.Channel) (*Subscription, error) {
	unmatched, err := c.addWaiter(ch)
	if err != nil {
		return nil, err
	}

	return &Subscription{correlator: c, ch: ch, unmatched: unmatched}, nil
}

// Receive returns the next unmatched message. It fails with jupyter.ErrTimeout if the deadline of ctx passes
// and with jupyter.ErrChannelClosed once the channel is closed and no queued message remains.
func (s *Subscription) Receive(ctx context.Context) (*messaging.Message, error) {
	select {
	case msg := <-s.unmatched:
		return msg, nil
	default:
	}

	select {
	case msg := <-s.unmatched:
		return msg, nil
	case <-s.ch.Done():
		select {
		case msg := <-s.unmatched:
			return msg, nil
		default:
			return nil, jupyter.ErrChannelClosed
		}
	case <-s.correlator.done:
		return nil, jupyter.ErrClientClosed
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: no message received on %v channel", jupyter.ErrTimeout, s.ch.Type())
		}
		return nil, ctx.Err()
	}
}

// Close stops the subscription. Unmatched messages that arrive afterwards are discarded unless another
// subscription of the channel is open.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.correlator.removeWaiter(s.ch)
	})
}

// Receive returns the next message on ch that is not the reply to a pending request.
func (c *ReplyCorrelator) Receive(ctx context.Context, ch channel.Channel) (*messaging.Message, error) {
	sub, err := c.Subscribe(ch)
	if err != nil {
		return nil, err
	}
	defer sub.Close()

	return sub.Receive(ctx)
}

// Flush discards the messages queued for the subscriptions of ch.
func (c *ReplyCorrelator) Flush(ch channel.Channel) int {
	c.mu.Lock()
	unmatched, ok := c.unmatched[ch]
	c.mu.Unlock()

	if !ok {
		return 0
	}

	for n := 0; ; n++ {
		select {
		case <-unmatched:
		default:
			return n
		}
	}
}

// Close fails every pending request and every subscription with jupyter.ErrClientClosed.
// Subsequent requests are rejected.
func (c *ReplyCorrelator) Close() {
	c.mu.Lock()
	if !c.closed {
		close(c.done)
	}
	c.closed = true
	failed := c.releaseAllLocked(nil)
	c.mu.Unlock()

	for _, req := range failed {
		_, _ = req.promise.Resolve(nil, jupyter.ErrClientClosed)
	}
}

func (c *ReplyCorrelator) register(req *PendingRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return jupyter.ErrClientClosed
	}

	if _, loaded := c.pending.Get(req.MsgID); loaded {
		return fmt.Errorf("%w: %s", jupyter.ErrDuplicateRequest, req.MsgID)
	}

	c.pending.Set(req.MsgID, req)
	c.metrics.SetPendingRequests(c.pending.Len())

	c.dispatchLocked(req.Channel).pending++

	c.log.Debug(utils.IncrementPendingStyle.Render("[gid=%d] Registered %v. Pending: %d."), goid.Get(), req, c.pending.Len())
	return nil
}

// release removes req from the pending table. It returns false if req was no longer pending.
func (c *ReplyCorrelator) release(req *PendingRequest) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.releaseLocked(req)
}

func (c *ReplyCorrelator) releaseLocked(req *PendingRequest) bool {
	current, ok := c.pending.Get(req.MsgID)
	if !ok || current != req {
		return false
	}

	c.pending.Delete(req.MsgID)
	c.metrics.SetPendingRequests(c.pending.Len())
	c.log.Debug(utils.DecrementPendingStyle.Render("[gid=%d] Released %v. Pending: %d."), goid.Get(), req, c.pending.Len())

	if state, ok := c.dispatch[req.Channel]; ok {
		state.pending--
		c.stopIdleLocked(req.Channel, state)
	}

	return true
}

// dispatchLocked returns the dispatch state of ch, starting its receive loop if none is running.
func (c *ReplyCorrelator) dispatchLocked(ch channel.Channel) *dispatchState {
	state, ok := c.dispatch[ch]
	if !ok {
		ctx, cancel := context.WithCancel(context.Background())
		state = &dispatchState{cancel: cancel}
		c.dispatch[ch] = state

		c.log.Debug("[gid=%d] Starting receive loop for %v channel.", goid.Get(), ch.Type())
		go c.serve(ctx, ch)
	}

	return state
}

// stopIdleLocked stops the receive loop of ch once nothing is pending on it and no subscription is open.
func (c *ReplyCorrelator) stopIdleLocked(ch channel.Channel, state *dispatchState) {
	if state.pending > 0 || state.waiters > 0 {
		return
	}

	state.cancel()
	delete(c.dispatch, ch)
}

func (c *ReplyCorrelator) addWaiter(ch channel.Channel) (chan *messaging.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, jupyter.ErrClientClosed
	}

	unmatched, ok := c.unmatched[ch]
	if !ok {
		unmatched = make(chan *messaging.Message, jupyter.DefaultRecvQueueSize)
		c.unmatched[ch] = unmatched
	}

	c.dispatchLocked(ch).waiters++
	return unmatched, nil
}

func (c *ReplyCorrelator) removeWaiter(ch channel.Channel) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if state, ok := c.dispatch[ch]; ok {
		state.waiters--
		c.stopIdleLocked(ch, state)
	}

	if ch.IsClosed() {
		delete(c.unmatched, ch)
	}
}

// releaseAllLocked releases every pending request on ch, or on every channel if ch is nil, oldest first.
func (c *ReplyCorrelator) releaseAllLocked(ch channel.Channel) []*PendingRequest {
	var matched []*PendingRequest
	for el := c.pending.Front(); el != nil; el = el.Next() {
		if ch == nil || el.Value.Channel == ch {
			matched = append(matched, el.Value)
		}
	}

	for _, req := range matched {
		c.releaseLocked(req)
	}

	return matched
}

func (c *ReplyCorrelator) serve(ctx context.Context, ch channel.Channel) {
	for ctx.Err() == nil {
		msg, err := ch.Receive(ctx)
		if err != nil {
			if errors.Is(err, jupyter.ErrChannelClosed) {
				c.failChannel(ch)
				return
			}

			if ctx.Err() != nil {
				break
			}

			c.log.Warn("[gid=%d] Unexpected error while receiving on %v channel: %v", goid.Get(), ch.Type(), err)
			continue
		}

		c.route(ctx, ch, msg)
	}

	c.log.Debug("[gid=%d] Receive loop for %v channel exiting: nothing pending.", goid.Get(), ch.Type())
}

// deliverUnmatched queues msg for the subscriptions of ch. It returns false if none is open or the queue is full.
//
// A loop that was stopped may still take one message off the channel. That message is queued even without
// subscribers, as it would otherwise have stayed in the channel for the next raw receive.
func (c *ReplyCorrelator) deliverUnmatched(ch channel.Channel, msg *messaging.Message, stopped bool) bool {
	c.mu.Lock()
	state, ok := c.dispatch[ch]
	subscribed := ok && state.waiters > 0
	unmatched, queued := c.unmatched[ch]
	c.mu.Unlock()

	if !queued || (!subscribed && !stopped) {
		return false
	}

	select {
	case unmatched <- msg:
		return true
	default:
		c.log.Warn(utils.OrangeStyle.Render("Queue of unmatched %v messages is full."), ch.Type())
		return false
	}
}

func (c *ReplyCorrelator) route(ctx context.Context, ch channel.Channel, msg *messaging.Message) {
	parentID := msg.ParentID()

	c.mu.Lock()
	req, ok := c.pending.Get(parentID)
	if ok && req.Channel == ch {
		c.releaseLocked(req)
	} else {
		ok = false
	}
	c.mu.Unlock()

	if !ok {
		if c.deliverUnmatched(ch, msg, ctx.Err() != nil) {
			return
		}

		c.metrics.MessageDiscarded(ch.Type().String())
		c.log.Debug("[gid=%d] Discarding \"%s\" message %s on %v channel (parent=\"%s\"): %v",
			goid.Get(), msg.Type(), msg.MsgID(), ch.Type(), parentID, jupyter.ErrProtocolMismatch)
		return
	}

	latency := time.Since(req.SentAt)
	c.metrics.ReplyReceived(ch.Type().String(), latency)
	c.log.Debug("[gid=%d] Received \"%s\" reply to %v after %v.", goid.Get(), msg.Type(), req, latency)

	if _, err := req.promise.Resolve(msg, nil); err != nil {
		c.log.Warn(utils.OrangeStyle.Render("Reply to %v arrived after the request was resolved: %v"), req, err)
	}
}

func (c *ReplyCorrelator) failChannel(ch channel.Channel) {
	c.mu.Lock()
	failed := c.releaseAllLocked(ch)
	if state, ok := c.dispatch[ch]; ok {
		state.cancel()
		delete(c.dispatch, ch)
	}
	c.mu.Unlock()

	if len(failed) > 0 {
		c.log.Warn(utils.OrangeStyle.Render("%v channel closed with %d pending request(s)."), ch.Type(), len(failed))
	}

	for _, req := range failed {
		_, _ = req.promise.Resolve(nil, fmt.Errorf("%w: %v", jupyter.ErrChannelClosed, req))
	}
}
