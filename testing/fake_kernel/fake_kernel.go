package fake_kernel

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"
	"github.com/scusemua/jupyter-kernel-client/common/jupyter"
	"github.com/scusemua/jupyter-kernel-client/common/jupyter/messaging"
	"github.com/scusemua/jupyter-kernel-client/common/jupyter/transport"
	"github.com/scusemua/jupyter-kernel-client/common/jupyter/types"
	"github.com/scusemua/jupyter-kernel-client/common/queue"
	"github.com/scusemua/jupyter-kernel-client/common/utils"
	"github.com/scusemua/jupyter-kernel-client/common/utils/hashmap"
)

const (
	// RaiseCode makes an execute_request fail with an error.
	RaiseCode = "raise"

	inputReplyTimeout = 5 * time.Second
)

// FakeKernel is a scripted kernel that serves the kernel side of a transport.MemoryTransport.
//
// Shell requests get canned replies. An execute_request publishes busy, execute_input, a stream of the code
// followed by an execute_result, and idle on iopub. Heartbeat pings are echoed.
type FakeKernel struct {
	ID  string
	Key string

	Transport *transport.MemoryTransport
	Codec     *messaging.JupyterCodec

	session *messaging.Session

	// Serving is true between Start and Close.
	Serving atomic.Bool

	dropKernelInfo  atomic.Int32
	heartbeatPaused atomic.Bool
	holdReplies     atomic.Bool
	replyDelay      atomic.Int64
	inputPrompt     atomic.Value

	received *hashmap.ConcurrentMap[messaging.JupyterMessageType, *atomic.Int32]

	mu             sync.Mutex
	held           *queue.Fifo[heldReply]
	executionCount int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	log logger.Logger
}

type heldReply struct {
	channel types.ChannelType
	msg     *messaging.Message
}

func NewFakeKernel(tr *transport.MemoryTransport, key string) *FakeKernel {
	session := messaging.NewSession("kernel")

	kernel := &FakeKernel{
		ID:        session.ID(),
		Key:       key,
		Transport: tr,
		Codec: messaging.NewJupyterCodec(&jupyter.ConnectionInfo{
			SignatureScheme: types.JupyterSignatureScheme,
			Key:             key,
		}),
		session:  session,
		received: hashmap.NewConcurrentMapStringer[messaging.JupyterMessageType, *atomic.Int32](),
		held:     queue.NewFifo[heldReply](4),
	}
	kernel.inputPrompt.Store("")

	config.InitLogger(&kernel.log, fmt.Sprintf("FakeKernel-%s ", utils.Abbreviate(kernel.ID, 8)))

	return kernel
}

// ConnectionInfo returns connection info whose key matches the kernel's.
func (k *FakeKernel) ConnectionInfo() *jupyter.ConnectionInfo {
	return &jupyter.ConnectionInfo{
		IP:              "127.0.0.1",
		Transport:       "inproc",
		SignatureScheme: types.JupyterSignatureScheme,
		Key:             k.Key,
		KernelName:      "fake",
	}
}

func (k *FakeKernel) Start() {
	if k.Serving.Swap(true) {
		return
	}

	k.ctx, k.cancel = context.WithCancel(context.Background())

	for _, channelType := range []types.ChannelType{types.ShellChannel, types.ControlChannel, types.HBChannel} {
		k.wg.Add(1)
		go k.serve(channelType)
	}

	k.log.Debug("Serving shell, control and heartbeat channels.")
}

func (k *FakeKernel) Close() {
	if !k.Serving.Swap(false) {
		return
	}

	k.cancel()
	k.wg.Wait()
}

// DropKernelInfoRequests makes the kernel ignore the next n kernel_info requests.
func (k *FakeKernel) DropKernelInfoRequests(n int) {
	k.dropKernelInfo.Store(int32(n))
}

// PauseHeartbeat stops or resumes echoing heartbeat pings.
func (k *FakeKernel) PauseHeartbeat(paused bool) {
	k.heartbeatPaused.Store(paused)
}

// SetReplyDelay delays every shell and control reply.
func (k *FakeKernel) SetReplyDelay(delay time.Duration) {
	k.replyDelay.Store(int64(delay))
}

// HoldReplies makes the kernel keep its shell and control replies until ReleaseReplies is called.
func (k *FakeKernel) HoldReplies(hold bool) {
	k.holdReplies.Store(hold)
}

// HeldReplies returns the number of replies that are being held.
func (k *FakeKernel) HeldReplies() int {
	k.mu.Lock()
	defer k.mu.Unlock()

	return k.held.Len()
}

// ReleaseReplies sends the held replies, in reverse order if reversed is true.
func (k *FakeKernel) ReleaseReplies(reversed bool) {
	k.mu.Lock()
	held := k.held.DequeueAll()
	k.mu.Unlock()

	for i := range held {
		reply := held[i]
		if reversed {
			reply = held[len(held)-1-i]
		}
		k.send(reply.channel, reply.msg)
	}
}

// RequestInput makes every execute_request ask for input with the prompt before producing output.
// The value that the client supplies is published as the stream text. An empty prompt disables it.
func (k *FakeKernel) RequestInput(prompt string) {
	k.inputPrompt.Store(prompt)
}

// Received returns how many requests of the type the kernel has received.
func (k *FakeKernel) Received(msgType messaging.JupyterMessageType) int {
	count, loaded := k.received.Load(msgType)
	if !loaded {
		return 0
	}

	return int(count.Load())
}

func (k *FakeKernel) countReceived(msgType messaging.JupyterMessageType) {
	count, _ := k.received.LoadOrStore(msgType, &atomic.Int32{})
	count.Add(1)
}

// Publish sends a message on iopub.
func (k *FakeKernel) Publish(msgType messaging.JupyterMessageType, content interface{}, parent *messaging.MessageHeader) {
	k.send(types.IOPubChannel, k.session.NewMessage(msgType, content, parent))
}

func (k *FakeKernel) serve(channelType types.ChannelType) {
	defer k.wg.Done()

	end := k.Transport.KernelEnd(channelType)
	for {
		frames, err := end.Recv(k.ctx)
		if err != nil {
			return
		}

		if channelType == types.HBChannel {
			if k.heartbeatPaused.Load() {
				continue
			}

			if err := end.Send(frames); err != nil {
				k.log.Warn("Failed to echo heartbeat: %v", err)
			}
			continue
		}

		msg, err := k.Codec.Decode(frames)
		if err != nil {
			k.log.Error(utils.RedStyle.Render("Received undecodable message on %v channel: %v"), channelType, err)
			continue
		}

		k.countReceived(msg.Type())

		k.log.Debug("Received \"%s\" request %s on %v channel.", msg.Type(), msg.MsgID(), channelType)
		k.handle(channelType, msg)
	}
}

func (k *FakeKernel) handle(channelType types.ChannelType, req *messaging.Message) {
	switch req.Type() {
	case messaging.KernelInfoRequest:
		if k.dropKernelInfo.Load() > 0 {
			k.dropKernelInfo.Add(-1)
			k.log.Debug("Dropping kernel_info_request %s.", req.MsgID())
			return
		}

		k.reply(channelType, req, &messaging.KernelInfoReplyContent{
			Status:                messaging.ExecuteStatusOK,
			ProtocolVersion:       jupyter.ProtocolVersion,
			Implementation:        "fake",
			ImplementationVersion: "1.0.0",
			LanguageInfo:          map[string]interface{}{"name": "fake"},
			Banner:                "FakeKernel",
		})
	case messaging.ExecuteRequest:
		k.execute(channelType, req)
	case messaging.CompleteRequest:
		var content messaging.CompleteRequestContent
		_ = req.DecodeContent(&content)

		k.reply(channelType, req, &messaging.CompleteReplyContent{
			Status:      messaging.ExecuteStatusOK,
			Matches:     []string{content.Code + "_completion"},
			CursorStart: 0,
			CursorEnd:   content.CursorPos,
			Metadata:    map[string]interface{}{},
		})
	case messaging.IsCompleteRequest:
		var content messaging.IsCompleteRequestContent
		_ = req.DecodeContent(&content)

		status := messaging.IsCompleteStatusComplete
		if strings.HasSuffix(content.Code, ":") {
			status = messaging.IsCompleteStatusIncomplete
		}
		k.reply(channelType, req, &messaging.IsCompleteReplyContent{Status: status})
	case messaging.ShutdownRequest:
		var content messaging.ShutdownRequestContent
		_ = req.DecodeContent(&content)

		k.reply(channelType, req, map[string]interface{}{"status": messaging.ExecuteStatusOK, "restart": content.Restart})
	default:
		replyType, ok := req.Type().ReplyType()
		if !ok {
			k.log.Warn("Ignoring \"%s\" message %s.", req.Type(), req.MsgID())
			return
		}

		k.send(channelType, k.replyMessage(req, replyType, map[string]interface{}{"status": messaging.ExecuteStatusOK}))
	}
}

func (k *FakeKernel) execute(channelType types.ChannelType, req *messaging.Message) {
	var content messaging.ExecuteRequestContent
	if err := req.DecodeContent(&content); err != nil {
		k.log.Error(utils.RedStyle.Render("Could not decode execute_request %s: %v"), req.MsgID(), err)
		return
	}

	k.mu.Lock()
	if !content.Silent && content.StoreHistory {
		k.executionCount++
	}
	executionCount := k.executionCount
	k.mu.Unlock()

	parent := req.Header.Clone()
	k.Publish(messaging.IOStatusMessage, &messaging.MessageKernelStatus{Status: messaging.MessageKernelStatusBusy}, parent)
	k.Publish(messaging.IOExecuteInputMessage, map[string]interface{}{"code": content.Code, "execution_count": executionCount}, parent)

	text := content.Code
	if prompt := k.inputPrompt.Load().(string); prompt != "" && content.AllowStdin {
		value, err := k.requestInput(req, prompt)
		if err != nil {
			k.log.Warn(utils.OrangeStyle.Render("No input_reply for execute_request %s: %v"), req.MsgID(), err)
		}
		text = value
	}

	reply := &messaging.ExecuteReplyContent{
		Status:         messaging.ExecuteStatusOK,
		ExecutionCount: executionCount,
	}

	if content.Code == RaiseCode {
		errContent := &messaging.ErrorContent{
			ErrorName:  "RuntimeError",
			ErrorValue: "raised on request",
			Traceback:  []string{"Traceback (most recent call last):", "RuntimeError: raised on request"},
		}
		k.Publish(messaging.IOErrorMessage, errContent, parent)

		reply.Status = messaging.ExecuteStatusError
		reply.ErrorName = errContent.ErrorName
		reply.ErrorValue = errContent.ErrorValue
		reply.Traceback = errContent.Traceback
	} else {
		k.Publish(messaging.IOStreamMessage, &messaging.StreamContent{Name: "stdout", Text: text + "\n"}, parent)
		k.Publish(messaging.IOExecuteResultMessage, &messaging.ExecuteResultContent{
			ExecutionCount: executionCount,
			Data:           map[string]interface{}{"text/plain": fmt.Sprintf("%d", executionCount)},
			Metadata:       map[string]interface{}{},
		}, parent)
	}

	k.reply(channelType, req, reply)
	k.Publish(messaging.IOStatusMessage, &messaging.MessageKernelStatus{Status: messaging.MessageKernelStatusIdle}, parent)
}

func (k *FakeKernel) requestInput(req *messaging.Message, prompt string) (string, error) {
	stdin := k.Transport.KernelEnd(types.StdinChannel)
	k.send(types.StdinChannel, k.session.NewMessage(messaging.InputRequest, &messaging.InputRequestContent{Prompt: prompt}, req.Header.Clone()))

	ctx, cancel := context.WithTimeout(k.ctx, inputReplyTimeout)
	defer cancel()

	for {
		frames, err := stdin.Recv(ctx)
		if err != nil {
			return "", err
		}

		msg, err := k.Codec.Decode(frames)
		if err != nil || msg.Type() != messaging.InputReply {
			continue
		}

		k.countReceived(msg.Type())

		var content messaging.InputReplyContent
		if err := msg.DecodeContent(&content); err != nil {
			return "", err
		}
		return content.Value, nil
	}
}

func (k *FakeKernel) replyMessage(req *messaging.Message, replyType messaging.JupyterMessageType, content interface{}) *messaging.Message {
	msg := k.session.NewMessage(replyType, content, req.Header.Clone())
	msg.Identities = req.Identities
	return msg
}

func (k *FakeKernel) reply(channelType types.ChannelType, req *messaging.Message, content interface{}) {
	replyType, ok := req.Type().ReplyType()
	if !ok {
		return
	}

	msg := k.replyMessage(req, replyType, content)

	if k.holdReplies.Load() {
		k.mu.Lock()
		k.held.Enqueue(heldReply{channel: channelType, msg: msg})
		k.mu.Unlock()
		return
	}

	if delay := time.Duration(k.replyDelay.Load()); delay > 0 {
		time.AfterFunc(delay, func() { k.send(channelType, msg) })
		return
	}

	k.send(channelType, msg)
}

func (k *FakeKernel) send(channelType types.ChannelType, msg *messaging.Message) {
	frames, err := k.Codec.Encode(msg)
	if err != nil {
		k.log.Error(utils.RedStyle.Render("Could not encode \"%s\" message: %v"), msg.Type(), err)
		return
	}

	if err := k.Transport.KernelEnd(channelType).Send(frames); err != nil {
		k.log.Error(utils.RedStyle.Render("Could not send \"%s\" message on %v channel: %v"), msg.Type(), channelType, err)
	}
}
