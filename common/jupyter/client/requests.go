package client

import (
	"context"
	"unicode/utf8"

	"github.com/scusemua/jupyter-kernel-client/common/jupyter/messaging"
	"github.com/scusemua/jupyter-kernel-client/common/jupyter/types"
)

// request builds a message of the given type, sends it on the channel, and waits for its reply if WithReply is given.
func (c *KernelClient) request(ctx context.Context, channelType types.ChannelType, msgType messaging.JupyterMessageType, content interface{}, parent *messaging.MessageHeader, opts ...RequestOption) (*RequestResult, error) {
	o := newRequestOptions(opts)

	ch, err := c.Channel(channelType)
	if err != nil {
		return nil, err
	}

	msg := c.session.NewMessage(msgType, content, parent)
	req, err := c.correlator.SendRequest(ch, msg, o.reply, o.timeout)
	if err != nil {
		return nil, err
	}

	result := &RequestResult{MsgID: req.MsgID}
	if !o.reply {
		return result, nil
	}

	result.Reply, err = c.correlator.AwaitReply(ctx, req)
	if err != nil {
		return result, err
	}

	return result, nil
}

// Execute sends an execute_request on the shell channel. A nil execOpts uses DefaultExecuteOptions.
func (c *KernelClient) Execute(ctx context.Context, code string, execOpts *ExecuteOptions, opts ...RequestOption) (*RequestResult, error) {
	if execOpts == nil {
		execOpts = DefaultExecuteOptions()
	}

	return c.request(ctx, types.ShellChannel, messaging.ExecuteRequest, execOpts.content(code), nil, opts...)
}

// Inspect sends an inspect_request on the shell channel. A negative cursorPos means the end of code.
func (c *KernelClient) Inspect(ctx context.Context, code string, cursorPos int, detailLevel int, opts ...RequestOption) (*RequestResult, error) {
	content := &messaging.InspectRequestContent{
		Code:        code,
		CursorPos:   cursorOrEnd(code, cursorPos),
		DetailLevel: detailLevel,
	}

	return c.request(ctx, types.ShellChannel, messaging.InspectRequest, content, nil, opts...)
}

// Complete sends a complete_request on the shell channel. A negative cursorPos means the end of code.
func (c *KernelClient) Complete(ctx context.Context, code string, cursorPos int, opts ...RequestOption) (*RequestResult, error) {
	content := &messaging.CompleteRequestContent{
		Code:      code,
		CursorPos: cursorOrEnd(code, cursorPos),
	}

	return c.request(ctx, types.ShellChannel, messaging.CompleteRequest, content, nil, opts...)
}

// History sends a history_request on the shell channel. A nil request asks for the raw input of the current session.
func (c *KernelClient) History(ctx context.Context, request *messaging.HistoryRequestContent, opts ...RequestOption) (*RequestResult, error) {
	var content messaging.HistoryRequestContent
	if request != nil {
		content = *request
	} else {
		content.Raw = true
	}

	if content.HistAccessType == "" {
		content.HistAccessType = messaging.HistAccessRange
	}

	return c.request(ctx, types.ShellChannel, messaging.HistoryRequest, &content, nil, opts...)
}

func (c *KernelClient) IsComplete(ctx context.Context, code string, opts ...RequestOption) (*RequestResult, error) {
	return c.request(ctx, types.ShellChannel, messaging.IsCompleteRequest, &messaging.IsCompleteRequestContent{Code: code}, nil, opts...)
}

func (c *KernelClient) KernelInfo(ctx context.Context, opts ...RequestOption) (*RequestResult, error) {
	return c.request(ctx, types.ShellChannel, messaging.KernelInfoRequest, messaging.EmptyContent{}, nil, opts...)
}

func (c *KernelClient) CommInfo(ctx context.Context, targetName string, opts ...RequestOption) (*RequestResult, error) {
	return c.request(ctx, types.ShellChannel, messaging.CommInfoRequest, &messaging.CommInfoRequestContent{TargetName: targetName}, nil, opts...)
}

// Input sends an input_reply with the value on the stdin channel. The kernel does not reply to it.
func (c *KernelClient) Input(value string) (*RequestResult, error) {
	return c.input(nil, value)
}

func (c *KernelClient) input(parent *messaging.MessageHeader, value string) (*RequestResult, error) {
	return c.request(context.Background(), types.StdinChannel, messaging.InputReply, &messaging.InputReplyContent{Value: value}, parent)
}

// Shutdown sends a shutdown_request on the control channel.
func (c *KernelClient) Shutdown(ctx context.Context, restart bool, opts ...RequestOption) (*RequestResult, error) {
	return c.request(ctx, types.ControlChannel, messaging.ShutdownRequest, &messaging.ShutdownRequestContent{Restart: restart}, nil, opts...)
}

// GetShellMsg returns the next message on the shell channel that is not the reply to a request sent WithReply.
//
// Raw receives go through the ReplyCorrelator, so they never take a reply away from a waiting request.
// Unmatched messages that arrive while nobody is receiving and a request is pending are discarded.
func (c *KernelClient) GetShellMsg(ctx context.Context, opts ...RequestOption) (*messaging.Message, error) {
	return c.getMsg(ctx, types.ShellChannel, opts...)
}

func (c *KernelClient) GetIOPubMsg(ctx context.Context, opts ...RequestOption) (*messaging.Message, error) {
	return c.getMsg(ctx, types.IOPubChannel, opts...)
}

func (c *KernelClient) GetStdinMsg(ctx context.Context, opts ...RequestOption) (*messaging.Message, error) {
	return c.getMsg(ctx, types.StdinChannel, opts...)
}

func (c *KernelClient) GetControlMsg(ctx context.Context, opts ...RequestOption) (*messaging.Message, error) {
	return c.getMsg(ctx, types.ControlChannel, opts...)
}

func (c *KernelClient) getMsg(ctx context.Context, channelType types.ChannelType, opts ...RequestOption) (*messaging.Message, error) {
	o := newRequestOptions(opts)

	ch, err := c.Channel(channelType)
	if err != nil {
		return nil, err
	}

	if o.timeout != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *o.timeout)
		defer cancel()
	}

	return c.correlator.Receive(ctx, ch)
}

// cursorOrEnd returns cursorPos, or the length of code in code points if cursorPos is negative.
func cursorOrEnd(code string, cursorPos int) int {
	if cursorPos < 0 {
		return utf8.RuneCountInString(code)
	}
	return cursorPos
}
