package client

import (
	"context"
	"time"

	"github.com/scusemua/jupyter-kernel-client/common/jupyter/channel"
	"github.com/scusemua/jupyter-kernel-client/common/jupyter/messaging"
	"github.com/scusemua/jupyter-kernel-client/common/jupyter/types"
)

// AbstractKernelClient is an extraction of the public methods of the KernelClient struct into an interface,
// so that callers can substitute a mock in unit tests.
type AbstractKernelClient interface {
	StartChannels(ctx context.Context, which ...types.ChannelType) error
	StopChannels()
	ChannelsRunning() bool
	Channel(channelType types.ChannelType) (channel.Channel, error)
	Session() *messaging.Session
	Close() error

	Execute(ctx context.Context, code string, execOpts *ExecuteOptions, opts ...RequestOption) (*RequestResult, error)
	Inspect(ctx context.Context, code string, cursorPos int, detailLevel int, opts ...RequestOption) (*RequestResult, error)
	Complete(ctx context.Context, code string, cursorPos int, opts ...RequestOption) (*RequestResult, error)
	History(ctx context.Context, request *messaging.HistoryRequestContent, opts ...RequestOption) (*RequestResult, error)
	IsComplete(ctx context.Context, code string, opts ...RequestOption) (*RequestResult, error)
	KernelInfo(ctx context.Context, opts ...RequestOption) (*RequestResult, error)
	CommInfo(ctx context.Context, targetName string, opts ...RequestOption) (*RequestResult, error)
	Input(value string) (*RequestResult, error)
	Shutdown(ctx context.Context, restart bool, opts ...RequestOption) (*RequestResult, error)

	GetShellMsg(ctx context.Context, opts ...RequestOption) (*messaging.Message, error)
	GetIOPubMsg(ctx context.Context, opts ...RequestOption) (*messaging.Message, error)
	GetStdinMsg(ctx context.Context, opts ...RequestOption) (*messaging.Message, error)
	GetControlMsg(ctx context.Context, opts ...RequestOption) (*messaging.Message, error)

	ExecuteInteractive(ctx context.Context, code string, opts InteractiveOptions) (*messaging.Message, error)
	WaitForReady(ctx context.Context, timeout time.Duration) error
	IsAlive() (bool, error)
}

var _ AbstractKernelClient = (*KernelClient)(nil)

// RequestResult is the outcome of a request. Reply is only set if the request was sent WithReply.
type RequestResult struct {
	MsgID string
	Reply *messaging.Message
}

type requestOptions struct {
	reply   bool
	timeout *time.Duration
}

type RequestOption func(*requestOptions)

// WithReply makes a request wait for its reply.
func WithReply() RequestOption {
	return func(o *requestOptions) {
		o.reply = true
	}
}

// WithTimeout bounds the wait for a reply or message. Without it, the wait is bounded only by the context.
func WithTimeout(timeout time.Duration) RequestOption {
	return func(o *requestOptions) {
		o.timeout = &timeout
	}
}

func newRequestOptions(opts []RequestOption) *requestOptions {
	o := &requestOptions{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ExecuteOptions are the flags of an execute_request.
type ExecuteOptions struct {
	// Silent asks the kernel not to broadcast output or increment the execution counter. It implies !StoreHistory.
	Silent          bool
	StoreHistory    bool
	UserExpressions map[string]string
	AllowStdin      bool
	StopOnError     bool
}

func DefaultExecuteOptions() *ExecuteOptions {
	return &ExecuteOptions{
		StoreHistory: true,
		StopOnError:  true,
	}
}

func (o *ExecuteOptions) content(code string) *messaging.ExecuteRequestContent {
	userExpressions := o.UserExpressions
	if userExpressions == nil {
		userExpressions = make(map[string]string)
	}

	return &messaging.ExecuteRequestContent{
		Code:            code,
		Silent:          o.Silent,
		StoreHistory:    o.StoreHistory && !o.Silent,
		UserExpressions: userExpressions,
		AllowStdin:      o.AllowStdin,
		StopOnError:     o.StopOnError,
	}
}
