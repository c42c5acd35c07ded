package jupyter

import (
	"errors"
	"time"
)

var (
	DefaultHeartbeatInterval      = 1 * time.Second
	DefaultHeartbeatMissThreshold = 1
	DefaultReadyTimeout           = 60 * time.Second
	DefaultSendQueueSize          = 16
	DefaultRecvQueueSize          = 128

	// ProtocolVersion is the version of the Jupyter messaging protocol spoken by the client.
	ProtocolVersion = "5.3"

	ErrTimeout          = errors.New("timed out")
	ErrChannelClosed    = errors.New("channel closed")
	ErrNotRunning       = errors.New("heartbeat monitor is not running")
	ErrProtocolMismatch = errors.New("reply does not correspond to any pending request")
	ErrKernelNotReady   = errors.New("kernel not ready")
	ErrClientClosed     = errors.New("kernel client closed")
	ErrNoSuchChannel    = errors.New("channel not started")
	ErrUnknownRequest   = errors.New("unknown request")
	ErrDuplicateRequest = errors.New("a request with the same message id is already pending")
)
