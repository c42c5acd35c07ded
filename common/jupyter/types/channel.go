package types

import "fmt"

const (
	HBChannel ChannelType = iota
	ControlChannel
	ShellChannel
	StdinChannel
	IOPubChannel
)

var (
	// AllChannels lists every channel of a kernel in the order they are started.
	AllChannels = []ChannelType{ShellChannel, IOPubChannel, StdinChannel, ControlChannel, HBChannel}
)

// ChannelType identifies one of the logical channels of a kernel.
type ChannelType int

func (t ChannelType) String() string {
	if t < HBChannel || t > IOPubChannel {
		return fmt.Sprintf("unknown(%d)", int(t))
	}

	return [...]string{"heartbeat", "control", "shell", "stdin", "iopub"}[t]
}
