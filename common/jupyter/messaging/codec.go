package messaging

import (
	"fmt"

	"github.com/goccy/go-json"
	"github.com/scusemua/jupyter-kernel-client/common/jupyter"
	"github.com/scusemua/jupyter-kernel-client/common/jupyter/types"
)

// MessageCodec converts messages to and from the multipart frames carried by a transport.
type MessageCodec interface {
	Encode(msg *Message) ([][]byte, error)
	Decode(frames [][]byte) (*Message, error)
}

// JupyterCodec implements the signed multipart wire format of the Jupyter messaging protocol.
type JupyterCodec struct {
	SignatureScheme string
	Key             []byte
}

// NewJupyterCodec creates a codec that signs messages with the key from the connection info.
func NewJupyterCodec(connInfo *jupyter.ConnectionInfo) *JupyterCodec {
	scheme := connInfo.SignatureScheme
	if scheme == "" {
		scheme = types.JupyterSignatureScheme
	}

	return &JupyterCodec{
		SignatureScheme: scheme,
		Key:             []byte(connInfo.Key),
	}
}

func (c *JupyterCodec) Encode(msg *Message) ([][]byte, error) {
	frames := types.NewJupyterFramesWithReservation(len(msg.Buffers))

	if err := frames.EncodeHeader(&msg.Header); err != nil {
		return nil, fmt.Errorf("could not encode header of \"%s\" message: %w", msg.Header.MsgType, err)
	}

	// A message without a parent carries an empty parent header object.
	if !msg.ParentHeader.IsEmpty() {
		if err := frames.EncodeParentHeader(&msg.ParentHeader); err != nil {
			return nil, fmt.Errorf("could not encode parent header of \"%s\" message: %w", msg.Header.MsgType, err)
		}
	}

	if msg.Metadata != nil {
		if err := frames.EncodeMetadata(msg.Metadata); err != nil {
			return nil, fmt.Errorf("could not encode metadata of \"%s\" message: %w", msg.Header.MsgType, err)
		}
	}

	if msg.Content != nil {
		if err := frames.EncodeContent(msg.Content); err != nil {
			return nil, fmt.Errorf("could not encode content of \"%s\" message: %w", msg.Header.MsgType, err)
		}
	}

	frames = append(frames, msg.Buffers...)

	signed, err := frames.Sign(c.SignatureScheme, c.Key)
	if err != nil {
		return nil, err
	}

	raw := make([][]byte, 0, len(msg.Identities)+len(signed))
	raw = append(raw, msg.Identities...)
	raw = append(raw, signed...)
	return raw, nil
}

func (c *JupyterCodec) Decode(raw [][]byte) (*Message, error) {
	identities, frames, err := types.SplitIdentities(raw)
	if err != nil {
		return nil, err
	}

	if err = frames.Verify(c.SignatureScheme, c.Key); err != nil {
		return nil, err
	}

	msg := &Message{
		Identities: identities,
		Content:    json.RawMessage(frames.ContentFrame()),
		Buffers:    frames.Buffers(),
	}

	if err = frames.DecodeHeader(&msg.Header); err != nil {
		return nil, fmt.Errorf("%w: malformed header: %v", types.ErrInvalidJupyterMessage, err)
	}

	if err = frames.DecodeParentHeader(&msg.ParentHeader); err != nil {
		return nil, fmt.Errorf("%w: malformed parent header: %v", types.ErrInvalidJupyterMessage, err)
	}

	if err = frames.DecodeMetadata(&msg.Metadata); err != nil {
		return nil, fmt.Errorf("%w: malformed metadata: %v", types.ErrInvalidJupyterMessage, err)
	}

	return msg, nil
}

// HeartbeatCodec maps heartbeat pings to a single frame holding the ping's message ID.
// The kernel echoes the frame back, so a pong decodes to a message whose parent ID is the ping's ID.
type HeartbeatCodec struct{}

func (HeartbeatCodec) Encode(msg *Message) ([][]byte, error) {
	if msg.Header.MsgID == "" {
		return nil, fmt.Errorf("%w: heartbeat ping without message id", types.ErrInvalidJupyterMessage)
	}

	return [][]byte{[]byte(msg.Header.MsgID)}, nil
}

func (HeartbeatCodec) Decode(frames [][]byte) (*Message, error) {
	for _, frame := range frames {
		if len(frame) == 0 {
			continue
		}

		return &Message{
			Header:       MessageHeader{MsgType: HeartbeatPong},
			ParentHeader: MessageHeader{MsgID: string(frame), MsgType: HeartbeatPing},
		}, nil
	}

	return nil, fmt.Errorf("%w: empty heartbeat frame", types.ErrInvalidJupyterMessage)
}
