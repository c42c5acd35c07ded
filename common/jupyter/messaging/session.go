package messaging

import (
	"time"

	"github.com/google/uuid"
	"github.com/scusemua/jupyter-kernel-client/common/jupyter"
)

// Session stamps outbound messages with the client's identity and fresh message IDs.
type Session struct {
	id       string
	username string
}

func NewSession(username string) *Session {
	if username == "" {
		username = MessageHeaderDefaultUsername
	}

	return &Session{
		id:       uuid.NewString(),
		username: username,
	}
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Username() string {
	return s.username
}

// NewHeader creates a header with a newly generated message ID.
func (s *Session) NewHeader(msgType JupyterMessageType) MessageHeader {
	return MessageHeader{
		MsgID:    uuid.NewString(),
		Username: s.username,
		Session:  s.id,
		Date:     time.Now().UTC().Format(time.RFC3339Nano),
		MsgType:  msgType,
		Version:  jupyter.ProtocolVersion,
	}
}

// NewMessage creates a message of the given type. The parent may be nil.
func (s *Session) NewMessage(msgType JupyterMessageType, content interface{}, parent *MessageHeader) *Message {
	if content == nil {
		content = EmptyContent{}
	}

	msg := &Message{
		Header:   s.NewHeader(msgType),
		Metadata: make(map[string]interface{}),
		Content:  content,
	}

	if parent != nil {
		msg.ParentHeader = *parent.Clone()
	}

	return msg
}
