package messaging

import (
	"errors"
	"strings"

	"github.com/goccy/go-json"
)

const (
	MessageHeaderDefaultUsername = "username"

	JavascriptISOString = "2006-01-02T15:04:05.999Z07:00"
)

// Shell, control and stdin message types.
const (
	ExecuteRequest    JupyterMessageType = "execute_request"
	ExecuteReply      JupyterMessageType = "execute_reply"
	InspectRequest    JupyterMessageType = "inspect_request"
	InspectReply      JupyterMessageType = "inspect_reply"
	CompleteRequest   JupyterMessageType = "complete_request"
	CompleteReply     JupyterMessageType = "complete_reply"
	HistoryRequest    JupyterMessageType = "history_request"
	HistoryReply      JupyterMessageType = "history_reply"
	IsCompleteRequest JupyterMessageType = "is_complete_request"
	IsCompleteReply   JupyterMessageType = "is_complete_reply"
	KernelInfoRequest JupyterMessageType = "kernel_info_request"
	KernelInfoReply   JupyterMessageType = "kernel_info_reply"
	CommInfoRequest   JupyterMessageType = "comm_info_request"
	CommInfoReply     JupyterMessageType = "comm_info_reply"
	ShutdownRequest   JupyterMessageType = "shutdown_request"
	ShutdownReply     JupyterMessageType = "shutdown_reply"
	InputRequest      JupyterMessageType = "input_request"
	InputReply        JupyterMessageType = "input_reply"

	// HeartbeatPing and HeartbeatPong never appear on the wire; they name the messages the heartbeat codec produces.
	HeartbeatPing JupyterMessageType = "heartbeat_ping"
	HeartbeatPong JupyterMessageType = "heartbeat_pong"
)

// IOPub message types.
const (
	IOStatusMessage        JupyterMessageType = "status"
	IOStreamMessage        JupyterMessageType = "stream"
	IOExecuteInputMessage  JupyterMessageType = "execute_input"
	IOExecuteResultMessage JupyterMessageType = "execute_result"
	IODisplayDataMessage   JupyterMessageType = "display_data"
	IOErrorMessage         JupyterMessageType = "error"
	IOClearOutputMessage   JupyterMessageType = "clear_output"
)

var (
	ErrNoContent = errors.New("message has no content")
)

type JupyterMessageType string

func (t JupyterMessageType) String() string {
	return string(t)
}

// GetBaseMessageType returns the base portion of the Jupyter message type.
// The "base part" is best defined through an example:
//
// If the message type is "execute_request", then this returns "execute_" and true.
//
// If the message type is not of the form "{action}_request" or "{action}_reply", then this
// returns the empty string and false.
func (t JupyterMessageType) GetBaseMessageType() (string, bool) {
	if strings.HasSuffix(t.String(), "request") {
		return t.String()[0 : len(t.String())-7], true
	} else if strings.HasSuffix(t.String(), "reply") {
		return t.String()[0 : len(t.String())-5], true
	}

	return "", false
}

// ReplyType returns the reply type matching a request type, e.g., "execute_reply" for "execute_request".
func (t JupyterMessageType) ReplyType() (JupyterMessageType, bool) {
	if !strings.HasSuffix(t.String(), "_request") {
		return "", false
	}

	base, _ := t.GetBaseMessageType()
	return JupyterMessageType(base + "reply"), true
}

// Message represents an entire message in a high-level structure.
//
// Content holds a typed request struct for outbound messages and a json.RawMessage for inbound
// messages. Use DecodeContent to read it regardless of its form.
type Message struct {
	Identities   [][]byte               `json:"-"`
	Header       MessageHeader          `json:"header"`
	ParentHeader MessageHeader          `json:"parent_header"`
	Metadata     map[string]interface{} `json:"metadata"`
	Content      interface{}            `json:"content"`
	Buffers      [][]byte               `json:"-"`
}

func (msg *Message) MsgID() string {
	return msg.Header.MsgID
}

// ParentID returns the message ID of the request that the message replies to, or "" if it has no parent.
func (msg *Message) ParentID() string {
	return msg.ParentHeader.MsgID
}

func (msg *Message) Type() JupyterMessageType {
	return msg.Header.MsgType
}

// DecodeContent unmarshals the content of the message into out.
func (msg *Message) DecodeContent(out interface{}) error {
	switch content := msg.Content.(type) {
	case nil:
		return ErrNoContent
	case json.RawMessage:
		return json.Unmarshal(content, out)
	case []byte:
		return json.Unmarshal(content, out)
	default:
		encoded, err := json.Marshal(content)
		if err != nil {
			return err
		}
		return json.Unmarshal(encoded, out)
	}
}

// ContentMap returns the content of the message as a generic map.
func (msg *Message) ContentMap() (map[string]interface{}, error) {
	var content map[string]interface{}
	if err := msg.DecodeContent(&content); err != nil {
		return nil, err
	}
	return content, nil
}

func (msg *Message) String() string {
	m, err := json.Marshal(msg)
	if err != nil {
		panic(err)
	}

	return string(m)
}

// MessageHeader is a Jupyter message header.
// http://jupyter-client.readthedocs.io/en/latest/messaging.html#general-message-format
type MessageHeader struct {
	MsgID    string             `json:"msg_id"`
	Username string             `json:"username"`
	Session  string             `json:"session"`
	Date     string             `json:"date"`
	MsgType  JupyterMessageType `json:"msg_type"`
	Version  string             `json:"version"`
}

func (header *MessageHeader) Clone() *MessageHeader {
	return &MessageHeader{
		MsgID:    header.MsgID,
		Username: header.Username,
		Session:  header.Session,
		Date:     header.Date,
		MsgType:  header.MsgType,
		Version:  header.Version,
	}
}

// IsEmpty returns true if the header does not identify any message, as in the parent header of a request.
func (header *MessageHeader) IsEmpty() bool {
	return header.MsgID == ""
}

func (header *MessageHeader) String() string {
	m, err := json.Marshal(header)
	if err != nil {
		panic(err)
	}

	return string(m)
}
