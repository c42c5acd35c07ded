package types

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"github.com/goccy/go-json"
)

const (
	JupyterSignatureScheme = "hmac-sha256"
)

const (
	JupyterFrameStart int = iota
	JupyterFrameSignature
	JupyterFrameHeader
	JupyterFrameParentHeader
	JupyterFrameMetadata
	JupyterFrameContent
	JupyterFrameBuffers
)

var (
	JupyterFrameIDSMSG = []byte("<IDS|MSG>")
	JupyterFrameEmpty  = []byte("{}")

	ErrInvalidJupyterMessage       = errors.New("invalid jupyter message")
	ErrNotSupportedSignatureScheme = errors.New("not supported signature scheme")
	ErrInvalidJupyterSignature     = errors.New("invalid jupyter signature")
)

// JupyterFrames provides a simple way to access the frames of a Jupyter message.
// A valid JupyterFrames will have at least 6 frames, call Validate() to check before calling other methods.
// 0: <IDS|MSG>, 1: Signature, 2: Header, 3: ParentHeader, 4: Metadata, 5: Content[, 6...: Buffers]
type JupyterFrames [][]byte

func NewJupyterFramesWithReservation(numReserved int) JupyterFrames {
	frames := make(JupyterFrames, JupyterFrameContent+1, numReserved+JupyterFrameBuffers)
	frames[JupyterFrameStart] = JupyterFrameIDSMSG
	frames[JupyterFrameSignature] = []byte{}
	frames[JupyterFrameHeader] = JupyterFrameEmpty
	frames[JupyterFrameParentHeader] = JupyterFrameEmpty
	frames[JupyterFrameMetadata] = JupyterFrameEmpty
	frames[JupyterFrameContent] = JupyterFrameEmpty
	return frames
}

// SplitIdentities splits raw multipart frames into the routing identities that precede the <IDS|MSG>
// delimiter and the Jupyter frames that follow it.
func SplitIdentities(raw [][]byte) (identities [][]byte, frames JupyterFrames, err error) {
	for i, frame := range raw {
		if bytes.Equal(frame, JupyterFrameIDSMSG) {
			return raw[:i], raw[i:], nil
		}
	}
	return nil, nil, ErrInvalidJupyterMessage
}

func (frames JupyterFrames) String() string {
	if len(frames) == 0 {
		return "[]"
	}

	s := "["
	for i, frame := range frames {
		s += "\"" + string(frame) + "\""

		if i+1 < len(frames) {
			s += ", "
		}
	}

	s += "]"

	return s
}

func (frames JupyterFrames) Validate() error {
	if len(frames) < JupyterFrameContent+1 || !bytes.Equal(frames[JupyterFrameStart], JupyterFrameIDSMSG) {
		return ErrInvalidJupyterMessage
	}
	return nil
}

// Verify checks the signature of the frames. An empty key means messages are not signed.
func (frames JupyterFrames) Verify(signatureScheme string, key []byte) error {
	if err := frames.Validate(); err != nil {
		return err
	} else if len(key) == 0 {
		return nil
	} else if signatureScheme != JupyterSignatureScheme {
		return ErrNotSupportedSignatureScheme
	} else if !frames.verify(key) {
		return ErrInvalidJupyterSignature
	}
	return nil
}

// Sign writes the hex-encoded signature of the frames. An empty key leaves the signature frame empty.
func (frames JupyterFrames) Sign(signatureScheme string, key []byte) (JupyterFrames, error) {
	if len(key) == 0 {
		frames[JupyterFrameSignature] = []byte{}
		return frames, nil
	}

	if signatureScheme != JupyterSignatureScheme {
		return frames, ErrNotSupportedSignatureScheme
	}

	signature := frames.sign(key)
	frames[JupyterFrameSignature] = make([]byte, hex.EncodedLen(len(signature)))
	hex.Encode(frames[JupyterFrameSignature], signature)
	return frames, nil
}

func (frames JupyterFrames) EncodeHeader(in any) (err error) {
	frames[JupyterFrameHeader], err = json.Marshal(in)
	return err
}

func (frames JupyterFrames) DecodeHeader(out any) error {
	return json.Unmarshal(frames[JupyterFrameHeader], out)
}

func (frames JupyterFrames) EncodeParentHeader(in any) (err error) {
	frames[JupyterFrameParentHeader], err = json.Marshal(in)
	return err
}

func (frames JupyterFrames) DecodeParentHeader(out any) error {
	return json.Unmarshal(frames[JupyterFrameParentHeader], out)
}

func (frames JupyterFrames) EncodeMetadata(in any) (err error) {
	frames[JupyterFrameMetadata], err = json.Marshal(in)
	return err
}

func (frames JupyterFrames) DecodeMetadata(out any) error {
	return json.Unmarshal(frames[JupyterFrameMetadata], out)
}

func (frames JupyterFrames) EncodeContent(in any) (err error) {
	frames[JupyterFrameContent], err = json.Marshal(in)
	return err
}

func (frames JupyterFrames) ContentFrame() []byte {
	return frames[JupyterFrameContent]
}

// Buffers returns the raw buffer frames that follow the content, if any.
func (frames JupyterFrames) Buffers() [][]byte {
	if len(frames) > JupyterFrameBuffers {
		return frames[JupyterFrameBuffers:]
	}
	return nil
}

func (frames JupyterFrames) verify(signkey []byte) bool {
	expect := frames.sign(signkey)
	signature := make([]byte, hex.DecodedLen(len(frames[JupyterFrameSignature])))
	if _, err := hex.Decode(signature, frames[JupyterFrameSignature]); err != nil {
		return false
	}
	return hmac.Equal(expect, signature)
}

// sign computes the HMAC over header, parent header, metadata and content. Buffers are not signed.
func (frames JupyterFrames) sign(signkey []byte) []byte {
	mac := hmac.New(sha256.New, signkey)
	for _, msgpart := range frames[JupyterFrameHeader : JupyterFrameContent+1] {
		mac.Write(msgpart)
	}
	return mac.Sum(nil)
}
