package messaging_test

import (
	"github.com/goccy/go-json"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/scusemua/jupyter-kernel-client/common/jupyter"
	"github.com/scusemua/jupyter-kernel-client/common/jupyter/messaging"
	"github.com/scusemua/jupyter-kernel-client/common/jupyter/types"
)

var _ = Describe("Message", func() {
	var session *messaging.Session

	BeforeEach(func() {
		session = messaging.NewSession("jovyan")
	})

	It("Will map request types to their reply types", func() {
		replyType, ok := messaging.ExecuteRequest.ReplyType()
		Expect(ok).To(BeTrue())
		Expect(replyType).To(Equal(messaging.ExecuteReply))

		replyType, ok = messaging.KernelInfoRequest.ReplyType()
		Expect(ok).To(BeTrue())
		Expect(replyType).To(Equal(messaging.KernelInfoReply))

		_, ok = messaging.IOStatusMessage.ReplyType()
		Expect(ok).To(BeFalse())
	})

	It("Will generate a fresh message ID for every message", func() {
		seen := make(map[string]struct{})
		for i := 0; i < 100; i++ {
			msg := session.NewMessage(messaging.KernelInfoRequest, nil, nil)
			Expect(msg.Header.Session).To(Equal(session.ID()))
			Expect(msg.Header.Username).To(Equal("jovyan"))
			Expect(msg.Header.Version).To(Equal(jupyter.ProtocolVersion))
			Expect(msg.ParentHeader.IsEmpty()).To(BeTrue())

			_, loaded := seen[msg.MsgID()]
			Expect(loaded).To(BeFalse())
			seen[msg.MsgID()] = struct{}{}
		}
	})

	It("Will decode typed content regardless of its representation", func() {
		msg := session.NewMessage(messaging.ExecuteRequest, &messaging.ExecuteRequestContent{Code: "1+1", StopOnError: true}, nil)

		var content messaging.ExecuteRequestContent
		Expect(msg.DecodeContent(&content)).To(Succeed())
		Expect(content.Code).To(Equal("1+1"))
		Expect(content.StopOnError).To(BeTrue())

		msg.Content = json.RawMessage(`{"code":"2+2"}`)
		Expect(msg.DecodeContent(&content)).To(Succeed())
		Expect(content.Code).To(Equal("2+2"))

		msg.Content = nil
		Expect(msg.DecodeContent(&content)).To(MatchError(messaging.ErrNoContent))
	})

	Context("Jupyter codec", func() {
		var codec *messaging.JupyterCodec

		BeforeEach(func() {
			codec = messaging.NewJupyterCodec(&jupyter.ConnectionInfo{
				SignatureScheme: "hmac-sha256",
				Key:             "149a41b5-0df54cf013c3035a3084a319",
			})
		})

		It("Will round-trip a signed reply with identities and buffers", func() {
			request := session.NewMessage(messaging.ExecuteRequest, &messaging.ExecuteRequestContent{Code: "x = 1"}, nil)
			reply := session.NewMessage(messaging.ExecuteReply, &messaging.ExecuteReplyContent{Status: messaging.ExecuteStatusOK, ExecutionCount: 3}, &request.Header)
			reply.Identities = [][]byte{[]byte("client-identity")}
			reply.Buffers = [][]byte{[]byte("raw-buffer")}

			frames, err := codec.Encode(reply)
			Expect(err).To(BeNil())
			Expect(frames[0]).To(Equal([]byte("client-identity")))
			Expect(frames[1]).To(Equal(types.JupyterFrameIDSMSG))
			Expect(frames[2]).ToNot(BeEmpty())
			Expect(frames).To(HaveLen(1 + types.JupyterFrameBuffers + 1))

			decoded, err := codec.Decode(frames)
			Expect(err).To(BeNil())
			Expect(decoded.MsgID()).To(Equal(reply.MsgID()))
			Expect(decoded.ParentID()).To(Equal(request.MsgID()))
			Expect(decoded.Type()).To(Equal(messaging.ExecuteReply))
			Expect(decoded.Identities).To(Equal([][]byte{[]byte("client-identity")}))
			Expect(decoded.Buffers).To(Equal([][]byte{[]byte("raw-buffer")}))

			var content messaging.ExecuteReplyContent
			Expect(decoded.DecodeContent(&content)).To(Succeed())
			Expect(content.Status).To(Equal(messaging.ExecuteStatusOK))
			Expect(content.ExecutionCount).To(Equal(3))
		})

		It("Will encode an absent parent header as an empty object", func() {
			frames, err := codec.Encode(session.NewMessage(messaging.KernelInfoRequest, nil, nil))
			Expect(err).To(BeNil())
			Expect(frames[types.JupyterFrameParentHeader]).To(Equal(types.JupyterFrameEmpty))

			decoded, err := codec.Decode(frames)
			Expect(err).To(BeNil())
			Expect(decoded.ParentID()).To(Equal(""))
		})

		It("Will reject messages whose signature does not match", func() {
			frames, err := codec.Encode(session.NewMessage(messaging.KernelInfoRequest, nil, nil))
			Expect(err).To(BeNil())

			frames[types.JupyterFrameContent] = []byte(`{"tampered":true}`)
			_, err = codec.Decode(frames)
			Expect(err).To(MatchError(types.ErrInvalidJupyterSignature))
		})

		It("Will reject frames without a delimiter", func() {
			_, err := codec.Decode([][]byte{[]byte("not"), []byte("jupyter")})
			Expect(err).To(MatchError(types.ErrInvalidJupyterMessage))
		})

		It("Will not sign messages when no key is configured", func() {
			unsigned := messaging.NewJupyterCodec(&jupyter.ConnectionInfo{})
			frames, err := unsigned.Encode(session.NewMessage(messaging.KernelInfoRequest, nil, nil))
			Expect(err).To(BeNil())
			Expect(frames[types.JupyterFrameSignature]).To(BeEmpty())

			_, err = unsigned.Decode(frames)
			Expect(err).To(BeNil())

			_, err = codec.Decode(frames)
			Expect(err).To(MatchError(types.ErrInvalidJupyterSignature))
		})
	})

	Context("Heartbeat codec", func() {
		It("Will decode an echoed ping as a pong whose parent is the ping", func() {
			codec := messaging.HeartbeatCodec{}
			ping := session.NewMessage(messaging.HeartbeatPing, nil, nil)

			frames, err := codec.Encode(ping)
			Expect(err).To(BeNil())
			Expect(frames).To(HaveLen(1))

			// REQ/REP peers prepend an empty delimiter frame.
			pong, err := codec.Decode(append([][]byte{{}}, frames...))
			Expect(err).To(BeNil())
			Expect(pong.Type()).To(Equal(messaging.HeartbeatPong))
			Expect(pong.ParentID()).To(Equal(ping.MsgID()))

			_, err = codec.Decode([][]byte{{}})
			Expect(err).To(MatchError(types.ErrInvalidJupyterMessage))
		})
	})
})
