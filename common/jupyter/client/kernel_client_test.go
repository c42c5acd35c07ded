package client_test

import (
	"bytes"
	"context"
	"errors"
	"net"
	"sync"
	"syscall"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/scusemua/jupyter-kernel-client/common/jupyter"
	"github.com/scusemua/jupyter-kernel-client/common/jupyter/channel"
	"github.com/scusemua/jupyter-kernel-client/common/jupyter/client"
	"github.com/scusemua/jupyter-kernel-client/common/jupyter/messaging"
	"github.com/scusemua/jupyter-kernel-client/common/jupyter/transport"
	"github.com/scusemua/jupyter-kernel-client/common/jupyter/types"
	"github.com/scusemua/jupyter-kernel-client/common/metrics"
	"github.com/scusemua/jupyter-kernel-client/testing/fake_kernel"
)

func durationPtr(d time.Duration) *time.Duration {
	return &d
}

// closedPort returns a loopback port that nothing listens on.
func closedPort() int {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	Expect(err).To(BeNil())
	port := listener.Addr().(*net.TCPAddr).Port
	Expect(listener.Close()).To(Succeed())
	return port
}

var _ = Describe("KernelClient", func() {
	var (
		ctx          context.Context
		tr           *transport.MemoryTransport
		kernel       *fake_kernel.FakeKernel
		kernelClient *client.KernelClient
	)

	newClient := func() *client.KernelClient {
		return client.NewKernelClient(client.Config{
			Channels: channel.NewChannelFactories(tr, messaging.NewJupyterCodec(kernel.ConnectionInfo())),
			Session:  messaging.NewSession("tester"),
			Heartbeat: client.HeartbeatConfig{
				Interval:      40 * time.Millisecond,
				MissThreshold: 2,
			},
			Readiness: client.BackoffConfig{
				InitialDelay: 10 * time.Millisecond,
				Multiplier:   2,
				MaxDelay:     50 * time.Millisecond,
			},
			ReadyProbeTimeout: 50 * time.Millisecond,
			Metrics:           metrics.NewKernelClientMetrics("kernel_client_test"),
		})
	}

	BeforeEach(func() {
		ctx = context.Background()
		tr = transport.NewMemoryTransport(0)
		kernel = fake_kernel.NewFakeKernel(tr, "kernel-client-test-key")
		kernel.Start()

		kernelClient = newClient()
	})

	AfterEach(func() {
		Expect(kernelClient.Close()).To(Succeed())
		kernel.Close()
	})

	Context("Managing channels", func() {
		It("Will start and stop its channels", func() {
			Expect(kernelClient.ChannelsRunning()).To(BeFalse())

			_, err := kernelClient.Channel(types.ShellChannel)
			Expect(errors.Is(err, jupyter.ErrNoSuchChannel)).To(BeTrue())

			Expect(kernelClient.StartChannels(ctx)).To(Succeed())
			Expect(kernelClient.ChannelsRunning()).To(BeTrue())

			for _, channelType := range types.AllChannels {
				ch, err := kernelClient.Channel(channelType)
				Expect(err).To(BeNil())
				Expect(ch.Type()).To(Equal(channelType))
			}
			Expect(kernelClient.Heartbeat()).ToNot(BeNil())

			kernelClient.StopChannels()
			Expect(kernelClient.ChannelsRunning()).To(BeFalse())
			Expect(kernelClient.Heartbeat()).To(BeNil())

			_, err = kernelClient.IsAlive()
			Expect(errors.Is(err, jupyter.ErrNotRunning)).To(BeTrue())
		})

		It("Will start only the channels it is asked to", func() {
			Expect(kernelClient.StartChannels(ctx, types.ShellChannel, types.IOPubChannel)).To(Succeed())

			_, err := kernelClient.Channel(types.ShellChannel)
			Expect(err).To(BeNil())

			_, err = kernelClient.Channel(types.ControlChannel)
			Expect(errors.Is(err, jupyter.ErrNoSuchChannel)).To(BeTrue())
			Expect(kernelClient.Heartbeat()).To(BeNil())
		})

		It("Will refuse to start channels without a factory", func() {
			noStdin := client.NewKernelClient(client.Config{
				Channels: channel.ChannelFactories{
					Shell: channel.NewTransportChannelFactory(tr, messaging.NewJupyterCodec(kernel.ConnectionInfo())),
				},
			})
			defer func() { _ = noStdin.Close() }()

			err := noStdin.StartChannels(ctx, types.StdinChannel)
			Expect(errors.Is(err, jupyter.ErrNoSuchChannel)).To(BeTrue())

			Expect(noStdin.StartChannels(ctx)).To(Succeed())
			_, err = noStdin.Channel(types.ShellChannel)
			Expect(err).To(BeNil())
		})

		Context("While a channel is slow to open", func() {
			var (
				release     chan struct{}
				slowControl *client.KernelClient
			)

			BeforeEach(func() {
				release = make(chan struct{})

				factories := channel.NewChannelFactories(tr, messaging.NewJupyterCodec(kernel.ConnectionInfo()))
				openControl := factories.Control
				factories.Control = func(ctx context.Context, channelType types.ChannelType) (channel.Channel, error) {
					<-release
					return openControl(ctx, channelType)
				}

				slowControl = client.NewKernelClient(client.Config{
					Channels: factories,
					Session:  messaging.NewSession("tester"),
				})
			})

			AfterEach(func() {
				Expect(slowControl.Close()).To(Succeed())
			})

			It("Will keep serving the channels that are already running", func() {
				Expect(slowControl.StartChannels(ctx, types.ShellChannel)).To(Succeed())

				startC := make(chan error, 1)
				go func() { startC <- slowControl.StartChannels(ctx, types.ControlChannel) }()
				Consistently(startC, 100*time.Millisecond).ShouldNot(Receive())

				start := time.Now()
				result, err := slowControl.KernelInfo(ctx, client.WithReply(), client.WithTimeout(500*time.Millisecond))
				Expect(err).To(BeNil())
				Expect(result.Reply.ParentID()).To(Equal(result.MsgID))
				Expect(time.Since(start)).To(BeNumerically("<", 500*time.Millisecond))
				Expect(slowControl.ChannelsRunning()).To(BeTrue())

				_, err = slowControl.Channel(types.ControlChannel)
				Expect(errors.Is(err, jupyter.ErrNoSuchChannel)).To(BeTrue())

				close(release)
				Eventually(startC).Should(Receive(BeNil()))

				_, err = slowControl.Channel(types.ControlChannel)
				Expect(err).To(BeNil())
			})

			It("Will keep only one channel when two callers open it at once", func() {
				startC := make(chan error, 2)
				for i := 0; i < 2; i++ {
					go func() { startC <- slowControl.StartChannels(ctx, types.ControlChannel) }()
				}
				Consistently(startC, 50*time.Millisecond).ShouldNot(Receive())

				close(release)
				Eventually(startC).Should(Receive(BeNil()))
				Eventually(startC).Should(Receive(BeNil()))

				control, err := slowControl.Channel(types.ControlChannel)
				Expect(err).To(BeNil())
				Expect(control.IsClosed()).To(BeFalse())

				result, err := slowControl.Shutdown(ctx, false, client.WithReply(), client.WithTimeout(time.Second))
				Expect(err).To(BeNil())
				Expect(result.Reply.ParentID()).To(Equal(result.MsgID))
			})
		})

		It("Will reject requests and channels once closed", func() {
			Expect(kernelClient.StartChannels(ctx)).To(Succeed())
			Expect(kernelClient.Close()).To(Succeed())

			Expect(errors.Is(kernelClient.StartChannels(ctx), jupyter.ErrClientClosed)).To(BeTrue())

			_, err := kernelClient.KernelInfo(ctx, client.WithReply())
			Expect(err).ToNot(BeNil())
		})
	})

	Context("Sending requests", func() {
		BeforeEach(func() {
			Expect(kernelClient.StartChannels(ctx)).To(Succeed())
		})

		It("Will return the reply when asked to", func() {
			result, err := kernelClient.KernelInfo(ctx, client.WithReply(), client.WithTimeout(time.Second))
			Expect(err).To(BeNil())
			Expect(result.MsgID).ToNot(BeEmpty())
			Expect(result.Reply.Type()).To(Equal(messaging.KernelInfoReply))
			Expect(result.Reply.ParentID()).To(Equal(result.MsgID))

			var content messaging.KernelInfoReplyContent
			Expect(result.Reply.DecodeContent(&content)).To(Succeed())
			Expect(content.Implementation).To(Equal("fake"))
			Expect(content.ProtocolVersion).To(Equal(jupyter.ProtocolVersion))
		})

		It("Will return immediately without WithReply", func() {
			result, err := kernelClient.IsComplete(ctx, "x = 1")
			Expect(err).To(BeNil())
			Expect(result.MsgID).ToNot(BeEmpty())
			Expect(result.Reply).To(BeNil())

			Eventually(func() int { return kernel.Received(messaging.IsCompleteRequest) }).Should(Equal(1))

			reply, err := kernelClient.GetShellMsg(ctx, client.WithTimeout(time.Second))
			Expect(err).To(BeNil())
			Expect(reply.ParentID()).To(Equal(result.MsgID))
		})

		It("Will complete at the end of the code when no cursor position is given", func() {
			code := "impört"
			result, err := kernelClient.Complete(ctx, code, -1, client.WithReply())
			Expect(err).To(BeNil())

			var content messaging.CompleteReplyContent
			Expect(result.Reply.DecodeContent(&content)).To(Succeed())
			Expect(content.CursorEnd).To(Equal(6))
			Expect(content.Matches).To(ConsistOf(code + "_completion"))
		})

		It("Will send every kind of shell request", func() {
			result, err := kernelClient.Inspect(ctx, "len", 3, 1, client.WithReply())
			Expect(err).To(BeNil())
			Expect(result.Reply.Type()).To(Equal(messaging.InspectReply))

			result, err = kernelClient.History(ctx, nil, client.WithReply())
			Expect(err).To(BeNil())
			Expect(result.Reply.Type()).To(Equal(messaging.HistoryReply))

			result, err = kernelClient.History(ctx, &messaging.HistoryRequestContent{HistAccessType: messaging.HistAccessTail, N: 10}, client.WithReply())
			Expect(err).To(BeNil())
			Expect(result.Reply.Type()).To(Equal(messaging.HistoryReply))

			result, err = kernelClient.CommInfo(ctx, "jupyter.widget", client.WithReply())
			Expect(err).To(BeNil())
			Expect(result.Reply.Type()).To(Equal(messaging.CommInfoReply))

			result, err = kernelClient.IsComplete(ctx, "for x in y:", client.WithReply())
			Expect(err).To(BeNil())

			var isComplete messaging.IsCompleteReplyContent
			Expect(result.Reply.DecodeContent(&isComplete)).To(Succeed())
			Expect(isComplete.Status).To(Equal(messaging.IsCompleteStatusIncomplete))

			result, err = kernelClient.Execute(ctx, "x = 1", nil, client.WithReply())
			Expect(err).To(BeNil())

			var execute messaging.ExecuteReplyContent
			Expect(result.Reply.DecodeContent(&execute)).To(Succeed())
			Expect(execute.Status).To(Equal(messaging.ExecuteStatusOK))
			Expect(execute.ExecutionCount).To(Equal(1))
		})

		It("Will send shutdown requests on the control channel", func() {
			result, err := kernelClient.Shutdown(ctx, true, client.WithReply(), client.WithTimeout(time.Second))
			Expect(err).To(BeNil())
			Expect(result.Reply.Type()).To(Equal(messaging.ShutdownReply))

			content, err := result.Reply.ContentMap()
			Expect(err).To(BeNil())
			Expect(content["restart"]).To(Equal(true))
			Expect(kernel.Received(messaging.ShutdownRequest)).To(Equal(1))
		})

		It("Will match replies that arrive in a different order than their requests", func() {
			kernel.HoldReplies(true)

			var (
				wg      sync.WaitGroup
				results [2]*client.RequestResult
				errs    [2]error
			)
			for i, code := range []string{"first", "second"} {
				wg.Add(1)
				go func(i int, code string) {
					defer GinkgoRecover()
					defer wg.Done()
					results[i], errs[i] = kernelClient.Complete(ctx, code, -1, client.WithReply(), client.WithTimeout(5*time.Second))
				}(i, code)
			}

			Eventually(kernel.HeldReplies).Should(Equal(2))
			kernel.ReleaseReplies(true)
			wg.Wait()

			for i, code := range []string{"first", "second"} {
				Expect(errs[i]).To(BeNil())
				Expect(results[i].Reply.ParentID()).To(Equal(results[i].MsgID))

				var content messaging.CompleteReplyContent
				Expect(results[i].Reply.DecodeContent(&content)).To(Succeed())
				Expect(content.Matches).To(ConsistOf(code + "_completion"))
			}
		})

		It("Will time out and then discard the late reply", func() {
			kernel.HoldReplies(true)

			start := time.Now()
			result, err := kernelClient.KernelInfo(ctx, client.WithReply(), client.WithTimeout(50*time.Millisecond))
			Expect(errors.Is(err, jupyter.ErrTimeout)).To(BeTrue())
			Expect(time.Since(start)).To(BeNumerically("<", time.Second))
			Expect(result.Reply).To(BeNil())
			Expect(kernelClient.Correlator().Pending()).To(Equal(0))

			kernel.HoldReplies(false)
			kernel.ReleaseReplies(false)

			next, err := kernelClient.KernelInfo(ctx, client.WithReply(), client.WithTimeout(time.Second))
			Expect(err).To(BeNil())
			Expect(next.Reply.ParentID()).To(Equal(next.MsgID))
			Expect(next.Reply.ParentID()).ToNot(Equal(result.MsgID))
		})

		It("Will fail waiting requests when the channel is torn down", func() {
			kernel.HoldReplies(true)

			errC := make(chan error, 1)
			go func() {
				_, err := kernelClient.KernelInfo(ctx, client.WithReply())
				errC <- err
			}()

			Eventually(kernel.HeldReplies).Should(Equal(1))
			tr.Sever(types.ShellChannel)

			var err error
			Eventually(errC).Should(Receive(&err))
			Expect(errors.Is(err, jupyter.ErrChannelClosed)).To(BeTrue())
		})

		It("Will fail waiting requests when the client is closed", func() {
			kernel.HoldReplies(true)

			errC := make(chan error, 1)
			go func() {
				_, err := kernelClient.KernelInfo(ctx, client.WithReply())
				errC <- err
			}()

			Eventually(kernel.HeldReplies).Should(Equal(1))
			Expect(kernelClient.Close()).To(Succeed())

			var err error
			Eventually(errC).Should(Receive(&err))
			Expect(errors.Is(err, jupyter.ErrClientClosed)).To(BeTrue())
		})

		It("Will not let a raw receive take a reply away from a waiting request", func() {
			shell, err := kernelClient.Channel(types.ShellChannel)
			Expect(err).To(BeNil())

			rawC := make(chan error, 1)
			go func() {
				_, err := kernelClient.GetShellMsg(ctx, client.WithTimeout(time.Second))
				rawC <- err
			}()
			Eventually(func() bool { return kernelClient.Correlator().IsServing(shell) }).Should(BeTrue())

			result, err := kernelClient.KernelInfo(ctx, client.WithReply(), client.WithTimeout(500*time.Millisecond))
			Expect(err).To(BeNil())
			Expect(result.Reply.ParentID()).To(Equal(result.MsgID))

			var rawErr error
			Eventually(rawC, 2*time.Second).Should(Receive(&rawErr))
			Expect(errors.Is(rawErr, jupyter.ErrTimeout)).To(BeTrue())
		})

		It("Will queue unrelated shell messages for a subscriber while a request is pending", func() {
			shell, err := kernelClient.Channel(types.ShellChannel)
			Expect(err).To(BeNil())

			sub, err := kernelClient.Correlator().Subscribe(shell)
			Expect(err).To(BeNil())
			defer sub.Close()

			kernel.HoldReplies(true)

			unanswered, err := kernelClient.KernelInfo(ctx)
			Expect(err).To(BeNil())
			unrelated, err := kernelClient.IsComplete(ctx, "x = 1")
			Expect(err).To(BeNil())
			Eventually(kernel.HeldReplies).Should(Equal(2))

			replyC := make(chan *client.RequestResult, 1)
			go func() {
				defer GinkgoRecover()
				result, err := kernelClient.Inspect(ctx, "x", 0, 0, client.WithReply(), client.WithTimeout(2*time.Second))
				Expect(err).To(BeNil())
				replyC <- result
			}()
			Eventually(kernel.HeldReplies).Should(Equal(3))

			kernel.HoldReplies(false)
			kernel.ReleaseReplies(false)

			var result *client.RequestResult
			Eventually(replyC, 2*time.Second).Should(Receive(&result))
			Expect(result.Reply.Type()).To(Equal(messaging.InspectReply))

			recvCtx, cancel := context.WithTimeout(ctx, time.Second)
			defer cancel()

			seen := make([]string, 0, 2)
			for len(seen) < 2 {
				msg, err := sub.Receive(recvCtx)
				Expect(err).To(BeNil())
				seen = append(seen, msg.ParentID())
			}
			Expect(seen).To(ConsistOf(unanswered.MsgID, unrelated.MsgID))
		})

		It("Will time out raw receives", func() {
			msg, err := kernelClient.GetControlMsg(ctx, client.WithTimeout(20*time.Millisecond))
			Expect(msg).To(BeNil())
			Expect(errors.Is(err, jupyter.ErrTimeout)).To(BeTrue())
		})

		It("Will publish execution output on iopub", func() {
			result, err := kernelClient.Execute(ctx, "print(1)", nil)
			Expect(err).To(BeNil())

			first, err := kernelClient.GetIOPubMsg(ctx, client.WithTimeout(time.Second))
			Expect(err).To(BeNil())
			Expect(first.Type()).To(Equal(messaging.IOStatusMessage))
			Expect(first.ParentID()).To(Equal(result.MsgID))

			var status messaging.MessageKernelStatus
			Expect(first.DecodeContent(&status)).To(Succeed())
			Expect(status.Status).To(Equal(messaging.MessageKernelStatusBusy))
		})
	})

	Context("Executing interactively", func() {
		BeforeEach(func() {
			Expect(kernelClient.StartChannels(ctx)).To(Succeed())
		})

		It("Will print output and return the execute_reply", func() {
			var out, errOut bytes.Buffer

			reply, err := kernelClient.ExecuteInteractive(ctx, "print('hi')", client.InteractiveOptions{
				Timeout:   durationPtr(5 * time.Second),
				Output:    &out,
				ErrOutput: &errOut,
			})
			Expect(err).To(BeNil())
			Expect(reply.Type()).To(Equal(messaging.ExecuteReply))

			var content messaging.ExecuteReplyContent
			Expect(reply.DecodeContent(&content)).To(Succeed())
			Expect(content.Status).To(Equal(messaging.ExecuteStatusOK))

			Expect(out.String()).To(Equal("print('hi')\n1\n"))
			Expect(errOut.String()).To(BeEmpty())
		})

		It("Will pass every iopub message of the execution to the output hook, ending with idle", func() {
			var seen []messaging.JupyterMessageType

			_, err := kernelClient.ExecuteInteractive(ctx, "x", client.InteractiveOptions{
				OutputHook: func(msg *messaging.Message) {
					seen = append(seen, msg.Type())
				},
			})
			Expect(err).To(BeNil())

			Expect(seen).To(Equal([]messaging.JupyterMessageType{
				messaging.IOStatusMessage,
				messaging.IOExecuteInputMessage,
				messaging.IOStreamMessage,
				messaging.IOExecuteResultMessage,
				messaging.IOStatusMessage,
			}))
		})

		It("Will print tracebacks of failed executions", func() {
			var out, errOut bytes.Buffer

			reply, err := kernelClient.ExecuteInteractive(ctx, fake_kernel.RaiseCode, client.InteractiveOptions{
				Output:    &out,
				ErrOutput: &errOut,
			})
			Expect(err).To(BeNil())

			var content messaging.ExecuteReplyContent
			Expect(reply.DecodeContent(&content)).To(Succeed())
			Expect(content.Status).To(Equal(messaging.ExecuteStatusError))
			Expect(content.ErrorName).To(Equal("RuntimeError"))
			Expect(errOut.String()).To(ContainSubstring("RuntimeError: raised on request"))
		})

		It("Will answer input requests with the stdin hook", func() {
			kernel.RequestInput("name: ")

			var (
				out    bytes.Buffer
				prompt string
			)
			_, err := kernelClient.ExecuteInteractive(ctx, "input()", client.InteractiveOptions{
				Timeout: durationPtr(5 * time.Second),
				Output:  &out,
				StdinHook: func(_ context.Context, _ *messaging.Message, content *messaging.InputRequestContent) (string, error) {
					prompt = content.Prompt
					return "Ada", nil
				},
			})
			Expect(err).To(BeNil())
			Expect(prompt).To(Equal("name: "))
			Expect(out.String()).To(HavePrefix("Ada\n"))
			Expect(kernel.Received(messaging.InputReply)).To(Equal(1))
		})

		It("Will time out immediately with a zero budget", func() {
			kernel.SetReplyDelay(200 * time.Millisecond)

			reply, err := kernelClient.ExecuteInteractive(ctx, "x", client.InteractiveOptions{
				Timeout:    durationPtr(0),
				OutputHook: func(*messaging.Message) {},
			})
			Expect(reply).To(BeNil())
			Expect(errors.Is(err, jupyter.ErrTimeout)).To(BeTrue())
			Expect(kernelClient.Correlator().Pending()).To(Equal(0))
		})

		It("Will time out if the reply does not arrive within the budget", func() {
			kernel.SetReplyDelay(time.Second)

			start := time.Now()
			_, err := kernelClient.ExecuteInteractive(ctx, "x", client.InteractiveOptions{
				Timeout:    durationPtr(100 * time.Millisecond),
				OutputHook: func(*messaging.Message) {},
			})
			Expect(errors.Is(err, jupyter.ErrTimeout)).To(BeTrue())
			Expect(time.Since(start)).To(BeNumerically("<", 900*time.Millisecond))
		})
	})

	Context("Waiting for the kernel", func() {
		It("Will become ready after retrying unanswered probes", func() {
			kernel.DropKernelInfoRequests(2)

			Expect(kernelClient.WaitForReady(ctx, 5*time.Second)).To(Succeed())
			Expect(kernel.Received(messaging.KernelInfoRequest)).To(Equal(3))

			alive, err := kernelClient.IsAlive()
			Expect(err).To(BeNil())
			Expect(alive).To(BeTrue())
		})

		It("Will flush iopub once ready", func() {
			Expect(kernelClient.StartChannels(ctx)).To(Succeed())
			kernel.Publish(messaging.IOStatusMessage, &messaging.MessageKernelStatus{Status: messaging.MessageKernelStatusStarting}, nil)

			Expect(kernelClient.WaitForReady(ctx, 5*time.Second)).To(Succeed())

			msg, err := kernelClient.GetIOPubMsg(ctx, client.WithTimeout(50*time.Millisecond))
			Expect(msg).To(BeNil())
			Expect(errors.Is(err, jupyter.ErrTimeout)).To(BeTrue())
		})

		It("Will give up after the timeout", func() {
			kernel.DropKernelInfoRequests(1 << 20)

			start := time.Now()
			err := kernelClient.WaitForReady(ctx, 300*time.Millisecond)
			Expect(time.Since(start)).To(BeNumerically("<", 2*time.Second))

			var timeoutErr *client.TimeoutError
			Expect(errors.As(err, &timeoutErr)).To(BeTrue())
			Expect(errors.Is(err, jupyter.ErrTimeout)).To(BeTrue())
			Expect(timeoutErr.Probes).To(BeNumerically(">=", 2))
			Expect(timeoutErr.Elapsed).To(BeNumerically(">=", 300*time.Millisecond))
		})

		It("Will keep dialing an unreachable kernel until the timeout", func() {
			connInfo := &jupyter.ConnectionInfo{
				IP:              "127.0.0.1",
				ControlPort:     closedPort(),
				ShellPort:       closedPort(),
				StdinPort:       closedPort(),
				HBPort:          closedPort(),
				IOPubPort:       closedPort(),
				Transport:       "tcp",
				SignatureScheme: "hmac-sha256",
				Key:             "kernel-client-test-key",
			}

			zt := transport.NewZMQTransport(ctx, connInfo, "unreachable")
			defer zt.Shutdown()

			unreachable := client.NewKernelClient(client.Config{
				Channels: channel.NewChannelFactories(zt, messaging.NewJupyterCodec(connInfo)),
				Readiness: client.BackoffConfig{
					InitialDelay: 10 * time.Millisecond,
					Multiplier:   2,
					MaxDelay:     50 * time.Millisecond,
				},
			})
			defer func() { _ = unreachable.Close() }()

			start := time.Now()
			err := unreachable.WaitForReady(ctx, 300*time.Millisecond)
			elapsed := time.Since(start)
			Expect(elapsed).To(BeNumerically(">=", 300*time.Millisecond))
			Expect(elapsed).To(BeNumerically("<", time.Second))

			var timeoutErr *client.TimeoutError
			Expect(errors.As(err, &timeoutErr)).To(BeTrue())
			Expect(errors.Is(err, jupyter.ErrTimeout)).To(BeTrue())
			Expect(timeoutErr.Probes).To(Equal(0))
			Expect(errors.Is(timeoutErr.LastErr, syscall.ECONNREFUSED)).To(BeTrue())
		})

		It("Will become ready once the channels can be started", func() {
			release := make(chan struct{})
			factories := channel.NewChannelFactories(tr, messaging.NewJupyterCodec(kernel.ConnectionInfo()))
			openShell := factories.Shell
			factories.Shell = func(ctx context.Context, channelType types.ChannelType) (channel.Channel, error) {
				select {
				case <-release:
					return openShell(ctx, channelType)
				default:
					return nil, errors.New("kernel is not listening yet")
				}
			}

			late := client.NewKernelClient(client.Config{
				Channels: factories,
				Heartbeat: client.HeartbeatConfig{
					Interval:      40 * time.Millisecond,
					MissThreshold: 2,
				},
				Readiness: client.BackoffConfig{
					InitialDelay: 10 * time.Millisecond,
					Multiplier:   2,
					MaxDelay:     50 * time.Millisecond,
				},
				ReadyProbeTimeout: 50 * time.Millisecond,
			})
			defer func() { _ = late.Close() }()

			time.AfterFunc(150*time.Millisecond, func() { close(release) })

			Expect(late.WaitForReady(ctx, 5*time.Second)).To(Succeed())
			_, err := late.Channel(types.ShellChannel)
			Expect(err).To(BeNil())
		})

		It("Will not be ready while the heartbeat is silent", func() {
			kernel.PauseHeartbeat(true)

			err := kernelClient.WaitForReady(ctx, 300*time.Millisecond)

			var timeoutErr *client.TimeoutError
			Expect(errors.As(err, &timeoutErr)).To(BeTrue())
			Expect(errors.Is(timeoutErr.LastErr, jupyter.ErrKernelNotReady)).To(BeTrue())
			Expect(kernel.Received(messaging.KernelInfoRequest)).To(Equal(1))
		})

		It("Will notice the kernel dying after it was ready", func() {
			Expect(kernelClient.WaitForReady(ctx, 5*time.Second)).To(Succeed())

			kernel.PauseHeartbeat(true)
			Eventually(func() bool {
				alive, err := kernelClient.IsAlive()
				return err == nil && alive
			}, time.Second, 10*time.Millisecond).Should(BeFalse())
		})
	})
})
