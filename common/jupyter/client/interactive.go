package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/scusemua/jupyter-kernel-client/common/jupyter"
	"github.com/scusemua/jupyter-kernel-client/common/jupyter/channel"
	"github.com/scusemua/jupyter-kernel-client/common/jupyter/messaging"
	"github.com/scusemua/jupyter-kernel-client/common/jupyter/types"
	"github.com/scusemua/jupyter-kernel-client/common/utils"
)

// OutputHook is called with every iopub message caused by an interactive execution, including the final idle status.
type OutputHook func(msg *messaging.Message)

// StdinHook answers an input_request of the kernel. The returned value is sent back as an input_reply.
type StdinHook func(ctx context.Context, request *messaging.Message, content *messaging.InputRequestContent) (string, error)

type InteractiveOptions struct {
	// ExecuteOptions defaults to DefaultExecuteOptions. AllowStdin is overridden by whether StdinHook is set.
	ExecuteOptions *ExecuteOptions

	// Timeout bounds the whole execution, from sending the request to receiving the execute_reply.
	// A nil Timeout waits indefinitely.
	Timeout *time.Duration

	// OutputHook replaces the default printing of output to Output and ErrOutput.
	OutputHook OutputHook
	StdinHook  StdinHook

	// Output and ErrOutput default to os.Stdout and os.Stderr.
	Output    io.Writer
	ErrOutput io.Writer
}

// ExecuteInteractive executes code, passes the iopub messages it causes to the output hook until the kernel
// reports idle, and returns the execute_reply. It fails with jupyter.ErrTimeout if the execution does not finish
// within the timeout.
func (c *KernelClient) ExecuteInteractive(ctx context.Context, code string, opts InteractiveOptions) (*messaging.Message, error) {
	shell, err := c.Channel(types.ShellChannel)
	if err != nil {
		return nil, err
	}

	iopubChannel, err := c.Channel(types.IOPubChannel)
	if err != nil {
		return nil, err
	}

	var stdinChannel channel.Channel
	if opts.StdinHook != nil {
		if stdinChannel, err = c.Channel(types.StdinChannel); err != nil {
			return nil, err
		}
	}

	// Subscribe before sending so that the first status message cannot be missed.
	iopub, err := c.correlator.Subscribe(iopubChannel)
	if err != nil {
		return nil, err
	}
	defer iopub.Close()

	var stdin *Subscription
	if stdinChannel != nil {
		if stdin, err = c.correlator.Subscribe(stdinChannel); err != nil {
			return nil, err
		}
		defer stdin.Close()
	}

	execOpts := DefaultExecuteOptions()
	if opts.ExecuteOptions != nil {
		copied := *opts.ExecuteOptions
		execOpts = &copied
	}
	execOpts.AllowStdin = opts.StdinHook != nil

	outputHook := opts.OutputHook
	if outputHook == nil {
		outputHook = PrintOutput(opts.Output, opts.ErrOutput)
	}

	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if opts.Timeout != nil {
		runCtx, cancel = context.WithTimeout(ctx, max(*opts.Timeout, 0))
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	msg := c.session.NewMessage(messaging.ExecuteRequest, execOpts.content(code), nil)

	// The reply is awaited only after idle, so it must be registered before the request goes out.
	req, err := c.correlator.SendRequest(shell, msg, true, nil)
	if err != nil {
		return nil, err
	}

	if stdin != nil {
		go c.serveStdin(runCtx, stdin, msg.MsgID(), opts.StdinHook)
	}

	if err := c.awaitIdle(runCtx, iopub, msg.MsgID(), outputHook); err != nil {
		c.correlator.Abandon(req)
		return nil, err
	}

	reply, err := c.correlator.AwaitReply(runCtx, req)
	if err != nil {
		return nil, err
	}

	return reply, nil
}

// awaitIdle passes the iopub messages whose parent is msgID to the hook until the kernel reports idle for it.
// Messages caused by other requests are discarded.
func (c *KernelClient) awaitIdle(ctx context.Context, iopub *Subscription, msgID string, hook OutputHook) error {
	for {
		msg, err := iopub.Receive(ctx)
		if err != nil {
			if errors.Is(err, jupyter.ErrTimeout) {
				return fmt.Errorf("%w: kernel did not report idle for execute_request %s", jupyter.ErrTimeout, msgID)
			}
			return err
		}

		if msg.ParentID() != msgID {
			continue
		}

		hook(msg)

		if msg.Type() != messaging.IOStatusMessage {
			continue
		}

		var status messaging.MessageKernelStatus
		if err := msg.DecodeContent(&status); err != nil {
			c.log.Warn(utils.OrangeStyle.Render("Could not decode status message %s: %v"), msg.MsgID(), err)
			continue
		}

		if status.Status == messaging.MessageKernelStatusIdle {
			return nil
		}
	}
}

// serveStdin answers the input_requests of execute_request msgID until ctx is done.
func (c *KernelClient) serveStdin(ctx context.Context, stdin *Subscription, msgID string, hook StdinHook) {
	for {
		msg, err := stdin.Receive(ctx)
		if err != nil {
			return
		}

		if msg.Type() != messaging.InputRequest || msg.ParentID() != msgID {
			c.log.Debug("Ignoring \"%s\" message %s on stdin channel.", msg.Type(), msg.MsgID())
			continue
		}

		var content messaging.InputRequestContent
		if err := msg.DecodeContent(&content); err != nil {
			c.log.Warn(utils.OrangeStyle.Render("Could not decode input_request %s: %v"), msg.MsgID(), err)
		}

		value, err := hook(ctx, msg, &content)
		if err != nil {
			// The kernel blocks until it gets an answer.
			c.log.Warn(utils.OrangeStyle.Render("Stdin hook failed for input_request %s: %v. Replying with an empty value."), msg.MsgID(), err)
			value = ""
		}

		if _, err := c.input(&msg.Header, value); err != nil {
			c.log.Error(utils.RedStyle.Render("Failed to send input_reply to input_request %s: %v"), msg.MsgID(), err)
		}
	}
}

// PrintOutput returns an OutputHook that prints stream text, the plain text of results and displays,
// and error tracebacks. Nil writers default to os.Stdout and os.Stderr.
func PrintOutput(out io.Writer, errOut io.Writer) OutputHook {
	if out == nil {
		out = os.Stdout
	}
	if errOut == nil {
		errOut = os.Stderr
	}

	return func(msg *messaging.Message) {
		switch msg.Type() {
		case messaging.IOStreamMessage:
			var content messaging.StreamContent
			if err := msg.DecodeContent(&content); err != nil {
				return
			}

			if content.Name == "stderr" {
				_, _ = fmt.Fprint(errOut, content.Text)
			} else {
				_, _ = fmt.Fprint(out, content.Text)
			}
		case messaging.IOExecuteResultMessage, messaging.IODisplayDataMessage:
			var content messaging.ExecuteResultContent
			if err := msg.DecodeContent(&content); err != nil {
				return
			}

			if text, ok := content.Data["text/plain"].(string); ok {
				_, _ = fmt.Fprintln(out, text)
			}
		case messaging.IOErrorMessage:
			var content messaging.ErrorContent
			if err := msg.DecodeContent(&content); err != nil {
				return
			}

			_, _ = fmt.Fprintln(errOut, strings.Join(content.Traceback, "\n"))
		}
	}
}
