package client

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/scusemua/jupyter-kernel-client/common/jupyter"
	"github.com/scusemua/jupyter-kernel-client/common/jupyter/types"
	"github.com/scusemua/jupyter-kernel-client/common/utils"
)

// TimeoutError is returned by WaitForReady when the kernel does not become ready in time.
type TimeoutError struct {
	Elapsed time.Duration

	// Probes is the number of kernel_info requests that were sent.
	Probes int

	// LastErr is the reason the last attempt did not succeed. While the channels could not be started,
	// it is the error of the last attempt to start them.
	LastErr error
}

func (e *TimeoutError) Error() string {
	if e.LastErr == nil {
		return fmt.Sprintf("kernel did not become ready within %v (%d probe(s))", e.Elapsed, e.Probes)
	}
	return fmt.Sprintf("kernel did not become ready within %v (%d probe(s)): %v", e.Elapsed, e.Probes, e.LastErr)
}

func (e *TimeoutError) Unwrap() error {
	return errors.Join(jupyter.ErrTimeout, e.LastErr)
}

// WaitForReady blocks until the kernel answers a kernel_info request and its heartbeat is confirmed.
// Channels are started if none are running. Failing to start them, for example because the kernel is not
// listening yet, is retried with backoff like an unanswered kernel_info request. Other request errors are
// returned as-is. Stale iopub messages are flushed once the kernel is ready.
//
// A timeout <= 0 waits until ctx is done. Otherwise a *TimeoutError is returned after the timeout.
func (c *KernelClient) WaitForReady(ctx context.Context, timeout time.Duration) error {
	start := time.Now()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var (
		rng           = rand.New(rand.NewSource(start.UnixNano()))
		probes        int
		lastErr       error
		infoReceived  bool
		needsChannels = !c.ChannelsRunning()
	)

	for attempt := 1; ; attempt++ {
		if needsChannels {
			err := c.StartChannels(ctx)

			switch {
			case err == nil:
				needsChannels = false
			case errors.Is(err, jupyter.ErrClientClosed):
				return err
			case lastErr == nil || ctx.Err() == nil:
				lastErr = err
				c.log.Debug("Could not start channels (attempt %d): %v", attempt, err)
			}
		}

		if !needsChannels && !infoReceived {
			probes++
			_, err := c.KernelInfo(ctx, WithReply(), WithTimeout(c.config.ReadyProbeTimeout))

			switch {
			case err == nil:
				infoReceived = true
				c.log.Debug("Received kernel_info_reply after %d probe(s).", probes)
			case errors.Is(err, jupyter.ErrTimeout) || ctx.Err() != nil:
				lastErr = err
				c.log.Debug("kernel_info probe #%d was not answered: %v", probes, err)
			default:
				return err
			}
		}

		if infoReceived {
			if c.heartbeatConfirmed() {
				break
			}
			lastErr = fmt.Errorf("%w: heartbeat not confirmed", jupyter.ErrKernelNotReady)
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return &TimeoutError{Elapsed: time.Since(start), Probes: probes, LastErr: lastErr}
			}
			return ctx.Err()
		case <-time.After(NextBackoffDelay(c.config.Readiness, attempt, rng)):
		}
	}

	if iopub, err := c.Channel(types.IOPubChannel); err == nil {
		iopub.Flush()
		c.correlator.Flush(iopub)
	}

	c.log.Info(utils.GreenStyle.Render("Kernel is ready after %v (%d probe(s))."), time.Since(start), probes)
	return nil
}

// heartbeatConfirmed returns true if the heartbeat monitor has seen the kernel alive.
// Without a heartbeat channel factory, liveness is not checked.
func (c *KernelClient) heartbeatConfirmed() bool {
	heartbeat := c.Heartbeat()
	if heartbeat == nil {
		return c.config.Channels.Heartbeat == nil
	}

	return heartbeat.Confirmed()
}
