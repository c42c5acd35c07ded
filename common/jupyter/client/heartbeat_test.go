package client_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/scusemua/jupyter-kernel-client/common/jupyter"
	"github.com/scusemua/jupyter-kernel-client/common/jupyter/channel"
	"github.com/scusemua/jupyter-kernel-client/common/jupyter/client"
	"github.com/scusemua/jupyter-kernel-client/common/jupyter/messaging"
	"github.com/scusemua/jupyter-kernel-client/common/jupyter/transport"
	"github.com/scusemua/jupyter-kernel-client/common/jupyter/types"
	"github.com/scusemua/jupyter-kernel-client/common/metrics"
)

// heartbeatEcho echoes pings on the kernel side of an in-memory heartbeat channel.
type heartbeatEcho struct {
	end    *transport.KernelEnd
	paused atomic.Bool
	delay  atomic.Int64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func startHeartbeatEcho(tr *transport.MemoryTransport) *heartbeatEcho {
	ctx, cancel := context.WithCancel(context.Background())
	echo := &heartbeatEcho{
		end:    tr.KernelEnd(types.HBChannel),
		cancel: cancel,
	}

	echo.wg.Add(1)
	go func() {
		defer echo.wg.Done()

		for {
			frames, err := echo.end.Recv(ctx)
			if err != nil {
				return
			}

			if echo.paused.Load() {
				continue
			}

			if delay := time.Duration(echo.delay.Load()); delay > 0 {
				time.AfterFunc(delay, func() { _ = echo.end.Send(frames) })
				continue
			}

			_ = echo.end.Send(frames)
		}
	}()

	return echo
}

func (e *heartbeatEcho) stop() {
	e.cancel()
	e.wg.Wait()
}

var _ = Describe("HeartbeatMonitor", func() {
	var (
		tr      *transport.MemoryTransport
		echo    *heartbeatEcho
		hb      channel.Channel
		m       *metrics.KernelClientMetrics
		monitor *client.HeartbeatMonitor
	)

	BeforeEach(func() {
		var err error

		tr = transport.NewMemoryTransport(0)
		echo = startHeartbeatEcho(tr)

		hb, err = channel.Open(context.Background(), tr, types.HBChannel, messaging.HeartbeatCodec{})
		Expect(err).To(BeNil())

		m = metrics.NewKernelClientMetrics("heartbeat_test")
		monitor = client.NewHeartbeatMonitor(hb, messaging.NewSession("client"), client.HeartbeatConfig{
			Interval:      40 * time.Millisecond,
			MissThreshold: 2,
		}, m)
	})

	AfterEach(func() {
		monitor.Stop()
		echo.stop()
		_ = hb.Close()
	})

	It("Will fail with ErrNotRunning while stopped", func() {
		alive, err := monitor.IsAlive()
		Expect(alive).To(BeFalse())
		Expect(errors.Is(err, jupyter.ErrNotRunning)).To(BeTrue())
		Expect(monitor.State()).To(Equal(client.HeartbeatStopped))

		monitor.Start()
		Expect(monitor.State()).To(Equal(client.HeartbeatRunning))
		monitor.Stop()

		_, err = monitor.IsAlive()
		Expect(errors.Is(err, jupyter.ErrNotRunning)).To(BeTrue())
		Expect(monitor.Snapshot().State).To(Equal(client.HeartbeatStopped))
	})

	It("Will track the kernel going quiet and coming back", func() {
		var (
			mu          sync.Mutex
			transitions []bool
		)
		monitor.OnStateChange(func(alive bool) {
			mu.Lock()
			defer mu.Unlock()
			transitions = append(transitions, alive)
		})
		recorded := func() []bool {
			mu.Lock()
			defer mu.Unlock()
			return append([]bool(nil), transitions...)
		}
		isAlive := func() bool {
			alive, err := monitor.IsAlive()
			Expect(err).To(BeNil())
			return alive
		}

		monitor.Start()
		Eventually(monitor.Confirmed, time.Second, 10*time.Millisecond).Should(BeTrue())
		Expect(isAlive()).To(BeTrue())
		Expect(monitor.Snapshot().LastPong.IsZero()).To(BeFalse())

		echo.paused.Store(true)
		Eventually(isAlive, time.Second, 10*time.Millisecond).Should(BeFalse())
		Expect(monitor.Snapshot().Misses).To(BeNumerically(">=", 2))
		Expect(testutil.ToFloat64(m.HeartbeatMissesCounter)).To(BeNumerically(">=", 2))

		echo.paused.Store(false)
		Eventually(isAlive, time.Second, 10*time.Millisecond).Should(BeTrue())
		Expect(monitor.Snapshot().Misses).To(Equal(0))

		Eventually(recorded).Should(Equal([]bool{false, true}))
	})

	It("Will stay alive until the miss threshold is reached", func() {
		monitor.Start()
		Eventually(monitor.Confirmed, time.Second, 10*time.Millisecond).Should(BeTrue())

		echo.paused.Store(true)
		Eventually(func() bool {
			alive, err := monitor.IsAlive()
			return err == nil && alive && monitor.Snapshot().Misses == 1
		}, time.Second, 5*time.Millisecond).Should(BeTrue())
	})

	It("Will flip on a single miss with the default threshold", func() {
		cfg := client.DefaultHeartbeatConfig()
		Expect(cfg.MissThreshold).To(Equal(1))
		cfg.Interval = 40 * time.Millisecond

		monitor = client.NewHeartbeatMonitor(hb, messaging.NewSession("client"), cfg, m)
		monitor.Start()
		Eventually(monitor.Confirmed, time.Second, 10*time.Millisecond).Should(BeTrue())

		isAlive := func() bool {
			alive, err := monitor.IsAlive()
			Expect(err).To(BeNil())
			return alive
		}

		echo.paused.Store(true)
		Eventually(func() int { return monitor.Snapshot().Misses }, time.Second, 5*time.Millisecond).Should(BeNumerically(">=", 1))
		Expect(isAlive()).To(BeFalse())

		echo.paused.Store(false)
		Eventually(isAlive, time.Second, 5*time.Millisecond).Should(BeTrue())
	})

	It("Will not count stale pongs as answers", func() {
		echo.delay.Store(int64(60 * time.Millisecond))

		monitor.Start()
		Consistently(monitor.Confirmed, 300*time.Millisecond, 20*time.Millisecond).Should(BeFalse())

		alive, err := monitor.IsAlive()
		Expect(err).To(BeNil())
		Expect(alive).To(BeFalse())
	})
})
