package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"
	"github.com/scusemua/jupyter-kernel-client/common/jupyter"
	"github.com/scusemua/jupyter-kernel-client/common/jupyter/channel"
	"github.com/scusemua/jupyter-kernel-client/common/jupyter/messaging"
	"github.com/scusemua/jupyter-kernel-client/common/metrics"
	"github.com/scusemua/jupyter-kernel-client/common/utils"
)

type HeartbeatMonitorState int

const (
	HeartbeatStopped HeartbeatMonitorState = iota
	HeartbeatRunning
)

func (s HeartbeatMonitorState) String() string {
	switch s {
	case HeartbeatStopped:
		return "Stopped"
	case HeartbeatRunning:
		return "Running"
	default:
		return fmt.Sprintf("HeartbeatMonitorState(%d)", int(s))
	}
}

type HeartbeatConfig struct {
	// Interval between pings. A pong must arrive within the interval of its ping.
	Interval time.Duration

	// MissThreshold is the number of consecutive missed pongs after which the kernel is considered dead.
	MissThreshold int
}

func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{
		Interval:      jupyter.DefaultHeartbeatInterval,
		MissThreshold: jupyter.DefaultHeartbeatMissThreshold,
	}
}

func (c HeartbeatConfig) normalized() HeartbeatConfig {
	if c.Interval <= 0 {
		c.Interval = jupyter.DefaultHeartbeatInterval
	}
	if c.MissThreshold <= 0 {
		c.MissThreshold = jupyter.DefaultHeartbeatMissThreshold
	}
	return c
}

// HeartbeatSnapshot is a point-in-time copy of the heartbeat state.
type HeartbeatSnapshot struct {
	State    HeartbeatMonitorState
	LastPing time.Time
	LastPong time.Time
	Misses   int
}

// HeartbeatMonitor pings the kernel on the heartbeat channel and tracks consecutive misses.
type HeartbeatMonitor struct {
	log     logger.Logger
	metrics *metrics.KernelClientMetrics

	channel channel.Channel
	session *messaging.Session
	config  HeartbeatConfig

	mu            sync.Mutex
	state         HeartbeatMonitorState
	lastPing      time.Time
	lastPong      time.Time
	misses        int
	cancel        context.CancelFunc
	done          chan struct{}
	onStateChange func(alive bool)
}

func NewHeartbeatMonitor(ch channel.Channel, session *messaging.Session, cfg HeartbeatConfig, m *metrics.KernelClientMetrics) *HeartbeatMonitor {
	monitor := &HeartbeatMonitor{
		metrics: m,
		channel: ch,
		session: session,
		config:  cfg.normalized(),
	}
	config.InitLogger(&monitor.log, monitor)
	return monitor
}

// OnStateChange registers a callback that is invoked whenever the liveness of the kernel flips.
func (m *HeartbeatMonitor) OnStateChange(callback func(alive bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.onStateChange = callback
}

// Start begins pinging. Starting a running monitor has no effect.
func (m *HeartbeatMonitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == HeartbeatRunning {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.state = HeartbeatRunning
	m.cancel = cancel
	m.done = make(chan struct{})
	m.misses = 0
	m.lastPing = time.Time{}
	m.lastPong = time.Time{}

	m.log.Debug("Starting heartbeat: interval=%v, miss threshold=%d.", m.config.Interval, m.config.MissThreshold)
	go m.run(ctx, m.done)
}

// Stop halts pinging and waits for the ping loop to exit.
func (m *HeartbeatMonitor) Stop() {
	m.mu.Lock()
	if m.state == HeartbeatStopped {
		m.mu.Unlock()
		return
	}

	m.state = HeartbeatStopped
	m.cancel()
	done := m.done
	m.mu.Unlock()

	<-done
	m.log.Debug("Heartbeat stopped.")
}

func (m *HeartbeatMonitor) State() HeartbeatMonitorState {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state
}

// IsAlive returns true while fewer than MissThreshold consecutive pongs have been missed.
// It fails with jupyter.ErrNotRunning if the monitor is stopped.
func (m *HeartbeatMonitor) IsAlive() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != HeartbeatRunning {
		return false, jupyter.ErrNotRunning
	}

	return m.aliveLocked(), nil
}

// Confirmed returns true if the monitor is running, the kernel is alive, and at least one pong has been received.
func (m *HeartbeatMonitor) Confirmed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state == HeartbeatRunning && m.aliveLocked() && !m.lastPong.IsZero()
}

func (m *HeartbeatMonitor) Snapshot() HeartbeatSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	return HeartbeatSnapshot{
		State:    m.state,
		LastPing: m.lastPing,
		LastPong: m.lastPong,
		Misses:   m.misses,
	}
}

func (m *HeartbeatMonitor) aliveLocked() bool {
	return m.misses < m.config.MissThreshold
}

func (m *HeartbeatMonitor) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		ping := m.session.NewMessage(messaging.HeartbeatPing, nil, nil)
		sentAt := time.Now()
		deadline := sentAt.Add(m.config.Interval)

		m.mu.Lock()
		m.lastPing = sentAt
		m.mu.Unlock()

		answered := false
		if err := m.channel.Send(ping); err != nil {
			m.log.Debug("Failed to send heartbeat ping: %v", err)
		} else {
			answered = m.awaitPong(ctx, ping.MsgID(), deadline)
		}

		if ctx.Err() != nil {
			return
		}

		if answered {
			m.recordPong()
		} else {
			m.recordMiss()
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Until(deadline)):
		}
	}
}

// awaitPong reads the heartbeat channel until the pong of the ping arrives or the deadline passes.
// Pongs of earlier pings are discarded.
func (m *HeartbeatMonitor) awaitPong(ctx context.Context, pingID string, deadline time.Time) bool {
	pongCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	for {
		pong, err := m.channel.Receive(pongCtx)
		if err != nil {
			if errors.Is(err, jupyter.ErrChannelClosed) {
				m.log.Debug("Heartbeat channel is closed.")
			}
			return false
		}

		if pong.ParentID() == pingID {
			return true
		}

		m.log.Debug("Discarding stale pong for ping %s.", pong.ParentID())
	}
}

func (m *HeartbeatMonitor) recordPong() {
	m.mu.Lock()
	wasAlive := m.aliveLocked()
	m.misses = 0
	m.lastPong = time.Now()
	callback := m.onStateChange
	m.mu.Unlock()

	if !wasAlive {
		m.log.Info(utils.GreenStyle.Render("Kernel heartbeat restored."))
		if callback != nil {
			callback(true)
		}
	}
}

func (m *HeartbeatMonitor) recordMiss() {
	m.metrics.HeartbeatMissed()

	m.mu.Lock()
	wasAlive := m.aliveLocked()
	m.misses++
	misses := m.misses
	nowAlive := m.aliveLocked()
	callback := m.onStateChange
	m.mu.Unlock()

	m.log.Debug(utils.YellowStyle.Render("Missed heartbeat (%d consecutive)."), misses)

	if wasAlive && !nowAlive {
		m.log.Warn(utils.OrangeStyle.Render("Kernel heartbeat lost after %d consecutive miss(es)."), misses)
		if callback != nil {
			callback(false)
		}
	}
}
