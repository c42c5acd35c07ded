package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"
	"github.com/scusemua/jupyter-kernel-client/common/jupyter"
	"github.com/scusemua/jupyter-kernel-client/common/jupyter/channel"
	"github.com/scusemua/jupyter-kernel-client/common/jupyter/messaging"
	"github.com/scusemua/jupyter-kernel-client/common/jupyter/types"
	"github.com/scusemua/jupyter-kernel-client/common/metrics"
	"github.com/scusemua/jupyter-kernel-client/common/utils"
)

const (
	DefaultReadyProbeTimeout = time.Second
)

// Config configures a KernelClient. Zero values are replaced by defaults.
type Config struct {
	// Channels creates the channels of the client. Channels without a factory are never started.
	Channels channel.ChannelFactories

	Session   *messaging.Session
	Heartbeat HeartbeatConfig

	// Readiness is the backoff between kernel_info probes in WaitForReady.
	Readiness BackoffConfig

	// ReadyProbeTimeout bounds the wait for the reply to each kernel_info probe in WaitForReady.
	ReadyProbeTimeout time.Duration

	// Metrics may be nil.
	Metrics *metrics.KernelClientMetrics
}

func (cfg Config) withDefaults() Config {
	if cfg.Session == nil {
		cfg.Session = messaging.NewSession(messaging.MessageHeaderDefaultUsername)
	}

	cfg.Heartbeat = cfg.Heartbeat.normalized()

	if cfg.Readiness == (BackoffConfig{}) {
		cfg.Readiness = DefaultBackoffConfig()
	}

	if cfg.ReadyProbeTimeout <= 0 {
		cfg.ReadyProbeTimeout = DefaultReadyProbeTimeout
	}

	return cfg
}

// KernelClient talks to a single kernel over its five channels.
//
// Requests on one channel may be issued concurrently: replies are matched to requests by the ReplyCorrelator.
type KernelClient struct {
	log logger.Logger

	config     Config
	session    *messaging.Session
	correlator *ReplyCorrelator

	mu        sync.RWMutex
	channels  map[types.ChannelType]channel.Channel
	heartbeat *HeartbeatMonitor
	closed    bool
}

func NewKernelClient(cfg Config) *KernelClient {
	cfg = cfg.withDefaults()

	client := &KernelClient{
		config:     cfg,
		session:    cfg.Session,
		correlator: NewReplyCorrelator(cfg.Metrics),
		channels:   make(map[types.ChannelType]channel.Channel, len(types.AllChannels)),
	}
	config.InitLogger(&client.log, fmt.Sprintf("KernelClient[%s] ", utils.Abbreviate(cfg.Session.ID(), 8)))

	return client
}

func (c *KernelClient) Session() *messaging.Session {
	return c.session
}

// Correlator returns the ReplyCorrelator that matches the replies of this client.
func (c *KernelClient) Correlator() *ReplyCorrelator {
	return c.correlator
}

// Heartbeat returns the heartbeat monitor, or nil if the heartbeat channel is not running.
func (c *KernelClient) Heartbeat() *HeartbeatMonitor {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.heartbeat
}

// StartChannels opens the given channels, or every configured channel if none are given.
// Channels that are already running are left alone. Opening the heartbeat channel starts the heartbeat monitor.
//
// The factories run without holding the client lock, so running channels stay usable while others are opened.
// A channel opened concurrently by another caller wins; the duplicate is closed.
func (c *KernelClient) StartChannels(ctx context.Context, which ...types.ChannelType) error {
	explicit := len(which) > 0
	if !explicit {
		which = types.AllChannels
	}

	type pendingChannel struct {
		channelType types.ChannelType
		factory     channel.ChannelFactory
	}

	c.mu.RLock()
	closed := c.closed
	missing := make([]pendingChannel, 0, len(which))
	for _, channelType := range which {
		if ch, ok := c.channels[channelType]; ok && !ch.IsClosed() {
			continue
		}

		factory, err := c.config.Channels.For(channelType)
		if err != nil {
			if explicit {
				c.mu.RUnlock()
				return err
			}

			c.log.Debug("Not starting %v channel: no factory configured.", channelType)
			continue
		}

		missing = append(missing, pendingChannel{channelType: channelType, factory: factory})
	}
	c.mu.RUnlock()

	if closed {
		return jupyter.ErrClientClosed
	}

	for _, p := range missing {
		ch, err := p.factory(ctx, p.channelType)
		if err != nil {
			return fmt.Errorf("failed to start %v channel: %w", p.channelType, err)
		}

		if err = c.installChannel(p.channelType, ch); err != nil {
			return err
		}
	}

	return nil
}

// installChannel records a newly opened channel. If the client was closed or the channel type is already
// running, ch is closed instead.
func (c *KernelClient) installChannel(channelType types.ChannelType, ch channel.Channel) error {
	var oldHeartbeat *HeartbeatMonitor

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = ch.Close()
		return jupyter.ErrClientClosed
	}

	if running, ok := c.channels[channelType]; ok && !running.IsClosed() {
		c.mu.Unlock()
		c.log.Debug("Discarding duplicate %v channel: another one was started concurrently.", channelType)
		_ = ch.Close()
		return nil
	}

	c.channels[channelType] = ch
	if channelType == types.HBChannel {
		// Start only spawns the ping loop. Stop waits for the old loop to exit, so it runs after unlocking.
		oldHeartbeat = c.heartbeat
		c.heartbeat = NewHeartbeatMonitor(ch, c.session, c.config.Heartbeat, c.config.Metrics)
		c.heartbeat.Start()
	}
	c.mu.Unlock()

	if oldHeartbeat != nil {
		oldHeartbeat.Stop()
	}

	c.log.Debug("Started %v channel.", channelType)
	return nil
}

// StopChannels stops the heartbeat monitor and closes every channel.
// Requests that are still waiting for a reply fail with jupyter.ErrChannelClosed.
func (c *KernelClient) StopChannels() {
	c.mu.Lock()
	heartbeat := c.heartbeat
	channels := c.channels
	c.heartbeat = nil
	c.channels = make(map[types.ChannelType]channel.Channel, len(types.AllChannels))
	c.mu.Unlock()

	if heartbeat != nil {
		heartbeat.Stop()
	}

	for channelType, ch := range channels {
		if err := ch.Close(); err != nil {
			c.log.Warn(utils.OrangeStyle.Render("Error while closing %v channel: %v"), channelType, err)
		}
	}

	if len(channels) > 0 {
		c.log.Debug("Stopped %d channel(s).", len(channels))
	}
}

// ChannelsRunning returns true if any channel is open.
func (c *KernelClient) ChannelsRunning() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, ch := range c.channels {
		if !ch.IsClosed() {
			return true
		}
	}

	return false
}

// Channel returns the running channel of the given type.
func (c *KernelClient) Channel(channelType types.ChannelType) (channel.Channel, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ch, ok := c.channels[channelType]
	if !ok || ch.IsClosed() {
		return nil, fmt.Errorf("%w: %v", jupyter.ErrNoSuchChannel, channelType)
	}

	return ch, nil
}

// IsAlive reports the liveness of the kernel as observed by the heartbeat monitor.
// It fails with jupyter.ErrNotRunning if the heartbeat channel is not running.
func (c *KernelClient) IsAlive() (bool, error) {
	heartbeat := c.Heartbeat()
	if heartbeat == nil {
		return false, jupyter.ErrNotRunning
	}

	return heartbeat.IsAlive()
}

// Close fails every pending request with jupyter.ErrClientClosed and stops the channels.
func (c *KernelClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.correlator.Close()
	c.StopChannels()

	c.log.Debug("Kernel client closed.")
	return nil
}
