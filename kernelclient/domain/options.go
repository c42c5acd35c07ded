package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Scusemua/go-utils/config"
	"github.com/goccy/go-json"
	"github.com/scusemua/jupyter-kernel-client/common/jupyter"
)

var (
	// DefaultTimeoutSeconds bounds both WaitForReady and the execution of the code.
	DefaultTimeoutSeconds = int(jupyter.DefaultReadyTimeout / time.Second)
)

var (
	ErrMissingConnectionFile = errors.New("a connection file is required")
	ErrInvalidOption         = errors.New("invalid option")
)

type KernelClientOptions struct {
	config.LoggerOptions `yaml:",inline" json:"logger_options"`

	ConnectionFile  string `name:"connection-file"   json:"connection-file"   yaml:"connection-file"   description:"Path to the JSON connection file of the kernel."`
	Code            string `name:"code"              json:"code"              yaml:"code"              description:"Code to execute once the kernel is ready. If empty, the client only waits for the kernel."`
	Username        string `name:"username"          json:"username"          yaml:"username"          description:"Username placed in the header of every message."`
	TimeoutSeconds  int    `name:"timeout"           json:"timeout"           yaml:"timeout"           description:"Seconds to wait for the kernel to become ready, and then for the code to finish. 0 waits indefinitely."`
	HBIntervalMs    int    `name:"hb-interval-ms"    json:"hb-interval-ms"    yaml:"hb-interval-ms"    description:"Interval between heartbeat pings, in milliseconds."`
	HBMissThreshold int    `name:"hb-miss-threshold" json:"hb-miss-threshold" yaml:"hb-miss-threshold" description:"Number of consecutive missed heartbeats after which the kernel is considered dead."`
	PrometheusPort  int    `name:"prometheus-port"   json:"prometheus-port"   yaml:"prometheus-port"   description:"Port on which to serve Prometheus metrics. 0 disables the metrics server."`
	Shutdown        bool   `name:"shutdown"          json:"shutdown"          yaml:"shutdown"          description:"Ask the kernel to shut down before exiting."`
}

// NewKernelClientOptions returns options with default values, which command-line flags and the yaml file override.
func NewKernelClientOptions() *KernelClientOptions {
	return &KernelClientOptions{
		Username:        "kernel-client",
		TimeoutSeconds:  DefaultTimeoutSeconds,
		HBIntervalMs:    int(jupyter.DefaultHeartbeatInterval / time.Millisecond),
		HBMissThreshold: jupyter.DefaultHeartbeatMissThreshold,
	}
}

// Validate ensures that the values of the options are consistent.
func (o *KernelClientOptions) Validate() error {
	if o.ConnectionFile == "" {
		return ErrMissingConnectionFile
	}

	if o.TimeoutSeconds < 0 {
		return fmt.Errorf("%w: timeout must be non-negative, got %d", ErrInvalidOption, o.TimeoutSeconds)
	}

	if o.HBIntervalMs <= 0 {
		return fmt.Errorf("%w: hb-interval-ms must be positive, got %d", ErrInvalidOption, o.HBIntervalMs)
	}

	if o.HBMissThreshold <= 0 {
		return fmt.Errorf("%w: hb-miss-threshold must be positive, got %d", ErrInvalidOption, o.HBMissThreshold)
	}

	if o.PrometheusPort < 0 || o.PrometheusPort > 65535 {
		return fmt.Errorf("%w: prometheus-port out of range: %d", ErrInvalidOption, o.PrometheusPort)
	}

	return nil
}

// Timeout returns the timeout as a duration. A zero duration means no timeout.
func (o *KernelClientOptions) Timeout() time.Duration {
	return time.Duration(o.TimeoutSeconds) * time.Second
}

func (o *KernelClientOptions) HeartbeatInterval() time.Duration {
	return time.Duration(o.HBIntervalMs) * time.Millisecond
}

func (o *KernelClientOptions) String() string {
	m, err := json.Marshal(o)
	if err != nil {
		panic(err)
	}

	return string(m)
}

// PrettyString is the same as String, except that PrettyString calls json.MarshalIndent instead of json.Marshal.
func (o *KernelClientOptions) PrettyString(indentSize int) string {
	indentBuilder := strings.Builder{}
	for i := 0; i < indentSize; i++ {
		indentBuilder.WriteString(" ")
	}

	m, err := json.MarshalIndent(o, "", indentBuilder.String())
	if err != nil {
		panic(err)
	}

	return string(m)
}
