package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Scusemua/go-utils/config"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/muesli/termenv"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/scusemua/jupyter-kernel-client/common/jupyter"
	"github.com/scusemua/jupyter-kernel-client/common/jupyter/channel"
	"github.com/scusemua/jupyter-kernel-client/common/jupyter/client"
	"github.com/scusemua/jupyter-kernel-client/common/jupyter/messaging"
	"github.com/scusemua/jupyter-kernel-client/common/jupyter/transport"
	"github.com/scusemua/jupyter-kernel-client/common/metrics"
	"github.com/scusemua/jupyter-kernel-client/common/utils"
	"github.com/scusemua/jupyter-kernel-client/kernelclient/domain"
)

const (
	ServiceName = "kernel_client"
)

var (
	options      = domain.NewKernelClientOptions()
	globalLogger = config.GetLogger("")
	sig          = make(chan os.Signal, 1)
)

func init() {
	lipgloss.SetColorProfile(termenv.ANSI256)

	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM, syscall.SIGABRT)
}

// ValidateOptions ensures that the options/configuration is valid.
func ValidateOptions() {
	flags, err := config.ValidateOptions(options)
	if errors.Is(err, config.ErrPrintUsage) {
		flags.PrintDefaults()
		os.Exit(0)
	} else if err != nil {
		log.Fatal(err)
	}

	// The log level is only known once the options have been validated.
	globalLogger = config.GetLogger("")
}

// startMetrics registers the client's metrics and, if a port is configured, serves them for Prometheus.
func startMetrics() (*metrics.KernelClientMetrics, *metrics.PrometheusManager) {
	clientMetrics := metrics.NewKernelClientMetrics(ServiceName)

	if options.PrometheusPort <= 0 {
		return clientMetrics, nil
	}

	registry := prometheus.NewRegistry()
	if err := clientMetrics.Register(registry); err != nil {
		log.Fatalf("Failed to register metrics: %v", err)
	}

	manager := metrics.NewPrometheusManager(options.PrometheusPort, registry)
	if err := manager.Start(); err != nil {
		log.Fatalf("Failed to start the Prometheus server: %v", err)
	}
	globalLogger.Info("Serving metrics on port %d.", options.PrometheusPort)

	return clientMetrics, manager
}

// readInput answers input requests of the kernel with lines read from standard input.
func readInput(stdin *bufio.Reader) client.StdinHook {
	return func(_ context.Context, _ *messaging.Message, content *messaging.InputRequestContent) (string, error) {
		fmt.Print(content.Prompt)

		line, err := stdin.ReadString('\n')
		if err != nil && line == "" {
			return "", err
		}

		return strings.TrimRight(line, "\r\n"), nil
	}
}

func run(ctx context.Context, kernelMetrics *metrics.KernelClientMetrics) error {
	connInfo, err := jupyter.LoadConnectionInfo(options.ConnectionFile)
	if err != nil {
		return errors.Wrap(err, "failed to load the connection file")
	}
	globalLogger.Debug("Connecting to kernel:\n%s", connInfo.PrettyString(2))

	session := messaging.NewSession(options.Username)

	tr := transport.NewZMQTransport(ctx, connInfo, fmt.Sprintf("%s-%s", session.ID(), uuid.NewString()[:8]))
	defer tr.Shutdown()

	kernel := client.NewKernelClient(client.Config{
		Channels: channel.NewChannelFactories(tr, messaging.NewJupyterCodec(connInfo)),
		Session:  session,
		Heartbeat: client.HeartbeatConfig{
			Interval:      options.HeartbeatInterval(),
			MissThreshold: options.HBMissThreshold,
		},
		Metrics: kernelMetrics,
	})
	defer kernel.Close()

	if err = kernel.WaitForReady(ctx, options.Timeout()); err != nil {
		return errors.Wrap(err, "kernel did not become ready")
	}

	if options.Code != "" {
		interactive := client.InteractiveOptions{
			StdinHook: readInput(bufio.NewReader(os.Stdin)),
			Output:    os.Stdout,
			ErrOutput: os.Stderr,
		}

		if timeout := options.Timeout(); timeout > 0 {
			interactive.Timeout = &timeout
		}

		reply, err := kernel.ExecuteInteractive(ctx, options.Code, interactive)
		if err != nil {
			return errors.Wrap(err, "execution failed")
		}

		var content messaging.ExecuteReplyContent
		if err = reply.DecodeContent(&content); err != nil {
			return errors.Wrap(err, "malformed execute_reply")
		}

		if content.Status != messaging.ExecuteStatusOK {
			return errors.Errorf("execution finished with status \"%s\": %s: %s", content.Status, content.ErrorName, content.ErrorValue)
		}
		globalLogger.Debug("Execution %d finished.", content.ExecutionCount)
	}

	if options.Shutdown {
		timeout := 5 * time.Second
		if _, err = kernel.Shutdown(ctx, false, client.WithReply(), client.WithTimeout(timeout)); err != nil {
			return errors.Wrap(err, "failed to shut down the kernel")
		}
		globalLogger.Info("Kernel shut down.")
	}

	return nil
}

func main() {
	// Ensure that the options/configuration is valid.
	ValidateOptions()

	globalLogger.Debug("Starting the kernel client with the following options:\n%s\n", options.PrettyString(2))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start detecting stop signals
	go func() {
		select {
		case <-sig:
			globalLogger.Warn(utils.LightOrangeStyle.Render("Interrupted. Shutting down..."))
			cancel()
		case <-ctx.Done():
		}
	}()

	kernelMetrics, prometheusManager := startMetrics()

	err := run(ctx, kernelMetrics)

	if prometheusManager != nil {
		_ = prometheusManager.Stop()
	}

	if err != nil {
		globalLogger.Error(utils.RedStyle.Render("%v"), err)
		cancel()
		os.Exit(1)
	}
}
