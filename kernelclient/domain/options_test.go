package domain_test

import (
	"errors"
	"time"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/scusemua/jupyter-kernel-client/kernelclient/domain"
)

var _ = Describe("KernelClientOptions", func() {
	var previousLevel int

	BeforeEach(func() {
		previousLevel = config.LogLevel
	})

	AfterEach(func() {
		config.LogLevel = previousLevel
	})

	It("Will parse command-line flags on top of the defaults", func() {
		opts := domain.NewKernelClientOptions()

		_, err := config.ValidateOptionsWithFlags(opts,
			"--connection-file", "/tmp/kernel-1.json",
			"--code", "print(1)",
			"--timeout", "30",
			"--hb-miss-threshold", "3",
			"--prometheus-port", "8089")
		Expect(err).To(BeNil())

		Expect(opts.ConnectionFile).To(Equal("/tmp/kernel-1.json"))
		Expect(opts.Code).To(Equal("print(1)"))
		Expect(opts.Timeout()).To(Equal(30 * time.Second))
		Expect(opts.HBMissThreshold).To(Equal(3))
		Expect(opts.HeartbeatInterval()).To(Equal(time.Second))
		Expect(opts.PrometheusPort).To(Equal(8089))
		Expect(opts.Username).To(Equal("kernel-client"))
		Expect(opts.PrettyString(2)).To(ContainSubstring("\"connection-file\": \"/tmp/kernel-1.json\""))
	})

	It("Will require a connection file", func() {
		_, err := config.ValidateOptionsWithFlags(domain.NewKernelClientOptions(), "--code", "1")
		Expect(errors.Is(err, domain.ErrMissingConnectionFile)).To(BeTrue())
	})

	It("Will reject a non-positive heartbeat interval", func() {
		_, err := config.ValidateOptionsWithFlags(domain.NewKernelClientOptions(),
			"--connection-file", "kernel.json",
			"--hb-interval-ms", "0")
		Expect(errors.Is(err, domain.ErrInvalidOption)).To(BeTrue())
	})

	It("Will ask for usage to be printed", func() {
		_, err := config.ValidateOptionsWithFlags(domain.NewKernelClientOptions(), "-h")
		Expect(errors.Is(err, config.ErrPrintUsage)).To(BeTrue())
	})

	It("Will turn on debug logging", func() {
		_, err := config.ValidateOptionsWithFlags(domain.NewKernelClientOptions(),
			"--connection-file", "kernel.json",
			"--debug")
		Expect(err).To(BeNil())
		Expect(config.LogLevel).To(Equal(logger.LOG_LEVEL_ALL))
	})
})
