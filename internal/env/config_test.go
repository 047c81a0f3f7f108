package env_test

import (
	"context"
	"os"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/courier/internal/env"
	"github.com/luma/courier/payload"
)

var _ = Describe("env", func() {
	vars := map[string]string{
		"COURIER_URL":           "nats://127.0.0.1:5222",
		"COURIER_PAYLOAD":       "json",
		"COURIER_MAX_PAYLOAD":   "2048",
		"COURIER_PING_INTERVAL": "10s",
	}

	BeforeEach(func() {
		for k, v := range vars {
			Expect(os.Setenv(k, v)).To(Succeed())
		}
	})

	AfterEach(func() {
		for k := range vars {
			Expect(os.Unsetenv(k)).To(Succeed())
		}
	})

	Describe("LoadConfig()", func() {
		It("reads COURIER_ variables and applies defaults", func() {
			conf, err := env.LoadConfig(context.Background())
			Expect(err).To(Succeed())

			Expect(conf.URL).To(Equal("nats://127.0.0.1:5222"))
			Expect(conf.Payload).To(Equal("json"))
			Expect(conf.MaxPayload).To(Equal(2048))
			Expect(conf.PingInterval).To(Equal(10 * time.Second))
			Expect(conf.RequestTimeout).To(Equal(5 * time.Second))
			Expect(conf.LogLevel).To(Equal("info"))
		})
	})

	Describe("ClientOptions()", func() {
		It("converts the configuration", func() {
			conf, err := env.LoadConfig(context.Background())
			Expect(err).To(Succeed())

			opts, err := conf.ClientOptions()
			Expect(err).To(Succeed())
			Expect(opts.URL).To(Equal("nats://127.0.0.1:5222"))
			Expect(opts.Payload).To(Equal(payload.JSON))
			Expect(opts.MaxPayload).To(Equal(2048))
		})

		It("rejects unknown payload modes", func() {
			conf := &env.Config{Payload: "xml"}
			_, err := conf.ClientOptions()
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("MakeLogger()", func() {
		It("builds a logger at the requested level", func() {
			log, err := env.MakeLogger("warn")
			Expect(err).To(Succeed())
			Expect(log.Core().Enabled(-1)).To(BeFalse())
		})

		It("rejects unknown levels", func() {
			_, err := env.MakeLogger("loud")
			Expect(err).To(HaveOccurred())
		})
	})
})
