package loadgen_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/emovision/internal/loadgen"
)

var _ = Describe("Loadgen Server", func() {
	Describe("NewServer", func() {
		var config *loadgen.ServerConfig

		BeforeEach(func() {
			config = &loadgen.ServerConfig{
				Logger:      quietLogger(),
				TargetURL:   "http://localhost:8080/analyses/upload",
				Interval:    time.Second,
				WorkerCount: 3,
			}
		})

		It("should create a server with valid configuration", func() {
			server, err := loadgen.NewServer(config)
			Expect(err).NotTo(HaveOccurred())
			Expect(server).NotTo(BeNil())
		})

		It("should return error when worker count is zero", func() {
			config.WorkerCount = 0
			server, err := loadgen.NewServer(config)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("worker count"))
			Expect(server).To(BeNil())
		})

		It("should return error when interval is zero", func() {
			config.Interval = 0
			server, err := loadgen.NewServer(config)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("interval"))
			Expect(server).To(BeNil())
		})

		It("should return error when target URL is empty", func() {
			config.TargetURL = ""
			server, err := loadgen.NewServer(config)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("target URL"))
			Expect(server).To(BeNil())
		})

		It("should return error when logger is nil", func() {
			config.Logger = nil
			server, err := loadgen.NewServer(config)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("logger"))
			Expect(server).To(BeNil())
		})
	})

	Describe("Run", func() {
		It("should upload on the configured interval until canceled", func() {
			var uploads atomic.Int64
			target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				uploads.Add(1)
				w.WriteHeader(http.StatusOK)
			}))
			defer target.Close()

			server, err := loadgen.NewServer(&loadgen.ServerConfig{
				Logger:      quietLogger(),
				TargetURL:   target.URL,
				Interval:    50 * time.Millisecond,
				WorkerCount: 2,
			})
			Expect(err).NotTo(HaveOccurred())

			ctx, cancel := context.WithTimeout(context.Background(), 400*time.Millisecond)
			defer cancel()

			Expect(server.Run(ctx)).To(Succeed())
			Expect(uploads.Load()).To(BeNumerically(">", 0))
		})
	})
})
