package events_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/emovision/pkg/events"
)

var _ = Describe("Publisher", func() {
	var logger *slog.Logger

	BeforeEach(func() {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelError,
		}))
	})

	Describe("AnalysisCreated", func() {
		It("should marshal with stable field names", func() {
			created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
			event := &events.AnalysisCreated{
				AnalysisID: 42,
				Device:     "cam-1",
				Status:     true,
				Emotion:    "anger",
				CreatedAt:  created,
			}

			raw, err := json.Marshal(event)
			Expect(err).NotTo(HaveOccurred())

			var decoded map[string]any
			Expect(json.Unmarshal(raw, &decoded)).To(Succeed())
			Expect(decoded).To(HaveKeyWithValue("analysis_id", float64(42)))
			Expect(decoded).To(HaveKeyWithValue("device", "cam-1"))
			Expect(decoded).To(HaveKeyWithValue("status", true))
			Expect(decoded).To(HaveKeyWithValue("emotion", "anger"))
			Expect(decoded).To(HaveKey("created_at"))
		})
	})

	Describe("New", func() {
		It("should create a publisher instance", func() {
			publisher := events.New("test-queue", "amqp://localhost:5672", logger)
			Expect(publisher).NotTo(BeNil())
		})

		It("should keep retrying the connection in the background", func() {
			publisher := events.New("test-queue", "amqp://invalid:5672", logger)
			Expect(publisher).NotTo(BeNil())

			// Give the reconnect goroutine a moment to start
			time.Sleep(100 * time.Millisecond)
		})
	})

	Describe("PublishAnalysisCreated", func() {
		Context("when not connected", func() {
			It("should retry with backoff until the context expires", func() {
				publisher := events.New("test-queue", "amqp://invalid:5672", logger)

				// Give the publisher time to attempt connection and fail
				time.Sleep(100 * time.Millisecond)

				ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
				defer cancel()

				start := time.Now()
				err := publisher.PublishAnalysisCreated(ctx, &events.AnalysisCreated{
					AnalysisID: 1,
					Device:     "cam-1",
					Emotion:    "anger",
				})
				elapsed := time.Since(start)

				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(SatisfyAny(
					ContainSubstring("context deadline exceeded"),
					ContainSubstring("context canceled"),
				))
				Expect(elapsed).To(BeNumerically(">=", 100*time.Millisecond))
			})

			It("should give up after the maximum retry attempts", func() {
				publisher := events.New("test-queue", "amqp://invalid:5672", logger)

				time.Sleep(100 * time.Millisecond)

				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()

				err := publisher.PublishAnalysisCreated(ctx, &events.AnalysisCreated{
					AnalysisID: 1,
					Device:     "cam-1",
					Emotion:    "anger",
				})
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("maximum retry attempts exceeded"))
			})
		})
	})

	Describe("Close", func() {
		It("should report already-closed when never connected", func() {
			publisher := events.New("test-queue", "amqp://invalid:5672", logger)

			time.Sleep(50 * time.Millisecond)

			err := publisher.Close()
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("already closed"))
		})
	})
})
