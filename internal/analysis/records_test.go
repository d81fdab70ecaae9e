package analysis_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"

	"procodus.dev/emovision/internal/analysis"
	"procodus.dev/emovision/internal/classifier"
)

var _ = Describe("Record Stores", func() {
	var db *gorm.DB

	BeforeEach(func() {
		db = testDB()
	})

	AfterEach(func() {
		Expect(analysis.CloseDB(db, testLogger())).To(Succeed())
	})

	Describe("ImageStore", func() {
		var store *analysis.ImageStore

		BeforeEach(func() {
			var err error
			store, err = analysis.NewImageStore(testLogger(), db)
			Expect(err).NotTo(HaveOccurred())
		})

		It("should persist the payload with its size and content hash", func() {
			payload := []byte{0xFF, 0xD8, 0x01, 0x02, 0xFF, 0xD9}
			sum := sha256.Sum256(payload)

			image, err := store.Create(context.Background(), "photo.jpg", payload)
			Expect(err).NotTo(HaveOccurred())
			Expect(image.ID).NotTo(BeZero())
			Expect(image.Filename).To(Equal("photo.jpg"))
			Expect(image.SizeBytes).To(Equal(int64(len(payload))))
			Expect(image.ContentHash).To(Equal(hex.EncodeToString(sum[:])))

			var stored analysis.Image
			Expect(db.First(&stored, image.ID).Error).To(Succeed())
			Expect(stored.Data).To(Equal(payload))
		})

		It("should return error when logger is nil", func() {
			s, err := analysis.NewImageStore(nil, db)
			Expect(err).To(HaveOccurred())
			Expect(s).To(BeNil())
		})
	})

	Describe("EmotionStore", func() {
		It("should persist the dominant emotion with no individual score", func() {
			store, err := analysis.NewEmotionStore(testLogger(), db)
			Expect(err).NotTo(HaveOccurred())

			emotion, err := store.Create(context.Background(), "anger")
			Expect(err).NotTo(HaveOccurred())
			Expect(emotion.ID).NotTo(BeZero())
			Expect(emotion.Name).To(Equal("anger"))
			Expect(emotion.Score).To(BeNil())
			Expect(emotion.OccurredAt).NotTo(BeZero())
		})
	})

	Describe("ResultStore", func() {
		var store *analysis.ResultStore

		BeforeEach(func() {
			var err error
			store, err = analysis.NewResultStore(testLogger(), db)
			Expect(err).NotTo(HaveOccurred())
		})

		It("should record a target classification with score details", func() {
			score := 0.91
			result, err := store.Create(context.Background(), &classifier.Classification{
				Target:      true,
				Emotion:     "anger",
				TargetScore: &score,
				Scores:      map[string]float64{"anger": 0.91, "neutral": 0.05},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Outcome).To(Equal(analysis.OutcomeTarget))
			Expect(result.Details).To(Equal("Dominant emotion: anger | target_score=0.91"))
			Expect(result.TargetScore).NotTo(BeNil())
			Expect(*result.TargetScore).To(Equal(0.91))

			var scores map[string]float64
			Expect(json.Unmarshal([]byte(result.EmotionScores), &scores)).To(Succeed())
			Expect(scores).To(HaveKeyWithValue("anger", 0.91))
			Expect(scores).To(HaveKeyWithValue("neutral", 0.05))
		})

		It("should record a non-target classification without a score", func() {
			result, err := store.Create(context.Background(), &classifier.Classification{
				Target:  false,
				Emotion: "happy",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Outcome).To(Equal(analysis.OutcomeNormal))
			Expect(result.Details).To(Equal("Dominant emotion: happy"))
			Expect(result.TargetScore).To(BeNil())
			Expect(result.EmotionScores).To(BeEmpty())
		})
	})

	Describe("ProcessingLogStore", func() {
		var store *analysis.ProcessingLogStore

		BeforeEach(func() {
			var err error
			store, err = analysis.NewProcessingLogStore(testLogger(), db)
			Expect(err).NotTo(HaveOccurred())
		})

		It("should write an OK audit row", func() {
			entry, err := store.RecordSuccess(context.Background(), "analysis created successfully")
			Expect(err).NotTo(HaveOccurred())
			Expect(entry.Status).To(Equal(analysis.LogStatusOK))
			Expect(entry.Message).To(Equal("analysis created successfully"))
			Expect(entry.Timestamp).NotTo(BeZero())
		})

		It("should write an ERROR audit row", func() {
			entry, err := store.RecordFailure(context.Background(), "classification failed")
			Expect(err).NotTo(HaveOccurred())
			Expect(entry.Status).To(Equal(analysis.LogStatusError))
			Expect(entry.Message).To(Equal("classification failed"))
		})

		It("should append one row per attempt", func() {
			_, err := store.RecordSuccess(context.Background(), "first")
			Expect(err).NotTo(HaveOccurred())
			_, err = store.RecordFailure(context.Background(), "second")
			Expect(err).NotTo(HaveOccurred())

			var count int64
			Expect(db.Model(&analysis.ProcessingLog{}).Count(&count).Error).To(Succeed())
			Expect(count).To(Equal(int64(2)))
		})
	})
})
