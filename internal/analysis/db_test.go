package analysis_test

import (
	"log/slog"
	"os"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"

	"procodus.dev/emovision/internal/analysis"
)

// testLogger discards everything below error level.
func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

// testDB opens a fresh in-memory database with migrations applied.
func testDB() *gorm.DB {
	db, err := analysis.NewDB(&analysis.DBConfig{
		Logger: testLogger(),
		Driver: analysis.DriverSQLite,
		Path:   ":memory:",
	})
	Expect(err).NotTo(HaveOccurred())
	return db
}

var _ = Describe("Database", func() {
	Describe("NewDB", func() {
		It("should return error when config is nil", func() {
			db, err := analysis.NewDB(nil)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("config cannot be nil"))
			Expect(db).To(BeNil())
		})

		It("should return error when logger is nil", func() {
			db, err := analysis.NewDB(&analysis.DBConfig{
				Driver: analysis.DriverSQLite,
				Path:   ":memory:",
			})
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("logger"))
			Expect(db).To(BeNil())
		})

		It("should return error for an unsupported driver", func() {
			db, err := analysis.NewDB(&analysis.DBConfig{
				Logger: testLogger(),
				Driver: "oracle",
			})
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("unsupported database driver"))
			Expect(db).To(BeNil())
		})

		It("should open an in-memory sqlite database and run migrations", func() {
			db := testDB()
			defer func() {
				Expect(analysis.CloseDB(db, testLogger())).To(Succeed())
			}()

			for _, table := range []string{
				"devices", "images", "emotions", "results", "processing_logs", "analyses",
			} {
				Expect(db.Migrator().HasTable(table)).To(BeTrue(), "expected table %s", table)
			}
		})
	})

	Describe("CloseDB", func() {
		It("should be a no-op for a nil database", func() {
			Expect(analysis.CloseDB(nil, testLogger())).To(Succeed())
		})
	})
})
