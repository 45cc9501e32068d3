package migrations_test

import (
	"io/fs"

	"github.com/kubev2v/role-normalizer/internal/config"
	"github.com/kubev2v/role-normalizer/internal/store"
	"github.com/kubev2v/role-normalizer/pkg/migrations"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"
)

var _ = Describe("migrations", Ordered, func() {
	var (
		s      store.Store
		gormdb *gorm.DB
	)

	BeforeAll(func() {
		db, err := store.InitDB(config.NewDefault())
		Expect(err).To(BeNil())

		s = store.NewStore(db)
		gormdb = db
	})

	AfterAll(func() {
		s.Close()
	})

	Context("bundled migrations", func() {
		It("ships one file per table", func() {
			files, err := fs.Glob(migrations.Files(), "*.sql")
			Expect(err).To(BeNil())
			Expect(files).To(Equal([]string{
				"00001_role_records.sql",
				"00002_normalization_cursors.sql",
				"00003_normalization_log.sql",
			}))
		})
	})

	Context("store migrations", func() {
		It("refuses non postgres databases", func() {
			err := migrations.MigrateStore(gormdb, "")
			Expect(err).NotTo(BeNil())
			Expect(err.Error()).To(ContainSubstring("sqlite"))
		})
	})
})
