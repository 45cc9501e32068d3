package store_test

import (
	"context"
	"errors"

	"github.com/kubev2v/role-normalizer/internal/config"
	st "github.com/kubev2v/role-normalizer/internal/store"
	"github.com/kubev2v/role-normalizer/internal/store/model"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"
)

var _ = Describe("Store", Ordered, func() {
	var (
		store  st.Store
		gormDB *gorm.DB
	)

	BeforeAll(func() {
		cfg := config.NewDefault()
		db, err := st.InitDB(cfg)
		Expect(err).To(BeNil())
		gormDB = db

		store = st.NewStore(db)
		Expect(store).ToNot(BeNil())
		Expect(store.InitialMigration(context.TODO())).To(Succeed())
	})

	AfterAll(func() {
		store.Close()
	})

	Context("transaction", func() {
		clean := func() {
			gormDB.Exec("DELETE FROM role_records;")
			gormDB.Exec("DELETE FROM normalization_cursors;")
		}
		BeforeEach(clean)
		AfterEach(clean)

		It("commits records created in a transaction", func() {
			err := store.InTransaction(context.TODO(), func(ctx context.Context) error {
				_, err := store.Record().Create(ctx, model.RoleRecord{ID: 1, Dataset: model.DatasetCV, OwnerID: 10, RawTitle: "Vendedor"})
				return err
			})
			Expect(err).To(BeNil())

			var count int64
			tx := gormDB.Raw("SELECT COUNT(*) FROM role_records;").Scan(&count)
			Expect(tx.Error).To(BeNil())
			Expect(count).To(Equal(int64(1)))
		})

		It("discards every write of a failed transaction", func() {
			_, err := store.Record().Create(context.TODO(), model.RoleRecord{ID: 1, Dataset: model.DatasetCV, OwnerID: 10, RawTitle: "Vendedor"})
			Expect(err).To(BeNil())

			failure := errors.New("boom")
			err = store.InTransaction(context.TODO(), func(ctx context.Context) error {
				if _, err := store.Record().Create(ctx, model.RoleRecord{ID: 2, Dataset: model.DatasetCV, OwnerID: 10, RawTitle: "Gerente"}); err != nil {
					return err
				}
				if _, err := store.Cursor().Save(ctx, model.Cursor{Dataset: model.DatasetCV, LastProcessedID: 2}); err != nil {
					return err
				}
				return failure
			})
			Expect(err).To(MatchError(failure))

			var count int64
			tx := gormDB.Raw("SELECT COUNT(*) FROM role_records;").Scan(&count)
			Expect(tx.Error).To(BeNil())
			Expect(count).To(Equal(int64(1)))

			tx = gormDB.Raw("SELECT COUNT(*) FROM normalization_cursors;").Scan(&count)
			Expect(tx.Error).To(BeNil())
			Expect(count).To(BeZero())
		})

		It("joins the transaction of the context", func() {
			err := store.InTransaction(context.TODO(), func(ctx context.Context) error {
				Expect(st.FromContext(ctx)).NotTo(BeNil())
				return store.InTransaction(ctx, func(inner context.Context) error {
					Expect(st.FromContext(inner)).To(BeIdenticalTo(st.FromContext(ctx)))
					_, err := store.Record().Create(inner, model.RoleRecord{ID: 3, Dataset: model.DatasetJob, OwnerID: 30, RawTitle: "Analista"})
					return err
				})
			})
			Expect(err).To(BeNil())
			Expect(st.FromContext(context.TODO())).To(BeNil())

			rec, err := store.Record().Get(context.TODO(), 3)
			Expect(err).To(BeNil())
			Expect(rec.RawTitle).To(Equal("Analista"))
		})
	})
})
