package routine_test

import (
	"time"

	"github.com/kubev2v/role-normalizer/internal/normalizer"
	"github.com/kubev2v/role-normalizer/internal/routine"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func roleID(v int64) *int64 {
	return &v
}

var _ = Describe("merger", func() {
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	It("fans deduplicated results out to every record", func() {
		batches, err := routine.MakeBatches(records("a", "b", "a"), routine.Limits{MaxTitles: 10, Dedup: true})
		Expect(err).To(BeNil())

		results, err := routine.Merge(batches[0], []*int64{roleID(5), nil}, at)
		Expect(err).To(BeNil())
		Expect(results).To(HaveLen(3))

		Expect(results[0].RecordID).To(Equal(uint64(1)))
		Expect(*results[0].RoleID).To(Equal(int64(5)))
		Expect(results[1].RoleID).To(BeNil())
		Expect(results[2].RecordID).To(Equal(uint64(3)))
		Expect(*results[2].RoleID).To(Equal(int64(5)))
		Expect(results[2].OwnerID).To(Equal(uint64(102)))
		Expect(results[2].AttemptedAt).To(Equal(at))
	})

	It("fails on a response of the wrong length", func() {
		batches, err := routine.MakeBatches(records("a", "b"), routine.Limits{MaxTitles: 10})
		Expect(err).To(BeNil())

		_, err = routine.Merge(batches[0], []*int64{roleID(5)}, at)
		Expect(normalizer.IsProtocolMismatch(err)).To(BeTrue())

		_, err = routine.Merge(batches[0], []*int64{roleID(5), nil, nil}, at)
		Expect(normalizer.IsProtocolMismatch(err)).To(BeTrue())
	})
})
