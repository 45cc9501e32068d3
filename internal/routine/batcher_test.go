package routine_test

import (
	"strings"

	"github.com/kubev2v/role-normalizer/internal/routine"
	"github.com/kubev2v/role-normalizer/internal/store/model"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func records(titles ...string) []model.RoleRecord {
	out := make([]model.RoleRecord, 0, len(titles))
	for i, t := range titles {
		out = append(out, model.RoleRecord{ID: uint64(i + 1), Dataset: model.DatasetCV, OwnerID: uint64(100 + i), RawTitle: t})
	}
	return out
}

var _ = Describe("batcher", func() {
	It("returns no batch for no record", func() {
		batches, err := routine.MakeBatches(nil, routine.Limits{MaxTitles: 10})
		Expect(err).To(BeNil())
		Expect(batches).To(BeEmpty())
	})

	It("rejects an invalid batch size", func() {
		_, err := routine.MakeBatches(records("a"), routine.Limits{MaxTitles: 0})
		Expect(err).NotTo(BeNil())
	})

	It("splits by count keeping the order", func() {
		batches, err := routine.MakeBatches(records("a", "b", "c", "d", "e"), routine.Limits{MaxTitles: 2})
		Expect(err).To(BeNil())
		Expect(batches).To(HaveLen(3))
		Expect(batches[0].Titles).To(Equal([]string{"a", "b"}))
		Expect(batches[1].Titles).To(Equal([]string{"c", "d"}))
		Expect(batches[2].Titles).To(Equal([]string{"e"}))
		Expect(batches[2].Records[0].ID).To(Equal(uint64(5)))
	})

	It("splits by payload size", func() {
		// {"titles":["aaaa","bbbb"]} is 26 bytes
		limit := routine.PayloadSize([]string{"aaaa", "bbbb"})
		batches, err := routine.MakeBatches(records("aaaa", "bbbb", "cccc"), routine.Limits{MaxTitles: 100, MaxBytes: limit})
		Expect(err).To(BeNil())
		Expect(batches).To(HaveLen(2))
		for _, b := range batches {
			Expect(routine.PayloadSize(b.Titles)).To(BeNumerically("<=", limit))
		}
		Expect(batches[1].Titles).To(Equal([]string{"cccc"}))
	})

	It("sends identical titles once with dedup", func() {
		batches, err := routine.MakeBatches(records("a", "b", "a"), routine.Limits{MaxTitles: 10, Dedup: true})
		Expect(err).To(BeNil())
		Expect(batches).To(HaveLen(1))
		Expect(batches[0].Titles).To(Equal([]string{"a", "b"}))
		Expect(batches[0].Slots).To(Equal([]int{0, 1, 0}))
		Expect(batches[0].Records).To(HaveLen(3))
	})

	It("sends every title without dedup", func() {
		batches, err := routine.MakeBatches(records("a", "b", "a"), routine.Limits{MaxTitles: 10})
		Expect(err).To(BeNil())
		Expect(batches[0].Titles).To(Equal([]string{"a", "b", "a"}))
		Expect(batches[0].Slots).To(Equal([]int{0, 1, 2}))
	})

	It("rejects a title larger than the payload limit", func() {
		_, err := routine.MakeBatches(records(strings.Repeat("x", 100)), routine.Limits{MaxTitles: 10, MaxBytes: 50})
		var malformed *routine.ErrMalformedRecord
		Expect(err).To(BeAssignableToTypeOf(malformed))
	})
})
