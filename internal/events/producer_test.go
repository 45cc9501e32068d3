package events

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"

	"github.com/kubev2v/role-normalizer/internal/store/model"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("producer", Ordered, func() {
	Context("write", func() {
		It("writes successfully", func() {
			w := newTestWriter()
			kp := NewEventProducer(w, WithOutputTopic("reindex"))

			err := kp.Write(context.TODO(), "kind1", bytes.NewReader([]byte(`"msg1"`)))
			Expect(err).To(BeNil())
			Eventually(w.Len).Should(Equal(1))

			events := w.Events()
			Expect(events[0].Type).To(Equal("kind1"))
			Expect(events[0].ID).NotTo(BeEmpty())
			Expect(w.Topics()[0]).To(Equal("reindex"))

			err = kp.Write(context.TODO(), "kind2", bytes.NewReader([]byte(`"msg2"`)))
			Expect(err).To(BeNil())
			Eventually(w.Len).Should(Equal(2))

			Expect(kp.Close()).To(BeNil())
			Expect(w.closed).To(BeTrue())
		})

		It("flushes pending events on close", func() {
			w := newTestWriter()
			kp := NewEventProducer(w)

			for i := 0; i < 10; i++ {
				Expect(kp.Write(context.TODO(), "kind", bytes.NewReader([]byte(`{}`)))).To(Succeed())
			}
			Expect(kp.Close()).To(Succeed())
			Expect(w.Len()).To(Equal(10))
		})
	})

	Context("reindex publisher", func() {
		It("publishes owner ids", func() {
			w := newTestWriter()
			kp := NewEventProducer(w)
			publisher := NewReindexPublisher(kp)

			Expect(publisher.PublishReindex(context.TODO(), model.DatasetCV, []uint64{7, 9})).To(Succeed())
			Eventually(w.Len).Should(Equal(1))

			e := w.Events()[0]
			Expect(e.Type).To(Equal(ReindexMessageKind))
			Expect(e.Source).To(Equal(eventSource))

			var body ReindexEvent
			Expect(json.Unmarshal(e.Data, &body)).To(Succeed())
			Expect(body.Dataset).To(Equal("cv"))
			Expect(body.OwnerIDs).To(Equal([]uint64{7, 9}))

			Expect(kp.Close()).To(Succeed())
		})
	})
})

type testwriter struct {
	lock   sync.Mutex
	events []Event
	topics []string
	closed bool
}

func newTestWriter() *testwriter {
	return &testwriter{}
}

func (t *testwriter) Write(ctx context.Context, topic string, e Event) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.events = append(t.events, e)
	t.topics = append(t.topics, topic)
	return nil
}

func (t *testwriter) Close(_ context.Context) error {
	t.closed = true
	return nil
}

func (t *testwriter) Len() int {
	t.lock.Lock()
	defer t.lock.Unlock()
	return len(t.events)
}

func (t *testwriter) Events() []Event {
	t.lock.Lock()
	defer t.lock.Unlock()
	return append([]Event{}, t.events...)
}

func (t *testwriter) Topics() []string {
	t.lock.Lock()
	defer t.lock.Unlock()
	return append([]string{}, t.topics...)
}
