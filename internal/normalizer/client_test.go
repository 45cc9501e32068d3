package normalizer_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kubev2v/role-normalizer/internal/normalizer"
	"github.com/kubev2v/role-normalizer/pkg/requestid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func fastPolicy() normalizer.RetryPolicy {
	return normalizer.RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		Budget:      5 * time.Second,
	}
}

var _ = Describe("normalization client", func() {
	var (
		ctx   context.Context
		calls atomic.Int32
	)

	BeforeEach(func() {
		ctx = context.Background()
		calls.Store(0)
	})

	Context("successful requests", func() {
		It("posts titles with basic auth", func() {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				Expect(r.Method).To(Equal(http.MethodPost))
				Expect(r.Header.Get("Content-Type")).To(Equal("application/json"))

				user, pass, ok := r.BasicAuth()
				Expect(ok).To(BeTrue())
				Expect(user).To(Equal("svc"))
				Expect(pass).To(Equal("s3cret"))

				var body map[string][]string
				Expect(json.NewDecoder(r.Body).Decode(&body)).To(Succeed())
				Expect(body).To(HaveLen(1))
				Expect(body["titles"]).To(Equal([]string{"Vendedor", "Qualquer cargo"}))

				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`[1164, null]`))
			}))
			defer server.Close()

			c := normalizer.NewClient(server.URL,
				normalizer.WithCredentials(normalizer.Credentials{Username: "svc", Password: "s3cret"}),
				normalizer.WithRetryPolicy(fastPolicy()),
			)

			ids, err := c.Normalize(ctx, []string{"Vendedor", "Qualquer cargo"})
			Expect(err).To(BeNil())
			Expect(ids).To(HaveLen(2))
			Expect(*ids[0]).To(Equal(int64(1164)))
			Expect(ids[1]).To(BeNil())
			Expect(calls.Load()).To(Equal(int32(1)))
		})

		It("forwards the request id of the context", func() {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				Expect(r.Header.Get(requestid.Header)).To(Equal("batch-1"))
				_, _ = w.Write([]byte(`[7]`))
			}))
			defer server.Close()

			c := normalizer.NewClient(server.URL, normalizer.WithRetryPolicy(fastPolicy()))

			_, err := c.Normalize(requestid.ToContext(ctx, "batch-1"), []string{"Analista"})
			Expect(err).To(BeNil())
			Expect(calls.Load()).To(Equal(int32(1)))
		})

		It("does not call the service without titles", func() {
			c := normalizer.NewClient("http://127.0.0.1:1")

			ids, err := c.Normalize(ctx, nil)
			Expect(err).To(BeNil())
			Expect(ids).To(BeEmpty())
		})
	})

	Context("transient failures", func() {
		It("retries until the service recovers", func() {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if calls.Add(1) < 3 {
					w.WriteHeader(http.StatusServiceUnavailable)
					return
				}
				_, _ = w.Write([]byte(`[7]`))
			}))
			defer server.Close()

			c := normalizer.NewClient(server.URL, normalizer.WithRetryPolicy(fastPolicy()))

			ids, err := c.Normalize(ctx, []string{"Analista"})
			Expect(err).To(BeNil())
			Expect(*ids[0]).To(Equal(int64(7)))
			Expect(calls.Load()).To(Equal(int32(3)))
		})

		It("retries on too many requests", func() {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if calls.Add(1) == 1 {
					w.WriteHeader(http.StatusTooManyRequests)
					return
				}
				_, _ = w.Write([]byte(`[null]`))
			}))
			defer server.Close()

			c := normalizer.NewClient(server.URL, normalizer.WithRetryPolicy(fastPolicy()))

			ids, err := c.Normalize(ctx, []string{"Analista"})
			Expect(err).To(BeNil())
			Expect(ids[0]).To(BeNil())
		})

		It("gives up after the last attempt", func() {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(http.StatusBadGateway)
			}))
			defer server.Close()

			c := normalizer.NewClient(server.URL, normalizer.WithRetryPolicy(fastPolicy()))

			_, err := c.Normalize(ctx, []string{"Analista"})
			Expect(err).NotTo(BeNil())
			Expect(normalizer.IsTransient(err)).To(BeTrue())
			Expect(normalizer.IsFatal(err)).To(BeFalse())
			Expect(calls.Load()).To(Equal(int32(3)))
		})

		It("stops when the budget is exhausted", func() {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(http.StatusServiceUnavailable)
			}))
			defer server.Close()

			c := normalizer.NewClient(server.URL, normalizer.WithRetryPolicy(normalizer.RetryPolicy{
				MaxAttempts: 1000,
				BaseDelay:   20 * time.Millisecond,
				MaxDelay:    20 * time.Millisecond,
				Budget:      100 * time.Millisecond,
			}))

			start := time.Now()
			_, err := c.Normalize(ctx, []string{"Analista"})
			Expect(normalizer.IsTransient(err)).To(BeTrue())
			Expect(calls.Load()).To(BeNumerically("<", 1000))
			Expect(time.Since(start)).To(BeNumerically("<", time.Second))
		})

		It("times out slow attempts", func() {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				select {
				case <-r.Context().Done():
				case <-time.After(time.Second):
				}
			}))
			defer server.Close()

			c := normalizer.NewClient(server.URL,
				normalizer.WithRetryPolicy(fastPolicy()),
				normalizer.WithAttemptTimeout(20*time.Millisecond),
			)

			_, err := c.Normalize(ctx, []string{"Analista"})
			Expect(normalizer.IsTransient(err)).To(BeTrue())
			Expect(calls.Load()).To(Equal(int32(3)))
		})
	})

	Context("fatal failures", func() {
		It("does not retry authentication failures", func() {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(http.StatusUnauthorized)
			}))
			defer server.Close()

			c := normalizer.NewClient(server.URL, normalizer.WithRetryPolicy(fastPolicy()))

			_, err := c.Normalize(ctx, []string{"Analista"})
			Expect(normalizer.IsAuthFailure(err)).To(BeTrue())
			Expect(normalizer.IsFatal(err)).To(BeTrue())
			Expect(calls.Load()).To(Equal(int32(1)))
		})

		It("does not retry rejected requests", func() {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error": "titles is required"}`))
			}))
			defer server.Close()

			c := normalizer.NewClient(server.URL, normalizer.WithRetryPolicy(fastPolicy()))

			_, err := c.Normalize(ctx, []string{"Analista"})
			var malformed *normalizer.ErrMalformedRequest
			Expect(err).To(BeAssignableToTypeOf(malformed))
			Expect(err.Error()).To(ContainSubstring("titles is required"))
			Expect(calls.Load()).To(Equal(int32(1)))
		})

		It("fails on a response of the wrong length", func() {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				_, _ = w.Write([]byte(`[1]`))
			}))
			defer server.Close()

			c := normalizer.NewClient(server.URL, normalizer.WithRetryPolicy(fastPolicy()))

			ids, err := c.Normalize(ctx, []string{"a", "b"})
			Expect(ids).To(BeNil())
			Expect(normalizer.IsProtocolMismatch(err)).To(BeTrue())
			Expect(calls.Load()).To(Equal(int32(1)))
		})

		It("fails on an oversized response", func() {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				// still valid JSON once padded
				_, _ = w.Write([]byte("[1" + strings.Repeat(" ", 1<<20) + "]"))
			}))
			defer server.Close()

			c := normalizer.NewClient(server.URL, normalizer.WithRetryPolicy(fastPolicy()))

			ids, err := c.Normalize(ctx, []string{"a"})
			Expect(ids).To(BeNil())
			Expect(normalizer.IsProtocolMismatch(err)).To(BeTrue())
			Expect(err.Error()).To(ContainSubstring("exceeds"))
			Expect(calls.Load()).To(Equal(int32(1)))
		})

		It("fails on an undecodable response", func() {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"a": 1}`))
			}))
			defer server.Close()

			c := normalizer.NewClient(server.URL, normalizer.WithRetryPolicy(fastPolicy()))

			_, err := c.Normalize(ctx, []string{"a"})
			Expect(normalizer.IsProtocolMismatch(err)).To(BeTrue())
		})
	})
})
