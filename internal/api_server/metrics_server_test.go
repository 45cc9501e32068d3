package apiserver_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"

	apiserver "github.com/kubev2v/role-normalizer/internal/api_server"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("metrics server", func() {
	It("serves prometheus metrics", func() {
		srv := apiserver.NewMetricServer(":0", nil, nil)

		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(ContainSubstring("role_normalizer_"))
	})

	It("reports healthy", func() {
		srv := apiserver.NewMetricServer(":0", nil, func(context.Context) error { return nil })

		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		Expect(rec.Code).To(Equal(http.StatusOK))
	})

	It("reports unhealthy", func() {
		srv := apiserver.NewMetricServer(":0", nil, func(context.Context) error { return errors.New("database unreachable") })

		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		Expect(rec.Code).To(Equal(http.StatusServiceUnavailable))
		Expect(rec.Body.String()).To(ContainSubstring("database unreachable"))
	})
})
