package apiserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/kubev2v/role-normalizer/pkg/log"
	"github.com/kubev2v/role-normalizer/pkg/metrics"
	"go.uber.org/zap"
)

const gracefulShutdownTimeout = 5 * time.Second

// HealthFunc reports whether the process is healthy.
type HealthFunc func(ctx context.Context) error

type MetricServer struct {
	bindAddress string
	httpServer  *http.Server
	listener    net.Listener
}

func NewMetricServer(bindAddress string, listener net.Listener, health HealthFunc) *MetricServer {
	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		log.Logger(zap.L(), "metrics_router"),
		middleware.Recoverer,
	)

	router.Handle("/metrics", metrics.Handler())
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if health != nil {
			if err := health(r.Context()); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	s := &MetricServer{
		bindAddress: bindAddress,
		listener:    listener,
		httpServer: &http.Server{
			Addr:              bindAddress,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}

	return s
}

func (m *MetricServer) Handler() http.Handler {
	return m.httpServer.Handler
}

func (m *MetricServer) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		ctxTimeout, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
		defer cancel()

		m.httpServer.SetKeepAlivesEnabled(false)
		_ = m.httpServer.Shutdown(ctxTimeout)
		zap.S().Named("metrics_server").Info("metrics server terminated")
	}()

	zap.S().Named("metrics_server").Infof("serving metrics: %s", m.bindAddress)
	if err := m.httpServer.Serve(m.listener); err != nil && !errors.Is(err, net.ErrClosed) && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
