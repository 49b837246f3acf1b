package middleware

import (
	"net/http"
	"time"

	"github.com/PeladoCollado/cpuload/metrics"
	"github.com/PeladoCollado/cpuload/server/logger"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

const RequestIDHeader = "X-Request-Id"

const unmatchedRoute = "unmatched"

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

// Logging logs every request and reports it to collector, labelled by route template.
func Logging(collector metrics.RequestCollector) mux.MiddlewareFunc {
	if collector == nil {
		collector = metrics.Noop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get(RequestIDHeader)
			if requestID == "" {
				requestID = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, requestID)

			recorder := &statusRecorder{ResponseWriter: w}
			start := time.Now()
			next.ServeHTTP(recorder, r)
			duration := time.Since(start)
			if recorder.status == 0 {
				recorder.status = http.StatusOK
			}

			route := routeTemplate(r)
			collector.RequestServed(route, recorder.status, duration)
			logger.Logger.Infow("Served request",
				"requestId", requestID,
				"method", r.Method,
				"path", r.URL.Path,
				"route", route,
				"status", recorder.status,
				"duration", duration)
		})
	}
}

func routeTemplate(r *http.Request) string {
	route := mux.CurrentRoute(r)
	if route == nil {
		return unmatchedRoute
	}
	template, err := route.GetPathTemplate()
	if err != nil {
		return unmatchedRoute
	}
	return template
}
