package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/PeladoCollado/cpuload/load"
	"github.com/PeladoCollado/cpuload/metrics"
	"github.com/PeladoCollado/cpuload/server/logger"
	"github.com/PeladoCollado/cpuload/server/middleware"
	"github.com/PeladoCollado/cpuload/server/sessions"
	"github.com/PeladoCollado/cpuload/types"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	Greeting        = "Hello World!"
	SessionIDHeader = "X-Load-Session-Id"

	recordTimeout = 2 * time.Second
)

// SessionRunner plans and executes load sessions. *load.Generator satisfies it.
type SessionRunner interface {
	Plan(utilization int) load.Plan
	Execute(ctx context.Context, id string, plan load.Plan) (load.Result, error)
}

type Options struct {
	Runner    SessionRunner
	Registry  *sessions.Registry
	History   sessions.Store
	Collector metrics.RequestCollector
	// Gatherer enables GET /metrics when set.
	Gatherer prometheus.Gatherer

	// CancelOnDisconnect stops a session's workers when its client goes away.
	// By default a session always runs its full course unless the server shuts down.
	CancelOnDisconnect bool
	HistoryLimit       int

	Concurrency middleware.ConcurrencyOptions
	RateLimit   middleware.RateLimitOptions
}

type validationIssue struct {
	Loc  []string `json:"loc"`
	Msg  string   `json:"msg"`
	Type string   `json:"type"`
}

type validationError struct {
	Detail []validationIssue `json:"detail"`
}

type handler struct {
	ctx                context.Context
	runner             SessionRunner
	registry           *sessions.Registry
	history            sessions.Store
	cancelOnDisconnect bool
	historyLimit       int

	// admitted runs a validated session behind the rate limit and concurrency cap.
	admitted http.Handler
}

type utilizationKey struct{}

// NewHandler builds the service route table. Sessions started through it are canceled when ctx ends.
// Utilization is validated before a request is admitted by the rate limit or the session cap.
func NewHandler(ctx context.Context, opts Options) http.Handler {
	if opts.Registry == nil {
		opts.Registry = sessions.NewRegistry()
	}
	if opts.History == nil {
		opts.History = sessions.NewMemoryStore(sessions.DefaultHistorySize)
	}
	h := &handler{
		ctx:                ctx,
		runner:             opts.Runner,
		registry:           opts.Registry,
		history:            opts.History,
		cancelOnDisconnect: opts.CancelOnDisconnect,
		historyLimit:       opts.HistoryLimit,
	}

	admitted := http.Handler(http.HandlerFunc(h.runSession))
	admitted = middleware.Concurrency(opts.Concurrency)(admitted)
	admitted = middleware.RateLimit(opts.RateLimit)(admitted)
	h.admitted = admitted

	router := mux.NewRouter()
	router.Use(middleware.Logging(opts.Collector))
	router.HandleFunc("/", rootHandler).Methods(http.MethodGet)
	router.HandleFunc("/intense/{utilization}", h.intenseHandler).Methods(http.MethodGet)
	router.HandleFunc("/sessions", h.sessionsHandler).Methods(http.MethodGet)
	router.HandleFunc("/healthz", healthHandler).Methods(http.MethodGet)
	if opts.Gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	return router
}

func rootHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, Greeting)
}

// healthHandler answers liveness probes while sessions hold every worker busy.
func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *handler) intenseHandler(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["utilization"]
	utilization, err := strconv.Atoi(raw)
	if err != nil {
		logger.Logger.Infow("Rejecting non-integer utilization", "utilization", raw)
		writeJSON(w, http.StatusUnprocessableEntity, validationError{Detail: []validationIssue{{
			Loc:  []string{"path", "utilization"},
			Msg:  "value is not a valid integer",
			Type: "type_error.integer",
		}}})
		return
	}
	h.admitted.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), utilizationKey{}, utilization)))
}

// runSession executes one load session. Only requests with a parsed utilization reach it.
func (h *handler) runSession(w http.ResponseWriter, r *http.Request) {
	utilization := r.Context().Value(utilizationKey{}).(int)
	id := uuid.NewString()
	plan := h.runner.Plan(utilization)

	runCtx, cancel := context.WithCancel(h.ctx)
	defer cancel()
	if h.cancelOnDisconnect {
		stop := context.AfterFunc(r.Context(), cancel)
		defer stop()
	}

	h.registry.Start(types.ActiveSession{ID: id, Utilization: plan.Utilization, Workers: plan.Workers})
	result, err := h.runner.Execute(runCtx, id, plan)
	h.registry.Finish(id)
	h.record(r.Context(), result.Report(id))

	w.Header().Set(SessionIDHeader, id)
	if err != nil {
		if errors.Is(err, load.ErrCanceled) {
			logger.Logger.Warnw("Load session canceled", "session", id, "err", err)
			writeJSON(w, http.StatusServiceUnavailable, "Load session canceled")
			return
		}
		logger.Logger.Errorw("Load session failed", "session", id, "err", err)
		writeJSON(w, http.StatusInternalServerError, "Load session failed")
		return
	}
	writeJSON(w, http.StatusOK, FormatElapsed(result.Elapsed))
}

// record stores the report even when the client has already gone away.
func (h *handler) record(ctx context.Context, report types.SessionReport) {
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err := h.history.Record(recordCtx, report); err != nil {
		logger.Logger.Warnw("Unable to record session history", "session", report.ID, "err", err)
	}
}

func (h *handler) sessionsHandler(w http.ResponseWriter, r *http.Request) {
	recent, err := h.history.Recent(r.Context(), h.historyLimit)
	if err != nil {
		logger.Logger.Errorw("Unable to read session history", "err", err)
		writeJSON(w, http.StatusInternalServerError, "Unable to read session history")
		return
	}
	writeJSON(w, http.StatusOK, types.SessionList{Active: h.registry.Active(), Recent: recent})
}

// FormatElapsed renders a session duration the way the service reports it.
func FormatElapsed(elapsed time.Duration) string {
	return fmt.Sprintf("Ran for %ss", strconv.FormatFloat(elapsed.Seconds(), 'f', -1, 64))
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	payload, err := json.Marshal(value)
	if err != nil {
		logger.Logger.Errorw("Unable to encode response", "err", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(payload)
}
