package server

import (
	"context"
	"encoding/hex"
	"io"
	"net/http"
	"strconv"
	"time"

	"PoolLedger/internal/event"
	"PoolLedger/internal/projection"
	"PoolLedger/internal/query"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
)

const maxBodyBytes = 1 << 20

// errorBody is the JSON shape of every failed request.
type errorBody struct {
	Code    string `json:"code"`
	Class   string `json:"class,omitempty"`
	Message string `json:"message"`
}

// valuationRequest carries the oracle report for routes that price state.
type valuationRequest struct {
	Report        event.PriceReport `json:"report"`
	PnlFactorType string            `json:"pnl_factor_type"`
	Maximize      bool              `json:"maximize"`
}

type simulateRequest struct {
	Caller string            `json:"caller"`
	Report event.PriceReport `json:"report"`
}

type eventLogInfo struct {
	EngineSequence    int64  `json:"engine_sequence"`
	StateHash         string `json:"state_hash"`
	PersistedSequence *int64 `json:"persisted_sequence,omitempty"`
}

type api struct {
	deps      *Deps
	marshaler runtime.Marshaler
	logger    zerolog.Logger
}

type route struct {
	method, pattern, name string
	handle                func(r *http.Request, params map[string]string) (any, error)
}

func newHTTPHandler(deps *Deps, logger zerolog.Logger) (http.Handler, error) {
	a := &api{deps: deps, marshaler: &runtime.JSONBuiltin{}, logger: logger}
	mux := runtime.NewServeMux()

	routes := []route{
		{"GET", "/v1/markets", "markets", a.markets},
		{"POST", "/v1/markets/{market}/value", "pool_value", a.poolValue},
		{"GET", "/v1/accounts/{account}/positions", "positions", a.positions},
		{"POST", "/v1/accounts/{account}/positions/health", "position_health", a.positionHealth},
		{"GET", "/v1/accounts/{account}/orders", "orders", a.orders},
		{"GET", "/v1/accounts/{account}/balances", "balances", a.balances},
		{"GET", "/v1/accounts/{account}/journals", "journals", a.journals},
		{"GET", "/v1/outcomes", "outcomes", a.outcomes},
		{"POST", "/v1/orders/{key}/simulate", "simulate", a.simulate},
		{"POST", "/v1/commands/{event_type}", "submit", a.submit},
		{"GET", "/v1/admin/integrity", "integrity", a.integrity},
		{"GET", "/v1/admin/eventlog", "eventlog", a.eventLog},
	}
	if deps.Snapshot != nil {
		routes = append(routes, route{"POST", "/v1/admin/snapshot", "snapshot", a.snapshot})
	}
	if deps.DB != nil {
		routes = append(routes, route{"POST", "/v1/admin/projections/rebuild", "rebuild", a.rebuild})
	}

	for _, rt := range routes {
		if err := mux.HandlePath(rt.method, rt.pattern, a.wrap(rt)); err != nil {
			return nil, err
		}
	}

	httpMux := http.NewServeMux()
	if deps.Health != nil {
		httpMux.HandleFunc("/healthz", deps.Health.LivenessHandler)
		httpMux.HandleFunc("/readyz", deps.Health.ReadinessHandler)
	}
	httpMux.Handle("/", mux)
	return httpMux, nil
}

func (a *api) wrap(rt route) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		start := time.Now()
		resp, err := rt.handle(r, params)
		if a.deps.Metrics != nil {
			a.deps.Metrics.QueryRequests.WithLabelValues(rt.name).Inc()
			a.deps.Metrics.QueryDuration.WithLabelValues(rt.name).Observe(time.Since(start).Seconds())
		}
		if err != nil {
			a.writeError(w, rt.name, err)
			return
		}
		a.write(w, http.StatusOK, resp)
	}
}

func (a *api) write(w http.ResponseWriter, status int, v any) {
	body, err := a.marshaler.Marshal(v)
	if err != nil {
		a.logger.Error().Err(err).Msg("encode response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", a.marshaler.ContentType(v))
	w.WriteHeader(status)
	w.Write(body)
}

func (a *api) writeError(w http.ResponseWriter, name string, err error) {
	code := errorCode(err)
	if a.deps.Metrics != nil {
		a.deps.Metrics.QueryErrors.WithLabelValues(name, code.String()).Inc()
	}
	if code == codes.Internal {
		a.logger.Error().Err(err).Str("route", name).Msg("request failed")
	}
	a.write(w, runtime.HTTPStatusFromCode(code), errorBody{
		Code:    code.String(),
		Class:   errorClass(err),
		Message: err.Error(),
	})
}

func (a *api) decode(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return err
	}
	if err := a.marshaler.Unmarshal(body, v); err != nil {
		return badRequest("malformed body: %v", err)
	}
	return nil
}

// --- query routes ---

func (a *api) markets(r *http.Request, _ map[string]string) (any, error) {
	return a.deps.Query.Markets(r.Context())
}

func (a *api) poolValue(r *http.Request, p map[string]string) (any, error) {
	var req valuationRequest
	if err := a.decode(r, &req); err != nil {
		return nil, err
	}
	pft, err := query.ParsePnlFactorType(req.PnlFactorType)
	if err != nil {
		return nil, err
	}
	return a.deps.Query.PoolValue(r.Context(), p["market"], req.Report, pft, req.Maximize)
}

func (a *api) positions(r *http.Request, p map[string]string) (any, error) {
	return a.deps.Query.Positions(r.Context(), p["account"], nil)
}

func (a *api) positionHealth(r *http.Request, p map[string]string) (any, error) {
	var req valuationRequest
	if err := a.decode(r, &req); err != nil {
		return nil, err
	}
	return a.deps.Query.Positions(r.Context(), p["account"], &req.Report)
}

func (a *api) orders(r *http.Request, p map[string]string) (any, error) {
	return a.deps.Query.Orders(r.Context(), p["account"])
}

func (a *api) balances(r *http.Request, p map[string]string) (any, error) {
	return a.deps.Query.Balances(r.Context(), p["account"])
}

func (a *api) journals(r *http.Request, p map[string]string) (any, error) {
	limit, before, err := paging(r)
	if err != nil {
		return nil, err
	}
	return a.deps.Query.JournalHistory(r.Context(), "user:"+p["account"], limit, before)
}

func (a *api) outcomes(r *http.Request, _ map[string]string) (any, error) {
	limit, before, err := paging(r)
	if err != nil {
		return nil, err
	}
	q := r.URL.Query()
	return a.deps.Query.Outcomes(r.Context(), query.OutcomeFilter{
		Key:            q.Get("key"),
		Caller:         q.Get("caller"),
		Kind:           q.Get("kind"),
		Limit:          limit,
		BeforeSequence: before,
	})
}

func (a *api) simulate(r *http.Request, p map[string]string) (any, error) {
	var req simulateRequest
	if err := a.decode(r, &req); err != nil {
		return nil, err
	}
	return a.deps.Query.SimulateOrder(r.Context(), req.Caller, p["key"], req.Report)
}

// --- command route ---

func (a *api) submit(r *http.Request, p map[string]string) (any, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	return a.deps.Ingest.Submit(r.Context(), p["event_type"], body)
}

// --- admin routes ---

func (a *api) integrity(r *http.Request, _ map[string]string) (any, error) {
	return a.deps.Query.VerifyIntegrity(r.Context())
}

func (a *api) eventLog(r *http.Request, _ map[string]string) (any, error) {
	hash := a.deps.Engine.GetStateHash()
	info := eventLogInfo{
		EngineSequence: a.deps.Engine.GetSequence(),
		StateHash:      hex.EncodeToString(hash[:]),
	}
	if a.deps.EventLog != nil {
		seq, err := a.deps.EventLog.GetLatestSequence(r.Context())
		if err != nil {
			return nil, err
		}
		info.PersistedSequence = &seq
	}
	return info, nil
}

func (a *api) snapshot(r *http.Request, _ map[string]string) (any, error) {
	seq, err := a.deps.Snapshot(r.Context())
	if err != nil {
		return nil, err
	}
	return map[string]int64{"sequence": seq}, nil
}

func (a *api) rebuild(r *http.Request, _ map[string]string) (any, error) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()
	if err := projection.RebuildProjections(ctx, a.deps.DB, a.logger); err != nil {
		return nil, err
	}
	return map[string]string{"status": "rebuilt"}, nil
}

// paging reads ?limit= and ?before= .
func paging(r *http.Request) (int, *int64, error) {
	q := r.URL.Query()
	limit := 0
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return 0, nil, badRequest("invalid limit %q", s)
		}
		limit = n
	}
	var before *int64
	if s := q.Get("before"); s != "" {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, nil, badRequest("invalid before %q", s)
		}
		before = &n
	}
	return limit, before, nil
}
