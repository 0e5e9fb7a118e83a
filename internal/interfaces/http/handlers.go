package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/sawpanic/backtester/internal/application"
	"github.com/sawpanic/backtester/internal/data"
	"github.com/sawpanic/backtester/internal/domain"
)

// API holds the JSON handlers over an application service
type API struct {
	svc     *application.Service
	maxBody int64
}

// NewAPI creates the handler set; maxBody <= 0 means unlimited request bodies
func NewAPI(svc *application.Service, maxBody int64) *API {
	return &API{svc: svc, maxBody: maxBody}
}

func (a *API) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, resp := errorResponse(err)
	resp.RequestID = RequestID(r.Context())

	ev := log.Warn()
	if status >= http.StatusInternalServerError {
		ev = log.Error()
	}
	ev.Err(err).
		Str("request_id", resp.RequestID).
		Str("path", r.URL.Path).
		Int("status", status).
		Msg("Request failed")

	a.writeJSON(w, status, resp)
}

// errorResponse maps service errors onto HTTP statuses
func errorResponse(err error) (int, ErrorResponse) {
	resp := ErrorResponse{Message: err.Error(), Timestamp: time.Now().UTC()}

	var ce *domain.ConfigError
	var syntax *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &ce):
		resp.Field = ce.Field
		resp.Error = errorCode(ce.Kind)
		return http.StatusBadRequest, resp
	case errors.Is(err, domain.ErrUnknownStrategy), errors.Is(err, domain.ErrInvalidRange), errors.Is(err, domain.ErrInvalidConfig):
		resp.Error = errorCode(err)
		return http.StatusBadRequest, resp
	case errors.As(err, &tooLarge):
		resp.Error = "request_too_large"
		return http.StatusRequestEntityTooLarge, resp
	case errors.As(err, &syntax), errors.As(err, &typeErr), errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		resp.Error = "invalid_json"
		return http.StatusBadRequest, resp
	case errors.Is(err, data.ErrNoData):
		resp.Error = "no_data"
		return http.StatusNotFound, resp
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		resp.Error = "source_unavailable"
		return http.StatusServiceUnavailable, resp
	case errors.Is(err, context.DeadlineExceeded):
		resp.Error = "timeout"
		return http.StatusGatewayTimeout, resp
	case errors.Is(err, context.Canceled):
		resp.Error = "cancelled"
		return http.StatusServiceUnavailable, resp
	default:
		resp.Error = "internal_error"
		return http.StatusInternalServerError, resp
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrUnknownStrategy):
		return "unknown_strategy"
	case errors.Is(err, domain.ErrInvalidRange):
		return "invalid_range"
	default:
		return "invalid_config"
	}
}

// decode reads one JSON body into dst
func (a *API) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	body := io.Reader(r.Body)
	if a.maxBody > 0 {
		body = http.MaxBytesReader(w, r.Body, a.maxBody)
	}
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}

// Strategies lists the catalog
func (a *API) Strategies(w http.ResponseWriter, r *http.Request) {
	list := a.svc.Strategies()
	a.writeJSON(w, http.StatusOK, StrategiesResponse{Count: len(list), Strategies: list})
}

// Backtest runs one strategy
func (a *API) Backtest(w http.ResponseWriter, r *http.Request) {
	var req application.BacktestRequest
	if err := a.decode(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	resp, err := a.svc.Backtest(r.Context(), req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, resp)
}

// Compare runs several strategies over the same data
func (a *API) Compare(w http.ResponseWriter, r *http.Request) {
	var req application.CompareRequest
	if err := a.decode(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	resp, err := a.svc.Compare(r.Context(), req, nil)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, resp)
}

// Optimize runs a parameter grid search
func (a *API) Optimize(w http.ResponseWriter, r *http.Request) {
	var req application.OptimizeRequest
	if err := a.decode(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	resp, err := a.svc.Optimize(r.Context(), req, nil)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, resp)
}

// Rolling runs a rolling-window analysis
func (a *API) Rolling(w http.ResponseWriter, r *http.Request) {
	var req application.RollingRequest
	if err := a.decode(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	resp, err := a.svc.Rolling(r.Context(), req, nil)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, resp)
}

// MonteCarlo reshuffles the trades of one backtest
func (a *API) MonteCarlo(w http.ResponseWriter, r *http.Request) {
	var req application.MonteCarloRequest
	if err := a.decode(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	resp, err := a.svc.MonteCarlo(r.Context(), req, nil)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, resp)
}

// Signals evaluates the catalog at one bar per symbol
func (a *API) Signals(w http.ResponseWriter, r *http.Request) {
	var req application.SignalsRequest
	if err := a.decode(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	reports, err := a.svc.Signals(r.Context(), req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, SignalsResponse{Timestamp: time.Now().UTC(), Reports: reports})
}

// NotFound handles unknown routes
func (a *API) NotFound(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusNotFound, ErrorResponse{
		Error:     "not_found",
		Message:   fmt.Sprintf("no route for %s %s", r.Method, r.URL.Path),
		RequestID: RequestID(r.Context()),
		Timestamp: time.Now().UTC(),
	})
}

// MethodNotAllowed handles known routes called with the wrong verb
func (a *API) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{
		Error:     "method_not_allowed",
		Message:   fmt.Sprintf("%s not allowed on %s", r.Method, r.URL.Path),
		RequestID: RequestID(r.Context()),
		Timestamp: time.Now().UTC(),
	})
}
