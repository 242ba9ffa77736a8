package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/miradorstack/mirador-triage/internal/models"
	"github.com/miradorstack/mirador-triage/internal/utils"
)

// maxBodyBytes bounds a JSON request body.
const maxBodyBytes = 8 << 20

// Triage is the domain surface the HTTP handlers expose.
type Triage interface {
	Analyze(ctx context.Context, req models.AnalyzeRequest) (models.AnalyzeResponse, error)
	Investigate(ctx context.Context, req models.InvestigateRequest) (models.InvestigateResponse, error)
	Patterns(ctx context.Context) (models.PatternsResponse, error)
	Health(ctx context.Context) models.HealthResponse
}

type httpHandler struct {
	svc    Triage
	logger *slog.Logger
}

// NewHTTPHandler routes the JSON API:
//
//	POST /analyze/logs   {"logs": [...]}        -> [result, ...]
//	POST /investigate    {"log": "", "top_k": 5} -> [case, ...]
//	GET  /patterns                              -> {"patterns": [...]}
//	GET  /healthz                               -> {"status": "SERVING"}
//	GET  /metrics                               -> Prometheus exposition
func NewHTTPHandler(svc Triage, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &httpHandler{svc: svc, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /analyze/logs", h.analyze)
	mux.HandleFunc("POST /investigate", h.investigate)
	mux.HandleFunc("GET /patterns", h.patterns)
	mux.HandleFunc("GET /healthz", h.healthz)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

func (h *httpHandler) analyze(w http.ResponseWriter, r *http.Request) {
	var req models.AnalyzeRequest
	if err := decodeBody(r, &req); err != nil {
		h.fail(w, err)
		return
	}
	if err := req.Validate(); err != nil {
		h.fail(w, err)
		return
	}
	resp, err := h.svc.Analyze(r.Context(), req)
	if err != nil {
		h.fail(w, err)
		return
	}
	if resp.Results == nil {
		resp.Results = []models.Result{}
	}
	writeJSON(w, http.StatusOK, resp.Results)
}

func (h *httpHandler) investigate(w http.ResponseWriter, r *http.Request) {
	var req models.InvestigateRequest
	if err := decodeBody(r, &req); err != nil {
		h.fail(w, err)
		return
	}
	if err := req.Normalize(); err != nil {
		h.fail(w, err)
		return
	}
	resp, err := h.svc.Investigate(r.Context(), req)
	if err != nil {
		h.fail(w, err)
		return
	}
	if resp.Cases == nil {
		resp.Cases = []models.Example{}
	}
	writeJSON(w, http.StatusOK, resp.Cases)
}

func (h *httpHandler) patterns(w http.ResponseWriter, r *http.Request) {
	resp, err := h.svc.Patterns(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	if resp.Patterns == nil {
		resp.Patterns = []models.AttackPattern{}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *httpHandler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Health(r.Context()))
}

func (h *httpHandler) fail(w http.ResponseWriter, err error) {
	code := HTTPStatus(err)
	if code >= http.StatusInternalServerError {
		h.logger.Error("http request failed", slog.String("kind", utils.KindOf(err)), slog.Any("error", err))
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

// HTTPStatus maps an error kind onto an HTTP status code.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, utils.ErrServiceUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, utils.ErrServiceError):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(r *http.Request, into any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(into); err != nil {
		return errors.Join(models.ErrInvalidRequest, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
