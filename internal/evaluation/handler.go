package evaluation

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/ricesearch/tsrr/internal/pkg/errors"
	"github.com/ricesearch/tsrr/internal/pkg/logger"
)

// maxBodyBytes caps request bodies for the evaluation endpoints.
const maxBodyBytes = 16 << 20

// Handler provides HTTP handlers for evaluation.
type Handler struct {
	evaluator *Evaluator
	log       *logger.Logger
}

// NewHandler creates a new evaluation handler. Request options override the
// evaluator's settings per call.
func NewHandler(e *Evaluator, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Nop()
	}
	return &Handler{evaluator: e, log: log}
}

// RegisterRoutes registers evaluation routes.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/evaluation/score", h.handleScore)
	mux.HandleFunc("POST /v1/evaluation/runs", h.handleRun)
}

// ScoreRequest scores a single query given either ranked items or labels.
type ScoreRequest struct {
	Items []RankedItem `json:"items,omitempty"`

	Target       *string   `json:"target,omitempty"`
	Labels       []string  `json:"labels,omitempty"`
	Similarities []float64 `json:"similarities,omitempty"`

	Variant string   `json:"variant,omitempty"`
	Alpha   *float64 `json:"alpha,omitempty"`
}

// ScoreResponse is the result of a single-query score.
type ScoreResponse struct {
	Score     float64   `json:"score"`
	RR        float64   `json:"rr"`
	PRR       float64   `json:"prr"`
	TaRR      float64   `json:"ta_rr"`
	Breakdown Breakdown `json:"breakdown"`
}

// RunRequest evaluates a batch of queries.
type RunRequest struct {
	Queries []Query        `json:"queries,omitempty"`
	Labeled []LabeledQuery `json:"labeled,omitempty"`

	Variant   string   `json:"variant,omitempty"`
	Alpha     *float64 `json:"alpha,omitempty"`
	Reduction string   `json:"reduction,omitempty"`
}

func (h *Handler) handleScore(w http.ResponseWriter, r *http.Request) {
	var req ScoreRequest
	if !h.decode(w, r, &req) {
		return
	}

	e, err := h.evaluatorFor(req.Variant, req.Alpha, "")
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}

	q := Query{Items: req.Items}
	if req.Target != nil || req.Labels != nil || req.Similarities != nil {
		if req.Items != nil {
			apperrors.WriteError(w, apperrors.InvalidRequestError("send either items or target/labels/similarities, not both"))
			return
		}
		lq := LabeledQuery{Labels: req.Labels, Similarities: req.Similarities}
		if req.Target != nil {
			lq.Target = *req.Target
		}
		if q, err = lq.Query(); err != nil {
			apperrors.WriteError(w, err)
			return
		}
	}

	res, err := e.EvaluateQuery(r.Context(), q)
	if err != nil {
		h.log.WithContext(r.Context()).WithError(err).Debug("score rejected")
		apperrors.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ScoreResponse{
		Score:     res.TsRR,
		RR:        res.RR,
		PRR:       res.PRR,
		TaRR:      res.TaRR,
		Breakdown: res.Breakdown,
	})
}

func (h *Handler) handleRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if !h.decode(w, r, &req) {
		return
	}

	run := Run{Queries: req.Queries, Labeled: req.Labeled}
	if run.Len() == 0 {
		apperrors.WriteError(w, apperrors.InvalidInputError("run contains no queries"))
		return
	}

	e, err := h.evaluatorFor(req.Variant, req.Alpha, req.Reduction)
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}

	report, err := e.EvaluateRun(r.Context(), run)
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		apperrors.WriteError(w, apperrors.InvalidRequestError("invalid JSON body: "+err.Error()))
		return false
	}
	return true
}

// evaluatorFor applies per-request overrides to the handler's evaluator.
func (h *Handler) evaluatorFor(variant string, alpha *float64, reduction string) (*Evaluator, error) {
	base := h.evaluator.Settings()
	s := base
	if variant != "" {
		s.Variant = Variant(variant)
	}
	if alpha != nil {
		s.Alpha = *alpha
	}
	if reduction != "" {
		s.Reduction = Reduction(reduction)
	}
	if s == base {
		return h.evaluator, nil
	}
	return h.evaluator.WithSettings(s)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
