package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"credit-risk-api/internal/ml"
)

// Prediction is one scored client. Probability is rendered with 4 decimals.
type Prediction struct {
	ClientID    string `json:"client_id"`
	Probability string `json:"probability"`
	Decision    int    `json:"decision"`
}

// PredictResponse is the body of POST /predict and of each stream reply.
type PredictResponse struct {
	Predictions  []Prediction `json:"predictions"`
	Threshold    float64      `json:"threshold"`
	ModelVersion string       `json:"model_version"`
	RequestID    string       `json:"request_id"`
}

// ExplainResponse is the body of both explain routes.
type ExplainResponse struct {
	Attributions []ml.AttributionRow `json:"attributions"`
	Reference    string              `json:"reference,omitempty"`
	ModelVersion string              `json:"model_version"`
	RequestID    string              `json:"request_id"`
}

// ModelInfoResponse is the body of GET /model/info.
type ModelInfoResponse struct {
	ml.ModelInfo
	Threshold float64   `json:"threshold"`
	LoadedAt  time.Time `json:"loaded_at"`
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	health := s.mc.Health()
	status := "ok"
	if !health.Healthy {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":       "Welcome to the credit risk scoring API",
		"status":        status,
		"model_version": health.ModelVersion,
		"routes":        s.Routes(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := s.mc.Health()
	status := http.StatusOK
	if !health.Healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

func (s *Server) handleRoutes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Routes())
}

func (s *Server) handleModelInfo(w http.ResponseWriter, r *http.Request) {
	if !s.mc.Available() {
		writeError(w, r, ml.ModelUnavailableError(s.mc.Health().LastError))
		return
	}
	writeJSON(w, http.StatusOK, ModelInfoResponse{
		ModelInfo: s.mc.Info(),
		Threshold: s.mc.Threshold(),
		LoadedAt:  s.mc.Health().LoadedAt,
	})
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	if !s.mc.Available() {
		writeError(w, r, ml.ModelUnavailableError(s.mc.Health().LastError))
		return
	}
	body, err := readBody(w, r, s.opts.MaxBodyBytes)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp, err := s.predict(body, RequestID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// predict scores one table. Shared by POST /predict and the stream.
func (s *Server) predict(body []byte, requestID string) (PredictResponse, error) {
	if !s.mc.Available() {
		return PredictResponse{}, ml.ModelUnavailableError(s.mc.Health().LastError)
	}
	rows, err := decodeTable(body, s.mc.IDColumn())
	if err != nil {
		return PredictResponse{}, err
	}
	scored, err := s.mc.Score(rows)
	if err != nil {
		return PredictResponse{}, err
	}

	predictions := make([]Prediction, len(scored))
	for i, sr := range scored {
		predictions[i] = Prediction{
			ClientID:    sr.ClientID,
			Probability: decimal.NewFromFloat(sr.Probability).StringFixed(4),
			Decision:    sr.Decision,
		}
	}
	return PredictResponse{
		Predictions:  predictions,
		Threshold:    s.mc.Threshold(),
		ModelVersion: s.mc.Info().Version,
		RequestID:    requestID,
	}, nil
}

func (s *Server) handleExplain(w http.ResponseWriter, r *http.Request) {
	if !s.mc.Available() {
		writeError(w, r, ml.ModelUnavailableError(s.mc.Health().LastError))
		return
	}
	cohort, limit, err := s.cohortParams(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	body, err := readBody(w, r, s.opts.MaxBodyBytes)
	if err != nil {
		writeError(w, r, err)
		return
	}
	rows, err := decodeTable(body, s.mc.IDColumn())
	if err != nil {
		writeError(w, r, err)
		return
	}

	var reference []ml.FeatureRow
	if cohort != "" {
		if reference, err = s.reference.Cohort(cohort, limit); err != nil {
			writeError(w, r, err)
			return
		}
	}

	attributions, err := s.mc.Explain(rows, reference, cohort)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ExplainResponse{
		Attributions: attributions,
		Reference:    cohort,
		ModelVersion: s.mc.Info().Version,
		RequestID:    RequestID(r.Context()),
	})
}

func (s *Server) handleExplainClient(w http.ResponseWriter, r *http.Request) {
	clientID := mux.Vars(r)["client_id"]
	cohort, limit, err := s.cohortParams(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if s.reference == nil {
		err := ml.InvalidInputError("no reference data is configured")
		if !s.mc.Available() {
			err = ml.ModelUnavailableError(s.mc.Health().LastError)
		}
		writeError(w, r, err)
		return
	}

	attributions, err := s.mc.ExplainClient(clientID, s.reference, cohort, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ExplainResponse{
		Attributions: attributions,
		Reference:    cohort,
		ModelVersion: s.mc.Info().Version,
		RequestID:    RequestID(r.Context()),
	})
}

// cohortParams reads ?cohort= and ?limit=. limit defaults to, and is capped
// at, the configured reference limit.
func (s *Server) cohortParams(r *http.Request) (string, int, error) {
	q := r.URL.Query()
	cohort := q.Get("cohort")
	switch cohort {
	case "", ml.CohortPositive, ml.CohortNegative, ml.CohortAll:
	default:
		return "", 0, ml.InvalidInputError("unknown cohort %q (want %s, %s or %s)", cohort, ml.CohortPositive, ml.CohortNegative, ml.CohortAll)
	}
	if cohort != "" && s.reference == nil {
		return "", 0, ml.InvalidInputError("no reference data is configured")
	}

	limit := s.opts.ReferenceLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return "", 0, ml.InvalidInputError("limit must be a positive integer, got %q", v)
		}
		limit = min(n, s.opts.ReferenceLimit)
	}
	return cohort, limit, nil
}
