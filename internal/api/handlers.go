package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/ocx/uaal/internal/enforce"
	"github.com/ocx/uaal/internal/firewall"
	"github.com/ocx/uaal/internal/intent"
	"github.com/ocx/uaal/internal/ledger"
	"github.com/ocx/uaal/internal/report"
)

// DefaultSimulationAction is used by /policies/test when no action is given.
const DefaultSimulationAction = "approve_loan"

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// errorStatus maps pipeline errors onto HTTP status codes.
func errorStatus(err error) int {
	var ve *intent.ValidationError
	var se *firewall.StageError
	switch {
	case errors.As(err, &se):
		return http.StatusInternalServerError
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.Is(err, enforce.ErrPolicyBlocked):
		return http.StatusForbidden
	default:
		return http.StatusBadRequest
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":        "healthy",
		"service":       "uaal-firewall",
		"mode":          string(s.fw.Enforcer().Mode()),
		"policyVersion": s.fw.PolicyVersion(),
	})
}

// POST /api/v1/logs accepts one execution log object or an array of them.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	}

	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && trimmed[0] == '[' {
		s.ingestBatch(w, r, trimmed)
		return
	}

	log, err := s.decoder.DecodeLog(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rec, err := s.fw.Process(r.Context(), log)
	if err != nil {
		status := errorStatus(err)
		if status == http.StatusInternalServerError {
			s.logger.Printf("❌ Analysis failed: %v", err)
		}
		if status == http.StatusForbidden {
			writeJSON(w, status, map[string]any{"error": err.Error(), "analysis": rec})
			return
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) ingestBatch(w http.ResponseWriter, r *http.Request, raw []byte) {
	logs, err := s.decoder.DecodeLogs(bytes.NewReader(raw))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.fw.ProcessBatch(r.Context(), logs)
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"processed": len(res.Records),
		"blocked":   res.Blocked,
		"analyses":  res.Records,
	})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	rep, err := s.fw.Report(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleProof(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(mux.Vars(r)["index"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "index must be an integer")
		return
	}

	proof, err := s.fw.Proof(r.Context(), index)
	if errors.Is(err, ledger.ErrIndexOutOfRange) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, proof)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	top := 0
	if v := r.URL.Query().Get("top"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "top must be a non-negative integer")
			return
		}
		top = n
	}

	sum, err := s.fw.Summary(r.Context(), top)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleShadowMetrics(w http.ResponseWriter, r *http.Request) {
	m, err := s.fw.ShadowMetrics(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := s.fw.ExportCSV(r.Context(), &buf); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="analyses.csv"`)
	w.Write(buf.Bytes())
}

func (s *Server) handleUserExposure(w http.ResponseWriter, r *http.Request) {
	recs, err := s.fw.Analyses(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report.PerUserExposure(recs))
}

// POST /policies/test
func (s *Server) handlePolicyTest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Policy    string   `json:"policy"`
		Threshold *float64 `json:"threshold"`
		Action    string   `json:"action"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid Payload")
		return
	}
	if req.Threshold == nil {
		writeError(w, http.StatusBadRequest, "threshold is required")
		return
	}
	if req.Action == "" {
		req.Action = DefaultSimulationAction
	}

	res, err := s.fw.Simulate(r.Context(), req.Action, req.Policy, *req.Threshold)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleBreakers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.fw.Enforcer().Breakers().Stats())
}

func (s *Server) handleGetMode(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"mode": string(s.fw.Enforcer().Mode())})
}

func (s *Server) handleSetMode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode string `json:"mode"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid Payload")
		return
	}
	mode, err := enforce.ParseMode(req.Mode)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.fw.Enforcer().SetMode(mode)
	s.logger.Printf("⚙️  Enforcement mode set to %s", mode)
	writeJSON(w, http.StatusOK, map[string]string{"mode": string(mode)})
}
