package server

import (
	"net/http"

	"github.com/aristath/arena/internal/clients/compute"
	"github.com/aristath/arena/internal/domain"
	"github.com/aristath/arena/internal/saga"
	"github.com/go-chi/chi/v5"
)

type submitRunRequest struct {
	AgentID  uint64                 `json:"agent_id"`
	Provider string                 `json:"provider"`
	Config   *domain.StrategyConfig `json:"config"`
	Market   *compute.MarketContext `json:"market,omitempty"`
	Stream   *bool                  `json:"stream,omitempty"`
}

// handleSubmitRun starts a strategy run and returns it in the connecting step
func (s *Server) handleSubmitRun(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Require()
	if err != nil {
		writeError(w, s.log, err)
		return
	}

	var body submitRunRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, s.log, err)
		return
	}

	req := saga.Request{
		AgentID:  body.AgentID,
		Provider: body.Provider,
		Config:   domain.DefaultStrategyConfig(),
		Market:   body.Market,
		Stream:   s.cfg.StreamInference,
	}
	if body.Config != nil {
		req.Config = *body.Config
	}
	if body.Stream != nil {
		req.Stream = *body.Stream
	}
	if req.Provider == "" {
		services, err := sess.Compute.Providers(r.Context())
		if err == nil && len(services) > 0 {
			req.Provider = services[0].Provider
		}
	}

	run, err := sess.Runs.Submit(r.Context(), req)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, s.log, http.StatusAccepted, run)
}

func (s *Server) handleCurrentRun(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Require()
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	run, ok := sess.Runs.Current()
	if !ok {
		writeError(w, s.log, domain.NewError(domain.KindValidation, domain.ReasonNotFound, "no current run"))
		return
	}
	writeJSON(w, s.log, http.StatusOK, run)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Require()
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	id := chi.URLParam(r, "id")
	run, ok := sess.Runs.Get(id)
	if !ok {
		writeError(w, s.log, domain.NewError(domain.KindValidation, domain.ReasonNotFound, "run %s not found", id))
		return
	}
	writeJSON(w, s.log, http.StatusOK, run)
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Require()
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	id := chi.URLParam(r, "id")
	if err := sess.Runs.Cancel(id); err != nil {
		writeError(w, s.log, err)
		return
	}
	run, _ := sess.Runs.Get(id)
	writeJSON(w, s.log, http.StatusAccepted, run)
}

func (s *Server) handleResetRun(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Require()
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	if err := sess.Runs.Reset(); err != nil {
		writeError(w, s.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
