package server

import (
	"net/http"
	"strings"

	"github.com/aristath/arena/internal/domain"
	"github.com/aristath/arena/internal/wallet"
)

type connectRequest struct {
	Seed    string `json:"seed"`
	ChainID uint64 `json:"chain_id,omitempty"`
}

// handleConnect opens a wallet session backed by a development signer
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, s.log, err)
		return
	}
	if strings.TrimSpace(req.Seed) == "" {
		writeError(w, s.log, domain.NewError(domain.KindValidation, domain.ReasonInvalidConfig, "seed is required"))
		return
	}
	chainID := req.ChainID
	if chainID == 0 {
		chainID = s.cfg.ChainID
	}

	sess, err := s.sessions.Connect(r.Context(), wallet.NewDevSigner(req.Seed, chainID))
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, s.log, http.StatusOK, sess.Info())
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Require()
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, s.log, http.StatusOK, sess.Info())
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if !s.sessions.Disconnect() {
		writeError(w, s.log, domain.NewError(domain.KindConnectivity, domain.ReasonNotFound, "no wallet connected"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
