package server

import (
	"net/http"

	"github.com/aristath/arena/internal/clients/arena"
	"github.com/aristath/arena/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

type registerAgentRequest struct {
	Name          string `json:"name"`
	Description   string `json:"description"`
	ModelProvider string `json:"model_provider"`
	Metadata      string `json:"metadata"`
}

type agentStatusRequest struct {
	Active bool `json:"active"`
}

type amountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// BalanceResponse summarizes the funds of the connected wallet
type BalanceResponse struct {
	Address       string               `json:"address"`
	WalletBalance string               `json:"wallet_balance"`
	ArenaBalance  string               `json:"arena_balance"`
	Position      *domain.UserPosition `json:"position"`
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Require()
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	agents, err := sess.Arena.GetActiveAgents(r.Context())
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, s.log, http.StatusOK, agents)
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Require()
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	id, err := uintParam(r, "id")
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	agent, err := sess.Arena.GetAgent(r.Context(), id)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, s.log, http.StatusOK, agent)
}

func (s *Server) handleRegisterAgent(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Require()
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	var req registerAgentRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, s.log, err)
		return
	}

	id, txHash, err := sess.Arena.RegisterAgent(r.Context(), arena.AgentParams{
		Name:          req.Name,
		Description:   req.Description,
		ModelProvider: req.ModelProvider,
		Metadata:      req.Metadata,
	})
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, s.log, http.StatusCreated, map[string]interface{}{
		"agent_id": id,
		"tx_hash":  txHash,
	})
}

func (s *Server) handleAgentStatus(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Require()
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	id, err := uintParam(r, "id")
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	var req agentStatusRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, s.log, err)
		return
	}
	receipt, err := sess.Arena.UpdateAgentStatus(r.Context(), id, req.Active)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, s.log, http.StatusOK, receipt)
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Require()
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	board, err := sess.Arena.GetLeaderboard(r.Context(), intQuery(r, "limit", 10))
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, s.log, http.StatusOK, board)
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Require()
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	execs, err := sess.Arena.GetUserExecutions(r.Context(), r.URL.Query().Get("user"))
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, s.log, http.StatusOK, execs)
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Require()
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	id, err := uintParam(r, "id")
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	rec, err := sess.Arena.GetExecution(r.Context(), id)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, s.log, http.StatusOK, rec)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Require()
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	ctx := r.Context()

	native, err := sess.Arena.WalletBalance(ctx)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	available, err := sess.Arena.BalanceOf(ctx, "")
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	position, err := sess.Arena.GetPosition(ctx, "")
	if err != nil {
		writeError(w, s.log, err)
		return
	}

	writeJSON(w, s.log, http.StatusOK, BalanceResponse{
		Address:       sess.Address,
		WalletBalance: domain.FromWei(native).String(),
		ArenaBalance:  domain.FromWei(available).String(),
		Position:      position,
	})
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	s.handleFunds(w, r, true)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	s.handleFunds(w, r, false)
}

func (s *Server) handleFunds(w http.ResponseWriter, r *http.Request, deposit bool) {
	sess, err := s.sessions.Require()
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	var req amountRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, s.log, err)
		return
	}

	var receipt *domain.Receipt
	if deposit {
		receipt, err = sess.Arena.Deposit(r.Context(), req.Amount)
	} else {
		receipt, err = sess.Arena.Withdraw(r.Context(), req.Amount)
	}
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, s.log, http.StatusOK, receipt)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Require()
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	withProof := r.URL.Query().Get("proof") != "false"
	data, err := sess.Storage.Download(r.Context(), chi.URLParam(r, "root"), withProof)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(data)
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Require()
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	services, err := sess.Compute.Providers(r.Context())
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, s.log, http.StatusOK, services)
}

func (s *Server) handleRefreshProviders(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Require()
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	services, err := sess.Compute.RefreshProviders(r.Context())
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, s.log, http.StatusOK, services)
}

func (s *Server) handleComputeAccount(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Require()
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	account, err := sess.Compute.Account(r.Context())
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, s.log, http.StatusOK, account)
}

func (s *Server) handleComputeDeposit(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Require()
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	var req amountRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, s.log, err)
		return
	}
	if !req.Amount.IsPositive() {
		writeError(w, s.log, domain.NewError(domain.KindValidation, domain.ReasonInvalidConfig, "amount must be positive"))
		return
	}
	wei := domain.ToWei(req.Amount)
	if err := sess.Compute.Deposit(r.Context(), wei); err != nil {
		writeError(w, s.log, err)
		return
	}
	account, err := sess.Compute.Account(r.Context())
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, s.log, http.StatusOK, account)
}
