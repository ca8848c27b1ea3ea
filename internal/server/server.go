// Package server exposes the vault operations over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"epoch-vault/internal/epoch"
	"epoch-vault/internal/lending"
	"epoch-vault/internal/shares"
	"epoch-vault/internal/vault"
)

// Controller is the vault surface the server fronts.
type Controller interface {
	Initialize(ctx context.Context, name, admin string, initialLamports, allocationBps uint64, schedule epoch.Schedule) (vault.Vault, error)
	Deposit(ctx context.Context, name, user string, amount uint64) (uint64, error)
	Withdraw(ctx context.Context, name, user string, sharesBurned uint64) (uint64, error)
	StartAuction(ctx context.Context, name string) (uint64, error)
	Rollover(ctx context.Context, name string) (vault.Vault, error)
	Resume(ctx context.Context, name, caller string) error
	Get(name string) (vault.Vault, error)
	List() []string
}

// Faucet mints asset units to an arbitrary account. Only the paper-mode
// token ledger provides one; against a real ledger there is no faucet.
type Faucet interface {
	Mint(ctx context.Context, mint, to string, amount uint64) error
}

type Server struct {
	ctrl       Controller
	log        *zap.Logger
	adminToken string
	metrics    http.Handler

	faucet     Faucet
	faucetMint string
}

func New(ctrl Controller, log *zap.Logger, adminToken string, metricsHandler http.Handler) *Server {
	return &Server{ctrl: ctrl, log: log, adminToken: adminToken, metrics: metricsHandler}
}

// SetFaucet exposes POST /v1/faucet, crediting the configured asset mint.
func (s *Server) SetFaucet(f Faucet, mint string) {
	s.faucet = f
	s.faucetMint = mint
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}
	if s.faucet != nil {
		r.Post("/v1/faucet", s.handleFaucet)
	}

	r.Route("/v1/vaults", func(r chi.Router) {
		r.Get("/", s.handleList)
		r.Get("/{name}", s.handleGet)
		r.Post("/{name}/deposit", s.handleDeposit)
		r.Post("/{name}/withdraw", s.handleWithdraw)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Post("/", s.handleInitialize)
			r.Post("/{name}/auction", s.handleStartAuction)
			r.Post("/{name}/rollover", s.handleRollover)
			r.Post("/{name}/resume", s.handleResume)
		})
	})
	return r
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.adminToken != "" && r.Header.Get("Authorization") != "Bearer "+s.adminToken {
			writeError(w, http.StatusUnauthorized, errors.New("admin token required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

type initializeRequest struct {
	Name            string         `json:"name"`
	Admin           string         `json:"admin"`
	InitialLamports uint64         `json:"initial_lamports"`
	AllocationBps   uint64         `json:"allocation_bps"`
	Schedule        epoch.Schedule `json:"schedule"`
}

func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	var req initializeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rec, err := s.ctrl.Initialize(r.Context(), req.Name, req.Admin, req.InitialLamports, req.AllocationBps, req.Schedule)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"vaults": s.ctrl.List()})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	rec, err := s.ctrl.Get(chi.URLParam(r, "name"))
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type moveRequest struct {
	User   string `json:"user"`
	Amount uint64 `json:"amount"`
	Shares uint64 `json:"shares"`
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	minted, err := s.ctrl.Deposit(r.Context(), chi.URLParam(r, "name"), req.User, req.Amount)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"shares": minted})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	payout, err := s.ctrl.Withdraw(r.Context(), chi.URLParam(r, "name"), req.User, req.Shares)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"payout": payout})
}

func (s *Server) handleStartAuction(w http.ResponseWriter, r *http.Request) {
	posted, err := s.ctrl.StartAuction(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"posted": posted})
}

func (s *Server) handleRollover(w http.ResponseWriter, r *http.Request) {
	rec, err := s.ctrl.Rollover(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type resumeRequest struct {
	Caller string `json:"caller"`
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	var req resumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.ctrl.Resume(r.Context(), chi.URLParam(r, "name"), req.Caller); err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resumed"})
}

type faucetRequest struct {
	User   string `json:"user"`
	Amount uint64 `json:"amount"`
}

func (s *Server) handleFaucet(w http.ResponseWriter, r *http.Request) {
	var req faucetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.User == "" || req.Amount == 0 {
		writeError(w, http.StatusBadRequest, errors.New("user and amount are required"))
		return
	}
	if err := s.faucet.Mint(r.Context(), s.faucetMint, req.User, req.Amount); err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "credited"})
}

func (s *Server) writeFailure(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", zap.Error(err))
	}
	writeError(w, status, err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, vault.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, vault.ErrAlreadyInitialized):
		return http.StatusConflict
	case errors.Is(err, vault.ErrPhaseViolation),
		errors.Is(err, vault.ErrCycleNotComplete):
		return http.StatusConflict
	case errors.Is(err, vault.ErrVaultHalted):
		return http.StatusLocked
	case errors.Is(err, vault.ErrNotAdmin):
		return http.StatusForbidden
	case errors.Is(err, vault.ErrInsufficientShares),
		errors.Is(err, lending.ErrInsufficientPoolLiquidity):
		return http.StatusUnprocessableEntity
	case errors.Is(err, shares.ErrZeroAmount),
		errors.Is(err, epoch.ErrScheduleInvalid):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
