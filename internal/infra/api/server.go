package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"cardano-subscription-wallet/internal/config"
	"cardano-subscription-wallet/internal/domain"
	"cardano-subscription-wallet/internal/session"
	"cardano-subscription-wallet/internal/usecase"
)

// Server is the local control plane over the wallet client: it exposes the
// negotiator and the reconciler as HTTP operations so a frontend (or an
// operator with curl) can drive connect, agreement and payment flows and
// observe their state.
type Server struct {
	cfg        *config.Config
	negotiator *usecase.ConnectionNegotiator
	reconciler *usecase.SettlementReconciler
	session    *session.Store
	events     *EventLog
	auth       *AuthManager
	log        *zerolog.Logger

	httpSrv *http.Server

	// Connect and Pay block until terminal; the control plane runs them in
	// the background and keeps the cancel funcs so DELETE can abort them.
	mu            sync.Mutex
	cancelConnect context.CancelFunc
	cancelPay     context.CancelFunc
}

func NewServer(
	cfg *config.Config,
	neg *usecase.ConnectionNegotiator,
	rec *usecase.SettlementReconciler,
	sess *session.Store,
	events *EventLog,
	logger *zerolog.Logger,
) *Server {
	return &Server{
		cfg:        cfg,
		negotiator: neg,
		reconciler: rec,
		session:    sess,
		events:     events,
		auth:       NewAuthManager(cfg.Control.TokenSecret, cfg.Control.TokenTTL),
		log:        logger,
	}
}

// Handler builds the full route tree; Start serves it.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/api/v1/session", s.handleSession)

	r.Group(func(r chi.Router) {
		r.Use(s.auth.Guard)
		r.Use(Timeout(30 * time.Second))
		r.Get("/api/v1/state", s.handleState)
		r.Get("/api/v1/providers", s.handleProviders)
		r.Post("/api/v1/connect", s.handleConnect)
		r.Delete("/api/v1/connect", s.handleConnectCancel)
		r.Post("/api/v1/agreement", s.handleAgreement)
		r.Post("/api/v1/pay", s.handlePay)
		r.Delete("/api/v1/pay", s.handlePayCancel)
		r.Post("/api/v1/logout", s.handleLogout)
		r.Get("/api/v1/events", s.handleEvents)
	})

	return Chain(r, Trace(s.log), Recover(s.log))
}

func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.cfg.Control.Port),
		Handler: s.Handler(),
	}
	s.log.Info().Int("port", s.cfg.Control.Port).Msg("control API listening")
	return s.httpSrv.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.cancelConnect != nil {
		s.cancelConnect()
	}
	if s.cancelPay != nil {
		s.cancelPay()
	}
	s.mu.Unlock()
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		APIKey string `json:"api_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid body")
		return
	}
	if s.cfg.Control.APIKey == "" ||
		subtle.ConstantTimeCompare([]byte(req.APIKey), []byte(s.cfg.Control.APIKey)) != 1 {
		writeErr(w, http.StatusForbidden, "invalid api key")
		return
	}
	token, err := s.auth.Mint()
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "could not mint token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	snap := s.session.Snapshot()
	resp := map[string]any{
		"connect_state":    s.negotiator.State(),
		"settlement_state": s.reconciler.State(),
		"connected":        snap.Identity != nil,
	}
	if snap.Identity != nil {
		resp["address"] = snap.Identity.Address
		resp["wallet_name"] = snap.Identity.WalletName
	}
	if snap.NetworkKnown {
		resp["network_id"] = snap.NetworkID
	}
	if p := s.session.Profile(); p != nil {
		resp["agreement_accepted"] = p.AgreementAccepted()
	}
	if le := s.negotiator.LastError(); le != nil {
		resp["last_error"] = le.UserMessage()
	}
	if a := s.reconciler.Attempt(); a != nil {
		resp["attempt"] = a
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	available := s.negotiator.Discover(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"providers": available})
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Provider string `json:"provider"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Provider == "" {
		writeErr(w, http.StatusBadRequest, "provider is required")
		return
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	s.mu.Lock()
	if s.cancelConnect != nil {
		s.mu.Unlock()
		cancel()
		writeErr(w, http.StatusConflict, domain.ErrConnectInFlight.Error())
		return
	}
	s.cancelConnect = cancel
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			s.cancelConnect = nil
			s.mu.Unlock()
			cancel()
		}()
		if err := s.negotiator.Connect(ctx, req.Provider); err != nil {
			if errors.Is(err, domain.ErrConnectInFlight) {
				s.log.Warn().Msg("connect rejected: already in flight")
			}
			return
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "connecting"})
}

func (s *Server) handleConnectCancel(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	cancel := s.cancelConnect
	s.mu.Unlock()
	if cancel == nil {
		writeErr(w, http.StatusNotFound, "no connect in flight")
		return
	}
	cancel()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *Server) handleAgreement(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Accept bool `json:"accept"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid body")
		return
	}

	var err error
	if req.Accept {
		err = s.negotiator.AcceptAgreement(r.Context())
	} else {
		err = s.negotiator.DeclineAgreement(r.Context())
	}
	if err != nil {
		writeErr(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePay(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TierID string `json:"tier_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TierID == "" {
		writeErr(w, http.StatusBadRequest, "tier_id is required")
		return
	}

	// Register-and-reject under one lock: two racing pay requests must not
	// overwrite the live payment's cancel func.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	s.mu.Lock()
	if s.cancelPay != nil {
		s.mu.Unlock()
		cancel()
		writeErr(w, http.StatusConflict, domain.ErrPaymentInFlight.Error())
		return
	}
	s.cancelPay = cancel
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			s.cancelPay = nil
			s.mu.Unlock()
			cancel()
		}()
		if _, err := s.reconciler.Pay(ctx, req.TierID); err != nil {
			if errors.Is(err, domain.ErrNotConnected) {
				s.log.Warn().Msg("pay rejected: not connected")
			}
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "paying"})
}

func (s *Server) handlePayCancel(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	cancel := s.cancelPay
	s.mu.Unlock()
	if cancel == nil {
		writeErr(w, http.StatusNotFound, "no payment in flight")
		return
	}
	cancel()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := s.negotiator.Logout(ctx); err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "disconnected"})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	var after uint64
	if raw := r.URL.Query().Get("after"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeErr(w, http.StatusBadRequest, "after must be a sequence number")
			return
		}
		after = v
	}
	evs := s.events.Since(after)
	if evs == nil {
		evs = []Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": evs})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
