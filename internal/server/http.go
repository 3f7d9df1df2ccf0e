package server

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"PotLedger/internal/asset"
	"PotLedger/internal/ledger"
	"PotLedger/internal/observability"
	"PotLedger/internal/oracle"
	"PotLedger/internal/query"
	"PotLedger/internal/round"
	"PotLedger/internal/settle"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Server is the HTTP/JSON API surface. The live round is served straight
// from the in-memory ledger; history and the leaderboard come from the
// query service; deposit submissions and confirmations go through the
// round controller.
type Server struct {
	ctrl    *round.Controller
	ledger  *ledger.Ledger
	queries *query.Service
	hub     *Hub
	health  *observability.HealthChecker
	metrics *observability.Metrics
	log     zerolog.Logger
	softCap int64

	srv *http.Server
}

func NewServer(
	addr string,
	ctrl *round.Controller,
	lg *ledger.Ledger,
	queries *query.Service,
	hub *Hub,
	health *observability.HealthChecker,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *Server {
	s := &Server{
		ctrl:    ctrl,
		ledger:  lg,
		queries: queries,
		hub:     hub,
		health:  health,
		metrics: metrics,
		log:     log,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/round", s.instrument("current_round", s.handleCurrentRound))
	mux.HandleFunc("GET /v1/rounds", s.instrument("list_rounds", s.handleListRounds))
	mux.HandleFunc("GET /v1/rounds/{id}", s.instrument("get_round", s.handleGetRound))
	mux.HandleFunc("GET /v1/rounds/{id}/deposits", s.instrument("round_deposits", s.handleRoundDeposits))
	mux.HandleFunc("GET /v1/rounds/{id}/settlement", s.instrument("round_settlement", s.handleRoundSettlement))
	mux.HandleFunc("GET /v1/leaderboard", s.instrument("leaderboard", s.handleLeaderboard))
	mux.HandleFunc("POST /v1/deposits", s.instrument("submit_deposit", s.handleSubmitDeposit))
	mux.HandleFunc("POST /v1/confirmations", s.instrument("confirm_deposit", s.handleConfirmDeposit))
	mux.HandleFunc("GET /v1/ws", s.handleWS)
	mux.HandleFunc("GET /healthz", health.LivenessHandler)
	mux.HandleFunc("GET /readyz", health.ReadinessHandler)

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// WithSoftCap sets the pot soft cap reported on round views. The cap is a
// display value only; deposits above it are still accepted.
func (s *Server) WithSoftCap(cap int64) *Server {
	s.softCap = cap
	return s
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.srv.Addr).Msg("http server listening")
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
}

// --- handlers ---

func (s *Server) handleCurrentRound(w http.ResponseWriter, r *http.Request) {
	current := s.ledger.Current()
	if current == nil {
		writeError(w, http.StatusNotFound, "no round open yet")
		return
	}
	resp := liveRoundView(current)
	resp.PotSoftCap = s.softCap
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetRound(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid round id")
		return
	}

	// Serve the live round from memory so readers never see a stale phase.
	if current := s.ledger.Current(); current != nil && current.ID == id {
		resp := liveRoundView(current)
		resp.PotSoftCap = s.softCap
		writeJSON(w, http.StatusOK, resp)
		return
	}

	resp, err := s.queries.GetRound(r.Context(), id)
	if err != nil {
		s.writeQueryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListRounds(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	before, _ := strconv.ParseInt(r.URL.Query().Get("before"), 10, 64)

	rounds, err := s.queries.ListRounds(r.Context(), limit, before)
	if err != nil {
		s.writeQueryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"rounds": rounds})
}

func (s *Server) handleRoundDeposits(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid round id")
		return
	}

	deposits, err := s.queries.GetRoundDeposits(r.Context(), id)
	if err != nil {
		s.writeQueryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"deposits": deposits})
}

func (s *Server) handleRoundSettlement(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid round id")
		return
	}

	resp, err := s.queries.GetSettlement(r.Context(), id)
	if err != nil {
		s.writeQueryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	entries, err := s.queries.GetLeaderboard(r.Context(), limit)
	if err != nil {
		s.writeQueryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"leaderboard": entries})
}

type submitDepositRequest struct {
	Participant string                `json:"participant"`
	Stakes      []settle.StakeRequest `json:"stakes"`
}

type submitDepositResponse struct {
	SubmissionID string               `json:"submission_id"`
	RoundID      int64                `json:"round_id"`
	ExpiresAt    time.Time            `json:"expires_at"`
	Plan         *settle.TransferPlan `json:"plan"`
}

func (s *Server) handleSubmitDeposit(w http.ResponseWriter, r *http.Request) {
	var req submitDepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Participant == "" || len(req.Stakes) == 0 {
		writeError(w, http.StatusBadRequest, "participant and stakes are required")
		return
	}

	sub, err := s.ctrl.SubmitDeposit(r.Context(), req.Participant, req.Stakes)
	if err != nil {
		s.writeDepositError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, submitDepositResponse{
		SubmissionID: sub.ID.String(),
		RoundID:      sub.RoundID,
		ExpiresAt:    sub.ExpiresAt,
		Plan:         sub.Plan,
	})
}

type confirmDepositRequest struct {
	SubmissionID string `json:"submission_id"`
	TxRef        string `json:"tx_ref"`
}

func (s *Server) handleConfirmDeposit(w http.ResponseWriter, r *http.Request) {
	var req confirmDepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	submissionID, err := uuid.Parse(req.SubmissionID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid submission_id")
		return
	}

	deposits, err := s.ctrl.ConfirmDeposit(submissionID, settle.TxRef(req.TxRef))
	if err != nil {
		s.writeDepositError(w, err)
		return
	}

	out := make([]query.DepositResponse, 0, len(deposits))
	for _, d := range deposits {
		out = append(out, query.DepositResponse{
			DepositID:   d.ID.String(),
			RoundID:     d.RoundID,
			Sequence:    d.Sequence,
			Participant: d.Participant,
			Symbol:      d.Symbol,
			RawAmount:   d.RawAmount,
			Value:       d.Value,
			AcceptedAt:  d.AcceptedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"deposits": out})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	s.hub.ServeWS(w, r)
}

// --- helpers ---

func (s *Server) instrument(endpoint string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		h(sw, r)
		if s.metrics != nil {
			s.metrics.QueryRequests.WithLabelValues(endpoint, strconv.Itoa(sw.status)).Inc()
			s.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		}
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

func (s *Server) writeQueryError(w http.ResponseWriter, err error) {
	if errors.Is(err, query.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.log.Error().Err(err).Msg("query failed")
	writeError(w, http.StatusInternalServerError, "internal error")
}

func (s *Server) writeDepositError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, round.ErrRoundClosed):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, settle.ErrDuplicateConfirmation):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, settle.ErrTransferUnconfirmed):
		writeError(w, http.StatusGone, err.Error())
	case errors.Is(err, settle.ErrInsufficientFunds):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, asset.ErrUnknownAsset), errors.Is(err, asset.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, oracle.ErrOracleUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.log.Error().Err(err).Msg("deposit request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// liveRoundView renders the in-memory round in the same shape the query
// service uses for historical rounds, plus the public deposit list and
// the remaining deposit window.
func liveRoundView(r *ledger.Round) *query.RoundResponse {
	resp := &query.RoundResponse{
		RoundID:      r.ID,
		Phase:        r.Phase.String(),
		OpenedAt:     r.OpenedAt,
		ClosesAt:     r.ClosesAt,
		PotTotal:     r.PotTotal,
		Deposits:     len(r.Deposits),
		Winner:       r.Winner,
		PayoutAmount: r.PayoutAmount,
		Commitment:   hex.EncodeToString(r.Commitment),
		FailReason:   r.FailReason,
	}
	for _, d := range r.Deposits {
		resp.DepositList = append(resp.DepositList, query.DepositResponse{
			DepositID:   d.ID.String(),
			RoundID:     d.RoundID,
			Sequence:    d.Sequence,
			Participant: d.Participant,
			Symbol:      d.Symbol,
			RawAmount:   d.RawAmount,
			Value:       d.Value,
			AcceptedAt:  d.AcceptedAt,
		})
	}
	if r.Phase == ledger.PhaseActive {
		if rem := time.Until(r.ClosesAt); rem > 0 {
			resp.TimeRemainingMS = rem.Milliseconds()
		}
	}
	if !r.ClosedAt.IsZero() {
		t := r.ClosedAt
		resp.ClosedAt = &t
	}
	if !r.SettledAt.IsZero() {
		t := r.SettledAt
		resp.SettledAt = &t
	}
	if r.Phase.Terminal() {
		resp.Seed = hex.EncodeToString(r.Seed)
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
