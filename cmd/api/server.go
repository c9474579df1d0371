package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"bountyflow/auth"
	"bountyflow/config"
	"bountyflow/escrow"
	"bountyflow/token"
)

type ctxKey string

const (
	ctxKeyUserID ctxKey = "userID"
	ctxKeyRole   ctxKey = "role"
)

type authService interface {
	Register(ctx context.Context, req auth.RegisterRequest) (*auth.Account, error)
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
	VerifyToken(tokenString string) (string, auth.Role, error)
}

type configService interface {
	Initialize(ctx context.Context, adminID, tokenSymbol string) (config.Record, error)
	Get(ctx context.Context) (config.Record, error)
	TransferAdmin(ctx context.Context, caller, newAdminID string) error
	SetToken(ctx context.Context, caller, tokenSymbol string) error
}

type escrowService interface {
	CreateEscrow(ctx context.Context, caller string, params escrow.CreateParams) (escrow.Task, error)
	AssignContributor(ctx context.Context, caller, taskID, contributor string) error
	MarkCompleted(ctx context.Context, caller, taskID string) error
	ApproveAndPay(ctx context.Context, caller, taskID string) error
	Refund(ctx context.Context, caller, taskID string) error
	InitiateDispute(ctx context.Context, caller, taskID, reason string) error
	ResolveDispute(ctx context.Context, caller, taskID string, outcome escrow.Outcome) error
	GetEscrow(ctx context.Context, taskID string) (escrow.Task, error)
	GetDispute(ctx context.Context, taskID string) (escrow.Dispute, error)
	TaskCount(ctx context.Context) (int64, error)
}

type balanceReader interface {
	Balance(ctx context.Context, q token.Querier, account string) (int64, error)
}

// Server owns the HTTP surface. Handlers translate between JSON and the
// domain services; authorization decisions live in the services, the server
// only authenticates the caller.
type Server struct {
	authService   authService
	configService configService
	escrowService escrowService
	balances      balanceReader
	pool          token.Querier
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/register", s.handleRegister)
	mux.HandleFunc("/api/login", s.handleLogin)
	mux.HandleFunc("/api/initialize", s.withAuth(s.handleInitialize))
	mux.HandleFunc("/api/config", s.withAuth(s.handleConfig))
	mux.HandleFunc("/api/escrows", s.withAuth(s.handleEscrows))
	mux.HandleFunc("/api/escrows/", s.withAuth(s.handleEscrowDetail))
	mux.HandleFunc("/api/balances/", s.withAuth(s.handleBalance))
	return mux
}

// withAuth authenticates the bearer token and stashes the caller identity in
// the request context.
func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		accountID, role, err := s.authService.VerifyToken(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyUserID, accountID)
		ctx = context.WithValue(ctx, ctxKeyRole, role)
		next(w, r.WithContext(ctx))
	}
}

func callerID(r *http.Request) string {
	id, _ := r.Context().Value(ctxKeyUserID).(string)
	return id
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req auth.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	account, err := s.authService.Register(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrDuplicateEmail):
			writeError(w, http.StatusConflict, "email already registered")
		case errors.Is(err, auth.ErrWeakPassword):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeError(w, http.StatusBadRequest, "registration failed")
		}
		return
	}
	writeJSON(w, http.StatusCreated, accountResponse{
		ID:       account.ID,
		Email:    account.Email,
		FullName: account.FullName,
		Role:     string(account.Role),
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req auth.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	result, err := s.authService.Login(r.Context(), req)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{
		Token: result.Token,
		Account: accountResponse{
			ID:       result.Account.ID,
			Email:    result.Account.Email,
			FullName: result.Account.FullName,
			Role:     string(result.Account.Role),
		},
	})
}

func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req struct {
		TokenSymbol string `json:"tokenSymbol"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	rec, err := s.configService.Initialize(r.Context(), callerID(r), req.TokenSymbol)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, configResponse{
		AdminID:       rec.AdminID,
		TokenSymbol:   rec.TokenSymbol,
		InitializedAt: rec.InitializedAt.Format(time.RFC3339),
	})
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		rec, err := s.configService.Get(r.Context())
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, configResponse{
			AdminID:       rec.AdminID,
			TokenSymbol:   rec.TokenSymbol,
			InitializedAt: rec.InitializedAt.Format(time.RFC3339),
		})
	case http.MethodPatch:
		var req struct {
			AdminID     string `json:"adminId"`
			TokenSymbol string `json:"tokenSymbol"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		caller := callerID(r)
		if req.AdminID != "" {
			if err := s.configService.TransferAdmin(r.Context(), caller, req.AdminID); err != nil {
				writeDomainError(w, err)
				return
			}
		}
		if req.TokenSymbol != "" {
			if err := s.configService.SetToken(r.Context(), caller, req.TokenSymbol); err != nil {
				writeDomainError(w, err)
				return
			}
		}
		rec, err := s.configService.Get(r.Context())
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, configResponse{
			AdminID:       rec.AdminID,
			TokenSymbol:   rec.TokenSymbol,
			InitializedAt: rec.InitializedAt.Format(time.RFC3339),
		})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleEscrows(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req struct {
			TaskID   string `json:"taskId"`
			IssueURL string `json:"issueUrl"`
			Amount   int64  `json:"amount"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		task, err := s.escrowService.CreateEscrow(r.Context(), callerID(r), escrow.CreateParams{
			TaskID:   req.TaskID,
			IssueURL: req.IssueURL,
			Amount:   req.Amount,
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toTaskResponse(task))
	case http.MethodGet:
		count, err := s.escrowService.TaskCount(r.Context())
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int64{"total": count})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleEscrowDetail serves /api/escrows/{taskId} and the transition
// sub-resources /api/escrows/{taskId}/{action}.
func (s *Server) handleEscrowDetail(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/escrows/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusBadRequest, "task id required")
		return
	}
	taskID := parts[0]

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		task, err := s.escrowService.GetEscrow(r.Context(), taskID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toTaskResponse(task))
		return
	}

	if len(parts) != 2 {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	action := parts[1]

	if action == "dispute" && r.Method == http.MethodGet {
		d, err := s.escrowService.GetDispute(r.Context(), taskID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toDisputeResponse(d))
		return
	}

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	caller := callerID(r)
	var err error
	switch action {
	case "assign":
		var req struct {
			Contributor string `json:"contributor"`
		}
		if decodeErr := json.NewDecoder(r.Body).Decode(&req); decodeErr != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		err = s.escrowService.AssignContributor(r.Context(), caller, taskID, req.Contributor)
	case "complete":
		err = s.escrowService.MarkCompleted(r.Context(), caller, taskID)
	case "approve":
		err = s.escrowService.ApproveAndPay(r.Context(), caller, taskID)
	case "refund":
		err = s.escrowService.Refund(r.Context(), caller, taskID)
	case "dispute":
		var req struct {
			Reason string `json:"reason"`
		}
		if decodeErr := json.NewDecoder(r.Body).Decode(&req); decodeErr != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		err = s.escrowService.InitiateDispute(r.Context(), caller, taskID, req.Reason)
	case "resolve":
		var req struct {
			Outcome       string `json:"outcome"`
			ToContributor int64  `json:"toContributor"`
			ToCreator     int64  `json:"toCreator"`
		}
		if decodeErr := json.NewDecoder(r.Body).Decode(&req); decodeErr != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		err = s.escrowService.ResolveDispute(r.Context(), caller, taskID, escrow.Outcome{
			Kind:          escrow.OutcomeKind(req.Outcome),
			ToContributor: req.ToContributor,
			ToCreator:     req.ToCreator,
		})
	default:
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}

	task, err := s.escrowService.GetEscrow(r.Context(), taskID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTaskResponse(task))
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	account := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/balances/"), "/")
	if account == "" {
		writeError(w, http.StatusBadRequest, "account id required")
		return
	}
	balance, err := s.balances.Balance(r.Context(), s.pool, account)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "balance lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{AccountID: account, Balance: balance})
}

type accountResponse struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"fullName"`
	Role     string `json:"role"`
}

type loginResponse struct {
	Token   string          `json:"token"`
	Account accountResponse `json:"account"`
}

type configResponse struct {
	AdminID       string `json:"adminId"`
	TokenSymbol   string `json:"tokenSymbol"`
	InitializedAt string `json:"initializedAt"`
}

type taskResponse struct {
	TaskID      string  `json:"taskId"`
	IssueURL    string  `json:"issueUrl"`
	Creator     string  `json:"creator"`
	Contributor *string `json:"contributor,omitempty"`
	Amount      int64   `json:"amount"`
	Status      string  `json:"status"`
	CreatedAt   string  `json:"createdAt"`
	UpdatedAt   string  `json:"updatedAt"`
	CompletedAt *string `json:"completedAt,omitempty"`
	DisputedAt  *string `json:"disputedAt,omitempty"`
}

type outcomeResponse struct {
	Kind          string `json:"kind"`
	ToContributor int64  `json:"toContributor,omitempty"`
	ToCreator     int64  `json:"toCreator,omitempty"`
}

type disputeResponse struct {
	TaskID      string           `json:"taskId"`
	Initiator   string           `json:"initiator"`
	Reason      string           `json:"reason"`
	Outcome     *outcomeResponse `json:"outcome,omitempty"`
	InitiatedAt string           `json:"initiatedAt"`
	ResolvedAt  *string          `json:"resolvedAt,omitempty"`
	ResolvedBy  *string          `json:"resolvedBy,omitempty"`
}

type balanceResponse struct {
	AccountID string `json:"accountId"`
	Balance   int64  `json:"balance"`
}

func toTaskResponse(t escrow.Task) taskResponse {
	resp := taskResponse{
		TaskID:      t.TaskID,
		IssueURL:    t.IssueURL,
		Creator:     t.Creator,
		Contributor: t.Contributor,
		Amount:      t.Amount,
		Status:      string(t.Status),
		CreatedAt:   t.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   t.UpdatedAt.Format(time.RFC3339),
	}
	if t.CompletedAt != nil {
		s := t.CompletedAt.Format(time.RFC3339)
		resp.CompletedAt = &s
	}
	if t.DisputedAt != nil {
		s := t.DisputedAt.Format(time.RFC3339)
		resp.DisputedAt = &s
	}
	return resp
}

func toDisputeResponse(d escrow.Dispute) disputeResponse {
	resp := disputeResponse{
		TaskID:      d.TaskID,
		Initiator:   d.Initiator,
		Reason:      d.Reason,
		InitiatedAt: d.InitiatedAt.Format(time.RFC3339),
		ResolvedBy:  d.ResolvedBy,
	}
	if d.Outcome != nil {
		resp.Outcome = &outcomeResponse{
			Kind:          string(d.Outcome.Kind),
			ToContributor: d.Outcome.ToContributor,
			ToCreator:     d.Outcome.ToCreator,
		}
	}
	if d.ResolvedAt != nil {
		s := d.ResolvedAt.Format(time.RFC3339)
		resp.ResolvedAt = &s
	}
	return resp
}

// writeDomainError maps service sentinel errors onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, escrow.ErrTaskNotFound), errors.Is(err, escrow.ErrDisputeNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, escrow.ErrTaskAlreadyExists),
		errors.Is(err, escrow.ErrInvalidStateTransition),
		errors.Is(err, config.ErrAlreadyInitialized),
		errors.Is(err, config.ErrNotInitialized):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, escrow.ErrUnauthorized), errors.Is(err, config.ErrUnauthorized):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, escrow.ErrInvalidAmount),
		errors.Is(err, escrow.ErrInvalidTaskID),
		errors.Is(err, escrow.ErrInvalidIssueURL),
		errors.Is(err, escrow.ErrInvalidReason),
		errors.Is(err, escrow.ErrTransferFailed),
		errors.Is(err, token.ErrInsufficientFunds):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		log.Printf("internal error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
