package trade

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/papergains/trade-engine/internal/model"
	"github.com/papergains/trade-engine/internal/store"
)

// Service exposes the trade engine over HTTP: trade execution plus the
// account/league lifecycle operations that create the contexts trades
// run against.
type Service struct {
	store        store.Store
	executor     *Executor
	startingCash decimal.Decimal
}

// NewService creates the HTTP service. startingCash is the cash baseline
// for new personal accounts and the default for new leagues.
func NewService(st store.Store, executor *Executor, startingCash decimal.Decimal) *Service {
	return &Service{
		store:        st,
		executor:     executor,
		startingCash: startingCash,
	}
}

// --- Request/Response types ---

// TradeRequest is the JSON body for POST /api/v1/trade.
type TradeRequest struct {
	UserID  string           `json:"user_id"`
	Context model.ContextRef `json:"context"` // "personal" or {"league": id}
	Symbol  string           `json:"symbol"`
	Action  model.Action     `json:"action"` // "buy" or "sell"
	Shares  int64            `json:"shares"`
	Price   decimal.Decimal  `json:"price"`
}

// RegisterUserRequest is the JSON body for POST /api/v1/users.
type RegisterUserRequest struct {
	UserID       string          `json:"user_id"`
	StartingCash decimal.Decimal `json:"starting_cash"` // 0 → service default
}

// CreateLeagueRequest is the JSON body for POST /api/v1/leagues.
type CreateLeagueRequest struct {
	Name         string          `json:"name"`
	StartingCash decimal.Decimal `json:"starting_cash"` // 0 → service default
}

// JoinLeagueRequest is the JSON body for POST /api/v1/leagues/{leagueID}/join.
type JoinLeagueRequest struct {
	UserID string `json:"user_id"`
}

// PortfolioResponse is returned from GET /api/v1/portfolio/{userID}.
type PortfolioResponse struct {
	Account        *model.Account  `json:"account"`
	Holdings       []model.Holding `json:"holdings"`
	EstimatedValue decimal.Decimal `json:"estimated_value"` // cash + Σ shares*lastPrice
}

type errorResponse struct {
	Code       Code   `json:"code"`
	Message    string `json:"message"`
	RetryAfter int64  `json:"retry_after_ms,omitempty"`
}

// --- HTTP Handlers ---

// ExecuteTrade handles POST /api/v1/trade.
func (s *Service) ExecuteTrade(w http.ResponseWriter, r *http.Request) {
	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeTradeError(w, errInvalidInput("invalid request body: %v", err))
		return
	}

	receipt, err := s.executor.Execute(r.Context(), ExecuteRequest{
		UserID:  req.UserID,
		Context: req.Context,
		Symbol:  req.Symbol,
		Action:  req.Action,
		Shares:  req.Shares,
		Price:   req.Price,
	})
	if err != nil {
		var te *Error
		if errors.As(err, &te) {
			writeTradeError(w, te)
			return
		}
		writeTradeError(w, errStorage(err))
		return
	}

	writeJSON(w, http.StatusOK, receipt)
}

// RegisterUser handles POST /api/v1/users: creates the user's personal
// account.
func (s *Service) RegisterUser(w http.ResponseWriter, r *http.Request) {
	var req RegisterUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}

	cash := req.StartingCash
	if cash.LessThanOrEqual(decimal.Zero) {
		cash = s.startingCash
	}

	account := &model.Account{
		ID:           uuid.New().String(),
		UserID:       req.UserID,
		ContextID:    model.PersonalContextID,
		Cash:         cash,
		StartingCash: cash,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.CreateAccount(r.Context(), account); err != nil {
		if errors.Is(err, store.ErrConflict) {
			writeError(w, "user is already registered", http.StatusConflict)
			return
		}
		writeError(w, "failed to create account", http.StatusInternalServerError)
		return
	}

	slog.Info("user registered", "user", req.UserID, "starting_cash", cash.String())
	writeJSON(w, http.StatusCreated, account)
}

// CreateLeague handles POST /api/v1/leagues.
func (s *Service) CreateLeague(w http.ResponseWriter, r *http.Request) {
	var req CreateLeagueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeError(w, "name is required", http.StatusBadRequest)
		return
	}

	cash := req.StartingCash
	if cash.LessThanOrEqual(decimal.Zero) {
		cash = s.startingCash
	}

	league := &model.League{
		ID:           uuid.New().String(),
		Name:         req.Name,
		StartingCash: cash,
		Status:       model.LeagueActive,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.CreateLeague(r.Context(), league); err != nil {
		writeError(w, "failed to create league", http.StatusInternalServerError)
		return
	}

	slog.Info("league created", "id", league.ID, "name", league.Name)
	writeJSON(w, http.StatusCreated, league)
}

// JoinLeague handles POST /api/v1/leagues/{leagueID}/join: records the
// membership and opens the member's isolated league account.
func (s *Service) JoinLeague(w http.ResponseWriter, r *http.Request) {
	leagueID := chi.URLParam(r, "leagueID")

	var req JoinLeagueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	league, err := s.store.GetLeague(ctx, leagueID)
	if err != nil {
		writeError(w, "league not found", http.StatusNotFound)
		return
	}
	if league.Status != model.LeagueActive {
		writeError(w, "league has ended", http.StatusConflict)
		return
	}

	now := time.Now().UTC()
	membership := &model.Membership{
		UserID:       req.UserID,
		LeagueID:     leagueID,
		StartingCash: league.StartingCash,
		JoinedAt:     now,
	}
	contextID := model.LeagueRef(leagueID).ID()
	if err := s.store.CreateMembership(ctx, membership); err != nil {
		if !errors.Is(err, store.ErrConflict) {
			writeError(w, "failed to join league", http.StatusInternalServerError)
			return
		}
		// An existing membership without an account is a join that
		// failed partway; fall through and create the missing account.
		if _, aerr := s.store.GetAccount(ctx, req.UserID, contextID); aerr == nil {
			writeError(w, "user is already a member", http.StatusConflict)
			return
		} else if !errors.Is(aerr, store.ErrNotFound) {
			writeError(w, "failed to join league", http.StatusInternalServerError)
			return
		}
	}

	account := &model.Account{
		ID:           uuid.New().String(),
		UserID:       req.UserID,
		ContextID:    contextID,
		Cash:         league.StartingCash,
		StartingCash: league.StartingCash,
		CreatedAt:    now,
	}
	if err := s.store.CreateAccount(ctx, account); err != nil {
		writeError(w, "failed to create league account", http.StatusInternalServerError)
		return
	}

	slog.Info("league joined", "league", leagueID, "user", req.UserID)
	writeJSON(w, http.StatusCreated, account)
}

// EndLeague handles POST /api/v1/leagues/{leagueID}/end. Once ended, no
// trade may touch the league's accounts.
func (s *Service) EndLeague(w http.ResponseWriter, r *http.Request) {
	leagueID := chi.URLParam(r, "leagueID")

	if err := s.store.EndLeague(r.Context(), leagueID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, "league not found", http.StatusNotFound)
			return
		}
		writeError(w, "failed to end league", http.StatusInternalServerError)
		return
	}

	slog.Info("league ended", "league", leagueID)
	w.WriteHeader(http.StatusNoContent)
}

// GetPortfolio handles GET /api/v1/portfolio/{userID}?context=personal|league:<id>.
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	contextID := r.URL.Query().Get("context")
	if contextID == "" {
		contextID = model.PersonalContextID
	}
	if _, err := model.ParseContextID(contextID); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	account, err := s.store.GetAccount(ctx, userID, contextID)
	if err != nil {
		writeError(w, "account not found", http.StatusNotFound)
		return
	}

	holdings, err := s.store.ListHoldings(ctx, account.ID)
	if err != nil {
		writeError(w, "failed to load holdings", http.StatusInternalServerError)
		return
	}
	if holdings == nil {
		holdings = []model.Holding{}
	}

	value := account.Cash
	for _, h := range holdings {
		value = value.Add(h.MarketValue())
	}

	writeJSON(w, http.StatusOK, PortfolioResponse{
		Account:        account,
		Holdings:       holdings,
		EstimatedValue: value,
	})
}

// GetTransactions handles GET /api/v1/accounts/{accountID}/transactions.
func (s *Service) GetTransactions(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	if _, err := s.store.GetAccountByID(r.Context(), accountID); err != nil {
		writeError(w, "account not found", http.StatusNotFound)
		return
	}

	entries, err := s.store.ListTransactions(r.Context(), accountID, time.Time{})
	if err != nil {
		writeError(w, "failed to load transactions", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []model.Transaction{}
	}

	writeJSON(w, http.StatusOK, entries)
}

// --- Response helpers ---

func httpStatus(code Code) int {
	switch code {
	case CodeInvalidInput:
		return http.StatusBadRequest
	case CodeContextNotFound:
		return http.StatusNotFound
	case CodeContextInactive, CodeInsufficientFunds, CodeInsufficientShares:
		return http.StatusConflict
	case CodeThrottleDenied:
		return http.StatusTooManyRequests
	case CodeTimeout:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeTradeError(w http.ResponseWriter, te *Error) {
	resp := errorResponse{
		Code:       te.Code,
		Message:    te.Message,
		RetryAfter: te.RetryAfter.Milliseconds(),
	}
	w.Header().Set("Content-Type", "application/json")
	if te.RetryAfter > 0 {
		seconds := int64(te.RetryAfter.Seconds() + 0.999)
		w.Header().Set("Retry-After", strconv.FormatInt(seconds, 10))
	}
	w.WriteHeader(httpStatus(te.Code))
	json.NewEncoder(w).Encode(resp)
}

// writeError writes a plain JSON error response for non-trade failures.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("response encode failed", "err", err)
	}
}
