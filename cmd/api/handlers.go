package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/CDourado10/Emprestimo-Facil/pkg/accrual"
	"github.com/CDourado10/Emprestimo-Facil/pkg/config"
	"github.com/CDourado10/Emprestimo-Facil/pkg/daterule"
	"github.com/CDourado10/Emprestimo-Facil/pkg/ledger"
	"github.com/CDourado10/Emprestimo-Facil/pkg/models"
	"github.com/CDourado10/Emprestimo-Facil/pkg/stats"
	"github.com/CDourado10/Emprestimo-Facil/pkg/store"
)

// Server holds the ledger instance and the storage behind it.
type Server struct {
	ledger  *ledger.Ledger
	storage store.Storage
	cfg     config.Settings
	logger  *slog.Logger
}

func NewServer(l *ledger.Ledger, s store.Storage, cfg config.Settings, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{ledger: l, storage: s, cfg: cfg, logger: logger}
}

// Routes registers every handler on the router.
func (s *Server) Routes(router *mux.Router) {
	router.HandleFunc("/loans", s.listLoansHandler).Methods("GET")
	router.HandleFunc("/loans", s.createLoanHandler).Methods("POST")
	router.HandleFunc("/loans/{id}", s.getLoanHandler).Methods("GET")
	router.HandleFunc("/loans/{id}", s.updateLoanHandler).Methods("PUT")
	router.HandleFunc("/loans/{id}", s.deleteLoanHandler).Methods("DELETE")
	router.HandleFunc("/loans/{id}/approve", s.approveLoanHandler).Methods("POST")
	router.HandleFunc("/loans/{id}/activate", s.activateLoanHandler).Methods("POST")
	router.HandleFunc("/loans/{id}/cancel", s.cancelLoanHandler).Methods("POST")
	router.HandleFunc("/loans/{id}/payments", s.recordPaymentHandler).Methods("POST")
	router.HandleFunc("/loans/{id}/payments", s.listPaymentsHandler).Methods("GET")
	router.HandleFunc("/loans/{id}/owed", s.owedHandler).Methods("GET")
	router.HandleFunc("/loans/{id}/schedule", s.scheduleHandler).Methods("GET")

	router.HandleFunc("/clients", s.createClientHandler).Methods("POST")
	router.HandleFunc("/clients", s.listClientsHandler).Methods("GET")
	router.HandleFunc("/clients/{id}", s.getClientHandler).Methods("GET")
	router.HandleFunc("/clients/{id}/loans", s.clientLoansHandler).Methods("GET")
	router.HandleFunc("/clients/{id}/summary", s.clientSummaryHandler).Methods("GET")

	router.HandleFunc("/stats/portfolio", s.portfolioHandler).Methods("GET")
	router.HandleFunc("/stats/ranking", s.rankingHandler).Methods("GET")
	router.HandleFunc("/stats/good-payers", s.goodPayersHandler).Methods("GET")
	router.HandleFunc("/stats/bad-payers", s.badPayersHandler).Methods("GET")
	router.HandleFunc("/stats/cashflow", s.cashFlowHandler).Methods("GET")
	router.HandleFunc("/stats/trends", s.trendsHandler).Methods("GET")

	router.HandleFunc("/reports", s.reportHandler).Methods("GET")
	router.HandleFunc("/health", s.healthHandler).Methods("GET")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors onto HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, "Not found", http.StatusNotFound)
	case errors.Is(err, ledger.ErrOverpayment):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, ledger.ErrValidation),
		errors.Is(err, daterule.ErrInvalidRule),
		errors.Is(err, accrual.ErrUnsupportedMode):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		s.logger.Error("Request failed", slog.String("error", err.Error()))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func pathID(r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	return id, err == nil
}

// asOfParam parses the as_of query parameter, defaulting to now.
func asOfParam(r *http.Request) (time.Time, error) {
	raw := r.URL.Query().Get("as_of")
	if raw == "" {
		return time.Now(), nil
	}
	return time.Parse("2006-01-02", raw)
}

func intParam(r *http.Request, key string, fallback int) int {
	if raw := r.URL.Query().Get(key); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			return n
		}
	}
	return fallback
}

// pagedResponse is the envelope for paginated listings.
type pagedResponse struct {
	Items   any `json:"items"`
	Total   int `json:"total"`
	Page    int `json:"page"`
	PerPage int `json:"per_page"`
}

// pageParams reads page/per_page, falling back to the configured page size
// and clamping per_page to the configured maximum.
func (s *Server) pageParams(r *http.Request) (page, perPage int) {
	page = intParam(r, "page", 1)
	if page < 1 {
		page = 1
	}
	perPage = intParam(r, "per_page", s.cfg.PageSize)
	if perPage < 1 {
		perPage = s.cfg.PageSize
	}
	if perPage > s.cfg.MaxPageSize {
		perPage = s.cfg.MaxPageSize
	}
	return page, perPage
}

func pageBounds(total, page, perPage int) (int, int) {
	lo := (page - 1) * perPage
	if lo > total {
		lo = total
	}
	hi := lo + perPage
	if hi > total {
		hi = total
	}
	return lo, hi
}

// filterLoans applies the optional value-range and request-date-range
// query filters to a loan listing.
func filterLoans(loans []*models.Loan, r *http.Request) ([]*models.Loan, error) {
	q := r.URL.Query()

	var valorMin, valorMax *decimal.Decimal
	if raw := q.Get("valor_min"); raw != "" {
		v, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid valor_min %q", raw)
		}
		valorMin = &v
	}
	if raw := q.Get("valor_max"); raw != "" {
		v, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid valor_max %q", raw)
		}
		valorMax = &v
	}

	var start, end *time.Time
	if raw := q.Get("data_inicio"); raw != "" {
		d, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return nil, fmt.Errorf("invalid data_inicio %q, expected YYYY-MM-DD", raw)
		}
		start = &d
	}
	if raw := q.Get("data_fim"); raw != "" {
		d, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return nil, fmt.Errorf("invalid data_fim %q, expected YYYY-MM-DD", raw)
		}
		// Inclusive end date.
		d = d.AddDate(0, 0, 1)
		end = &d
	}

	filtered := make([]*models.Loan, 0, len(loans))
	for _, l := range loans {
		if valorMin != nil && l.Principal.LessThan(*valorMin) {
			continue
		}
		if valorMax != nil && l.Principal.GreaterThan(*valorMax) {
			continue
		}
		if start != nil && l.RequestDate.Before(*start) {
			continue
		}
		if end != nil && !l.RequestDate.Before(*end) {
			continue
		}
		filtered = append(filtered, l)
	}
	return filtered, nil
}

func (s *Server) createLoanHandler(w http.ResponseWriter, r *http.Request) {
	var req ledger.CreateLoanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	loan, err := s.ledger.CreateLoan(req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, loan)
}

func (s *Server) getLoanHandler(w http.ResponseWriter, r *http.Request) {
	loanID, ok := pathID(r)
	if !ok {
		http.Error(w, "Invalid loan ID", http.StatusBadRequest)
		return
	}

	loan, err := s.ledger.GetLoan(loanID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

func (s *Server) listLoansHandler(w http.ResponseWriter, r *http.Request) {
	var (
		loans []*models.Loan
		err   error
	)
	if raw := r.URL.Query().Get("status"); raw != "" {
		loans, err = s.storage.GetLoansByStatus(models.LoanStatus(raw))
	} else {
		loans, err = s.ledger.GetAllLoans()
	}
	if err != nil {
		s.writeError(w, err)
		return
	}

	filtered, err := filterLoans(loans, r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	page, perPage := s.pageParams(r)
	lo, hi := pageBounds(len(filtered), page, perPage)
	writeJSON(w, http.StatusOK, pagedResponse{
		Items:   filtered[lo:hi],
		Total:   len(filtered),
		Page:    page,
		PerPage: perPage,
	})
}

func (s *Server) updateLoanHandler(w http.ResponseWriter, r *http.Request) {
	loanID, ok := pathID(r)
	if !ok {
		http.Error(w, "Invalid loan ID", http.StatusBadRequest)
		return
	}

	current, err := s.ledger.GetLoan(loanID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var req struct {
		Notes        *string          `json:"notes"`
		InterestRate *decimal.Decimal `json:"interest_rate"`
		DueDate      *time.Time       `json:"due_date"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Notes != nil {
		current.Notes = *req.Notes
	}
	if req.InterestRate != nil {
		current.InterestRate = *req.InterestRate
	}
	if req.DueDate != nil {
		current.DueDate = *req.DueDate
	}

	if err := s.ledger.UpdateLoan(current); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, current)
}

func (s *Server) deleteLoanHandler(w http.ResponseWriter, r *http.Request) {
	loanID, ok := pathID(r)
	if !ok {
		http.Error(w, "Invalid loan ID", http.StatusBadRequest)
		return
	}

	// Payment rows are kept for audit.
	if _, err := s.ledger.GetLoan(loanID); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.storage.DeleteLoan(loanID); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) approveLoanHandler(w http.ResponseWriter, r *http.Request) {
	s.transitionHandler(w, r, s.ledger.Approve)
}

func (s *Server) activateLoanHandler(w http.ResponseWriter, r *http.Request) {
	s.transitionHandler(w, r, s.ledger.Activate)
}

func (s *Server) cancelLoanHandler(w http.ResponseWriter, r *http.Request) {
	s.transitionHandler(w, r, s.ledger.Cancel)
}

func (s *Server) transitionHandler(w http.ResponseWriter, r *http.Request, fn func(uuid.UUID) (*models.Loan, error)) {
	loanID, ok := pathID(r)
	if !ok {
		http.Error(w, "Invalid loan ID", http.StatusBadRequest)
		return
	}

	loan, err := fn(loanID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

func (s *Server) recordPaymentHandler(w http.ResponseWriter, r *http.Request) {
	loanID, ok := pathID(r)
	if !ok {
		http.Error(w, "Invalid loan ID", http.StatusBadRequest)
		return
	}

	var req struct {
		Amount decimal.Decimal      `json:"amount"`
		Method models.PaymentMethod `json:"method"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Method == "" {
		req.Method = models.MethodCash
	}

	payment, err := s.ledger.RecordPayment(loanID, req.Amount, req.Method)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, payment)
}

func (s *Server) listPaymentsHandler(w http.ResponseWriter, r *http.Request) {
	loanID, ok := pathID(r)
	if !ok {
		http.Error(w, "Invalid loan ID", http.StatusBadRequest)
		return
	}

	payments, err := s.ledger.GetPayments(loanID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payments)
}

func (s *Server) owedHandler(w http.ResponseWriter, r *http.Request) {
	loanID, ok := pathID(r)
	if !ok {
		http.Error(w, "Invalid loan ID", http.StatusBadRequest)
		return
	}
	asOf, err := asOfParam(r)
	if err != nil {
		http.Error(w, "Invalid as_of date, expected YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	loan, err := s.ledger.GetLoan(loanID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	owed, err := s.ledger.TotalOwed(loan, asOf)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"loan_id": loan.ID.String(),
		"as_of":   asOf.Format("2006-01-02"),
		"owed":    owed.StringFixed(2),
	})
}

func (s *Server) scheduleHandler(w http.ResponseWriter, r *http.Request) {
	loanID, ok := pathID(r)
	if !ok {
		http.Error(w, "Invalid loan ID", http.StatusBadRequest)
		return
	}
	installments := intParam(r, "installments", 12)
	mode := accrual.Mode(r.URL.Query().Get("mode"))
	if mode == "" {
		mode = accrual.ModeCompound
	}

	rows, err := s.ledger.Schedule(loanID, installments, mode)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) createClientHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name  string `json:"name"`
		Email string `json:"email"`
		Phone string `json:"phone"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		http.Error(w, "Name is required", http.StatusBadRequest)
		return
	}

	client := &models.Client{
		ID:        uuid.New(),
		Name:      req.Name,
		Email:     req.Email,
		Phone:     req.Phone,
		CreatedAt: time.Now(),
	}
	if err := s.storage.CreateClient(client); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, client)
}

func (s *Server) listClientsHandler(w http.ResponseWriter, r *http.Request) {
	clients, err := s.storage.GetAllClients()
	if err != nil {
		s.writeError(w, err)
		return
	}
	if clients == nil {
		clients = []*models.Client{}
	}

	page, perPage := s.pageParams(r)
	lo, hi := pageBounds(len(clients), page, perPage)
	writeJSON(w, http.StatusOK, pagedResponse{
		Items:   clients[lo:hi],
		Total:   len(clients),
		Page:    page,
		PerPage: perPage,
	})
}

func (s *Server) getClientHandler(w http.ResponseWriter, r *http.Request) {
	clientID, ok := pathID(r)
	if !ok {
		http.Error(w, "Invalid client ID", http.StatusBadRequest)
		return
	}

	client, err := s.storage.GetClient(clientID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, client)
}

func (s *Server) clientLoansHandler(w http.ResponseWriter, r *http.Request) {
	clientID, ok := pathID(r)
	if !ok {
		http.Error(w, "Invalid client ID", http.StatusBadRequest)
		return
	}

	loans, err := s.ledger.GetLoansByClient(clientID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loans)
}

func (s *Server) clientSummaryHandler(w http.ResponseWriter, r *http.Request) {
	clientID, ok := pathID(r)
	if !ok {
		http.Error(w, "Invalid client ID", http.StatusBadRequest)
		return
	}
	if _, err := s.storage.GetClient(clientID); err != nil {
		s.writeError(w, err)
		return
	}

	loans, err := s.ledger.GetAllLoans()
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats.ClientSummary(loans, clientID))
}

func (s *Server) portfolioHandler(w http.ResponseWriter, r *http.Request) {
	loans, err := s.ledger.GetAllLoans()
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats.PortfolioSummary(loans))
}

func (s *Server) rankingHandler(w http.ResponseWriter, r *http.Request) {
	s.rankedHandler(w, r, func(loans []*models.Loan, clients []*models.Client, limit int) []*stats.ClientRanking {
		asc := r.URL.Query().Get("order") == "asc"
		return stats.Ranking(loans, clients, limit, asc)
	})
}

func (s *Server) goodPayersHandler(w http.ResponseWriter, r *http.Request) {
	s.rankedHandler(w, r, stats.GoodPayers)
}

func (s *Server) badPayersHandler(w http.ResponseWriter, r *http.Request) {
	s.rankedHandler(w, r, stats.BadPayers)
}

func (s *Server) rankedHandler(w http.ResponseWriter, r *http.Request, fn func([]*models.Loan, []*models.Client, int) []*stats.ClientRanking) {
	limit := intParam(r, "limit", s.cfg.PageSize)

	loans, err := s.ledger.GetAllLoans()
	if err != nil {
		s.writeError(w, err)
		return
	}
	clients, err := s.storage.GetAllClients()
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fn(loans, clients, limit))
}

func (s *Server) cashFlowHandler(w http.ResponseWriter, r *http.Request) {
	days := intParam(r, "days", 30)
	if days < 1 {
		http.Error(w, "days must be positive", http.StatusBadRequest)
		return
	}

	loans, err := s.storage.GetLoansByStatus(models.StatusActive, models.StatusOverdue)
	if err != nil {
		s.writeError(w, err)
		return
	}
	projection, err := stats.CashFlow(loans, days, time.Now())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, projection)
}

func (s *Server) trendsHandler(w http.ResponseWriter, r *http.Request) {
	months := intParam(r, "months", 6)
	if months < 1 {
		http.Error(w, "months must be positive", http.StatusBadRequest)
		return
	}

	loans, err := s.ledger.GetAllLoans()
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats.Trends(loans, months, time.Now()))
}

func (s *Server) reportHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, err := time.Parse("2006-01-02", q.Get("start"))
	if err != nil {
		http.Error(w, "Invalid start date, expected YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	end, err := time.Parse("2006-01-02", q.Get("end"))
	if err != nil {
		http.Error(w, "Invalid end date, expected YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	report, err := s.ledger.GenerateReport(start, end.AddDate(0, 0, 1))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
