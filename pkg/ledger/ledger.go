// Package ledger orchestrates the loan lifecycle: creation, approval,
// payments, overdue sweeps, and settlement. All monetary math is delegated
// to the accrual and amortization packages; persistence and notification
// delivery stay behind interfaces.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/CDourado10/Emprestimo-Facil/pkg/accrual"
	"github.com/CDourado10/Emprestimo-Facil/pkg/amortization"
	"github.com/CDourado10/Emprestimo-Facil/pkg/daterule"
	"github.com/CDourado10/Emprestimo-Facil/pkg/metrics"
	"github.com/CDourado10/Emprestimo-Facil/pkg/models"
	"github.com/CDourado10/Emprestimo-Facil/pkg/notify"
	"github.com/CDourado10/Emprestimo-Facil/pkg/store"
)

var (
	// ErrValidation covers malformed input: non-positive principal or
	// payment, non-future due date, illegal status transition.
	ErrValidation = errors.New("validation failed")
	// ErrOverpayment is returned when a payment exceeds the total owed.
	// The payment is rejected outright, never clamped.
	ErrOverpayment = errors.New("payment exceeds amount owed")
)

// Notifier receives outbound messages. Implementations must not block.
type Notifier interface {
	Dispatch(msg notify.Message)
}

// LoanCache is an optional read-through cache for loan lookups.
type LoanCache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, value string)
	Delete(ctx context.Context, keys ...string)
}

// Ledger handles the business logic for loans and payments.
type Ledger struct {
	storage   store.Storage
	notifier  Notifier
	collector *metrics.Collector
	cache     LoanCache
	now       func() time.Time
	logger    *slog.Logger
}

// NewLedger creates a Ledger over the given Storage implementation.
func NewLedger(s store.Storage, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		storage: s,
		now:     time.Now,
		logger:  logger,
	}
}

// WithNotifier attaches an outbound message sink.
func (l *Ledger) WithNotifier(n Notifier) *Ledger {
	l.notifier = n
	return l
}

// WithMetrics attaches the Prometheus collector.
func (l *Ledger) WithMetrics(c *metrics.Collector) *Ledger {
	l.collector = c
	return l
}

// WithCache attaches a loan lookup cache.
func (l *Ledger) WithCache(c LoanCache) *Ledger {
	l.cache = c
	return l
}

// WithClock overrides the time source. Intended for tests.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// CreateLoanRequest carries everything needed to open a loan.
type CreateLoanRequest struct {
	ClientID      uuid.UUID              `json:"client_id"`
	Principal     decimal.Decimal        `json:"principal"`
	InterestRate  decimal.Decimal        `json:"interest_rate"`
	DueDate       time.Time              `json:"due_date"`
	Notes         string                 `json:"notes,omitempty"`
	InterestRules []accrual.InterestRule `json:"interest_rules"`
	PenaltyRules  []accrual.PenaltyRule  `json:"penalty_rules"`
	PaymentRules  []daterule.Rule        `json:"payment_rules"`
}

func (r CreateLoanRequest) validate(now time.Time) error {
	if r.Principal.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: principal must be positive, got %s", ErrValidation, r.Principal)
	}
	if r.InterestRate.IsNegative() {
		return fmt.Errorf("%w: interest rate must not be negative, got %s", ErrValidation, r.InterestRate)
	}
	if !r.DueDate.After(now) {
		return fmt.Errorf("%w: due date %s must be in the future", ErrValidation, r.DueDate.Format("2006-01-02"))
	}
	for _, rule := range r.InterestRules {
		if rule.Rate.IsNegative() {
			return fmt.Errorf("%w: interest rule rate must not be negative, got %s", ErrValidation, rule.Rate)
		}
	}
	for _, rule := range r.PenaltyRules {
		if rule.Rate.IsNegative() {
			return fmt.Errorf("%w: penalty rule rate must not be negative, got %s", ErrValidation, rule.Rate)
		}
	}
	return nil
}

// CreateLoan opens a new loan in Pending status. The next due date is the
// earliest occurrence over the payment rules; with no rules it is the
// contractual due date.
func (l *Ledger) CreateLoan(req CreateLoanRequest) (*models.Loan, error) {
	now := l.now()
	if err := req.validate(now); err != nil {
		return nil, err
	}

	loan := &models.Loan{
		ID:            uuid.New(),
		ClientID:      req.ClientID,
		Principal:     req.Principal,
		AmountPaid:    decimal.Zero,
		InterestRate:  req.InterestRate,
		RequestDate:   now,
		DueDate:       req.DueDate,
		Status:        models.StatusPending,
		Notes:         req.Notes,
		CreatedAt:     now,
		UpdatedAt:     now,
		InterestRules: req.InterestRules,
		PenaltyRules:  req.PenaltyRules,
		PaymentRules:  req.PaymentRules,
	}

	nextDue, err := l.nextDue(loan, now)
	if err != nil {
		return nil, err
	}
	loan.NextDue = nextDue

	if err := l.storage.CreateLoan(loan); err != nil {
		return nil, fmt.Errorf("failed to store loan: %w", err)
	}

	if l.collector != nil {
		l.collector.LoanCreated()
	}
	l.notifyClient(loan, notify.EventCreated, decimal.Zero)
	l.logger.Info("Loan created",
		slog.String("loan_id", loan.ID.String()),
		slog.String("client_id", loan.ClientID.String()),
		slog.String("principal", loan.Principal.StringFixed(2)))
	return loan, nil
}

// nextDue resolves the earliest next occurrence over the loan's payment
// rules, falling back to the contractual due date.
func (l *Ledger) nextDue(loan *models.Loan, base time.Time) (time.Time, error) {
	if len(loan.PaymentRules) == 0 {
		return loan.DueDate, nil
	}
	var earliest time.Time
	for _, rule := range loan.PaymentRules {
		next, err := rule.NextOccurrence(base)
		if err != nil {
			return time.Time{}, err
		}
		if earliest.IsZero() || next.Before(earliest) {
			earliest = next
		}
	}
	return earliest, nil
}

const cacheKeyPrefix = "emprestimo:"

// GetLoan retrieves a loan, reading through the cache when configured.
func (l *Ledger) GetLoan(id uuid.UUID) (*models.Loan, error) {
	if l.cache != nil {
		if raw, ok := l.cache.Get(context.Background(), cacheKeyPrefix+id.String()); ok {
			var loan models.Loan
			if err := json.Unmarshal([]byte(raw), &loan); err == nil {
				return &loan, nil
			}
			// Corrupt entry: fall through to storage.
		}
	}

	loan, err := l.storage.GetLoan(id)
	if err != nil {
		return nil, err
	}
	l.cacheLoan(loan)
	return loan, nil
}

func (l *Ledger) cacheLoan(loan *models.Loan) {
	if l.cache == nil {
		return
	}
	if raw, err := json.Marshal(loan); err == nil {
		l.cache.Set(context.Background(), cacheKeyPrefix+loan.ID.String(), string(raw))
	}
}

func (l *Ledger) invalidate(id uuid.UUID) {
	if l.cache != nil {
		l.cache.Delete(context.Background(), cacheKeyPrefix+id.String())
	}
}

// GetAllLoans retrieves all loans.
func (l *Ledger) GetAllLoans() ([]*models.Loan, error) {
	return l.storage.GetAllLoans()
}

// GetLoansByClient retrieves a client's loans.
func (l *Ledger) GetLoansByClient(clientID uuid.UUID) ([]*models.Loan, error) {
	return l.storage.GetLoansByClient(clientID)
}

// GetPayments retrieves the payment history for a loan.
func (l *Ledger) GetPayments(loanID uuid.UUID) ([]*models.Payment, error) {
	return l.storage.GetPaymentsForLoan(loanID)
}

// transition moves a loan to the next status after checking legality.
func (l *Ledger) transition(loan *models.Loan, next models.LoanStatus) error {
	if !loan.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: cannot transition from %s to %s", ErrValidation, loan.Status, next)
	}
	loan.Status = next
	loan.UpdatedAt = l.now()
	return nil
}

// Approve moves a Pending loan to Approved.
func (l *Ledger) Approve(id uuid.UUID) (*models.Loan, error) {
	loan, err := l.storage.GetLoan(id)
	if err != nil {
		return nil, err
	}
	if err := l.transition(loan, models.StatusApproved); err != nil {
		return nil, err
	}
	now := l.now()
	loan.ApprovedAt = &now
	if err := l.storage.UpdateLoan(loan); err != nil {
		return nil, fmt.Errorf("failed to update loan: %w", err)
	}
	l.invalidate(id)
	return loan, nil
}

// Activate moves an Approved loan to Active, starting accrual tracking.
func (l *Ledger) Activate(id uuid.UUID) (*models.Loan, error) {
	loan, err := l.storage.GetLoan(id)
	if err != nil {
		return nil, err
	}
	if err := l.transition(loan, models.StatusActive); err != nil {
		return nil, err
	}
	if err := l.storage.UpdateLoan(loan); err != nil {
		return nil, fmt.Errorf("failed to update loan: %w", err)
	}
	l.invalidate(id)
	return loan, nil
}

// Cancel moves a loan to Cancelled and notifies the client. The loan row
// is kept; cancellation is a terminal status, not a deletion.
func (l *Ledger) Cancel(id uuid.UUID) (*models.Loan, error) {
	loan, err := l.storage.GetLoan(id)
	if err != nil {
		return nil, err
	}
	if err := l.transition(loan, models.StatusCancelled); err != nil {
		return nil, err
	}
	if err := l.storage.UpdateLoan(loan); err != nil {
		return nil, fmt.Errorf("failed to update loan: %w", err)
	}
	l.invalidate(id)
	l.notifyClient(loan, notify.EventCancelled, decimal.Zero)
	l.logger.Info("Loan cancelled", slog.String("loan_id", loan.ID.String()))
	return loan, nil
}

// UpdateLoan persists caller-edited fields (notes, headline rate, due
// date) and notifies the client.
func (l *Ledger) UpdateLoan(loan *models.Loan) error {
	if loan.Principal.LessThanOrEqual(decimal.Zero) && !loan.Status.Terminal() {
		return fmt.Errorf("%w: principal must be positive", ErrValidation)
	}
	loan.UpdatedAt = l.now()
	if err := l.storage.UpdateLoan(loan); err != nil {
		return err
	}
	l.invalidate(loan.ID)
	l.notifyClient(loan, notify.EventUpdated, decimal.Zero)
	return nil
}

// TotalOwed computes the full amount owed on a loan at asOf: outstanding
// principal plus all interest-rule contributions plus any penalties past
// due. Pure with respect to the loan.
func (l *Ledger) TotalOwed(loan *models.Loan, asOf time.Time) (decimal.Decimal, error) {
	return accrual.TotalOwed(loan.Principal, loan.RequestDate, asOf, loan.InterestRules, loan.PenaltyRules)
}

// RecordPayment applies a payment against a loan. The payment must not
// exceed the total owed; an exact payoff settles the loan. Nothing is
// mutated when the payment is rejected.
func (l *Ledger) RecordPayment(loanID uuid.UUID, amount decimal.Decimal, method models.PaymentMethod) (*models.Payment, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: payment amount must be positive, got %s", ErrValidation, amount)
	}

	loan, err := l.storage.GetLoan(loanID)
	if err != nil {
		return nil, err
	}
	if loan.Status.Terminal() {
		return nil, fmt.Errorf("%w: loan is %s", ErrValidation, loan.Status)
	}

	now := l.now()
	owed, err := l.TotalOwed(loan, now)
	if err != nil {
		return nil, err
	}
	if amount.GreaterThan(owed) {
		if l.collector != nil {
			l.collector.PaymentRejected()
		}
		return nil, fmt.Errorf("%w: payment %s, owed %s", ErrOverpayment, amount.StringFixed(2), owed.StringFixed(2))
	}

	payment := &models.Payment{
		ID:        uuid.New(),
		LoanID:    loan.ID,
		Amount:    amount,
		Method:    method,
		Timestamp: now,
	}

	if amount.Equal(owed) {
		loan.Principal = decimal.Zero
		loan.Status = models.StatusSettled
	} else {
		loan.Principal = loan.Principal.Sub(amount)
		nextDue, err := l.nextDue(loan, now)
		if err != nil {
			return nil, err
		}
		loan.NextDue = nextDue
	}
	loan.AmountPaid = loan.AmountPaid.Add(amount)
	loan.UpdatedAt = now

	if err := l.storage.UpdateLoan(loan); err != nil {
		return nil, fmt.Errorf("failed to update loan: %w", err)
	}
	if err := l.storage.CreatePayment(payment); err != nil {
		return nil, fmt.Errorf("failed to store payment: %w", err)
	}

	l.invalidate(loan.ID)
	if l.collector != nil {
		amt, _ := amount.Float64()
		l.collector.PaymentRecorded(amt)
	}
	l.notifyClient(loan, notify.EventPayment, decimal.Zero)
	l.logger.Info("Payment recorded",
		slog.String("loan_id", loan.ID.String()),
		slog.String("amount", amount.StringFixed(2)),
		slog.String("status", string(loan.Status)))
	return payment, nil
}

// SweepOverdue transitions every Active loan whose next due date has
// passed into Overdue and notifies the affected clients. Returns the
// loans that transitioned.
func (l *Ledger) SweepOverdue() ([]*models.Loan, error) {
	loans, err := l.storage.GetLoansByStatus(models.StatusActive)
	if err != nil {
		return nil, err
	}

	now := l.now()
	var swept []*models.Loan
	for _, loan := range loans {
		if !loan.NextDue.Before(now) {
			continue
		}
		if err := l.transition(loan, models.StatusOverdue); err != nil {
			continue
		}
		if err := l.storage.UpdateLoan(loan); err != nil {
			l.logger.Error("Failed to mark loan overdue",
				slog.String("loan_id", loan.ID.String()),
				slog.String("error", err.Error()))
			continue
		}
		l.invalidate(loan.ID)
		if l.collector != nil {
			l.collector.OverdueTransition()
		}

		owed, err := l.TotalOwed(loan, now)
		if err != nil {
			owed = loan.Principal
		}
		l.notifyClient(loan, notify.EventOverdue, owed)
		swept = append(swept, loan)
	}

	if len(swept) > 0 {
		l.logger.Warn("Loans marked overdue", slog.Int("count", len(swept)))
	}
	l.refreshGauges()
	return swept, nil
}

// refreshGauges recomputes the portfolio-level metrics.
func (l *Ledger) refreshGauges() {
	if l.collector == nil {
		return
	}
	loans, err := l.storage.GetAllLoans()
	if err != nil {
		return
	}
	outstanding := decimal.Zero
	byStatus := make(map[models.LoanStatus]int)
	for _, loan := range loans {
		byStatus[loan.Status]++
		if !loan.Status.Terminal() {
			outstanding = outstanding.Add(loan.Principal)
		}
	}
	total, _ := outstanding.Float64()
	l.collector.SetOutstanding(total)
	for status, count := range byStatus {
		l.collector.SetLoansByStatus(string(status), count)
	}
}

// Schedule generates the amortization table for a loan using its headline
// rate and first payment rule. Monthly periods are assumed when the loan
// carries no payment rules.
func (l *Ledger) Schedule(loanID uuid.UUID, installments int, mode accrual.Mode) ([]amortization.Row, error) {
	loan, err := l.GetLoan(loanID)
	if err != nil {
		return nil, err
	}
	rule := daterule.Recurring(1, daterule.UnitMonths)
	if len(loan.PaymentRules) > 0 {
		rule = loan.PaymentRules[0]
	}
	return amortization.Generate(loan.Principal, loan.InterestRate, installments, rule, mode, l.now())
}

// Report summarizes loans requested within [start, end].
type Report struct {
	Period          string          `json:"period"`
	TotalPrincipal  decimal.Decimal `json:"total_principal"`
	TotalReceivable decimal.Decimal `json:"total_receivable"`
	ActiveLoans     int             `json:"active_loans"`
	OverdueLoans    int             `json:"overdue_loans"`
	Loans           []ReportLine    `json:"loans"`
}

type ReportLine struct {
	ID        uuid.UUID         `json:"id"`
	ClientID  uuid.UUID         `json:"client_id"`
	Principal decimal.Decimal   `json:"principal"`
	Owed      decimal.Decimal   `json:"owed"`
	Status    models.LoanStatus `json:"status"`
	NextDue   time.Time         `json:"next_due"`
}

// GenerateReport builds the period report used by the back office.
func (l *Ledger) GenerateReport(start, end time.Time) (*Report, error) {
	loans, err := l.storage.GetAllLoans()
	if err != nil {
		return nil, err
	}

	now := l.now()
	report := &Report{
		Period:          fmt.Sprintf("%s a %s", start.Format("2006-01-02"), end.Format("2006-01-02")),
		TotalPrincipal:  decimal.Zero,
		TotalReceivable: decimal.Zero,
	}

	for _, loan := range loans {
		if loan.RequestDate.Before(start) || loan.RequestDate.After(end) {
			continue
		}
		report.TotalPrincipal = report.TotalPrincipal.Add(loan.Principal)

		owed := decimal.Zero
		if !loan.Status.Terminal() {
			owed, err = l.TotalOwed(loan, now)
			if err != nil {
				return nil, err
			}
			report.TotalReceivable = report.TotalReceivable.Add(owed)
		}

		switch loan.Status {
		case models.StatusActive:
			report.ActiveLoans++
		case models.StatusOverdue:
			report.OverdueLoans++
		}

		report.Loans = append(report.Loans, ReportLine{
			ID:        loan.ID,
			ClientID:  loan.ClientID,
			Principal: loan.Principal,
			Owed:      owed,
			Status:    loan.Status,
			NextDue:   loan.NextDue,
		})
	}
	return report, nil
}

// notifyClient builds and enqueues the event message. Best effort: a
// missing client or notifier only logs.
func (l *Ledger) notifyClient(loan *models.Loan, event notify.Event, owed decimal.Decimal) {
	if l.notifier == nil {
		return
	}
	client, err := l.storage.GetClient(loan.ClientID)
	if err != nil {
		l.logger.Warn("Client not found for notification",
			slog.String("loan_id", loan.ID.String()),
			slog.String("client_id", loan.ClientID.String()))
		return
	}
	l.notifier.Dispatch(notify.BuildMessage(loan, client, event, owed))
}
