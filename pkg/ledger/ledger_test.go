package ledger

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/CDourado10/Emprestimo-Facil/pkg/accrual"
	"github.com/CDourado10/Emprestimo-Facil/pkg/daterule"
	"github.com/CDourado10/Emprestimo-Facil/pkg/models"
	"github.com/CDourado10/Emprestimo-Facil/pkg/notify"
	"github.com/CDourado10/Emprestimo-Facil/pkg/store"
)

// MockStore is a simple in-memory implementation of the Storage interface
// for testing.
type MockStore struct {
	clients  map[uuid.UUID]*models.Client
	loans    map[uuid.UUID]*models.Loan
	payments []*models.Payment
}

func NewMockStore() *MockStore {
	return &MockStore{
		clients: make(map[uuid.UUID]*models.Client),
		loans:   make(map[uuid.UUID]*models.Loan),
	}
}

func (m *MockStore) CreateClient(c *models.Client) error {
	m.clients[c.ID] = c
	return nil
}

func (m *MockStore) GetClient(id uuid.UUID) (*models.Client, error) {
	c, ok := m.clients[id]
	if !ok {
		return nil, fmt.Errorf("client: %w", store.ErrNotFound)
	}
	return c, nil
}

func (m *MockStore) GetAllClients() ([]*models.Client, error) {
	clients := []*models.Client{}
	for _, c := range m.clients {
		clients = append(clients, c)
	}
	return clients, nil
}

func (m *MockStore) CreateLoan(loan *models.Loan) error {
	copied := *loan
	m.loans[loan.ID] = &copied
	return nil
}

func (m *MockStore) GetLoan(id uuid.UUID) (*models.Loan, error) {
	loan, ok := m.loans[id]
	if !ok {
		return nil, fmt.Errorf("loan: %w", store.ErrNotFound)
	}
	copied := *loan
	return &copied, nil
}

func (m *MockStore) UpdateLoan(loan *models.Loan) error {
	if _, ok := m.loans[loan.ID]; !ok {
		return fmt.Errorf("loan: %w", store.ErrNotFound)
	}
	copied := *loan
	m.loans[loan.ID] = &copied
	return nil
}

func (m *MockStore) DeleteLoan(id uuid.UUID) error {
	delete(m.loans, id)
	return nil
}

func (m *MockStore) GetAllLoans() ([]*models.Loan, error) {
	loans := []*models.Loan{}
	for _, l := range m.loans {
		copied := *l
		loans = append(loans, &copied)
	}
	return loans, nil
}

func (m *MockStore) GetLoansByStatus(statuses ...models.LoanStatus) ([]*models.Loan, error) {
	loans := []*models.Loan{}
	for _, l := range m.loans {
		for _, st := range statuses {
			if l.Status == st {
				copied := *l
				loans = append(loans, &copied)
				break
			}
		}
	}
	return loans, nil
}

func (m *MockStore) GetLoansByClient(clientID uuid.UUID) ([]*models.Loan, error) {
	loans := []*models.Loan{}
	for _, l := range m.loans {
		if l.ClientID == clientID {
			copied := *l
			loans = append(loans, &copied)
		}
	}
	return loans, nil
}

func (m *MockStore) CreatePayment(p *models.Payment) error {
	m.payments = append(m.payments, p)
	return nil
}

func (m *MockStore) GetPaymentsForLoan(loanID uuid.UUID) ([]*models.Payment, error) {
	payments := []*models.Payment{}
	for _, p := range m.payments {
		if p.LoanID == loanID {
			payments = append(payments, p)
		}
	}
	return payments, nil
}

func (m *MockStore) Close() error { return nil }

// MockNotifier records dispatched messages.
type MockNotifier struct {
	messages []notify.Message
}

func (m *MockNotifier) Dispatch(msg notify.Message) {
	m.messages = append(m.messages, msg)
}

var testNow = time.Date(2024, time.June, 1, 12, 0, 0, 0, time.UTC)

func newTestLedger() (*Ledger, *MockStore, *MockNotifier, *models.Client) {
	ms := NewMockStore()
	notifier := &MockNotifier{}
	client := &models.Client{ID: uuid.New(), Name: "Ana", Email: "ana@example.com"}
	ms.CreateClient(client)

	l := NewLedger(ms, nil).
		WithNotifier(notifier).
		WithClock(func() time.Time { return testNow })
	return l, ms, notifier, client
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestCreateLoan(t *testing.T) {
	l, ms, notifier, client := newTestLedger()

	loan, err := l.CreateLoan(CreateLoanRequest{
		ClientID:     client.ID,
		Principal:    dec("1000.00"),
		InterestRate: dec("10"),
		DueDate:      testNow.AddDate(0, 0, 30),
		InterestRules: []accrual.InterestRule{
			{Rate: dec("10"), Rule: daterule.Fixed(10), Mode: accrual.ModeSimple},
		},
		PaymentRules: []daterule.Rule{daterule.Fixed(10)},
	})
	if err != nil {
		t.Fatalf("Failed to create loan: %v", err)
	}

	if loan.Status != models.StatusPending {
		t.Errorf("Expected status pending, got %s", loan.Status)
	}
	wantDue := time.Date(2024, time.June, 10, 0, 0, 0, 0, time.UTC)
	if !loan.NextDue.Equal(wantDue) {
		t.Errorf("Expected next due %s, got %s", wantDue, loan.NextDue)
	}
	if len(ms.loans) != 1 {
		t.Errorf("Expected 1 stored loan, got %d", len(ms.loans))
	}
	if len(notifier.messages) != 1 {
		t.Fatalf("Expected 1 notification, got %d", len(notifier.messages))
	}
	if notifier.messages[0].Recipient != client.Email {
		t.Errorf("Expected notification to %s, got %s", client.Email, notifier.messages[0].Recipient)
	}

	// Interest accrues: the amount owed at the due date exceeds the principal.
	owed, err := l.TotalOwed(loan, loan.DueDate)
	if err != nil {
		t.Fatalf("TotalOwed: %v", err)
	}
	if !owed.GreaterThan(dec("1000.00")) {
		t.Errorf("Expected owed > 1000.00 at due date, got %s", owed)
	}
}

func TestCreateLoanValidation(t *testing.T) {
	l, _, _, client := newTestLedger()

	tests := []struct {
		name string
		req  CreateLoanRequest
	}{
		{"zero principal", CreateLoanRequest{ClientID: client.ID, Principal: decimal.Zero, DueDate: testNow.AddDate(0, 1, 0)}},
		{"negative principal", CreateLoanRequest{ClientID: client.ID, Principal: dec("-5"), DueDate: testNow.AddDate(0, 1, 0)}},
		{"past due date", CreateLoanRequest{ClientID: client.ID, Principal: dec("100"), DueDate: testNow.AddDate(0, 0, -1)}},
		{"due date is now", CreateLoanRequest{ClientID: client.ID, Principal: dec("100"), DueDate: testNow}},
		{"negative rate", CreateLoanRequest{ClientID: client.ID, Principal: dec("100"), InterestRate: dec("-1"), DueDate: testNow.AddDate(0, 1, 0)}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := l.CreateLoan(tc.req); !errors.Is(err, ErrValidation) {
				t.Errorf("Expected ErrValidation, got %v", err)
			}
		})
	}
}

// newActiveLoan creates a loan with no accrual rules so the amount owed
// equals the outstanding principal exactly.
func newActiveLoan(t *testing.T, l *Ledger, clientID uuid.UUID, principal string) *models.Loan {
	t.Helper()
	loan, err := l.CreateLoan(CreateLoanRequest{
		ClientID:  clientID,
		Principal: dec(principal),
		DueDate:   testNow.AddDate(0, 1, 0),
	})
	if err != nil {
		t.Fatalf("Failed to create loan: %v", err)
	}
	if _, err := l.Approve(loan.ID); err != nil {
		t.Fatalf("Failed to approve: %v", err)
	}
	active, err := l.Activate(loan.ID)
	if err != nil {
		t.Fatalf("Failed to activate: %v", err)
	}
	return active
}

func TestRecordPaymentPartial(t *testing.T) {
	l, ms, _, client := newTestLedger()
	loan := newActiveLoan(t, l, client.ID, "1000.00")

	payment, err := l.RecordPayment(loan.ID, dec("500.00"), models.MethodPix)
	if err != nil {
		t.Fatalf("Failed to record payment: %v", err)
	}
	if !payment.Amount.Equal(dec("500.00")) {
		t.Errorf("Expected payment amount 500.00, got %s", payment.Amount)
	}

	updated, _ := ms.GetLoan(loan.ID)
	if !updated.Principal.Equal(dec("500.00")) {
		t.Errorf("Expected principal reduced to 500.00, got %s", updated.Principal)
	}
	if !updated.AmountPaid.Equal(dec("500.00")) {
		t.Errorf("Expected amount paid 500.00, got %s", updated.AmountPaid)
	}
	if updated.Status == models.StatusSettled {
		t.Error("Partial payment must not settle the loan")
	}
	if len(ms.payments) != 1 {
		t.Errorf("Expected 1 payment record, got %d", len(ms.payments))
	}
}

func TestRecordPaymentOverpaymentRejected(t *testing.T) {
	l, ms, _, client := newTestLedger()
	loan := newActiveLoan(t, l, client.ID, "1000.00")

	_, err := l.RecordPayment(loan.ID, dec("1200.00"), models.MethodPix)
	if !errors.Is(err, ErrOverpayment) {
		t.Fatalf("Expected ErrOverpayment, got %v", err)
	}

	// Nothing changes on a rejected payment.
	untouched, _ := ms.GetLoan(loan.ID)
	if !untouched.Principal.Equal(dec("1000.00")) {
		t.Errorf("Principal mutated on rejected payment: %s", untouched.Principal)
	}
	if !untouched.AmountPaid.IsZero() {
		t.Errorf("AmountPaid mutated on rejected payment: %s", untouched.AmountPaid)
	}
	if len(ms.payments) != 0 {
		t.Errorf("Expected no payment records, got %d", len(ms.payments))
	}
}

func TestRecordPaymentSettlesOnExactPayoff(t *testing.T) {
	l, ms, notifier, client := newTestLedger()
	loan := newActiveLoan(t, l, client.ID, "1000.00")

	if _, err := l.RecordPayment(loan.ID, dec("1000.00"), models.MethodTransfer); err != nil {
		t.Fatalf("Failed to record payment: %v", err)
	}

	settled, _ := ms.GetLoan(loan.ID)
	if settled.Status != models.StatusSettled {
		t.Errorf("Expected status settled, got %s", settled.Status)
	}
	if !settled.Principal.IsZero() {
		t.Errorf("Expected zero principal, got %s", settled.Principal)
	}

	// A settled loan accepts no further payments.
	if _, err := l.RecordPayment(loan.ID, dec("1.00"), models.MethodCash); !errors.Is(err, ErrValidation) {
		t.Errorf("Expected ErrValidation for payment on settled loan, got %v", err)
	}

	found := false
	for _, msg := range notifier.messages {
		if msg.Subject == "Pagamento recebido" {
			found = true
		}
	}
	if !found {
		t.Error("Expected a payment notification")
	}
}

func TestRecordPaymentRejectsNonPositive(t *testing.T) {
	l, _, _, client := newTestLedger()
	loan := newActiveLoan(t, l, client.ID, "1000.00")

	if _, err := l.RecordPayment(loan.ID, decimal.Zero, models.MethodCash); !errors.Is(err, ErrValidation) {
		t.Errorf("Expected ErrValidation for zero payment, got %v", err)
	}
	if _, err := l.RecordPayment(loan.ID, dec("-10"), models.MethodCash); !errors.Is(err, ErrValidation) {
		t.Errorf("Expected ErrValidation for negative payment, got %v", err)
	}
}

func TestStatusTransitions(t *testing.T) {
	l, _, _, client := newTestLedger()

	loan, err := l.CreateLoan(CreateLoanRequest{
		ClientID:  client.ID,
		Principal: dec("100.00"),
		DueDate:   testNow.AddDate(0, 1, 0),
	})
	if err != nil {
		t.Fatalf("Failed to create loan: %v", err)
	}

	// Pending cannot jump straight to Active.
	if _, err := l.Activate(loan.ID); !errors.Is(err, ErrValidation) {
		t.Errorf("Expected ErrValidation for pending->active, got %v", err)
	}

	approved, err := l.Approve(loan.ID)
	if err != nil {
		t.Fatalf("Failed to approve: %v", err)
	}
	if approved.Status != models.StatusApproved || approved.ApprovedAt == nil {
		t.Errorf("Unexpected approved loan: %+v", approved)
	}

	active, err := l.Activate(loan.ID)
	if err != nil {
		t.Fatalf("Failed to activate: %v", err)
	}
	if active.Status != models.StatusActive {
		t.Errorf("Expected active, got %s", active.Status)
	}

	cancelled, err := l.Cancel(loan.ID)
	if err != nil {
		t.Fatalf("Failed to cancel: %v", err)
	}
	if cancelled.Status != models.StatusCancelled {
		t.Errorf("Expected cancelled, got %s", cancelled.Status)
	}

	// Terminal states admit no further transitions.
	if _, err := l.Approve(loan.ID); !errors.Is(err, ErrValidation) {
		t.Errorf("Expected ErrValidation for cancelled->approved, got %v", err)
	}
}

func TestSweepOverdue(t *testing.T) {
	l, ms, notifier, client := newTestLedger()

	pastDue := newActiveLoan(t, l, client.ID, "1000.00")
	stored, _ := ms.GetLoan(pastDue.ID)
	stored.NextDue = testNow.AddDate(0, 0, -5)
	ms.UpdateLoan(stored)

	current := newActiveLoan(t, l, client.ID, "2000.00")

	swept, err := l.SweepOverdue()
	if err != nil {
		t.Fatalf("SweepOverdue: %v", err)
	}
	if len(swept) != 1 {
		t.Fatalf("Expected 1 swept loan, got %d", len(swept))
	}
	if swept[0].ID != pastDue.ID {
		t.Errorf("Swept the wrong loan: %s", swept[0].ID)
	}

	overdue, _ := ms.GetLoan(pastDue.ID)
	if overdue.Status != models.StatusOverdue {
		t.Errorf("Expected overdue, got %s", overdue.Status)
	}
	untouched, _ := ms.GetLoan(current.ID)
	if untouched.Status != models.StatusActive {
		t.Errorf("Expected active, got %s", untouched.Status)
	}

	found := false
	for _, msg := range notifier.messages {
		if msg.Subject == "Empréstimo em atraso" {
			found = true
		}
	}
	if !found {
		t.Error("Expected an overdue notification")
	}
}

func TestTotalOwedIdempotent(t *testing.T) {
	l, _, _, client := newTestLedger()

	loan, err := l.CreateLoan(CreateLoanRequest{
		ClientID:     client.ID,
		Principal:    dec("1000.00"),
		InterestRate: dec("10"),
		DueDate:      testNow.AddDate(0, 0, 30),
		InterestRules: []accrual.InterestRule{
			{Rate: dec("10"), Rule: daterule.Recurring(30, daterule.UnitDays), Mode: accrual.ModeCompound},
		},
	})
	if err != nil {
		t.Fatalf("Failed to create loan: %v", err)
	}

	asOf := testNow.AddDate(0, 2, 0)
	first, err := l.TotalOwed(loan, asOf)
	if err != nil {
		t.Fatalf("TotalOwed: %v", err)
	}
	second, err := l.TotalOwed(loan, asOf)
	if err != nil {
		t.Fatalf("TotalOwed: %v", err)
	}
	if !first.Equal(second) {
		t.Errorf("TotalOwed not idempotent: %s vs %s", first, second)
	}
}

func TestGenerateReport(t *testing.T) {
	l, _, _, client := newTestLedger()

	newActiveLoan(t, l, client.ID, "1000.00")
	newActiveLoan(t, l, client.ID, "500.00")

	report, err := l.GenerateReport(testNow.AddDate(0, 0, -1), testNow.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("GenerateReport: %v", err)
	}
	if report.ActiveLoans != 2 {
		t.Errorf("Expected 2 active loans, got %d", report.ActiveLoans)
	}
	if !report.TotalPrincipal.Equal(dec("1500.00")) {
		t.Errorf("Expected total principal 1500.00, got %s", report.TotalPrincipal)
	}
	if len(report.Loans) != 2 {
		t.Errorf("Expected 2 report lines, got %d", len(report.Loans))
	}
}

func TestScheduleFromLoan(t *testing.T) {
	l, _, _, client := newTestLedger()

	loan, err := l.CreateLoan(CreateLoanRequest{
		ClientID:     client.ID,
		Principal:    dec("1200.00"),
		InterestRate: decimal.Zero,
		DueDate:      testNow.AddDate(1, 0, 0),
		PaymentRules: []daterule.Rule{daterule.Recurring(1, daterule.UnitMonths)},
	})
	if err != nil {
		t.Fatalf("Failed to create loan: %v", err)
	}

	rows, err := l.Schedule(loan.ID, 12, accrual.ModeSimple)
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if len(rows) != 12 {
		t.Fatalf("Expected 12 rows, got %d", len(rows))
	}
	if !rows[0].Principal.Equal(dec("100")) {
		t.Errorf("Expected constant principal 100, got %s", rows[0].Principal)
	}
}
