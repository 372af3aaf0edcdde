package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/CDourado10/Emprestimo-Facil/pkg/accrual"
	"github.com/CDourado10/Emprestimo-Facil/pkg/daterule"
)

type LoanStatus string

const (
	StatusPending   LoanStatus = "pending"
	StatusApproved  LoanStatus = "approved"
	StatusActive    LoanStatus = "active"
	StatusSettled   LoanStatus = "settled"
	StatusOverdue   LoanStatus = "overdue"
	StatusCancelled LoanStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s LoanStatus) Terminal() bool {
	return s == StatusSettled || s == StatusCancelled
}

var transitions = map[LoanStatus][]LoanStatus{
	StatusPending:  {StatusApproved, StatusSettled, StatusCancelled},
	StatusApproved: {StatusActive, StatusSettled, StatusCancelled},
	StatusActive:   {StatusSettled, StatusOverdue, StatusCancelled},
	StatusOverdue:  {StatusSettled, StatusCancelled},
}

// CanTransitionTo reports whether moving from s to next is a legal status
// transition. Overdue never re-enters Active.
func (s LoanStatus) CanTransitionTo(next LoanStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type Client struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Loan carries the outstanding principal together with the rules that
// drive its accrual and due-date recomputation. The loan exclusively owns
// its rules; they are persisted and deleted with it.
type Loan struct {
	ID           uuid.UUID       `json:"id"`
	ClientID     uuid.UUID       `json:"client_id"`
	Principal    decimal.Decimal `json:"principal"` // outstanding, reduced by payments
	AmountPaid   decimal.Decimal `json:"amount_paid"`
	InterestRate decimal.Decimal `json:"interest_rate"` // headline rate, for reporting
	RequestDate  time.Time       `json:"request_date"`
	ApprovedAt   *time.Time      `json:"approved_at,omitempty"`
	DueDate      time.Time       `json:"due_date"`
	NextDue      time.Time       `json:"next_due"`
	Status       LoanStatus      `json:"status"`
	Notes        string          `json:"notes,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`

	InterestRules []accrual.InterestRule `json:"interest_rules"`
	PenaltyRules  []accrual.PenaltyRule  `json:"penalty_rules"`
	PaymentRules  []daterule.Rule        `json:"payment_rules"` // govern next-due recomputation
}

type PaymentMethod string

const (
	MethodCash     PaymentMethod = "cash"
	MethodTransfer PaymentMethod = "transfer"
	MethodPix      PaymentMethod = "pix"
	MethodCard     PaymentMethod = "card"
)

// Payment is immutable once recorded. Payments outlive their loan's
// lifecycle for audit purposes.
type Payment struct {
	ID        uuid.UUID       `json:"id"`
	LoanID    uuid.UUID       `json:"loan_id"`
	Amount    decimal.Decimal `json:"amount"`
	Method    PaymentMethod   `json:"method"`
	Timestamp time.Time       `json:"timestamp"`
}
