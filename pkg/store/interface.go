package store

import (
	"errors"

	"github.com/google/uuid"

	"github.com/CDourado10/Emprestimo-Facil/pkg/models"
)

// ErrNotFound is returned when the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Storage defines the persistence operations for clients, loans, and
// payments. Payments are append-only; loans own their rules, which travel
// with the loan row.
type Storage interface {
	CreateClient(client *models.Client) error
	GetClient(id uuid.UUID) (*models.Client, error)
	GetAllClients() ([]*models.Client, error)

	CreateLoan(loan *models.Loan) error
	GetLoan(id uuid.UUID) (*models.Loan, error)
	UpdateLoan(loan *models.Loan) error
	DeleteLoan(id uuid.UUID) error
	GetAllLoans() ([]*models.Loan, error)
	GetLoansByStatus(statuses ...models.LoanStatus) ([]*models.Loan, error)
	GetLoansByClient(clientID uuid.UUID) ([]*models.Loan, error)

	CreatePayment(payment *models.Payment) error
	GetPaymentsForLoan(loanID uuid.UUID) ([]*models.Payment, error)

	Close() error
}
