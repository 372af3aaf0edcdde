package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/CDourado10/Emprestimo-Facil/pkg/accrual"
	"github.com/CDourado10/Emprestimo-Facil/pkg/daterule"
	"github.com/CDourado10/Emprestimo-Facil/pkg/models"
)

// SQLiteStore manages the database connection and operations for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLiteStore and initializes the database.
func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("could not initialize schema: %w", err)
	}
	return s, nil
}

// initSchema creates the tables if they don't already exist. Decimal
// fields are TEXT so no precision is lost; rule lists are JSON TEXT
// because they live and die with their loan.
func (s *SQLiteStore) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS clients (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL,
		phone TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS loans (
		id TEXT PRIMARY KEY,
		client_id TEXT NOT NULL,
		principal TEXT NOT NULL,
		amount_paid TEXT NOT NULL DEFAULT '0',
		interest_rate TEXT NOT NULL DEFAULT '0',
		request_date DATETIME NOT NULL,
		approved_at DATETIME,
		due_date DATETIME NOT NULL,
		next_due DATETIME NOT NULL,
		status TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		interest_rules TEXT NOT NULL DEFAULT '[]',
		penalty_rules TEXT NOT NULL DEFAULT '[]',
		payment_rules TEXT NOT NULL DEFAULT '[]',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		FOREIGN KEY(client_id) REFERENCES clients(id)
	);
	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		loan_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		method TEXT NOT NULL,
		timestamp DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_payments_loan ON payments(loan_id);
	CREATE INDEX IF NOT EXISTS idx_loans_client_status ON loans(client_id, status);
	CREATE INDEX IF NOT EXISTS idx_loans_next_due ON loans(next_due);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CreateClient inserts a new client.
func (s *SQLiteStore) CreateClient(client *models.Client) error {
	_, err := s.db.Exec(
		`INSERT INTO clients (id, name, email, phone, created_at) VALUES (?, ?, ?, ?, ?)`,
		client.ID.String(), client.Name, client.Email, client.Phone, client.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	return nil
}

// GetClient retrieves a client by ID.
func (s *SQLiteStore) GetClient(id uuid.UUID) (*models.Client, error) {
	var client models.Client
	var idStr string
	var created time.Time

	row := s.db.QueryRow(`SELECT id, name, email, phone, created_at FROM clients WHERE id = ?`, id.String())
	err := row.Scan(&idStr, &client.Name, &client.Email, &client.Phone, &created)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("client: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get client: %w", err)
	}
	client.ID = uuid.MustParse(idStr)
	client.CreatedAt = created
	return &client, nil
}

// GetAllClients retrieves all clients.
func (s *SQLiteStore) GetAllClients() ([]*models.Client, error) {
	rows, err := s.db.Query(`SELECT id, name, email, phone, created_at FROM clients ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to get clients: %w", err)
	}
	defer rows.Close()

	var clients []*models.Client
	for rows.Next() {
		var client models.Client
		var idStr string
		var created time.Time
		if err := rows.Scan(&idStr, &client.Name, &client.Email, &client.Phone, &created); err != nil {
			return nil, fmt.Errorf("failed to scan client row: %w", err)
		}
		client.ID = uuid.MustParse(idStr)
		client.CreatedAt = created
		clients = append(clients, &client)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return clients, nil
}

const loanColumns = `id, client_id, principal, amount_paid, interest_rate, request_date, approved_at, due_date, next_due, status, notes, interest_rules, penalty_rules, payment_rules, created_at, updated_at`

// CreateLoan inserts a new loan with its rules.
func (s *SQLiteStore) CreateLoan(loan *models.Loan) error {
	interestRules, penaltyRules, paymentRules, err := marshalRules(loan)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO loans (`+loanColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		loan.ID.String(), loan.ClientID.String(), loan.Principal, loan.AmountPaid, loan.InterestRate,
		loan.RequestDate, loan.ApprovedAt, loan.DueDate, loan.NextDue, string(loan.Status), loan.Notes,
		interestRules, penaltyRules, paymentRules, loan.CreatedAt, loan.UpdatedAt,
	)
	if err != nil {
		// The FK on client_id means the referenced client does not exist.
		if isForeignKeyViolation(err) {
			return fmt.Errorf("client %s: %w", loan.ClientID, ErrNotFound)
		}
		return fmt.Errorf("failed to create loan: %w", err)
	}
	return nil
}

func isForeignKeyViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey
}

// GetLoan retrieves a loan by its ID.
func (s *SQLiteStore) GetLoan(id uuid.UUID) (*models.Loan, error) {
	row := s.db.QueryRow(`SELECT `+loanColumns+` FROM loans WHERE id = ?`, id.String())
	loan, err := scanLoan(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("loan: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get loan: %w", err)
	}
	return loan, nil
}

// UpdateLoan updates an existing loan in the database.
func (s *SQLiteStore) UpdateLoan(loan *models.Loan) error {
	interestRules, penaltyRules, paymentRules, err := marshalRules(loan)
	if err != nil {
		return err
	}
	result, err := s.db.Exec(
		`UPDATE loans SET client_id = ?, principal = ?, amount_paid = ?, interest_rate = ?, request_date = ?, approved_at = ?, due_date = ?, next_due = ?, status = ?, notes = ?, interest_rules = ?, penalty_rules = ?, payment_rules = ?, updated_at = ? WHERE id = ?`,
		loan.ClientID.String(), loan.Principal, loan.AmountPaid, loan.InterestRate,
		loan.RequestDate, loan.ApprovedAt, loan.DueDate, loan.NextDue, string(loan.Status), loan.Notes,
		interestRules, penaltyRules, paymentRules, loan.UpdatedAt, loan.ID.String(),
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("client %s: %w", loan.ClientID, ErrNotFound)
		}
		return fmt.Errorf("failed to update loan: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("loan: %w", ErrNotFound)
	}
	return nil
}

// DeleteLoan removes a loan. Its rules go with it (same row); payments
// are deliberately retained for audit history.
func (s *SQLiteStore) DeleteLoan(id uuid.UUID) error {
	result, err := s.db.Exec(`DELETE FROM loans WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("failed to delete loan: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("loan: %w", ErrNotFound)
	}
	return nil
}

// GetAllLoans retrieves all loans.
func (s *SQLiteStore) GetAllLoans() ([]*models.Loan, error) {
	rows, err := s.db.Query(`SELECT ` + loanColumns + ` FROM loans`)
	if err != nil {
		return nil, fmt.Errorf("failed to get all loans: %w", err)
	}
	defer rows.Close()
	return scanLoans(rows)
}

// GetLoansByStatus retrieves loans in any of the given statuses.
func (s *SQLiteStore) GetLoansByStatus(statuses ...models.LoanStatus) ([]*models.Loan, error) {
	if len(statuses) == 0 {
		return s.GetAllLoans()
	}
	placeholders := make([]string, len(statuses))
	args := make([]any, len(statuses))
	for i, st := range statuses {
		placeholders[i] = "?"
		args[i] = string(st)
	}
	rows, err := s.db.Query(`SELECT `+loanColumns+` FROM loans WHERE status IN (`+strings.Join(placeholders, ", ")+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get loans by status: %w", err)
	}
	defer rows.Close()
	return scanLoans(rows)
}

// GetLoansByClient retrieves all loans belonging to a client.
func (s *SQLiteStore) GetLoansByClient(clientID uuid.UUID) ([]*models.Loan, error) {
	rows, err := s.db.Query(`SELECT `+loanColumns+` FROM loans WHERE client_id = ?`, clientID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get loans for client %s: %w", clientID, err)
	}
	defer rows.Close()
	return scanLoans(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLoan(row rowScanner) (*models.Loan, error) {
	var loan models.Loan
	var idStr, clientIDStr, status string
	var interestRules, penaltyRules, paymentRules string
	var approvedAt sql.NullTime
	var requestDate, dueDate, nextDue, created, updated time.Time

	err := row.Scan(&idStr, &clientIDStr, &loan.Principal, &loan.AmountPaid, &loan.InterestRate,
		&requestDate, &approvedAt, &dueDate, &nextDue, &status, &loan.Notes,
		&interestRules, &penaltyRules, &paymentRules, &created, &updated)
	if err != nil {
		return nil, err
	}

	loan.ID = uuid.MustParse(idStr)
	loan.ClientID = uuid.MustParse(clientIDStr)
	loan.Status = models.LoanStatus(status)
	loan.RequestDate = requestDate
	loan.DueDate = dueDate
	loan.NextDue = nextDue
	loan.CreatedAt = created
	loan.UpdatedAt = updated
	if approvedAt.Valid {
		loan.ApprovedAt = &approvedAt.Time
	}

	if err := json.Unmarshal([]byte(interestRules), &loan.InterestRules); err != nil {
		return nil, fmt.Errorf("failed to decode interest rules: %w", err)
	}
	if err := json.Unmarshal([]byte(penaltyRules), &loan.PenaltyRules); err != nil {
		return nil, fmt.Errorf("failed to decode penalty rules: %w", err)
	}
	if err := json.Unmarshal([]byte(paymentRules), &loan.PaymentRules); err != nil {
		return nil, fmt.Errorf("failed to decode payment rules: %w", err)
	}
	return &loan, nil
}

func scanLoans(rows *sql.Rows) ([]*models.Loan, error) {
	var loans []*models.Loan
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan loan row: %w", err)
		}
		loans = append(loans, loan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return loans, nil
}

func marshalRules(loan *models.Loan) (string, string, string, error) {
	interestRules := loan.InterestRules
	if interestRules == nil {
		interestRules = []accrual.InterestRule{}
	}
	penaltyRules := loan.PenaltyRules
	if penaltyRules == nil {
		penaltyRules = []accrual.PenaltyRule{}
	}
	paymentRules := loan.PaymentRules
	if paymentRules == nil {
		paymentRules = []daterule.Rule{}
	}

	ir, err := json.Marshal(interestRules)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to encode interest rules: %w", err)
	}
	pr, err := json.Marshal(penaltyRules)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to encode penalty rules: %w", err)
	}
	dr, err := json.Marshal(paymentRules)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to encode payment rules: %w", err)
	}
	return string(ir), string(pr), string(dr), nil
}

// CreatePayment inserts a new payment. Payments are never updated or
// deleted afterwards.
func (s *SQLiteStore) CreatePayment(payment *models.Payment) error {
	_, err := s.db.Exec(
		`INSERT INTO payments (id, loan_id, amount, method, timestamp) VALUES (?, ?, ?, ?, ?)`,
		payment.ID.String(), payment.LoanID.String(), payment.Amount, string(payment.Method), payment.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

// GetPaymentsForLoan retrieves all payments for a given loan ID.
func (s *SQLiteStore) GetPaymentsForLoan(loanID uuid.UUID) ([]*models.Payment, error) {
	rows, err := s.db.Query(`SELECT id, loan_id, amount, method, timestamp FROM payments WHERE loan_id = ? ORDER BY timestamp ASC`, loanID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get payments for loan %s: %w", loanID, err)
	}
	defer rows.Close()

	var payments []*models.Payment
	for rows.Next() {
		var payment models.Payment
		var idStr, loanIDStr, method string
		var timestamp time.Time
		if err := rows.Scan(&idStr, &loanIDStr, &payment.Amount, &method, &timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan payment row: %w", err)
		}
		payment.ID = uuid.MustParse(idStr)
		payment.LoanID = uuid.MustParse(loanIDStr)
		payment.Method = models.PaymentMethod(method)
		payment.Timestamp = timestamp
		payments = append(payments, &payment)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for loan payments: %w", err)
	}
	return payments, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
