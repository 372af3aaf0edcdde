package stats

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CDourado10/Emprestimo-Facil/pkg/accrual"
	"github.com/CDourado10/Emprestimo-Facil/pkg/daterule"
	"github.com/CDourado10/Emprestimo-Facil/pkg/models"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func loan(clientID uuid.UUID, principal, paid string, status models.LoanStatus) *models.Loan {
	return &models.Loan{
		ID:           uuid.New(),
		ClientID:     clientID,
		Principal:    dec(principal),
		AmountPaid:   dec(paid),
		InterestRate: dec("10"),
		RequestDate:  date(2024, time.March, 1),
		Status:       status,
	}
}

func TestPortfolioSummaryEmpty(t *testing.T) {
	s := PortfolioSummary(nil)

	if s.TotalLoans != 0 {
		t.Errorf("Expected 0 loans, got %d", s.TotalLoans)
	}
	if s.DelinquencyRate != 0 {
		t.Errorf("Expected delinquency rate 0 for empty portfolio, got %f", s.DelinquencyRate)
	}
	if !s.TotalPrincipal.IsZero() || !s.TotalReceived.IsZero() {
		t.Error("Expected zero totals for empty portfolio")
	}
}

func TestPortfolioSummary(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	loans := []*models.Loan{
		loan(a, "1000", "200", models.StatusActive),
		loan(a, "500", "500", models.StatusSettled),
		loan(b, "2000", "0", models.StatusOverdue),
		loan(b, "300", "0", models.StatusPending),
	}

	s := PortfolioSummary(loans)
	assert.Equal(t, 4, s.TotalLoans)
	assert.True(t, s.TotalPrincipal.Equal(dec("3800")))
	assert.True(t, s.TotalReceived.Equal(dec("700")))
	assert.Equal(t, 1, s.ActiveLoans)
	assert.Equal(t, 1, s.OverdueLoans)
	assert.InDelta(t, 25.0, s.DelinquencyRate, 0.0001)
}

func TestClientSummary(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	loans := []*models.Loan{
		loan(a, "1000", "100", models.StatusActive),
		loan(b, "9000", "0", models.StatusOverdue),
	}

	s := ClientSummary(loans, a)
	assert.Equal(t, 1, s.TotalLoans)
	assert.True(t, s.TotalPrincipal.Equal(dec("1000")))
	assert.Equal(t, 0, s.OverdueLoans)
	assert.Equal(t, 0.0, s.DelinquencyRate)
}

func TestRanking(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	clients := []*models.Client{
		{ID: a, Name: "Ana"},
		{ID: b, Name: "Bruno"},
		{ID: c, Name: "Carla"},
	}
	loans := []*models.Loan{
		loan(a, "1000", "300", models.StatusActive),
		loan(a, "500", "200", models.StatusActive),
		loan(b, "2000", "900", models.StatusActive),
		loan(c, "100", "50", models.StatusActive),
	}

	top := Ranking(loans, clients, 2, false)
	require.Len(t, top, 2)
	assert.Equal(t, "Bruno", top[0].Name)
	assert.True(t, top[0].TotalPaid.Equal(dec("900")))
	assert.Equal(t, "Ana", top[1].Name)
	assert.True(t, top[1].TotalPaid.Equal(dec("500")))
	assert.Equal(t, 2, top[1].TotalLoans)

	bottom := Ranking(loans, clients, 1, true)
	require.Len(t, bottom, 1)
	assert.Equal(t, "Carla", bottom[0].Name)
}

func TestGoodPayers(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	loans := []*models.Loan{
		loan(a, "1000", "1200", models.StatusSettled), // ratio 120%
		loan(b, "1000", "400", models.StatusActive),   // under water
	}

	good := GoodPayers(loans, nil, 10)
	require.Len(t, good, 1)
	assert.Equal(t, a, good[0].ClientID)
	assert.InDelta(t, 120.0, good[0].PaymentRatio, 0.0001)
}

func TestBadPayers(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	loans := []*models.Loan{
		loan(a, "1000", "0", models.StatusOverdue),
		loan(a, "500", "0", models.StatusOverdue),
		loan(b, "2000", "100", models.StatusActive),
	}

	bad := BadPayers(loans, nil, 10)
	require.Len(t, bad, 2)
	assert.Equal(t, a, bad[0].ClientID)
	assert.Equal(t, 2, bad[0].OverdueLoans)
	assert.Equal(t, 0, bad[1].OverdueLoans)
}

func TestCashFlow(t *testing.T) {
	now := date(2024, time.June, 1)
	monthly := daterule.Recurring(30, daterule.UnitDays)

	inHorizon := loan(uuid.New(), "1000", "0", models.StatusActive)
	inHorizon.RequestDate = date(2024, time.May, 2) // 60 days before horizon
	inHorizon.NextDue = date(2024, time.June, 15)
	inHorizon.InterestRules = []accrual.InterestRule{{Rate: dec("10"), Rule: monthly, Mode: accrual.ModeSimple}}

	beyondHorizon := loan(uuid.New(), "500", "0", models.StatusOverdue)
	beyondHorizon.RequestDate = date(2024, time.May, 2)
	beyondHorizon.NextDue = date(2024, time.August, 1)
	beyondHorizon.InterestRules = []accrual.InterestRule{{Rate: dec("10"), Rule: monthly, Mode: accrual.ModeSimple}}

	settled := loan(uuid.New(), "100", "100", models.StatusSettled)

	proj, err := CashFlow([]*models.Loan{inHorizon, beyondHorizon, settled}, 30, now)
	require.NoError(t, err)

	// 1000 + 10%*2 periods = 1200; 500 + 10%*2 = 600. Settled excluded.
	assert.True(t, proj.TotalReceivable.Equal(dec("1800")), "total %s", proj.TotalReceivable)

	require.Len(t, proj.ByDueDate, 1)
	bucket, ok := proj.ByDueDate["2024-06-15"]
	require.True(t, ok, "expected bucket for 2024-06-15, got %v", proj.ByDueDate)
	assert.True(t, bucket.Equal(dec("1200")), "bucket %s", bucket)
}

func TestCashFlowEmptyPortfolio(t *testing.T) {
	proj, err := CashFlow(nil, 30, date(2024, time.June, 1))
	require.NoError(t, err)
	assert.True(t, proj.TotalReceivable.IsZero())
	assert.Empty(t, proj.ByDueDate)
}

func TestTrends(t *testing.T) {
	now := date(2024, time.June, 15)

	jan := loan(uuid.New(), "1000", "0", models.StatusActive)
	jan.RequestDate = date(2024, time.January, 10)
	jan.InterestRate = dec("8")

	mar1 := loan(uuid.New(), "2000", "0", models.StatusActive)
	mar1.RequestDate = date(2024, time.March, 5)
	mar1.InterestRate = dec("10")

	mar2 := loan(uuid.New(), "1000", "0", models.StatusActive)
	mar2.RequestDate = date(2024, time.March, 20)
	mar2.InterestRate = dec("12")

	old := loan(uuid.New(), "9999", "0", models.StatusSettled)
	old.RequestDate = date(2022, time.January, 1)

	trends := Trends([]*models.Loan{mar2, jan, mar1, old}, 12, now)
	require.Len(t, trends, 2)

	assert.Equal(t, "2024-01", trends[0].Month)
	assert.Equal(t, 1, trends[0].TotalLoans)
	assert.True(t, trends[0].AverageRate.Equal(dec("8")))

	assert.Equal(t, "2024-03", trends[1].Month)
	assert.Equal(t, 2, trends[1].TotalLoans)
	assert.True(t, trends[1].TotalPrincipal.Equal(dec("3000")))
	assert.True(t, trends[1].AverageRate.Equal(dec("11")))
}
