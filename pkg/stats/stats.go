// Package stats derives portfolio-level aggregates from a loan collection.
// Everything here is pure read-side computation: no store access, no
// mutation of the loans passed in.
package stats

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/CDourado10/Emprestimo-Facil/pkg/accrual"
	"github.com/CDourado10/Emprestimo-Facil/pkg/models"
)

type Summary struct {
	TotalLoans      int             `json:"total_loans"`
	TotalPrincipal  decimal.Decimal `json:"total_principal"`
	TotalReceived   decimal.Decimal `json:"total_received"`
	ActiveLoans     int             `json:"active_loans"`
	OverdueLoans    int             `json:"overdue_loans"`
	DelinquencyRate float64         `json:"delinquency_rate"` // percent
}

// PortfolioSummary aggregates over every loan. The delinquency rate is
// defined as zero for an empty portfolio.
func PortfolioSummary(loans []*models.Loan) Summary {
	s := Summary{TotalPrincipal: decimal.Zero, TotalReceived: decimal.Zero}
	for _, l := range loans {
		s.TotalLoans++
		s.TotalPrincipal = s.TotalPrincipal.Add(l.Principal)
		s.TotalReceived = s.TotalReceived.Add(l.AmountPaid)
		switch l.Status {
		case models.StatusActive:
			s.ActiveLoans++
		case models.StatusOverdue:
			s.OverdueLoans++
		}
	}
	if s.TotalLoans > 0 {
		s.DelinquencyRate = float64(s.OverdueLoans) / float64(s.TotalLoans) * 100
	}
	return s
}

// ClientSummary is PortfolioSummary scoped to one client's loans.
func ClientSummary(loans []*models.Loan, clientID uuid.UUID) Summary {
	scoped := make([]*models.Loan, 0, len(loans))
	for _, l := range loans {
		if l.ClientID == clientID {
			scoped = append(scoped, l)
		}
	}
	return PortfolioSummary(scoped)
}

type ClientRanking struct {
	ClientID       uuid.UUID       `json:"client_id"`
	Name           string          `json:"name,omitempty"`
	TotalLoans     int             `json:"total_loans"`
	TotalPrincipal decimal.Decimal `json:"total_principal"`
	TotalPaid      decimal.Decimal `json:"total_paid"`
	PaymentRatio   float64         `json:"payment_ratio,omitempty"` // percent
	OverdueLoans   int             `json:"overdue_loans"`
}

func groupByClient(loans []*models.Loan, clients []*models.Client) []*ClientRanking {
	names := make(map[uuid.UUID]string, len(clients))
	for _, c := range clients {
		names[c.ID] = c.Name
	}

	byClient := make(map[uuid.UUID]*ClientRanking)
	for _, l := range loans {
		entry, ok := byClient[l.ClientID]
		if !ok {
			entry = &ClientRanking{
				ClientID:       l.ClientID,
				Name:           names[l.ClientID],
				TotalPrincipal: decimal.Zero,
				TotalPaid:      decimal.Zero,
			}
			byClient[l.ClientID] = entry
		}
		entry.TotalLoans++
		entry.TotalPrincipal = entry.TotalPrincipal.Add(l.Principal)
		entry.TotalPaid = entry.TotalPaid.Add(l.AmountPaid)
		if l.Status == models.StatusOverdue {
			entry.OverdueLoans++
		}
	}

	entries := make([]*ClientRanking, 0, len(byClient))
	for _, e := range byClient {
		if e.TotalPrincipal.IsPositive() {
			e.PaymentRatio, _ = e.TotalPaid.Div(e.TotalPrincipal).Mul(decimal.NewFromInt(100)).Float64()
		}
		entries = append(entries, e)
	}
	return entries
}

func truncate(entries []*ClientRanking, limit int) []*ClientRanking {
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries
}

// Ranking orders clients by total paid, descending unless asc, truncated
// to limit (0 means no limit).
func Ranking(loans []*models.Loan, clients []*models.Client, limit int, asc bool) []*ClientRanking {
	entries := groupByClient(loans, clients)
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].TotalPaid.Equal(entries[j].TotalPaid) {
			if asc {
				return entries[i].TotalPaid.LessThan(entries[j].TotalPaid)
			}
			return entries[i].TotalPaid.GreaterThan(entries[j].TotalPaid)
		}
		return entries[i].ClientID.String() < entries[j].ClientID.String()
	})
	return truncate(entries, limit)
}

// GoodPayers returns clients whose payments cover what they borrowed,
// ordered by payment ratio descending.
func GoodPayers(loans []*models.Loan, clients []*models.Client, limit int) []*ClientRanking {
	entries := groupByClient(loans, clients)
	good := entries[:0]
	for _, e := range entries {
		if e.TotalPaid.GreaterThanOrEqual(e.TotalPrincipal) && e.TotalLoans > 0 {
			good = append(good, e)
		}
	}
	sort.Slice(good, func(i, j int) bool {
		if good[i].PaymentRatio != good[j].PaymentRatio {
			return good[i].PaymentRatio > good[j].PaymentRatio
		}
		return good[i].ClientID.String() < good[j].ClientID.String()
	})
	return truncate(good, limit)
}

// BadPayers orders clients by their count of overdue loans, descending.
func BadPayers(loans []*models.Loan, clients []*models.Client, limit int) []*ClientRanking {
	entries := groupByClient(loans, clients)
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].OverdueLoans != entries[j].OverdueLoans {
			return entries[i].OverdueLoans > entries[j].OverdueLoans
		}
		return entries[i].ClientID.String() < entries[j].ClientID.String()
	})
	return truncate(entries, limit)
}

type CashFlowProjection struct {
	TotalReceivable decimal.Decimal            `json:"total_receivable"`
	ByDueDate       map[string]decimal.Decimal `json:"by_due_date"` // key: YYYY-MM-DD
}

// CashFlow projects receivables over horizonDays from now. Every Active or
// Overdue loan contributes its total owed at the horizon; loans whose next
// due date falls within the horizon are additionally bucketed by that date.
func CashFlow(loans []*models.Loan, horizonDays int, now time.Time) (CashFlowProjection, error) {
	horizon := now.AddDate(0, 0, horizonDays)
	proj := CashFlowProjection{
		TotalReceivable: decimal.Zero,
		ByDueDate:       make(map[string]decimal.Decimal),
	}

	for _, l := range loans {
		if l.Status != models.StatusActive && l.Status != models.StatusOverdue {
			continue
		}
		owed, err := accrual.TotalOwed(l.Principal, l.RequestDate, horizon, l.InterestRules, l.PenaltyRules)
		if err != nil {
			return CashFlowProjection{}, err
		}
		proj.TotalReceivable = proj.TotalReceivable.Add(owed)

		if !l.NextDue.After(horizon) {
			key := l.NextDue.Format("2006-01-02")
			if existing, ok := proj.ByDueDate[key]; ok {
				proj.ByDueDate[key] = existing.Add(owed)
			} else {
				proj.ByDueDate[key] = owed
			}
		}
	}
	return proj, nil
}

type MonthTrend struct {
	Month          string          `json:"month"` // YYYY-MM
	TotalLoans     int             `json:"total_loans"`
	TotalPrincipal decimal.Decimal `json:"total_principal"`
	AverageRate    decimal.Decimal `json:"average_rate"`
}

// Trends groups loan requests by calendar month over the lookback window
// and reports volume, principal, and mean headline rate, chronologically.
func Trends(loans []*models.Loan, lookbackMonths int, now time.Time) []MonthTrend {
	cutoff := now.AddDate(0, 0, -30*lookbackMonths)

	type bucket struct {
		count     int
		principal decimal.Decimal
		rateSum   decimal.Decimal
	}
	byMonth := make(map[string]*bucket)
	for _, l := range loans {
		if l.RequestDate.Before(cutoff) {
			continue
		}
		key := l.RequestDate.Format("2006-01")
		b, ok := byMonth[key]
		if !ok {
			b = &bucket{principal: decimal.Zero, rateSum: decimal.Zero}
			byMonth[key] = b
		}
		b.count++
		b.principal = b.principal.Add(l.Principal)
		b.rateSum = b.rateSum.Add(l.InterestRate)
	}

	months := make([]string, 0, len(byMonth))
	for k := range byMonth {
		months = append(months, k)
	}
	sort.Strings(months)

	trends := make([]MonthTrend, 0, len(months))
	for _, m := range months {
		b := byMonth[m]
		trends = append(trends, MonthTrend{
			Month:          m,
			TotalLoans:     b.count,
			TotalPrincipal: b.principal,
			AverageRate:    b.rateSum.Div(decimal.NewFromInt(int64(b.count))).Round(2),
		})
	}
	return trends
}
