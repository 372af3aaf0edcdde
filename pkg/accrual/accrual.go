// Package accrual computes interest and late-penalty (mora) amounts over a
// date range, and aggregates stacked rule contributions into the total
// amount owed on a loan. All math is exact decimal; rounding happens only
// at presentation boundaries, never here.
package accrual

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/CDourado10/Emprestimo-Facil/pkg/daterule"
)

// ErrUnsupportedMode signals an interest or penalty mode the calculator
// does not model.
var ErrUnsupportedMode = errors.New("unsupported accrual mode")

// Mode selects how a rate compounds over the elapsed period.
type Mode string

const (
	ModeSimple   Mode = "simple"
	ModeCompound Mode = "compound"
	// ModeDaily is a flat per-day penalty rate. Valid for penalties only.
	ModeDaily Mode = "daily"
)

var (
	hundred = decimal.NewFromInt(100)
	one     = decimal.NewFromInt(1)
)

// InterestRule is one ordinary-interest contribution. A loan may carry
// several concurrently (base rate plus surcharges).
type InterestRule struct {
	Rate decimal.Decimal `json:"rate"` // percent per period, non-negative
	Rule daterule.Rule   `json:"rule"` // defines the period basis in days
	Mode Mode            `json:"mode"`
}

// PenaltyRule is one late-payment contribution, keyed off its due date.
type PenaltyRule struct {
	Rate    decimal.Decimal `json:"rate"`
	DueDate time.Time       `json:"due_date"`
	Rule    daterule.Rule   `json:"rule"`
	Mode    Mode            `json:"mode"`
}

// Interest accrues ordinary interest on principal from start to end. The
// rate is a percentage per rule period; elapsed days are normalized against
// the rule's basis. Nothing accrues when end is not after start.
func Interest(principal, ratePercent decimal.Decimal, start, end time.Time, rule daterule.Rule, mode Mode) (decimal.Decimal, error) {
	basis, err := rule.PeriodBasisDays(start)
	if err != nil {
		return decimal.Zero, err
	}
	elapsed := daterule.DaysBetween(start, end)
	return accrue(principal, ratePercent, elapsed, basis, mode)
}

// Penalty accrues the mora owed on principal from dueDate to paymentDate.
// It is exactly zero while the loan is not yet overdue.
func Penalty(principal, ratePercent decimal.Decimal, dueDate, paymentDate time.Time, rule daterule.Rule, mode Mode) (decimal.Decimal, error) {
	basis, err := rule.PeriodBasisDays(dueDate)
	if err != nil {
		return decimal.Zero, err
	}
	daysLate := daterule.DaysBetween(dueDate, paymentDate)
	if daysLate <= 0 {
		return decimal.Zero, nil
	}
	if mode == ModeDaily {
		// Flat daily rate: no compounding regardless of how late.
		daily := ratePercent.Div(decimal.NewFromInt(int64(basis))).Div(hundred)
		return principal.Mul(daily).Mul(decimal.NewFromInt(int64(daysLate))), nil
	}
	return accrue(principal, ratePercent, daysLate, basis, mode)
}

func accrue(principal, ratePercent decimal.Decimal, elapsed, basis int, mode Mode) (decimal.Decimal, error) {
	if elapsed <= 0 {
		if mode != ModeSimple && mode != ModeCompound {
			return decimal.Zero, fmt.Errorf("%w: %q", ErrUnsupportedMode, mode)
		}
		return decimal.Zero, nil
	}

	basisDec := decimal.NewFromInt(int64(basis))
	elapsedDec := decimal.NewFromInt(int64(elapsed))

	switch mode {
	case ModeSimple:
		adjusted := ratePercent.Mul(elapsedDec).Div(basisDec)
		return principal.Mul(adjusted).Div(hundred), nil
	case ModeCompound:
		// Compound per full basis period, then pro-rate the remainder
		// simple-style on the compounded balance.
		periodic := ratePercent.Div(hundred)
		whole := elapsed / basis
		rem := elapsed % basis

		factor := one
		if whole > 0 {
			factor = one.Add(periodic).Pow(decimal.NewFromInt(int64(whole)))
		}
		if rem > 0 {
			partial := periodic.Mul(decimal.NewFromInt(int64(rem))).Div(basisDec)
			factor = factor.Mul(one.Add(partial))
		}
		return principal.Mul(factor.Sub(one)), nil
	default:
		return decimal.Zero, fmt.Errorf("%w: %q", ErrUnsupportedMode, mode)
	}
}

// TotalOwed sums the principal with every interest-rule contribution from
// requestDate to asOf, plus every penalty rule already past due at asOf.
// It is pure: identical inputs always produce the identical result.
func TotalOwed(principal decimal.Decimal, requestDate, asOf time.Time, interestRules []InterestRule, penaltyRules []PenaltyRule) (decimal.Decimal, error) {
	totalInterest := decimal.Zero
	for _, r := range interestRules {
		amount, err := Interest(principal, r.Rate, requestDate, asOf, r.Rule, r.Mode)
		if err != nil {
			return decimal.Zero, fmt.Errorf("interest rule: %w", err)
		}
		totalInterest = totalInterest.Add(amount)
	}

	totalPenalty := decimal.Zero
	for _, r := range penaltyRules {
		if !r.DueDate.Before(asOf) {
			continue
		}
		amount, err := Penalty(principal, r.Rate, r.DueDate, asOf, r.Rule, r.Mode)
		if err != nil {
			return decimal.Zero, fmt.Errorf("penalty rule: %w", err)
		}
		totalPenalty = totalPenalty.Add(amount)
	}

	return principal.Add(totalInterest).Add(totalPenalty), nil
}
