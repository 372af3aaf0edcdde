// Package amortization generates fixed-count installment schedules and the
// canonical rounded split of a total into installments.
//
// Two policies are supported: constant-installment (Price, driven by the
// compound mode) and constant-principal (SAC, driven by the simple mode).
package amortization

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/CDourado10/Emprestimo-Facil/pkg/accrual"
	"github.com/CDourado10/Emprestimo-Facil/pkg/daterule"
)

var (
	hundred     = decimal.NewFromInt(100)
	one         = decimal.NewFromInt(1)
	daysInYear  = decimal.NewFromInt(365)
	lnPrecision = int32(24)
)

// Row is one line of an amortization table. Monetary fields are rounded
// half-up to 2 places; rounding error is not redistributed across rows.
type Row struct {
	Installment decimal.Decimal `json:"installment"`
	Interest    decimal.Decimal `json:"interest"`
	Principal   decimal.Decimal `json:"principal"`
	Balance     decimal.Decimal `json:"balance"`
}

// Generate builds an installment schedule for principal at annualRate
// (percent per year) over count periods defined by rule, evaluated at asOf.
// ModeCompound selects the constant-installment (Price) policy, ModeSimple
// the constant-principal (SAC) policy.
func Generate(principal, annualRate decimal.Decimal, count int, rule daterule.Rule, mode accrual.Mode, asOf time.Time) ([]Row, error) {
	if count < 1 {
		return nil, fmt.Errorf("installment count must be at least 1, got %d", count)
	}
	rate, err := periodicRate(annualRate, rule, asOf)
	if err != nil {
		return nil, err
	}

	switch mode {
	case accrual.ModeCompound:
		return price(principal, rate, count), nil
	case accrual.ModeSimple:
		return sac(principal, rate, count), nil
	default:
		return nil, fmt.Errorf("%w: %q", accrual.ErrUnsupportedMode, mode)
	}
}

// periodicRate scales the annual percentage to the rule's period length.
func periodicRate(annualRate decimal.Decimal, rule daterule.Rule, asOf time.Time) (decimal.Decimal, error) {
	basis, err := rule.PeriodBasisDays(asOf)
	if err != nil {
		return decimal.Zero, err
	}
	return annualRate.Div(hundred).Mul(decimal.NewFromInt(int64(basis))).Div(daysInYear), nil
}

// price computes the level-payment (annuity) schedule.
func price(principal, rate decimal.Decimal, count int) []Row {
	n := decimal.NewFromInt(int64(count))

	var payment decimal.Decimal
	if rate.IsZero() {
		payment = principal.Div(n)
	} else {
		compounded := one.Add(rate).Pow(n)
		payment = principal.Mul(rate.Mul(compounded)).Div(compounded.Sub(one))
	}

	rows := make([]Row, 0, count)
	balance := principal
	for i := 0; i < count; i++ {
		interest := balance.Mul(rate)
		amortized := payment.Sub(interest)
		balance = balance.Sub(amortized)
		rows = append(rows, Row{
			Installment: payment.Round(2),
			Interest:    interest.Round(2),
			Principal:   amortized.Round(2),
			Balance:     balance.Round(2),
		})
	}
	return rows
}

// sac computes the constant-principal schedule.
func sac(principal, rate decimal.Decimal, count int) []Row {
	amortized := principal.Div(decimal.NewFromInt(int64(count)))

	rows := make([]Row, 0, count)
	balance := principal
	for i := 0; i < count; i++ {
		interest := balance.Mul(rate)
		payment := amortized.Add(interest)
		balance = balance.Sub(amortized)
		rows = append(rows, Row{
			Installment: payment.Round(2),
			Interest:    interest.Round(2),
			Principal:   amortized.Round(2),
			Balance:     balance.Round(2),
		})
	}
	return rows
}

// SplitInstallments divides total into count parts rounded half-up to 2
// places, then adjusts the last part by the residual so the parts sum back
// to total exactly. Reuse this wherever a total is split into rounded parts.
func SplitInstallments(total decimal.Decimal, count int) ([]decimal.Decimal, error) {
	if count < 1 {
		return nil, fmt.Errorf("installment count must be at least 1, got %d", count)
	}
	each := total.Div(decimal.NewFromInt(int64(count))).Round(2)

	parts := make([]decimal.Decimal, count)
	sum := decimal.Zero
	for i := 0; i < count-1; i++ {
		parts[i] = each
		sum = sum.Add(each)
	}
	parts[count-1] = total.Sub(sum)
	return parts, nil
}

// ErrTermOutOfRange signals that maxAmount can never be reached, or is
// already exceeded, under the given rate.
var ErrTermOutOfRange = errors.New("maximum term not computable")

// MaxTerm returns how many whole rule periods principal can grow at
// annualRate before exceeding maxAmount. Closed-form inverse of the
// simple/compound growth formulas.
func MaxTerm(principal, annualRate, maxAmount decimal.Decimal, rule daterule.Rule, mode accrual.Mode, asOf time.Time) (int, error) {
	if principal.LessThanOrEqual(decimal.Zero) || maxAmount.LessThan(principal) {
		return 0, fmt.Errorf("%w: principal %s, max %s", ErrTermOutOfRange, principal, maxAmount)
	}
	basis, err := rule.PeriodBasisDays(asOf)
	if err != nil {
		return 0, err
	}
	adjusted := annualRate.Mul(decimal.NewFromInt(int64(basis))).Div(daysInYear)
	if adjusted.LessThanOrEqual(decimal.Zero) {
		return 0, fmt.Errorf("%w: non-positive adjusted rate %s", ErrTermOutOfRange, adjusted)
	}
	periodic := adjusted.Div(hundred)
	growth := maxAmount.Div(principal)

	switch mode {
	case accrual.ModeSimple:
		// max/p = 1 + rate*n
		return int(growth.Sub(one).Div(periodic).IntPart()), nil
	case accrual.ModeCompound:
		// max/p = (1+rate)^n
		lnGrowth, err := growth.Ln(lnPrecision)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrTermOutOfRange, err)
		}
		lnFactor, err := one.Add(periodic).Ln(lnPrecision)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrTermOutOfRange, err)
		}
		return int(lnGrowth.Div(lnFactor).IntPart()), nil
	default:
		return 0, fmt.Errorf("%w: %q", accrual.ErrUnsupportedMode, mode)
	}
}
