package payments

import (
	"fmt"

	"github.com/shopspring/decimal"

	"rentpay/internal/common/money"
)

var hundred = decimal.NewFromInt(100)

// Split is the owner/company division of one charge.
type Split struct {
	OwnerAmount   money.Money `json:"ownerAmount"`
	CompanyAmount money.Money `json:"companyAmount"`
}

// ComputeSplit divides amount between the management company, which keeps
// administrationFeePct percent rounded half-up to centavos, and the owner,
// who receives the remainder.
func ComputeSplit(amount money.Money, administrationFeePct decimal.Decimal) (Split, error) {
	if !amount.IsPositive() {
		return Split{}, fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}
	if administrationFeePct.IsNegative() || administrationFeePct.GreaterThan(hundred) {
		return Split{}, fmt.Errorf("%w: %s", ErrInvalidPercentage, administrationFeePct)
	}

	company := amount.MultiplyRate(administrationFeePct.Shift(-2))
	owner := amount.MustSub(company)

	return Split{OwnerAmount: owner, CompanyAmount: company}, nil
}
