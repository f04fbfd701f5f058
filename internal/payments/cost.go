package payments

import (
	"fmt"

	"github.com/shopspring/decimal"

	"rentpay/internal/common/money"
)

// FeeSchedule holds the gateway fee parameters used to estimate cost.
type FeeSchedule struct {
	// PJBank charges a fixed fee per boleto plus a fixed fee per split.
	PJBankChargeFee money.Money
	PJBankSplitFee  money.Money
	// AsaasRate is the fraction of the amount charged by Asaas (0.035 = 3.5%).
	AsaasRate decimal.Decimal
}

// DefaultFeeSchedule returns the published fees.
func DefaultFeeSchedule() FeeSchedule {
	return FeeSchedule{
		PJBankChargeFee: money.New(500, money.BRL),
		PJBankSplitFee:  money.New(300, money.BRL),
		AsaasRate:       decimal.RequireFromString("0.035"),
	}
}

// Validate checks that every fee is non-negative.
func (f FeeSchedule) Validate() error {
	if f.PJBankChargeFee.AmountMinor < 0 || f.PJBankSplitFee.AmountMinor < 0 {
		return fmt.Errorf("%w: negative pjbank fee", ErrInvalidRequest)
	}
	if f.AsaasRate.IsNegative() || f.AsaasRate.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("%w: asaas rate %s outside [0,1]", ErrInvalidRequest, f.AsaasRate)
	}
	return nil
}

// Fee returns the nominal fee a gateway charges for amount.
func (f FeeSchedule) Fee(gateway GatewayID, amount money.Money) (money.Money, error) {
	switch gateway {
	case GatewayPJBank:
		return f.PJBankChargeFee.Add(f.PJBankSplitFee)
	case GatewayAsaas:
		return amount.MultiplyRate(f.AsaasRate), nil
	default:
		return money.Money{}, fmt.Errorf("%w: %q", ErrUnsupportedGateway, gateway)
	}
}

// Estimate is the outcome of gateway selection.
type Estimate struct {
	Gateway GatewayID   `json:"gateway"`
	Fee     money.Money `json:"fee"`
	Reason  string      `json:"reason"`
}

// ReasonForced is the reason reported when the caller chose the gateway.
const ReasonForced = "forced by caller"

// SelectGateway picks the gateway with the strictly lower estimated fee for
// amount, preferring PJBank on a tie. A non-empty override is returned
// as-is without comparison. No network access.
func SelectGateway(amount money.Money, override GatewayID, fees FeeSchedule) (Estimate, error) {
	if !amount.IsPositive() {
		return Estimate{}, fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}

	if override != "" {
		fee, err := fees.Fee(override, amount)
		if err != nil {
			return Estimate{}, err
		}
		return Estimate{Gateway: override, Fee: fee, Reason: ReasonForced}, nil
	}

	pjbankFee, err := fees.Fee(GatewayPJBank, amount)
	if err != nil {
		return Estimate{}, err
	}
	asaasFee, err := fees.Fee(GatewayAsaas, amount)
	if err != nil {
		return Estimate{}, err
	}

	if asaasFee.LessThan(pjbankFee) {
		return Estimate{
			Gateway: GatewayAsaas,
			Fee:     asaasFee,
			Reason:  fmt.Sprintf("asaas fee %s lower than pjbank fee %s", asaasFee, pjbankFee),
		}, nil
	}

	reason := fmt.Sprintf("pjbank fee %s lower than asaas fee %s", pjbankFee, asaasFee)
	if pjbankFee.Equal(asaasFee) {
		reason = fmt.Sprintf("pjbank fee %s equals asaas fee %s, fixed fee preferred", pjbankFee, asaasFee)
	}
	return Estimate{Gateway: GatewayPJBank, Fee: pjbankFee, Reason: reason}, nil
}
