package payments

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectGatewayExample(t *testing.T) {
	est, err := SelectGateway(brl(100000), "", DefaultFeeSchedule())
	require.NoError(t, err)

	assert.Equal(t, GatewayPJBank, est.Gateway)
	assert.Equal(t, brl(800), est.Fee)
	assert.Contains(t, est.Reason, "R$8.00")
	assert.Contains(t, est.Reason, "R$35.00")
}

func TestSelectGatewayPrefersAsaasForSmallAmounts(t *testing.T) {
	// 100.00 * 3.5% = 3.50 < 8.00
	est, err := SelectGateway(brl(10000), "", DefaultFeeSchedule())
	require.NoError(t, err)

	assert.Equal(t, GatewayAsaas, est.Gateway)
	assert.Equal(t, brl(350), est.Fee)
	assert.Contains(t, est.Reason, "R$3.50")
	assert.Contains(t, est.Reason, "R$8.00")
}

func TestSelectGatewayTieGoesToPJBank(t *testing.T) {
	// 228.57 * 0.035 = 7.99995 -> 8.00
	est, err := SelectGateway(brl(22857), "", DefaultFeeSchedule())
	require.NoError(t, err)
	assert.Equal(t, GatewayPJBank, est.Gateway)
	assert.True(t, strings.Contains(est.Reason, "equals"))

	fees := FeeSchedule{
		PJBankChargeFee: brl(200),
		PJBankSplitFee:  brl(300),
		AsaasRate:       decimal.RequireFromString("0.05"),
	}
	// 100.00 * 5% = 5.00 == 2.00 + 3.00
	est, err = SelectGateway(brl(10000), "", fees)
	require.NoError(t, err)
	assert.Equal(t, GatewayPJBank, est.Gateway)
}

func TestSelectGatewayOverride(t *testing.T) {
	for _, amount := range []int64{1, 10000, 100000, 10000000} {
		est, err := SelectGateway(brl(amount), GatewayAsaas, DefaultFeeSchedule())
		require.NoError(t, err)
		assert.Equal(t, GatewayAsaas, est.Gateway)
		assert.Equal(t, ReasonForced, est.Reason)

		est, err = SelectGateway(brl(amount), GatewayPJBank, DefaultFeeSchedule())
		require.NoError(t, err)
		assert.Equal(t, GatewayPJBank, est.Gateway)
		assert.Equal(t, brl(800), est.Fee)
	}

	_, err := SelectGateway(brl(100), GatewayManual, DefaultFeeSchedule())
	assert.ErrorIs(t, err, ErrUnsupportedGateway)
}

func TestSelectGatewayIsDeterministic(t *testing.T) {
	for amount := int64(1); amount < 1000000; amount += 4099 {
		a, err := SelectGateway(brl(amount), "", DefaultFeeSchedule())
		require.NoError(t, err)
		b, err := SelectGateway(brl(amount), "", DefaultFeeSchedule())
		require.NoError(t, err)
		assert.Equal(t, a, b)
	}
}

func TestSelectGatewayRejectsNonPositiveAmount(t *testing.T) {
	_, err := SelectGateway(brl(0), "", DefaultFeeSchedule())
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestFeeScheduleValidate(t *testing.T) {
	assert.NoError(t, DefaultFeeSchedule().Validate())

	fees := DefaultFeeSchedule()
	fees.AsaasRate = decimal.RequireFromString("1.5")
	assert.ErrorIs(t, fees.Validate(), ErrInvalidRequest)

	fees = DefaultFeeSchedule()
	fees.PJBankSplitFee = brl(-1)
	assert.ErrorIs(t, fees.Validate(), ErrInvalidRequest)
}
