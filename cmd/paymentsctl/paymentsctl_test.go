package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rentpay/internal/payments"
)

const ownersYAML = `
owners:
  - id: owner-1
    company_id: acme
    name: Maria Souza
    email: maria@example.com
    tax_id: 529.982.247-25
    bank_accounts:
      - id: ba-1
        bank_code: "341"
        agency: "1234"
        account_number: "56789"
        account_digit: "0"
        account_type: savings
        holder_name: Maria Souza
        holder_tax_id: 529.982.247-25
        active: true
        primary: true
      - id: ba-2
        bank_code: "001"
        agency: "0001"
        account_number: "12345"
        holder_name: Maria Souza
        holder_tax_id: "52998224725"
        active: true
`

func TestParseOwners(t *testing.T) {
	owners, err := parseOwners([]byte(ownersYAML))
	require.NoError(t, err)
	require.Len(t, owners, 1)

	o := owners[0]
	assert.Equal(t, "acme", o.CompanyID)
	require.Len(t, o.BankAccounts, 2)
	assert.Equal(t, "owner-1", o.BankAccounts[0].OwnerID)
	assert.Equal(t, payments.AccountSavings, o.BankAccounts[0].AccountType)

	acct, ok := o.PayoutAccount()
	require.True(t, ok)
	assert.Equal(t, "ba-1", acct.ID)
}

func TestParseOwners_Invalid(t *testing.T) {
	tests := map[string]string{
		"empty":        "owners: []",
		"not yaml":     "owners: [",
		"missing id":   "owners:\n  - company_id: acme\n    name: X\n    tax_id: \"52998224725\"\n",
		"bad tax id":   "owners:\n  - id: o\n    company_id: acme\n    name: X\n    tax_id: \"12345678900\"\n",
		"account type": "owners:\n  - id: o\n    company_id: acme\n    name: X\n    tax_id: \"52998224725\"\n    bank_accounts:\n      - id: b\n        account_type: investment\n",
		"two primaries": "owners:\n  - id: o\n    company_id: acme\n    name: X\n    tax_id: \"52998224725\"\n    bank_accounts:\n" +
			"      - {id: a, active: true, primary: true}\n      - {id: b, active: true, primary: true}\n",
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := parseOwners([]byte(data))
			assert.Error(t, err)
		})
	}
}

func TestEstimateCommand(t *testing.T) {
	t.Setenv("COMPANY_SETTINGS_FILE", "")
	t.Setenv("FEES_ASAAS_RATE", "0.035")

	cmd := estimateCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--amount", "1000.00", "--json"})
	require.NoError(t, cmd.Execute())

	var got struct {
		Gateway string      `json:"gateway"`
		Fee     json.Number `json:"fee"`
		Reason  string      `json:"reason"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, "pjbank", got.Gateway)
	assert.Equal(t, "8.00", got.Fee.String())
	assert.Contains(t, got.Reason, "R$35.00")
}

func TestEstimateCommand_SmallAmountPrefersAsaas(t *testing.T) {
	t.Setenv("COMPANY_SETTINGS_FILE", "")

	cmd := estimateCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--amount", "100"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "gateway: asaas")
	assert.Contains(t, out.String(), "fee:     R$3.50")
}

func TestEstimateCommand_RejectsManual(t *testing.T) {
	cmd := estimateCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--amount", "100", "--gateway", "manual"})
	assert.ErrorIs(t, cmd.Execute(), payments.ErrUnsupportedGateway)
}
