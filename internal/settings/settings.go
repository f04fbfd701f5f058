// Package settings resolves per-company gateway credentials and fee
// schedules from environment defaults and an optional YAML file.
package settings

import (
	"crypto/subtle"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"rentpay/internal/common/money"
	"rentpay/internal/payments"
)

// Config holds the environment defaults applied to every company.
type Config struct {
	File string `envconfig:"COMPANY_SETTINGS_FILE"`

	PJBankCredencial   string `envconfig:"PJBANK_CREDENCIAL"`
	PJBankChave        string `envconfig:"PJBANK_CHAVE"`
	PJBankWebhookToken string `envconfig:"PJBANK_WEBHOOK_TOKEN"`
	AsaasAPIKey        string `envconfig:"ASAAS_API_KEY"`
	AsaasWebhookToken  string `envconfig:"ASAAS_WEBHOOK_TOKEN"`

	FeePJBankCharge string `envconfig:"FEES_PJBANK_CHARGE" default:"5.00"`
	FeePJBankSplit  string `envconfig:"FEES_PJBANK_SPLIT" default:"3.00"`
	FeeAsaasRate    string `envconfig:"FEES_ASAAS_RATE" default:"0.035"`
}

// Company is what a request needs to know about its company.
type Company struct {
	Credentials payments.GatewayCredentials
	Fees        payments.FeeSchedule
}

type gatewayFile struct {
	Credencial   string `yaml:"credencial"`
	Chave        string `yaml:"chave"`
	APIKey       string `yaml:"api_key"`
	WebhookToken string `yaml:"webhook_token"`
}

type feesFile struct {
	PJBankCharge string `yaml:"pjbank_charge"`
	PJBankSplit  string `yaml:"pjbank_split"`
	AsaasRate    string `yaml:"asaas_rate"`
}

type companyFile struct {
	Gateways map[string]gatewayFile `yaml:"gateways"`
	Fees     feesFile               `yaml:"fees"`
}

type file struct {
	Companies map[string]companyFile `yaml:"companies"`
}

// Resolver returns the settings of a company.
type Resolver struct {
	defaults  Company
	companies map[string]Company
}

// Load builds a resolver from cfg, reading cfg.File when set.
func Load(cfg Config) (*Resolver, error) {
	var data []byte
	if cfg.File != "" {
		var err error
		data, err = os.ReadFile(cfg.File)
		if err != nil {
			return nil, fmt.Errorf("reading company settings: %w", err)
		}
	}
	return Parse(cfg, data)
}

// Parse builds a resolver from cfg and YAML company overrides. Empty data
// yields a resolver serving only the defaults.
func Parse(cfg Config, data []byte) (*Resolver, error) {
	defaults, err := defaultsFrom(cfg)
	if err != nil {
		return nil, err
	}

	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing company settings: %w", err)
	}

	r := &Resolver{defaults: defaults, companies: make(map[string]Company, len(f.Companies))}
	for id, cf := range f.Companies {
		company, err := merge(defaults, cf)
		if err != nil {
			return nil, fmt.Errorf("company %s: %w", id, err)
		}
		r.companies[id] = company
	}
	return r, nil
}

func defaultsFrom(cfg Config) (Company, error) {
	creds := payments.GatewayCredentials{}
	if cfg.PJBankCredencial != "" || cfg.PJBankChave != "" || cfg.PJBankWebhookToken != "" {
		creds[payments.GatewayPJBank] = payments.Credential{
			AccountID:    cfg.PJBankCredencial,
			APIKey:       cfg.PJBankChave,
			WebhookToken: cfg.PJBankWebhookToken,
		}
	}
	if cfg.AsaasAPIKey != "" || cfg.AsaasWebhookToken != "" {
		creds[payments.GatewayAsaas] = payments.Credential{
			APIKey:       cfg.AsaasAPIKey,
			WebhookToken: cfg.AsaasWebhookToken,
		}
	}

	fees, err := applyFees(payments.DefaultFeeSchedule(), feesFile{
		PJBankCharge: cfg.FeePJBankCharge,
		PJBankSplit:  cfg.FeePJBankSplit,
		AsaasRate:    cfg.FeeAsaasRate,
	})
	if err != nil {
		return Company{}, fmt.Errorf("default fees: %w", err)
	}
	return Company{Credentials: creds, Fees: fees}, nil
}

func merge(defaults Company, cf companyFile) (Company, error) {
	creds := make(payments.GatewayCredentials, len(defaults.Credentials)+len(cf.Gateways))
	for id, cred := range defaults.Credentials {
		creds[id] = cred
	}
	for name, gf := range cf.Gateways {
		id, err := payments.ParseGatewayID(name)
		if err != nil {
			return Company{}, err
		}
		cred := creds[id]
		switch id {
		case payments.GatewayPJBank:
			cred.AccountID = override(cred.AccountID, gf.Credencial)
			cred.APIKey = override(cred.APIKey, gf.Chave)
		default:
			cred.APIKey = override(cred.APIKey, gf.APIKey)
		}
		cred.WebhookToken = override(cred.WebhookToken, gf.WebhookToken)
		creds[id] = cred
	}

	fees, err := applyFees(defaults.Fees, cf.Fees)
	if err != nil {
		return Company{}, err
	}
	return Company{Credentials: creds, Fees: fees}, nil
}

func applyFees(base payments.FeeSchedule, f feesFile) (payments.FeeSchedule, error) {
	fees := base
	if f.PJBankCharge != "" {
		d, err := decimal.NewFromString(f.PJBankCharge)
		if err != nil {
			return fees, fmt.Errorf("pjbank_charge: %w", err)
		}
		if fees.PJBankChargeFee, err = money.FromDecimal(d, money.BRL); err != nil {
			return fees, fmt.Errorf("pjbank_charge: %w", err)
		}
	}
	if f.PJBankSplit != "" {
		d, err := decimal.NewFromString(f.PJBankSplit)
		if err != nil {
			return fees, fmt.Errorf("pjbank_split: %w", err)
		}
		if fees.PJBankSplitFee, err = money.FromDecimal(d, money.BRL); err != nil {
			return fees, fmt.Errorf("pjbank_split: %w", err)
		}
	}
	if f.AsaasRate != "" {
		d, err := decimal.NewFromString(f.AsaasRate)
		if err != nil {
			return fees, fmt.Errorf("asaas_rate: %w", err)
		}
		fees.AsaasRate = d
	}
	return fees, fees.Validate()
}

func override(base, v string) string {
	if v != "" {
		return v
	}
	return base
}

// Resolve returns the settings for companyID, falling back to defaults.
func (r *Resolver) Resolve(companyID string) Company {
	if c, ok := r.companies[companyID]; ok {
		return c
	}
	return r.defaults
}

// AuthorizeWebhook reports whether token is the webhook token configured
// for gateway by companyID, falling back to the defaults like Resolve. A
// company with no token configured accepts every webhook.
func (r *Resolver) AuthorizeWebhook(companyID string, gateway payments.GatewayID, token string) bool {
	want := r.Resolve(companyID).Credentials[gateway].WebhookToken
	if want == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(want), []byte(token)) == 1
}
