package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"rentpay/internal/common/database"
	"rentpay/internal/payments"
)

type ownersFile struct {
	Owners []payments.Owner `yaml:"owners"`
}

func ownersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "owners",
		Short: "Manage property owners and their payout accounts",
	}

	var (
		file   string
		dryRun bool
	)
	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Upsert owners and bank accounts from a YAML file",
		Long: `Upsert owners and their bank accounts from a YAML file. Cached gateway
sub-account references are kept.

Example file:
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
          account_type: checking
          holder_name: Maria Souza
          holder_tax_id: 529.982.247-25
          active: true
          primary: true`,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading %s: %w", file, err)
			}
			owners, err := parseOwners(data)
			if err != nil {
				return err
			}
			if dryRun {
				fmt.Fprintf(cmd.OutOrStdout(), "%d owners valid, nothing written\n", len(owners))
				return nil
			}

			var cfg database.Config
			if err := envconfig.Process("", &cfg); err != nil {
				return fmt.Errorf("failed to process config: %w", err)
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			db, err := database.New(ctx, cfg, newLogger())
			if err != nil {
				return err
			}
			defer db.Close()

			store := payments.NewPostgresStore(db)
			for i := range owners {
				if err := store.SaveOwner(ctx, &owners[i]); err != nil {
					return fmt.Errorf("saving owner %s: %w", owners[i].ID, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "saved owner %s (%d bank accounts)\n", owners[i].ID, len(owners[i].BankAccounts))
			}
			return nil
		},
	}
	importCmd.Flags().StringVarP(&file, "file", "f", "", "YAML file with owners")
	importCmd.Flags().BoolVar(&dryRun, "dry-run", false, "validate the file without writing")
	_ = importCmd.MarkFlagRequired("file")
	cmd.AddCommand(importCmd)

	return cmd
}

// parseOwners decodes and validates an owners file.
func parseOwners(data []byte) ([]payments.Owner, error) {
	var f ownersFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing owners file: %w", err)
	}
	if len(f.Owners) == 0 {
		return nil, errors.New("owners file lists no owners")
	}

	var errs []error
	for i := range f.Owners {
		o := &f.Owners[i]
		if o.ID == "" || o.CompanyID == "" || o.Name == "" {
			errs = append(errs, fmt.Errorf("owner #%d: id, company_id and name are required", i+1))
			continue
		}
		if !payments.ValidTaxID(o.TaxID) {
			errs = append(errs, fmt.Errorf("owner %s: invalid tax_id %q", o.ID, o.TaxID))
		}
		primaries := 0
		for j := range o.BankAccounts {
			b := &o.BankAccounts[j]
			b.OwnerID = o.ID
			if b.ID == "" {
				errs = append(errs, fmt.Errorf("owner %s: bank account #%d has no id", o.ID, j+1))
			}
			switch b.AccountType {
			case "", payments.AccountChecking, payments.AccountSavings:
			default:
				errs = append(errs, fmt.Errorf("owner %s: bank account %s: unknown account_type %q", o.ID, b.ID, b.AccountType))
			}
			if b.HolderTaxID != "" && !payments.ValidTaxID(b.HolderTaxID) {
				errs = append(errs, fmt.Errorf("owner %s: bank account %s: invalid holder_tax_id %q", o.ID, b.ID, b.HolderTaxID))
			}
			if b.Primary && b.Active {
				primaries++
			}
		}
		if primaries > 1 {
			errs = append(errs, fmt.Errorf("owner %s: more than one active primary bank account", o.ID))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return f.Owners, nil
}
