package normalize

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"ledgerline/internal/domain/account"
	"ledgerline/internal/domain/rawstore"
	"ledgerline/internal/domain/transaction"
)

// plaidMapper handles the Plaid aggregator family. Sign convention: a
// positive transaction amount is money leaving the account.
type plaidMapper struct{}

type plaidAccount struct {
	AccountID     string `json:"account_id"`
	Name          string `json:"name"`
	OfficialName  string `json:"official_name"`
	Type          string `json:"type"`
	Subtype       string `json:"subtype"`
	Mask          string `json:"mask"`
	InstitutionID string `json:"institution_id"`
	Balances      struct {
		Available       json.Number `json:"available"`
		Current         json.Number `json:"current"`
		ISOCurrencyCode string      `json:"iso_currency_code"`
	} `json:"balances"`
}

type plaidTransaction struct {
	TransactionID           string      `json:"transaction_id"`
	AccountID               string      `json:"account_id"`
	Amount                  json.Number `json:"amount"`
	ISOCurrencyCode         string      `json:"iso_currency_code"`
	Date                    string      `json:"date"`
	Name                    string      `json:"name"`
	MerchantName            string      `json:"merchant_name"`
	Pending                 bool        `json:"pending"`
	PersonalFinanceCategory struct {
		Primary string `json:"primary"`
	} `json:"personal_finance_category"`
}

// plaidTypeMap maps "type/subtype" and bare "type" keys into the canonical
// taxonomy. Unmapped combinations fall back to other.
var plaidTypeMap = map[string]string{
	"depository/checking":     account.TypeChecking,
	"depository/savings":      account.TypeSavings,
	"depository/money market": account.TypeSavings,
	"credit/credit card":      account.TypeCreditCard,
	"credit/paypal":           account.TypeCreditCard,
	"loan/mortgage":           account.TypeMortgage,
	"loan/student":            account.TypeLoan,
	"loan/auto":               account.TypeLoan,
	"loan":                    account.TypeLoan,
	"investment/brokerage":    account.TypeInvestment,
	"investment/ira":          account.TypeRetirement,
	"investment/401k":         account.TypeRetirement,
	"investment/roth":         account.TypeRetirement,
	"investment":              account.TypeInvestment,
}

func plaidAccountType(accountType, subtype string) string {
	if t, ok := plaidTypeMap[accountType+"/"+subtype]; ok {
		return t
	}
	if t, ok := plaidTypeMap[accountType]; ok {
		return t
	}
	return account.TypeOther
}

func (plaidMapper) mapAccount(rec rawstore.Record) (*Account, error) {
	var raw plaidAccount
	if err := json.Unmarshal(rec.Payload, &raw); err != nil {
		return nil, fmt.Errorf("malformed plaid account payload: %w", err)
	}

	// Current is the booked balance; available falls back when absent.
	balanceStr := raw.Balances.Current.String()
	if balanceStr == "" {
		balanceStr = raw.Balances.Available.String()
	}
	balance := decimal.Zero
	if balanceStr != "" {
		parsed, err := decimal.NewFromString(balanceStr)
		if err != nil {
			return nil, fmt.Errorf("invalid plaid balance %q: %w", balanceStr, err)
		}
		balance = parsed
	}

	name := raw.Name
	if name == "" {
		name = raw.OfficialName
	}

	metadata := map[string]string{}
	if raw.Subtype != "" {
		metadata["plaid_subtype"] = raw.Subtype
	}
	if raw.Mask != "" {
		metadata["mask"] = raw.Mask
	}

	return &Account{
		Name:            name,
		AccountType:     plaidAccountType(raw.Type, raw.Subtype),
		Currency:        raw.Balances.ISOCurrencyCode,
		Balance:         balance,
		AccountNumber:   raw.Mask,
		InstitutionID:   raw.InstitutionID,
		InstitutionName: InstitutionName(raw.InstitutionID),
		Metadata:        metadata,
	}, nil
}

func (plaidMapper) mapTransaction(rec rawstore.Record) (*Transaction, error) {
	var raw plaidTransaction
	if err := json.Unmarshal(rec.Payload, &raw); err != nil {
		return nil, fmt.Errorf("malformed plaid transaction payload: %w", err)
	}

	amount, err := decimal.NewFromString(raw.Amount.String())
	if err != nil {
		return nil, fmt.Errorf("invalid plaid amount %q: %w", raw.Amount.String(), err)
	}

	// Plaid: positive = money out. Fold the sign into the type field.
	txType := transaction.TypeDebit
	if amount.IsNegative() {
		txType = transaction.TypeCredit
	}

	date, err := time.Parse("2006-01-02", raw.Date)
	if err != nil {
		return nil, fmt.Errorf("invalid plaid date %q: %w", raw.Date, err)
	}

	metadata := map[string]string{}
	if raw.Pending {
		metadata["pending"] = "true"
	}

	return &Transaction{
		ExternalAccountID: raw.AccountID,
		Date:              date.UTC(),
		Amount:            amount.Abs(),
		Type:              txType,
		Currency:          raw.ISOCurrencyCode,
		Description:       raw.Name,
		Counterparty:      raw.MerchantName,
		Category:          raw.PersonalFinanceCategory.Primary,
		Metadata:          metadata,
	}, nil
}
