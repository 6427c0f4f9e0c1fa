package normalize

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"ledgerline/internal/domain/account"
	"ledgerline/internal/domain/rawstore"
	"ledgerline/internal/domain/transaction"
)

// tinkMapper handles the Tink aggregator family. Amounts arrive as
// {unscaledValue, scale} fixed-point pairs; a negative value is an expense.
type tinkMapper struct{}

type tinkFixedPoint struct {
	UnscaledValue string `json:"unscaledValue"`
	Scale         string `json:"scale"`
}

type tinkAmount struct {
	Value        tinkFixedPoint `json:"value"`
	CurrencyCode string         `json:"currencyCode"`
}

type tinkAccount struct {
	ID                     string `json:"id"`
	Name                   string `json:"name"`
	Type                   string `json:"type"`
	FinancialInstitutionID string `json:"financialInstitutionId"`
	Identifiers            struct {
		IBAN struct {
			IBAN string `json:"iban"`
			BIC  string `json:"bic"`
		} `json:"iban"`
		SortCode struct {
			AccountNumber string `json:"accountNumber"`
		} `json:"sortCode"`
	} `json:"identifiers"`
	Balances struct {
		Booked    *struct{ Amount tinkAmount `json:"amount"` } `json:"booked"`
		Available *struct{ Amount tinkAmount `json:"amount"` } `json:"available"`
	} `json:"balances"`
}

type tinkTransaction struct {
	ID        string     `json:"id"`
	AccountID string     `json:"accountId"`
	Amount    tinkAmount `json:"amount"`
	Dates     struct {
		Booked string `json:"booked"`
		Value  string `json:"value"`
	} `json:"dates"`
	Descriptions struct {
		Display  string `json:"display"`
		Original string `json:"original"`
	} `json:"descriptions"`
	Status     string `json:"status"`
	Categories struct {
		PFM struct {
			Name string `json:"name"`
		} `json:"pfm"`
	} `json:"categories"`
	Counterparties struct {
		Payee struct {
			Name string `json:"name"`
		} `json:"payee"`
		Payer struct {
			Name string `json:"name"`
		} `json:"payer"`
	} `json:"counterparties"`
}

var tinkTypeMap = map[string]string{
	"CHECKING":    account.TypeChecking,
	"SAVINGS":     account.TypeSavings,
	"CREDIT_CARD": account.TypeCreditCard,
	"LOAN":        account.TypeLoan,
	"MORTGAGE":    account.TypeMortgage,
	"INVESTMENT":  account.TypeInvestment,
	"PENSION":     account.TypeRetirement,
}

func tinkAccountType(t string) string {
	if canonical, ok := tinkTypeMap[t]; ok {
		return canonical
	}
	return account.TypeOther
}

// decimalFromFixedPoint builds the exact decimal for {unscaledValue, scale}.
func decimalFromFixedPoint(fp tinkFixedPoint) (decimal.Decimal, error) {
	unscaled, err := strconv.ParseInt(fp.UnscaledValue, 10, 64)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid unscaled value %q: %w", fp.UnscaledValue, err)
	}
	scale, err := strconv.ParseInt(fp.Scale, 10, 32)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid scale %q: %w", fp.Scale, err)
	}
	return decimal.New(unscaled, -int32(scale)), nil
}

func (tinkMapper) mapAccount(rec rawstore.Record) (*Account, error) {
	var raw tinkAccount
	if err := json.Unmarshal(rec.Payload, &raw); err != nil {
		return nil, fmt.Errorf("malformed tink account payload: %w", err)
	}

	// Booked wins over available when both exist.
	var amount *tinkAmount
	if raw.Balances.Booked != nil {
		amount = &raw.Balances.Booked.Amount
	} else if raw.Balances.Available != nil {
		amount = &raw.Balances.Available.Amount
	}

	balance := decimal.Zero
	currency := ""
	if amount != nil {
		parsed, err := decimalFromFixedPoint(amount.Value)
		if err != nil {
			return nil, fmt.Errorf("invalid tink balance: %w", err)
		}
		balance = parsed
		currency = amount.CurrencyCode
	}

	return &Account{
		Name:            raw.Name,
		AccountType:     tinkAccountType(raw.Type),
		Currency:        currency,
		Balance:         balance,
		IBAN:            raw.Identifiers.IBAN.IBAN,
		BIC:             raw.Identifiers.IBAN.BIC,
		AccountNumber:   raw.Identifiers.SortCode.AccountNumber,
		InstitutionID:   raw.FinancialInstitutionID,
		InstitutionName: InstitutionName(raw.FinancialInstitutionID),
		Metadata:        map[string]string{"tink_type": raw.Type},
	}, nil
}

func (tinkMapper) mapTransaction(rec rawstore.Record) (*Transaction, error) {
	var raw tinkTransaction
	if err := json.Unmarshal(rec.Payload, &raw); err != nil {
		return nil, fmt.Errorf("malformed tink transaction payload: %w", err)
	}

	amount, err := decimalFromFixedPoint(raw.Amount.Value)
	if err != nil {
		return nil, fmt.Errorf("invalid tink amount: %w", err)
	}

	// Tink: negative = expense (money out).
	txType := transaction.TypeCredit
	if amount.IsNegative() {
		txType = transaction.TypeDebit
	}

	dateStr := raw.Dates.Booked
	if dateStr == "" {
		dateStr = raw.Dates.Value
	}
	date, err := time.Parse("2006-01-02", dateStr)
	if err != nil {
		return nil, fmt.Errorf("invalid tink date %q: %w", dateStr, err)
	}

	description := raw.Descriptions.Display
	if description == "" {
		description = raw.Descriptions.Original
	}

	counterparty := raw.Counterparties.Payee.Name
	if txType == transaction.TypeCredit {
		counterparty = raw.Counterparties.Payer.Name
	}

	metadata := map[string]string{}
	if raw.Status != "" {
		metadata["tink_status"] = raw.Status
	}

	return &Transaction{
		ExternalAccountID: raw.AccountID,
		Date:              date.UTC(),
		Amount:            amount.Abs(),
		Type:              txType,
		Currency:          raw.Amount.CurrencyCode,
		Description:       description,
		Counterparty:      counterparty,
		Category:          raw.Categories.PFM.Name,
		Metadata:          metadata,
	}, nil
}
