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

// xs2aMapper handles direct-credential bank APIs speaking the Berlin Group
// XS2A dialect. Balances arrive as a list of typed balance objects; amounts
// are signed strings with an optional credit/debit indicator.
type xs2aMapper struct{}

type xs2aBalanceAmount struct {
	Currency string `json:"currency"`
	Amount   string `json:"amount"`
}

type xs2aBalance struct {
	BalanceType   string            `json:"balanceType"`
	BalanceAmount xs2aBalanceAmount `json:"balanceAmount"`
}

type xs2aAccount struct {
	ResourceID      string        `json:"resourceId"`
	IBAN            string        `json:"iban"`
	BIC             string        `json:"bic"`
	Name            string        `json:"name"`
	Product         string        `json:"product"`
	CashAccountType string        `json:"cashAccountType"`
	Currency        string        `json:"currency"`
	Status          string        `json:"status"`
	InstitutionID   string        `json:"institutionId"`
	Balances        []xs2aBalance `json:"balances"`
}

type xs2aTransaction struct {
	TransactionID        string            `json:"transactionId"`
	AccountResourceID    string            `json:"accountResourceId"`
	BookingDate          string            `json:"bookingDate"`
	ValueDate            string            `json:"valueDate"`
	TransactionAmount    xs2aBalanceAmount `json:"transactionAmount"`
	CreditDebitIndicator string            `json:"creditDebitIndicator"`
	CreditorName         string            `json:"creditorName"`
	DebtorName           string            `json:"debtorName"`
	CreditorAccount      struct {
		IBAN string `json:"iban"`
	} `json:"creditorAccount"`
	DebtorAccount struct {
		IBAN string `json:"iban"`
	} `json:"debtorAccount"`
	RemittanceInformationUnstructured string `json:"remittanceInformationUnstructured"`
	BankTransactionCode               string `json:"bankTransactionCode"`
}

// ISO 20022 ExternalCashAccountType codes.
var xs2aTypeMap = map[string]string{
	"CACC": account.TypeChecking,
	"TRAN": account.TypeChecking,
	"SVGS": account.TypeSavings,
	"CARD": account.TypeCreditCard,
	"LOAN": account.TypeLoan,
	"MGLD": account.TypeMortgage,
	"SLRY": account.TypeChecking,
}

func xs2aAccountType(code string) string {
	if t, ok := xs2aTypeMap[code]; ok {
		return t
	}
	return account.TypeOther
}

// pickBalance prefers a booked balance over an available one, else takes
// whatever is present.
func pickBalance(balances []xs2aBalance) *xs2aBalance {
	var available *xs2aBalance
	var fallback *xs2aBalance
	for i := range balances {
		b := &balances[i]
		switch b.BalanceType {
		case "closingBooked", "openingBooked", "expected":
			return b
		case "interimAvailable", "available":
			if available == nil {
				available = b
			}
		default:
			if fallback == nil {
				fallback = b
			}
		}
	}
	if available != nil {
		return available
	}
	return fallback
}

func (xs2aMapper) mapAccount(rec rawstore.Record) (*Account, error) {
	var raw xs2aAccount
	if err := json.Unmarshal(rec.Payload, &raw); err != nil {
		return nil, fmt.Errorf("malformed xs2a account payload: %w", err)
	}

	balance := decimal.Zero
	currency := raw.Currency
	if picked := pickBalance(raw.Balances); picked != nil {
		parsed, err := decimal.NewFromString(picked.BalanceAmount.Amount)
		if err != nil {
			return nil, fmt.Errorf("invalid xs2a balance %q: %w", picked.BalanceAmount.Amount, err)
		}
		balance = parsed
		if picked.BalanceAmount.Currency != "" {
			currency = picked.BalanceAmount.Currency
		}
	}

	name := raw.Name
	if name == "" {
		name = raw.Product
	}

	status := account.StatusActive
	if raw.Status == "deleted" || raw.Status == "blocked" {
		status = account.StatusClosed
	}

	return &Account{
		Name:            name,
		AccountType:     xs2aAccountType(raw.CashAccountType),
		Currency:        currency,
		Balance:         balance,
		IBAN:            raw.IBAN,
		BIC:             raw.BIC,
		AccountNumber:   raw.IBAN,
		Status:          status,
		InstitutionID:   raw.InstitutionID,
		InstitutionName: InstitutionName(raw.InstitutionID),
		Metadata:        map[string]string{"cash_account_type": raw.CashAccountType},
	}, nil
}

func (xs2aMapper) mapTransaction(rec rawstore.Record) (*Transaction, error) {
	var raw xs2aTransaction
	if err := json.Unmarshal(rec.Payload, &raw); err != nil {
		return nil, fmt.Errorf("malformed xs2a transaction payload: %w", err)
	}

	amount, err := decimal.NewFromString(raw.TransactionAmount.Amount)
	if err != nil {
		return nil, fmt.Errorf("invalid xs2a amount %q: %w", raw.TransactionAmount.Amount, err)
	}

	// The CRDT/DBIT indicator wins; the amount sign is the fallback for
	// banks that omit it.
	var txType string
	switch raw.CreditDebitIndicator {
	case "CRDT":
		txType = transaction.TypeCredit
	case "DBIT":
		txType = transaction.TypeDebit
	default:
		if amount.IsNegative() {
			txType = transaction.TypeDebit
		} else {
			txType = transaction.TypeCredit
		}
	}

	dateStr := raw.BookingDate
	if dateStr == "" {
		dateStr = raw.ValueDate
	}
	date, err := time.Parse("2006-01-02", dateStr)
	if err != nil {
		return nil, fmt.Errorf("invalid xs2a booking date %q: %w", dateStr, err)
	}

	counterparty := raw.CreditorName
	counterpartyIBAN := raw.CreditorAccount.IBAN
	if txType == transaction.TypeCredit {
		counterparty = raw.DebtorName
		counterpartyIBAN = raw.DebtorAccount.IBAN
	}

	metadata := map[string]string{}
	if raw.BankTransactionCode != "" {
		metadata["bank_transaction_code"] = raw.BankTransactionCode
	}

	return &Transaction{
		ExternalAccountID: raw.AccountResourceID,
		Date:              date.UTC(),
		Amount:            amount.Abs(),
		Type:              txType,
		Currency:          raw.TransactionAmount.Currency,
		Description:       raw.RemittanceInformationUnstructured,
		Counterparty:      counterparty,
		CounterpartyIBAN:  counterpartyIBAN,
		Metadata:          metadata,
	}, nil
}
