package enums

import "fmt"

// TransactionType classifies balance ledger entries.
type TransactionType string

const (
	TransactionTypeTopUp          TransactionType = "topup"
	TransactionTypeOrder          TransactionType = "order"
	TransactionTypeRefund         TransactionType = "refund"
	TransactionTypeAdjustment     TransactionType = "adjustment"
	TransactionTypeExternal       TransactionType = "external"
	TransactionTypeReconciliation TransactionType = "reconciliation"
)

var validTransactionTypes = []TransactionType{
	TransactionTypeTopUp,
	TransactionTypeOrder,
	TransactionTypeRefund,
	TransactionTypeAdjustment,
	TransactionTypeExternal,
	TransactionTypeReconciliation,
}

// IsValid reports whether the value matches a known transaction type.
func (t TransactionType) IsValid() bool {
	for _, candidate := range validTransactionTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseTransactionType converts raw input into TransactionType.
func ParseTransactionType(value string) (TransactionType, error) {
	for _, candidate := range validTransactionTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid transaction type %q", value)
}
