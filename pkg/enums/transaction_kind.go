package enums

// TransactionKind classifies an external payment event.
type TransactionKind string

const (
	TransactionAuthorization TransactionKind = "authorization"
	TransactionCapture       TransactionKind = "capture"
	TransactionSale          TransactionKind = "sale"
	TransactionVoid          TransactionKind = "void"
	TransactionRefund        TransactionKind = "refund"
	TransactionOther         TransactionKind = "other"
)

var validTransactionKinds = []TransactionKind{
	TransactionAuthorization,
	TransactionCapture,
	TransactionSale,
	TransactionVoid,
	TransactionRefund,
	TransactionOther,
}

// IsValid reports whether the value matches the canonical transaction kind.
func (k TransactionKind) IsValid() bool {
	for _, candidate := range validTransactionKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

// ParseTransactionKind normalizes raw platform input; unknown kinds fall
// back to "other" rather than failing the payment import.
func ParseTransactionKind(value string) TransactionKind {
	for _, candidate := range validTransactionKinds {
		if string(candidate) == value {
			return candidate
		}
	}
	return TransactionOther
}
