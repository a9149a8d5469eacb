package domain

import (
	"strings"
	"time"
)

type TransactionType uint8

const (
	TransactionTypeUnknown TransactionType = iota
	TransactionTypeCheckout
	TransactionTypeCheckin
	TransactionTypeRestock
	TransactionTypeDiscard
)

var transactionTypeNames = map[TransactionType]string{
	TransactionTypeCheckout: "checkout",
	TransactionTypeCheckin:  "checkin",
	TransactionTypeRestock:  "restock",
	TransactionTypeDiscard:  "discard",
}

// transactionSigns is the only place that decides which direction a type moves stock.
var transactionSigns = map[TransactionType]int{
	TransactionTypeCheckout: -1,
	TransactionTypeCheckin:  +1,
	TransactionTypeRestock:  +1,
	TransactionTypeDiscard:  -1,
}

func ParseTransactionType(s string) (TransactionType, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for t, n := range transactionTypeNames {
		if n == name {
			return t, nil
		}
	}
	return TransactionTypeUnknown, ErrUnknownTransactionType
}

func (t TransactionType) String() string {
	if n, ok := transactionTypeNames[t]; ok {
		return n
	}
	return "unknown"
}

func (t TransactionType) Valid() bool {
	_, ok := transactionSigns[t]
	return ok
}

// Sign returns +1 for types that add stock, -1 for types that remove it and 0 for unknown types.
func (t TransactionType) Sign() int {
	return transactionSigns[t]
}

// Delta is the signed change in on-hand quantity for the given positive quantity.
func (t TransactionType) Delta(quantity int) int {
	return t.Sign() * quantity
}

func (t TransactionType) Removes() bool {
	return t.Sign() < 0
}

func (t TransactionType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *TransactionType) UnmarshalText(b []byte) error {
	parsed, err := ParseTransactionType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func TransactionTypes() []TransactionType {
	return []TransactionType{
		TransactionTypeCheckout,
		TransactionTypeCheckin,
		TransactionTypeRestock,
		TransactionTypeDiscard,
	}
}

// Transaction is immutable once committed. Corrections are new transactions.
type Transaction struct {
	ID            int64
	Ref           string
	ItemID        int64
	Type          TransactionType
	Quantity      int
	Delta         int
	QuantityAfter int
	ActorID       int64 // 0 when no person is attached
	Notes         string
	OccurredAt    time.Time
}

type TransactionQuery struct {
	ItemID   int64
	Type     TransactionType
	Since    time.Time
	Until    time.Time
	BeforeID int64
	Limit    int
}

// Matches reports whether t satisfies every filter set on q. Limit is left to the caller.
func (q TransactionQuery) Matches(t Transaction) bool {
	if q.ItemID != 0 && t.ItemID != q.ItemID {
		return false
	}
	if q.Type != TransactionTypeUnknown && t.Type != q.Type {
		return false
	}
	if !q.Since.IsZero() && t.OccurredAt.Before(q.Since) {
		return false
	}
	if !q.Until.IsZero() && !t.OccurredAt.Before(q.Until) {
		return false
	}
	if q.BeforeID != 0 && t.ID >= q.BeforeID {
		return false
	}
	return true
}

// Commit is the unit a LedgerRepository applies atomically: the item quantity swap guarded by
// ExpectedVersion together with the append of Transaction.
type Commit struct {
	ExpectedVersion int
	NewQuantity     int
	Transaction     Transaction
}
