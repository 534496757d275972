// README: Payment records settling an order's balance.
package order

import (
	"fmt"
	"strings"
	"time"

	"floortwin/internal/types"
)

type PaymentMethod string

const (
	MethodCash   PaymentMethod = "CASH"
	MethodCard   PaymentMethod = "CARD"
	MethodUPI    PaymentMethod = "UPI"
	MethodWallet PaymentMethod = "WALLET"
	MethodSplit  PaymentMethod = "SPLIT"
)

type PaymentStatus string

const (
	PaymentSuccess  PaymentStatus = "SUCCESS"
	PaymentFailed   PaymentStatus = "FAILED"
	PaymentRefunded PaymentStatus = "REFUNDED"
)

type Payment struct {
	ID            types.ID      `json:"id"`
	OrderID       types.ID      `json:"order_id"`
	Amount        types.Money   `json:"amount"`
	Tip           types.Money   `json:"tip"`
	Method        PaymentMethod `json:"method"`
	Status        PaymentStatus `json:"status"`
	TransactionID string        `json:"transaction_id,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
}

func ParseMethod(v string) (PaymentMethod, error) {
	if v == "" {
		return MethodCash, nil
	}
	m := PaymentMethod(strings.ToUpper(strings.TrimSpace(v)))
	switch m {
	case MethodCash, MethodCard, MethodUPI, MethodWallet, MethodSplit:
		return m, nil
	}
	return "", fmt.Errorf("unknown payment method %q", v)
}
