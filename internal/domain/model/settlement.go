package model

// MinWalletFee is the minimum transaction amount the wallet network accepts:
// 1 ADA expressed in lovelace.
const MinWalletFee int64 = 1_000_000

// WalletFee computes the amount requested from the wallet when the account
// balance cannot cover the tier price.
func WalletFee(price int64) int64 {
	if price > MinWalletFee {
		return price
	}
	return MinWalletFee
}

type SettlementOutcome string

const (
	SettlementInProgress      SettlementOutcome = "in-progress"
	SettlementPaidFromBalance SettlementOutcome = "paid-from-balance"
	SettlementPaidFromWallet  SettlementOutcome = "paid-from-wallet"
	SettlementFailed          SettlementOutcome = "failed"
)

// Terminal reports whether the outcome ends the attempt.
func (o SettlementOutcome) Terminal() bool {
	return o == SettlementPaidFromBalance || o == SettlementPaidFromWallet || o == SettlementFailed
}

// SettlementAttempt tracks a single purchase attempt from subscription
// creation to a terminal outcome. At most one attempt is in progress per
// subscription request; the attempt is discarded once terminal.
type SettlementAttempt struct {
	ID             string            `json:"id"`
	SubscriptionID string            `json:"subscriptionId"`
	FeeLovelace    int64             `json:"feeLovelace,omitempty"`
	TransactionID  string            `json:"transactionId,omitempty"`
	Outcome        SettlementOutcome `json:"outcome"`
}
