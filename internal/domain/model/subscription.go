package model

import "time"

type SubscriptionStatus string

const (
	SubscriptionStatusPending   SubscriptionStatus = "pending"
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusExpired   SubscriptionStatus = "expired"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
)

// SubscriptionRecord is the server-side subscription entity. This process
// only reads and polls it; all mutation happens on the server.
type SubscriptionRecord struct {
	ID        string             `json:"id"`
	TierID    string             `json:"tierId"`
	Price     int64              `json:"price"` // lovelace
	Status    SubscriptionStatus `json:"status"`
	StartDate time.Time          `json:"startDate"`
	EndDate   time.Time          `json:"endDate"`
}

// Settled reports whether the record represents a completed payment whose
// term has not lapsed yet.
func (r *SubscriptionRecord) Settled(now time.Time) bool {
	return r.Status == SubscriptionStatusActive && now.Before(r.EndDate)
}

// SubscriptionRequest is ephemeral per purchase attempt and discarded once
// the attempt reaches a terminal outcome.
type SubscriptionRequest struct {
	TierID      string
	RequestedAt time.Time
}
