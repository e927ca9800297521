package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AlertStatus is the delivery state of one queued alert.
type AlertStatus string

const (
	AlertStatusPending AlertStatus = "pending"
	AlertStatusSent    AlertStatus = "sent"
	AlertStatusFailed  AlertStatus = "failed"
	AlertStatusDead    AlertStatus = "dead"
)

// Terminal reports whether the status admits no further transitions.
func (s AlertStatus) Terminal() bool {
	return s == AlertStatusSent || s == AlertStatusFailed || s == AlertStatusDead
}

// Alert is one queued notification for one user about one opportunity.
// Unique per (UserID, OpportunityID); created by the dispatcher, mutated only
// by the delivery worker.
type Alert struct {
	ID            string
	UserID        string
	OpportunityID string
	Status        AlertStatus
	Attempts      int
	NextAttemptAt time.Time
	LastError     string
	// LastValue is the net profit included in the most recent delivery, used
	// to damp re-alerts on metric refreshes.
	LastValue *decimal.Decimal
	CreatedAt time.Time
	SentAt    *time.Time
}

// Subscriber is a user eligible to receive opportunity alerts. UserID doubles
// as the Telegram chat ID, matching the delivery transport.
type Subscriber struct {
	UserID       string
	Subscribed   bool
	MinProfitUSD decimal.Decimal
	CreatedAt    time.Time
}
