package models

import (
	"time"

	"pulsar-mailer/shared/models"
)

// Outcome represents the terminal disposition of one recipient for one run
type Outcome string

const (
	OutcomeSent                Outcome = "sent"
	OutcomeFailed              Outcome = "failed"
	OutcomeSkippedUnsubscribed Outcome = "skipped_unsubscribed"
	OutcomeSkippedBounced      Outcome = "skipped_bounced"
)

// Recipient represents one eligible contact materialized for a run.
// It is never mutated in place; its outcome is recorded back to the
// store as a separate write.
type Recipient struct {
	ID         string
	Email      string
	Attributes map[string]string
}

// RunCounters accumulates per-run delivery statistics. Only the batch
// worker mutates it; the report generator consumes it read-only.
type RunCounters struct {
	TotalSent           int
	Successful          int
	Failed              int
	IgnoredUnsubscribed int
	IgnoredBounces      int
	SkippedMalformed    int
	StartTime           time.Time
	EndTime             time.Time
}

// Contact represents a contact row in the relational recipient source
type Contact struct {
	models.BaseModel
	Email      string     `gorm:"uniqueIndex;not null;size:255" json:"email"`
	Name       string     `gorm:"size:255" json:"name,omitempty"`
	Attributes string     `gorm:"type:text" json:"attributes,omitempty"` // JSON object of template variables
	SentAt     *time.Time `gorm:"index" json:"sent_at,omitempty"`
	FailedAt   *time.Time `json:"failed_at,omitempty"`
	LastError  string     `gorm:"type:text" json:"last_error,omitempty"`
}

// Unsubscribe represents an opt-out written by the unsubscribe endpoint.
// Email is stored lowercased and trimmed.
type Unsubscribe struct {
	models.BaseModel
	Email  string `gorm:"uniqueIndex;not null;size:255" json:"email"`
	Source string `gorm:"size:50" json:"source,omitempty"` // link, webhook, manual
}

// Bounce represents a delivery bounce recorded by the bounce webhook.
// Email is stored lowercased and trimmed.
type Bounce struct {
	models.BaseModel
	Email  string `gorm:"uniqueIndex;not null;size:255" json:"email"`
	Reason string `gorm:"type:text" json:"reason,omitempty"`
}

// SendState is the persistent key/value ledger used for resumption
// cursors. At most one row exists per key.
type SendState struct {
	StateKey   string    `gorm:"primarykey;size:100" json:"state_key"`
	StateValue string    `gorm:"type:text" json:"state_value"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Event holds metadata pulled from the ticketing API that feeds
// template placeholders.
type Event struct {
	Name      string `json:"name"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	City      string `json:"city"`
	State     string `json:"state"`
	Venue     string `json:"venue"`
	Coupon    string `json:"coupon"`
	Link      string `json:"link"`
}
