package repository

import (
	"fmt"

	"pulsar-mailer/services/mailer/models"
	"pulsar-mailer/shared/database"
	"pulsar-mailer/shared/tokens"

	"gorm.io/gorm/clause"
)

// LedgerRepository defines the write path into the ledger the batch
// mailer reads from. Emails are normalized (lowercased, trimmed) before
// every write so the mailer's exclusion match works directly.
type LedgerRepository interface {
	RecordUnsubscribe(email, source string) error
	RecordBounce(email, reason string) error
}

// ledgerRepository implements LedgerRepository
type ledgerRepository struct {
	db *database.DB
}

// NewLedgerRepository creates a new ledger repository
func NewLedgerRepository(db *database.DB) LedgerRepository {
	return &ledgerRepository{db: db}
}

// RecordUnsubscribe records an opt-out. Repeated unsubscribes for the
// same address are idempotent.
func (r *ledgerRepository) RecordUnsubscribe(email, source string) error {
	entry := models.Unsubscribe{
		Email:  tokens.NormalizeEmail(email),
		Source: source,
	}
	err := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "email"}},
		DoNothing: true,
	}).Create(&entry).Error
	if err != nil {
		return fmt.Errorf("failed to record unsubscribe: %w", err)
	}
	return nil
}

// RecordBounce records a delivery bounce reported by the provider
func (r *ledgerRepository) RecordBounce(email, reason string) error {
	entry := models.Bounce{
		Email:  tokens.NormalizeEmail(email),
		Reason: reason,
	}
	err := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "email"}},
		DoNothing: true,
	}).Create(&entry).Error
	if err != nil {
		return fmt.Errorf("failed to record bounce: %w", err)
	}
	return nil
}
