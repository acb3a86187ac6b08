package store

import (
	"errors"

	"pulsar-mailer/services/mailer/models"
)

// Sentinel errors for the store error taxonomy. Callers classify them
// with errors.Is.
var (
	// ErrSourceNotFound means the contacts file or table does not exist.
	// It is fatal before any send attempt.
	ErrSourceNotFound = errors.New("recipient source not found")

	// ErrUnknownRecipient means an outcome was recorded for a recipient
	// the store never produced.
	ErrUnknownRecipient = errors.New("unknown recipient")
)

// RecipientStore abstracts the recipient source for a batch run: fetch
// the next batch of eligible contacts and durably record per-recipient
// outcomes. Implementations are owned exclusively by the single
// orchestrator process for the run's duration.
type RecipientStore interface {
	// FetchBatch returns up to limit eligible recipients in a
	// deterministic order. Recipients already marked sent never
	// reappear; an empty result means the source is exhausted.
	FetchBatch(limit int) ([]models.Recipient, error)

	// RecordOutcome records the terminal disposition of one recipient.
	// The write is durable before the next FetchBatch returns.
	RecordOutcome(recipient models.Recipient, outcome models.Outcome) error

	// SkippedMalformed reports how many rows were dropped so far for
	// missing a usable email field.
	SkippedMalformed() int

	// Flush forces any buffered state to durable storage. Used by the
	// interrupt-signal path.
	Flush() error

	// Close flushes and releases the underlying resource.
	Close() error
}
