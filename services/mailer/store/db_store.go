package store

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"pulsar-mailer/services/mailer/models"
	"pulsar-mailer/shared/database"
	"pulsar-mailer/shared/logger"

	"gorm.io/gorm/clause"
)

// cursorStateKey is the send-state ledger key holding the resumption
// cursor (last processed contact id).
const cursorStateKey = "mailer:last_contact_id"

// DBStore is the relational recipient backend. Eligibility (not yet
// sent, not unsubscribed, not bounced) is resolved in a single query so
// a concurrent unsubscribe write between fetch and send cannot slip a
// recipient through.
type DBStore struct {
	db          *database.DB
	log         *logger.Logger
	sourceQuery string
	queryExtras []interface{}

	// rawCursor tracks the last raw contact id handed out by the query,
	// malformed rows included, so passed-over rows are never refetched
	// within a run. It is seeded from the persisted state on first use.
	rawCursor    uint64
	cursorLoaded bool
	malformed    int
}

// DBStoreOption customizes a DBStore
type DBStoreOption func(*DBStore)

// WithSourceQuery replaces the built-in eligibility query with an
// operator-supplied one. The query may use $1 (cursor) and $2 (limit)
// positional placeholders plus {{...}} inline placeholders bound to
// extras, and is normalized before execution.
func WithSourceQuery(query string, extras ...interface{}) DBStoreOption {
	return func(s *DBStore) {
		s.sourceQuery = query
		s.queryExtras = extras
	}
}

// NewDBStore opens the relational recipient source. A missing contacts
// table fails fast with ErrSourceNotFound before any send attempt.
func NewDBStore(db *database.DB, log *logger.Logger, opts ...DBStoreOption) (*DBStore, error) {
	if !db.Migrator().HasTable(&models.Contact{}) {
		return nil, fmt.Errorf("%w: contacts table does not exist", ErrSourceNotFound)
	}

	// The ledger table belongs to the mailer and is created on demand.
	if err := db.AutoMigrate(&models.SendState{}); err != nil {
		return nil, fmt.Errorf("failed to migrate send state table: %w", err)
	}

	s := &DBStore{
		db:  db,
		log: log,
	}
	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// FetchBatch returns up to limit eligible contacts ordered by id
// ascending, starting after the resumption cursor. Contacts already
// sent, unsubscribed or bounced (case-insensitive, trimmed email match)
// are excluded by the query itself. Contacts without a usable email are
// counted and passed over without shrinking the batch, so a short
// result always means the source is drained.
func (s *DBStore) FetchBatch(limit int) ([]models.Recipient, error) {
	if err := s.loadCursor(); err != nil {
		return nil, err
	}

	recipients := make([]models.Recipient, 0, limit)
	for len(recipients) < limit {
		remaining := limit - len(recipients)
		contacts, err := s.fetchContacts(remaining)
		if err != nil {
			return nil, err
		}
		if len(contacts) == 0 {
			break
		}

		progressed := false
		for _, contact := range contacts {
			if uint64(contact.ID) > s.rawCursor {
				s.rawCursor = uint64(contact.ID)
				progressed = true
			}

			email := strings.TrimSpace(contact.Email)
			if email == "" {
				s.malformed++
				s.log.WithField("contact_id", contact.ID).Warn("Skipping contact without email")
				continue
			}
			recipients = append(recipients, models.Recipient{
				ID:         strconv.FormatUint(uint64(contact.ID), 10),
				Email:      email,
				Attributes: contactAttributes(contact),
			})
		}

		// A query that never advances the cursor would refetch the same
		// rows forever; a short page means nothing is left past it.
		if !progressed || len(contacts) < remaining {
			break
		}
	}

	return recipients, nil
}

func (s *DBStore) fetchContacts(limit int) ([]models.Contact, error) {
	var contacts []models.Contact

	if s.sourceQuery != "" {
		params := append([]interface{}{s.rawCursor, limit}, s.queryExtras...)
		query, ordered, err := Normalize(s.sourceQuery, params)
		if err != nil {
			return nil, fmt.Errorf("invalid source query: %w", err)
		}
		if err := s.db.Raw(query, ordered...).Scan(&contacts).Error; err != nil {
			return nil, fmt.Errorf("failed to run source query: %w", err)
		}
		return contacts, nil
	}

	unsubscribed := s.db.Model(&models.Unsubscribe{}).Select("LOWER(TRIM(email))")
	bounced := s.db.Model(&models.Bounce{}).Select("LOWER(TRIM(email))")

	err := s.db.
		Where("sent_at IS NULL").
		Where("id > ?", s.rawCursor).
		Where("LOWER(TRIM(email)) NOT IN (?)", unsubscribed).
		Where("LOWER(TRIM(email)) NOT IN (?)", bounced).
		Order("id ASC").
		Limit(limit).
		Find(&contacts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch contacts: %w", err)
	}
	return contacts, nil
}

// RecordOutcome persists the recipient's terminal state on its contact
// row. Database writes are immediate, no buffering is involved.
func (s *DBStore) RecordOutcome(recipient models.Recipient, outcome models.Outcome) error {
	id, err := strconv.ParseUint(recipient.ID, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrUnknownRecipient, recipient.ID)
	}

	var updates map[string]interface{}
	now := time.Now()
	switch outcome {
	case models.OutcomeSent:
		updates = map[string]interface{}{"sent_at": now, "failed_at": nil, "last_error": ""}
	case models.OutcomeFailed:
		updates = map[string]interface{}{"failed_at": now}
	case models.OutcomeSkippedUnsubscribed, models.OutcomeSkippedBounced:
		// Excluded at fetch time, nothing to write.
		return nil
	default:
		return fmt.Errorf("unknown outcome %q for recipient %s", outcome, recipient.Email)
	}

	result := s.db.Model(&models.Contact{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to record outcome: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: contact %d", ErrUnknownRecipient, id)
	}
	return nil
}

// SkippedMalformed reports contacts dropped for a missing email field
func (s *DBStore) SkippedMalformed() int {
	return s.malformed
}

// IgnoredCounts reports how many not-yet-sent contacts are excluded as
// unsubscribed or bounced. Addresses on both lists count as
// unsubscribed only.
func (s *DBStore) IgnoredCounts() (unsubscribed int64, bounced int64, err error) {
	unsubList := s.db.Model(&models.Unsubscribe{}).Select("LOWER(TRIM(email))")
	bounceList := s.db.Model(&models.Bounce{}).Select("LOWER(TRIM(email))")

	err = s.db.Model(&models.Contact{}).
		Where("sent_at IS NULL").
		Where("LOWER(TRIM(email)) IN (?)", unsubList).
		Count(&unsubscribed).Error
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count unsubscribed contacts: %w", err)
	}

	err = s.db.Model(&models.Contact{}).
		Where("sent_at IS NULL").
		Where("LOWER(TRIM(email)) IN (?)", bounceList).
		Where("LOWER(TRIM(email)) NOT IN (?)", unsubList).
		Count(&bounced).Error
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count bounced contacts: %w", err)
	}

	return unsubscribed, bounced, nil
}

// Checkpoint records the resumption cursor after a fully recorded batch
func (s *DBStore) Checkpoint(lastRecipientID string) error {
	return s.SetState(cursorStateKey, lastRecipientID)
}

// ResetCursor clears the resumption cursor, typically after a run
// drained the source.
func (s *DBStore) ResetCursor() error {
	s.rawCursor = 0
	return s.ClearState(cursorStateKey)
}

// GetState reads a send-state ledger value. A missing key returns an
// empty string and no error.
func (s *DBStore) GetState(key string) (string, error) {
	var state models.SendState
	result := s.db.Limit(1).Find(&state, "state_key = ?", key)
	if result.Error != nil {
		return "", fmt.Errorf("failed to read send state %q: %w", key, result.Error)
	}
	if result.RowsAffected == 0 {
		return "", nil
	}
	return state.StateValue, nil
}

// SetState upserts a send-state ledger value, keeping at most one row
// per key.
func (s *DBStore) SetState(key, value string) error {
	state := models.SendState{
		StateKey:   key,
		StateValue: value,
		UpdatedAt:  time.Now(),
	}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "state_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"state_value", "updated_at"}),
	}).Create(&state).Error
	if err != nil {
		return fmt.Errorf("failed to set send state %q: %w", key, err)
	}
	return nil
}

// ClearState removes a send-state ledger value
func (s *DBStore) ClearState(key string) error {
	if err := s.db.Delete(&models.SendState{}, "state_key = ?", key).Error; err != nil {
		return fmt.Errorf("failed to clear send state %q: %w", key, err)
	}
	return nil
}

// Flush is a no-op: relational writes are durable as they happen
func (s *DBStore) Flush() error {
	return nil
}

// Close releases nothing: the caller owns the database handle
func (s *DBStore) Close() error {
	return nil
}

func (s *DBStore) loadCursor() error {
	if s.cursorLoaded {
		return nil
	}
	value, err := s.GetState(cursorStateKey)
	if err != nil {
		return err
	}
	if value != "" {
		cursor, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			s.log.WithField("cursor", value).Warn("Ignoring unparseable resumption cursor")
		} else {
			s.rawCursor = cursor
		}
	}
	s.cursorLoaded = true
	return nil
}

func contactAttributes(contact models.Contact) map[string]string {
	attrs := map[string]string{
		"email": strings.TrimSpace(contact.Email),
	}
	if contact.Name != "" {
		attrs["nome"] = contact.Name
	}
	if contact.Attributes != "" {
		var extra map[string]string
		if err := json.Unmarshal([]byte(contact.Attributes), &extra); err == nil {
			for k, v := range extra {
				attrs[k] = v
			}
		}
	}
	return attrs
}
