package store

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"pulsar-mailer/services/mailer/models"
	"pulsar-mailer/shared/logger"
)

const (
	csvColumnEmail  = "email"
	csvColumnSent   = "enviado"
	csvColumnFailed = "falhou"

	// BackupSuffix is appended to the source path for the pre-run copy.
	BackupSuffix = ".bak"

	defaultCheckpointInterval = 30 * time.Second
)

// CSVStore is the flat-file recipient backend. The whole file is held
// in memory for the run; outcome flags are written back with an atomic
// tmp-write-then-rename, and a pre-run backup copy is kept next to the
// source until Cleanup is called.
type CSVStore struct {
	log             *logger.Logger
	path            string
	backupPath      string
	header          []string
	rows            [][]string
	emailCol        int
	sentCol         int
	failedCol       int
	cursor          int
	malformed       int
	dirty           bool
	lastCheckpoint  time.Time
	checkpointEvery time.Duration
}

// CSVStoreOption customizes a CSVStore
type CSVStoreOption func(*CSVStore)

// WithCheckpointInterval overrides the time-based checkpoint interval
func WithCheckpointInterval(interval time.Duration) CSVStoreOption {
	return func(s *CSVStore) {
		s.checkpointEvery = interval
	}
}

// NewCSVStore opens the contacts file, writes the pre-run backup copy
// and prepares the outcome columns. A missing file fails fast with
// ErrSourceNotFound before any send attempt.
func NewCSVStore(path string, log *logger.Logger, opts ...CSVStoreOption) (*CSVStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, path)
		}
		return nil, fmt.Errorf("failed to read contacts file: %w", err)
	}

	reader := csv.NewReader(strings.NewReader(string(data)))
	reader.FieldsPerRecord = -1 // rows may be ragged, missing cells read as empty
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse contacts file: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("contacts file %s has no header row", path)
	}

	s := &CSVStore{
		log:             log,
		path:            path,
		backupPath:      path + BackupSuffix,
		header:          records[0],
		rows:            records[1:],
		checkpointEvery: defaultCheckpointInterval,
		lastCheckpoint:  time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.emailCol = s.columnIndex(csvColumnEmail)
	if s.emailCol < 0 {
		return nil, fmt.Errorf("contacts file %s is missing the required %q column", path, csvColumnEmail)
	}
	s.sentCol = s.ensureColumn(csvColumnSent)
	s.failedCol = s.ensureColumn(csvColumnFailed)

	// Pre-run backup, retained until Cleanup.
	if err := os.WriteFile(s.backupPath, data, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write backup file: %w", err)
	}

	log.WithFields(map[string]interface{}{
		"path":   path,
		"rows":   len(s.rows),
		"backup": s.backupPath,
	}).Info("Contacts file loaded")

	return s, nil
}

// FetchBatch returns up to limit eligible recipients in file order.
// Rows already flagged as sent are excluded; rows without a usable
// email are skipped and counted, never fatal.
func (s *CSVStore) FetchBatch(limit int) ([]models.Recipient, error) {
	// Outcomes from the previous batch must be durable before more
	// recipients are handed out.
	if err := s.Flush(); err != nil {
		return nil, err
	}

	var batch []models.Recipient
	for ; s.cursor < len(s.rows) && len(batch) < limit; s.cursor++ {
		row := s.rows[s.cursor]

		email := strings.TrimSpace(s.cell(row, s.emailCol))
		if email == "" {
			s.malformed++
			s.log.WithField("row", s.cursor+2).Warn("Skipping row without email")
			continue
		}
		if s.cell(row, s.sentCol) != "" {
			continue
		}

		batch = append(batch, models.Recipient{
			ID:         strconv.Itoa(s.cursor),
			Email:      email,
			Attributes: s.rowAttributes(row),
		})
	}

	return batch, nil
}

// RecordOutcome flags the recipient's row. The flag reaches disk on the
// next checkpoint, flush or fetch, whichever comes first.
func (s *CSVStore) RecordOutcome(recipient models.Recipient, outcome models.Outcome) error {
	idx, err := strconv.Atoi(recipient.ID)
	if err != nil || idx < 0 || idx >= len(s.rows) {
		return fmt.Errorf("%w: %s", ErrUnknownRecipient, recipient.ID)
	}

	switch outcome {
	case models.OutcomeSent:
		s.setCell(idx, s.sentCol, "1")
		s.setCell(idx, s.failedCol, "")
	case models.OutcomeFailed:
		s.setCell(idx, s.failedCol, "1")
	case models.OutcomeSkippedUnsubscribed, models.OutcomeSkippedBounced:
		// Never attempted, the row keeps its flags.
	default:
		return fmt.Errorf("unknown outcome %q for recipient %s", outcome, recipient.Email)
	}

	s.dirty = true
	if time.Since(s.lastCheckpoint) >= s.checkpointEvery {
		return s.Flush()
	}
	return nil
}

// SkippedMalformed reports rows dropped for a missing email field
func (s *CSVStore) SkippedMalformed() int {
	return s.malformed
}

// Flush writes the current state atomically: the new version goes to a
// temp path, is synced, then renamed over the original. The pre-run
// backup stays untouched.
func (s *CSVStore) Flush() error {
	if !s.dirty {
		return nil
	}

	tmpPath := s.path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create temp contacts file: %w", err)
	}

	writer := csv.NewWriter(f)
	if err := writer.Write(s.header); err != nil {
		f.Close()
		return fmt.Errorf("failed to write contacts header: %w", err)
	}
	for i := range s.rows {
		s.padRow(i)
		if err := writer.Write(s.rows[i]); err != nil {
			f.Close()
			return fmt.Errorf("failed to write contacts row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		f.Close()
		return fmt.Errorf("failed to flush contacts file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("failed to sync contacts file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close contacts file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("failed to replace contacts file: %w", err)
	}

	s.dirty = false
	s.lastCheckpoint = time.Now()
	return nil
}

// Close flushes any pending state
func (s *CSVStore) Close() error {
	return s.Flush()
}

// Cleanup removes the pre-run backup copy. Callers invoke it only after
// a fully successful run.
func (s *CSVStore) Cleanup() error {
	if err := os.Remove(s.backupPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove backup file: %w", err)
	}
	return nil
}

// BackupPath returns the location of the pre-run backup copy
func (s *CSVStore) BackupPath() string {
	return s.backupPath
}

func (s *CSVStore) columnIndex(name string) int {
	for i, col := range s.header {
		if strings.EqualFold(strings.TrimSpace(col), name) {
			return i
		}
	}
	return -1
}

func (s *CSVStore) ensureColumn(name string) int {
	if idx := s.columnIndex(name); idx >= 0 {
		return idx
	}
	s.header = append(s.header, name)
	s.dirty = true
	return len(s.header) - 1
}

func (s *CSVStore) cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func (s *CSVStore) setCell(rowIdx, colIdx int, value string) {
	s.padRow(rowIdx)
	s.rows[rowIdx][colIdx] = value
}

func (s *CSVStore) padRow(rowIdx int) {
	for len(s.rows[rowIdx]) < len(s.header) {
		s.rows[rowIdx] = append(s.rows[rowIdx], "")
	}
}

func (s *CSVStore) rowAttributes(row []string) map[string]string {
	attrs := make(map[string]string, len(s.header))
	for i, col := range s.header {
		name := strings.TrimSpace(col)
		if name == csvColumnSent || name == csvColumnFailed {
			continue
		}
		attrs[name] = s.cell(row, i)
	}
	return attrs
}
