package worker

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"pulsar-mailer/services/mailer/models"
	"pulsar-mailer/services/mailer/report"
	"pulsar-mailer/services/mailer/smtp"
	"pulsar-mailer/services/mailer/store"
	"pulsar-mailer/services/mailer/template"
	"pulsar-mailer/shared/logger"
)

// ErrInterrupted means the run was stopped by a process signal after
// flushing the store.
var ErrInterrupted = errors.New("run interrupted by signal")

// Transport is the subset of the SMTP transport the worker drives
type Transport interface {
	Connect() error
	Send(to, subject, body string, isHTML bool) error
	Close() error
}

// IgnoredCounter is implemented by stores that can report how many
// recipients were excluded as unsubscribed or bounced.
type IgnoredCounter interface {
	IgnoredCounts() (unsubscribed int64, bounced int64, err error)
}

// Checkpointer is implemented by stores that persist a resumption
// cursor between runs.
type Checkpointer interface {
	Checkpoint(lastRecipientID string) error
	ResetCursor() error
}

// Config holds batch worker configuration
type Config struct {
	Subject      string
	TemplatePath string
	BatchSize    int
	BatchDelay   time.Duration
}

// Worker is the batch orchestrator. It runs the single-pass state
// machine: fetch a batch, render and send each recipient sequentially,
// record every outcome, then loop until the source drains. Every run
// terminates with either a success report or an error report.
type Worker struct {
	store     store.RecipientStore
	transport Transport
	reports   *report.Generator
	links     *template.LinkBuilder
	event     *models.Event
	config    *Config
	log       *logger.Logger
	counters  models.RunCounters
	sigChan   chan os.Signal
}

// NewWorker creates a batch worker. event may be nil when no event
// metadata is configured.
func NewWorker(
	recipients store.RecipientStore,
	transport Transport,
	reports *report.Generator,
	links *template.LinkBuilder,
	event *models.Event,
	config *Config,
	log *logger.Logger,
) *Worker {
	return &Worker{
		store:     recipients,
		transport: transport,
		reports:   reports,
		links:     links,
		event:     event,
		config:    config,
		log:       log,
		sigChan:   make(chan os.Signal, 1),
	}
}

// Run executes the whole batch run and returns the run summary. A
// configuration error (unreadable template) is returned without a
// report; any error past that point still produces an error report
// with the counters gathered so far.
func (w *Worker) Run() (*report.Summary, error) {
	// INIT: template problems are fatal before any send attempt.
	if err := template.ValidateTemplate(w.config.TemplatePath); err != nil {
		return nil, err
	}
	templateData, err := os.ReadFile(w.config.TemplatePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read template: %w", err)
	}
	templateText := string(templateData)
	isHTML := isHTMLTemplate(w.config.TemplatePath)

	signal.Notify(w.sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(w.sigChan)

	w.counters = models.RunCounters{StartTime: time.Now()}
	if counter, ok := w.store.(IgnoredCounter); ok {
		unsubscribed, bounced, err := counter.IgnoredCounts()
		if err != nil {
			return w.failRun(fmt.Errorf("failed to count excluded recipients: %w", err))
		}
		w.counters.IgnoredUnsubscribed = int(unsubscribed)
		w.counters.IgnoredBounces = int(bounced)
	}

	w.log.WithFields(map[string]interface{}{
		"batch_size":  w.config.BatchSize,
		"batch_delay": w.config.BatchDelay,
		"template":    w.config.TemplatePath,
	}).Info("Starting batch run")

	for batchNum := 1; ; batchNum++ {
		if w.interrupted() {
			return w.stopRun()
		}

		// FETCHING
		batch, err := w.store.FetchBatch(w.config.BatchSize)
		if err != nil {
			return w.failRun(fmt.Errorf("failed to fetch batch %d: %w", batchNum, err))
		}
		if len(batch) == 0 {
			break
		}

		w.log.WithFields(map[string]interface{}{
			"batch":      batchNum,
			"recipients": len(batch),
		}).Info("Processing batch")

		// SENDING + RECORDING, one recipient at a time, outcomes
		// recorded in fetch order.
		for _, recipient := range batch {
			if w.interrupted() {
				return w.stopRun()
			}
			if err := w.processRecipient(recipient, templateText, isHTML); err != nil {
				return w.failRun(err)
			}
		}

		if checkpointer, ok := w.store.(Checkpointer); ok {
			if err := checkpointer.Checkpoint(batch[len(batch)-1].ID); err != nil {
				return w.failRun(fmt.Errorf("failed to checkpoint cursor: %w", err))
			}
		}

		// A partial batch means the source is drained; only a full
		// batch warrants the inter-batch delay before the next fetch.
		if len(batch) < w.config.BatchSize {
			break
		}
		if w.config.BatchDelay > 0 {
			w.log.WithField("delay", w.config.BatchDelay).Debug("Inter-batch delay")
			select {
			case <-w.sigChan:
				return w.stopRun()
			case <-time.After(w.config.BatchDelay):
			}
		}
	}

	// REPORTING
	if checkpointer, ok := w.store.(Checkpointer); ok {
		if err := checkpointer.ResetCursor(); err != nil {
			w.log.WithError(err).Warn("Failed to reset resumption cursor")
		}
	}

	w.counters.EndTime = time.Now()
	w.counters.SkippedMalformed = w.store.SkippedMalformed()

	w.log.WithFields(map[string]interface{}{
		"total":      w.counters.TotalSent,
		"successful": w.counters.Successful,
		"failed":     w.counters.Failed,
	}).Info("Batch run finished")

	return w.reports.Generate(w.counters)
}

// processRecipient renders, sends and records one recipient. A send
// failure marks the recipient failed and keeps the run going; transport
// exhaustion and record failures are fatal.
func (w *Worker) processRecipient(recipient models.Recipient, templateText string, isHTML bool) error {
	links, err := w.links.Links(recipient.Email)
	if err != nil {
		return fmt.Errorf("failed to build unsubscribe links for %s: %w", recipient.Email, err)
	}

	context := template.BuildContext(recipient, w.event, links)
	body := template.Render(templateText, context)
	subject := template.Render(w.config.Subject, context)

	sendErr := w.transport.Send(recipient.Email, subject, body, isHTML)
	if sendErr != nil && errors.Is(sendErr, smtp.ErrTransportUnavailable) {
		// The recipient was never attempted; abort the remaining
		// batches without recording an outcome for it.
		return sendErr
	}

	outcome := models.OutcomeSent
	if sendErr != nil {
		outcome = models.OutcomeFailed
		w.log.WithFields(map[string]interface{}{
			"recipient": recipient.Email,
			"error":     sendErr.Error(),
		}).Error("Delivery failed")
	}

	// A lost outcome is worse than a stopped run: a record failure is
	// fatal and the pre-run backup stays in place.
	if err := w.store.RecordOutcome(recipient, outcome); err != nil {
		return fmt.Errorf("failed to record outcome for %s: %w", recipient.Email, err)
	}

	w.counters.TotalSent++
	if sendErr != nil {
		w.counters.Failed++
	} else {
		w.counters.Successful++
	}

	return nil
}

// failRun flushes the store and emits the error report with the
// counters gathered so far.
func (w *Worker) failRun(runErr error) (*report.Summary, error) {
	w.log.WithError(runErr).Error("Batch run aborted")

	if err := w.store.Flush(); err != nil {
		w.log.WithError(err).Error("Failed to flush store during abort")
	}

	w.counters.EndTime = time.Now()
	w.counters.SkippedMalformed = w.store.SkippedMalformed()

	summary, reportErr := w.reports.GenerateError(w.counters, runErr.Error())
	if reportErr != nil {
		w.log.WithError(reportErr).Error("Failed to write error report")
		return nil, runErr
	}
	return summary, runErr
}

// stopRun handles an interrupt signal: flush-and-checkpoint, then exit
// with a partial error report rather than silent loss.
func (w *Worker) stopRun() (*report.Summary, error) {
	w.log.Warn("Interrupt received, flushing store and stopping")
	return w.failRun(ErrInterrupted)
}

func (w *Worker) interrupted() bool {
	select {
	case <-w.sigChan:
		return true
	default:
		return false
	}
}

func isHTMLTemplate(path string) bool {
	lower := strings.ToLower(path)
	return strings.HasSuffix(lower, ".html") || strings.HasSuffix(lower, ".htm")
}
