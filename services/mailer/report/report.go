package report

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"pulsar-mailer/services/mailer/models"
	"pulsar-mailer/shared/logger"
)

// Summary is the structured result of a run, alongside the
// human-readable report text written to disk.
type Summary struct {
	Status              string        `json:"status"`
	Error               string        `json:"error,omitempty"`
	Report              string        `json:"report"`
	ReportFile          string        `json:"report_file"`
	Duration            time.Duration `json:"duration"`
	TotalSent           int           `json:"total_sent"`
	Successful          int           `json:"successful"`
	Failed              int           `json:"failed"`
	IgnoredUnsubscribed int           `json:"ignored_unsubscribed"`
	IgnoredBounces      int           `json:"ignored_bounces"`
	SkippedMalformed    int           `json:"skipped_malformed"`
}

// Generator writes run reports. Every report goes to a fresh, uniquely
// named file under the reports directory; prior runs are never
// overwritten.
type Generator struct {
	dir string
	log *logger.Logger
}

// NewGenerator creates a report generator for the given directory
func NewGenerator(dir string, log *logger.Logger) *Generator {
	return &Generator{dir: dir, log: log}
}

// Generate renders the success report for a finished run
func (g *Generator) Generate(counters models.RunCounters) (*Summary, error) {
	summary := g.summaryFromCounters(counters)
	summary.Status = "ok"
	summary.Report = g.renderReport(summary, "")

	if err := g.writeReport(summary); err != nil {
		return nil, err
	}
	return summary, nil
}

// GenerateError renders the error report for a run that terminated
// early. It only needs the counters gathered so far and must succeed
// even when the run left the system in a partial state.
func (g *Generator) GenerateError(counters models.RunCounters, message string) (*Summary, error) {
	summary := g.summaryFromCounters(counters)
	summary.Status = "error"
	summary.Error = message
	summary.Report = g.renderReport(summary, message)

	if err := g.writeReport(summary); err != nil {
		return nil, err
	}
	return summary, nil
}

func (g *Generator) summaryFromCounters(counters models.RunCounters) *Summary {
	end := counters.EndTime
	if end.IsZero() {
		end = time.Now()
	}
	return &Summary{
		Duration:            end.Sub(counters.StartTime),
		TotalSent:           counters.TotalSent,
		Successful:          counters.Successful,
		Failed:              counters.Failed,
		IgnoredUnsubscribed: counters.IgnoredUnsubscribed,
		IgnoredBounces:      counters.IgnoredBounces,
		SkippedMalformed:    counters.SkippedMalformed,
	}
}

func (g *Generator) renderReport(summary *Summary, errorMessage string) string {
	var buf bytes.Buffer

	buf.WriteString("Relatório de envio\n")
	buf.WriteString("==================\n\n")
	if errorMessage != "" {
		buf.WriteString(fmt.Sprintf("Status:   erro (%s)\n", errorMessage))
	} else {
		buf.WriteString("Status:   concluído\n")
	}
	buf.WriteString(fmt.Sprintf("Duração:  %s\n\n", summary.Duration.Round(time.Millisecond)))
	buf.WriteString(fmt.Sprintf("Total processado: %d\n", summary.TotalSent))
	buf.WriteString(fmt.Sprintf("Enviados:         %d\n", summary.Successful))
	buf.WriteString(fmt.Sprintf("Falhas:           %d\n", summary.Failed))
	if summary.IgnoredUnsubscribed > 0 {
		buf.WriteString(fmt.Sprintf("Descadastrados ignorados: %d\n", summary.IgnoredUnsubscribed))
	}
	if summary.IgnoredBounces > 0 {
		buf.WriteString(fmt.Sprintf("Bounces ignorados:        %d\n", summary.IgnoredBounces))
	}
	if summary.SkippedMalformed > 0 {
		buf.WriteString(fmt.Sprintf("Linhas inválidas:         %d\n", summary.SkippedMalformed))
	}

	return buf.String()
}

// writeReport writes the report to a fresh file, creating the reports
// directory on demand. os.CreateTemp guarantees a unique name even for
// two reports generated in the same instant.
func (g *Generator) writeReport(summary *Summary) error {
	if err := os.MkdirAll(g.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create reports directory: %w", err)
	}

	pattern := fmt.Sprintf("report_%s_*.txt", time.Now().Format("20060102_150405"))
	f, err := os.CreateTemp(g.dir, pattern)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(summary.Report); err != nil {
		return fmt.Errorf("failed to write report file: %w", err)
	}

	summary.ReportFile, err = filepath.Abs(f.Name())
	if err != nil {
		summary.ReportFile = f.Name()
	}

	g.log.WithFields(map[string]interface{}{
		"report_file": summary.ReportFile,
		"status":      summary.Status,
	}).Info("Run report written")

	return nil
}
