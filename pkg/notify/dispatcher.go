package notify

import (
	"context"
	"log/slog"

	"github.com/geniass/searchwatch/pkg/metrics"
	"github.com/geniass/searchwatch/pkg/pipeline"
	"github.com/geniass/searchwatch/pkg/report"
)

const (
	ReportSubject  = "Scraper Report: Your Property Watch Updates"
	FailureSubject = "!! URGENT: Scraper Failure Notification !!"
	FailureBody    = "--- CRITICAL SCRAPER FAILURE ---\n\n" +
		"The scheduled scraping job failed to complete successfully. " +
		"Please check the scraper log file in the data directory for detailed errors."
)

// Dispatcher turns the outcome of a run into mail: one consolidated report
// per subscriber on success, a single operator alert on failure.
type Dispatcher struct {
	mailer   Mailer
	operator string
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

func NewDispatcher(mailer Mailer, operator string, logger *slog.Logger, m *metrics.Metrics) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{mailer: mailer, operator: operator, logger: logger, metrics: m}
}

// Notify sends the mails for a finished run. run may be nil when ok is false.
// Send failures are logged per recipient and do not stop the remaining sends.
// It returns the number of mails that were accepted by the mailer.
func (d *Dispatcher) Notify(ctx context.Context, run *pipeline.Run, ok bool) int {
	if !ok {
		d.logger.Warn("run failed, sending failure notification to operator", "operator", d.operator)
		if d.send(ctx, d.operator, FailureSubject, FailureBody) {
			return 1
		}
		return 0
	}

	if run == nil {
		d.logger.Error("successful run without results, nothing to report")
		return 0
	}
	subs := report.Recipients(run.Searches, d.logger)
	if len(subs) == 0 {
		d.logger.Warn("no email recipients found, skipping reports")
		return 0
	}

	sent := 0
	for _, sub := range subs {
		sections := make([]report.Section, 0, len(sub.Searches))
		for _, name := range sub.Searches {
			res, found := run.Result(name)
			sections = append(sections, report.Section{
				Name:       name,
				Deltas:     res.Deltas,
				Reconciled: found && res.Reconciled,
			})
		}

		body, err := report.String(sections)
		if err != nil {
			d.logger.Error("could not render report", "email", sub.Email, "error", err)
			continue
		}
		d.logger.Info("generated consolidated report", "email", sub.Email, "searches", len(sections))
		if d.send(ctx, sub.Email, ReportSubject, body) {
			sent++
		}
	}
	return sent
}

func (d *Dispatcher) send(ctx context.Context, to, subject, body string) bool {
	if err := d.mailer.Send(ctx, []string{to}, subject, body); err != nil {
		d.logger.Error("failed to send email", "to", to, "error", err)
		d.metrics.EmailSent(false)
		return false
	}
	d.logger.Info("email sent", "to", to, "subject", subject)
	d.metrics.EmailSent(true)
	return true
}
