// Package worker processes anomaly alerts delivered over AMQP. On every
// alert it refreshes the owner's exported cashflow sheet, so the external
// report is up to date exactly when someone is likely to look at it.
package worker

import (
	"context"
	"fmt"
	"log/slog"

	"tally/internal/alert"
	"tally/internal/analytics"
	"tally/internal/export"
)

type AlertWorker struct {
	calculator   *analytics.Calculator
	exporter     export.CashflowWriter
	exportMonths int
}

func NewAlertWorker(calculator *analytics.Calculator, exporter export.CashflowWriter, exportMonths int) *AlertWorker {
	return &AlertWorker{
		calculator:   calculator,
		exporter:     exporter,
		exportMonths: exportMonths,
	}
}

// HandleAlert processes a single anomaly alert. Returning an error nacks
// the delivery, so transient export failures get redelivered.
func (w *AlertWorker) HandleAlert(ctx context.Context, msg *alert.AnomalyAlert) error {
	slog.InfoContext(ctx, "Processing anomaly alert",
		"owner_id", msg.OwnerID,
		"category_id", msg.CategoryID,
		"deviation_percent", msg.DeviationPercent,
		"severity", msg.Severity)

	if w.exporter == nil {
		slog.WarnContext(ctx, "No exporter configured, alert logged only",
			"owner_id", msg.OwnerID)
		return nil
	}

	points, err := w.calculator.CashflowOvertime(ctx, msg.OwnerID, w.exportMonths, nil)
	if err != nil {
		return fmt.Errorf("build cashflow series for %s: %w", msg.OwnerID, err)
	}

	if err := w.exporter.WriteCashflow(ctx, msg.OwnerID, points); err != nil {
		return fmt.Errorf("export cashflow series for %s: %w", msg.OwnerID, err)
	}

	slog.InfoContext(ctx, "Cashflow sheet refreshed after alert",
		"owner_id", msg.OwnerID,
		"months", w.exportMonths,
		"rows", len(points))

	return nil
}
