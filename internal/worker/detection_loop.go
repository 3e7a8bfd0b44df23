package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"tally/internal/alert"
	"tally/internal/analytics"
)

// AnomalyPublisher publishes one anomaly alert.
type AnomalyPublisher interface {
	PublishAnomaly(ctx context.Context, msg *alert.AnomalyAlert) error
}

// OwnerSource lists the owners with ledger activity.
type OwnerSource interface {
	QueryOwners(ctx context.Context) ([]string, error)
}

// DetectionLoop runs anomaly detection for every owner on a fixed interval
// and publishes an alert per anomaly. The anomalies endpoint does the same
// on demand; the loop keeps alerts flowing when nobody is looking.
type DetectionLoop struct {
	owners    OwnerSource
	detector  *analytics.Detector
	publisher AnomalyPublisher
	interval  time.Duration
}

func NewDetectionLoop(owners OwnerSource, detector *analytics.Detector, publisher AnomalyPublisher, interval time.Duration) *DetectionLoop {
	return &DetectionLoop{
		owners:    owners,
		detector:  detector,
		publisher: publisher,
		interval:  interval,
	}
}

// Run sweeps once immediately, then on every tick until ctx is cancelled.
func (l *DetectionLoop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	if err := l.Sweep(ctx); err != nil {
		slog.ErrorContext(ctx, "Anomaly sweep failed", "error", err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := l.Sweep(ctx); err != nil {
				slog.ErrorContext(ctx, "Anomaly sweep failed", "error", err)
			}
		}
	}
}

// Sweep runs one detection pass over every owner. Per-owner failures are
// logged and skipped so one bad owner cannot starve the rest.
func (l *DetectionLoop) Sweep(ctx context.Context) error {
	owners, err := l.owners.QueryOwners(ctx)
	if err != nil {
		return fmt.Errorf("list owners for sweep: %w", err)
	}

	for _, owner := range owners {
		anomalies, err := l.detector.Detect(ctx, owner)
		if err != nil {
			slog.ErrorContext(ctx, "Anomaly detection failed",
				"owner_id", owner,
				"error", err)
			continue
		}
		for _, a := range anomalies {
			if err := l.publisher.PublishAnomaly(ctx, alert.NewAnomalyAlert(owner, a)); err != nil {
				slog.ErrorContext(ctx, "Failed to publish anomaly alert",
					"owner_id", owner,
					"category_id", a.CategoryID,
					"error", err)
			}
		}
		if len(anomalies) > 0 {
			slog.InfoContext(ctx, "Anomaly sweep published alerts",
				"owner_id", owner,
				"anomalies", len(anomalies))
		}
	}
	return nil
}
