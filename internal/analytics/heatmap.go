package analytics

import (
	"context"
	"fmt"
	"time"

	"tally/internal/core"
)

// HeatmapBuilder produces the daily transaction-count calendar. It reports
// only days that had transactions; the presentation layer fills the gaps
// for calendar rendering.
type HeatmapBuilder struct {
	agg *Aggregator
}

func NewHeatmapBuilder(agg *Aggregator) *HeatmapBuilder {
	return &HeatmapBuilder{agg: agg}
}

func (h *HeatmapBuilder) Build(ctx context.Context, ownerID string, start, end time.Time) (core.Heatmap, error) {
	days, err := h.agg.CountByDay(ctx, ownerID, start, end)
	if err != nil {
		return core.Heatmap{}, fmt.Errorf("build heatmap: %w", err)
	}
	return core.Heatmap{Start: start, End: end, Days: days}, nil
}
