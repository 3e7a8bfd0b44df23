package export

import (
	"context"
	"sync"

	"tally/internal/core"
)

// MemoryWriter records exported series in memory. It backs tests and local
// runs without Google credentials.
type MemoryWriter struct {
	mu     sync.Mutex
	series map[string][]core.CashflowPoint
}

var _ CashflowWriter = (*MemoryWriter)(nil)

func NewMemoryWriter() *MemoryWriter {
	return &MemoryWriter{series: make(map[string][]core.CashflowPoint)}
}

func (w *MemoryWriter) WriteCashflow(_ context.Context, ownerID string, points []core.CashflowPoint) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.series[ownerID] = append([]core.CashflowPoint(nil), points...)
	return nil
}

// Series returns the last exported series for an owner.
func (w *MemoryWriter) Series(ownerID string) []core.CashflowPoint {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]core.CashflowPoint(nil), w.series[ownerID]...)
}
