package alert

import (
	"encoding/json"
	"time"

	"tally/internal/core"
)

// AnomalyAlert is the message published when a detection run flags a
// category. Amounts travel as strings so consumers in any language decode
// them without float loss.
type AnomalyAlert struct {
	OwnerID          string        `json:"owner_id"`
	CategoryID       string        `json:"category_id"`
	CategoryName     string        `json:"category_name"`
	TotalRecent      string        `json:"total_recent"`
	AvgBaseline      string        `json:"avg_baseline"`
	DeviationPercent string        `json:"deviation_percent"`
	Severity         core.Severity `json:"severity"`
	DetectedAt       time.Time     `json:"detected_at"`
}

// NewAnomalyAlert builds an alert from a detected anomaly.
func NewAnomalyAlert(ownerID string, a core.Anomaly) *AnomalyAlert {
	return &AnomalyAlert{
		OwnerID:          ownerID,
		CategoryID:       a.CategoryID,
		CategoryName:     a.Name,
		TotalRecent:      a.TotalRecent.String(),
		AvgBaseline:      a.AvgBaseline.String(),
		DeviationPercent: a.DeviationPercent.String(),
		Severity:         a.Severity,
		DetectedAt:       time.Now().UTC(),
	}
}

// ToJSON converts the alert to JSON bytes
func (m *AnomalyAlert) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// AnomalyAlertFromJSON creates an alert from JSON bytes
func AnomalyAlertFromJSON(data []byte) (*AnomalyAlert, error) {
	var msg AnomalyAlert
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
