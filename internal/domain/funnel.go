package domain

// FunnelStageResult is one computed stage of a funnel report. Counts are
// distinct sessions, never raw event counts. ConversionRate and DropoffRate
// are nil for the first stage and whenever the prior stage count is zero
// (an undefined rate, not a zero rate).
type FunnelStageResult struct {
	Name           string   `json:"name"`
	EventName      string   `json:"event_name"`
	Sessions       int      `json:"sessions"`
	ConversionRate *float64 `json:"conversion_rate,omitempty"`
	DropoffRate    *float64 `json:"dropoff_rate,omitempty"`
}

// DailyFunnelStat is one (day, stage, variant) cell of the trend view.
// Sessions is de-duplicated within the cell.
type DailyFunnelStat struct {
	Date      string `json:"date"` // YYYY-MM-DD
	EventName string `json:"event_name"`
	VariantID string `json:"variant_id"`
	Events    int    `json:"events"`
	Sessions  int    `json:"sessions"`
}

// VariantStageCount is a distinct-session count for one funnel stage within
// one variant, the building block of per-variant conversion metrics.
type VariantStageCount struct {
	EventName string `json:"event_name"`
	VariantID string `json:"variant_id"`
	Sessions  int    `json:"sessions"`
}
