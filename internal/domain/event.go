package domain

import "time"

// Canonical funnel/interaction event names. The ledger accepts free-form
// names as well; these are the ones the booking funnel and KPI definitions
// are built from.
const (
	EventSearchInitiated  = "search_initiated"
	EventSearchResultView = "search_result_view"
	EventSearchClick      = "search_result_click"
	EventHotelDetailView  = "hotel_detail_view"
	EventPolicyImpression = "policy_digest_impression"
	EventPolicyExpand     = "policy_digest_expand"
	EventRoomSelect       = "room_select"
	EventBookingStart     = "booking_start"
	EventBookingSubmit    = "booking_submit"
	EventPayInitiated     = "pay_initiated"
	EventPaySuccess       = "pay_success"
	EventPayFailed        = "pay_failed"
	EventOrderCancel      = "order_cancel"
	EventContactClick     = "contact_click"
)

// BookingFunnel is the canonical ordered stage list used for conversion
// metrics: each stage pairs a display name with the event that marks it.
var BookingFunnel = []FunnelStageDef{
	{Name: "Search Results", EventName: EventSearchResultView},
	{Name: "Hotel Detail", EventName: EventHotelDetailView},
	{Name: "Booking Start", EventName: EventBookingStart},
	{Name: "Booking Submit", EventName: EventBookingSubmit},
	{Name: "Payment Success", EventName: EventPaySuccess},
}

// FunnelStageDef defines one stage of a funnel: a label and the event name
// that a session must emit to count for the stage.
type FunnelStageDef struct {
	Name      string `json:"name"`
	EventName string `json:"event_name"`
}

// Event is a single row in the append-only event ledger. Ordering within a
// session is timestamp order. An event references at most one experiment.
type Event struct {
	ID        string    `json:"id" db:"id"`
	EventName string    `json:"event_name" db:"event_name"`
	SessionID string    `json:"session_id" db:"session_id"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"`

	// Experiment context, set by the caller when the session is enrolled.
	ExperimentID     string `json:"experiment_id,omitempty" db:"experiment_id"`
	VariantID        string `json:"variant_id,omitempty" db:"variant_id"`
	ConfidenceBucket string `json:"confidence_bucket,omitempty" db:"confidence_bucket"`

	// Open property bag, shape depends on EventName. Validated only at the
	// aggregation boundary that needs specific fields.
	Properties map[string]any `json:"properties,omitempty" db:"properties"`

	// Request context
	PageURL    string `json:"page_url,omitempty" db:"page_url"`
	Referrer   string `json:"referrer,omitempty" db:"referrer"`
	DeviceType string `json:"device_type,omitempty" db:"device_type"`
	Country    string `json:"country,omitempty" db:"country"`
	Language   string `json:"language,omitempty" db:"language"`
}

// Validate checks the minimal ledger contract: eventName and sessionId.
// Event semantics beyond that are the producer's concern.
func (e *Event) Validate() error {
	if e.EventName == "" {
		return errEmptyField("event_name")
	}
	if e.SessionID == "" {
		return errEmptyField("session_id")
	}
	return nil
}

// ConfidenceBucketFor derives the display bucket for a numeric confidence
// value in [0,1]. Derived on demand rather than stored so the label can
// never drift from the underlying number.
func ConfidenceBucketFor(confidence float64) string {
	switch {
	case confidence >= 0.8:
		return "high"
	case confidence >= 0.5:
		return "medium"
	default:
		return "low"
	}
}
