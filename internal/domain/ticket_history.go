package domain

import "time"

// HistoryAction captures what kind of change a history entry records.
type HistoryAction string

const (
	ActionCreate   HistoryAction = "CREATE"
	ActionUpdate   HistoryAction = "UPDATE"
	ActionMove     HistoryAction = "MOVE"
	ActionQAUpdate HistoryAction = "QA_UPDATE"
	ActionDelete   HistoryAction = "DELETE"
	ActionRestore  HistoryAction = "RESTORE"
)

// HistoryEntry is an immutable audit trail entry. The same shape is used for
// the per-ticket history collection and the denormalized array on the ticket.
type HistoryEntry struct {
	ID              string         `json:"id"`
	Action          HistoryAction  `json:"action"`
	Area            Area           `json:"area"`
	UserID          string         `json:"userId"`
	Timestamp       time.Time      `json:"timestamp"`
	ClientTimestamp *time.Time     `json:"clientTimestamp,omitempty"`
	Details         map[string]any `json:"details"`
}
