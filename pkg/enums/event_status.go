package enums

// EventStatus maps to the event_status enum in Postgres.
//
// Transitions: RECEIVED -> IN_PROGRESS -> TRANSFERRED | TRANSFER_FAILED,
// RECEIVED -> CANCELLED, RECEIVED -> PUBLISHED. CANCELLED, TRANSFERRED and
// PUBLISHED are terminal; only CANCELLED and TRANSFERRED are eligible for
// retention deletion.
type EventStatus string

const (
	StatusReceived       EventStatus = "RECEIVED"
	StatusInProgress     EventStatus = "IN_PROGRESS"
	StatusTransferred    EventStatus = "TRANSFERRED"
	StatusTransferFailed EventStatus = "TRANSFER_FAILED"
	StatusCancelled      EventStatus = "CANCELLED"
	StatusPublished      EventStatus = "PUBLISHED"
)

var validEventStatuses = []EventStatus{
	StatusReceived,
	StatusInProgress,
	StatusTransferred,
	StatusTransferFailed,
	StatusCancelled,
	StatusPublished,
}

// IsValid reports whether the value matches the canonical event_status enum.
func (s EventStatus) IsValid() bool {
	for _, candidate := range validEventStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}
