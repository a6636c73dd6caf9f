package models

import "time"

type Ticket struct {
	TicketID       string     `json:"ticket_id"`
	OfficeTicketNo *int       `json:"office_ticket_no"`
	UserID         string     `json:"user_id"`
	Name           string     `json:"name"`
	Office         string     `json:"office"`
	Service        string     `json:"service"`
	AdditionalInfo Payload    `json:"additional_info,omitempty"`
	FormData       Payload    `json:"form_data,omitempty"`
	PriorityLane   bool       `json:"priority_lane"`
	Status         string     `json:"status"`
	WindowNo       *string    `json:"window_no,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	CalledAt       *time.Time `json:"called_at,omitempty"`
}

const (
	StatusWaiting    = "waiting"
	StatusCalled     = "called"
	StatusInProgress = "in_progress"
	StatusDone       = "done"
	StatusCancelled  = "cancelled"
)

// TerminalStatuses are the ticket states no transition may leave.
var TerminalStatuses = []string{StatusDone, StatusCancelled}

func IsTerminal(status string) bool {
	return status == StatusDone || status == StatusCancelled
}

// Active reports whether the ticket still counts against the one-active-ticket
// per user and office rule.
func (t Ticket) Active() bool {
	return !IsTerminal(t.Status)
}
