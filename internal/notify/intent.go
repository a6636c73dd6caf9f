package notify

import (
	"fmt"
	"strings"

	"qms/scheduler/internal/models"
)

const (
	KindTicketCalled         = "ticket.called"
	KindTicketServing        = "ticket.serving"
	KindAppointmentBooked    = "appointment.booked"
	KindAppointmentConfirmed = "appointment.confirmed"

	ChannelSMS   = "sms"
	ChannelEmail = "email"
	ChannelInApp = "in_app"
)

// Intent is the opaque message handed to the delivery collaborator.
type Intent struct {
	Kind        string            `json:"kind"`
	Recipient   string            `json:"recipient"`
	ChannelHint string            `json:"channel_hint"`
	Message     string            `json:"message"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// pickChannel prefers phone, then email, then the in-app inbox keyed by user.
func pickChannel(userID string, info models.Payload) (string, string) {
	if phone := strings.TrimSpace(info.String("phone")); phone != "" {
		return ChannelSMS, phone
	}
	if email := strings.TrimSpace(info.String("email")); email != "" {
		return ChannelEmail, email
	}
	return ChannelInApp, userID
}

func ticketNumber(t models.Ticket) string {
	if t.OfficeTicketNo == nil {
		return "-"
	}
	return fmt.Sprint(*t.OfficeTicketNo)
}

func windowName(t models.Ticket) string {
	if t.WindowNo == nil || *t.WindowNo == "" {
		return "the counter"
	}
	return *t.WindowNo
}

func ticketIntent(kind string, t models.Ticket) Intent {
	channel, recipient := pickChannel(t.UserID, t.AdditionalInfo)
	var message string
	switch kind {
	case KindTicketCalled:
		message = fmt.Sprintf("%s: ticket #%s, please proceed to %s.", t.Office, ticketNumber(t), windowName(t))
	default:
		message = fmt.Sprintf("%s: ticket #%s is now being served at %s.", t.Office, ticketNumber(t), windowName(t))
	}
	return Intent{
		Kind:        kind,
		Recipient:   recipient,
		ChannelHint: channel,
		Message:     message,
		Metadata: map[string]string{
			"ticket_id": t.TicketID,
			"office":    t.Office,
			"user_id":   t.UserID,
		},
	}
}

func bookedIntent(a models.Appointment) Intent {
	channel, recipient := pickChannel(a.UserID, a.AdditionalInfo)
	return Intent{
		Kind:        KindAppointmentBooked,
		Recipient:   recipient,
		ChannelHint: channel,
		Message: fmt.Sprintf("%s: your appointment on %s at %s is booked and awaiting confirmation.",
			a.Office, a.AppointmentDate, a.AppointmentTime),
		Metadata: map[string]string{
			"appointment_id": a.AppointmentID,
			"office":         a.Office,
			"user_id":        a.UserID,
		},
	}
}

func confirmedIntent(a models.Appointment, t models.Ticket) Intent {
	channel, recipient := pickChannel(a.UserID, a.AdditionalInfo)
	return Intent{
		Kind:        KindAppointmentConfirmed,
		Recipient:   recipient,
		ChannelHint: channel,
		Message: fmt.Sprintf("%s: your appointment on %s at %s is confirmed. Your priority ticket is #%s.",
			a.Office, a.AppointmentDate, a.AppointmentTime, ticketNumber(t)),
		Metadata: map[string]string{
			"appointment_id": a.AppointmentID,
			"ticket_id":      t.TicketID,
			"office":         a.Office,
			"user_id":        a.UserID,
		},
	}
}
